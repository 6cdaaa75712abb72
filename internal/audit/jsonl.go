// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultMaxFileSize is the default max file size before rotation (10MB).
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// JSONLSink appends one JSON object per line to a file readable only by
// its owner.
type JSONLSink struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	maxSize int64
}

// OpenJSONL opens (or creates) the log at path. maxSize <= 0 disables
// rotation.
func OpenJSONL(path string, maxSize int64) (*JSONLSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	file, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &JSONLSink{path: path, file: file, maxSize: maxSize}, nil
}

func openAppend(path string) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return file, nil
}

// Name implements Sink.
func (s *JSONLSink) Name() string { return "jsonl" }

// Path returns the active log file.
func (s *JSONLSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Write appends e and syncs the file.
func (s *JSONLSink) Write(_ context.Context, e Entry) error {
	line, err := e.ToJSON()
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return os.ErrClosed
	}
	if err := s.checkRotationLocked(); err != nil {
		return err
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return s.file.Sync()
}

// Rotate moves the current file aside with a timestamp suffix and starts a
// new one.
func (s *JSONLSink) Rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotateLocked()
}

func (s *JSONLSink) rotateLocked() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log for rotation: %w", err)
	}

	ext := filepath.Ext(s.path)
	base := strings.TrimSuffix(s.path, ext)
	rotated := fmt.Sprintf("%s_%s%s", base, time.Now().Format("20060102-150405.000000"), ext)

	if err := os.Rename(s.path, rotated); err != nil {
		// Keep logging to the old file rather than losing entries.
		if file, reopenErr := openAppend(s.path); reopenErr == nil {
			s.file = file
		} else {
			s.file = nil
		}
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}

	file, err := openAppend(s.path)
	if err != nil {
		s.file = nil
		return fmt.Errorf("failed to create new audit log after rotation: %w", err)
	}
	s.file = file
	return nil
}

func (s *JSONLSink) checkRotationLocked() error {
	if s.maxSize <= 0 {
		return nil
	}
	info, err := s.file.Stat()
	if err != nil {
		return nil // Ignore stat errors
	}
	if info.Size() >= s.maxSize {
		return s.rotateLocked()
	}
	return nil
}

// Close implements Sink.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
