// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultQueueSize is the number of entries buffered ahead of the sinks.
const DefaultQueueSize = 256

// sinkWriteTimeout bounds a single sink write.
const sinkWriteTimeout = 5 * time.Second

// Sink persists audit entries.
type Sink interface {
	Name() string
	Write(ctx context.Context, e Entry) error
	Close() error
}

// Options configures a Logger.
type Options struct {
	// QueueSize bounds the pending entries; 0 means DefaultQueueSize.
	QueueSize int
	// Redactors replace DefaultRedactors when non-nil.
	Redactors []Redactor
	// OnDrop is called once per dropped entry.
	OnDrop func()
	Logger *log.Logger
	// Now is the clock used to stamp entries.
	Now func() time.Time
}

// Logger writes audit entries to its sinks in the background.
//
// LogEntry never blocks and never fails the caller: a full queue drops the
// entry, and sink errors are logged and swallowed.
type Logger struct {
	sinks     []Sink
	redactors []Redactor
	onDrop    func()
	logger    *log.Logger
	now       func() time.Time

	mu      sync.RWMutex
	closed  bool
	queue   chan Entry
	done    chan struct{}
	dropped atomic.Uint64
	failed  atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// New starts a Logger writing to sinks.
func New(opts Options, sinks ...Sink) *Logger {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Redactors == nil {
		opts.Redactors = DefaultRedactors()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	l := &Logger{
		sinks:     sinks,
		redactors: opts.Redactors,
		onDrop:    opts.OnDrop,
		logger:    opts.Logger.With("component", "audit"),
		now:       opts.Now,
		queue:     make(chan Entry, opts.QueueSize),
		done:      make(chan struct{}),
	}
	go l.run()
	return l
}

// =============================================================================
// LOGGING
// =============================================================================

// LogEntry enqueues e for persistence.
func (l *Logger) LogEntry(e Entry) {
	if l == nil {
		return
	}
	e.stamp(l.now())

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.drop(e, "logger closed")
		return
	}
	select {
	case l.queue <- e:
	default:
		l.drop(e, "queue full")
	}
}

func (l *Logger) drop(e Entry, reason string) {
	l.dropped.Add(1)
	l.logger.Warn("audit entry dropped", "reason", reason, "id", e.ID, "module", e.Module)
	if l.onDrop != nil {
		l.onDrop()
	}
}

// Dropped returns the number of entries that were never queued.
func (l *Logger) Dropped() uint64 { return l.dropped.Load() }

// Failed returns the number of failed sink writes.
func (l *Logger) Failed() uint64 { return l.failed.Load() }

func (l *Logger) run() {
	defer close(l.done)
	for e := range l.queue {
		e.redact(l.redactors)
		for _, s := range l.sinks {
			l.write(s, e)
		}
	}
}

// write calls one sink, containing its errors and panics.
func (l *Logger) write(s Sink, e Entry) {
	defer func() {
		if r := recover(); r != nil {
			l.failed.Add(1)
			l.logger.Error("audit sink panicked", "sink", s.Name(), "panic", fmt.Sprint(r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
	defer cancel()
	if err := s.Write(ctx, e); err != nil {
		l.failed.Add(1)
		l.logger.Error("audit sink write failed", "sink", s.Name(), "id", e.ID, "err", err)
	}
}

// =============================================================================
// SHUTDOWN
// =============================================================================

// Close stops accepting entries, drains the queue and closes the sinks.
// If ctx ends first, Close returns its error and the sinks stay open until
// the drain completes.
func (l *Logger) Close(ctx context.Context) error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()

		select {
		case <-l.done:
		case <-ctx.Done():
			l.closeErr = ctx.Err()
			go func() {
				<-l.done
				l.closeSinks()
			}()
			return
		}
		l.closeErr = l.closeSinks()
	})
	return l.closeErr
}

func (l *Logger) closeSinks() error {
	var first error
	for _, s := range l.sinks {
		if err := s.Close(); err != nil {
			l.logger.Error("audit sink close failed", "sink", s.Name(), "err", err)
			if first == nil {
				first = fmt.Errorf("close %s sink: %w", s.Name(), err)
			}
		}
	}
	return first
}
