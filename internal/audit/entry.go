// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/noteguard/internal/util"
)

// maxLogLineError bounds the error text in a log line.
const maxLogLineError = 160

// Entry is one audited model invocation.
//
// AnonymizedUserPrompt is the text that was transmitted to the provider.
// DeanonymizedResponse is the only field that may carry real identity text.
type Entry struct {
	ID                   uuid.UUID `json:"id"`
	Timestamp            time.Time `json:"timestamp"`
	Module               string    `json:"module"`
	Class                string    `json:"class"`
	SystemPrompt         string    `json:"system_prompt,omitempty"`
	AnonymizedUserPrompt string    `json:"anonymized_user_prompt"`
	DeanonymizedResponse string    `json:"deanonymized_response,omitempty"`
	ProviderKind         string    `json:"provider_kind,omitempty"`
	ModelName            string    `json:"model_name,omitempty"`
	Success              bool      `json:"success"`
	Error                string    `json:"error,omitempty"`
	ErrorKind            string    `json:"error_kind,omitempty"`
	TokenEstimate        int       `json:"token_estimate,omitempty"`
	LatencyMs            int64     `json:"latency_ms"`
	AnonymizationSession string    `json:"anonymization_session,omitempty"`
}

// stamp fills the ID and timestamp when the caller left them empty.
func (e *Entry) stamp(now time.Time) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
}

// redact applies every redactor to the free-text fields.
func (e *Entry) redact(redactors []Redactor) {
	e.SystemPrompt = redactAll(redactors, e.SystemPrompt)
	e.AnonymizedUserPrompt = redactAll(redactors, e.AnonymizedUserPrompt)
	e.DeanonymizedResponse = redactAll(redactors, e.DeanonymizedResponse)
	e.Error = redactAll(redactors, e.Error)
}

// ToLogLine formats the entry as a single human readable line.
func (e *Entry) ToLogLine() string {
	status := "SUCCESS"
	if !e.Success {
		status = "FAILURE"
		if e.Error != "" {
			status = fmt.Sprintf("ERROR(%s): %s", e.ErrorKind, util.TruncateRunes(e.Error, maxLogLineError))
		}
	}
	return fmt.Sprintf("%s | %s | %s | %s/%s | %dms | ~%d tok | %s",
		e.Timestamp.Local().Format("2006-01-02 15:04:05"),
		e.Module,
		e.Class,
		e.ProviderKind,
		e.ModelName,
		e.LatencyMs,
		e.TokenEstimate,
		status,
	)
}

// ToJSON formats the entry as one JSON object.
func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
