// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/noteguard/internal/gateway"
	"github.com/jeranaias/noteguard/internal/router"
)

// askOutput is the --json form of an ask result.
type askOutput struct {
	Success    bool   `json:"success"`
	Text       string `json:"text,omitempty"`
	Error      string `json:"error,omitempty"`
	Operation  string `json:"operation"`
	Class      string `json:"class"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	Anonymized bool   `json:"anonymized"`
	AuditID    string `json:"audit_id"`
	Tokens     int    `json:"tokens,omitempty"`
	LatencyMs  int64  `json:"latency_ms"`
}

func newAskCommand(opts *globalOptions) *cobra.Command {
	var (
		patient   patientFlags
		op        string
		system    string
		file      string
		override  string
		maxTokens int
		untrusted bool
	)

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Run one model call through the gateway",
		Long: `Run one model call. The operation decides where it may run:
note_structuring, pii_extraction and document_analysis are sensitive and
only run locally; chat, draft_generation, letter and form use the selected
provider.

The prompt comes from the arguments, --file, or stdin.`,
		Example: `  noteguard ask --op letter --given Léa --family Martin "Courrier au Dr Roux pour Léa Martin"
  noteguard ask --op document_analysis --untrusted --file scan.txt --birth-date 1985-03-07`,
		RunE: func(cmd *cobra.Command, args []string) error {
			operation, err := router.ParseOperation(op)
			if err != nil {
				return &ValidationError{Field: "op", Value: op, Reason: "unknown operation", Example: "--op letter"}
			}
			ov, err := router.ParseOverride(override)
			if err != nil {
				return &ValidationError{Field: "provider", Value: override, Reason: "expected local or cloud"}
			}
			born, err := patient.birth()
			if err != nil {
				return err
			}
			prompt, err := readText(cmd, file, args)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), opts, warmNever)
			if err != nil {
				return err
			}
			defer a.Close()

			res, invokeErr := a.gw.Invoke(cmd.Context(), gateway.Request{
				Operation:    operation,
				Identity:     patient.identity(a.cfg),
				SystemPrompt: system,
				UserPrompt:   prompt,
				MaxTokens:    maxTokens,
				Override:     ov,
				BirthDate:    born,
				Untrusted:    untrusted,
			})

			if opts.jsonOutput {
				if err := printJSON(cmd.OutOrStdout(), toAskOutput(operation, res)); err != nil {
					return err
				}
				return invokeErr
			}
			if invokeErr != nil {
				return invokeErr
			}
			printAnswer(cmd.OutOrStdout(), res)
			return nil
		},
	}

	patient.register(cmd)
	f := cmd.Flags()
	f.StringVar(&op, "op", string(router.OpChat), "operation: note_structuring, pii_extraction, document_analysis, chat, draft_generation, letter, form")
	f.StringVar(&system, "system", "", "system prompt")
	f.StringVarP(&file, "file", "f", "", "read the prompt from a file")
	f.StringVar(&override, "provider", "", "request a provider for this call: local or cloud")
	f.IntVar(&maxTokens, "max-tokens", 0, "reply token limit (0 uses the backend default)")
	f.BoolVar(&untrusted, "untrusted", false, "screen the text with local PII extraction first (OCR, scans)")
	return cmd
}

func toAskOutput(op router.Operation, res gateway.Result) askOutput {
	out := askOutput{
		Success:    res.Success,
		Text:       res.Text,
		Error:      res.Error,
		Operation:  string(op),
		Class:      res.Class.String(),
		Model:      res.Provider.Model,
		Anonymized: res.Anonymized,
		AuditID:    res.AuditID.String(),
		Tokens:     res.TokensUsed,
		LatencyMs:  res.Latency.Milliseconds(),
	}
	if res.Provider.Model != "" || res.Provider.Endpoint != "" {
		out.Provider = res.Provider.Kind.String()
	}
	return out
}

func printAnswer(w io.Writer, res gateway.Result) {
	fmt.Fprintln(w, res.Text)
	meta := fmt.Sprintf("%s | %s (%s) | %s", res.Class, res.Provider.Kind, res.Provider.Model, formatDurationShort(res.Latency))
	if res.Anonymized {
		meta += " | anonymized"
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, RenderConditional(DimStyle, meta))
}
