// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/noteguard/internal/anonymize"
	"github.com/jeranaias/noteguard/internal/faults"
)

// =============================================================================
// EXTRACT-PII
// =============================================================================

func newExtractPIICommand(opts *globalOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "extract-pii [text]",
		Short: "List names, dates, places and organizations using the local model",
		Long: `List the identifying values in a text. Extraction always runs on the
local backend; the text never leaves the machine. Output is JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd, file, args)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), opts, warmNever)
			if err != nil {
				return err
			}
			defer a.Close()

			result := a.gw.ExtractPII(cmd.Context(), text)
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if result.Degraded {
				return faults.Connectivity("cli.extract_pii", nil, "local extractor unavailable, nothing was extracted")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the text from a file")
	return cmd
}

// =============================================================================
// ANONYMIZE
// =============================================================================

// anonymizeOutput is the --json form of an anonymize result.
type anonymizeOutput struct {
	Text        string                   `json:"text"`
	Session     string                   `json:"session,omitempty"`
	Pseudonym   anonymize.Pseudonym      `json:"pseudonym"`
	Mapping     []anonymize.Substitution `json:"mapping"`
	PIIDegraded bool                     `json:"pii_degraded,omitempty"`
}

func newAnonymizeCommand(opts *globalOptions) *cobra.Command {
	var (
		patient   patientFlags
		file      string
		untrusted bool
	)

	cmd := &cobra.Command{
		Use:   "anonymize [text]",
		Short: "Show the pseudonymized text and its mapping, without calling a model",
		Long: `Show exactly what a model call would transmit for this patient. No model
is called unless --untrusted asks for local PII screening.`,
		Example: `  noteguard anonymize --given Léa --family Martin "Mme Léa MARTIN, vue ce jour"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			born, err := patient.birth()
			if err != nil {
				return err
			}
			text, err := readText(cmd, file, args)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), opts, warmNever)
			if err != nil {
				return err
			}
			defer a.Close()

			var id anonymize.Identity
			if p := patient.identity(a.cfg); p != nil {
				id = *p
			} else if !untrusted && born == nil {
				return &ValidationError{Field: "patient", Reason: "give --given and/or --family, --birth-date or --untrusted"}
			}

			engine := a.gw.Engine()
			var actx *anonymize.Context
			if born != nil || untrusted {
				text, actx, err = engine.AnonymizeDocument(cmd.Context(), id, anonymize.Metadata{
					Text:      text,
					BirthDate: born,
					Untrusted: untrusted,
				})
				if err != nil {
					return err
				}
			} else {
				text, actx = engine.Anonymize(text, id)
			}

			out := anonymizeOutput{Text: text, Pseudonym: actx.Pseudonym, Mapping: actx.Mapping, PIIDegraded: actx.PIIDegraded}
			if !actx.NoOp() {
				out.Session = actx.SessionID.String()
			}
			if opts.jsonOutput {
				return printJSON(cmd.OutOrStdout(), out)
			}
			printAnonymized(cmd.OutOrStdout(), out)
			return nil
		},
	}

	patient.register(cmd)
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the text from a file")
	cmd.Flags().BoolVar(&untrusted, "untrusted", false, "also hide every value the local PII extractor finds")
	return cmd
}

func printAnonymized(w io.Writer, out anonymizeOutput) {
	fmt.Fprintln(w, out.Text)
	fmt.Fprintln(w)
	if len(out.Mapping) == 0 {
		fmt.Fprintln(w, RenderConditional(WarningStyle, "nothing was substituted"))
	} else {
		fmt.Fprintln(w, RenderConditional(SectionStyle, "Mapping"))
		for _, s := range out.Mapping {
			fmt.Fprintf(w, "  %s %s\n", RenderLabel(s.Pseudonym, 24), s.Plain)
		}
	}
	if out.PIIDegraded {
		fmt.Fprintln(w, RenderConditional(WarningStyle, "local PII screening unavailable: only the named identity was hidden"))
	}
}
