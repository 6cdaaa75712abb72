// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/noteguard/internal/anonymize"
	"github.com/jeranaias/noteguard/internal/config"
	"github.com/jeranaias/noteguard/internal/util"
)

// maxInputBytes bounds text read from a file or stdin.
const maxInputBytes = 1 << 20

// =============================================================================
// PATIENT FLAGS
// =============================================================================

// patientFlags are the identity flags shared by ask, anonymize and chat.
type patientFlags struct {
	given     string
	family    string
	gender    string
	birthDate string
}

func (p *patientFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&p.given, "given", "", "patient given name to hide")
	f.StringVar(&p.family, "family", "", "patient family name to hide")
	f.StringVar(&p.gender, "gender", "", "patient gender for the pseudonym: F, M or X (default anonymization.default_gender)")
	f.StringVar(&p.birthDate, "birth-date", "", "patient birth date to mask, YYYY-MM-DD")
}

// identity returns the identity to hide, or nil when no name was given.
func (p *patientFlags) identity(cfg *config.Config) *anonymize.Identity {
	gender := p.gender
	if gender == "" {
		gender = cfg.Anonymization.DefaultGender
	}
	id := anonymize.Identity{
		GivenName:  p.given,
		FamilyName: p.family,
		Gender:     anonymize.ParseGender(gender),
	}
	if id.IsEmpty() {
		return nil
	}
	return &id
}

// birth parses --birth-date. Empty yields nil.
func (p *patientFlags) birth() (*time.Time, error) {
	if p.birthDate == "" {
		return nil, nil
	}
	d, err := time.Parse(time.DateOnly, p.birthDate)
	if err != nil {
		return nil, &ValidationError{Field: "birth-date", Value: p.birthDate, Reason: "not a date", Example: "--birth-date 1985-03-07"}
	}
	return &d, nil
}

// =============================================================================
// INPUT AND OUTPUT
// =============================================================================

// readText returns the text to process: the --file contents, else the
// positional arguments, else stdin when it is not a terminal.
func readText(cmd *cobra.Command, file string, args []string) (string, error) {
	if file != "" {
		f, err := os.Open(util.ExpandHome(file))
		if err != nil {
			return "", err
		}
		defer f.Close()
		return readLimited(f)
	}
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if in, ok := cmd.InOrStdin().(*os.File); ok && in == os.Stdin && IsTTY() {
		return "", &ValidationError{Field: "input", Reason: "no text given", Example: `noteguard ask "..." or pipe text on stdin`}
	}
	return readLimited(cmd.InOrStdin())
}

func readLimited(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInputBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxInputBytes {
		return "", &ValidationError{Field: "input", Reason: fmt.Sprintf("larger than %d bytes", maxInputBytes)}
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", &ValidationError{Field: "input", Reason: "empty"}
	}
	return text, nil
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// formatDurationShort formats a short duration string.
func formatDurationShort(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", m, s)
}
