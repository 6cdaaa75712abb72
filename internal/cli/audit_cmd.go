// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/jeranaias/noteguard/internal/audit"
	"github.com/jeranaias/noteguard/internal/faults"
	"github.com/jeranaias/noteguard/internal/util"
)

func newAuditCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}

	var n int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent audit entries, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Audit.SQLitePath == "" {
				return faults.Configuration("cli.audit_tail", "audit.sqlite_path is not set")
			}

			store, err := audit.OpenSQLite(cmd.Context(), util.ExpandHome(cfg.Audit.SQLitePath))
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.Recent(cmd.Context(), n)
			if err != nil {
				return err
			}
			entries = lo.Reverse(entries)

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, RenderConditional(DimStyle, "no audit entries"))
				return nil
			}
			for _, e := range entries {
				line := e.ToLogLine()
				if !e.Success {
					line = RenderConditional(ErrorStyle, line)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	tail.Flags().IntVarP(&n, "lines", "n", 20, "number of entries")

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the audit log locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", RenderLabel("JSON lines"), util.ExpandHome(cfg.Audit.JSONLPath))
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", RenderLabel("SQLite"), util.ExpandHome(cfg.Audit.SQLitePath))
			return nil
		},
	}

	cmd.AddCommand(tail, path)
	return cmd
}
