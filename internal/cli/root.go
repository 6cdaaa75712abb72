// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// globalOptions holds the persistent flags.
type globalOptions struct {
	configPath  string
	logLevel    string
	metricsAddr string
	jsonOutput  bool
}

// NewRootCommand builds the noteguard command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "noteguard",
		Short: "Privacy-preserving model gateway for clinical notes",
		Long: `noteguard routes clinical writing tasks to a language model without
letting patient identity leave the machine.

Sensitive operations (note structuring, PII extraction, document analysis)
only ever run on the local Ollama backend. General operations (chat,
drafts, letters, forms) use the selected provider, local or cloud. Patient
names are replaced by pseudonyms before any call and restored in the
reply. Every call is recorded in the audit log.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default ~/.noteguard/config.toml)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. 127.0.0.1:9464")
	pf.BoolVar(&opts.jsonOutput, "json", false, "print machine-readable JSON")

	root.AddCommand(
		newAskCommand(opts),
		newChatCommand(opts),
		newExtractPIICommand(opts),
		newAnonymizeCommand(opts),
		newStatusCommand(opts),
		newSwitchCommand(opts),
		newAuditCommand(opts),
		newConfigCommand(opts),
		newServeCommand(opts),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, RenderError(err))
		return exitCode(err)
	}
	return 0
}
