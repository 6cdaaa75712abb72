// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/noteguard/internal/config"
	"github.com/jeranaias/noteguard/internal/provider"
)

func newSwitchCommand(opts *globalOptions) *cobra.Command {
	var noSave bool

	cmd := &cobra.Command{
		Use:   "switch <local|cloud> [model]",
		Short: "Select the provider for general operations",
		Long: `Select the provider used for chat, drafts, letters and forms. The
candidate is checked first: the Ollama handshake and model for local, the
API key and offline mode for cloud. On failure the current provider stays
selected. Sensitive operations always run locally whatever is selected.

The choice is saved to the config file unless --no-save is given.`,
		Example: `  noteguard switch cloud mistralai/mistral-small
  noteguard switch local llama3.1:8b`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := provider.ParseKind(args[0])
			if err != nil {
				return &ValidationError{Field: "provider", Value: args[0], Reason: "expected local or cloud"}
			}
			var model string
			if len(args) == 2 {
				model = args[1]
			}

			a, err := openApp(cmd.Context(), opts, warmNever)
			if err != nil {
				return err
			}
			defer a.Close()

			msg, err := a.gw.SwitchProvider(cmd.Context(), kind, model)
			if err != nil {
				return err
			}
			active := a.gw.Active()

			if !noSave {
				if err := persistSelection(a.cfgPath, kind, active.Model); err != nil {
					return pkgerrors.Wrap(err, "save provider selection")
				}
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, map[string]any{
					"provider": active.Kind.String(),
					"model":    active.Model,
					"saved":    !noSave,
				})
			}
			fmt.Fprintln(out, RenderConditional(SuccessStyle, msg))
			return nil
		},
	}
	cmd.Flags().BoolVar(&noSave, "no-save", false, "switch for this process only")
	return cmd
}

// persistSelection writes the provider choice to the config file. The file
// is re-read without environment overrides so they are not persisted.
func persistSelection(path string, kind provider.Kind, model string) error {
	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		if err := config.LoadTOML(cfg, path); err != nil {
			return err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	cfg.Routing.DefaultProvider = kind.String()
	switch kind {
	case provider.KindLocal:
		cfg.Local.OllamaModel = model
	case provider.KindCloud:
		cfg.Cloud.DefaultModel = model
	}
	return config.Save(cfg, path)
}
