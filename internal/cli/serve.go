// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"github.com/spf13/cobra"

	"github.com/jeranaias/noteguard/internal/anonymize"
	"github.com/jeranaias/noteguard/internal/server"
)

func newServeCommand(opts *globalOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the gateway as a local JSON HTTP API",
		Long: `Serve the gateway over HTTP until interrupted. The API binds to
server.listen (default 127.0.0.1:8787). A bearer token is read from the
variable named by server.token_env; without one only a loopback address is
accepted. Prometheus metrics are exposed at /metrics on the same address.

The config file is watched: routing changes apply without a restart.`,
		Example: `  noteguard serve
  NOTEGUARD_API_TOKEN=... noteguard serve --listen 0.0.0.0:8787`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, opts, warmAlways)
			if err != nil {
				return err
			}
			defer a.Close()

			addr := a.cfg.Server.Listen
			if listen != "" {
				addr = listen
			}
			srv, err := server.New(a.gw, server.Options{
				Addr:              addr,
				Token:             a.cfg.APIToken(),
				RequestsPerSecond: a.cfg.Server.RequestsPerSecond,
				Burst:             a.cfg.Server.Burst,
				DefaultGender:     anonymize.ParseGender(a.cfg.Anonymization.DefaultGender),
				Metrics:           a.metrics.Handler(),
				Logger:            a.logger,
				Version:           Version,
			})
			if err != nil {
				return err
			}

			a.watchConfig(ctx)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default server.listen)")
	return cmd
}
