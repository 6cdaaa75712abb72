// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/noteguard/internal/warmup"
)

// statusOutput is the --json form of the status command.
type statusOutput struct {
	State           string        `json:"state"`
	Message         string        `json:"message,omitempty"`
	Events          []statusEvent `json:"events"`
	Active          string        `json:"active_provider"`
	ActiveModel     string        `json:"active_model"`
	Preferred       string        `json:"preferred_provider"`
	FallbackActive  bool          `json:"fallback_active"`
	Offline         bool          `json:"offline"`
	CloudConfigured bool          `json:"cloud_configured"`
	LocalEndpoint   string        `json:"local_endpoint"`
	ConfigPath      string        `json:"config_path"`
}

type statusEvent struct {
	State   string    `json:"state"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

func newStatusCommand(opts *globalOptions) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:     "status",
		Aliases: []string{"s"},
		Short:   "Warm the local backend and show provider status",
		Long: `Run a warmup cycle for the local backend and print each state
transition until it is ready, failed, or --wait elapses.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), opts, warmNever)
			if err != nil {
				return err
			}
			defer a.Close()

			events := make(chan warmup.Event, 16)
			unsubscribe := a.gw.Subscribe(func(ev warmup.Event) {
				select {
				case events <- ev:
				default:
				}
			})
			defer unsubscribe()
			a.gw.Start()

			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()

			out := cmd.OutOrStdout()
			var seen []warmup.Event
			last := a.gw.State()
		loop:
			for {
				select {
				case ev := <-events:
					seen = append(seen, ev)
					last = ev
					if !opts.jsonOutput {
						printEvent(out, ev)
					}
					if ev.State.Terminal() {
						break loop
					}
				case <-ctx.Done():
					break loop
				}
			}

			active := a.gw.Active()
			summary := statusOutput{
				State:           last.State.String(),
				Message:         last.Message,
				Active:          active.Kind.String(),
				ActiveModel:     active.Model,
				Preferred:       a.gw.Preferred().String(),
				FallbackActive:  a.gw.FallbackActive(),
				Offline:         a.cfg.Routing.OfflineMode,
				CloudConfigured: a.cfg.CloudAPIKey() != "",
				LocalEndpoint:   a.cfg.Local.OllamaURL,
				ConfigPath:      a.cfgPath,
			}
			for _, ev := range seen {
				summary.Events = append(summary.Events, statusEvent{State: ev.State.String(), Message: ev.Message, At: ev.At})
			}

			if opts.jsonOutput {
				return printJSON(out, summary)
			}
			printStatus(out, summary)
			if !last.State.Terminal() {
				fmt.Fprintln(out, RenderConditional(WarningStyle, fmt.Sprintf("still %s after %s", last.State, wait)))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Minute, "how long to wait for the warmup cycle")
	return cmd
}

func printEvent(w io.Writer, ev warmup.Event) {
	style := StatusPendingStyle
	switch ev.State {
	case warmup.StateReady:
		style = StatusOKStyle
	case warmup.StateError, warmup.StateDegraded:
		style = StatusFailStyle
	case warmup.StateUninitialized:
		style = StatusUnknownStyle
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	fmt.Fprintf(w, "%s  %s %s\n",
		RenderConditional(DimStyle, at.Format("15:04:05")),
		RenderConditional(style, fmt.Sprintf("%-13s", ev.State)),
		ev.Message)
}

func printStatus(w io.Writer, s statusOutput) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, RenderSeparator(50))
	row := func(label, value string) {
		fmt.Fprintf(w, "%s %s\n", RenderLabel(label), value)
	}
	row("Active provider", fmt.Sprintf("%s (%s)", s.Active, s.ActiveModel))
	row("Preferred", s.Preferred)
	if s.FallbackActive {
		row("Fallback", RenderConditional(WarningStyle, "general operations on cloud, local unreachable"))
	}
	row("Local endpoint", s.LocalEndpoint)
	row("Offline mode", fmt.Sprint(s.Offline))
	cloud := "no API key"
	if s.CloudConfigured {
		cloud = "API key present"
	}
	row("Cloud", cloud)
	row("Config", s.ConfigPath)
	fmt.Fprintln(w, RenderSeparator(50))
}
