// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/noteguard/internal/anonymize"
	"github.com/jeranaias/noteguard/internal/config"
	"github.com/jeranaias/noteguard/internal/gateway"
	"github.com/jeranaias/noteguard/internal/provider"
	"github.com/jeranaias/noteguard/internal/router"
	"github.com/jeranaias/noteguard/internal/util"
	"github.com/jeranaias/noteguard/internal/warmup"
)

const (
	// maxHistoryTurns bounds the exchanges replayed into each prompt.
	maxHistoryTurns = 6
	// maxHistoryRunes bounds the replayed transcript.
	maxHistoryRunes = 24000
)

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	commandStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader provides line editing and persistent input history.
type lineReader struct {
	line        *liner.State
	historyFile string
}

func newLineReader() *lineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &lineReader{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(r.historyFile); err == nil {
		_, _ = r.line.ReadHistory(f)
		f.Close()
	}
	return r
}

func (r *lineReader) read(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (r *lineReader) Close() {
	defer r.line.Close()
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = r.line.WriteHistory(f)
}

// =============================================================================
// SESSION
// =============================================================================

type turn struct {
	user      string
	assistant string
}

// chatSession is the state of one interactive chat.
type chatSession struct {
	app     *app
	out     io.Writer
	op      router.Operation
	patient *anonymize.Identity
	turns   []turn

	mu     sync.Mutex
	cancel context.CancelFunc
}

// transcript renders the recent exchanges followed by input.
func (s *chatSession) transcript(input string) string {
	var b strings.Builder
	turns := s.turns
	if len(turns) > maxHistoryTurns {
		turns = turns[len(turns)-maxHistoryTurns:]
	}
	for len(turns) > 0 {
		b.Reset()
		b.WriteString("Conversation so far:\n")
		for _, t := range turns {
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", t.user, t.assistant)
		}
		if util.RuneLen(b.String()) <= maxHistoryRunes {
			break
		}
		turns = turns[1:]
	}
	if len(turns) == 0 {
		return input
	}
	b.WriteString("\nCurrent message:\n")
	b.WriteString(input)
	return b.String()
}

// send runs one exchange. Ctrl+C cancels it through s.cancel.
func (s *chatSession) send(ctx context.Context, input string) error {
	callCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	res, err := s.app.gw.Invoke(callCtx, gateway.Request{
		Operation:  s.op,
		Identity:   s.patient,
		UserPrompt: s.transcript(input),
	})
	if err != nil {
		return err
	}
	s.turns = append(s.turns, turn{user: input, assistant: res.Text})
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, RenderWrapped(ValueStyle, res.Text))
	meta := fmt.Sprintf("%s (%s) | %s", res.Provider.Kind, res.Provider.Model, formatDurationShort(res.Latency))
	if res.Anonymized {
		meta += " | anonymized"
	}
	fmt.Fprintln(s.out, RenderConditional(DimStyle, meta))
	fmt.Fprintln(s.out)
	return nil
}

func (s *chatSession) interrupt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	return true
}

// =============================================================================
// COMMAND
// =============================================================================

func newChatCommand(opts *globalOptions) *cobra.Command {
	var (
		patient patientFlags
		op      string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat through the gateway",
		Long: `Start an interactive session. Each message is one gateway call with the
recent exchanges replayed as context. When a patient is set, their name is
hidden in every message and restored in every reply.

Commands during chat:
  /patient <given> <family> [F|M|X]   hide this patient from now on
  /patient off                        stop hiding a patient
  /op <operation>                     change the operation (default chat)
  /switch <local|cloud> [model]       select the provider for general operations
  /status                             show warmup state and provider
  /clear                              forget the conversation
  /quit                               exit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			operation, err := router.ParseOperation(op)
			if err != nil {
				return &ValidationError{Field: "op", Value: op, Reason: "unknown operation"}
			}
			if err := RequiresTTY("chat"); err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), opts, warmAuto)
			if err != nil {
				return err
			}
			defer a.Close()

			// The root context ends on the first SIGINT; during chat a
			// SIGINT only cancels the message in flight.
			ctx, stop := context.WithCancel(context.WithoutCancel(cmd.Context()))
			defer stop()
			a.watchConfig(ctx)

			s := &chatSession{app: a, out: cmd.OutOrStdout(), op: operation, patient: patient.identity(a.cfg)}
			return runChat(ctx, s)
		},
	}
	patient.register(cmd)
	cmd.Flags().StringVar(&op, "op", string(router.OpChat), "operation for every message")
	return cmd
}

func runChat(ctx context.Context, s *chatSession) error {
	reader := newLineReader()
	defer reader.Close()

	unsubscribe := s.app.gw.Subscribe(func(ev warmup.Event) {
		switch ev.State {
		case warmup.StateReady, warmup.StateError, warmup.StateDegraded:
			fmt.Fprintln(os.Stderr, RenderConditional(DimStyle, "[backend] "+ev.String()))
		}
	})
	defer unsubscribe()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		for {
			select {
			case sig := <-sigs:
				if sig == syscall.SIGTERM {
					s.app.Close()
					os.Exit(ExitGeneralError)
				}
				if s.interrupt() {
					fmt.Fprintln(os.Stderr, RenderConditional(WarningStyle, "\n[cancelled]"))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	printWelcome(s)
	for {
		input, err := reader.read(RenderConditional(promptStyle, "noteguard> "))
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D, or a closed terminal.
			fmt.Fprintln(s.out)
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			quit, err := s.slash(ctx, input)
			if err != nil {
				fmt.Fprintln(os.Stderr, RenderError(err))
			}
			if quit {
				return nil
			}
			continue
		}
		if err := s.send(ctx, input); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() == nil {
				continue
			}
			fmt.Fprintln(os.Stderr, RenderError(err))
		}
	}
}

func printWelcome(s *chatSession) {
	active := s.app.gw.Active()
	fmt.Fprintln(s.out, RenderConditional(TitleStyle, "noteguard chat"))
	fmt.Fprintf(s.out, "%s %s (%s)\n", RenderLabel("Provider"), active.Kind, active.Model)
	fmt.Fprintf(s.out, "%s %s (%s)\n", RenderLabel("Operation"), s.op, router.ClassOf(s.op))
	fmt.Fprintf(s.out, "%s %s\n", RenderLabel("Patient"), describePatient(s.patient))
	fmt.Fprintln(s.out, RenderConditional(DimStyle, "Type /help for commands."))
	fmt.Fprintln(s.out)
}

func describePatient(id *anonymize.Identity) string {
	if id == nil {
		return "none"
	}
	return strings.TrimSpace(id.GivenName + " " + id.FamilyName)
}

// slash handles a chat command and reports whether to exit.
func (s *chatSession) slash(ctx context.Context, input string) (bool, error) {
	fields := strings.Fields(input)
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "/quit", "/q", "/exit":
		return true, nil

	case "/help", "/h":
		for _, line := range []string{
			"/patient <given> <family> [F|M|X]", "/patient off", "/op <operation>",
			"/switch <local|cloud> [model]", "/status", "/clear", "/quit",
		} {
			fmt.Fprintln(s.out, RenderConditional(commandStyle, "  "+line))
		}

	case "/clear", "/c":
		s.turns = nil
		fmt.Fprintln(s.out, RenderConditional(DimStyle, "conversation cleared"))

	case "/patient":
		if len(args) == 1 && strings.EqualFold(args[0], "off") {
			s.patient = nil
			s.turns = nil
			fmt.Fprintln(s.out, RenderConditional(DimStyle, "patient cleared, conversation reset"))
			return false, nil
		}
		if len(args) < 2 {
			return false, &ValidationError{Field: "patient", Reason: "expected a given and a family name", Example: "/patient Léa Martin F"}
		}
		gender := s.app.cfg.Anonymization.DefaultGender
		if len(args) > 2 {
			gender = args[2]
		}
		s.patient = &anonymize.Identity{GivenName: args[0], FamilyName: args[1], Gender: anonymize.ParseGender(gender)}
		s.turns = nil
		fmt.Fprintf(s.out, "%s %s\n", RenderConditional(DimStyle, "now hiding"), describePatient(s.patient))

	case "/op":
		if len(args) != 1 {
			return false, &ValidationError{Field: "op", Reason: "expected one operation", Example: "/op letter"}
		}
		op, err := router.ParseOperation(args[0])
		if err != nil {
			return false, err
		}
		s.op = op
		fmt.Fprintf(s.out, "%s %s (%s)\n", RenderConditional(DimStyle, "operation"), op, router.ClassOf(op))

	case "/switch":
		if len(args) < 1 {
			return false, &ValidationError{Field: "provider", Reason: "expected local or cloud", Example: "/switch cloud"}
		}
		kind, err := provider.ParseKind(args[0])
		if err != nil {
			return false, err
		}
		var model string
		if len(args) > 1 {
			model = args[1]
		}
		msg, err := s.app.gw.SwitchProvider(ctx, kind, model)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, RenderConditional(SuccessStyle, msg))

	case "/status", "/s":
		active := s.app.gw.Active()
		fmt.Fprintf(s.out, "%s %s\n", RenderLabel("Backend"), s.app.gw.State())
		fmt.Fprintf(s.out, "%s %s (%s)\n", RenderLabel("Provider"), active.Kind, active.Model)
		if s.app.gw.FallbackActive() {
			fmt.Fprintln(s.out, RenderConditional(WarningStyle, "general operations fell back to cloud"))
		}
		fmt.Fprintf(s.out, "%s %s (%s)\n", RenderLabel("Operation"), s.op, router.ClassOf(s.op))
		fmt.Fprintf(s.out, "%s %s\n", RenderLabel("Patient"), describePatient(s.patient))
		fmt.Fprintf(s.out, "%s %d\n", RenderLabel("Exchanges"), len(s.turns))

	default:
		return false, &ValidationError{Field: "command", Value: name, Reason: "unknown", Example: "/help"}
	}
	return false, nil
}
