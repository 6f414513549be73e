package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"kodai/internal/agent"
	"kodai/internal/chat"
	"kodai/internal/config"
	"kodai/internal/logging"
	"kodai/internal/render"
	"kodai/internal/tools"
)

var (
	version = "0.1.0"
	model   string
	mode    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kodai",
		Short: "AI coding assistant for your terminal",
		Long: `Kodai is an interactive coding assistant. It answers questions about
your project, runs file tools on request, and breaks larger jobs into
tracked subtasks it executes one by one.`,
		RunE: runInteractive,
	}

	rootCmd.PersistentFlags().StringVar(&model, "model", "", "model to use (overrides config)")
	rootCmd.PersistentFlags().StringVar(&mode, "mode", "", "prompt mode: code, amend, plan")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kodai version %s\n", version)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send a single prompt and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(strings.Join(args, " "))
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads config and creates an initialized session in the current
// working directory.
func setup(ctx context.Context) (*chat.Session, *render.Renderer, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if model != "" {
		cfg.Model.Name = model
	}
	if mode != "" {
		cfg.Modes.Default = mode
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	if cfg.Logging.ToFile {
		if dir, err := config.GetConfigDir(); err == nil {
			_ = logging.EnableFileLogging(dir, logging.Level(cfg.Logging.Level))
		}
	}

	workDir, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("working directory: %w", err)
	}

	out := render.New(os.Stdout)
	session := chat.NewSession(cfg)
	session.SetHandler(&tools.Handler{
		OnText: out.Text,
		OnToolStart: func(name string, args map[string]any) {
			out.ToolStart(name, args)
		},
		OnToolEnd: func(name string, result tools.ToolResult) {
			out.ToolEnd(name, result.Success, result.Error)
		},
		OnToolRetry: func(name string, attempt, maxAttempts int, err error) {
			out.ToolRetry(name, attempt, maxAttempts)
		},
	})

	if err := session.Initialize(ctx, workDir); err != nil {
		return nil, nil, err
	}
	return session, out, nil
}

func runOnce(prompt string) error {
	ctx := context.Background()
	session, out, err := setup(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	reply, err := session.SendMessage(ctx, prompt)
	if err != nil {
		return err
	}
	if reply.Summary != nil {
		out.PlanSummary(*reply.Summary)
	}
	fmt.Println()
	return nil
}

func runInteractive(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	session, out, err := setup(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	// Ctrl+C cancels the in-flight message instead of killing the app
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		for range sigs {
			session.Cancel()
			out.Notice("\ncancelled")
		}
	}()

	out.Notice(fmt.Sprintf("kodai %s (mode: %s). Type a message, or /help.", version, session.Mode()))

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		out.Prompt()
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := handleCommand(session, out, line); quit {
				break
			}
			continue
		}

		reply, err := session.SendMessage(ctx, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				out.Notice("message cancelled")
			} else if errors.Is(err, chat.ErrBusy) {
				out.Notice("still working on the previous message")
			} else {
				out.Error(err)
			}
		}
		if reply != nil && reply.Summary != nil {
			out.PlanSummary(*reply.Summary)
		}
		fmt.Println()
	}

	return scanner.Err()
}

// handleCommand runs a slash command. Returns true to exit.
func handleCommand(session *chat.Session, out *render.Renderer, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true

	case "/clear":
		session.ClearHistory()
		out.Notice("history cleared")

	case "/condense":
		session.CondenseHistory()
		out.Notice("history condensed")

	case "/debug":
		out.Notice(session.GetLLMDebugInfo())

	case "/changes":
		if changes := session.RecentChanges(); changes != "" {
			out.Notice(changes)
		} else {
			out.Notice("no recent file changes")
		}

	case "/mode":
		if len(fields) < 2 {
			out.Notice(fmt.Sprintf("current mode: %s", session.Mode()))
			break
		}
		switch m := agent.Mode(fields[1]); m {
		case agent.ModeCode, agent.ModeAmend, agent.ModePlan:
			session.SetMode(m)
			out.Notice("mode set to " + fields[1])
		default:
			out.Notice("unknown mode: " + fields[1])
		}

	case "/run":
		if len(fields) < 2 {
			out.Notice("usage: /run <prompt>")
			break
		}
		prompt := strings.TrimSpace(strings.TrimPrefix(line, "/run"))
		if _, err := session.SendDirectCommand(context.Background(), prompt); err != nil {
			out.Error(err)
		}
		fmt.Println()

	case "/help":
		out.Notice(`Commands:
  /mode [code|amend|plan]  show or switch prompt mode
  /run <prompt>            send straight to the model with tools, one turn
  /changes                 show recently changed files
  /clear                   clear conversation history
  /condense                summarize older history
  /debug                   show model call timings and token usage
  /quit                    exit`)

	default:
		out.Notice("unknown command: " + fields[0])
	}
	return false
}
