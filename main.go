package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tanpawarit/chative-router/internal/agent/graph/conversations"
	"github.com/tanpawarit/chative-router/internal/agent/model"
	"github.com/tanpawarit/chative-router/internal/api"
	"github.com/tanpawarit/chative-router/internal/core"
	errx "github.com/tanpawarit/chative-router/internal/core/error"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "chative-router",
		Short:         "Conversational assistant that routes questions to chat, web search, a vectorstore or tools",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	root.AddCommand(newChatCmd(), newServeCmd())
	return root
}

func newChatCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal, streaming answers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			initLogger(cfg)

			app, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			if sessionID == "" {
				sessionID = conversations.NewSessionID()
			}
			return repl(ctx, app, sessionID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "resume an existing session id")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the assistant over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			initLogger(cfg)

			app, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			gin.SetMode(core.ParseEnvironment(cfg.Environment).ServerMode())
			router := api.NewRouter(&api.ChatHandler{
				Runner:          app.Assistant,
				Sessions:        app.Sessions,
				Health:          app.Ping,
				MaxMessageRunes: cfg.HTTP.MaxMessageRunes,
			})
			return api.Serve(ctx, cfg.HTTP, router)
		},
	}
}

func initLogger(cfg *AppConfig) {
	logx.Init(logx.LoggerOpts{
		Environment: core.ParseEnvironment(cfg.Environment),
		Level:       cfg.LogLevel,
	})
}

// repl reads one question per line. "/new" starts a new session and
// "/reset" forgets the current one.
func repl(ctx context.Context, app *App, sessionID string, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "session %s (/new, /reset, /exit)\n", sessionID)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/new":
			sessionID = conversations.NewSessionID()
			fmt.Fprintf(out, "session %s\n", sessionID)
			continue
		case "/reset":
			if err := app.Sessions.Reset(ctx, sessionID); err != nil {
				fmt.Fprintln(out, errx.UserMessage(err))
			}
			continue
		}

		res, err := app.Assistant.Run(ctx, model.QueryInput{ConversationID: sessionID, Query: line}, func(chunk string) bool {
			fmt.Fprint(out, chunk)
			return true
		})
		fmt.Fprintln(out)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logx.Warn().Err(err).Str("conversation_id", sessionID).Msg("turn failed")
			fmt.Fprintln(out, errx.UserMessage(err))
			continue
		}
		if res.SessionReset {
			fmt.Fprintln(out, errx.UserMessage(errx.StateCorruption(sessionID, nil)))
		}
		logx.Debug().
			Str("route", res.Route).
			Bool("summarized", res.Summarized).
			Float64("cost_usd", res.CostUSD).
			Msg("turn done")
	}
}
