package cli

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/neoclaw-ai/promptsmith/internal/api"
	"github.com/neoclaw-ai/promptsmith/internal/channels"
	"github.com/neoclaw-ai/promptsmith/internal/commands"
	"github.com/neoclaw-ai/promptsmith/internal/config"
	"github.com/neoclaw-ai/promptsmith/internal/logging"
	"github.com/neoclaw-ai/promptsmith/internal/runtime"
	"github.com/neoclaw-ai/promptsmith/internal/scheduler"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, Telegram and the feedback sweep",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			llm := cfg.DefaultLLM()
			logging.Logger().Info(
				"starting server",
				"provider", llm.Provider,
				"model", llm.Model,
				"home", cfg.HomeDir,
				"listen", cfg.API.Listen,
				"prompt_version", a.prompts.Current().Version,
			)

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			service := scheduler.NewService()
			if err := service.Add(runCtx, scheduler.SweepJob(cfg.Feedback.SweepSchedule, a.loop)); err != nil {
				return err
			}
			if err := service.Start(); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := service.Stop(shutdownCtx); err != nil {
					logging.Logger().Warn("scheduler did not stop cleanly", "err", err)
				}
			}()

			server, err := api.NewServer(api.Deps{
				Token: cfg.API.Token,
				Sessions: func(id string) (api.Asker, error) {
					conversation, err := a.conversation("", id)
					if err != nil {
						return nil, err
					}
					return conversation, nil
				},
				Turns:    a.turns,
				Feedback: a.feedback,
				Refiner:  a.loop,
				Prompts:  a.prompts,
			})
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(runCtx)
			g.Go(func() error {
				return server.ListenAndServe(gctx, cfg.API.Listen)
			})
			if tg := cfg.TelegramChannel(); tg.Enabled {
				listener := channels.NewTelegram(tg, a.loop)
				g.Go(func() error {
					return listener.Listen(gctx, runtime.NewSessions(a.telegramSession))
				})
			}

			err = g.Wait()
			logging.Logger().Info("server stopped")
			return err
		},
	}
}

// telegramSession builds the handler for one Telegram chat: slash commands
// first, then the chat's own persisted conversation.
func (a *app) telegramSession(chatID int64) (runtime.Handler, error) {
	id := strconv.FormatInt(chatID, 10)
	conversation, err := a.conversation(a.cfg.TelegramSessionPath(id), "telegram:"+id)
	if err != nil {
		return nil, err
	}
	return commands.Router{
		Commands: commands.New(conversation, a.loop, a.prompts),
		Next:     conversation,
	}, nil
}
