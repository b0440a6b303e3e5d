package cli

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/neoclaw-ai/promptsmith/internal/agent"
	"github.com/neoclaw-ai/promptsmith/internal/channels"
	"github.com/neoclaw-ai/promptsmith/internal/commands"
	"github.com/neoclaw-ai/promptsmith/internal/config"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
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

			conversation, err := a.conversation(cfg.CLISessionPath(), uuid.NewString())
			if err != nil {
				return err
			}
			listener := channels.NewCLI(cmd.InOrStdin(), cmd.OutOrStdout(), cfg.HistoryFilePath())
			router := commands.Router{
				Commands: commands.New(conversation, a.loop, a.prompts),
				Next:     conversation,
			}
			return listener.Listen(cmd.Context(), router)
		},
	}
}

func newAskCmd() *cobra.Command {
	var prompt string

	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Answer one message and print the turn id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			prompt = strings.TrimSpace(prompt)
			if prompt == "" {
				return fmt.Errorf("a message is required: smith ask -p \"...\"")
			}
			if strings.HasPrefix(prompt, "/") {
				return fmt.Errorf("slash commands are not supported in one-shot mode")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.engine.HandleTurn(cmd.Context(), prompt, nil, agent.WithSessionID(uuid.NewString()))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n\nturn %d (%s, prompt v%d)\n",
				result.Answer, result.Turn.ID, result.Turn.Status, result.Turn.PromptVersion)
			return err
		},
	}

	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Message to answer")

	return cmd
}
