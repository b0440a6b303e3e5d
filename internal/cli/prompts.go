package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/neoclaw-ai/promptsmith/internal/commands"
	"github.com/neoclaw-ai/promptsmith/internal/refine"
	"github.com/neoclaw-ai/promptsmith/internal/report"
	"github.com/neoclaw-ai/promptsmith/internal/store"
	"github.com/spf13/cobra"
)

func newPromptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "Inspect and refine the system prompt",
	}
	cmd.AddCommand(newPromptsCurrentCmd())
	cmd.AddCommand(newPromptsHistoryCmd())
	cmd.AddCommand(newPromptsImproveCmd())
	return cmd
}

func newPromptsCurrentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "current",
		Short: "Print the current prompt version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := openStores(cfg)
			if err != nil {
				return err
			}
			v := s.prompts.Current()
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Prompt v%d (%s)\n\n%s\n",
				v.Version, v.CreatedAt.Format("2006-01-02 15:04"), v.Text)
			return err
		},
	}
}

func newPromptsHistoryCmd() *cobra.Command {
	var htmlPath string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the prompt history as Markdown, or write it as HTML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := openStores(cfg)
			if err != nil {
				return err
			}

			history, stats := s.prompts.History(), s.prompts.Stats()
			htmlPath = strings.TrimSpace(htmlPath)
			if htmlPath == "" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), report.Markdown(history, stats))
				return err
			}
			page, err := report.HTML(history, stats)
			if err != nil {
				return err
			}
			if err := store.WriteFile(htmlPath, page); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d versions to %s\n", len(history), htmlPath)
			return err
		},
	}

	cmd.Flags().StringVar(&htmlPath, "html", "", "Write a standalone HTML page to this file")

	return cmd
}

func newPromptsImproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "improve",
		Short: "Fold all pending feedback into a new prompt version now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			outcome, err := a.loop.Run(cmd.Context(), true)
			if errors.Is(err, refine.ErrNothingPending) {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "No pending feedback.")
				return err
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), commands.FormatOutcome(outcome))
			return err
		},
	}
}
