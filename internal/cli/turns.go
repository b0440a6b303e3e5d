package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTurnsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "turns",
		Short: "Inspect recorded turns",
	}
	cmd.AddCommand(newTurnsListCmd())
	return cmd
}

func newTurnsListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent turns",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := openStores(cfg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			turns := s.turns.Recent(limit)
			if len(turns) == 0 {
				_, err = fmt.Fprintln(out, "No turns recorded.")
				return err
			}
			for _, t := range turns {
				if _, err := fmt.Fprintf(out, "%d\t%s\t%s\tv%d\t%s\n",
					t.ID,
					t.CreatedAt.Local().Format("2006-01-02 15:04"),
					t.Status,
					t.PromptVersion,
					oneLine(t.UserMessage, 60),
				); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "number", "n", 20, "Number of turns to list")

	return cmd
}

func oneLine(s string, limit int) string {
	runes := []rune(s)
	for i, r := range runes {
		if r == '\n' || r == '\r' || r == '\t' {
			runes[i] = ' '
		}
	}
	if len(runes) > limit {
		return string(runes[:limit]) + "..."
	}
	return string(runes)
}
