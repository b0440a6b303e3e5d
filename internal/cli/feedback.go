package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/neoclaw-ai/promptsmith/internal/commands"
	"github.com/spf13/cobra"
)

func newFeedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Submit and inspect feedback",
	}
	cmd.AddCommand(newFeedbackSubmitCmd())
	cmd.AddCommand(newFeedbackPendingCmd())
	cmd.AddCommand(newFeedbackStatsCmd())
	return cmd
}

func newFeedbackSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <turn> <rating 1-5> [comment...]",
		Short: "Rate a turn; may trigger a refinement cycle",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			turnID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid turn id %q", args[0])
			}
			rating, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid rating %q", args[1])
			}
			comment := strings.Join(args[2:], " ")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.loop.Submit(cmd.Context(), turnID, comment, rating)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), commands.FormatSubmitResult(res))
			return err
		},
	}
}

func newFeedbackPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List feedback not yet folded into a prompt",
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
			pending := s.feedback.Pending()
			if len(pending) == 0 {
				_, err = fmt.Fprintln(out, "No pending feedback.")
				return err
			}
			for _, rec := range pending {
				line := fmt.Sprintf("#%d turn %d rating %d", rec.ID, rec.TurnID, rec.Rating)
				if rec.Comment != "" {
					line += ": " + rec.Comment
				}
				if _, err := fmt.Fprintln(out, line); err != nil {
					return err
				}
			}
			d := policyFromConfig(cfg.Feedback).Evaluate(s.feedback)
			_, err = fmt.Fprintf(out, "Pending: %d, average %.2f, trigger fires: %t\n", d.Pending, d.Average, d.Fire)
			return err
		},
	}
}

func newFeedbackStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print feedback totals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := openStores(cfg)
			if err != nil {
				return err
			}
			st := s.feedback.Stats()
			_, err = fmt.Fprintf(cmd.OutOrStdout(),
				"Total: %d\nProcessed: %d\nPending: %d\nAverage rating: %.2f\n",
				st.Total, st.Processed, st.Pending, st.AverageRating)
			return err
		},
	}
}
