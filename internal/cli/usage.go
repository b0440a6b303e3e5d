package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/neoclaw-ai/promptsmith/internal/costs"
	"github.com/spf13/cobra"
)

func newUsageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Report generation spend for today and this month",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Costs.Validate(); err != nil {
				return fmt.Errorf("costs: %w", err)
			}
			report, err := costs.New(cfg.CostsPath(), cfg.Costs).Report(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			return writeUsage(cmd.OutOrStdout(), report)
		},
	}
}

func writeUsage(w io.Writer, r costs.Report) error {
	if _, err := fmt.Fprintf(w, "Today: $%.4f (%d calls, %d tokens)%s\n",
		r.TodayUSD, r.TodayCalls, r.TodayTokens, limitSuffix(r.DailyLimit, r.DailyExceeded)); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "Month: $%.4f (%d calls, %d tokens)%s\n",
		r.MonthUSD, r.MonthCalls, r.MonthTokens, limitSuffix(r.MonthlyLimit, r.MonthExceeded))
	return err
}

func limitSuffix(limit float64, exceeded bool) string {
	switch {
	case limit <= 0:
		return ""
	case exceeded:
		return fmt.Sprintf(" of $%.2f limit, EXCEEDED", limit)
	default:
		return fmt.Sprintf(" of $%.2f limit", limit)
	}
}
