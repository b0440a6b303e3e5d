// Package costs tracks LLM usage and spend in a JSONL log.
package costs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neoclaw-ai/promptsmith/internal/config"
	"github.com/neoclaw-ai/promptsmith/internal/generation"
	"github.com/neoclaw-ai/promptsmith/internal/logging"
	"github.com/neoclaw-ai/promptsmith/internal/provider"
	"github.com/neoclaw-ai/promptsmith/internal/store"
)

// Record is one persisted usage entry.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	// Kind is the call kind, "converse" or "synthesize".
	Kind         string  `json:"kind"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	Estimated    bool    `json:"estimated,omitempty"`
}

// Spend holds aggregated totals for today and the current month.
type Spend struct {
	TodayUSD    float64 `json:"today_usd"`
	MonthUSD    float64 `json:"month_usd"`
	TodayTokens int     `json:"today_tokens"`
	MonthTokens int     `json:"month_tokens"`
	TodayCalls  int     `json:"today_calls"`
	MonthCalls  int     `json:"month_calls"`
}

// Report is spend compared against the soft limits.
type Report struct {
	Spend
	DailyLimit    float64 `json:"daily_limit,omitempty"`
	MonthlyLimit  float64 `json:"monthly_limit,omitempty"`
	DailyExceeded bool    `json:"daily_exceeded"`
	MonthExceeded bool    `json:"month_exceeded"`
}

// Tracker appends usage records and computes period spend totals.
type Tracker struct {
	path   string
	limits config.CostsConfig
	mu     sync.Mutex
	now    func() time.Time
}

// New returns a Tracker for the costs JSONL path. Limits are reported, never
// enforced.
func New(path string, limits config.CostsConfig) *Tracker {
	return &Tracker{path: path, limits: limits, now: time.Now}
}

// Append writes one usage record.
func (t *Tracker) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.path == "" {
		return errors.New("costs path is required")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = t.now()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := store.AppendJSONL(t.path, rec); err != nil {
		return fmt.Errorf("append costs record: %w", err)
	}
	return nil
}

// Spend returns the totals for the local day and month containing now.
func (t *Tracker) Spend(ctx context.Context, now time.Time) (Spend, error) {
	if err := ctx.Err(); err != nil {
		return Spend{}, err
	}
	if t.path == "" {
		return Spend{}, errors.New("costs path is required")
	}
	if now.IsZero() {
		now = t.now()
	}
	nowLocal := now.In(time.Local)
	todayYear, todayMonth, todayDay := nowLocal.Date()

	var totals Spend
	err := store.ScanJSONL(t.path, func(_ int, line []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil
		}
		y, m, d := rec.Timestamp.In(time.Local).Date()
		if y != todayYear || m != todayMonth {
			return nil
		}
		totals.MonthUSD += rec.CostUSD
		totals.MonthTokens += rec.TotalTokens
		totals.MonthCalls++
		if d == todayDay {
			totals.TodayUSD += rec.CostUSD
			totals.TodayTokens += rec.TotalTokens
			totals.TodayCalls++
		}
		return nil
	})
	if err != nil {
		return Spend{}, fmt.Errorf("scan costs file: %w", err)
	}
	return totals, nil
}

// Report returns spend for now checked against the soft limits.
func (t *Tracker) Report(ctx context.Context, now time.Time) (Report, error) {
	spend, err := t.Spend(ctx, now)
	if err != nil {
		return Report{}, err
	}
	return Report{
		Spend:         spend,
		DailyLimit:    t.limits.DailyLimit,
		MonthlyLimit:  t.limits.MonthlyLimit,
		DailyExceeded: t.limits.DailyLimit > 0 && spend.TodayUSD >= t.limits.DailyLimit,
		MonthExceeded: t.limits.MonthlyLimit > 0 && spend.MonthUSD >= t.limits.MonthlyLimit,
	}, nil
}

// Recorder returns a generation.UsageRecorder that attributes usage to one
// provider profile.
func (t *Tracker) Recorder(profile config.LLMProviderConfig) generation.UsageRecorder {
	return &recorder{tracker: t, provider: profile.Provider, model: profile.Model}
}

type recorder struct {
	tracker  *Tracker
	provider string
	model    string
}

// RecordUsage appends usage and warns when a soft limit is reached. Failures
// are logged; usage accounting never fails a call.
func (r *recorder) RecordUsage(ctx context.Context, kind string, usage provider.TokenUsage) {
	rec := Record{
		Kind:         kind,
		Provider:     r.provider,
		Model:        r.model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		TotalTokens:  usage.TotalTokens,
	}
	switch {
	case usage.CostUSD != nil:
		rec.CostUSD = *usage.CostUSD
	default:
		rec.CostUSD, rec.Estimated = EstimateUSD(r.provider, r.model, usage.InputTokens, usage.OutputTokens)
	}

	ctx = context.WithoutCancel(ctx)
	if err := r.tracker.Append(ctx, rec); err != nil {
		logging.Logger().Warn("failed to record usage", "kind", kind, "err", err)
		return
	}
	if r.tracker.limits.DailyLimit <= 0 && r.tracker.limits.MonthlyLimit <= 0 {
		return
	}
	report, err := r.tracker.Report(ctx, time.Time{})
	if err != nil {
		logging.Logger().Warn("failed to compute spend", "err", err)
		return
	}
	if report.DailyExceeded {
		logging.Logger().Warn("daily spend limit reached", "today_usd", report.TodayUSD, "limit", report.DailyLimit)
	}
	if report.MonthExceeded {
		logging.Logger().Warn("monthly spend limit reached", "month_usd", report.MonthUSD, "limit", report.MonthlyLimit)
	}
}
