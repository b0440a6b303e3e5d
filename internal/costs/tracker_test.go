package costs

import (
	"context"
	"encoding/json"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/neoclaw-ai/promptsmith/internal/config"
	"github.com/neoclaw-ai/promptsmith/internal/provider"
	"github.com/neoclaw-ai/promptsmith/internal/store"
)

func TestEstimateUSD(t *testing.T) {
	t.Parallel()

	cases := []struct{ provider, model string }{
		{"anthropic", "claude-haiku-4-5"},
		{"anthropic", "claude-sonnet-4-6"},
		{"anthropic", "claude-opus-4-1"},
		{"gemini", "gemini-2.5-flash"},
		{"gemini", "gemini-2.5-flash-lite"},
		{"gemini", "gemini-2.5-pro"},
	}
	for _, tc := range cases {
		t.Run(tc.model, func(t *testing.T) {
			t.Parallel()
			usd, ok := EstimateUSD(tc.provider, tc.model, 1_000_000, 1_000_000)
			if !ok || usd <= 0 {
				t.Fatalf("expected positive fallback pricing for %s/%s, got %.4f ok=%v", tc.provider, tc.model, usd, ok)
			}
		})
	}

	if _, ok := EstimateUSD("openrouter", "anything", 10, 10); ok {
		t.Fatalf("expected openrouter to rely on reported cost")
	}
	if _, ok := EstimateAnthropicUSD("unknown-model", 10, 10); ok {
		t.Fatalf("expected unknown model to have no fallback pricing")
	}
}

func TestTrackerAppendAndSpend(t *testing.T) {
	t.Parallel()

	tracker := New(filepath.Join(t.TempDir(), "costs.jsonl"), config.CostsConfig{})
	now := time.Date(2026, 2, 19, 12, 0, 0, 0, time.Local)
	ctx := context.Background()

	for _, rec := range []Record{
		{Timestamp: now.Add(-time.Hour), Kind: "converse", CostUSD: 1.25, TotalTokens: 150},
		{Timestamp: now.AddDate(0, 0, -1), Kind: "synthesize", CostUSD: 2.00, TotalTokens: 300},
		{Timestamp: now.AddDate(0, -1, 0), Kind: "converse", CostUSD: 9.00, TotalTokens: 900},
	} {
		if err := tracker.Append(ctx, rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	spend, err := tracker.Spend(ctx, now)
	if err != nil {
		t.Fatalf("spend: %v", err)
	}
	if !approx(spend.TodayUSD, 1.25) || !approx(spend.MonthUSD, 3.25) {
		t.Fatalf("unexpected spend %+v", spend)
	}
	if spend.TodayCalls != 1 || spend.MonthCalls != 2 || spend.MonthTokens != 450 {
		t.Fatalf("unexpected counts %+v", spend)
	}
}

func TestTrackerSkipsMalformedLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "costs.jsonl")
	if err := store.AppendFile(path, []byte("not json\n")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tracker := New(path, config.CostsConfig{})
	now := time.Date(2026, 2, 19, 12, 0, 0, 0, time.Local)
	if err := tracker.Append(context.Background(), Record{Timestamp: now, CostUSD: 0.5}); err != nil {
		t.Fatalf("append: %v", err)
	}
	spend, err := tracker.Spend(context.Background(), now)
	if err != nil || !approx(spend.TodayUSD, 0.5) {
		t.Fatalf("unexpected spend %+v err=%v", spend, err)
	}
}

func TestRecorderPrefersReportedCost(t *testing.T) {
	t.Parallel()

	tracker := New(filepath.Join(t.TempDir(), "costs.jsonl"), config.CostsConfig{DailyLimit: 0.01})
	now := time.Date(2026, 2, 19, 12, 0, 0, 0, time.Local)
	tracker.now = func() time.Time { return now }
	ctx := context.Background()

	reported := 0.02
	tracker.Recorder(config.LLMProviderConfig{Provider: "openrouter", Model: "x"}).
		RecordUsage(ctx, "converse", provider.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15, CostUSD: &reported})
	tracker.Recorder(config.LLMProviderConfig{Provider: "anthropic", Model: "claude-sonnet-4-6"}).
		RecordUsage(ctx, "synthesize", provider.TokenUsage{InputTokens: 1_000_000, TotalTokens: 1_000_000})

	var recs []Record
	err := store.ScanJSONL(tracker.path, func(_ int, line []byte) error {
		var rec Record
		err := json.Unmarshal(line, &rec)
		recs = append(recs, rec)
		return err
	})
	if err != nil || len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d err=%v", len(recs), err)
	}
	if !approx(recs[0].CostUSD, 0.02) || recs[0].Estimated || recs[0].Kind != "converse" {
		t.Fatalf("unexpected reported record %+v", recs[0])
	}
	if !approx(recs[1].CostUSD, 3.00) || !recs[1].Estimated {
		t.Fatalf("unexpected estimated record %+v", recs[1])
	}

	report, err := tracker.Report(ctx, now)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !report.DailyExceeded || report.MonthExceeded {
		t.Fatalf("expected only the daily limit exceeded, got %+v", report)
	}
}

func TestTrackerRequiresPath(t *testing.T) {
	t.Parallel()
	tracker := New("", config.CostsConfig{})
	if err := tracker.Append(context.Background(), Record{}); err == nil {
		t.Fatalf("expected missing path error")
	}
	if _, err := tracker.Spend(context.Background(), time.Now()); err == nil {
		t.Fatalf("expected missing path error")
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
