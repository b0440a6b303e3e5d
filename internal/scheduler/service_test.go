package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/neoclaw-ai/promptsmith/internal/refine"
)

type fakeCycler struct {
	calls  atomic.Int32
	forced atomic.Bool
	err    error
}

func (c *fakeCycler) Run(_ context.Context, force bool) (refine.Outcome, error) {
	c.calls.Add(1)
	c.forced.Store(force)
	return refine.Outcome{Version: 2, FeedbackCount: 1}, c.err
}

func TestAddValidates(t *testing.T) {
	t.Parallel()

	svc := NewService()
	ctx := context.Background()
	noop := func(context.Context) error { return nil }

	if err := svc.Add(ctx, Job{Schedule: "@every 1m", Run: noop}); err == nil {
		t.Fatalf("expected name error")
	}
	if err := svc.Add(ctx, Job{Name: "x", Schedule: "@every 1m"}); err == nil {
		t.Fatalf("expected run func error")
	}
	if err := svc.Add(ctx, Job{Name: "x", Schedule: "not a schedule", Run: noop}); err == nil {
		t.Fatalf("expected schedule parse error")
	}
	if err := svc.Add(ctx, Job{Name: "x", Schedule: "@every 1m", Run: noop}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.Add(ctx, Job{Name: "x", Schedule: "@every 2m", Run: noop}); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestEmptyScheduleDisablesJob(t *testing.T) {
	t.Parallel()

	svc := NewService()
	if err := svc.Add(context.Background(), SweepJob("", &fakeCycler{})); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.RunNow(context.Background(), SweepJobName); err == nil {
		t.Fatalf("expected disabled job to be unknown")
	}
}

func TestSweepJobIgnoresQuietOutcomes(t *testing.T) {
	t.Parallel()

	for _, err := range []error{nil, refine.ErrNothingPending, refine.ErrNotTriggered} {
		cycler := &fakeCycler{err: err}
		if runErr := SweepJob("@every 1m", cycler).Run(context.Background()); runErr != nil {
			t.Fatalf("expected nil for %v, got %v", err, runErr)
		}
		if cycler.forced.Load() {
			t.Fatalf("sweep must not force a cycle")
		}
	}

	boom := errors.New("synthesis failed")
	if err := SweepJob("@every 1m", &fakeCycler{err: boom}).Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestStartRunNowStopRoundTrip(t *testing.T) {
	t.Parallel()

	svc := NewService()
	cycler := &fakeCycler{}
	ctx := context.Background()
	if err := svc.Add(ctx, SweepJob("0 3 * * *", cycler)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.Start(); err == nil {
		t.Fatalf("expected second start error")
	}
	if err := svc.RunNow(ctx, SweepJobName); err != nil {
		t.Fatalf("run now: %v", err)
	}
	if cycler.calls.Load() != 1 {
		t.Fatalf("expected one run, got %d", cycler.calls.Load())
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := svc.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := svc.Stop(stopCtx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestCronFiresJob(t *testing.T) {
	t.Parallel()

	svc := NewService()
	fired := make(chan struct{}, 1)
	err := svc.Add(context.Background(), Job{Name: "tick", Schedule: "@every 1s", Run: func(context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop(context.Background())

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatalf("job did not fire")
	}
}
