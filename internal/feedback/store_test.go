package feedback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/neoclaw-ai/promptsmith/internal/apperr"
)

type fakeTurns map[int64]bool

func (f fakeTurns) Exists(id int64) bool { return f[id] }

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, fakeTurns{1: true, 2: true, 3: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func TestSubmitValidatesRatingAndTurn(t *testing.T) {
	s := openStore(t, "")
	for _, rating := range []int{0, 6, -1} {
		if _, err := s.Submit(context.Background(), 1, "x", rating); !errors.Is(err, apperr.ErrValidation) {
			t.Fatalf("rating %d: expected validation error, got %v", rating, err)
		}
	}
	if _, err := s.Submit(context.Background(), 99, "x", 3); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for unknown turn, got %v", err)
	}
	if len(s.All()) != 0 {
		t.Fatalf("rejected submissions must not create records")
	}
}

func TestSubmitAssignsIDsWithoutDedup(t *testing.T) {
	s := openStore(t, "")
	a, err := s.Submit(context.Background(), 1, "  muito longo  ", 2)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	b, err := s.Submit(context.Background(), 1, "muito longo", 2)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("expected ids 1 and 2, got %d and %d", a.ID, b.ID)
	}
	if a.Comment != "muito longo" || a.Processed {
		t.Fatalf("unexpected record %+v", a)
	}
	if len(s.Pending()) != 2 {
		t.Fatalf("expected both records pending")
	}
}

func TestAverageRating(t *testing.T) {
	s := openStore(t, "")
	if avg, ok := s.AverageRating(0); ok || avg != 0 {
		t.Fatalf("expected no data, got %v %v", avg, ok)
	}
	for _, r := range []int{5, 5, 1} {
		if _, err := s.Submit(context.Background(), 1, "", r); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	avg, ok := s.AverageRating(0)
	if !ok || avg != 11.0/3.0 {
		t.Fatalf("expected 11/3, got %v %v", avg, ok)
	}
	if avg, _ := s.AverageRating(1); avg != 1 {
		t.Fatalf("expected windowed average 1, got %v", avg)
	}
	if avg, _ := s.AverageRating(10); avg != 11.0/3.0 {
		t.Fatalf("expected window larger than pending to use all, got %v", avg)
	}

	if err := s.MarkProcessed([]int64{3}); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if avg, _ := s.AverageRating(0); avg != 5 {
		t.Fatalf("expected processed records excluded, got %v", avg)
	}
}

func TestMarkProcessedIsAllOrNothing(t *testing.T) {
	s := openStore(t, "")
	_, _ = s.Submit(context.Background(), 1, "", 2)
	_, _ = s.Submit(context.Background(), 2, "", 4)

	if err := s.MarkProcessed([]int64{1, 42}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if len(s.Pending()) != 2 {
		t.Fatalf("failed mark must not flip any record")
	}

	if err := s.MarkProcessed([]int64{1}); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	if err := s.MarkProcessed([]int64{2, 1}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for already processed id, got %v", err)
	}
	rec, _ := s.Get(2)
	if rec.Processed {
		t.Fatalf("record 2 must stay pending")
	}
	if err := s.MarkProcessed([]int64{2, 2}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for duplicate id, got %v", err)
	}
}

func TestConsumeFlipsOnlyOnCommitSuccess(t *testing.T) {
	s := openStore(t, "")
	_, _ = s.Submit(context.Background(), 1, "a", 1)
	_, _ = s.Submit(context.Background(), 2, "b", 2)

	boom := errors.New("append failed")
	if err := s.Consume([]int64{1, 2}, func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected commit error, got %v", err)
	}
	if len(s.Pending()) != 2 {
		t.Fatalf("records must stay pending after failed commit")
	}

	committed := false
	if err := s.Consume([]int64{1, 2}, func() error { committed = true; return nil }); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !committed || len(s.Pending()) != 0 {
		t.Fatalf("expected commit and all records processed")
	}
	rec, _ := s.Get(1)
	if rec.ProcessedAt.IsZero() {
		t.Fatalf("expected processed timestamp")
	}
}

func TestStats(t *testing.T) {
	s := openStore(t, "")
	if st := s.Stats(); st != (Stats{}) {
		t.Fatalf("expected zero stats, got %+v", st)
	}
	_, _ = s.Submit(context.Background(), 1, "", 2)
	_, _ = s.Submit(context.Background(), 1, "", 4)
	_, _ = s.Submit(context.Background(), 1, "", 3)
	_ = s.MarkProcessed([]int64{1})

	want := Stats{Total: 3, Processed: 1, Pending: 2, AverageRating: 3}
	if st := s.Stats(); st != want {
		t.Fatalf("expected %+v, got %+v", want, st)
	}
}

func TestStoreRehydratesEventLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedback.jsonl")
	s := openStore(t, path)
	_, _ = s.Submit(context.Background(), 1, "curto demais", 2)
	_, _ = s.Submit(context.Background(), 2, "ok", 4)
	_, _ = s.Submit(context.Background(), 3, "errado", 1)
	if err := s.MarkProcessed([]int64{1, 3}); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = f.WriteString("garbage\n")
	_ = f.Close()

	reopened := openStore(t, path)
	pending := reopened.Pending()
	if len(pending) != 1 || pending[0].ID != 2 || pending[0].Comment != "ok" {
		t.Fatalf("unexpected pending after reload: %+v", pending)
	}
	if st := reopened.Stats(); st.Total != 3 || st.Processed != 2 {
		t.Fatalf("unexpected stats after reload: %+v", st)
	}

	next, err := reopened.Submit(context.Background(), 1, "", 5)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if next.ID != 4 {
		t.Fatalf("expected id 4 after reload, got %d", next.ID)
	}
}

func TestOpenRequiresTurnLookup(t *testing.T) {
	if _, err := Open("", nil); err == nil {
		t.Fatalf("expected error")
	}
}
