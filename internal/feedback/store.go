// Package feedback stores user ratings of turns and decides when enough
// negative or accumulated feedback warrants a prompt revision.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/neoclaw-ai/promptsmith/internal/apperr"
	"github.com/neoclaw-ai/promptsmith/internal/logging"
	"github.com/neoclaw-ai/promptsmith/internal/store"
)

const (
	// MinRating is the lowest accepted rating.
	MinRating = 1
	// MaxRating is the highest accepted rating.
	MaxRating = 5
)

const (
	kindFeedback  = "feedback"
	kindProcessed = "processed"
)

// Record is one piece of user feedback about a turn.
type Record struct {
	ID          int64     `json:"id"`
	TurnID      int64     `json:"turn_id"`
	Comment     string    `json:"comment"`
	Rating      int       `json:"rating"`
	Processed   bool      `json:"processed"`
	CreatedAt   time.Time `json:"created_at"`
	ProcessedAt time.Time `json:"processed_at,omitzero"`
}

// Stats summarizes all feedback ever submitted.
type Stats struct {
	Total         int     `json:"total"`
	Processed     int     `json:"processed"`
	Pending       int     `json:"pending"`
	AverageRating float64 `json:"average_rating"`
}

// TurnLookup reports whether a turn exists.
type TurnLookup interface {
	Exists(turnID int64) bool
}

// event is one line of the feedback log.
type event struct {
	Kind   string    `json:"kind"`
	Record *Record   `json:"record,omitempty"`
	IDs    []int64   `json:"ids,omitempty"`
	At     time.Time `json:"at,omitzero"`
}

// Store holds feedback records. It is safe for concurrent use.
type Store struct {
	path  string
	turns TurnLookup

	mu      sync.Mutex
	records []Record
	index   map[int64]int
	lastID  int64
}

// Open loads the feedback event log at path. An empty path keeps records in
// memory only.
func Open(path string, turns TurnLookup) (*Store, error) {
	if turns == nil {
		return nil, fmt.Errorf("turn lookup is required")
	}
	s := &Store{path: path, turns: turns, index: make(map[int64]int)}
	if path == "" {
		return s, nil
	}

	err := store.ScanJSONL(path, func(lineNo int, line []byte) error {
		var ev event
		if err := json.Unmarshal(line, &ev); err != nil {
			logging.Logger().Warn("skipping malformed feedback event", "path", path, "line", lineNo, "err", err)
			return nil
		}
		switch ev.Kind {
		case kindFeedback:
			if ev.Record == nil || ev.Record.ID <= 0 {
				logging.Logger().Warn("skipping feedback event without record", "path", path, "line", lineNo)
				return nil
			}
			if _, dup := s.index[ev.Record.ID]; dup {
				return fmt.Errorf("line %d: duplicate feedback id %d", lineNo, ev.Record.ID)
			}
			rec := *ev.Record
			rec.Processed = false
			s.index[rec.ID] = len(s.records)
			s.records = append(s.records, rec)
			s.lastID = max(s.lastID, rec.ID)
		case kindProcessed:
			for _, id := range ev.IDs {
				i, ok := s.index[id]
				if !ok {
					logging.Logger().Warn("processed marker for unknown feedback", "path", path, "line", lineNo, "feedback_id", id)
					continue
				}
				s.records[i].Processed = true
				s.records[i].ProcessedAt = ev.At
			}
		default:
			logging.Logger().Warn("skipping unknown feedback event", "path", path, "line", lineNo, "kind", ev.Kind)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load feedback log: %w", err)
	}
	return s, nil
}

// Submit validates and records feedback for a turn.
func (s *Store) Submit(ctx context.Context, turnID int64, comment string, rating int) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if rating < MinRating || rating > MaxRating {
		return Record{}, apperr.Validation("submit feedback", fmt.Sprintf("rating must be between %d and %d, got %d", MinRating, MaxRating, rating))
	}
	if !s.turns.Exists(turnID) {
		return Record{}, apperr.NotFound("submit feedback", "turn "+strconv.FormatInt(turnID, 10))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{
		ID:        s.lastID + 1,
		TurnID:    turnID,
		Comment:   strings.TrimSpace(comment),
		Rating:    rating,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.persist(event{Kind: kindFeedback, Record: &rec}); err != nil {
		return Record{}, err
	}
	s.lastID = rec.ID
	s.index[rec.ID] = len(s.records)
	s.records = append(s.records, rec)
	return rec, nil
}

// Get returns the record with id.
func (s *Store) Get(id int64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return Record{}, apperr.NotFound("get feedback", "feedback "+strconv.FormatInt(id, 10))
	}
	return s.records[i], nil
}

// All returns every record, oldest first.
func (s *Store) All() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

// Pending returns unprocessed records, oldest first.
func (s *Store) Pending() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingLocked()
}

func (s *Store) pendingLocked() []Record {
	out := make([]Record, 0)
	for _, r := range s.records {
		if !r.Processed {
			out = append(out, r)
		}
	}
	return out
}

// AverageRating returns the mean rating of pending records. A positive window
// restricts it to the newest window pending records. ok is false when there is
// nothing pending.
func (s *Store) AverageRating(window int) (avg float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.pendingLocked()
	if window > 0 && len(pending) > window {
		pending = pending[len(pending)-window:]
	}
	return mean(pending)
}

// Snapshot returns the pending records and their mean rating under one lock.
func (s *Store) Snapshot(window int) (pending []Record, avg float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending = s.pendingLocked()
	sample := pending
	if window > 0 && len(sample) > window {
		sample = sample[len(sample)-window:]
	}
	avg, ok = mean(sample)
	return pending, avg, ok
}

// Stats reports totals across all records.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Total: len(s.records)}
	for _, r := range s.records {
		if r.Processed {
			st.Processed++
		}
	}
	st.Pending = st.Total - st.Processed
	st.AverageRating, _ = mean(s.records)
	return st
}

// MarkProcessed flags ids as processed. Every id must be known and pending;
// otherwise nothing changes.
func (s *Store) MarkProcessed(ids []int64) error {
	return s.Consume(ids, nil)
}

// Consume checks that every id is pending, runs commit, and flags the ids as
// processed only if commit succeeds. The store lock is held throughout, so no
// other consumer can fold the same records.
func (s *Store) Consume(ids []int64, commit func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(ids) == 0 {
		return apperr.Validation("consume feedback", "no feedback ids given")
	}
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		i, ok := s.index[id]
		if !ok {
			return apperr.NotFound("consume feedback", "feedback "+strconv.FormatInt(id, 10))
		}
		if s.records[i].Processed {
			return apperr.Validation("consume feedback", fmt.Sprintf("feedback %d already processed", id))
		}
		if seen[id] {
			return apperr.Validation("consume feedback", fmt.Sprintf("feedback %d listed twice", id))
		}
		seen[id] = true
	}

	if commit != nil {
		if err := commit(); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	if err := s.persist(event{Kind: kindProcessed, IDs: ids, At: now}); err != nil {
		// The commit already happened; records stay pending on disk and will be
		// folded again after a restart.
		logging.Logger().Error("persist processed marker failed", "feedback_ids", ids, "err", err)
	}
	for _, id := range ids {
		i := s.index[id]
		s.records[i].Processed = true
		s.records[i].ProcessedAt = now
	}
	return nil
}

func (s *Store) persist(ev event) error {
	if s.path == "" {
		return nil
	}
	if err := store.AppendJSONL(s.path, ev); err != nil {
		return fmt.Errorf("persist feedback event: %w", err)
	}
	return nil
}

func mean(records []Record) (float64, bool) {
	if len(records) == 0 {
		return 0, false
	}
	sum := 0
	for _, r := range records {
		sum += r.Rating
	}
	return float64(sum) / float64(len(records)), true
}
