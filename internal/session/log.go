// Package session records turns and persists per-conversation transcripts.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/neoclaw-ai/promptsmith/internal/apperr"
	"github.com/neoclaw-ai/promptsmith/internal/logging"
	"github.com/neoclaw-ai/promptsmith/internal/provider"
	"github.com/neoclaw-ai/promptsmith/internal/store"
)

// Status is the terminal state of a turn.
type Status string

const (
	// StatusCompleted is a turn that ended with a model answer.
	StatusCompleted Status = "completed"
	// StatusIncomplete is a turn that hit the iteration cap.
	StatusIncomplete Status = "incomplete"
	// StatusError is a turn whose generation backend failed.
	StatusError Status = "error"
	// StatusCancelled is a turn cancelled by the caller.
	StatusCancelled Status = "cancelled"
)

// Invocation is one capability call made during a turn.
type Invocation struct {
	Capability string `json:"capability"`
	CallID     string `json:"call_id,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`
	Truncated  bool   `json:"truncated,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Failed reports whether the invocation produced an error result.
func (i Invocation) Failed() bool {
	return i.Error != ""
}

// Turn is the record of one HandleTurn call.
type Turn struct {
	ID            int64               `json:"id"`
	SessionID     string              `json:"session_id,omitempty"`
	UserMessage   string              `json:"user_message"`
	Answer        string              `json:"answer"`
	Status        Status              `json:"status"`
	Error         string              `json:"error,omitempty"`
	PromptVersion int                 `json:"prompt_version"`
	Iterations    int                 `json:"iterations"`
	Invocations   []Invocation        `json:"invocations,omitempty"`
	Usage         provider.TokenUsage `json:"usage"`
	CreatedAt     time.Time           `json:"created_at"`
}

// Log is the append-only turn log. It is safe for concurrent use.
type Log struct {
	path string

	mu     sync.RWMutex
	turns  []Turn
	index  map[int64]int
	lastID int64
}

// Open loads the turn log at path. An empty path keeps the log in memory only.
// Malformed lines are skipped and logged.
func Open(path string) (*Log, error) {
	l := &Log{path: path, index: make(map[int64]int)}
	if path == "" {
		return l, nil
	}
	err := store.ScanJSONL(path, func(lineNo int, line []byte) error {
		var t Turn
		if err := json.Unmarshal(line, &t); err != nil || t.ID <= 0 {
			logging.Logger().Warn("skipping malformed turn record", "path", path, "line", lineNo, "err", err)
			return nil
		}
		if _, dup := l.index[t.ID]; dup {
			logging.Logger().Warn("skipping duplicate turn record", "path", path, "line", lineNo, "turn_id", t.ID)
			return nil
		}
		l.index[t.ID] = len(l.turns)
		l.turns = append(l.turns, t)
		l.lastID = max(l.lastID, t.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load turn log: %w", err)
	}
	return l, nil
}

// Append assigns the next id to t, persists it, and returns the stored turn.
func (l *Log) Append(ctx context.Context, t Turn) (Turn, error) {
	if err := ctx.Err(); err != nil {
		return Turn{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	t.ID = l.lastID + 1
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.Invocations = append([]Invocation(nil), t.Invocations...)
	if l.path != "" {
		if err := store.AppendJSONL(l.path, t); err != nil {
			return Turn{}, fmt.Errorf("persist turn: %w", err)
		}
	}
	l.lastID = t.ID
	l.index[t.ID] = len(l.turns)
	l.turns = append(l.turns, t)
	return t, nil
}

// Get returns the turn with id.
func (l *Log) Get(id int64) (Turn, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.index[id]
	if !ok {
		return Turn{}, apperr.NotFound("get turn", "turn "+strconv.FormatInt(id, 10))
	}
	return l.turns[i], nil
}

// Exists reports whether a turn with id has been recorded.
func (l *Log) Exists(id int64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.index[id]
	return ok
}

// List returns all turns, oldest first.
func (l *Log) List() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Turn(nil), l.turns...)
}

// Recent returns up to n of the newest turns, oldest first.
func (l *Log) Recent(n int) []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	start := max(0, len(l.turns)-n)
	return append([]Turn(nil), l.turns[start:]...)
}

// Len returns the number of recorded turns.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}
