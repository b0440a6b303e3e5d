// Package prompts keeps the append-only history of system prompt versions.
package prompts

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/neoclaw-ai/promptsmith/internal/apperr"
	"github.com/neoclaw-ai/promptsmith/internal/store"
)

// Version is one immutable prompt revision.
type Version struct {
	Version       int       `json:"version"`
	Text          string    `json:"prompt"`
	CreatedAt     time.Time `json:"timestamp"`
	FeedbackCount int       `json:"feedback_count"`
	Improvements  []string  `json:"improvements"`
}

// Stats summarizes the prompt history.
type Stats struct {
	TotalVersions  int       `json:"total_versions"`
	CurrentVersion int       `json:"current_version"`
	TotalFeedbacks int       `json:"total_feedbacks"`
	CreatedAt      time.Time `json:"created_at,omitzero"`
	LastUpdate     time.Time `json:"last_update,omitzero"`
}

// Store is the prompt version history. It is safe for concurrent use.
type Store struct {
	path string
	seed string

	mu       sync.RWMutex
	versions []Version
}

// Open loads the history at path. An empty path keeps the history in memory.
// A file whose versions are not exactly 1..n in order is rejected.
func Open(path, seed string) (*Store, error) {
	if strings.TrimSpace(seed) == "" {
		seed = DefaultPrompt
	}
	s := &Store{path: path, seed: seed}
	if path == "" {
		return s, nil
	}

	err := store.ScanJSONL(path, func(lineNo int, line []byte) error {
		var v Version
		if err := json.Unmarshal(line, &v); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if want := len(s.versions) + 1; v.Version != want {
			return fmt.Errorf("line %d: expected version %d, found %d", lineNo, want, v.Version)
		}
		s.versions = append(s.versions, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("prompt history %s is corrupt: %w", path, err)
	}
	return s, nil
}

// EnsureSeed writes the seed prompt as version 1 when the history is empty.
func (s *Store) EnsureSeed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seedLocked()
}

func (s *Store) seedLocked() error {
	if len(s.versions) > 0 {
		return nil
	}
	return s.appendLocked(s.seed, 0, []string{SeedImprovement})
}

// Current returns the newest version. Before seeding it reports the seed text
// as version 0.
func (s *Store) Current() Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.versions) == 0 {
		return Version{Version: 0, Text: s.seed}
	}
	return cloneVersion(s.versions[len(s.versions)-1])
}

// Append trims text and stores it as the next version, returning its number.
// An unseeded store is seeded first.
func (s *Store) Append(text string, feedbackCount int, improvements []string) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, apperr.Validation("append prompt", "prompt text must not be empty")
	}
	if feedbackCount < 0 {
		return 0, apperr.Validation("append prompt", "feedback count must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.seedLocked(); err != nil {
		return 0, err
	}
	if err := s.appendLocked(text, feedbackCount, improvements); err != nil {
		return 0, err
	}
	return len(s.versions), nil
}

func (s *Store) appendLocked(text string, feedbackCount int, improvements []string) error {
	v := Version{
		Version:       len(s.versions) + 1,
		Text:          text,
		CreatedAt:     time.Now().UTC(),
		FeedbackCount: feedbackCount,
		Improvements:  append([]string{}, improvements...),
	}
	if s.path != "" {
		if err := store.AppendJSONL(s.path, v); err != nil {
			return fmt.Errorf("persist prompt version %d: %w", v.Version, err)
		}
	}
	s.versions = append(s.versions, v)
	return nil
}

// Get returns a specific version.
func (s *Store) Get(version int) (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if version < 1 || version > len(s.versions) {
		return Version{}, apperr.NotFound("get prompt", "version "+strconv.Itoa(version))
	}
	return cloneVersion(s.versions[version-1]), nil
}

// History returns every version, oldest first.
func (s *Store) History() []Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Version, 0, len(s.versions))
	for _, v := range s.versions {
		out = append(out, cloneVersion(v))
	}
	return out
}

// Stats reports version and feedback totals.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{TotalVersions: len(s.versions), CurrentVersion: len(s.versions)}
	for _, v := range s.versions {
		st.TotalFeedbacks += v.FeedbackCount
	}
	if len(s.versions) > 0 {
		st.CreatedAt = s.versions[0].CreatedAt
		st.LastUpdate = s.versions[len(s.versions)-1].CreatedAt
	}
	return st
}

func cloneVersion(v Version) Version {
	v.Improvements = append([]string(nil), v.Improvements...)
	return v
}
