package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/neoclaw-ai/promptsmith/internal/logging"
	_ "modernc.org/sqlite"
)

// migrations are applied in order; the index is the schema version minus one.
var migrations = []string{
	`CREATE TABLE entries (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		embedding BLOB NOT NULL,
		embedder TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX idx_entries_kind ON entries(kind);
	CREATE INDEX idx_entries_embedder ON entries(embedder);`,
}

// Store is a SQLite-backed vector store with brute-force cosine search.
type Store struct {
	db       *sql.DB
	embedder Embedder
}

// Open opens (or creates) the memory database at path.
func Open(path string, embedder Embedder) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("memory database path is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory database: %w", err)
	}
	// One connection avoids "database is locked" between writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode=WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure memory database: %w", err)
		}
	}

	s := &Store{db: db, embedder: embedder}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate memory database: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", version, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)", version, time.Now().UTC().Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", version, err)
		}
	}
	return nil
}

// Insert embeds and stores content. Identical content of the same kind is
// stored once.
func (s *Store) Insert(ctx context.Context, kind Kind, content string, metadata map[string]any) (Entry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Entry{}, errors.New("memory content is required")
	}
	vectors, err := s.embedder.Embed(ctx, []string{content})
	if err != nil {
		return Entry{}, err
	}
	if len(vectors) != 1 {
		return Entry{}, fmt.Errorf("embedder returned %d vectors for 1 text", len(vectors))
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return Entry{}, fmt.Errorf("encode memory metadata: %w", err)
	}
	if metadata == nil {
		meta = []byte("{}")
	}

	entry := Entry{
		ID:        entryID(kind, content),
		Kind:      kind,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO entries (id, kind, content, metadata, embedding, embedder, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(kind), content, string(meta), encodeFloat32s(vectors[0]), s.embedder.Name(), entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("insert memory entry: %w", err)
	}
	return entry, nil
}

// Query returns up to k entries most similar to text, best first. Entries
// embedded by a different embedder are not comparable and are skipped.
func (s *Store) Query(ctx context.Context, text string, k int) ([]Match, error) {
	if k <= 0 || strings.TrimSpace(text) == "" {
		return nil, nil
	}
	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 text", len(vectors))
	}
	query := vectors[0]

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, content, metadata, embedding, created_at FROM entries WHERE embedder = ?`,
		s.embedder.Name(),
	)
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}
	defer rows.Close()

	var matches []Match
	var buf []float32
	for rows.Next() {
		var (
			m         Match
			kind      string
			meta      string
			blob      []byte
			createdAt string
		)
		if err := rows.Scan(&m.ID, &kind, &m.Content, &meta, &blob, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			logging.Logger().Warn("skipping corrupt memory embedding", "id", m.ID, "err", err)
			continue
		}
		if len(buf) != len(query) {
			continue
		}
		m.Kind = Kind(kind)
		m.Similarity = cosine(query, buf)
		if meta != "" && meta != "{}" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &m.Metadata); err != nil {
				logging.Logger().Warn("ignoring malformed memory metadata", "id", m.ID, "err", err)
			}
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory entries: %w", err)
	}

	slices.SortStableFunc(matches, func(a, b Match) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		default:
			return 0
		}
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Count returns the number of entries of kind. An empty kind counts all.
func (s *Store) Count(ctx context.Context, kind Kind) (int, error) {
	var n int
	var err error
	if kind == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries WHERE kind = ?", string(kind)).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count memory entries: %w", err)
	}
	return n, nil
}

// SeedKnowledge inserts items when the knowledge base is empty for the
// current embedder. It returns how many items were inserted.
func (s *Store) SeedKnowledge(ctx context.Context, items []KnowledgeItem) (int, error) {
	var existing int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE kind = ? AND embedder = ?",
		string(KindKnowledge), s.embedder.Name(),
	).Scan(&existing); err != nil {
		return 0, fmt.Errorf("count knowledge: %w", err)
	}
	if existing > 0 {
		return 0, nil
	}
	for i, item := range items {
		if _, err := s.Insert(ctx, KindKnowledge, item.Content, map[string]any{
			"category": item.Category,
			"type":     item.Topic,
		}); err != nil {
			return i, fmt.Errorf("seed knowledge item %d: %w", i, err)
		}
	}
	logging.Logger().Info("knowledge base seeded", "items", len(items), "embedder", s.embedder.Name())
	return len(items), nil
}

// ClearConversations deletes remembered conversations and returns how many
// were removed.
func (s *Store) ClearConversations(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE kind = ?", string(KindConversation))
	if err != nil {
		return 0, fmt.Errorf("clear conversations: %w", err)
	}
	return res.RowsAffected()
}

// ConversationContent formats an exchange for storage.
func ConversationContent(userMessage, answer string) string {
	return "User: " + strings.TrimSpace(userMessage) + "\nAgent: " + strings.TrimSpace(answer)
}

func entryID(kind Kind, content string) string {
	sum := sha256.Sum256([]byte(string(kind) + "\x00" + content))
	return hex.EncodeToString(sum[:16])
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes into buf, reusing it across rows.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}
