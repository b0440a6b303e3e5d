package memory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/neoclaw-ai/promptsmith/internal/config"
	"google.golang.org/genai"
)

func openTestStore(t *testing.T, embedder Embedder) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "memory.db"), embedder)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTokenizeStripsAccents(t *testing.T) {
	got := tokenize("Previsão do TEMPO em São Paulo, 2025!")
	want := []string{"previsao", "do", "tempo", "em", "sao", "paulo", "2025"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("tokens mismatch (-want +got):\n%s", diff)
	}
}

func TestHashEmbedderIsDeterministicAndNormalized(t *testing.T) {
	e := NewHashEmbedder(64)
	vecs, err := e.Embed(context.Background(), []string{"clima em Recife", "clima em Recife", ""})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if diff := cmp.Diff(vecs[0], vecs[1]); diff != "" {
		t.Fatalf("expected identical vectors:\n%s", diff)
	}
	if got := cosine(vecs[0], vecs[0]); got < 0.999 {
		t.Fatalf("expected unit self-similarity, got %f", got)
	}
	if len(vecs[2]) != 64 || cosine(vecs[0], vecs[2]) != 0 {
		t.Fatalf("expected zero vector for empty text")
	}
}

func TestHashEmbedderRanksRelatedTextHigher(t *testing.T) {
	e := NewHashEmbedder(256)
	vecs, _ := e.Embed(context.Background(), []string{
		"previsão do tempo para Recife",
		"qual a previsao do tempo em Recife amanhã",
		"letra da música Garota de Ipanema",
	})
	related := cosine(vecs[0], vecs[1])
	unrelated := cosine(vecs[0], vecs[2])
	if related <= unrelated {
		t.Fatalf("expected related similarity %f > unrelated %f", related, unrelated)
	}
}

func TestStoreInsertAndQuery(t *testing.T) {
	s := openTestStore(t, NewHashEmbedder(256))
	ctx := context.Background()

	for _, content := range []string{
		ConversationContent("clima em Recife?", "Em Recife faz 29°C."),
		ConversationContent("cep 01001000", "Praça da Sé, São Paulo."),
		ConversationContent("quem é Pikachu?", "Pikachu é do tipo elétrico."),
	} {
		if _, err := s.Insert(ctx, KindConversation, content, map[string]any{"turn_id": 1}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	matches, err := s.Query(ctx, "como está o clima em Recife", 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if !strings.Contains(matches[0].Content, "Recife") {
		t.Fatalf("expected Recife exchange first, got %q", matches[0].Content)
	}
	if matches[0].Similarity < matches[1].Similarity {
		t.Fatalf("matches not sorted: %f < %f", matches[0].Similarity, matches[1].Similarity)
	}
	if matches[0].Metadata["turn_id"] != float64(1) {
		t.Fatalf("expected metadata round trip, got %v", matches[0].Metadata)
	}
}

func TestStoreInsertDeduplicatesContent(t *testing.T) {
	s := openTestStore(t, NewHashEmbedder(32))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := s.Insert(ctx, KindKnowledge, "mesmo conteúdo", nil); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if n, _ := s.Count(ctx, KindKnowledge); n != 1 {
		t.Fatalf("expected 1 entry, got %d", n)
	}
	if _, err := s.Insert(ctx, KindKnowledge, "   ", nil); err == nil {
		t.Fatalf("expected empty content error")
	}
}

func TestSeedKnowledgeOnce(t *testing.T) {
	s := openTestStore(t, NewHashEmbedder(128))
	ctx := context.Background()

	n, err := s.SeedKnowledge(ctx, DefaultKnowledge)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n != 9 {
		t.Fatalf("expected 9 seeded items, got %d", n)
	}
	if n, err := s.SeedKnowledge(ctx, DefaultKnowledge); err != nil || n != 0 {
		t.Fatalf("expected second seed to be a no-op, got n=%d err=%v", n, err)
	}

	matches, err := s.Query(ctx, "letras de músicas", 1)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 1 || matches[0].Metadata["type"] != "letras" {
		t.Fatalf("expected lyrics knowledge, got %+v", matches)
	}
}

func TestQuerySkipsOtherEmbedders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	s, err := Open(path, NewHashEmbedder(32))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.Insert(context.Background(), KindKnowledge, "clima", nil); err != nil {
		t.Fatalf("insert: %v", err)
	}
	s.Close()

	reopened, err := Open(path, NewHashEmbedder(64))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	matches, err := reopened.Query(context.Background(), "clima", 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no comparable entries, got %d", len(matches))
	}
	if n, _ := reopened.Count(context.Background(), ""); n != 1 {
		t.Fatalf("expected entry kept on disk, got %d", n)
	}
}

func TestClearConversations(t *testing.T) {
	s := openTestStore(t, NewHashEmbedder(32))
	ctx := context.Background()
	s.Insert(ctx, KindKnowledge, "conhecimento", nil)
	s.Insert(ctx, KindConversation, ConversationContent("oi", "olá"), nil)

	removed, err := s.ClearConversations(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("expected 1 removed, got %d err=%v", removed, err)
	}
	if n, _ := s.Count(ctx, ""); n != 1 {
		t.Fatalf("expected knowledge kept, got %d entries", n)
	}
}

func TestNewEmbedder(t *testing.T) {
	e, err := NewEmbedder(config.MemoryConfig{Embedder: "hash", Dimensions: 16})
	if err != nil || e.Name() != "hash:16" {
		t.Fatalf("expected hash embedder, got %v err=%v", e, err)
	}
	if _, err := NewEmbedder(config.MemoryConfig{Embedder: "gemini"}); err == nil {
		t.Fatalf("expected missing api key error")
	}
	if _, err := NewEmbedder(config.MemoryConfig{Embedder: "word2vec"}); err == nil {
		t.Fatalf("expected unsupported embedder error")
	}
}

func TestGeminiEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-embedding-001") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings":[{"values":[0.1,0.2,0.3]},{"values":[0.3,0.2,0.1]}]}`))
	}))
	defer srv.Close()

	e, err := newGeminiEmbedder("gemini-embedding-001", 3, &genai.ClientConfig{
		APIKey:      "test-key",
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  srv.Client(),
		HTTPOptions: genai.HTTPOptions{BaseURL: srv.URL},
	})
	if err != nil {
		t.Fatalf("new embedder: %v", err)
	}
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	want := [][]float32{{0.1, 0.2, 0.3}, {0.3, 0.2, 0.1}}
	if diff := cmp.Diff(want, vecs); diff != "" {
		t.Fatalf("vectors mismatch (-want +got):\n%s", diff)
	}
}
