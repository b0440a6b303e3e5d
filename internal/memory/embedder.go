package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"strings"
	"unicode"

	"github.com/neoclaw-ai/promptsmith/internal/config"
	"golang.org/x/text/unicode/norm"
	"google.golang.org/genai"
)

// NewEmbedder builds the embedder selected in cfg.
func NewEmbedder(cfg config.MemoryConfig) (Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Embedder)) {
	case "", config.EmbedderHash:
		return NewHashEmbedder(cfg.Dimensions), nil
	case config.EmbedderGemini:
		return NewGeminiEmbedder(cfg.APIKey, cfg.EmbeddingModel, cfg.Dimensions, nil)
	default:
		return nil, fmt.Errorf("unsupported embedder %q", cfg.Embedder)
	}
}

// HashEmbedder embeds text locally by hashing words and character trigrams
// into a fixed-size vector. It needs no network and is deterministic.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder returns a HashEmbedder. Non-positive dims default to 256.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

// Name identifies the embedder.
func (e *HashEmbedder) Name() string {
	return fmt.Sprintf("hash:%d", e.dims)
}

// Embed returns one L2-normalized vector per text.
func (e *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *HashEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dims)
	for _, word := range tokenize(text) {
		e.add(vec, "w:"+word, 1)
		padded := []rune("#" + word + "#")
		for i := 0; i+3 <= len(padded); i++ {
			e.add(vec, "t:"+string(padded[i:i+3]), 0.5)
		}
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	n := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}

func (e *HashEmbedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[sum%uint64(e.dims)] += weight
}

// tokenize lowercases text, strips accents and splits it into words.
func tokenize(text string) []string {
	var b strings.Builder
	for _, r := range norm.NFD.String(strings.ToLower(text)) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.FieldsFunc(b.String(), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// GeminiEmbedder embeds text with the Gemini embeddings API.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
	dims   int
}

// NewGeminiEmbedder returns a GeminiEmbedder. httpClient may be nil.
func NewGeminiEmbedder(apiKey, model string, dims int, httpClient *http.Client) (*GeminiEmbedder, error) {
	return newGeminiEmbedder(model, dims, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	})
}

func newGeminiEmbedder(model string, dims int, clientCfg *genai.ClientConfig) (*GeminiEmbedder, error) {
	if strings.TrimSpace(clientCfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini embedding api key is required")
	}
	if strings.TrimSpace(model) == "" {
		model = "gemini-embedding-001"
	}
	client, err := genai.NewClient(context.Background(), clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiEmbedder{client: client, model: model, dims: dims}, nil
}

// Name identifies the embedder.
func (e *GeminiEmbedder) Name() string {
	return "gemini:" + e.model
}

// Embed sends all texts in one batch request.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}
	cfg := &genai.EmbedContentConfig{TaskType: "SEMANTIC_SIMILARITY"}
	if e.dims > 0 {
		dims := int32(e.dims)
		cfg.OutputDimensionality = &dims
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("gemini embed: embedding %d is empty", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}
