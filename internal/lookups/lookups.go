// Package lookups implements the public-data capabilities the agent can call:
// postal codes, Pokémon, IBGE localities, weather, TV shows, books and lyrics.
package lookups

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/neoclaw-ai/promptsmith/internal/capability"
	"github.com/neoclaw-ai/promptsmith/internal/config"
)

const (
	defaultUserAgent = "promptsmith"
	maxResponseBytes = 8 << 20
)

// errNotFound marks an upstream 404.
var errNotFound = errors.New("not found")

// fetcher performs GET requests against a lookup API.
type fetcher struct {
	client    *http.Client
	userAgent string
}

func newFetcher(client *http.Client, userAgent string) fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if strings.TrimSpace(userAgent) == "" {
		userAgent = defaultUserAgent
	}
	return fetcher{client: client, userAgent: userAgent}
}

// getJSON issues a GET and decodes a JSON body into out. A 404 returns errNotFound.
func (f fetcher) getJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// New builds the lookups named in cfg.Enabled. Unknown names are rejected.
func New(cfg config.LookupsConfig, client *http.Client) ([]capability.Capability, error) {
	f := newFetcher(client, cfg.UserAgent)
	all := map[string]capability.Capability{
		"consulta_cep":          CEP{fetcher: f},
		"consulta_pokemon":      Pokemon{fetcher: f},
		"consulta_ibge":         IBGE{fetcher: f},
		"consulta_clima":        Weather{fetcher: f},
		"consulta_serie":        TVShow{fetcher: f},
		"consulta_livro":        Book{fetcher: f},
		"consulta_letra_musica": Lyrics{fetcher: f},
	}

	out := make([]capability.Capability, 0, len(cfg.Enabled))
	seen := make(map[string]bool, len(cfg.Enabled))
	for _, name := range cfg.Enabled {
		name = strings.TrimSpace(name)
		if seen[name] {
			continue
		}
		c, ok := all[name]
		if !ok {
			return nil, fmt.Errorf("unknown lookup %q", name)
		}
		seen[name] = true
		out = append(out, c)
	}
	return out, nil
}

// Hosts returns the upstream hosts the given lookups contact.
func Hosts(names []string) []string {
	hosts := map[string][]string{
		"consulta_cep":          {"viacep.com.br"},
		"consulta_pokemon":      {"pokeapi.co"},
		"consulta_ibge":         {"servicodados.ibge.gov.br"},
		"consulta_clima":        {"geocoding-api.open-meteo.com", "api.open-meteo.com"},
		"consulta_serie":        {"api.tvmaze.com"},
		"consulta_livro":        {"openlibrary.org"},
		"consulta_letra_musica": {"api.lyrics.ovh"},
	}
	var out []string
	for _, name := range names {
		out = append(out, hosts[strings.TrimSpace(name)]...)
	}
	return out
}

func stringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	switch v := raw.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return "", fmt.Errorf("argument %q must not be empty", key)
		}
		return strings.TrimSpace(v), nil
	case float64:
		// Models sometimes send numeric ids and postal codes as numbers.
		return fmt.Sprintf("%.0f", v), nil
	default:
		return "", fmt.Errorf("argument %q must be a string", key)
	}
}

func stringSchema(required []string, props map[string]string) map[string]any {
	properties := make(map[string]any, len(props))
	for name, desc := range props {
		properties[name] = map[string]any{
			"type":        "string",
			"description": desc,
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}
