package capability

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
)

type stubCapability struct {
	name   string
	schema map[string]any
}

func (s stubCapability) Name() string           { return s.name }
func (s stubCapability) Description() string    { return "stub " + s.name }
func (s stubCapability) Schema() map[string]any { return s.schema }
func (s stubCapability) Invoke(context.Context, map[string]any) (string, error) {
	return "ok:" + s.name, nil
}

func TestRegistryRegisterRejectsInvalid(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(nil); err == nil {
		t.Fatalf("expected nil capability error")
	}
	if err := r.Register(stubCapability{}); err == nil {
		t.Fatalf("expected empty name error")
	}
	if err := r.Register(stubCapability{name: "consulta_cep"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(stubCapability{name: "consulta_cep"}); err == nil {
		t.Fatalf("expected duplicate name error")
	}
}

func TestRegistryLookupAndInvoke(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(stubCapability{name: "consulta_pokemon"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	d, ok := r.Lookup("consulta_pokemon")
	if !ok {
		t.Fatalf("expected capability to be found")
	}
	out, err := d.Invoke(context.Background(), nil)
	if err != nil || out != "ok:consulta_pokemon" {
		t.Fatalf("unexpected invoke result %q, %v", out, err)
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Fatalf("expected missing lookup to fail")
	}
}

func TestRegistryDefinitionsSortedAndIsolated(t *testing.T) {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"cep": map[string]any{"type": "string"}},
	}
	r := NewRegistry()
	for _, name := range []string{"consulta_serie", "consulta_cep", "consulta_livro"} {
		if err := r.Register(stubCapability{name: name, schema: schema}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	if diff := cmp.Diff([]string{"consulta_cep", "consulta_livro", "consulta_serie"}, r.Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}

	defs := r.Definitions()
	if len(defs) != 3 || defs[0].Name != "consulta_cep" || defs[0].Description != "stub consulta_cep" {
		t.Fatalf("unexpected definitions: %+v", defs)
	}

	// Mutating a returned definition must not change the registered descriptor.
	defs[0].Parameters["type"] = "mutated"
	schema["type"] = "mutated"
	d, _ := r.Lookup("consulta_cep")
	if d.Schema["type"] != "object" {
		t.Fatalf("descriptor schema was mutated: %#v", d.Schema)
	}
}

func TestTruncate(t *testing.T) {
	out, truncated := Truncate("short", 10)
	if truncated || out != "short" {
		t.Fatalf("unexpected result %q %v", out, truncated)
	}

	long := strings.Repeat("ação", 10)
	out, truncated = Truncate(long, 7)
	if !truncated {
		t.Fatalf("expected truncation")
	}
	head := out[:strings.Index(out, "\n")]
	if !utf8.ValidString(head) || len(head) > 7 {
		t.Fatalf("expected valid prefix within limit, got %q", head)
	}
	if !strings.Contains(out, "[truncated") {
		t.Fatalf("expected truncation marker, got %q", out)
	}
}
