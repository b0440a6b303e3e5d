// Package capability holds the static registry of lookup capabilities the
// turn engine may invoke on the model's behalf.
package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/neoclaw-ai/promptsmith/internal/provider"
)

const defaultOutputLength = 4000

// Capability is an external lookup exposed to the model.
type Capability interface {
	Name() string
	Description() string
	Schema() map[string]any
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

// Descriptor is the registered, immutable view of a capability.
type Descriptor struct {
	Name        string
	Description string
	Schema      map[string]any
	Invoke      func(ctx context.Context, args map[string]any) (string, error)
}

// Registry stores capabilities by unique name. It is populated at startup and
// only read afterwards.
type Registry struct {
	byName map[string]Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Descriptor)}
}

// Register adds a capability by unique name.
func (r *Registry) Register(c Capability) error {
	if c == nil {
		return errors.New("capability cannot be nil")
	}
	name := c.Name()
	if name == "" {
		return errors.New("capability name cannot be empty")
	}
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("capability %s already registered", name)
	}
	r.byName[name] = Descriptor{
		Name:        name,
		Description: c.Description(),
		Schema:      cloneSchema(c.Schema()),
		Invoke:      c.Invoke,
	}
	return nil
}

// Lookup returns a capability descriptor by name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Descriptors returns all registered capabilities sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the sorted capability names.
func (r *Registry) Names() []string {
	descs := r.Descriptors()
	out := make([]string, 0, len(descs))
	for _, d := range descs {
		out = append(out, d.Name)
	}
	return out
}

// Definitions converts registered capabilities to model tool definitions.
func (r *Registry) Definitions() []provider.ToolDefinition {
	descs := r.Descriptors()
	out := make([]provider.ToolDefinition, 0, len(descs))
	for _, d := range descs {
		out = append(out, provider.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  cloneSchema(d.Schema),
		})
	}
	return out
}

// Truncate caps output at limit bytes, backing off to a rune boundary.
// A non-positive limit uses the default.
func Truncate(output string, limit int) (string, bool) {
	if limit <= 0 {
		limit = defaultOutputLength
	}
	if len(output) <= limit {
		return output, false
	}
	cut := limit
	for cut > 0 && !isRuneStart(output[cut]) {
		cut--
	}
	return output[:cut] + fmt.Sprintf("\n...[truncated %d bytes]", len(output)-cut), true
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func cloneSchema(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneSchema(nested)
			continue
		}
		out[k] = v
	}
	return out
}
