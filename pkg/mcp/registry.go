package mcp

import (
	"sync"

	"vocalis/pkg/llm"
)

// Registry is the central inventory of tools discovered from MCP servers.
// It is indexed by tool name and by owning server. Disable is a one-shot,
// irreversible switch used when the engine abandons structured tool
// advertisement in favor of prompt-mode tool calling.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]ToolDescriptor
	byServer map[string][]string
	disabled bool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]ToolDescriptor),
		byServer: make(map[string][]string),
	}
}

// Register adds a tool descriptor to the registry.
func (r *Registry) Register(t ToolDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[t.Name]; !exists {
		r.byServer[t.RelatedServer] = append(r.byServer[t.RelatedServer], t.Name)
	}
	r.byName[t.Name] = t
}

// Lookup retrieves a tool descriptor by name.
func (r *Registry) Lookup(name string) (ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// ByServer returns the names of the tools owned by a server.
func (r *Registry) ByServer(server string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.byServer[server]))
	copy(names, r.byServer[server])
	return names
}

// ListAll returns every registered descriptor, or nil once the registry
// has been disabled.
func (r *Registry) ListAll() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.disabled {
		return nil
	}
	out := make([]ToolDescriptor, 0, len(r.byName))
	for _, t := range r.byName {
		out = append(out, t)
	}
	return out
}

// Schemas converts the registry content into the provider-facing tool
// advertisement form. Nil once disabled.
func (r *Registry) Schemas() []llm.ToolSchema {
	descriptors := r.ListAll()
	if descriptors == nil {
		return nil
	}
	schemas := make([]llm.ToolSchema, 0, len(descriptors))
	for _, t := range descriptors {
		schemas = append(schemas, llm.ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}
	return schemas
}

// Disable permanently empties ListAll. It never re-enables within the
// lifetime of the registry.
func (r *Registry) Disable() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled = true
}

// Disabled reports whether Disable has been called.
func (r *Registry) Disabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.disabled
}
