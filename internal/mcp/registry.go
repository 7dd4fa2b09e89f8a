package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Tool is one callable unit exposed through tools/list and tools/call.
type Tool interface {
	// Name is the wire name clients invoke ("add_memory", "create_task").
	Name() string

	// Description is shown to clients in the tool catalog.
	Description() string

	// InputSchema is the raw JSON Schema for the tool's arguments.
	InputSchema() json.RawMessage

	// Execute runs the tool. The context carries the per-call deadline.
	Execute(ctx context.Context, params json.RawMessage) (*ToolsCallResult, error)
}

// Prompt serves prompts/get for one named prompt.
type Prompt interface {
	Definition() PromptDefinition
	Get(arguments map[string]string) (*PromptsGetResult, error)
}

// Resource serves resources/read for one URI.
type Resource interface {
	Definition() ResourceDefinition
	Read() (*ResourcesReadResult, error)
}

// catalog is a key-addressed collection that remembers registration order,
// so list responses are stable across runs without sorting.
type catalog[T any] struct {
	entries map[string]T
	order   []string
}

func newCatalog[T any]() catalog[T] {
	return catalog[T]{entries: map[string]T{}}
}

// put registers v under key. A duplicate key is a wiring bug, caught at
// startup by panicking.
func (c *catalog[T]) put(kind, key string, v T) {
	if _, dup := c.entries[key]; dup {
		panic(fmt.Sprintf("%s %q registered twice", kind, key))
	}
	c.entries[key] = v
	c.order = append(c.order, key)
}

// lookup returns the entry for key, or the zero value when absent.
func (c *catalog[T]) lookup(key string) T { return c.entries[key] }

// all returns every entry in registration order.
func (c *catalog[T]) all() []T {
	out := make([]T, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.entries[key])
	}
	return out
}

// Registry is the server's dispatch table: every tool, prompt, and resource
// the server advertises lives here. Registration happens once at startup;
// lookups run concurrently for the lifetime of the process.
type Registry struct {
	mu        sync.RWMutex
	tools     catalog[Tool]
	prompts   catalog[Prompt]
	resources catalog[Resource] // keyed by URI
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     newCatalog[Tool](),
		prompts:   newCatalog[Prompt](),
		resources: newCatalog[Resource](),
	}
}

// Register adds a tool under its wire name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools.put("tool", t.Name(), t)
}

// Get returns the tool registered under name, or nil.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools.lookup(name)
}

// List returns the tool catalog in registration order.
func (r *Registry) List() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := r.tools.all()
	defs := make([]ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return defs
}

// RegisterPrompt adds a prompt under its definition name.
func (r *Registry) RegisterPrompt(p Prompt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts.put("prompt", p.Definition().Name, p)
}

// GetPrompt returns the prompt registered under name, or nil.
func (r *Registry) GetPrompt(name string) Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.prompts.lookup(name)
}

// ListPrompts returns the prompt catalog in registration order.
func (r *Registry) ListPrompts() []PromptDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prompts := r.prompts.all()
	defs := make([]PromptDefinition, 0, len(prompts))
	for _, p := range prompts {
		defs = append(defs, p.Definition())
	}
	return defs
}

// HasPrompts reports whether any prompt is registered; drives the
// capabilities advertised during initialize.
func (r *Registry) HasPrompts() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.prompts.order) > 0
}

// RegisterResource adds a resource under its URI.
func (r *Registry) RegisterResource(res Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources.put("resource", res.Definition().URI, res)
}

// GetResource returns the resource registered under uri, or nil.
func (r *Registry) GetResource(uri string) Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resources.lookup(uri)
}

// ListResources returns the resource catalog in registration order.
func (r *Registry) ListResources() []ResourceDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resources := r.resources.all()
	defs := make([]ResourceDefinition, 0, len(resources))
	for _, res := range resources {
		defs = append(defs, res.Definition())
	}
	return defs
}

// HasResources reports whether any resource is registered; drives the
// capabilities advertised during initialize.
func (r *Registry) HasResources() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.resources.order) > 0
}
