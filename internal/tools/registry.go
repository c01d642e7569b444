// Package tools holds the function-call registry exposed to the AI backend and
// the dispatcher that runs handlers and normalizes their results.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

var (
	ErrDuplicateTool = errors.New("tools: duplicate tool name")
	ErrEmptyName     = errors.New("tools: empty tool name")
)

// Definition is the schema half of a tool, sent upward in the provider handshake.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Handler runs one tool invocation. args is always a JSON object.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

type Tool struct {
	Definition
	Handler Handler
}

// Func builds a Tool whose parameter schema is derived from T and whose
// arguments are decoded into T before fn runs.
func Func[T any](name, description string, fn func(ctx context.Context, arg T) (any, error)) (Tool, error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return Tool{}, fmt.Errorf("tools: schema for %s: %w", name, err)
	}
	params, err := schemaMap(schema)
	if err != nil {
		return Tool{}, fmt.Errorf("tools: schema for %s: %w", name, err)
	}
	return Tool{
		Definition: Definition{Name: name, Description: description, Parameters: params},
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var v T
			if err := json.Unmarshal(args, &v); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadArguments, err)
			}
			return fn(ctx, v)
		},
	}, nil
}

// MustFunc is Func for static registrations.
func MustFunc[T any](name, description string, fn func(ctx context.Context, arg T) (any, error)) Tool {
	t, err := Func(name, description, fn)
	if err != nil {
		panic(err)
	}
	return t
}

func schemaMap(s *jsonschema.Schema) (map[string]any, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Registry maps exact function names to tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry { return &Registry{tools: make(map[string]Tool)} }

func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return ErrEmptyName
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: %s has no handler", t.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the tool list sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type streamKey struct{}

// WithStreamID scopes a handler invocation to one call's business state.
func WithStreamID(ctx context.Context, streamID string) context.Context {
	return context.WithValue(ctx, streamKey{}, streamID)
}

func StreamIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(streamKey{}).(string)
	return id, ok && id != ""
}
