package tools

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// UnknownToolError is returned when a tool call names a tool that is not
// known, not registered, or not in the caller's allowed subset.
type UnknownToolError struct {
	Name    string
	Allowed []Name
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("tool %q is not available; allowed tools: %s", e.Name, JoinNames(e.Allowed))
}

// Registry maps tool names to handlers.
type Registry struct {
	tools map[Name]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[Name]Tool, len(tools))}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Names returns the registered tool names in known-name order.
func (r *Registry) Names() []Name {
	return lo.Filter(knownNames, func(n Name, _ int) bool {
		_, ok := r.tools[n]
		return ok
	})
}

// Allowed narrows allowed to the tools that are registered. A nil allowed set
// means every registered tool.
func (r *Registry) Allowed(allowed []Name) []Name {
	if allowed == nil {
		return r.Names()
	}
	return lo.Filter(r.Names(), func(n Name, _ int) bool {
		return lo.Contains(allowed, n)
	})
}

// Resolve looks up name within the allowed subset.
func (r *Registry) Resolve(name string, allowed []Name) (Tool, error) {
	effective := r.Allowed(allowed)
	n := Name(name)
	if !IsKnown(name) || !lo.Contains(effective, n) {
		return nil, &UnknownToolError{Name: name, Allowed: effective}
	}
	return r.tools[n], nil
}

// Tools returns the handlers for the allowed subset, sorted by name.
func (r *Registry) Tools(allowed []Name) []Tool {
	result := lo.Map(r.Allowed(allowed), func(n Name, _ int) Tool { return r.tools[n] })
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}
