// Package integration holds the process-wide registry of named
// actions. An integration is a namespace of related actions (HTTP,
// logging, field transforms); pipeline steps reference actions by the
// (integration, action) name pair and are resolved at execution time.
package integration

import "context"

// Handler is the single shape every action conforms to. It receives
// the assembled input map and returns its output map or an error.
// Handlers must be safe for concurrent use; the executor recovers
// panics, so a crashing handler fails its step without taking the
// worker down.
type Handler func(ctx context.Context, input map[string]any) (map[string]any, error)

// ActionDefinition describes one registered action.
type ActionDefinition struct {
	// Name is unique within an integration,
	// e.g. "pocsync.transform.map_fields".
	Name        string
	Description string
	Handler     Handler

	// InputSchema and OutputSchema are opaque descriptive maps.
	// Validation against them is best-effort; see ValidateInput.
	InputSchema  map[string]any
	OutputSchema map[string]any
}

// Integration is a named bundle of actions registered at startup.
type Integration struct {
	Name        string
	Description string
	Actions     map[string]ActionDefinition
}

// Info is the snapshot row returned by Registry.List.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ActionCount int    `json:"action_count"`
}
