package integration

import (
	"sort"
	"sync"
)

// Registry maps (integration, action) name pairs to action
// definitions. Reads dominate; registration happens at startup and is
// idempotent, replacing any previous definition under the same name.
type Registry struct {
	mu           sync.RWMutex
	integrations map[string]Integration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{integrations: make(map[string]Integration)}
}

// defaultRegistry is the process-wide registry used by the built-in
// registration path and the executors unless one is injected.
var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Register installs an integration, replacing any existing
// registration with the same name. The stored value owns its own
// action map, so later mutation of the argument does not leak in.
func (r *Registry) Register(in Integration) {
	actions := make(map[string]ActionDefinition, len(in.Actions))
	for name, def := range in.Actions {
		if def.Name == "" {
			def.Name = name
		}
		actions[name] = def
	}
	in.Actions = actions

	r.mu.Lock()
	defer r.mu.Unlock()
	r.integrations[in.Name] = in
}

// Action looks up an action definition by integration and action name.
func (r *Registry) Action(integrationName, actionName string) (ActionDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	in, ok := r.integrations[integrationName]
	if !ok {
		return ActionDefinition{}, false
	}
	def, ok := in.Actions[actionName]
	return def, ok
}

// Integration returns a full integration definition by name.
func (r *Registry) Integration(name string) (Integration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	in, ok := r.integrations[name]
	return in, ok
}

// List returns a snapshot of all registered integrations sorted by
// name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.integrations))
	for _, in := range r.integrations {
		infos = append(infos, Info{
			Name:        in.Name,
			Description: in.Description,
			ActionCount: len(in.Actions),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Actions returns a snapshot of an integration's actions sorted by
// name. The slice is empty when the integration is absent.
func (r *Registry) Actions(integrationName string) []ActionDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	in, ok := r.integrations[integrationName]
	if !ok {
		return nil
	}
	defs := make([]ActionDefinition, 0, len(in.Actions))
	for _, def := range in.Actions {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
