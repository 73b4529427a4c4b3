package action

import (
	"sort"
	"sync"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
)

// Registry maps action ids to actions. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

func (r *Registry) Register(a Action) error {
	if err := a.validate(); err != nil {
		return domain.Inputf("%v", err)
	}
	resolved, err := CompileSchema(a.Schema.Input)
	if err != nil {
		return domain.Inputf("action %s has an invalid input schema: %v", a.ID, err)
	}
	a.input = resolved

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[a.ID]; exists {
		return domain.Conflictf("Codemod action with ID '%s' has already been registered", a.ID)
	}
	r.actions[a.ID] = a
	return nil
}

func (r *Registry) Get(id string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[id]
	if !ok {
		return Action{}, domain.NotFoundf("Codemod action with ID '%s' is not registered.", id)
	}
	return a, nil
}

// List returns a snapshot of the registered actions ordered by id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.actions))
	for _, a := range r.actions {
		out = append(out, a.Info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
