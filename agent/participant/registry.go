package participant

import (
	"fmt"
	"sort"

	"github.com/BaSui01/chatflow/types"
)

// Registry stores participant configurations by ID. It is filled once and
// then only read, so it carries no locking.
type Registry struct {
	configs map[string]Config
	order   []string
}

// NewRegistry builds a registry from configs. Duplicate or invalid entries
// are configuration errors.
func NewRegistry(configs ...Config) (*Registry, error) {
	r := &Registry{configs: make(map[string]Config, len(configs))}
	for _, c := range configs {
		if err := c.Validate(); err != nil {
			return nil, types.NewError(types.ErrConfiguration, "invalid participant").WithCause(err)
		}
		if _, dup := r.configs[c.ID]; dup {
			return nil, types.Errorf(types.ErrConfiguration, "duplicate participant %q", c.ID)
		}
		r.configs[c.ID] = c
		r.order = append(r.order, c.ID)
	}
	return r, nil
}

// MustNewRegistry is NewRegistry that panics on error. Intended for tests and
// program initialization only.
func MustNewRegistry(configs ...Config) *Registry {
	r, err := NewRegistry(configs...)
	if err != nil {
		panic(fmt.Sprintf("failed to build participant registry: %v", err))
	}
	return r
}

// Get returns the configuration for id.
func (r *Registry) Get(id string) (Config, bool) {
	c, ok := r.configs[id]
	return c, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.configs[id]
	return ok
}

// Lookup returns the configuration for id or a configuration error.
func (r *Registry) Lookup(id string) (Config, error) {
	c, ok := r.configs[id]
	if !ok {
		return Config{}, types.Errorf(types.ErrConfiguration, "unknown participant %q", id)
	}
	return c, nil
}

// IDs returns the registered IDs in registration order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of registered participants.
func (r *Registry) Len() int {
	return len(r.configs)
}

// ByKind returns the sorted IDs of participants of kind k.
func (r *Registry) ByKind(k Kind) []string {
	var ids []string
	for id, c := range r.configs {
		if c.Kind == k {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
