package portal

import (
	"github.com/rotisserie/eris"

	"github.com/merchant-ops/portalsync/internal/config"
)

// Registry maps portal names to their adapters.
type Registry struct {
	adapters map[string]Adapter
	order    []string // insertion order for deterministic iteration
}

// NewRegistry creates a registry populated with every supported portal.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	tempDir := cfg.Ingest.TempDir

	r.Register(NewMeridian(cfg.Portals["meridian"], tempDir))
	r.Register(NewCartwheel(cfg.Portals["cartwheel"], tempDir))
	r.Register(NewLumina(cfg.Portals["lumina"], tempDir))
	r.Register(NewVendora(cfg.Portals["vendora"], tempDir))
	r.Register(NewBazaarHub(cfg.Portals["bazaarhub"], tempDir))

	return r
}

// Register adds an adapter to the registry.
func (r *Registry) Register(a Adapter) {
	if r.adapters == nil {
		r.adapters = make(map[string]Adapter)
	}
	name := a.Name()
	r.adapters[name] = a
	r.order = append(r.order, name)
}

// Get returns an adapter by name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, eris.Errorf("portal: unknown portal %q", name)
	}
	return a, nil
}

// Select returns the named adapters, or all of them when names is empty.
func (r *Registry) Select(names []string) ([]Adapter, error) {
	if len(names) == 0 {
		return r.All(), nil
	}

	result := make([]Adapter, 0, len(names))
	for _, name := range names {
		a, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, nil
}

// All returns every adapter in registration order.
func (r *Registry) All() []Adapter {
	result := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.adapters[name])
	}
	return result
}

// AllNames returns every registered portal name in registration order.
func (r *Registry) AllNames() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
