package schema

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultDomain is used when an entity or lookup names no domain.
const DefaultDomain = "common"

// CacheKey is the domain-scoped key models are memoized under.
func CacheKey(domain, name string) string {
	if domain == "" {
		domain = DefaultDomain
	}
	return domain + "/" + name
}

// Catalog holds every declared entity, keyed by domain/name.
type Catalog struct {
	mu       sync.RWMutex
	entities map[string]*Entity
}

// NewCatalog returns a catalog holding the given entities.
func NewCatalog(entities ...*Entity) (*Catalog, error) {
	c := &Catalog{entities: make(map[string]*Entity)}
	for _, e := range entities {
		if err := c.Register(e); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds e. Declaring the same domain/name twice is a schema error.
func (c *Catalog) Register(e *Entity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entities[e.Key()]; ok {
		return &SchemaError{Entity: e.Name(), Message: fmt.Sprintf("declared twice in domain %q", e.Domain())}
	}
	c.entities[e.Key()] = e
	return nil
}

// Lookup resolves an entity by name within domain.
func (c *Catalog) Lookup(domain, name string) (*Entity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[CacheKey(domain, name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, CacheKey(domain, name))
	}
	return e, nil
}

// All returns every entity ordered by key.
func (c *Catalog) All() []*Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Entity, 0, len(c.entities))
	for _, e := range c.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
