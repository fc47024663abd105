package factory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"regapi/internal/repository"
	"regapi/internal/schema"
)

// Factory turns entity names into backend models and repositories. Both are memoized
// under their domain/name key, so every caller shares one instance per entity.
// It is safe for concurrent use. Models are built outside the cache lock, and
// concurrent first uses of one key share a single build.
type Factory struct {
	catalog  *schema.Catalog
	builder  ModelBuilder
	log      *zap.Logger
	repoOpts []repository.Option

	builds singleflight.Group
	mu     sync.Mutex
	models map[string]repository.Model
	repos  map[string]repository.Repository
}

// New creates a Factory. repoOpts are applied to every repository it builds.
func New(builder ModelBuilder, catalog *schema.Catalog, log *zap.Logger, repoOpts ...repository.Option) *Factory {
	return &Factory{
		catalog:  catalog,
		builder:  builder,
		log:      log,
		repoOpts: repoOpts,
		models:   make(map[string]repository.Model),
		repos:    make(map[string]repository.Repository),
	}
}

// Catalog returns the entity catalog the factory resolves names against.
func (f *Factory) Catalog() *schema.Catalog { return f.catalog }

// GetModel returns the model for name in domain, creating it on first use. An empty
// domain means schema.DefaultDomain.
func (f *Factory) GetModel(ctx context.Context, name, domain string) (repository.Model, error) {
	key := schema.CacheKey(domain, name)
	if m, ok := f.cachedModel(key); ok {
		return m, nil
	}
	v, err, _ := f.builds.Do(key, func() (any, error) {
		// a build that finished after the check above already stored its model
		if m, ok := f.cachedModel(key); ok {
			return m, nil
		}
		e, err := f.catalog.Lookup(domain, name)
		if err != nil {
			return nil, err
		}
		m, err := f.builder.CreateModel(ctx, e)
		if err != nil {
			f.log.Error("create model failed", zap.String("model", key), zap.Error(err))
			return nil, err
		}
		f.mu.Lock()
		f.models[key] = m
		f.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(repository.Model), nil
}

func (f *Factory) cachedModel(key string) (repository.Model, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.models[key]
	return m, ok
}

// GetRepository returns the repository for name in domain, creating its model first
// if needed.
func (f *Factory) GetRepository(ctx context.Context, name, domain string) (repository.Repository, error) {
	key := schema.CacheKey(domain, name)
	f.mu.Lock()
	r, ok := f.repos[key]
	f.mu.Unlock()
	if ok {
		return r, nil
	}

	m, err := f.GetModel(ctx, name, domain)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.repos[key]; ok {
		return r, nil
	}
	r = repository.NewBaseRepository(m, f.log, f.repoOpts...)
	f.repos[key] = r
	return r, nil
}

// ClearCache drops memoized models and repositories. With neither argument everything
// is dropped; with only a domain, that domain; with only a name, that name in every
// domain; with both, the single entry.
func (f *Factory) ClearCache(name, domain string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	match := func(key string) bool {
		d, n, _ := strings.Cut(key, "/")
		return (name == "" || n == name) && (domain == "" || d == domain)
	}
	for k := range f.models {
		if match(k) {
			delete(f.models, k)
		}
	}
	for k := range f.repos {
		if match(k) {
			delete(f.repos, k)
		}
	}
	f.log.Debug("cache cleared", zap.String("name", name), zap.String("domain", domain))
}

// Cached lists the keys of memoized models in lexical order.
func (f *Factory) Cached() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.models))
	for k := range f.models {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
