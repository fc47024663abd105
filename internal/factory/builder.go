package factory

import (
	"context"
	"database/sql"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"regapi/internal/repository"
	"regapi/internal/repository/filestore"
	mongostore "regapi/internal/repository/mongo"
	"regapi/internal/repository/postgres"
	"regapi/internal/schema"
)

// ModelBuilder realizes an entity on a storage backend.
type ModelBuilder interface {
	CreateModel(ctx context.Context, e *schema.Entity) (repository.Model, error)
}

type ensurer interface {
	Ensure(ctx context.Context) error
}

// SchemaBuilder realizes entities on the backend it was constructed with. The backend
// is fixed for the builder's lifetime.
type SchemaBuilder struct {
	backend  repository.Backend
	sqlDB    *sql.DB
	mongoDB  *mongo.Database
	dataRoot string
	log      *zap.Logger
}

var _ ModelBuilder = (*SchemaBuilder)(nil)

// BuilderOption supplies the connection a backend needs.
type BuilderOption func(*SchemaBuilder)

func WithPostgres(db *sql.DB) BuilderOption {
	return func(b *SchemaBuilder) { b.sqlDB = db }
}

func WithMongo(db *mongo.Database) BuilderOption {
	return func(b *SchemaBuilder) { b.mongoDB = db }
}

func WithDataRoot(root string) BuilderOption {
	return func(b *SchemaBuilder) { b.dataRoot = root }
}

// NewSchemaBuilder validates the backend identifier and checks that its connection was
// supplied. An unrecognized backend is a *schema.SchemaError.
func NewSchemaBuilder(backend string, log *zap.Logger, opts ...BuilderOption) (*SchemaBuilder, error) {
	be, err := repository.ParseBackend(backend)
	if err != nil {
		return nil, err
	}
	b := &SchemaBuilder{backend: be, log: log}
	for _, o := range opts {
		o(b)
	}

	switch {
	case be == repository.Relational && b.sqlDB == nil:
		return nil, &schema.SchemaError{Message: "relational backend requires a database connection"}
	case be == repository.Document && b.mongoDB == nil:
		return nil, &schema.SchemaError{Message: "document backend requires a database connection"}
	case be == repository.FileSystem && b.dataRoot == "":
		return nil, &schema.SchemaError{Message: "filesystem backend requires a data root"}
	}
	return b, nil
}

func (b *SchemaBuilder) Backend() repository.Backend { return b.backend }

// CreateModel builds the backend model for e and bootstraps its storage: the
// collection validator and indexes, or the table and indexes.
func (b *SchemaBuilder) CreateModel(ctx context.Context, e *schema.Entity) (repository.Model, error) {
	log := b.log.With(zap.String("model", e.Key()))

	var m repository.Model
	switch b.backend {
	case repository.Document:
		m = mongostore.NewModel(b.mongoDB, e, log)
	case repository.Relational:
		m = postgres.NewModel(b.sqlDB, e, log)
	case repository.FileSystem:
		m = filestore.NewModel(b.dataRoot, e, log)
	default:
		return nil, &schema.SchemaError{Entity: e.Name(), Message: fmt.Sprintf("unrecognized storage backend %q", b.backend)}
	}

	if en, ok := m.(ensurer); ok {
		if err := en.Ensure(ctx); err != nil {
			return nil, fmt.Errorf("prepare storage for %s: %w", e.Key(), err)
		}
	}
	log.Info("model created", zap.String("backend", string(b.backend)), zap.String("storage", e.StorageName()))
	return m, nil
}
