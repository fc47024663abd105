// Package app assembles the storage layer and services from configuration. The HTTP
// server and regctl both start here.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"regapi/internal/config"
	"regapi/internal/database"
	"regapi/internal/factory"
	"regapi/internal/http/handler"
	"regapi/internal/model"
	"regapi/internal/repository"
	"regapi/internal/service"
	"regapi/internal/storage"
)

// Connection constructors, replaced in tests.
var (
	newPostgres = database.NewPostgres
	newMongo    = database.NewMongo
	newMinIO    = storage.NewMinIO
)

// NewLogger builds the process logger. debug switches to the console encoder.
func NewLogger(level string, debug bool) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	z := zap.NewProductionConfig()
	if debug {
		z = zap.NewDevelopmentConfig()
	}
	z.Level = lvl
	z.OutputPaths = []string{"stdout"}
	return z.Build()
}

// App holds everything built from one configuration.
type App struct {
	Config        *config.AppConfig
	Log           *zap.Logger
	Registry      *prometheus.Registry
	Builder       *factory.SchemaBuilder
	Factory       *factory.Factory
	Registrations service.RegistrationService
	Payments      service.PaymentService
	Health        handler.Pinger
	// Exporter is set only for the filesystem backend with object storage configured.
	Exporter *storage.Exporter

	closers []func(context.Context) error
}

// New connects the configured backend, registers metrics and builds the services.
// Close releases whatever New opened, also after a failed New.
func New(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log, Registry: prometheus.NewRegistry()}
	if err := a.build(ctx); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, log := a.Config, a.Log
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := repository.NewMetrics(a.Registry)
	if err != nil {
		return fmt.Errorf("register repository metrics: %w", err)
	}

	backend, err := repository.ParseBackend(cfg.Storage.Backend)
	if err != nil {
		return err
	}
	opts, err := a.connect(ctx, backend)
	if err != nil {
		return err
	}

	a.Builder, err = factory.NewSchemaBuilder(string(backend), log, opts...)
	if err != nil {
		return err
	}
	catalog, err := model.NewCatalog()
	if err != nil {
		return err
	}
	a.Factory = factory.New(a.Builder, catalog, log, repository.WithMetrics(metrics))

	regs, err := a.Factory.GetRepository(ctx, model.RegistrationEntity, model.RegistrationDomain)
	if err != nil {
		return err
	}
	pays, err := a.Factory.GetRepository(ctx, model.PaymentEntity, model.PaymentDomain)
	if err != nil {
		return err
	}
	a.Registrations = service.NewRegistrationService(regs, pays)
	a.Payments = service.NewPaymentService(pays, regs)

	if backend == repository.FileSystem && cfg.MinIO.Enabled() {
		store, err := newMinIO(ctx, cfg.MinIO)
		if err != nil {
			return fmt.Errorf("initialize object storage: %w", err)
		}
		a.Exporter = storage.NewExporter(store, log)
	}

	log.Info("app_ready",
		zap.String("component", "app"),
		zap.String("backend", string(backend)),
		zap.Bool("export_enabled", a.Exporter != nil),
	)
	return nil
}

// connect opens the backend connection and sets the health check that probes it.
func (a *App) connect(ctx context.Context, backend repository.Backend) ([]factory.BuilderOption, error) {
	cfg := a.Config
	switch backend {
	case repository.Relational:
		db, err := newPostgres(ctx, cfg.Database, a.Log)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.onClose(func(context.Context) error { return db.Close() })
		a.Health = db
		return []factory.BuilderOption{factory.WithPostgres(db)}, nil

	case repository.Document:
		client, db, err := newMongo(ctx, cfg.Mongo, a.Log)
		if err != nil {
			return nil, fmt.Errorf("connect to document store: %w", err)
		}
		a.onClose(client.Disconnect)
		a.Health = mongoPinger(client)
		return []factory.BuilderOption{factory.WithMongo(db)}, nil

	default:
		root := cfg.Storage.DataRoot
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("create data root: %w", err)
		}
		a.Health = dirPinger(root)
		return []factory.BuilderOption{factory.WithDataRoot(root)}, nil
	}
}

func mongoPinger(client *mongo.Client) handler.Pinger {
	return handler.PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	})
}

func dirPinger(root string) handler.Pinger {
	return handler.PingFunc(func(context.Context) error {
		st, err := os.Stat(root)
		if err != nil {
			return err
		}
		if !st.IsDir() {
			return fmt.Errorf("%s is not a directory", root)
		}
		return nil
	})
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Routes returns the handler dependencies for the HTTP server.
func (a *App) Routes() handler.Deps {
	d := handler.Deps{
		Health:        a.Health,
		Records:       a.Factory,
		Registrations: a.Registrations,
		Payments:      a.Payments,
		DataRoot:      a.Config.Storage.DataRoot,
		Metrics:       a.Registry,
	}
	// a nil *Exporter must stay a nil interface
	if a.Exporter != nil {
		d.Exporter = a.Exporter
	}
	return d
}

// Close releases connections in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
