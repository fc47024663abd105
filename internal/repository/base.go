package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"regapi/internal/schema"
)

// DefaultPageLimit is used when Paginate gets a non-positive limit.
const DefaultPageLimit = 10

// ErrUnknownOperation is returned when a static or method is not declared on the entity.
var ErrUnknownOperation = errors.New("unknown operation")

// BaseRepository is the Repository implementation shared by every backend.
// It is a stateless pass-through to its Model plus logging, tracing and metrics,
// so any number of goroutines may use one instance.
type BaseRepository struct {
	model   Model
	log     *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

var _ Repository = (*BaseRepository)(nil)

// Option configures a BaseRepository.
type Option func(*BaseRepository)

// WithMetrics records operation metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(r *BaseRepository) { r.metrics = m }
}

// NewBaseRepository wraps model.
func NewBaseRepository(model Model, log *zap.Logger, opts ...Option) *BaseRepository {
	r := &BaseRepository{
		model: model,
		log: log.With(
			zap.String("model", model.Entity().Key()),
			zap.String("backend", string(model.Backend())),
		),
		tracer: otel.Tracer("regapi/repository"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Model returns the wrapped model.
func (r *BaseRepository) Model() Model { return r.model }

// begin logs intent and opens a span; the returned func closes both and logs failures
// with the same context fields.
func (r *BaseRepository) begin(ctx context.Context, op string, fields ...zap.Field) (context.Context, func(error)) {
	start := time.Now()
	entity := r.model.Entity()
	ctx, span := r.tracer.Start(ctx, "repository."+op, trace.WithAttributes(
		attribute.String("repository.entity", entity.Name()),
		attribute.String("repository.domain", entity.Domain()),
		attribute.String("repository.backend", string(r.model.Backend())),
	))
	r.log.Debug(op, fields...)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.log.Error(op+" failed", append(fields, zap.Error(err))...)
		}
		span.End()
		r.metrics.observe(r.model.Backend(), entity.Key(), op, start, err)
	}
}

func (r *BaseRepository) Create(ctx context.Context, data schema.Record) (schema.Record, error) {
	ctx, done := r.begin(ctx, "create", zap.Any("data", data))
	rec, err := r.model.Create(ctx, data)
	done(err)
	return rec, err
}

func (r *BaseRepository) FindOne(ctx context.Context, q schema.Query) (schema.Record, error) {
	ctx, done := r.begin(ctx, "findOne", zap.Any("query", q))
	rec, err := r.model.FindOne(ctx, q)
	done(err)
	return rec, err
}

func (r *BaseRepository) FindByID(ctx context.Context, id string) (schema.Record, error) {
	ctx, done := r.begin(ctx, "findById", zap.String("id", id))
	rec, err := r.model.FindByID(ctx, id)
	done(err)
	return rec, err
}

func (r *BaseRepository) Find(ctx context.Context, q schema.Query, opts schema.FindOptions) ([]schema.Record, error) {
	ctx, done := r.begin(ctx, "find", zap.Any("query", q), zap.Any("options", opts))
	recs, err := r.model.Find(ctx, q, opts)
	done(err)
	return recs, err
}

func (r *BaseRepository) Update(ctx context.Context, q schema.Query, patch schema.Record, opts schema.UpdateOptions) (int64, error) {
	ctx, done := r.begin(ctx, "update", zap.Any("query", q), zap.Any("update", patch), zap.Bool("multi", opts.Multi))
	n, err := r.model.Update(ctx, q, patch, opts)
	done(err)
	return n, err
}

func (r *BaseRepository) UpdateByID(ctx context.Context, id string, patch schema.Record) (schema.Record, error) {
	ctx, done := r.begin(ctx, "findByIdAndUpdate", zap.String("id", id), zap.Any("update", patch))
	rec, err := r.model.FindByIDAndUpdate(ctx, id, patch)
	done(err)
	return rec, err
}

func (r *BaseRepository) Delete(ctx context.Context, q schema.Query) (int64, error) {
	ctx, done := r.begin(ctx, "delete", zap.Any("query", q))
	n, err := r.model.Delete(ctx, q)
	done(err)
	return n, err
}

func (r *BaseRepository) DeleteByID(ctx context.Context, id string) (schema.Record, error) {
	ctx, done := r.begin(ctx, "findByIdAndDelete", zap.String("id", id))
	rec, err := r.model.FindByIDAndDelete(ctx, id)
	done(err)
	return rec, err
}

func (r *BaseRepository) Count(ctx context.Context, q schema.Query) (int64, error) {
	ctx, done := r.begin(ctx, "count", zap.Any("query", q))
	n, err := r.model.Count(ctx, q)
	done(err)
	return n, err
}

// Paginate runs find and count concurrently.
// page < 1 is treated as 1 and limit < 1 as DefaultPageLimit.
func (r *BaseRepository) Paginate(ctx context.Context, q schema.Query, page, limit int, sort []schema.SortKey) (*Page[schema.Record], error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	ctx, done := r.begin(ctx, "paginate", zap.Any("query", q), zap.Int("page", page), zap.Int("limit", limit))

	var (
		data  []schema.Record
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	// a skip that does not fit in an int is past any collection
	if page-1 <= math.MaxInt/limit {
		g.Go(func() error {
			var err error
			data, err = r.model.Find(gctx, q, schema.FindOptions{Sort: sort, Skip: (page - 1) * limit, Limit: limit})
			return err
		})
	}
	g.Go(func() error {
		var err error
		total, err = r.model.Count(gctx, q)
		return err
	})
	err := g.Wait()
	done(err)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []schema.Record{}
	}

	return &Page[schema.Record]{
		Data: data,
		Pagination: Pagination{
			Total: total,
			Page:  page,
			Limit: limit,
			Pages: PageCount(total, limit),
		},
	}, nil
}

// PageCount is ceil(total/limit).
func PageCount(total int64, limit int) int {
	if limit < 1 || total < 1 {
		return 0
	}
	return int((total-1)/int64(limit) + 1)
}

// FindByDateRange returns records whose field lies within [start, end], ordered by field.
// A nil end leaves the range open. Models that are a RangeFinder evaluate the range
// natively; otherwise extra is delegated to Find and the range is applied as a second pass.
func (r *BaseRepository) FindByDateRange(ctx context.Context, field string, start time.Time, end *time.Time, extra schema.Query) ([]schema.Record, error) {
	fields := []zap.Field{zap.String("field", field), zap.Time("start", start), zap.Any("query", extra)}
	if end != nil {
		fields = append(fields, zap.Time("end", *end))
	}
	ctx, done := r.begin(ctx, "findByDateRange", fields...)

	if !r.model.Entity().HasField(field) {
		err := schema.NewValidationError(field, "is not a field of "+r.model.Entity().Name())
		done(err)
		return nil, err
	}

	rng := Range{Field: field, Start: start, End: end}
	opts := schema.FindOptions{Sort: []schema.SortKey{{Field: field, Order: schema.Asc}}}

	if rf, ok := r.model.(RangeFinder); ok {
		recs, err := rf.FindRange(ctx, extra, rng, opts)
		done(err)
		return recs, err
	}

	recs, err := r.model.Find(ctx, extra, opts)
	done(err)
	if err != nil {
		return nil, err
	}
	out := make([]schema.Record, 0, len(recs))
	for _, rec := range recs {
		if InRange(rec[field], rng) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// GroupStatistics loads every record matching opts.Query and groups them in memory by
// the composite key of groupFields. The same path serves every backend.
func (r *BaseRepository) GroupStatistics(ctx context.Context, groupFields []string, opts GroupOptions) ([]GroupStat, error) {
	ctx, done := r.begin(ctx, "groupStatistics",
		zap.Strings("groupFields", groupFields),
		zap.String("countField", opts.CountField),
		zap.String("sumField", opts.SumField),
		zap.String("avgField", opts.AvgField),
		zap.Any("query", opts.Query),
	)
	recs, err := r.model.Find(ctx, opts.Query, schema.FindOptions{})
	done(err)
	if err != nil {
		return nil, err
	}
	return GroupRecords(recs, groupFields, opts), nil
}

// CallStatic invokes a collection-level operation declared on the entity.
func (r *BaseRepository) CallStatic(ctx context.Context, name string, args ...any) (any, error) {
	ctx, done := r.begin(ctx, "static", zap.String("name", name))
	fn, ok := r.model.Entity().Static(name)
	if !ok {
		err := fmt.Errorf("%w: static %q on %s", ErrUnknownOperation, name, r.model.Entity().Name())
		done(err)
		return nil, err
	}
	out, err := fn(ctx, r.model, args...)
	done(err)
	return out, err
}

// CallMethod invokes an instance-level operation declared on the entity.
func (r *BaseRepository) CallMethod(ctx context.Context, name string, rec schema.Record, args ...any) (any, error) {
	ctx, done := r.begin(ctx, "method", zap.String("name", name), zap.String("id", rec.ID()))
	fn, ok := r.model.Entity().Method(name)
	if !ok {
		err := fmt.Errorf("%w: method %q on %s", ErrUnknownOperation, name, r.model.Entity().Name())
		done(err)
		return nil, err
	}
	out, err := fn(ctx, rec, args...)
	done(err)
	return out, err
}
