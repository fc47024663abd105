package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"regapi/internal/repository"
	"regapi/internal/schema"
)

const ext = ".json"

// Model stores one JSON file per record under <root>/<collection>/<id>.json and answers
// queries by scanning the collection directory. Every find reads the whole collection,
// which bounds it to collections that fit in memory; FindByID is the only indexed path.
//
// Writes are not locked: two concurrent updates of one record may lose one update.
// A write replaces the file by rename, so a reader never sees a partial record.
type Model struct {
	entity    *schema.Entity
	dir       string
	lifecycle *repository.Lifecycle
	log       *zap.Logger
	now       func() time.Time
	newID     func() string
}

var _ repository.Model = (*Model)(nil)

// Option configures a Model.
type Option func(*Model)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Model) { m.now = now }
}

// WithIDGenerator overrides id generation for records created without an id.
func WithIDGenerator(gen func() string) Option {
	return func(m *Model) { m.newID = gen }
}

// NewModel creates the flat-file model for e under root. The collection directory is
// created on first write.
func NewModel(root string, e *schema.Entity, log *zap.Logger, opts ...Option) *Model {
	m := &Model{
		entity:    e,
		dir:       filepath.Join(root, e.StorageName()),
		lifecycle: repository.NewLifecycle(e, log),
		log:       log,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Model) Entity() *schema.Entity { return m.entity }
func (m *Model) Backend() repository.Backend { return repository.FileSystem }

// Dir is the collection directory.
func (m *Model) Dir() string { return m.dir }

func (m *Model) path(id string) string { return filepath.Join(m.dir, id+ext) }

func checkID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return schema.NewValidationError(schema.FieldID, "is not a valid file name")
	}
	return nil
}

func (m *Model) timestamp() string {
	return m.now().UTC().Format(time.RFC3339Nano)
}

// Create assigns an id when absent, stamps createdAt/updatedAt, runs the lifecycle and
// writes the record. Nothing is written when validation fails.
func (m *Model) Create(ctx context.Context, data schema.Record) (schema.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec := data.Clone()
	id := rec.ID()
	if id == "" {
		id = m.newID()
	}
	if err := checkID(id); err != nil {
		return nil, err
	}
	ts := m.timestamp()
	rec[schema.FieldID] = id
	rec[schema.FieldCreatedAt] = ts
	rec[schema.FieldUpdatedAt] = ts

	out, err := m.lifecycle.Prepare(ctx, rec)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(m.path(id)); err == nil {
		return nil, schema.NewValidationError(schema.FieldID, "already exists")
	}
	if err := m.checkUnique(ctx, out); err != nil {
		return nil, err
	}
	if err := m.write(out); err != nil {
		return nil, err
	}
	if err := m.lifecycle.Written(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Find filters by exact equality on every query key, then sorts, then applies skip/limit.
func (m *Model) Find(ctx context.Context, q schema.Query, opts schema.FindOptions) ([]schema.Record, error) {
	recs, err := m.readAll(ctx)
	if err != nil {
		return nil, err
	}
	return repository.Apply(recs, q, opts), nil
}

// FindOne returns the earliest created match, or nil.
func (m *Model) FindOne(ctx context.Context, q schema.Query) (schema.Record, error) {
	recs, err := m.Find(ctx, q, schema.FindOptions{Sort: repository.CreationOrder, Limit: 1})
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// FindByID reads the record file directly, or returns nil when it does not exist.
func (m *Model) FindByID(ctx context.Context, id string) (schema.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if checkID(id) != nil {
		return nil, nil
	}
	rec, err := m.read(m.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return rec, err
}

// Update merges patch onto matching records. Without opts.Multi only the first match in
// CreationOrder is updated. Each record is validated and written on its own; a failure
// stops the update and leaves earlier records written.
func (m *Model) Update(ctx context.Context, q schema.Query, patch schema.Record, opts schema.UpdateOptions) (int64, error) {
	recs, err := m.readAll(ctx)
	if err != nil {
		return 0, err
	}
	matches := repository.Filter(recs, q)
	if !opts.Multi && len(matches) > 1 {
		repository.SortRecords(matches, repository.CreationOrder)
		matches = matches[:1]
	}

	var n int64
	for _, rec := range matches {
		if _, err := m.rewrite(ctx, rec, patch); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// FindByIDAndUpdate updates one record and returns it, or nil when it does not exist.
func (m *Model) FindByIDAndUpdate(ctx context.Context, id string, patch schema.Record) (schema.Record, error) {
	rec, err := m.FindByID(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return m.rewrite(ctx, rec, patch)
}

// Delete unlinks every matching record file and returns how many were removed.
func (m *Model) Delete(ctx context.Context, q schema.Query) (int64, error) {
	recs, err := m.Find(ctx, q, schema.FindOptions{})
	if err != nil {
		return 0, err
	}
	var n int64
	for _, rec := range recs {
		removed, err := m.remove(rec.ID())
		if err != nil {
			return n, err
		}
		if removed {
			n++
		}
	}
	return n, nil
}

// FindByIDAndDelete removes one record and returns it, or nil when it does not exist.
func (m *Model) FindByIDAndDelete(ctx context.Context, id string) (schema.Record, error) {
	rec, err := m.FindByID(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	if _, err := m.remove(id); err != nil {
		return nil, err
	}
	return rec, nil
}

// Count is the length of Find; there is no faster path.
func (m *Model) Count(ctx context.Context, q schema.Query) (int64, error) {
	recs, err := m.Find(ctx, q, schema.FindOptions{})
	if err != nil {
		return 0, err
	}
	return int64(len(recs)), nil
}

func (m *Model) rewrite(ctx context.Context, rec, patch schema.Record) (schema.Record, error) {
	merged := repository.Merge(rec, patch)
	merged[schema.FieldUpdatedAt] = m.timestamp()

	out, err := m.lifecycle.Prepare(ctx, merged)
	if err != nil {
		return nil, err
	}
	if err := m.checkUnique(ctx, out); err != nil {
		return nil, err
	}
	if err := m.write(out); err != nil {
		return nil, err
	}
	if err := m.lifecycle.Written(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// checkUnique rejects rec when another record holds the same value in a unique field.
func (m *Model) checkUnique(ctx context.Context, rec schema.Record) error {
	fields := m.entity.UniqueFields()
	if len(fields) == 0 {
		return nil
	}
	others, err := m.readAll(ctx)
	if err != nil {
		return err
	}
	id := rec.ID()
	for _, f := range fields {
		v := rec[f]
		if v == nil {
			continue
		}
		for _, other := range others {
			if other.ID() != id && schema.Equal(other[f], v) {
				return schema.NewValidationError(f, "must be unique")
			}
		}
	}
	return nil
}

func (m *Model) readAll(ctx context.Context) ([]schema.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []schema.Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read collection %s: %w", m.dir, err)
	}

	recs := make([]schema.Record, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ext) || strings.HasPrefix(name, ".") {
			continue
		}
		rec, err := m.read(filepath.Join(m.dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			// deleted between listing and reading
			continue
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (m *Model) read(path string) (schema.Record, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec schema.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return rec, nil
}

func (m *Model) write(rec schema.Record) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create collection dir: %w", err)
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	id := rec.ID()
	tmp, err := os.CreateTemp(m.dir, "."+id+"-*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", id, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(b, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", id, err)
	}
	if err := os.Rename(tmp.Name(), m.path(id)); err != nil {
		return fmt.Errorf("write %s: %w", id, err)
	}
	return nil
}

func (m *Model) remove(id string) (bool, error) {
	err := os.Remove(m.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", id, err)
	}
	return true, nil
}
