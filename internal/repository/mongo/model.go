package mongo

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"regapi/internal/repository"
	"regapi/internal/schema"
)

const (
	docID             = "_id"
	namespaceExists   = 48
	uniqueIndexSuffix = "_unique"
)

var dupIndex = regexp.MustCompile(`index: (\S+)`)

// Model maps an entity onto one MongoDB collection. The record id is stored as a string
// _id; date fields and timestamps are stored as BSON dates.
type Model struct {
	db        *mongo.Database
	coll      *mongo.Collection
	entity    *schema.Entity
	lifecycle *repository.Lifecycle
	log       *zap.Logger
	now       func() time.Time
	newID     func() string
}

var (
	_ repository.Model       = (*Model)(nil)
	_ repository.RangeFinder = (*Model)(nil)
)

type Option func(*Model)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Model) { m.now = now }
}

// WithIDGenerator overrides id generation for records created without an id.
func WithIDGenerator(gen func() string) Option {
	return func(m *Model) { m.newID = gen }
}

// NewModel creates the document model for e in db. Call Ensure before first use.
func NewModel(db *mongo.Database, e *schema.Entity, log *zap.Logger, opts ...Option) *Model {
	m := &Model{
		db:        db,
		coll:      db.Collection(e.StorageName()),
		entity:    e,
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
func (m *Model) Backend() repository.Backend { return repository.Document }

// Collection is the underlying collection.
func (m *Model) Collection() *mongo.Collection { return m.coll }

// JSONSchema is the $jsonSchema validator installed on the collection.
func (m *Model) JSONSchema() bson.M {
	props := bson.M{
		docID:                 bson.M{"bsonType": "string"},
		schema.FieldCreatedAt: bson.M{"bsonType": "date"},
		schema.FieldUpdatedAt: bson.M{"bsonType": "date"},
	}
	required := []string{}
	for _, name := range m.entity.FieldNames() {
		f, _ := m.entity.Field(name)
		df := schema.ToDocument(f)
		props[name] = df.JSONSchema()
		if df.Required {
			required = append(required, name)
		}
	}
	out := bson.M{"bsonType": "object", "properties": props}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

// Ensure creates the collection with its validator, or updates the validator when the
// collection already exists, then creates unique and declared indexes.
func (m *Model) Ensure(ctx context.Context) error {
	name := m.coll.Name()
	validator := bson.M{"$jsonSchema": m.JSONSchema()}

	err := m.db.CreateCollection(ctx, name, options.CreateCollection().SetValidator(validator))
	var cmdErr mongo.CommandError
	switch {
	case err == nil:
		m.log.Info("collection created", zap.String("collection", name))
	case errors.As(err, &cmdErr) && cmdErr.Code == namespaceExists:
		cmd := bson.D{{Key: "collMod", Value: name}, {Key: "validator", Value: validator}}
		if err := m.db.RunCommand(ctx, cmd).Err(); err != nil {
			return err
		}
		m.log.Info("collection validator updated", zap.String("collection", name))
	default:
		return err
	}

	indexes := m.indexModels()
	if len(indexes) == 0 {
		return nil
	}
	_, err = m.coll.Indexes().CreateMany(ctx, indexes)
	return err
}

func (m *Model) indexModels() []mongo.IndexModel {
	var out []mongo.IndexModel
	for _, f := range m.entity.UniqueFields() {
		out = append(out, mongo.IndexModel{
			Keys:    bson.D{{Key: f, Value: 1}},
			Options: options.Index().SetUnique(true).SetName(f + uniqueIndexSuffix),
		})
	}
	for _, idx := range m.entity.Indexes() {
		keys := bson.D{}
		for _, f := range idx.Fields {
			keys = append(keys, bson.E{Key: f, Value: 1})
		}
		opts := options.Index().SetUnique(idx.Unique)
		if idx.Name != "" {
			opts.SetName(idx.Name)
		}
		out = append(out, mongo.IndexModel{Keys: keys, Options: opts})
	}
	return out
}

func (m *Model) Create(ctx context.Context, data schema.Record) (schema.Record, error) {
	rec := data.Clone()
	if rec.ID() == "" {
		rec[schema.FieldID] = m.newID()
	} else {
		rec[schema.FieldID] = rec.ID()
	}
	now := m.now().UTC()
	rec[schema.FieldCreatedAt] = now
	rec[schema.FieldUpdatedAt] = now

	out, err := m.lifecycle.Prepare(ctx, rec)
	if err != nil {
		return nil, err
	}
	doc := m.toDocument(out)
	if _, err := m.coll.InsertOne(ctx, doc); err != nil {
		return nil, m.mapError(err)
	}
	stored := m.fromDocument(doc)
	if err := m.lifecycle.Written(ctx, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

func (m *Model) Find(ctx context.Context, q schema.Query, opts schema.FindOptions) ([]schema.Record, error) {
	return m.find(ctx, m.filter(q), opts)
}

// FindRange evaluates r as a $gte/$lte condition.
func (m *Model) FindRange(ctx context.Context, q schema.Query, r repository.Range, opts schema.FindOptions) ([]schema.Record, error) {
	cond := bson.M{"$gte": r.Start}
	if r.End != nil {
		cond["$lte"] = *r.End
	}
	filter := append(m.filter(q), bson.E{Key: m.key(r.Field), Value: cond})
	return m.find(ctx, filter, opts)
}

func (m *Model) find(ctx context.Context, filter bson.D, opts schema.FindOptions) ([]schema.Record, error) {
	fo := options.Find().SetSort(m.sort(opts.Sort))
	if opts.Skip > 0 {
		fo.SetSkip(int64(opts.Skip))
	}
	if opts.Limit > 0 {
		fo.SetLimit(int64(opts.Limit))
	}
	cur, err := m.coll.Find(ctx, filter, fo)
	if err != nil {
		return nil, err
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]schema.Record, len(docs))
	for i, d := range docs {
		out[i] = m.fromDocument(d)
	}
	return out, nil
}

func (m *Model) FindOne(ctx context.Context, q schema.Query) (schema.Record, error) {
	recs, err := m.Find(ctx, q, schema.FindOptions{Sort: repository.CreationOrder, Limit: 1})
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

func (m *Model) FindByID(ctx context.Context, id string) (schema.Record, error) {
	return m.decodeOne(m.coll.FindOne(ctx, bson.D{{Key: docID, Value: id}}))
}

// Update replaces matching documents with the merged, revalidated record. Without
// opts.Multi only the first match in CreationOrder is updated.
func (m *Model) Update(ctx context.Context, q schema.Query, patch schema.Record, opts schema.UpdateOptions) (int64, error) {
	fo := schema.FindOptions{Sort: repository.CreationOrder}
	if !opts.Multi {
		fo.Limit = 1
	}
	recs, err := m.Find(ctx, q, fo)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, rec := range recs {
		out, err := m.rewrite(ctx, rec, patch)
		if err != nil {
			return n, err
		}
		if out != nil {
			n++
		}
	}
	return n, nil
}

func (m *Model) FindByIDAndUpdate(ctx context.Context, id string, patch schema.Record) (schema.Record, error) {
	rec, err := m.FindByID(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return m.rewrite(ctx, rec, patch)
}

func (m *Model) Delete(ctx context.Context, q schema.Query) (int64, error) {
	res, err := m.coll.DeleteMany(ctx, m.filter(q))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (m *Model) FindByIDAndDelete(ctx context.Context, id string) (schema.Record, error) {
	return m.decodeOne(m.coll.FindOneAndDelete(ctx, bson.D{{Key: docID, Value: id}}))
}

func (m *Model) Count(ctx context.Context, q schema.Query) (int64, error) {
	return m.coll.CountDocuments(ctx, m.filter(q))
}

func (m *Model) rewrite(ctx context.Context, rec, patch schema.Record) (schema.Record, error) {
	merged := repository.Merge(rec, patch)
	merged[schema.FieldUpdatedAt] = m.now().UTC()

	out, err := m.lifecycle.Prepare(ctx, merged)
	if err != nil {
		return nil, err
	}
	doc := m.toDocument(out)
	res, err := m.coll.ReplaceOne(ctx, bson.D{{Key: docID, Value: doc[docID]}}, doc)
	if err != nil {
		return nil, m.mapError(err)
	}
	if res.MatchedCount == 0 {
		// deleted concurrently
		return nil, nil
	}
	stored := m.fromDocument(doc)
	if err := m.lifecycle.Written(ctx, stored); err != nil {
		return nil, err
	}
	return stored, nil
}

func (m *Model) decodeOne(res *mongo.SingleResult) (schema.Record, error) {
	var doc bson.M
	if err := res.Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return m.fromDocument(doc), nil
}

func (m *Model) key(field string) string {
	if field == schema.FieldID {
		return docID
	}
	return field
}

func (m *Model) isDate(field string) bool {
	if field == schema.FieldCreatedAt || field == schema.FieldUpdatedAt {
		return true
	}
	f, ok := m.entity.Field(field)
	return ok && f.Type == schema.TypeDate
}

func (m *Model) filter(q schema.Query) bson.D {
	filter := bson.D{}
	for _, k := range q.Keys() {
		v := q[k]
		if k == schema.FieldID && v != nil {
			v = schema.Record{schema.FieldID: v}.ID()
		}
		if m.isDate(k) {
			if t, ok := schema.AsTime(v); ok {
				v = t
			}
		}
		filter = append(filter, bson.E{Key: m.key(k), Value: v})
	}
	return filter
}

func (m *Model) sort(keys []schema.SortKey) bson.D {
	out := bson.D{}
	seenID := false
	for _, k := range keys {
		out = append(out, bson.E{Key: m.key(k.Field), Value: int(k.Order)})
		seenID = seenID || k.Field == schema.FieldID
	}
	if !seenID {
		out = append(out, bson.E{Key: docID, Value: 1})
	}
	return out
}

// toDocument converts a validated record to its stored form.
func (m *Model) toDocument(rec schema.Record) bson.M {
	doc := make(bson.M, len(rec))
	for k, v := range rec {
		if m.isDate(k) {
			if t, ok := schema.AsTime(v); ok {
				v = t.UTC()
			}
		} else if def, ok := m.entity.Field(k); ok {
			v = bsonValue(def, v)
		}
		doc[m.key(k)] = v
	}
	return doc
}

// bsonValue turns validated date strings back into instants, including array
// elements, so they satisfy the bsonType the collection validator declares.
func bsonValue(def schema.FieldDefinition, v any) any {
	switch def.Type {
	case schema.TypeDate:
		if t, ok := schema.AsTime(v); ok {
			return t.UTC()
		}
	case schema.TypeArray:
		items, ok := v.([]any)
		if !ok || def.Of == nil {
			return v
		}
		out := make(bson.A, len(items))
		for i, item := range items {
			out[i] = bsonValue(*def.Of, item)
		}
		return out
	}
	return v
}

// fromDocument converts a stored document to a record with plain Go values.
func (m *Model) fromDocument(doc bson.M) schema.Record {
	rec := make(schema.Record, len(doc))
	for k, v := range doc {
		if k == docID {
			k = schema.FieldID
		}
		rec[k] = plain(v)
	}
	return rec
}

func plain(v any) any {
	switch x := v.(type) {
	case primitive.DateTime:
		return x.Time().UTC()
	case time.Time:
		return x.UTC()
	case primitive.ObjectID:
		return x.Hex()
	case primitive.Decimal128:
		if f, ok := schema.ToFloat(x.String()); ok {
			return f
		}
		return x.String()
	case primitive.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	case primitive.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = plain(e.Value)
		}
		return out
	case primitive.M:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = plain(e)
		}
		return out
	}
	return v
}

// mapError turns a duplicate key error into a validation error on the indexed field.
func (m *Model) mapError(err error) error {
	if isValidatorRejection(err) {
		return schema.NewValidationError(m.entity.Name(), "does not match the collection validator")
	}
	if !mongo.IsDuplicateKeyError(err) {
		return err
	}
	field := schema.FieldID
	if match := dupIndex.FindStringSubmatch(err.Error()); match != nil {
		name := strings.TrimSuffix(match[1], uniqueIndexSuffix)
		if m.entity.HasField(name) {
			field = name
		}
	}
	return schema.NewValidationError(field, "must be unique")
}

// documentValidationFailure is the server code for a write rejected by $jsonSchema.
const documentValidationFailure = 121

func isValidatorRejection(err error) bool {
	var we mongo.WriteException
	if !errors.As(err, &we) {
		return false
	}
	for _, e := range we.WriteErrors {
		if e.Code == documentValidationFailure {
			return true
		}
	}
	return false
}
