package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"regapi/internal/database/migration"
	"regapi/internal/repository"
	"regapi/internal/schema"
)

const uniqueViolation = "23505"

// Model maps an entity onto one PostgreSQL table. Every declared field is a column; the
// table also carries a BIGSERIAL "id" and createdAt/updatedAt timestamps.
// It uses database/sql with parameterized queries; identifiers are quoted with pgx.
type Model struct {
	db        *sql.DB
	entity    *schema.Entity
	table     string
	columns   map[string]schema.Column
	lifecycle *repository.Lifecycle
	log       *zap.Logger
	now       func() time.Time
}

var (
	_ repository.Model       = (*Model)(nil)
	_ repository.RangeFinder = (*Model)(nil)
)

// Option configures a Model.
type Option func(*Model)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Model) { m.now = now }
}

// NewModel creates the relational model for e. Call Ensure before first use.
func NewModel(db *sql.DB, e *schema.Entity, log *zap.Logger, opts ...Option) *Model {
	m := &Model{
		db:        db,
		entity:    e,
		table:     e.StorageName(),
		columns:   make(map[string]schema.Column, len(e.FieldNames())),
		lifecycle: repository.NewLifecycle(e, log),
		log:       log,
		now:       time.Now,
	}
	for _, name := range e.FieldNames() {
		f, _ := e.Field(name)
		m.columns[name] = schema.ToRelational(f)
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Model) Entity() *schema.Entity { return m.entity }
func (m *Model) Backend() repository.Backend { return repository.Relational }

// Table is the table name.
func (m *Model) Table() string { return m.table }

func ident(name string) string { return pgx.Identifier{name}.Sanitize() }

// Plan returns the DDL that creates the table, its unique constraints and declared indexes.
func (m *Model) Plan() migration.Plan {
	defs := []string{ident(schema.FieldID) + " BIGSERIAL PRIMARY KEY"}
	for _, name := range m.entity.FieldNames() {
		c := m.columns[name]
		def := ident(name) + " " + c.Type
		if c.NotNull {
			def += " NOT NULL"
		}
		if c.Unique {
			def += " UNIQUE"
		}
		if lit, ok := literal(c.Default); ok && !c.JSON {
			def += " DEFAULT " + lit
		}
		defs = append(defs, def)
	}
	defs = append(defs,
		ident(schema.FieldCreatedAt)+" TIMESTAMPTZ NOT NULL DEFAULT now()",
		ident(schema.FieldUpdatedAt)+" TIMESTAMPTZ NOT NULL DEFAULT now()",
	)

	steps := []migration.Step{{
		Name: "create_table_" + m.table,
		SQL:  fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", ident(m.table), strings.Join(defs, ",\n  ")),
	}}
	for _, idx := range m.entity.Indexes() {
		name := idx.Name
		if name == "" {
			name = "idx_" + m.table + "_" + strings.Join(idx.Fields, "_")
		}
		cols := make([]string, len(idx.Fields))
		for i, f := range idx.Fields {
			cols[i] = ident(f)
		}
		kind := "INDEX"
		if idx.Unique {
			kind = "UNIQUE INDEX"
		}
		steps = append(steps, migration.Step{
			Name: "create_index_" + name,
			SQL:  fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)", kind, ident(name), ident(m.table), strings.Join(cols, ", ")),
		})
	}
	return migration.Plan{Sentinel: m.table, Steps: steps}
}

// Ensure creates the table when it does not exist.
func (m *Model) Ensure(ctx context.Context) error {
	return migration.Apply(ctx, m.db, m.Plan(), m.log)
}

// Create inserts a row and returns it as stored. The id is always assigned by the database.
func (m *Model) Create(ctx context.Context, data schema.Record) (schema.Record, error) {
	rec := data.Clone()
	delete(rec, schema.FieldID)
	now := m.now().UTC()
	rec[schema.FieldCreatedAt] = now
	rec[schema.FieldUpdatedAt] = now

	out, err := m.lifecycle.Prepare(ctx, rec)
	if err != nil {
		return nil, err
	}
	if err := m.checkIntegers(out); err != nil {
		return nil, err
	}

	cols := make([]string, 0, len(out))
	holders := make([]string, 0, len(out))
	args := make([]any, 0, len(out))
	for _, name := range m.entity.FieldNames() {
		v, ok := out[name]
		if !ok {
			continue
		}
		args = append(args, m.arg(name, v))
		cols = append(cols, ident(name))
		holders = append(holders, "$"+strconv.Itoa(len(args)))
	}
	for _, name := range []string{schema.FieldCreatedAt, schema.FieldUpdatedAt} {
		args = append(args, now)
		cols = append(cols, ident(name))
		holders = append(holders, "$"+strconv.Itoa(len(args)))
	}

	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *", ident(m.table), strings.Join(cols, ", "), strings.Join(holders, ", "))
	recs, err := m.query(ctx, q, args...)
	if err != nil {
		return nil, m.mapError(err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("insert into %s returned no row", m.table)
	}
	if err := m.lifecycle.Written(ctx, recs[0]); err != nil {
		return nil, err
	}
	return recs[0], nil
}

func (m *Model) Find(ctx context.Context, q schema.Query, opts schema.FindOptions) ([]schema.Record, error) {
	return m.find(ctx, q, nil, opts)
}

// FindRange evaluates r in SQL.
func (m *Model) FindRange(ctx context.Context, q schema.Query, r repository.Range, opts schema.FindOptions) ([]schema.Record, error) {
	return m.find(ctx, q, &r, opts)
}

func (m *Model) find(ctx context.Context, q schema.Query, r *repository.Range, opts schema.FindOptions) ([]schema.Record, error) {
	var w where
	m.filter(&w, q)
	if r != nil {
		w.add(ident(r.Field)+" >= ", r.Start)
		if r.End != nil {
			w.add(ident(r.Field)+" <= ", *r.End)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM %s%s", ident(m.table), w.sql())
	b.WriteString(m.orderBy(opts.Sort))
	args := w.args
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if opts.Skip > 0 {
		args = append(args, opts.Skip)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return m.query(ctx, b.String(), args...)
}

func (m *Model) FindOne(ctx context.Context, q schema.Query) (schema.Record, error) {
	recs, err := m.Find(ctx, q, schema.FindOptions{Sort: repository.CreationOrder, Limit: 1})
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// FindByID looks a row up by primary key. An id that is not an integer matches nothing.
func (m *Model) FindByID(ctx context.Context, id string) (schema.Record, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, nil
	}
	recs, err := m.query(ctx, fmt.Sprintf("SELECT * FROM %s WHERE %s = $1", ident(m.table), ident(schema.FieldID)), n)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// Update rewrites matching rows. Without opts.Multi only the first match in CreationOrder
// is updated.
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
	var w where
	m.filter(&w, q)
	res, err := m.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s%s", ident(m.table), w.sql()), w.args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (m *Model) FindByIDAndDelete(ctx context.Context, id string) (schema.Record, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, nil
	}
	recs, err := m.query(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s = $1 RETURNING *", ident(m.table), ident(schema.FieldID)), n)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

func (m *Model) Count(ctx context.Context, q schema.Query) (int64, error) {
	var w where
	m.filter(&w, q)
	var n int64
	if err := m.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s%s", ident(m.table), w.sql()), w.args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (m *Model) rewrite(ctx context.Context, rec, patch schema.Record) (schema.Record, error) {
	merged := repository.Merge(rec, patch)
	now := m.now().UTC()
	merged[schema.FieldUpdatedAt] = now

	out, err := m.lifecycle.Prepare(ctx, merged)
	if err != nil {
		return nil, err
	}
	if err := m.checkIntegers(out); err != nil {
		return nil, err
	}

	names := m.entity.FieldNames()
	sets := make([]string, 0, len(names)+1)
	args := make([]any, 0, len(names)+2)
	for _, name := range names {
		args = append(args, m.arg(name, out[name]))
		sets = append(sets, fmt.Sprintf("%s = $%d", ident(name), len(args)))
	}
	args = append(args, now)
	sets = append(sets, fmt.Sprintf("%s = $%d", ident(schema.FieldUpdatedAt), len(args)))
	args = append(args, rec[schema.FieldID])

	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d RETURNING *",
		ident(m.table), strings.Join(sets, ", "), ident(schema.FieldID), len(args))
	recs, err := m.query(ctx, q, args...)
	if err != nil {
		return nil, m.mapError(err)
	}
	if len(recs) == 0 {
		// deleted concurrently
		return nil, nil
	}
	if err := m.lifecycle.Written(ctx, recs[0]); err != nil {
		return nil, err
	}
	return recs[0], nil
}

// where accumulates AND-ed conditions with positional arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(expr string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf("%s$%d", expr, len(w.args)))
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// filter translates an equality query. A key that is not a column matches nothing
// unless its value is nil, mirroring a missing field.
func (m *Model) filter(w *where, q schema.Query) {
	for _, k := range q.Keys() {
		v := q[k]
		if !m.entity.HasField(k) {
			if v != nil {
				w.conds = append(w.conds, "FALSE")
			}
			continue
		}
		if v == nil {
			w.conds = append(w.conds, ident(k)+" IS NULL")
			continue
		}
		if k == schema.FieldID {
			n, err := strconv.ParseInt(fmt.Sprint(v), 10, 64)
			if err != nil {
				w.conds = append(w.conds, "FALSE")
				continue
			}
			v = n
		}
		w.add(ident(k)+" = ", m.arg(k, v))
	}
}

func (m *Model) orderBy(keys []schema.SortKey) string {
	parts := make([]string, 0, len(keys)+1)
	seenID := false
	for _, k := range keys {
		if !m.entity.HasField(k.Field) {
			continue
		}
		dir := "ASC"
		if k.Order == schema.Desc {
			dir = "DESC"
		}
		parts = append(parts, ident(k.Field)+" "+dir)
		seenID = seenID || k.Field == schema.FieldID
	}
	if !seenID {
		parts = append(parts, ident(schema.FieldID)+" ASC")
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// checkIntegers rejects numbers an INTEGER column cannot hold.
func (m *Model) checkIntegers(rec schema.Record) error {
	for _, name := range m.entity.FieldNames() {
		v := rec[name]
		if v == nil || !m.columns[name].Integer {
			continue
		}
		n, ok := schema.ToFloat(v)
		if !ok {
			continue
		}
		if n != math.Trunc(n) {
			return schema.NewValidationError(name, "must be an integer")
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return schema.NewValidationError(name, "is out of range")
		}
	}
	return nil
}

// arg converts a validated value to its driver representation.
func (m *Model) arg(name string, v any) any {
	if v == nil {
		return nil
	}
	switch name {
	case schema.FieldCreatedAt, schema.FieldUpdatedAt:
		if t, ok := schema.AsTime(v); ok {
			return t
		}
		return v
	}
	c, ok := m.columns[name]
	if !ok {
		return v
	}
	switch {
	case c.Time:
		if t, ok := schema.AsTime(v); ok {
			return t
		}
	case c.JSON:
		b, err := json.Marshal(v)
		if err == nil {
			return string(b)
		}
	}
	return v
}

// value converts a scanned column to its record representation.
func (m *Model) value(name string, v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return x.UTC()
	case [16]byte:
		return uuid.UUID(x).String()
	case []byte:
		v = string(x)
	}
	f, _ := m.entity.Field(name)
	s, isString := v.(string)
	switch {
	case !isString:
		return v
	case f.Type == schema.TypeNumber:
		if n, ok := schema.ToFloat(s); ok {
			return n
		}
	case m.columns[name].JSON:
		var out any
		if err := json.Unmarshal([]byte(s), &out); err == nil {
			return out
		}
	}
	return s
}

func (m *Model) query(ctx context.Context, q string, args ...any) ([]schema.Record, error) {
	rows, err := m.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make([]schema.Record, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rec := make(schema.Record, len(cols))
		for i, c := range cols {
			rec[c] = m.value(c, vals[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// mapError turns a unique violation into a validation error on the offending column.
func (m *Model) mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	field := strings.TrimSuffix(strings.TrimPrefix(pgErr.ConstraintName, m.table+"_"), "_key")
	if !m.entity.HasField(field) {
		field = pgErr.ConstraintName
	}
	return schema.NewValidationError(field, "must be unique")
}

// literal renders a scalar default as SQL.
func literal(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'", true
	case bool:
		return strconv.FormatBool(x), true
	}
	if f, ok := schema.ToFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "", false
}

// Columns returns the declared column names in table order, for diagnostics.
func (m *Model) Columns() []string {
	out := make([]string, 0, len(m.columns)+3)
	out = append(out, schema.FieldID)
	out = append(out, m.entity.FieldNames()...)
	out = append(out, schema.FieldCreatedAt, schema.FieldUpdatedAt)
	return out
}
