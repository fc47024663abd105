package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"regapi/internal/repository"
	"regapi/internal/schema"
)

var fixedNow = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

var columns = []string{"id", "amount", "meta", "orderNo", "status", "createdAt", "updatedAt"}

func paymentEntity() *schema.Entity {
	return schema.MustNew(schema.Definition{
		Name: "Payment",
		Fields: map[string]schema.FieldDefinition{
			"orderNo": {Type: schema.TypeString, Required: true, Length: 32, Unique: true},
			"amount":  {Type: schema.TypeNumber, Decimal: true},
			"status":  {Type: schema.TypeString, Default: "pending"},
			"meta":    {Type: schema.TypeObject},
		},
		Indexes: []schema.Index{{Fields: []string{"status", "createdAt"}}},
	})
}

func newMockModel(t *testing.T) (*Model, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewModel(db, paymentEntity(), zap.NewNop(), WithClock(func() time.Time { return fixedNow })), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestModel_Plan(t *testing.T) {
	m, _ := newMockModel(t)
	plan := m.Plan()

	assert.Equal(t, "payments", plan.Sentinel)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "payments" (
  "id" BIGSERIAL PRIMARY KEY,
  "amount" DECIMAL(10,2),
  "meta" JSONB,
  "orderNo" VARCHAR(32) NOT NULL UNIQUE,
  "status" TEXT DEFAULT 'pending',
  "createdAt" TIMESTAMPTZ NOT NULL DEFAULT now(),
  "updatedAt" TIMESTAMPTZ NOT NULL DEFAULT now()
)`, plan.Steps[0].SQL)
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "idx_payments_status_createdAt" ON "payments" ("status", "createdAt")`, plan.Steps[1].SQL)
}

func TestModel_Ensure(t *testing.T) {
	m, mock := newMockModel(t)

	mock.ExpectQuery(q("SELECT to_regclass($1) IS NOT NULL")).WithArgs("payments").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(q(`CREATE TABLE IF NOT EXISTS "payments"`)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q(`CREATE INDEX IF NOT EXISTS "idx_payments_status_createdAt"`)).WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, m.Ensure(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModel_Create(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		m, mock := newMockModel(t)

		rows := sqlmock.NewRows(columns).
			AddRow(int64(1), []byte("10.50"), []byte(`{"channel":"wechat"}`), "A1", "pending", fixedNow, fixedNow)
		mock.ExpectQuery(q(`INSERT INTO "payments" ("amount", "meta", "orderNo", "status", "createdAt", "updatedAt") VALUES ($1, $2, $3, $4, $5, $6) RETURNING *`)).
			WithArgs(10.5, `{"channel":"wechat"}`, "A1", "pending", fixedNow, fixedNow).
			WillReturnRows(rows)

		rec, err := m.Create(context.Background(), schema.Record{
			"id":      "ignored",
			"orderNo": "A1",
			"amount":  10.5,
			"meta":    map[string]any{"channel": "wechat"},
			"extra":   "dropped",
		})

		require.NoError(t, err)
		assert.Equal(t, int64(1), rec["id"])
		assert.Equal(t, "1", rec.ID())
		assert.Equal(t, 10.5, rec["amount"])
		assert.Equal(t, map[string]any{"channel": "wechat"}, rec["meta"])
		assert.Equal(t, fixedNow, rec["createdAt"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("validation error issues no query", func(t *testing.T) {
		m, mock := newMockModel(t)

		_, err := m.Create(context.Background(), schema.Record{"amount": 1})

		var ve *schema.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, "orderNo", ve.Field)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation", func(t *testing.T) {
		m, mock := newMockModel(t)

		mock.ExpectQuery(q(`INSERT INTO "payments"`)).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "payments_orderNo_key"})

		_, err := m.Create(context.Background(), schema.Record{"orderNo": "A1"})

		var ve *schema.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, "orderNo", ve.Field)
		assert.Equal(t, "must be unique", ve.Message)
	})
}

func TestModel_IntegerColumns(t *testing.T) {
	newModel := func(t *testing.T) (*Model, sqlmock.Sqlmock) {
		t.Helper()
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		e := schema.MustNew(schema.Definition{
			Name:   "Course",
			Fields: map[string]schema.FieldDefinition{"seats": {Type: schema.TypeNumber}},
		})
		return NewModel(db, e, zap.NewNop(), WithClock(func() time.Time { return fixedNow })), mock
	}

	tests := []struct {
		name    string
		seats   any
		wantMsg string
	}{
		{name: "fraction", seats: 10.5, wantMsg: "must be an integer"},
		{name: "json number fraction", seats: json.Number("2.25"), wantMsg: "must be an integer"},
		{name: "above int32", seats: float64(math.MaxInt32) + 1, wantMsg: "is out of range"},
		{name: "below int32", seats: int64(math.MinInt32) - 1, wantMsg: "is out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, mock := newModel(t)

			_, err := m.Create(context.Background(), schema.Record{"seats": tt.seats})

			var ve *schema.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, "seats", ve.Field)
			assert.Equal(t, tt.wantMsg, ve.Message)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}

	t.Run("whole number is written", func(t *testing.T) {
		m, mock := newModel(t)

		mock.ExpectQuery(q(`INSERT INTO "courses" ("seats", "createdAt", "updatedAt") VALUES ($1, $2, $3) RETURNING *`)).
			WithArgs(float64(12), fixedNow, fixedNow).
			WillReturnRows(sqlmock.NewRows([]string{"id", "seats", "createdAt", "updatedAt"}).AddRow(int64(1), int64(12), fixedNow, fixedNow))

		rec, err := m.Create(context.Background(), schema.Record{"seats": float64(12)})
		require.NoError(t, err)
		assert.Equal(t, int64(12), rec["seats"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fraction in a patch is not written", func(t *testing.T) {
		m, mock := newModel(t)

		mock.ExpectQuery(q(`SELECT * FROM "courses" WHERE "id" = $1`)).WithArgs(int64(4)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "seats", "createdAt", "updatedAt"}).AddRow(int64(4), int64(12), fixedNow, fixedNow))

		rec, err := m.FindByIDAndUpdate(context.Background(), "4", schema.Record{"seats": 12.5})
		assert.ErrorIs(t, err, schema.ErrValidation)
		assert.Nil(t, rec)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestModel_Find(t *testing.T) {
	tests := []struct {
		name  string
		query schema.Query
		opts  schema.FindOptions
		sql   string
		args  []driver.Value
	}{
		{
			name: "all",
			sql:  `SELECT * FROM "payments" ORDER BY "id" ASC`,
		},
		{
			name:  "equality sort and window",
			query: schema.Query{"status": "paid", "orderNo": "A1"},
			opts:  schema.FindOptions{Sort: []schema.SortKey{{Field: "amount", Order: schema.Desc}}, Skip: 20, Limit: 10},
			sql:   `SELECT * FROM "payments" WHERE "orderNo" = $1 AND "status" = $2 ORDER BY "amount" DESC, "id" ASC LIMIT $3 OFFSET $4`,
			args:  []driver.Value{"A1", "paid", 10, 20},
		},
		{
			name:  "nil and unknown keys",
			query: schema.Query{"meta": nil, "ghost": 1},
			sql:   `SELECT * FROM "payments" WHERE FALSE AND "meta" IS NULL ORDER BY "id" ASC`,
		},
		{
			name:  "id is parsed",
			query: schema.Query{"id": "42"},
			opts:  schema.FindOptions{Sort: repository.CreationOrder},
			sql:   `SELECT * FROM "payments" WHERE "id" = $1 ORDER BY "createdAt" ASC, "id" ASC`,
			args:  []driver.Value{int64(42)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, mock := newMockModel(t)
			exp := mock.ExpectQuery("^" + q(tt.sql) + "$")
			if len(tt.args) > 0 {
				exp = exp.WithArgs(tt.args...)
			}
			exp.WillReturnRows(sqlmock.NewRows(columns).
				AddRow(int64(42), "5", nil, "A1", "paid", fixedNow, fixedNow))

			recs, err := m.Find(context.Background(), tt.query, tt.opts)
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Equal(t, float64(5), recs[0]["amount"])
			assert.Nil(t, recs[0]["meta"])
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestModel_FindRange(t *testing.T) {
	m, mock := newMockModel(t)
	start := fixedNow.Add(-24 * time.Hour)

	mock.ExpectQuery("^" + q(`SELECT * FROM "payments" WHERE "status" = $1 AND "createdAt" >= $2 AND "createdAt" <= $3 ORDER BY "createdAt" ASC, "id" ASC`) + "$").
		WithArgs("paid", start, fixedNow).
		WillReturnRows(sqlmock.NewRows(columns))

	recs, err := m.FindRange(context.Background(), schema.Query{"status": "paid"},
		repository.Range{Field: "createdAt", Start: start, End: &fixedNow},
		schema.FindOptions{Sort: []schema.SortKey{{Field: "createdAt", Order: schema.Asc}}})

	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModel_FindByID(t *testing.T) {
	m, mock := newMockModel(t)
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery(q(`SELECT * FROM "payments" WHERE "id" = $1`)).WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(int64(7), nil, nil, "A7", "paid", fixedNow, fixedNow))

		rec, err := m.FindByID(ctx, "7")
		require.NoError(t, err)
		assert.Equal(t, "A7", rec["orderNo"])
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(q(`SELECT * FROM "payments" WHERE "id" = $1`)).WithArgs(int64(8)).
			WillReturnRows(sqlmock.NewRows(columns))

		rec, err := m.FindByID(ctx, "8")
		assert.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("non numeric id", func(t *testing.T) {
		rec, err := m.FindByID(ctx, "abc")
		assert.NoError(t, err)
		assert.Nil(t, rec)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModel_Update(t *testing.T) {
	created := fixedNow.Add(-time.Hour)

	t.Run("single update targets the earliest match", func(t *testing.T) {
		m, mock := newMockModel(t)

		mock.ExpectQuery("^" + q(`SELECT * FROM "payments" WHERE "status" = $1 ORDER BY "createdAt" ASC, "id" ASC LIMIT $2`) + "$").
			WithArgs("pending", 1).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(int64(3), "10", nil, "A3", "pending", created, created))
		mock.ExpectQuery("^" + q(`UPDATE "payments" SET "amount" = $1, "meta" = $2, "orderNo" = $3, "status" = $4, "updatedAt" = $5 WHERE "id" = $6 RETURNING *`) + "$").
			WithArgs(float64(10), nil, "A3", "paid", fixedNow, int64(3)).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(int64(3), "10", nil, "A3", "paid", created, fixedNow))

		n, err := m.Update(context.Background(), schema.Query{"status": "pending"}, schema.Record{"status": "paid", "createdAt": fixedNow}, schema.UpdateOptions{})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("multi update has no limit", func(t *testing.T) {
		m, mock := newMockModel(t)

		mock.ExpectQuery("^" + q(`SELECT * FROM "payments" WHERE "status" = $1 ORDER BY "createdAt" ASC, "id" ASC`) + "$").
			WithArgs("pending").
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(int64(1), nil, nil, "A1", "pending", created, created).
				AddRow(int64(2), nil, nil, "A2", "pending", created, created))
		for _, id := range []int64{1, 2} {
			mock.ExpectQuery(q(`UPDATE "payments" SET`)).
				WithArgs(nil, nil, sqlmock.AnyArg(), "paid", fixedNow, id).
				WillReturnRows(sqlmock.NewRows(columns).AddRow(id, nil, nil, "A", "paid", created, fixedNow))
		}

		n, err := m.Update(context.Background(), schema.Query{"status": "pending"}, schema.Record{"status": "paid"}, schema.UpdateOptions{Multi: true})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid patch is not written", func(t *testing.T) {
		m, mock := newMockModel(t)

		mock.ExpectQuery(q(`SELECT * FROM "payments" WHERE "id" = $1`)).WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows(columns).AddRow(int64(3), nil, nil, "A3", "pending", created, created))

		rec, err := m.FindByIDAndUpdate(context.Background(), "3", schema.Record{"orderNo": strings.Repeat("x", 40)})
		assert.ErrorIs(t, err, schema.ErrValidation)
		assert.Nil(t, rec)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestModel_Delete(t *testing.T) {
	m, mock := newMockModel(t)
	ctx := context.Background()

	mock.ExpectExec("^" + q(`DELETE FROM "payments" WHERE "status" = $1`) + "$").WithArgs("void").
		WillReturnResult(sqlmock.NewResult(0, 3))
	n, err := m.Delete(ctx, schema.Query{"status": "void"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	mock.ExpectQuery(q(`DELETE FROM "payments" WHERE "id" = $1 RETURNING *`)).WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(columns))
	rec, err := m.FindByIDAndDelete(ctx, "9")
	assert.NoError(t, err)
	assert.Nil(t, rec)

	mock.ExpectExec(q(`DELETE FROM "payments"`)).WillReturnError(sql.ErrConnDone)
	_, err = m.Delete(ctx, nil)
	assert.ErrorIs(t, err, sql.ErrConnDone)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestModel_Count(t *testing.T) {
	m, mock := newMockModel(t)

	mock.ExpectQuery("^" + q(`SELECT COUNT(*) FROM "payments" WHERE "status" = $1`) + "$").WithArgs("paid").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := m.Count(context.Background(), schema.Query{"status": "paid"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
