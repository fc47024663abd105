package migration

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var plan = Plan{
	Sentinel: "payments",
	Steps: []Step{
		{Name: "create_table_payments", SQL: `CREATE TABLE IF NOT EXISTS "payments" ("id" BIGSERIAL PRIMARY KEY)`},
		{Name: "create_index_payments_orderNo", SQL: `CREATE INDEX IF NOT EXISTS "idx_payments_orderNo" ON "payments" ("orderNo")`},
	},
}

const sentinelQuery = "SELECT to_regclass($1) IS NOT NULL"

func TestApply(t *testing.T) {
	t.Run("runs every step when the table is missing", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		core, logs := observer.New(zap.InfoLevel)

		mock.ExpectQuery(regexp.QuoteMeta(sentinelQuery)).WithArgs("payments").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec(regexp.QuoteMeta(plan.Steps[0].SQL)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(regexp.QuoteMeta(plan.Steps[1].SQL)).WillReturnResult(sqlmock.NewResult(0, 0))

		require.NoError(t, Apply(context.Background(), db, plan, zap.New(core)))
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.Equal(t, 2, logs.FilterMessage("db_migration_step").Len())
		assert.Equal(t, 1, logs.FilterMessage("db_migration_success").Len())
	})

	t.Run("skips when the table exists", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(sentinelQuery)).WithArgs("payments").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		require.NoError(t, Apply(context.Background(), db, plan, zap.NewNop()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("step failure stops the plan", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(sentinelQuery)).WithArgs("payments").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec(regexp.QuoteMeta(plan.Steps[0].SQL)).WillReturnError(errors.New("permission denied"))

		err = Apply(context.Background(), db, plan, zap.NewNop())
		assert.ErrorContains(t, err, "migration step create_table_payments failed")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("sentinel check failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta(sentinelQuery)).WillReturnError(errors.New("conn reset"))

		err = Apply(context.Background(), db, plan, zap.NewNop())
		assert.ErrorContains(t, err, "failed to check sentinel table payments")
	})
}
