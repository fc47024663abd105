package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"regapi/internal/config"
)

func TestBuildPostgresDSN(t *testing.T) {
	base := config.DatabaseConfig{Host: "db", Port: "5432", User: "app", Name: "regapi"}

	tests := []struct {
		name    string
		modify  func(c *config.DatabaseConfig)
		want    string
		wantErr bool
	}{
		{
			name: "password, sslmode and timeout",
			modify: func(c *config.DatabaseConfig) {
				c.Password = "s3cret"
				c.SSLMode = "require"
				c.ConnectTimeoutSec = 5
			},
			want: "postgres://app:s3cret@db:5432/regapi?application_name=regapi&connect_timeout=5&sslmode=require",
		},
		{
			name:   "minimal",
			modify: func(c *config.DatabaseConfig) {},
			want:   "postgres://app@db:5432/regapi?application_name=regapi",
		},
		{
			name:   "password is escaped",
			modify: func(c *config.DatabaseConfig) { c.Password = "p@ss/word" },
			want:   "postgres://app:p%40ss%2Fword@db:5432/regapi?application_name=regapi",
		},
		{name: "missing host", modify: func(c *config.DatabaseConfig) { c.Host = "" }, wantErr: true},
		{name: "missing port", modify: func(c *config.DatabaseConfig) { c.Port = "" }, wantErr: true},
		{name: "missing user", modify: func(c *config.DatabaseConfig) { c.User = "" }, wantErr: true},
		{name: "missing name", modify: func(c *config.DatabaseConfig) { c.Name = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.modify(&c)
			got, err := BuildPostgresDSN(c)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func stubOpen(t *testing.T, db *sql.DB, err error) {
	t.Helper()
	orig := sqlOpen
	sqlOpen = func(driverName, dsn string) (*sql.DB, error) { return db, err }
	t.Cleanup(func() { sqlOpen = orig })
}

func TestNewPostgres(t *testing.T) {
	ctx := context.Background()
	conf := config.DatabaseConfig{
		Host:               "db",
		Port:               "5432",
		User:               "app",
		Name:               "regapi",
		MaxOpenConns:       10,
		MaxIdleConns:       5,
		ConnMaxLifetimeSec: 300,
	}

	t.Run("success is logged", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer db.Close()
		stubOpen(t, db, nil)
		mock.ExpectPing()

		core, logs := observer.New(zap.InfoLevel)
		got, err := NewPostgres(ctx, conf, zap.New(core))
		require.NoError(t, err)
		assert.Same(t, db, got)
		assert.Equal(t, 10, got.Stats().MaxOpenConnections)
		assert.NoError(t, mock.ExpectationsWereMet())

		entries := logs.FilterMessage("db_connected").All()
		require.Len(t, entries, 1)
		assert.Equal(t, "database", entries[0].ContextMap()["component"])
		assert.Equal(t, "regapi", entries[0].ContextMap()["database"])
	})

	t.Run("open error", func(t *testing.T) {
		stubOpen(t, nil, errors.New("open error"))

		got, err := NewPostgres(ctx, conf, zap.NewNop())
		assert.EqualError(t, err, "sql open: open error")
		assert.Nil(t, got)
	})

	t.Run("ping error closes the pool", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		require.NoError(t, err)
		stubOpen(t, db, nil)
		mock.ExpectPing().WillReturnError(errors.New("ping failed"))
		mock.ExpectClose()

		core, logs := observer.New(zap.InfoLevel)
		got, err := NewPostgres(ctx, conf, zap.New(core))
		assert.EqualError(t, err, "db ping: ping failed")
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.Equal(t, 1, logs.FilterMessage("db_connect_failed").Len())
	})

	t.Run("invalid config", func(t *testing.T) {
		got, err := NewPostgres(ctx, config.DatabaseConfig{}, zap.NewNop())
		assert.ErrorContains(t, err, "invalid database config")
		assert.Nil(t, got)
	})
}

func TestNewMongo(t *testing.T) {
	ctx := context.Background()
	conf := config.MongoConfig{URI: "mongodb://localhost:27017", Database: "regapi", MaxPoolSize: 5}

	t.Run("invalid config", func(t *testing.T) {
		client, db, err := NewMongo(ctx, config.MongoConfig{URI: conf.URI}, zap.NewNop())
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Nil(t, db)
	})

	t.Run("connect error", func(t *testing.T) {
		orig := mongoConnect
		defer func() { mongoConnect = orig }()
		var gotOpts []*options.ClientOptions
		mongoConnect = func(ctx context.Context, opts ...*options.ClientOptions) (*mongo.Client, error) {
			gotOpts = opts
			return nil, errors.New("dial failed")
		}

		_, _, err := NewMongo(ctx, conf, zap.NewNop())
		assert.EqualError(t, err, "mongo connect: dial failed")
		require.Len(t, gotOpts, 1)
		assert.Equal(t, "regapi", *gotOpts[0].AppName)
		assert.Equal(t, uint64(5), *gotOpts[0].MaxPoolSize)
	})

	t.Run("bad uri", func(t *testing.T) {
		_, _, err := NewMongo(ctx, config.MongoConfig{URI: "http://localhost", Database: "regapi"}, zap.NewNop())
		assert.ErrorContains(t, err, "mongo connect")
	})

	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	mt.Run("ping ok", func(mt *mtest.T) {
		orig := mongoConnect
		defer func() { mongoConnect = orig }()
		mongoConnect = func(context.Context, ...*options.ClientOptions) (*mongo.Client, error) { return mt.Client, nil }
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		client, db, err := NewMongo(ctx, conf, zap.NewNop())
		require.NoError(mt, err)
		assert.Same(mt, mt.Client, client)
		assert.Equal(mt, "regapi", db.Name())
	})
}
