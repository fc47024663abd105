package mocks

import (
	"context"
	"time"

	"regapi/internal/repository"
	"regapi/internal/schema"

	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

var _ repository.Repository = (*MockRepository)(nil)

func record(args mock.Arguments) schema.Record {
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(schema.Record)
}

func (m *MockRepository) Create(ctx context.Context, data schema.Record) (schema.Record, error) {
	args := m.Called(ctx, data)
	return record(args), args.Error(1)
}

func (m *MockRepository) FindOne(ctx context.Context, q schema.Query) (schema.Record, error) {
	args := m.Called(ctx, q)
	return record(args), args.Error(1)
}

func (m *MockRepository) FindByID(ctx context.Context, id string) (schema.Record, error) {
	args := m.Called(ctx, id)
	return record(args), args.Error(1)
}

func (m *MockRepository) Find(ctx context.Context, q schema.Query, opts schema.FindOptions) ([]schema.Record, error) {
	args := m.Called(ctx, q, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schema.Record), args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, q schema.Query, patch schema.Record, opts schema.UpdateOptions) (int64, error) {
	args := m.Called(ctx, q, patch, opts)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) UpdateByID(ctx context.Context, id string, patch schema.Record) (schema.Record, error) {
	args := m.Called(ctx, id, patch)
	return record(args), args.Error(1)
}

func (m *MockRepository) Delete(ctx context.Context, q schema.Query) (int64, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) DeleteByID(ctx context.Context, id string) (schema.Record, error) {
	args := m.Called(ctx, id)
	return record(args), args.Error(1)
}

func (m *MockRepository) Count(ctx context.Context, q schema.Query) (int64, error) {
	args := m.Called(ctx, q)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRepository) Paginate(ctx context.Context, q schema.Query, page, limit int, sort []schema.SortKey) (*repository.Page[schema.Record], error) {
	args := m.Called(ctx, q, page, limit, sort)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Page[schema.Record]), args.Error(1)
}

func (m *MockRepository) FindByDateRange(ctx context.Context, field string, start time.Time, end *time.Time, extra schema.Query) ([]schema.Record, error) {
	args := m.Called(ctx, field, start, end, extra)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schema.Record), args.Error(1)
}

func (m *MockRepository) GroupStatistics(ctx context.Context, groupFields []string, opts repository.GroupOptions) ([]repository.GroupStat, error) {
	args := m.Called(ctx, groupFields, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.GroupStat), args.Error(1)
}

func (m *MockRepository) CallStatic(ctx context.Context, name string, a ...any) (any, error) {
	args := m.Called(ctx, name, a)
	return args.Get(0), args.Error(1)
}

func (m *MockRepository) CallMethod(ctx context.Context, name string, rec schema.Record, a ...any) (any, error) {
	args := m.Called(ctx, name, rec, a)
	return args.Get(0), args.Error(1)
}
