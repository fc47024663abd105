package repository

import (
	"context"
	"fmt"
	"time"

	"regapi/internal/schema"
)

// Package repository contains the backend-agnostic data access contract.
// Backend implementations live in subpackages (filestore, mongo, postgres).

// Backend identifies one of the storage engines.
type Backend string

const (
	Document   Backend = "document"
	Relational Backend = "relational"
	FileSystem Backend = "filesystem"
)

// ParseBackend validates a configured backend identifier.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case Document, Relational, FileSystem:
		return b, nil
	}
	return "", &schema.SchemaError{Message: fmt.Sprintf("unrecognized storage backend %q (want document, relational or filesystem)", s)}
}

// Model is the backend-specific realization of an entity.
// FindOne, FindByID and the FindByIDAnd* operations return a nil record, not an error,
// when nothing matches.
type Model interface {
	schema.Querier

	Entity() *schema.Entity
	Backend() Backend

	Create(ctx context.Context, data schema.Record) (schema.Record, error)
	FindByID(ctx context.Context, id string) (schema.Record, error)
	FindByIDAndUpdate(ctx context.Context, id string, patch schema.Record) (schema.Record, error)
	FindByIDAndDelete(ctx context.Context, id string) (schema.Record, error)
	Update(ctx context.Context, q schema.Query, patch schema.Record, opts schema.UpdateOptions) (int64, error)
	Delete(ctx context.Context, q schema.Query) (int64, error)
}

// Range is an inclusive date range on one field. A nil End leaves the range open.
type Range struct {
	Field string
	Start time.Time
	End   *time.Time
}

// RangeFinder is implemented by models that can evaluate a Range natively.
// Models without it get an in-memory second pass in BaseRepository.
type RangeFinder interface {
	FindRange(ctx context.Context, q schema.Query, r Range, opts schema.FindOptions) ([]schema.Record, error)
}

// Repository is the uniform CRUD/query facade callers use regardless of backend.
type Repository interface {
	Create(ctx context.Context, data schema.Record) (schema.Record, error)
	FindOne(ctx context.Context, q schema.Query) (schema.Record, error)
	FindByID(ctx context.Context, id string) (schema.Record, error)
	Find(ctx context.Context, q schema.Query, opts schema.FindOptions) ([]schema.Record, error)
	Update(ctx context.Context, q schema.Query, patch schema.Record, opts schema.UpdateOptions) (int64, error)
	UpdateByID(ctx context.Context, id string, patch schema.Record) (schema.Record, error)
	Delete(ctx context.Context, q schema.Query) (int64, error)
	DeleteByID(ctx context.Context, id string) (schema.Record, error)
	Count(ctx context.Context, q schema.Query) (int64, error)
	Paginate(ctx context.Context, q schema.Query, page, limit int, sort []schema.SortKey) (*Page[schema.Record], error)
	FindByDateRange(ctx context.Context, field string, start time.Time, end *time.Time, extra schema.Query) ([]schema.Record, error)
	GroupStatistics(ctx context.Context, groupFields []string, opts GroupOptions) ([]GroupStat, error)
	CallStatic(ctx context.Context, name string, args ...any) (any, error)
	CallMethod(ctx context.Context, name string, rec schema.Record, args ...any) (any, error)
}

// Pagination describes one page of a paginated find.
type Pagination struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Pages int   `json:"pages"`
}

// Page is a generic pagination result wrapper.
type Page[T any] struct {
	Data       []T        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// GroupOptions selects what GroupStatistics computes per group.
// An empty AvgField averages SumField.
type GroupOptions struct {
	CountField string
	SumField   string
	AvgField   string
	Query      schema.Query
}

// GroupStat holds the statistics of one group. Key maps each group field to its value.
type GroupStat struct {
	Key   map[string]any `json:"_id"`
	Count int64          `json:"count"`
	Sum   float64        `json:"sum"`
	Avg   float64        `json:"avg"`
}
