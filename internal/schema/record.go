package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// System fields present on every stored record.
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// Record is one entity instance as seen by callers, independent of backend.
type Record map[string]any

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ID returns the record id rendered as a string, or "" when absent.
func (r Record) ID() string {
	v, ok := r[FieldID]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Query is an equality filter: a record matches when every key equals the given value.
type Query map[string]any

// Keys returns the query keys in lexical order so generated statements are deterministic.
func (q Query) Keys() []string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Sort orders.
const (
	Asc  = 1
	Desc = -1
)

// SortKey is one key of a multi-key sort. Order is Asc (1) or Desc (-1).
type SortKey struct {
	Field string
	Order int
}

// ParseSort reads a sort list such as "-createdAt,name". A leading '-' means
// descending; blank entries are skipped.
func ParseSort(raw string) []SortKey {
	var keys []SortKey
	for _, f := range strings.Split(raw, ",") {
		f = strings.TrimSpace(f)
		order := Asc
		if strings.HasPrefix(f, "-") {
			order = Desc
			f = strings.TrimSpace(f[1:])
		}
		if f == "" {
			continue
		}
		keys = append(keys, SortKey{Field: f, Order: order})
	}
	return keys
}

// FindOptions controls ordering and slicing of a find.
// Skip and Limit are applied after filtering and sorting; zero means unset.
type FindOptions struct {
	Sort  []SortKey
	Skip  int
	Limit int
}

// UpdateOptions controls how many matches an update touches.
// By default only one record (see the backend tie-break rule) is updated.
type UpdateOptions struct {
	Multi bool
}

// Querier is the read surface a static operation gets for its own collection.
type Querier interface {
	Find(ctx context.Context, q Query, opts FindOptions) ([]Record, error)
	FindOne(ctx context.Context, q Query) (Record, error)
	Count(ctx context.Context, q Query) (int64, error)
}

// Method is an instance-level operation declared on an entity.
type Method func(ctx context.Context, rec Record, args ...any) (any, error)

// Static is a collection-level operation declared on an entity.
type Static func(ctx context.Context, q Querier, args ...any) (any, error)
