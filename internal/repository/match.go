package repository

import (
	"sort"

	"regapi/internal/schema"
)

// CreationOrder is the explicit tie-break used when a single-record update matches
// several records: earliest createdAt first, then lowest id.
var CreationOrder = []schema.SortKey{
	{Field: schema.FieldCreatedAt, Order: schema.Asc},
	{Field: schema.FieldID, Order: schema.Asc},
}

// Match reports whether rec equals every key of q.
func Match(rec schema.Record, q schema.Query) bool {
	for k, want := range q {
		if !schema.Equal(rec[k], want) {
			return false
		}
	}
	return true
}

// Filter keeps the records matching q, in input order.
func Filter(recs []schema.Record, q schema.Query) []schema.Record {
	if len(q) == 0 {
		return recs
	}
	out := make([]schema.Record, 0, len(recs))
	for _, r := range recs {
		if Match(r, q) {
			out = append(out, r)
		}
	}
	return out
}

// SortRecords sorts in place by keys in order, falling through to the next key on ties.
// The sort is stable, so records equal on every key keep their relative order.
func SortRecords(recs []schema.Record, keys []schema.SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(recs, func(i, j int) bool {
		for _, k := range keys {
			c := schema.Compare(recs[i][k.Field], recs[j][k.Field])
			if c == 0 {
				continue
			}
			if k.Order == schema.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Window applies skip and limit to an already filtered and sorted slice.
func Window(recs []schema.Record, skip, limit int) []schema.Record {
	if skip > 0 {
		if skip >= len(recs) {
			return []schema.Record{}
		}
		recs = recs[skip:]
	}
	if limit > 0 && limit < len(recs) {
		recs = recs[:limit]
	}
	return recs
}

// Apply filters, sorts and slices recs; the order of the three steps is fixed.
func Apply(recs []schema.Record, q schema.Query, opts schema.FindOptions) []schema.Record {
	out := Filter(recs, q)
	SortRecords(out, opts.Sort)
	return Window(out, opts.Skip, opts.Limit)
}

// Merge shallow-merges patch onto rec. The id and createdAt of rec are kept.
func Merge(rec, patch schema.Record) schema.Record {
	out := rec.Clone()
	for k, v := range patch {
		switch k {
		case schema.FieldID, schema.FieldCreatedAt:
			continue
		}
		out[k] = v
	}
	return out
}

// InRange reports whether v is a date within r.
func InRange(v any, r Range) bool {
	t, ok := schema.AsTime(v)
	if !ok {
		return false
	}
	if t.Before(r.Start) {
		return false
	}
	if r.End != nil && t.After(*r.End) {
		return false
	}
	return true
}
