package repository

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"regapi/internal/schema"
)

func ids(recs []schema.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID()
	}
	return out
}

func TestApply(t *testing.T) {
	recs := []schema.Record{
		{"id": "1", "status": "paid", "amount": 10},
		{"id": "2", "status": "pending", "amount": 5.0},
		{"id": "3", "status": "paid", "amount": int64(20)},
		{"id": "4", "status": "paid"},
	}

	tests := []struct {
		name string
		q    schema.Query
		opts schema.FindOptions
		want []string
	}{
		{name: "no query keeps input order", want: []string{"1", "2", "3", "4"}},
		{name: "equality", q: schema.Query{"status": "paid"}, want: []string{"1", "3", "4"}},
		{name: "numeric kinds compare by value", q: schema.Query{"amount": 20.0}, want: []string{"3"}},
		{name: "nil matches missing", q: schema.Query{"amount": nil}, want: []string{"4"}},
		{
			name: "sort desc puts nil last",
			opts: schema.FindOptions{Sort: []schema.SortKey{{Field: "amount", Order: schema.Desc}}},
			want: []string{"3", "1", "2", "4"},
		},
		{
			name: "filter then sort then window",
			q:    schema.Query{"status": "paid"},
			opts: schema.FindOptions{Sort: []schema.SortKey{{Field: "amount", Order: schema.Asc}}, Skip: 1, Limit: 1},
			want: []string{"1"},
		},
		{name: "skip past end", opts: schema.FindOptions{Skip: 9}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make([]schema.Record, len(recs))
			copy(in, recs)
			assert.Equal(t, tt.want, ids(Apply(in, tt.q, tt.opts)))
		})
	}
}

func TestSortRecords_CreationOrder(t *testing.T) {
	recs := []schema.Record{
		{"id": "b", "createdAt": "2024-01-02T00:00:00Z"},
		{"id": "c", "createdAt": "2024-01-01T00:00:00Z"},
		{"id": "a", "createdAt": "2024-01-02T00:00:00Z"},
	}
	SortRecords(recs, CreationOrder)
	assert.Equal(t, []string{"c", "a", "b"}, ids(recs))
}

func TestMerge(t *testing.T) {
	rec := schema.Record{"id": "1", "createdAt": "t0", "name": "A", "phone": "1"}
	out := Merge(rec, schema.Record{"id": "2", "createdAt": "t1", "name": "B"})

	assert.Equal(t, schema.Record{"id": "1", "createdAt": "t0", "name": "B", "phone": "1"}, out)
	assert.Equal(t, "A", rec["name"], "input is not modified")
}

func TestInRange(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		v    any
		r    Range
		want bool
	}{
		{name: "start is inclusive", v: "2024-01-01T00:00:00Z", r: Range{Start: start, End: &end}, want: true},
		{name: "end is inclusive", v: end, r: Range{Start: start, End: &end}, want: true},
		{name: "after end", v: "2024-02-01", r: Range{Start: start, End: &end}},
		{name: "before start", v: "2023-12-31", r: Range{Start: start}},
		{name: "open end", v: "2030-01-01", r: Range{Start: start}, want: true},
		{name: "not a date", v: "soon", r: Range{Start: start}},
		{name: "missing", v: nil, r: Range{Start: start}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InRange(tt.v, tt.r))
		})
	}
}

func TestGroupRecords(t *testing.T) {
	recs := []schema.Record{
		{"status": "paid", "amount": 10},
		{"status": "paid", "amount": 20.0},
		{"status": "pending", "amount": 5},
		{"status": "pending"},
	}

	t.Run("count sum and default avg", func(t *testing.T) {
		got := GroupRecords(recs, []string{"status"}, GroupOptions{SumField: "amount"})
		assert.Equal(t, []GroupStat{
			{Key: map[string]any{"status": "paid"}, Count: 2, Sum: 30, Avg: 15},
			{Key: map[string]any{"status": "pending"}, Count: 2, Sum: 5, Avg: 5},
		}, got)
	})

	t.Run("count field counts non-null values", func(t *testing.T) {
		got := GroupRecords(recs, []string{"status"}, GroupOptions{CountField: "amount"})
		assert.Equal(t, int64(2), got[0].Count)
		assert.Equal(t, int64(1), got[1].Count)
	})

	t.Run("no group fields is one group", func(t *testing.T) {
		got := GroupRecords(recs, nil, GroupOptions{SumField: "amount", AvgField: "amount"})
		assert.Len(t, got, 1)
		assert.Equal(t, int64(4), got[0].Count)
		assert.Equal(t, float64(35), got[0].Sum)
		assert.InDelta(t, 35.0/3, got[0].Avg, 1e-9)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, GroupRecords(nil, []string{"status"}, GroupOptions{}))
	})
}

func TestPageCount(t *testing.T) {
	assert.Equal(t, 0, PageCount(0, 10))
	assert.Equal(t, 1, PageCount(10, 10))
	assert.Equal(t, 3, PageCount(25, 10))
	assert.Equal(t, 0, PageCount(5, 0))
	assert.Equal(t, 1, PageCount(25, math.MaxInt))
}

func TestParseBackend(t *testing.T) {
	b, err := ParseBackend("relational")
	assert.NoError(t, err)
	assert.Equal(t, Relational, b)

	_, err = ParseBackend("redis")
	assert.ErrorIs(t, err, schema.ErrSchema)
}
