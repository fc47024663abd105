package repository

import (
	"encoding/json"
	"fmt"
	"sort"

	"regapi/internal/schema"
)

type groupAcc struct {
	stat     GroupStat
	sortKey  string
	avgSum   float64
	avgCount int
}

// GroupRecords groups recs by the composite key of groupFields and computes count, sum
// and average per group. Count is the number of records in the group, or the number with
// a non-null CountField when one is given. Non-numeric values are skipped by sum and avg.
// Groups are returned ordered by key.
func GroupRecords(recs []schema.Record, groupFields []string, opts GroupOptions) []GroupStat {
	avgField := opts.AvgField
	if avgField == "" {
		avgField = opts.SumField
	}

	groups := make(map[string]*groupAcc)
	for _, rec := range recs {
		values := make([]any, len(groupFields))
		for i, f := range groupFields {
			values[i] = rec[f]
		}
		k := compositeKey(values)
		acc, ok := groups[k]
		if !ok {
			key := make(map[string]any, len(groupFields))
			for i, f := range groupFields {
				key[f] = values[i]
			}
			acc = &groupAcc{stat: GroupStat{Key: key}, sortKey: k}
			groups[k] = acc
		}

		if opts.CountField == "" || rec[opts.CountField] != nil {
			acc.stat.Count++
		}
		if opts.SumField != "" {
			if f, ok := schema.ToFloat(rec[opts.SumField]); ok {
				acc.stat.Sum += f
			}
		}
		if avgField != "" {
			if f, ok := schema.ToFloat(rec[avgField]); ok {
				acc.avgSum += f
				acc.avgCount++
			}
		}
	}

	out := make([]*groupAcc, 0, len(groups))
	for _, acc := range groups {
		if acc.avgCount > 0 {
			acc.stat.Avg = acc.avgSum / float64(acc.avgCount)
		}
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].sortKey < out[j].sortKey })

	stats := make([]GroupStat, len(out))
	for i, acc := range out {
		stats[i] = acc.stat
	}
	return stats
}

func compositeKey(values []any) string {
	b, err := json.Marshal(values)
	if err != nil {
		return fmt.Sprint(values)
	}
	return string(b)
}
