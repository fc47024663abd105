package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses the date layouts accepted for date fields.
func ParseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// AsTime converts a stored date value (time.Time or parseable string) to a time.
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		return ParseTime(t)
	}
	return time.Time{}, false
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// ToFloat converts numeric values, including numeric strings returned by SQL drivers
// for DECIMAL columns.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(string(n), 64)
		return f, err == nil
	}
	return 0, false
}

// Equal reports whether two stored values are equal for query matching.
// Numbers compare by value regardless of Go kind, dates compare as instants,
// composite values compare by their JSON encoding.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if isNumber(a) && isNumber(b) {
		fa, _ := ToFloat(a)
		fb, _ := ToFloat(b)
		return fa == fb
	}
	_, aTime := a.(time.Time)
	_, bTime := b.(time.Time)
	if aTime || bTime {
		ta, okA := AsTime(a)
		tb, okB := AsTime(b)
		return okA && okB && ta.Equal(tb)
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
	return bytes.Equal(ja, jb)
}

func rank(v any) int {
	switch {
	case v == nil:
		return 0
	case isNumber(v):
		return 1
	}
	switch v.(type) {
	case string:
		return 2
	case time.Time:
		return 3
	case bool:
		return 4
	}
	return 5
}

// Compare orders two stored values: nil first, then numbers, strings, dates,
// booleans and composites. Strings that both parse as dates compare as instants.
func Compare(a, b any) int {
	if _, ok := a.(time.Time); ok {
		if tb, ok := AsTime(b); ok {
			return a.(time.Time).Compare(tb)
		}
	}
	if _, ok := b.(time.Time); ok {
		if ta, ok := AsTime(a); ok {
			return ta.Compare(b.(time.Time))
		}
	}
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 0:
		return 0
	case 1:
		fa, _ := ToFloat(a)
		fb, _ := ToFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 2:
		sa, sb := a.(string), b.(string)
		if ta, ok := ParseTime(sa); ok {
			if tb, ok := ParseTime(sb); ok {
				return ta.Compare(tb)
			}
		}
		return strings.Compare(sa, sb)
	case 4:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
