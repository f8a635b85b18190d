package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type sentinel int

// ServerTimestamp, used as a field value, is replaced by the store clock when
// the batch commits.
const ServerTimestamp sentinel = 0

type increment struct {
	delta decimal.Decimal
}

// Increment adds delta to the numeric field (a missing field counts as zero).
// delta may be an int, int64, float64 or decimal.Decimal.
func Increment(delta any) any {
	d, ok := toDecimal(delta)
	if !ok {
		panic(fmt.Sprintf("docstore: Increment of non-numeric %T", delta))
	}
	return increment{delta: d}
}

type arrayUnion struct {
	values []any
}

// ArrayUnion appends each value not already present in the array field.
func ArrayUnion(values ...any) any {
	return arrayUnion{values: values}
}

// applyFields merges fields into doc, resolving transforms against now.
func applyFields(doc map[string]any, fields map[string]any, now time.Time) error {
	for name, value := range fields {
		resolved, err := resolve(doc[name], value, now)
		if err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		doc[name] = resolved
	}
	return nil
}

func resolve(current, value any, now time.Time) (any, error) {
	switch v := value.(type) {
	case sentinel:
		return now.UTC().Format(time.RFC3339Nano), nil
	case increment:
		base := decimal.Zero
		if current != nil {
			d, ok := toDecimal(current)
			if !ok {
				return nil, fmt.Errorf("increment of non-numeric value %v", current)
			}
			base = d
		}
		return json.Number(base.Add(v.delta).String()), nil
	case arrayUnion:
		var out []any
		switch cur := current.(type) {
		case nil:
		case []any:
			out = append(out, cur...)
		default:
			return nil, fmt.Errorf("array union on non-array value %T", current)
		}
		for _, raw := range v.values {
			item, err := normalize(raw)
			if err != nil {
				return nil, err
			}
			if !containsValue(out, item) {
				out = append(out, item)
			}
		}
		if out == nil {
			out = []any{}
		}
		return out, nil
	default:
		return normalize(value)
	}
}

// normalize converts an arbitrary Go value into the generic JSON form used for
// stored documents.
func normalize(value any) (any, error) {
	switch v := value.(type) {
	case nil, string, bool, json.Number:
		return value, nil
	case decimal.Decimal:
		return json.Number(v.String()), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func containsValue(values []any, item any) bool {
	for _, v := range values {
		if c, ok := compare(v, item); ok && c == 0 {
			return true
		}
		if reflect.DeepEqual(v, item) {
			return true
		}
	}
	return false
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, true
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(n)
		return d, err == nil
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case float64:
		return decimal.NewFromFloat(n), true
	}
	return decimal.Decimal{}, false
}

// compare orders two scalar values. Numbers compare numerically, strings
// lexically, booleans only for equality.
func compare(a, b any) (int, bool) {
	a, b = scalar(a), scalar(b)
	if isNumber(a) && isNumber(b) {
		da, _ := toDecimal(a)
		db, _ := toDecimal(b)
		return da.Cmp(db), true
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return strings.Compare(sa, sb), true
		}
		return 0, false
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok && ba == bb {
			return 0, true
		}
	}
	return 0, false
}

// scalar unwraps named scalar types (e.g. a string-based enum) to their
// underlying kind.
func scalar(v any) any {
	switch v.(type) {
	case nil, string, bool, json.Number, int, int64, float64, decimal.Decimal:
		return v
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	}
	return v
}

func isNumber(v any) bool {
	switch v.(type) {
	case json.Number, int, int64, float64, decimal.Decimal:
		return true
	}
	return false
}

func matches(fields map[string]any, filters []Filter) bool {
	for _, f := range filters {
		value, ok := fields[f.Field]
		if !ok || value == nil {
			return false
		}
		switch f.Operator {
		case OpEqual:
			if c, ok := compare(value, f.Value); !ok || c != 0 {
				return false
			}
		case OpGreaterThan:
			if c, ok := compare(value, f.Value); !ok || c <= 0 {
				return false
			}
		case OpIn:
			candidates, _ := f.Value.([]any)
			found := false
			for _, candidate := range candidates {
				if c, ok := compare(value, candidate); ok && c == 0 {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		default:
			return false
		}
	}
	return true
}
