package item

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// DataType is the declared element type of a field.
type DataType int

const (
	Str DataType = iota + 1
	Int
	Float
	Bool
)

func (d DataType) String() string {
	switch d {
	case Str:
		return "str"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	default:
		return fmt.Sprintf("DataType(%d)", int(d))
	}
}

// ParseDataType accepts the names produced by String.
func ParseDataType(s string) (DataType, error) {
	switch s {
	case "str", "text", "string":
		return Str, nil
	case "int", "integer":
		return Int, nil
	case "float", "number":
		return Float, nil
	case "bool", "boolean":
		return Bool, nil
	}
	return 0, fmt.Errorf("unknown data type %q", s)
}

// InferDataType guesses the element type of a decoded JSON value. Arrays report
// the type of their first element.
func InferDataType(v any) (dt DataType, array bool) {
	if s, ok := v.([]any); ok {
		if len(s) == 0 {
			return Str, true
		}
		dt, _ = InferDataType(s[0])
		return dt, true
	}
	switch v.(type) {
	case bool:
		return Bool, false
	case int, int32, int64, uint, uint32, uint64:
		return Int, false
	case json.Number:
		if _, err := v.(json.Number).Int64(); err == nil {
			return Int, false
		}
		return Float, false
	case float32, float64:
		return Float, false
	}
	return Str, false
}

// Coerce converts a raw value into the Go representation of d: string, int64,
// float64 or bool. With array set, raw must be a slice and the result is a
// []string, []int64, []float64 or []bool.
func (d DataType) Coerce(raw any, array bool) (any, error) {
	if !array {
		return d.coerceOne(raw)
	}
	elems, err := asSlice(raw)
	if err != nil {
		return nil, err
	}
	switch d {
	case Str:
		return coerceSlice[string](d, elems)
	case Int:
		return coerceSlice[int64](d, elems)
	case Float:
		return coerceSlice[float64](d, elems)
	case Bool:
		return coerceSlice[bool](d, elems)
	}
	return nil, fmt.Errorf("unsupported data type %s", d)
}

func coerceSlice[T any](d DataType, elems []any) ([]T, error) {
	out := make([]T, len(elems))
	for i, e := range elems {
		v, err := d.coerceOne(e)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = v.(T)
	}
	return out, nil
}

func (d DataType) coerceOne(raw any) (any, error) {
	switch d {
	case Str:
		switch v := raw.(type) {
		case string:
			return v, nil
		case json.Number:
			return v.String(), nil
		case nil:
			return nil, fmt.Errorf("cannot convert null to %s", d)
		default:
			return fmt.Sprint(v), nil
		}
	case Int:
		switch v := raw.(type) {
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to %s: %w", v, d, err)
			}
			return n, nil
		case bool:
			return nil, fmt.Errorf("cannot convert bool to %s", d)
		}
		f, err := toFloat(raw)
		if err != nil {
			return nil, err
		}
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("cannot convert %v to %s without truncation", raw, d)
		}
		if n, ok := exactInt(raw); ok {
			return n, nil
		}
		return int64(f), nil
	case Float:
		if s, ok := raw.(string); ok {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to %s: %w", s, d, err)
			}
			return f, nil
		}
		return toFloat(raw)
	case Bool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to %s: %w", v, d, err)
			}
			return b, nil
		}
		return nil, fmt.Errorf("cannot convert %T to %s", raw, d)
	}
	return nil, fmt.Errorf("unsupported data type %s", d)
}

func exactInt(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint32:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	}
	return 0, fmt.Errorf("cannot convert %T to a number", raw)
}

func asSlice(raw any) ([]any, error) {
	switch v := raw.(type) {
	case []any:
		return v, nil
	case []string:
		return toAny(v), nil
	case []int64:
		return toAny(v), nil
	case []int:
		return toAny(v), nil
	case []float64:
		return toAny(v), nil
	case []bool:
		return toAny(v), nil
	}
	return nil, fmt.Errorf("expected an array, got %T", raw)
}

func toAny[T any](s []T) []any {
	out := make([]any, len(s))
	for i, e := range s {
		out[i] = e
	}
	return out
}
