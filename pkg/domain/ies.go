package domain

import (
	"fmt"
	"math"
)

// IEs holds named fields of a message, either information elements or
// layer parameters. Values are kept exactly as supplied.
type IEs map[string]any

// Has reports whether the key is present
func (ie IEs) Has(key string) bool {
	_, ok := ie[key]
	return ok
}

// Value returns the raw value for key
func (ie IEs) Value(key string) (any, bool) {
	v, ok := ie[key]
	return v, ok
}

// String returns the value for key if it holds a string
func (ie IEs) String(key string) (string, bool) {
	v, ok := ie[key].(string)
	return v, ok
}

// Int returns the value for key as an int. Integral floats (as produced by
// JSON decoding) are accepted.
func (ie IEs) Int(key string) (int, error) {
	v, ok := ie[key]
	if !ok {
		return 0, fmt.Errorf("information element %q not present", key)
	}

	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("information element %q is not integral: %v", key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("information element %q has type %T, want integer", key, v)
	}
}

// Float returns the value for key as a float64
func (ie IEs) Float(key string) (float64, error) {
	v, ok := ie[key]
	if !ok {
		return 0, fmt.Errorf("information element %q not present", key)
	}

	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("information element %q has type %T, want number", key, v)
	}
}

// Bool returns the value for key if it holds a bool
func (ie IEs) Bool(key string) (bool, bool) {
	v, ok := ie[key].(bool)
	return v, ok
}

// Clone returns a shallow copy. A nil receiver yields an empty map.
func (ie IEs) Clone() IEs {
	out := make(IEs, len(ie))
	for k, v := range ie {
		out[k] = v
	}
	return out
}
