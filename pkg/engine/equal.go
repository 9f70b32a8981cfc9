package engine

import (
	"encoding/json"
	"fmt"
)

// Normalize converts v into its plain JSON data form: map[string]interface{},
// []interface{}, string, float64, bool or nil. Values decoded from YAML, TOML
// or CUE and values decoded from server responses compare equal once normalized.
func Normalize(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return out, nil
}

// NormalizeDescriptor normalizes a descriptor and returns it as a Descriptor.
func NormalizeDescriptor(d Descriptor) (Descriptor, error) {
	v, err := Normalize(d)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("descriptor normalized to %T, expected an object", v)
	}
	return Descriptor(m), nil
}

// Equal reports whether a and b are structurally equal. Objects compare
// without regard to key order; arrays compare element by element in order.
// Values that cannot be encoded as JSON are never equal.
func Equal(a, b interface{}) bool {
	na, err := Normalize(a)
	if err != nil {
		return false
	}
	nb, err := Normalize(b)
	if err != nil {
		return false
	}
	return deepEqual(na, nb)
}

// deepEqual compares two normalized values.
func deepEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case map[string]interface{}:
		bv, ok := b.(map[string]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, x := range av {
			y, ok := bv[k]
			if !ok || !deepEqual(x, y) {
				return false
			}
		}
		return true
	case []interface{}:
		bv, ok := b.([]interface{})
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case nil:
		return b == nil
	case string, float64, bool:
		return a == b
	default:
		return false
	}
}
