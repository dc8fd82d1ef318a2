package wire

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// CanonicalJSON encodes v with sorted object keys and no insignificant
// whitespace, so that two JSON-equal values with different key insertion
// order produce byte-identical output. encoding/json's map ordering is
// alphabetical already for map[string]any, but this package also sorts
// keys coming from already-decoded json.RawMessage and guarantees a
// stable number format, which encoding/json alone does not promise across
// versions. Used only for signable/hashable content (edit-chain entries).
func CanonicalJSON(v any) ([]byte, error) {
	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var buf []byte
	buf, err = appendValue(buf, norm)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// normalize walks v (which may already be typed Go values, or the result
// of json.Unmarshal into `any`) into a canonical in-memory shape.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(t, &decoded); err != nil {
			return nil, err
		}
		return normalize(decoded)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			n, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			n, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		// Structs and other concrete types round-trip through the
		// standard encoder first so field tags are honored, then get
		// renormalized as generic maps/slices.
		if isPrimitive(v) {
			return v, nil
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var decoded any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, err
		}
		return normalize(decoded)
	}
}

func isPrimitive(v any) bool {
	switch v.(type) {
	case nil, bool, string, float64, int, int64, uint32, uint64:
		return true
	default:
		return false
	}
}

func appendValue(buf []byte, v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case bool:
		if t {
			return append(buf, "true"...), nil
		}
		return append(buf, "false"...), nil
	case string:
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return append(buf, raw...), nil
	case float64:
		return appendNumber(buf, t), nil
	case int:
		return strconv.AppendInt(buf, int64(t), 10), nil
	case int64:
		return strconv.AppendInt(buf, t, 10), nil
	case uint32:
		return strconv.AppendUint(buf, uint64(t), 10), nil
	case uint64:
		return strconv.AppendUint(buf, t, 10), nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kraw, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kraw...)
			buf = append(buf, ':')
			buf, err = appendValue(buf, t[k])
			if err != nil {
				return nil, err
			}
		}
		buf = append(buf, '}')
		return buf, nil
	case []any:
		buf = append(buf, '[')
		for i, item := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			var err error
			buf, err = appendValue(buf, item)
			if err != nil {
				return nil, err
			}
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return nil, fmt.Errorf("canonical json: unsupported type %T", v)
	}
}

// appendNumber renders a float64 the way JSON numbers decoded from
// json.Unmarshal normally look: integral values with no trailing ".0",
// fractional values in the shortest round-tripping decimal form.
func appendNumber(buf []byte, f float64) []byte {
	if math.Trunc(f) == f && !math.IsInf(f, 0) && math.Abs(f) < 1e15 {
		return strconv.AppendInt(buf, int64(f), 10)
	}
	return strconv.AppendFloat(buf, f, 'g', -1, 64)
}
