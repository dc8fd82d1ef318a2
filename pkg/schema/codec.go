package schema

import (
	"encoding/base64"
	"fmt"
	"time"
)

// Validate checks that value conforms to node without any conversion.
func Validate(node *Node, value any) error {
	_, err := Serialize(node, value)
	return err
}

// Serialize converts an in-memory value into its backend-storable plain
// form (strings, float64, bool, []any, map[string]any — the shape
// encoding/json already knows how to write), type-directed by node. This
// is the single recursive function the Design Note calls for; there is no
// per-Kind method, just one switch.
func Serialize(node *Node, value any) (any, error) {
	if node == nil {
		return nil, fmt.Errorf("schema: nil node")
	}

	if value == nil {
		if node.Kind == KindOptional {
			return nil, nil
		}
		return nil, fmt.Errorf("schema: value is null but field is not optional")
	}

	switch node.Kind {
	case KindString, KindText:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("schema: expected string, got %T", value)
		}
		return s, nil

	case KindNumber:
		switch n := value.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		default:
			return nil, fmt.Errorf("schema: expected number, got %T", value)
		}

	case KindBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("schema: expected boolean, got %T", value)
		}
		return b, nil

	case KindDate:
		switch t := value.(type) {
		case time.Time:
			return t.UTC().Format(time.RFC3339Nano), nil
		case string:
			if _, err := time.Parse(time.RFC3339Nano, t); err != nil {
				return nil, fmt.Errorf("schema: invalid date string: %w", err)
			}
			return t, nil
		default:
			return nil, fmt.Errorf("schema: expected date, got %T", value)
		}

	case KindBytes:
		switch b := value.(type) {
		case []byte:
			return base64.StdEncoding.EncodeToString(b), nil
		case string:
			if _, err := base64.StdEncoding.DecodeString(b); err != nil {
				return nil, fmt.Errorf("schema: invalid base64 bytes: %w", err)
			}
			return b, nil
		default:
			return nil, fmt.Errorf("schema: expected bytes, got %T", value)
		}

	case KindOptional:
		return Serialize(node.Inner, value)

	case KindArray:
		items, ok := value.([]any)
		if !ok {
			return nil, fmt.Errorf("schema: expected array, got %T", value)
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := Serialize(node.Inner, item)
			if err != nil {
				return nil, fmt.Errorf("schema: array[%d]: %w", i, err)
			}
			out[i] = v
		}
		return out, nil

	case KindRecord:
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("schema: expected record, got %T", value)
		}
		out := make(map[string]any, len(obj))
		for k, v := range obj {
			sv, err := Serialize(node.Inner, v)
			if err != nil {
				return nil, fmt.Errorf("schema: record[%q]: %w", k, err)
			}
			out[k] = sv
		}
		return out, nil

	case KindObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("schema: expected object, got %T", value)
		}
		out := make(map[string]any, len(node.Properties))
		for name, propNode := range node.Properties {
			raw, present := obj[name]
			if !present {
				if propNode.Kind == KindOptional {
					continue
				}
				return nil, fmt.Errorf("schema: missing required field %q", name)
			}
			sv, err := Serialize(propNode, raw)
			if err != nil {
				return nil, fmt.Errorf("schema: field %q: %w", name, err)
			}
			out[name] = sv
		}
		return out, nil

	case KindLiteral:
		if value != node.LiteralValue {
			return nil, fmt.Errorf("schema: expected literal %v, got %v", node.LiteralValue, value)
		}
		return value, nil

	case KindUnion:
		var lastErr error
		for _, variant := range node.Variants {
			if v, err := Serialize(variant, value); err == nil {
				return v, nil
			} else {
				lastErr = err
			}
		}
		return nil, fmt.Errorf("schema: value matched no union variant: %w", lastErr)

	default:
		return nil, fmt.Errorf("schema: unknown node kind %d", node.Kind)
	}
}

// Deserialize converts a backend-stored plain value back into the
// in-memory representation (time.Time for dates, []byte for bytes).
// It shares the same recursive structure as Serialize by design: the
// codec is one function, applied in both directions by a bool-free
// pair of mirrored switches rather than a generic visitor interface.
func Deserialize(node *Node, value any) (any, error) {
	if node == nil {
		return nil, fmt.Errorf("schema: nil node")
	}
	if value == nil {
		if node.Kind == KindOptional {
			return nil, nil
		}
		return nil, fmt.Errorf("schema: stored null for non-optional field")
	}

	switch node.Kind {
	case KindString, KindText:
		return value, nil

	case KindNumber:
		if f, ok := value.(float64); ok {
			return f, nil
		}
		return nil, fmt.Errorf("schema: expected stored number, got %T", value)

	case KindBoolean:
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("schema: expected stored boolean, got %T", value)

	case KindDate:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("schema: expected stored date string, got %T", value)
		}
		return time.Parse(time.RFC3339Nano, s)

	case KindBytes:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("schema: expected stored bytes string, got %T", value)
		}
		return base64.StdEncoding.DecodeString(s)

	case KindOptional:
		return Deserialize(node.Inner, value)

	case KindArray:
		items, ok := value.([]any)
		if !ok {
			return nil, fmt.Errorf("schema: expected stored array, got %T", value)
		}
		out := make([]any, len(items))
		for i, item := range items {
			v, err := Deserialize(node.Inner, item)
			if err != nil {
				return nil, fmt.Errorf("schema: array[%d]: %w", i, err)
			}
			out[i] = v
		}
		return out, nil

	case KindRecord:
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("schema: expected stored record, got %T", value)
		}
		out := make(map[string]any, len(obj))
		for k, v := range obj {
			dv, err := Deserialize(node.Inner, v)
			if err != nil {
				return nil, fmt.Errorf("schema: record[%q]: %w", k, err)
			}
			out[k] = dv
		}
		return out, nil

	case KindObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("schema: expected stored object, got %T", value)
		}
		out := make(map[string]any, len(node.Properties))
		for name, propNode := range node.Properties {
			raw, present := obj[name]
			if !present {
				continue
			}
			dv, err := Deserialize(propNode, raw)
			if err != nil {
				return nil, fmt.Errorf("schema: field %q: %w", name, err)
			}
			out[name] = dv
		}
		return out, nil

	case KindLiteral:
		return value, nil

	case KindUnion:
		var lastErr error
		for _, variant := range node.Variants {
			if v, err := Deserialize(variant, value); err == nil {
				return v, nil
			} else {
				lastErr = err
			}
		}
		return nil, fmt.Errorf("schema: stored value matched no union variant: %w", lastErr)

	default:
		return nil, fmt.Errorf("schema: unknown node kind %d", node.Kind)
	}
}
