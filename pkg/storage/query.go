package storage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/basin/pkg/basinerr"
)

// Filter is a top-level conjunction of field-path -> predicate entries
// (spec §4.E "a value, not code"). $or is deliberately absent from the
// core; middleware may layer it on top of Query.
type Filter map[string]any

// knownOperators are the only keys an operator object may carry.
var knownOperators = map[string]bool{
	"eq": true, "ne": true, "gt": true, "gte": true, "lt": true, "lte": true,
	"in": true, "contains": true, "startsWith": true,
}

// SortEntry is one field/direction pair. direction is "asc" or "desc".
type SortEntry struct {
	Field     string
	Direction string
}

// Query describes a single query(col, {...}) call.
type Query struct {
	Filter Filter
	Sort   []SortEntry
	Limit  int
	Offset int
}

// QueryResult is query's return shape; Total is populated whenever the
// caller can use it for pagination (always, in this implementation).
type QueryResult struct {
	Records []*Record
	Total   int
}

// matchesFilter evaluates the top-level conjunction against data. An
// empty filter matches everything.
func matchesFilter(filter Filter, data map[string]any) (bool, error) {
	for path, predicate := range filter {
		value, ok := resolvePath(data, path)
		if !ok {
			// Unknown path: still must be checked against the predicate;
			// treat it as a (possibly valid) comparison against nil
			// unless the predicate itself is malformed.
		}
		matched, err := matchesPredicate(predicate, value, ok)
		if err != nil {
			return false, fmt.Errorf("path %q: %w", path, err)
		}
		if !matched {
			return false, nil
		}
	}
	return true, nil
}

func matchesPredicate(predicate any, value any, present bool) (bool, error) {
	opMap, isOpMap := predicate.(map[string]any)
	if !isOpMap {
		// Scalar shorthand: equality.
		return present && compareEqual(value, predicate), nil
	}

	for op := range opMap {
		if !knownOperators[op] {
			return false, basinerr.UnknownField(op)
		}
	}

	if eq, ok := opMap["eq"]; ok && !compareEqual(value, eq) {
		return false, nil
	}
	if ne, ok := opMap["ne"]; ok && compareEqual(value, ne) {
		return false, nil
	}
	if gt, ok := opMap["gt"]; ok {
		if c, ok := compareOrdered(value, gt); !ok || c <= 0 {
			return false, nil
		}
	}
	if gte, ok := opMap["gte"]; ok {
		if c, ok := compareOrdered(value, gte); !ok || c < 0 {
			return false, nil
		}
	}
	if lt, ok := opMap["lt"]; ok {
		if c, ok := compareOrdered(value, lt); !ok || c >= 0 {
			return false, nil
		}
	}
	if lte, ok := opMap["lte"]; ok {
		if c, ok := compareOrdered(value, lte); !ok || c > 0 {
			return false, nil
		}
	}
	if in, ok := opMap["in"]; ok {
		list, ok := in.([]any)
		if !ok {
			return false, fmt.Errorf("in operator requires a list")
		}
		found := false
		for _, v := range list {
			if compareEqual(value, v) {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	if contains, ok := opMap["contains"]; ok {
		s, sok := value.(string)
		needle, nok := contains.(string)
		if !sok || !nok || !strings.Contains(s, needle) {
			return false, nil
		}
	}
	if prefix, ok := opMap["startsWith"]; ok {
		s, sok := value.(string)
		p, pok := prefix.(string)
		if !sok || !pok || !strings.HasPrefix(s, p) {
			return false, nil
		}
	}
	return true, nil
}

// resolvePath walks a dot-separated path through nested object/record
// fields.
func resolvePath(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = data
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func compareEqual(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b) && sameKind(a, b)
}

func sameKind(a, b any) bool {
	switch a.(type) {
	case float64, int:
		switch b.(type) {
		case float64, int:
			return true
		default:
			return false
		}
	default:
		return fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b) || a == nil || b == nil
	}
}

// compareOrdered compares two values of the same ordered kind
// (numbers, strings, or RFC3339 date strings), returning ok=false when
// they aren't comparable.
func compareOrdered(a, b any) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, asok := a.(string)
	bs, bsok := b.(string)
	if asok && bsok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// applySort orders records per spec, breaking ties by id for
// determinism.
func applySort(records []*Record, entries []SortEntry) {
	sort.SliceStable(records, func(i, j int) bool {
		for _, e := range entries {
			vi, _ := resolvePath(records[i].Data, e.Field)
			vj, _ := resolvePath(records[j].Data, e.Field)
			c, ok := compareOrdered(vi, vj)
			if !ok {
				c = strings.Compare(fmt.Sprint(vi), fmt.Sprint(vj))
			}
			if c == 0 {
				continue
			}
			if e.Direction == "desc" {
				return c > 0
			}
			return c < 0
		}
		return records[i].ID < records[j].ID
	})
}

// paginate applies offset/limit; limit <= 0 means unlimited.
func paginate(records []*Record, offset, limit int) []*Record {
	if offset > 0 {
		if offset >= len(records) {
			return nil
		}
		records = records[offset:]
	}
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}
