package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/basin/pkg/schema"
)

// indexEntry is one index's computed key for a single record, or "not
// present" for a sparse index whose source value was null.
type indexEntry struct {
	name   string
	unique bool
	value  string
	ok     bool
}

// computeIndexEntries evaluates every field and computed index in the
// blueprint against data. A computed index whose function returns an
// error aborts the whole write with ComputedIndexError, per spec §4.E.
func computeIndexEntries(bp *schema.Blueprint, data map[string]any) ([]indexEntry, error) {
	entries := make([]indexEntry, 0, len(bp.FieldIndexes)+len(bp.ComputedIndexes))

	for _, fi := range bp.FieldIndexes {
		raw, present := resolvePath(data, fi.Field)
		entries = append(entries, toIndexEntry(fi.Field, fi.Unique, fi.Sparse, raw, present))
	}
	for _, ci := range bp.ComputedIndexes {
		v, err := ci.Compute(data)
		if err != nil {
			return nil, fmt.Errorf("computed index %q: %w", ci.Name, err)
		}
		entries = append(entries, toIndexEntry(ci.Name, ci.Unique, ci.Sparse, v, v != nil))
	}
	return entries, nil
}

func toIndexEntry(name string, unique, sparse bool, value any, present bool) indexEntry {
	if !present || (sparse && value == nil) {
		return indexEntry{name: name, unique: unique, ok: false}
	}
	encoded, _ := json.Marshal(value)
	return indexEntry{name: name, unique: unique, value: string(encoded), ok: true}
}
