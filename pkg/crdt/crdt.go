// Package crdt implements the per-field last-write-wins merge algebra
// carried inside a record's opaque crdt state (spec §3 "crdt: opaque
// CRDT state (binary) carrying the merge algebra for this record's
// fields"). The wire format is private to this package; callers only
// ever see the functions below, never the encoding, which keeps the
// state genuinely opaque to pkg/storage and pkg/sync.
package crdt

import (
	"encoding/json"
	"sort"
)

// field is one field's last-write-wins slot: the value, the logical
// timestamp of the write that produced it, and the id of the replica
// that produced it (used only to break timestamp ties deterministically).
type field struct {
	Value     any    `json:"v"`
	Timestamp int64  `json:"t"`
	ReplicaID string `json:"r"`
}

// state is the decoded shape of a record's crdt blob: one LWW slot per
// top-level field path.
type state map[string]field

// New encodes the initial CRDT state for a freshly written record: every
// field in data is stamped with ts/replicaID.
func New(data map[string]any, ts int64, replicaID string) ([]byte, error) {
	s := make(state, len(data))
	for k, v := range data {
		s[k] = field{Value: v, Timestamp: ts, ReplicaID: replicaID}
	}
	return json.Marshal(s)
}

// Update folds a local mutation (the new field values in patch) into an
// existing CRDT state, stamping only the changed fields with ts/replicaID
// and leaving every other field's slot untouched.
func Update(existing []byte, patch map[string]any, ts int64, replicaID string) ([]byte, error) {
	s, err := decode(existing)
	if err != nil {
		return nil, err
	}
	for k, v := range patch {
		s[k] = field{Value: v, Timestamp: ts, ReplicaID: replicaID}
	}
	return json.Marshal(s)
}

// Merge combines a local and a remote CRDT state field-by-field: the
// slot with the later timestamp wins; a timestamp tie is broken by
// comparing replica ids so that merge is commutative and deterministic
// regardless of which side calls Merge (spec invariant: two replicas
// converge to the same value after both pulls apply).
func Merge(local, remote []byte) ([]byte, error) {
	a, err := decode(local)
	if err != nil {
		return nil, err
	}
	b, err := decode(remote)
	if err != nil {
		return nil, err
	}
	out := make(state, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, rv := range b {
		lv, ok := out[k]
		if !ok || wins(rv, lv) {
			out[k] = rv
		}
	}
	return json.Marshal(out)
}

// wins reports whether candidate should replace incumbent: a strictly
// later timestamp always wins; a tie is broken by replica id so the
// result doesn't depend on merge order.
func wins(candidate, incumbent field) bool {
	if candidate.Timestamp != incumbent.Timestamp {
		return candidate.Timestamp > incumbent.Timestamp
	}
	return candidate.ReplicaID > incumbent.ReplicaID
}

// ToData flattens a CRDT state back into plain record data.
func ToData(s []byte) (map[string]any, error) {
	decoded, err := decode(s)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(decoded))
	for k, v := range decoded {
		out[k] = v.Value
	}
	return out, nil
}

// Fields returns the field names present in a state, sorted, for
// diagnostics and tests.
func Fields(s []byte) ([]string, error) {
	decoded, err := decode(s)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(decoded))
	for k := range decoded {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

func decode(raw []byte) (state, error) {
	if len(raw) == 0 {
		return state{}, nil
	}
	var s state
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	if s == nil {
		s = state{}
	}
	return s, nil
}
