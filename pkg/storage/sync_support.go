package storage

import (
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/basin/pkg/basinerr"
	"github.com/cuemby/basin/pkg/crdt"
)

// GetDirty returns every record with unacknowledged local changes, in
// storage iteration order (spec §4.G push step 1 "getDirty(collection)").
func (cs *CollectionStore) GetDirty() ([]*Record, error) {
	all, err := cs.scanAll(true)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(all))
	for _, r := range all {
		if r.Dirty {
			out = append(out, r)
		}
	}
	return out, nil
}

// SyncSnapshot is the (pendingPatches length, deleted) pair captured at
// push time, per spec §4.G push step 2. MarkSynced compares it against
// the record's current state to silently discard a stale ack.
type SyncSnapshot struct {
	PendingPatchesLen int
	Deleted           bool
}

// MarkSynced acknowledges a pushed record: if the record's state still
// matches snapshot, its sequence advances, pendingPatches clears, and it
// is no longer dirty. A snapshot mismatch (the record changed locally
// again since the push was prepared) makes this call a silent no-op —
// spec invariant 2, "stale acks are silently discarded" — so the record
// remains dirty for the next cycle.
func (cs *CollectionStore) MarkSynced(id string, sequence uint64, snapshot SyncSnapshot) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	existing, err := cs.getLocked(id, true)
	if err != nil || existing == nil {
		return err
	}
	if len(existing.PendingPatches) != snapshot.PendingPatchesLen || existing.Deleted != snapshot.Deleted {
		return nil
	}

	rec := existing.clone()
	rec.Sequence = sequence
	rec.Dirty = false
	rec.PendingPatches = nil

	cs.db.beginWrite()
	defer cs.db.endWrite()
	return cs.db.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(collectionBucket(cs.blueprint.Name))
		encoded, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), encoded)
	})
}

// DeleteConflictStrategy picks the winner when local and remote have
// diverged across a delete/update boundary (spec §4.G). It is never
// consulted for a pure CRDT field merge.
type DeleteConflictStrategy string

const (
	RemoteWins DeleteConflictStrategy = "remoteWins"
	LocalWins  DeleteConflictStrategy = "localWins"
	DeleteWins DeleteConflictStrategy = "deleteWins"
	UpdateWins DeleteConflictStrategy = "updateWins"
)

// RemoteRecord is one record as reported by applyRemoteChanges'
// caller (pkg/sync, after decrypting a pulled payload). CRDT is the
// plaintext CRDT state; nil for a tombstone.
type RemoteRecord struct {
	ID        string
	Version   int
	CRDT      []byte
	EditChain []byte
	Deleted   bool
	Sequence  uint64
	Meta      map[string]any
}

// ApplyResult reports the outcome of one applyRemoteChanges call.
type ApplyResult struct {
	Applied []string
	MaxSeq  uint64
}

// ApplyRemoteChanges folds a batch of remote records into the store
// (spec §4.G step 1.4). A record never seen locally is inserted
// outright. An existing non-deleted/non-deleted pair merges CRDT state
// field-by-field via pkg/crdt; a delete/update divergence is resolved by
// strategy. Applying the same batch twice is idempotent: the second
// application sees sequence <= existing.Sequence and is a no-op per
// record (spec invariant 1, tested via the ApplyRemote idempotence law).
func (cs *CollectionStore) ApplyRemoteChanges(records []RemoteRecord, strategy DeleteConflictStrategy) (ApplyResult, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	var result ApplyResult
	for _, rr := range records {
		applied, err := cs.applyOneRemoteLocked(rr, strategy)
		if err != nil {
			return result, err
		}
		if applied {
			result.Applied = append(result.Applied, rr.ID)
		}
		if rr.Sequence > result.MaxSeq {
			result.MaxSeq = rr.Sequence
		}
	}
	return result, nil
}

func (cs *CollectionStore) applyOneRemoteLocked(rr RemoteRecord, strategy DeleteConflictStrategy) (bool, error) {
	existing, err := cs.getLocked(rr.ID, true)
	if err != nil {
		return false, err
	}

	if existing != nil && rr.Sequence <= existing.Sequence && rr.Sequence != 0 {
		return false, nil // already-applied or stale; idempotent no-op
	}

	now := time.Now().UTC()

	if existing == nil {
		data, derr := crdt.ToData(rr.CRDT)
		if derr != nil {
			return false, basinerr.CryptoFailure("crdt_decode", derr)
		}
		rec := &Record{
			ID:        rr.ID,
			Data:      data,
			Version:   rr.Version,
			CRDT:      rr.CRDT,
			EditChain: rr.EditChain,
			Deleted:   rr.Deleted,
			Sequence:  rr.Sequence,
			Dirty:     false,
			Meta:      rr.Meta,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if rr.Deleted {
			rec.DeletedAt = &now
		}
		var newEntries []indexEntry
		if !rr.Deleted {
			newEntries, err = computeIndexEntries(&cs.blueprint, data)
			if err != nil {
				return false, basinerr.ComputedIndexFailed("", err)
			}
		}
		if err := cs.persistRemoteLocked(rec, nil, newEntries); err != nil {
			return false, err
		}
		for _, e := range newEntries {
			if e.unique && e.ok {
				cs.setUniqueLocked(e.name, e.value, rec.ID)
			}
		}
		return true, nil
	}

	resolvedDeleted := existing.Deleted
	resolvedCRDT := existing.CRDT

	switch {
	case existing.Deleted == rr.Deleted:
		// Pure update-vs-update, or delete-vs-delete: CRDT merge only,
		// tombstone state doesn't change.
		if !rr.Deleted {
			merged, merr := crdt.Merge(existing.CRDT, rr.CRDT)
			if merr != nil {
				return false, basinerr.CryptoFailure("crdt_merge", merr)
			}
			resolvedCRDT = merged
		}
	default:
		// Diverged across a delete/update boundary: consult strategy.
		resolvedDeleted = resolveDeleteConflict(strategy, existing.Deleted, rr.Deleted)
		if !resolvedDeleted {
			merged, merr := crdt.Merge(existing.CRDT, rr.CRDT)
			if merr != nil {
				return false, basinerr.CryptoFailure("crdt_merge", merr)
			}
			resolvedCRDT = merged
		}
	}

	data, derr := crdt.ToData(resolvedCRDT)
	if derr != nil {
		return false, basinerr.CryptoFailure("crdt_decode", derr)
	}

	oldEntries, _ := computeIndexEntries(&cs.blueprint, existing.Data)
	var newEntries []indexEntry
	if !resolvedDeleted {
		newEntries, err = computeIndexEntries(&cs.blueprint, data)
		if err != nil {
			return false, basinerr.ComputedIndexFailed("", err)
		}
	}

	rec := existing.clone()
	rec.Data = data
	rec.CRDT = resolvedCRDT
	if rr.EditChain != nil {
		rec.EditChain = rr.EditChain
	}
	rec.Deleted = resolvedDeleted
	rec.Version = rr.Version
	rec.Sequence = rr.Sequence
	rec.Dirty = false
	rec.UpdatedAt = now
	if resolvedDeleted && rec.DeletedAt == nil {
		rec.DeletedAt = &now
	}
	if !resolvedDeleted {
		rec.DeletedAt = nil
	}

	if err := cs.persistRemoteLocked(rec, oldEntries, newEntries); err != nil {
		return false, err
	}
	for _, e := range oldEntries {
		if e.unique && e.ok {
			cs.clearUniqueLocked(e.name, e.value)
		}
	}
	for _, e := range newEntries {
		if e.unique && e.ok {
			cs.setUniqueLocked(e.name, e.value, rec.ID)
		}
	}
	return true, nil
}

func resolveDeleteConflict(strategy DeleteConflictStrategy, localDeleted, remoteDeleted bool) bool {
	switch strategy {
	case RemoteWins:
		return remoteDeleted
	case LocalWins:
		return localDeleted
	case DeleteWins:
		return localDeleted || remoteDeleted
	case UpdateWins:
		return false
	default:
		return remoteDeleted
	}
}

func (cs *CollectionStore) persistRemoteLocked(rec *Record, oldEntries, newEntries []indexEntry) error {
	cs.db.beginWrite()
	defer cs.db.endWrite()
	err := cs.db.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(collectionBucket(cs.blueprint.Name))
		encoded, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(rec.ID), encoded); err != nil {
			return err
		}
		return cs.applyIndexDeltaTx(tx, oldEntries, newEntries, rec.ID)
	})
	if err != nil {
		return basinerr.BackendIO(err)
	}
	cs.notify(ChangeRemote, []string{rec.ID})
	return nil
}
