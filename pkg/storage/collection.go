package storage

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/basin/pkg/basinerr"
	"github.com/cuemby/basin/pkg/crdt"
	"github.com/cuemby/basin/pkg/editchain"
	"github.com/cuemby/basin/pkg/schema"
)

// ChangeKind tags why a ChangeEvent fired.
type ChangeKind string

const (
	ChangePut    ChangeKind = "put"
	ChangeDelete ChangeKind = "delete"
	ChangeBulk   ChangeKind = "bulk"
	ChangeRemote ChangeKind = "remote"
)

// ChangeObserver receives every mutation a CollectionStore commits.
// pkg/changes implements this to drive observe/observeQuery/onChange
// without pkg/storage importing it back.
type ChangeObserver interface {
	OnChange(collection string, kind ChangeKind, ids []string)
}

// CollectionStore is the schema-bound, bbolt-backed store for one
// collection. It supersedes the teacher's per-entity BoltStore methods
// with a single generic implementation keyed by collection name.
type CollectionStore struct {
	db         *Database
	blueprint  schema.Blueprint
	observer   ChangeObserver
	mu         sync.Mutex
	uniqueVals map[string]map[string]string // index name -> encoded value -> record id
	signer     *recordSigner
}

// recordSigner holds the key a collection signs its edit-chain entries
// with. A CollectionStore with no signer leaves EditChain untouched
// across writes (spec §4.H is then unused, not broken: a record's
// editChain field simply carries forward whatever it already held).
type recordSigner struct {
	key    *ecdsa.PrivateKey
	author string
}

// SetEditChainSigner enables per-write edit-chain entries (spec §4.H):
// every subsequent Put/Patch appends a signed entry to the record's
// chain, attributed to author. Call once at registration time; nil key
// disables signing again.
func (cs *CollectionStore) SetEditChainSigner(key *ecdsa.PrivateKey, author string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if key == nil {
		cs.signer = nil
		return
	}
	cs.signer = &recordSigner{key: key, author: author}
}

// RegisterCollection materializes a Blueprint into a running collection
// store, creating its bbolt bucket and rebuilding the in-memory unique
// index cache from existing records.
func RegisterCollection(db *Database, bp schema.Blueprint, observer ChangeObserver) (*CollectionStore, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.collections[bp.Name]; exists {
		return nil, fmt.Errorf("storage: collection %q already registered", bp.Name)
	}

	cs := &CollectionStore{db: db, blueprint: bp, observer: observer, uniqueVals: make(map[string]map[string]string)}

	err := db.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(collectionBucket(bp.Name))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: create collection bucket: %w", err)
	}

	if err := cs.rebuildUniqueIndex(); err != nil {
		return nil, err
	}

	db.collections[bp.Name] = cs
	db.collectionOrder = append(db.collectionOrder, bp.Name)
	return cs, nil
}

func (cs *CollectionStore) rebuildUniqueIndex() error {
	return cs.db.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(collectionBucket(cs.blueprint.Name))
		return b.ForEach(func(_, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			if rec.Deleted {
				return nil
			}
			entries, err := computeIndexEntries(&cs.blueprint, rec.Data)
			if err != nil {
				return nil // a now-broken computed index shouldn't block startup
			}
			for _, e := range entries {
				if e.unique && e.ok {
					cs.setUniqueLocked(e.name, e.value, rec.ID)
				}
			}
			return nil
		})
	})
}

func (cs *CollectionStore) setUniqueLocked(index, value, id string) {
	m, ok := cs.uniqueVals[index]
	if !ok {
		m = make(map[string]string)
		cs.uniqueVals[index] = m
	}
	m[value] = id
}

func (cs *CollectionStore) clearUniqueLocked(index, value string) {
	if m, ok := cs.uniqueVals[index]; ok {
		delete(m, value)
	}
}

// PutOptions configures Put.
type PutOptions struct {
	ID              string
	SkipUniqueCheck bool
	Meta            map[string]any
	// ChangedFields restricts which top-level fields are CRDT-stamped as
	// modified by this write; nil means every key in data (a full
	// replace). Patch sets this to exactly the fields it was asked to
	// update, so unrelated fields keep their prior CRDT timestamp and a
	// concurrent remote edit of those fields doesn't get clobbered by an
	// unrelated local patch (spec invariant: two-writer convergence).
	ChangedFields []string
}

// Put inserts or replaces a record, enforcing the two-phase
// delta/unique-check/apply transaction described in spec §4.E.
func (cs *CollectionStore) Put(data map[string]any, opts PutOptions) (*Record, error) {
	currentVersion := schema.CurrentVersion(cs.blueprint.Versions)
	currentSchema := cs.blueprint.Versions[len(cs.blueprint.Versions)-1].Schema
	if _, err := schema.Serialize(currentSchema, map[string]any(data)); err != nil {
		return nil, basinerr.SchemaMismatch("%v", err)
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	existing, _ := cs.getLocked(id, true)

	entries, err := computeIndexEntries(&cs.blueprint, data)
	if err != nil {
		return nil, basinerr.ComputedIndexFailed("", err)
	}

	var oldEntries []indexEntry
	if existing != nil {
		oldEntries, _ = computeIndexEntries(&cs.blueprint, existing.Data)
	}

	if !opts.SkipUniqueCheck {
		if err := cs.checkUnique(id, entries); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	rec := &Record{
		ID:        id,
		Data:      cloneMap(data),
		Version:   currentVersion,
		Meta:      opts.Meta,
		Dirty:     true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing != nil {
		rec.CreatedAt = existing.CreatedAt
		rec.Sequence = existing.Sequence
	}

	changed := opts.ChangedFields
	if changed == nil {
		changed = make([]string, 0, len(data))
		for k := range data {
			changed = append(changed, k)
		}
	}
	changedData := make(map[string]any, len(changed))
	for _, k := range changed {
		changedData[k] = data[k]
	}
	var existingCRDT []byte
	if existing != nil {
		existingCRDT = existing.CRDT
	}
	newCRDT, err := crdt.Update(existingCRDT, changedData, now.UnixNano(), cs.db.replicaID)
	if err != nil {
		return nil, basinerr.CryptoFailure("crdt_update", err)
	}
	rec.CRDT = newCRDT

	// pendingPatches accumulates the ordered binary deltas not yet
	// folded into a synced snapshot (spec §3); a fresh insert starts
	// empty, an update appends this write's delta onto whatever the
	// last push round hasn't acknowledged yet. MarkSynced clears it
	// once the matching snapshot is acked.
	if existing != nil {
		deltaBytes, derr := json.Marshal(changedData)
		if derr != nil {
			return nil, basinerr.CryptoFailure("pending_patch_encode", derr)
		}
		pending := make([][]byte, len(existing.PendingPatches), len(existing.PendingPatches)+1)
		for i, p := range existing.PendingPatches {
			pending[i] = append([]byte(nil), p...)
		}
		rec.PendingPatches = append(pending, deltaBytes)
	}

	if cs.signer != nil {
		chain, cerr := cs.appendEditChain(id, existing, rec.Data, now)
		if cerr != nil {
			return nil, cerr
		}
		rec.EditChain = chain
	} else if existing != nil {
		rec.EditChain = existing.EditChain
	}

	cs.db.beginWrite()
	defer cs.db.endWrite()
	err = cs.db.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(collectionBucket(cs.blueprint.Name))
		encoded, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(id), encoded); err != nil {
			return err
		}
		return cs.applyIndexDeltaTx(tx, oldEntries, entries, id)
	})
	if err != nil {
		return nil, basinerr.BackendIO(err)
	}

	for _, e := range oldEntries {
		if e.unique && e.ok {
			cs.clearUniqueLocked(e.name, e.value)
		}
	}
	for _, e := range entries {
		if e.unique && e.ok {
			cs.setUniqueLocked(e.name, e.value, id)
		}
	}

	cs.notify(ChangePut, []string{id})
	return rec, nil
}

// appendEditChain decodes a record's existing edit chain (if any),
// signs and appends one more entry diffing before against after, and
// re-encodes the chain for storage in Record.EditChain (spec §4.H:
// "piggybacks inside the encrypted envelope").
func (cs *CollectionStore) appendEditChain(id string, existing *Record, after map[string]any, now time.Time) ([]byte, error) {
	var before map[string]any
	var chain []*editchain.Entry
	if existing != nil {
		before = existing.Data
		if len(existing.EditChain) > 0 {
			decoded, err := editchain.DecodeChain(existing.EditChain)
			if err != nil {
				return nil, basinerr.CryptoFailure("editchain_decode", err)
			}
			chain = decoded
		}
	}

	diffs := editchain.Diff(before, after)
	entry, err := editchain.Append(cs.blueprint.Name, id, chain, cs.signer.author, now.UnixMilli(), diffs, cs.signer.key)
	if err != nil {
		return nil, basinerr.CryptoFailure("editchain_append", err)
	}
	chain = append(chain, entry)

	encoded, err := editchain.EncodeChain(chain)
	if err != nil {
		return nil, basinerr.CryptoFailure("editchain_encode", err)
	}
	return encoded, nil
}

// applyIndexDeltaTx persists the unique-index bucket entries alongside
// the record write, in the same bbolt transaction: removing stale
// entries for oldEntries and writing fresh ones for newEntries. This is
// the "apply" phase of the two-phase delta/check/apply transaction; the
// in-memory uniqueVals cache (authoritative for fast checks) is updated
// by the caller only after this commits.
func (cs *CollectionStore) applyIndexDeltaTx(tx *bolt.Tx, oldEntries, newEntries []indexEntry, id string) error {
	for _, e := range oldEntries {
		if !e.unique || !e.ok {
			continue
		}
		b := tx.Bucket(indexBucket(cs.blueprint.Name, e.name))
		if b == nil {
			continue
		}
		if err := b.Delete([]byte(e.value)); err != nil {
			return err
		}
	}
	for _, e := range newEntries {
		if !e.unique || !e.ok {
			continue
		}
		b, err := tx.CreateBucketIfNotExists(indexBucket(cs.blueprint.Name, e.name))
		if err != nil {
			return err
		}
		if err := b.Put([]byte(e.value), []byte(id)); err != nil {
			return err
		}
	}
	return nil
}

// PatchOptions configures Patch.
type PatchOptions struct {
	Meta map[string]any
}

// Patch merges the supplied fields into the existing record; only
// supplied fields change, and updatedAt is bumped.
func (cs *CollectionStore) Patch(id string, fields map[string]any, opts PatchOptions) (*Record, error) {
	cs.mu.Lock()
	existing, err := cs.getLocked(id, false)
	cs.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, basinerr.NotFound(cs.blueprint.Name, id)
	}

	merged := cloneMap(existing.Data)
	for k, v := range fields {
		merged[k] = v
	}

	meta := opts.Meta
	if meta == nil {
		meta = existing.Meta
	}
	changed := make([]string, 0, len(fields))
	for k := range fields {
		changed = append(changed, k)
	}
	return cs.Put(merged, PutOptions{ID: id, Meta: meta, ChangedFields: changed})
}

// GetOptions configures Get.
type GetOptions struct {
	IncludeDeleted bool
	Migrate        bool
}

// Get returns a record by id, or nil if absent (or deleted and
// IncludeDeleted is false). A stale-versioned record is migrated
// in-memory; Migrate additionally persists the upgraded shape.
func (cs *CollectionStore) Get(id string, opts GetOptions) (*Record, error) {
	cs.mu.Lock()
	rec, err := cs.getLocked(id, opts.IncludeDeleted)
	cs.mu.Unlock()
	if err != nil || rec == nil {
		return rec, err
	}

	currentVersion := schema.CurrentVersion(cs.blueprint.Versions)
	if rec.Version >= currentVersion {
		return rec, nil
	}

	migrated, toVersion, err := schema.Migrate(cs.blueprint.Versions, rec.Version, rec.Data)
	if err != nil {
		return nil, err
	}
	rec = rec.clone()
	rec.Data = migrated
	rec.Version = toVersion

	if opts.Migrate {
		if _, err := cs.Put(migrated, PutOptions{ID: id, Meta: rec.Meta}); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (cs *CollectionStore) getLocked(id string, includeDeleted bool) (*Record, error) {
	var rec *Record
	err := cs.db.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(collectionBucket(cs.blueprint.Name))
		raw := b.Get([]byte(id))
		if raw == nil {
			return nil
		}
		r, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, basinerr.BackendIO(err)
	}
	if rec != nil && rec.Deleted && !includeDeleted {
		return nil, nil
	}
	return rec, nil
}

// DeleteOptions configures Delete.
type DeleteOptions struct {
	Meta map[string]any
}

// Delete tombstones a record. Returns false if no live record existed.
func (cs *CollectionStore) Delete(id string, opts DeleteOptions) (bool, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	existing, err := cs.getLocked(id, false)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}

	now := time.Now().UTC()
	rec := existing.clone()
	rec.Deleted = true
	rec.DeletedAt = &now
	rec.UpdatedAt = now
	rec.Dirty = true
	if opts.Meta != nil {
		rec.Meta = opts.Meta
	}

	entries, _ := computeIndexEntries(&cs.blueprint, existing.Data)

	cs.db.beginWrite()
	defer cs.db.endWrite()
	err = cs.db.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(collectionBucket(cs.blueprint.Name))
		encoded, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(id), encoded); err != nil {
			return err
		}
		return cs.applyIndexDeltaTx(tx, entries, nil, id)
	})
	if err != nil {
		return false, basinerr.BackendIO(err)
	}

	for _, e := range entries {
		if e.unique && e.ok {
			cs.clearUniqueLocked(e.name, e.value)
		}
	}

	cs.notify(ChangeDelete, []string{id})
	return true, nil
}

// GetAllOptions configures GetAll.
type GetAllOptions struct {
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// GetAll returns records in insertion order unless a later Query call
// imposes its own sort.
func (cs *CollectionStore) GetAll(opts GetAllOptions) ([]*Record, error) {
	all, err := cs.scanAll(opts.IncludeDeleted)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return paginate(all, opts.Offset, opts.Limit), nil
}

// Query evaluates a filter/sort/paginate request.
func (cs *CollectionStore) Query(q Query) (QueryResult, error) {
	all, err := cs.scanAll(false)
	if err != nil {
		return QueryResult{}, err
	}

	matched := make([]*Record, 0, len(all))
	for _, rec := range all {
		ok, err := matchesFilter(q.Filter, rec.Data)
		if err != nil {
			return QueryResult{}, err
		}
		if ok {
			matched = append(matched, rec)
		}
	}

	applySort(matched, q.Sort)
	total := len(matched)
	page := paginate(matched, q.Offset, q.Limit)
	return QueryResult{Records: page, Total: total}, nil
}

// Count returns the number of records matching an optional filter.
func (cs *CollectionStore) Count(filter Filter) (int, error) {
	all, err := cs.scanAll(false)
	if err != nil {
		return 0, err
	}
	if filter == nil {
		return len(all), nil
	}
	n := 0
	for _, rec := range all {
		ok, err := matchesFilter(filter, rec.Data)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (cs *CollectionStore) scanAll(includeDeleted bool) ([]*Record, error) {
	var out []*Record
	err := cs.db.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(collectionBucket(cs.blueprint.Name))
		return b.ForEach(func(_, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			if rec.Deleted && !includeDeleted {
				return nil
			}
			out = append(out, rec)
			return nil
		})
	})
	if err != nil {
		return nil, basinerr.BackendIO(err)
	}
	return out, nil
}

// BulkResult is one item's outcome within a bulk operation; partial
// success is allowed, per spec §4.E.
type BulkResult struct {
	ID    string
	Error error
}

// BulkPut applies Put to each item independently, collecting per-item
// outcomes rather than aborting on the first failure.
func (cs *CollectionStore) BulkPut(items []map[string]any, opts PutOptions) []BulkResult {
	results := make([]BulkResult, len(items))
	var ids []string
	for i, item := range items {
		rec, err := cs.Put(item, opts)
		if err != nil {
			results[i] = BulkResult{Error: err}
			continue
		}
		results[i] = BulkResult{ID: rec.ID}
		ids = append(ids, rec.ID)
	}
	if len(ids) > 0 {
		cs.notify(ChangeBulk, ids)
	}
	return results
}

// BulkDelete applies Delete to each id independently.
func (cs *CollectionStore) BulkDelete(ids []string) []BulkResult {
	results := make([]BulkResult, len(ids))
	var deleted []string
	for i, id := range ids {
		ok, err := cs.Delete(id, DeleteOptions{})
		if err != nil {
			results[i] = BulkResult{ID: id, Error: err}
			continue
		}
		results[i] = BulkResult{ID: id}
		if ok {
			deleted = append(deleted, id)
		}
	}
	if len(deleted) > 0 {
		cs.notify(ChangeBulk, deleted)
	}
	return results
}

func (cs *CollectionStore) checkUnique(id string, entries []indexEntry) error {
	for _, e := range entries {
		if !e.unique || !e.ok {
			continue
		}
		if existingID, ok := cs.uniqueVals[e.name][e.value]; ok && existingID != id {
			return basinerr.UniqueViolation(e.name, e.value)
		}
	}
	return nil
}

func (cs *CollectionStore) notify(kind ChangeKind, ids []string) {
	if cs.observer != nil {
		cs.observer.OnChange(cs.blueprint.Name, kind, ids)
	}
}
