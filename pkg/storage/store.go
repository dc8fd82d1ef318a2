package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// bucket name prefixes, per the persistence mapping in SPEC_FULL §3.
const (
	collectionBucketPrefix = "col:"
	indexBucketPrefix      = "idx:"
	metaBucketName         = "__meta"
	quarantineBucketName   = "__quarantine"
)

func collectionBucket(name string) []byte {
	return []byte(collectionBucketPrefix + name)
}

func indexBucket(collection, index string) []byte {
	return []byte(indexBucketPrefix + collection + ":" + index)
}

// Database owns the single bbolt file backing every collection in a
// basin database (spec §3's Database attribute "per-collection record
// stores and indexes").
type Database struct {
	db              *bolt.DB
	mu              sync.RWMutex
	collections     map[string]*CollectionStore
	collectionOrder []string
	pendingWrites   int64
	replicaID       string
}

// Collection returns the registered store for name, and whether it
// exists. pkg/changes and pkg/sync resolve collections through this
// rather than owning collection lifecycle themselves.
func (d *Database) Collection(name string) (*CollectionStore, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	cs, ok := d.collections[name]
	return cs, ok
}

// CollectionNames returns every registered collection in registration
// order (spec §4.G "syncAll walks collections in insertion order").
func (d *Database) CollectionNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.collectionOrder))
	copy(out, d.collectionOrder)
	return out
}

// ReplicaID identifies this process's replica for CRDT tie-breaking and
// cross-replica change suppression (spec §4.F). It defaults to a random
// id generated at Open and can be overridden by pkg/coordinator when a
// leader takes over another replica's identity.
func (d *Database) ReplicaID() string { return d.replicaID }

// SetReplicaID overrides the replica identity, e.g. when pkg/coordinator
// promotes a follower to leader and it must continue stamping writes
// under the database's existing identity.
func (d *Database) SetReplicaID(id string) { d.replicaID = id }

// Open opens (creating if absent) the bbolt file at path and prepares
// the library-reserved __meta/__quarantine buckets.
func Open(path string) (*Database, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("storage: create data dir: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open bbolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(metaBucketName)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(quarantineBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init meta buckets: %w", err)
	}
	return &Database{db: db, collections: make(map[string]*CollectionStore), replicaID: uuid.NewString()}, nil
}

// Flush returns once every write accepted before the call has committed
// to the backend. bbolt serializes writer transactions and fsyncs each
// one before it returns, so a no-op write transaction only completes
// once every transaction queued ahead of it has already committed.
func (d *Database) Flush() error {
	return d.db.Update(func(tx *bolt.Tx) error { return nil })
}

// HasPendingWrites reports whether a mutation is mid-transaction.
func (d *Database) HasPendingWrites() bool {
	return atomic.LoadInt64(&d.pendingWrites) != 0
}

// Close flushes then releases the backend.
func (d *Database) Close() error {
	if err := d.Flush(); err != nil {
		return err
	}
	return d.db.Close()
}

func (d *Database) beginWrite() { atomic.AddInt64(&d.pendingWrites, 1) }
func (d *Database) endWrite()   { atomic.AddInt64(&d.pendingWrites, -1) }
