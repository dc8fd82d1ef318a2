package engine

import (
	"github.com/cuemby/basin/pkg/changes"
	"github.com/cuemby/basin/pkg/storage"
)

// Collection is the handle a host application uses to read and write
// one collection's records, plus subscribe to it (spec §4.E, §4.F).
// It is a thin wrapper over *storage.CollectionStore: the engine
// package's own job is wiring (D/E/F/G/C/K together), not
// reimplementing storage semantics.
type Collection struct {
	name string
	cs   *storage.CollectionStore
	db   *Database
}

// Name is this collection's registered name.
func (c *Collection) Name() string { return c.name }

// Put inserts or replaces a record.
func (c *Collection) Put(data map[string]any, opts storage.PutOptions) (*storage.Record, error) {
	return c.cs.Put(data, opts)
}

// Patch merges fields into an existing record.
func (c *Collection) Patch(id string, fields map[string]any, opts storage.PatchOptions) (*storage.Record, error) {
	return c.cs.Patch(id, fields, opts)
}

// Get returns a record by id, or nil if absent.
func (c *Collection) Get(id string, opts storage.GetOptions) (*storage.Record, error) {
	return c.cs.Get(id, opts)
}

// Delete tombstones a record.
func (c *Collection) Delete(id string, opts storage.DeleteOptions) (bool, error) {
	return c.cs.Delete(id, opts)
}

// GetAll returns records in insertion order unless paginated.
func (c *Collection) GetAll(opts storage.GetAllOptions) ([]*storage.Record, error) {
	return c.cs.GetAll(opts)
}

// Query evaluates a filter/sort/paginate request.
func (c *Collection) Query(q storage.Query) (storage.QueryResult, error) {
	return c.cs.Query(q)
}

// Count returns the number of records matching an optional filter.
func (c *Collection) Count(filter storage.Filter) (int, error) {
	return c.cs.Count(filter)
}

// BulkPut applies Put to each item independently.
func (c *Collection) BulkPut(items []map[string]any, opts storage.PutOptions) []storage.BulkResult {
	return c.cs.BulkPut(items, opts)
}

// BulkDelete applies Delete to each id independently.
func (c *Collection) BulkDelete(ids []string) []storage.BulkResult {
	return c.cs.BulkDelete(ids)
}

// Observe subscribes to a single record (spec §4.F "observe").
func (c *Collection) Observe(id string, cb changes.RecordCallback) changes.Cancel {
	return c.db.tracker.ObserveRecord(c.name, id, cb)
}

// ObserveQuery subscribes to a materialized query (spec §4.F
// "observeQuery").
func (c *Collection) ObserveQuery(q storage.Query, cb changes.QueryCallback) changes.Cancel {
	return c.db.tracker.ObserveQuery(c.name, q, cb)
}
