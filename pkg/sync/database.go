package sync

import "github.com/cuemby/basin/pkg/storage"

// Database is the subset of *storage.Database the sync engine drives.
// It is declared as an interface, matching storage.Database's methods
// exactly, so the engine never depends on the storage package's
// concrete struct (mirrors pkg/changes.Collections' same pattern).
type Database interface {
	Collection(name string) (*storage.CollectionStore, bool)
	CollectionNames() []string
	LastSequence(collection string) (uint64, error)
	SetLastSequence(collection string, seq uint64) error
	AddQuarantine(collection, id string) error
	RemoveQuarantine(collection, id string) error
	ClearQuarantine(collection string) error
	QuarantinedIDs(collection string) (map[string]bool, error)
}
