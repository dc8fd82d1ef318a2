// Package changes implements the reactive observer layer (spec §4.F):
// single-record and materialized-query subscriptions, a global change
// listener, and the cross-replica broadcast suppression rule. It is
// grounded on the teacher's pkg/events broker (buffered-channel
// subscriber set under an RWMutex, non-blocking publish) but dispatches
// typed ChangeEvents synchronously to direct callbacks instead of
// channels, since observe/observeQuery/onChange are all callback-based
// in the spec.
package changes

import (
	"sync"

	"github.com/cuemby/basin/pkg/storage"
)

// ChangeEvent is the event every mutating storage operation produces.
type ChangeEvent struct {
	Collection string
	Kind       storage.ChangeKind
	IDs        []string
	ReplicaID  string
}

// Cancel unsubscribes. It is synchronous and idempotent: calling it
// twice, or after the tracker has already dropped the subscription, is
// a no-op.
type Cancel func()

// RecordCallback receives the current state of one record, or nil if
// it doesn't exist / is a tombstone.
type RecordCallback func(record *storage.Record)

// QueryCallback receives a freshly recomputed query result.
type QueryCallback func(result storage.QueryResult)

// GlobalCallback receives every change event regardless of collection.
type GlobalCallback func(event ChangeEvent)

// Collections resolves a collection name to its store, letting Tracker
// serve observe/observeQuery without owning collection lifecycle
// itself. pkg/engine implements this.
type Collections interface {
	Collection(name string) (*storage.CollectionStore, bool)
}

type recordKey struct {
	collection string
	id         string
}

type recordSubscription struct {
	collection string
	id         string
	cb         RecordCallback
}

type querySubscription struct {
	collection string
	query      storage.Query
	cb         QueryCallback
}

// Tracker is the change-tracking/observer component (spec component F).
type Tracker struct {
	mu          sync.Mutex
	collections Collections
	replicaID   string
	nextID      int

	recordSubs  map[int]*recordSubscription
	recordIndex map[recordKey]map[int]bool

	querySubs map[int]*querySubscription
	queryIndex map[string]map[int]bool

	globalSubs map[int]GlobalCallback

	broadcast func(ChangeEvent)
}

// NewTracker constructs a Tracker bound to one replica's identity
// (used to tag emitted events and suppress self-originated broadcasts).
func NewTracker(collections Collections, replicaID string) *Tracker {
	return &Tracker{
		collections: collections,
		replicaID:   replicaID,
		recordSubs:  make(map[int]*recordSubscription),
		recordIndex: make(map[recordKey]map[int]bool),
		querySubs:   make(map[int]*querySubscription),
		queryIndex:  make(map[string]map[int]bool),
		globalSubs:  make(map[int]GlobalCallback),
	}
}

// SetBroadcast installs the cross-replica publish hook (spec §4.F:
// "a broadcast channel keyed by database name carries change events
// between replicas"). The actual transport lives in pkg/coordinator /
// pkg/rpc; Tracker only calls the hook with locally-originated events.
func (t *Tracker) SetBroadcast(fn func(ChangeEvent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.broadcast = fn
}

// OnChange implements storage.ChangeObserver: every local mutation
// flows through here, gets tagged with this replica's id, dispatched
// to local subscribers, and forwarded to the broadcast hook.
func (t *Tracker) OnChange(collection string, kind storage.ChangeKind, ids []string) {
	event := ChangeEvent{Collection: collection, Kind: kind, IDs: ids, ReplicaID: t.replicaID}
	t.dispatch(event)

	t.mu.Lock()
	broadcast := t.broadcast
	t.mu.Unlock()
	if broadcast != nil {
		broadcast(event)
	}
}

// ReceiveRemote applies an event that arrived from another replica over
// the cross-replica channel. Events are suppressed on their emitter:
// a replica never re-delivers its own broadcast event to itself.
func (t *Tracker) ReceiveRemote(event ChangeEvent) {
	if event.ReplicaID == t.replicaID {
		return
	}
	event.Kind = storage.ChangeRemote
	t.dispatch(event)
}

func (t *Tracker) dispatch(event ChangeEvent) {
	t.mu.Lock()
	var recordCbs []RecordCallback
	var recordIDs []string
	for _, id := range event.IDs {
		key := recordKey{event.Collection, id}
		for subID := range t.recordIndex[key] {
			if sub, ok := t.recordSubs[subID]; ok {
				recordCbs = append(recordCbs, sub.cb)
				recordIDs = append(recordIDs, id)
			}
		}
	}
	var queryCbs []*querySubscription
	for subID := range t.queryIndex[event.Collection] {
		if sub, ok := t.querySubs[subID]; ok {
			queryCbs = append(queryCbs, sub)
		}
	}
	var globalCbs []GlobalCallback
	for _, cb := range t.globalSubs {
		globalCbs = append(globalCbs, cb)
	}
	t.mu.Unlock()

	for i, cb := range recordCbs {
		rec, _ := t.currentRecord(event.Collection, recordIDs[i])
		cb(rec)
	}
	for _, sub := range queryCbs {
		result, err := t.currentQuery(sub.collection, sub.query)
		if err == nil {
			sub.cb(result)
		}
	}
	for _, cb := range globalCbs {
		cb(event)
	}
}

// ObserveRecord subscribes to a single record. The first callback is
// delivered asynchronously (it may arrive after this call returns),
// per spec §4.F.
func (t *Tracker) ObserveRecord(collection, id string, cb RecordCallback) Cancel {
	t.mu.Lock()
	subID := t.nextID
	t.nextID++
	sub := &recordSubscription{collection: collection, id: id, cb: cb}
	t.recordSubs[subID] = sub
	key := recordKey{collection, id}
	if t.recordIndex[key] == nil {
		t.recordIndex[key] = make(map[int]bool)
	}
	t.recordIndex[key][subID] = true
	t.mu.Unlock()

	go func() {
		rec, _ := t.currentRecord(collection, id)
		t.mu.Lock()
		_, stillActive := t.recordSubs[subID]
		t.mu.Unlock()
		if stillActive {
			cb(rec)
		}
	}()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.recordSubs, subID)
		if m, ok := t.recordIndex[key]; ok {
			delete(m, subID)
			if len(m) == 0 {
				delete(t.recordIndex, key)
			}
		}
	}
}

// ObserveQuery subscribes to a materialized query. The callback
// receives a freshly recomputed result on any change that could affect
// it; coarse invalidation (recomputing on any write to the collection)
// is allowed by spec, so over-delivery never produces stale results.
func (t *Tracker) ObserveQuery(collection string, q storage.Query, cb QueryCallback) Cancel {
	t.mu.Lock()
	subID := t.nextID
	t.nextID++
	t.querySubs[subID] = &querySubscription{collection: collection, query: q, cb: cb}
	if t.queryIndex[collection] == nil {
		t.queryIndex[collection] = make(map[int]bool)
	}
	t.queryIndex[collection][subID] = true
	t.mu.Unlock()

	go func() {
		result, err := t.currentQuery(collection, q)
		t.mu.Lock()
		_, stillActive := t.querySubs[subID]
		t.mu.Unlock()
		if stillActive && err == nil {
			cb(result)
		}
	}()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.querySubs, subID)
		if m, ok := t.queryIndex[collection]; ok {
			delete(m, subID)
			if len(m) == 0 {
				delete(t.queryIndex, collection)
			}
		}
	}
}

// OnChangeGlobal registers a listener for every change event.
func (t *Tracker) OnChangeGlobal(cb GlobalCallback) Cancel {
	t.mu.Lock()
	subID := t.nextID
	t.nextID++
	t.globalSubs[subID] = cb
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.globalSubs, subID)
	}
}

func (t *Tracker) currentRecord(collection, id string) (*storage.Record, error) {
	cs, ok := t.collections.Collection(collection)
	if !ok {
		return nil, nil
	}
	return cs.Get(id, storage.GetOptions{})
}

func (t *Tracker) currentQuery(collection string, q storage.Query) (storage.QueryResult, error) {
	cs, ok := t.collections.Collection(collection)
	if !ok {
		return storage.QueryResult{}, nil
	}
	return cs.Query(q)
}
