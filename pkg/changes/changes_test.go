package changes

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/basin/pkg/schema"
	"github.com/cuemby/basin/pkg/storage"
)

type fakeCollections struct {
	cs *storage.CollectionStore
}

func (f *fakeCollections) Collection(name string) (*storage.CollectionStore, bool) {
	if name != "users" {
		return nil, false
	}
	return f.cs, true
}

func newTestTracker(t *testing.T) (*Tracker, *storage.CollectionStore) {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	node := schema.Object(map[string]*schema.Node{"name": schema.String()})
	bp, err := schema.NewCollection("users").Version(1, node).Build()
	require.NoError(t, err)

	tracker := NewTracker(&fakeCollections{}, "replica-a")
	cs, err := storage.RegisterCollection(db, bp, tracker)
	require.NoError(t, err)
	tracker.collections.(*fakeCollections).cs = cs
	return tracker, cs
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestObserveRecordDeliversAsyncInitialAndOnChange(t *testing.T) {
	tracker, cs := newTestTracker(t)

	rec, err := cs.Put(map[string]any{"name": "Alice"}, storage.PutOptions{})
	require.NoError(t, err)

	var mu sync.Mutex
	var received []*storage.Record
	cancel := tracker.ObserveRecord("users", rec.ID, func(r *storage.Record) {
		mu.Lock()
		received = append(received, r)
		mu.Unlock()
	})
	defer cancel()

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) >= 1
	})

	_, err = cs.Patch(rec.ID, map[string]any{"name": "Alicia"}, storage.PatchOptions{})
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) >= 2
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Alicia", received[len(received)-1].Data["name"])
}

func TestObserveRecordCancelIsIdempotent(t *testing.T) {
	tracker, cs := newTestTracker(t)
	rec, err := cs.Put(map[string]any{"name": "Bob"}, storage.PutOptions{})
	require.NoError(t, err)

	cancel := tracker.ObserveRecord("users", rec.ID, func(*storage.Record) {})
	cancel()
	assert.NotPanics(t, func() { cancel() })
}

func TestOnChangeGlobalSeesAllMutations(t *testing.T) {
	tracker, cs := newTestTracker(t)

	var mu sync.Mutex
	var events []ChangeEvent
	cancel := tracker.OnChangeGlobal(func(e ChangeEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	defer cancel()

	_, err := cs.Put(map[string]any{"name": "Carl"}, storage.PutOptions{})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, storage.ChangePut, events[0].Kind)
	assert.Equal(t, "replica-a", events[0].ReplicaID)
}

func TestReceiveRemoteSuppressedOnEmitter(t *testing.T) {
	tracker, _ := newTestTracker(t)

	var received int
	cancel := tracker.OnChangeGlobal(func(ChangeEvent) { received++ })
	defer cancel()

	tracker.ReceiveRemote(ChangeEvent{Collection: "users", Kind: storage.ChangePut, IDs: []string{"x"}, ReplicaID: "replica-a"})
	assert.Equal(t, 0, received)

	tracker.ReceiveRemote(ChangeEvent{Collection: "users", Kind: storage.ChangePut, IDs: []string{"x"}, ReplicaID: "replica-b"})
	assert.Equal(t, 1, received)
}

func TestBroadcastHookFiresOnLocalChangeOnly(t *testing.T) {
	tracker, cs := newTestTracker(t)

	var forwarded []ChangeEvent
	tracker.SetBroadcast(func(e ChangeEvent) { forwarded = append(forwarded, e) })

	_, err := cs.Put(map[string]any{"name": "Dana"}, storage.PutOptions{})
	require.NoError(t, err)

	require.Len(t, forwarded, 1)
	assert.Equal(t, "replica-a", forwarded[0].ReplicaID)

	tracker.ReceiveRemote(ChangeEvent{Collection: "users", Kind: storage.ChangePut, ReplicaID: "replica-b"})
	assert.Len(t, forwarded, 1, "remote-originated events must not be re-broadcast")
}
