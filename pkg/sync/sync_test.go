package sync

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/basin/pkg/boundary"
	"github.com/cuemby/basin/pkg/cryptoprim"
	"github.com/cuemby/basin/pkg/schema"
	"github.com/cuemby/basin/pkg/storage"
)

func openTestDB(t *testing.T) *storage.Database {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func notesBlueprint(t *testing.T) schema.Blueprint {
	t.Helper()
	node := schema.Object(map[string]*schema.Node{
		"title": schema.String(),
	})
	bp, err := schema.NewCollection("notes").Version(1, node).Build()
	require.NoError(t, err)
	return bp
}

// plaintextCrypto is a CryptoCollaborator test double that skips real
// encryption: it passes plaintext through as the "blob" so tests can
// assert on pull/push behavior without involving pkg/defaultcrypto.
type plaintextCrypto struct {
	epoch atomic.Uint32
}

func (c *plaintextCrypto) EncryptRecord(ctx context.Context, plaintext []byte) ([]byte, []byte, error) {
	return append([]byte(nil), plaintext...), []byte("wrapped"), nil
}

func (c *plaintextCrypto) DecryptRecord(ctx context.Context, blob, wrappedDEK []byte) ([]byte, error) {
	return append([]byte(nil), blob...), nil
}

func (c *plaintextCrypto) RewrapDEK(wrapped []byte, atEpoch uint32) ([]byte, error) {
	return wrapped, nil
}

func (c *plaintextCrypto) CurrentEpoch() uint32 { return c.epoch.Load() }

func (c *plaintextCrypto) DeriveChannelKey(spaceID string) ([]byte, error) {
	return make([]byte, 32), nil
}

func (c *plaintextCrypto) Sign(data []byte) ([]byte, error) { return []byte("sig"), nil }

func (c *plaintextCrypto) Verify(data, sig []byte, pubKey cryptoprim.JWK) bool { return true }

func (c *plaintextCrypto) GenerateRecordID() string { return "generated" }

var _ boundary.CryptoCollaborator = (*plaintextCrypto)(nil)

// fakeTransport is an in-memory boundary.SyncTransport double: Push
// appends to a server-side log with ever-increasing sequences, Pull
// serves everything past `since`.
type fakeTransport struct {
	mu       chan struct{} // binary semaphore, avoids importing sync pkg name clash
	nextSeq  uint64
	byID     map[string]boundary.RecordPayload
	order    []string
	failing  map[string]bool // ids that Pull should report as a permanent failure once
	reported map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		mu:       make(chan struct{}, 1),
		byID:     make(map[string]boundary.RecordPayload),
		failing:  make(map[string]bool),
		reported: make(map[string]bool),
	}
}

func (f *fakeTransport) lock()   { f.mu <- struct{}{} }
func (f *fakeTransport) unlock() { <-f.mu }

func (f *fakeTransport) Push(ctx context.Context, collection string, records []boundary.RecordPayload) ([]boundary.PushAck, error) {
	f.lock()
	defer f.unlock()
	acks := make([]boundary.PushAck, 0, len(records))
	for _, r := range records {
		f.nextSeq++
		r.Sequence = f.nextSeq
		if _, exists := f.byID[r.ID]; !exists {
			f.order = append(f.order, r.ID)
		}
		f.byID[r.ID] = r
		acks = append(acks, boundary.PushAck{ID: r.ID, Sequence: f.nextSeq})
	}
	return acks, nil
}

func (f *fakeTransport) Pull(ctx context.Context, collection string, since uint64) (boundary.PullResult, error) {
	f.lock()
	defer f.unlock()
	var result boundary.PullResult
	for _, id := range f.order {
		r := f.byID[id]
		if r.Sequence <= since {
			continue
		}
		if f.failing[id] && !f.reported[id] {
			f.reported[id] = true
			result.Failures = append(result.Failures, boundary.PullFailure{ID: id, Sequence: r.Sequence, Retryable: false})
			continue
		}
		result.Records = append(result.Records, r)
	}
	return result, nil
}

func newTestEngine(t *testing.T, db Database, transport boundary.SyncTransport) *Engine {
	t.Helper()
	return New(db, transport, &plaintextCrypto{}, "space-1", Options{})
}

func TestPushThenPullRoundTrips(t *testing.T) {
	dbA := openTestDB(t)
	csA, err := storage.RegisterCollection(dbA, notesBlueprint(t), nil)
	require.NoError(t, err)
	rec, err := csA.Put(map[string]any{"title": "hello"}, storage.PutOptions{})
	require.NoError(t, err)

	transport := newFakeTransport()
	engineA := newTestEngine(t, dbA, transport)
	require.NoError(t, engineA.SyncCollection(context.Background(), "notes"))

	dirty, err := csA.GetDirty()
	require.NoError(t, err)
	assert.Empty(t, dirty, "record should no longer be dirty after a successful push")

	dbB := openTestDB(t)
	csB, err := storage.RegisterCollection(dbB, notesBlueprint(t), nil)
	require.NoError(t, err)
	engineB := newTestEngine(t, dbB, transport)
	require.NoError(t, engineB.SyncCollection(context.Background(), "notes"))

	got, err := csB.Get(rec.ID, storage.GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hello", got.Data["title"])
}

func TestSyncCollectionAdvancesSequenceCursor(t *testing.T) {
	db := openTestDB(t)
	_, err := storage.RegisterCollection(db, notesBlueprint(t), nil)
	require.NoError(t, err)

	transport := newFakeTransport()
	engine := newTestEngine(t, db, transport)
	require.NoError(t, engine.SyncCollection(context.Background(), "notes"))

	seq, err := db.LastSequence("notes")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), seq, "no remote records yet, cursor stays at zero")
}

func TestPullFailureQuarantinesAfterThreshold(t *testing.T) {
	db := openTestDB(t)
	_, err := storage.RegisterCollection(db, notesBlueprint(t), nil)
	require.NoError(t, err)

	transport := newFakeTransport()
	transport.order = []string{"rec-1"}
	transport.nextSeq = 1
	transport.byID["rec-1"] = boundary.RecordPayload{ID: "rec-1", Sequence: 1}
	transport.failing["rec-1"] = true

	engine := New(db, transport, &plaintextCrypto{}, "space-1", Options{QuarantineThreshold: 2})

	for i := 0; i < 2; i++ {
		transport.reported["rec-1"] = false // force Pull to report the failure again each cycle
		require.NoError(t, engine.SyncCollection(context.Background(), "notes"))
	}

	ids, err := db.QuarantinedIDs("notes")
	require.NoError(t, err)
	assert.True(t, ids["rec-1"], "record should be quarantined after reaching the threshold")
}

func TestRetryQuarantinedClearsMarks(t *testing.T) {
	db := openTestDB(t)
	_, err := storage.RegisterCollection(db, notesBlueprint(t), nil)
	require.NoError(t, err)
	require.NoError(t, db.AddQuarantine("notes", "rec-1"))

	engine := New(db, newFakeTransport(), &plaintextCrypto{}, "space-1", Options{})
	require.NoError(t, engine.RetryQuarantined("notes"))

	ids, err := db.QuarantinedIDs("notes")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

// TestSyncCollectionTwiceIsIdempotent covers the spec §8 round-trip law
// at the engine level: re-running a sync cycle with nothing new to push
// or pull leaves state unchanged.
func TestSyncCollectionTwiceIsIdempotent(t *testing.T) {
	dbA := openTestDB(t)
	csA, err := storage.RegisterCollection(dbA, notesBlueprint(t), nil)
	require.NoError(t, err)
	rec, err := csA.Put(map[string]any{"title": "hello"}, storage.PutOptions{})
	require.NoError(t, err)

	transport := newFakeTransport()
	engineA := newTestEngine(t, dbA, transport)
	require.NoError(t, engineA.SyncCollection(context.Background(), "notes"))

	dbB := openTestDB(t)
	csB, err := storage.RegisterCollection(dbB, notesBlueprint(t), nil)
	require.NoError(t, err)
	engineB := newTestEngine(t, dbB, transport)
	require.NoError(t, engineB.SyncCollection(context.Background(), "notes"))
	require.NoError(t, engineB.SyncCollection(context.Background(), "notes"))

	got, err := csB.Get(rec.ID, storage.GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hello", got.Data["title"])

	seq, err := dbB.LastSequence("notes")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq, "a second no-op sync cycle must not advance the cursor again")
}

// TestDeleteSyncsAsTombstoneAcrossReplicas walks Seed Scenario 4 at the
// engine level: a delete on one replica pushes as a tombstone, and the
// other replica's pull makes the record disappear too.
func TestDeleteSyncsAsTombstoneAcrossReplicas(t *testing.T) {
	dbA := openTestDB(t)
	csA, err := storage.RegisterCollection(dbA, notesBlueprint(t), nil)
	require.NoError(t, err)
	rec, err := csA.Put(map[string]any{"title": "hello"}, storage.PutOptions{})
	require.NoError(t, err)

	transport := newFakeTransport()
	engineA := newTestEngine(t, dbA, transport)
	require.NoError(t, engineA.SyncCollection(context.Background(), "notes"))

	dbB := openTestDB(t)
	csB, err := storage.RegisterCollection(dbB, notesBlueprint(t), nil)
	require.NoError(t, err)
	engineB := newTestEngine(t, dbB, transport)
	require.NoError(t, engineB.SyncCollection(context.Background(), "notes"))

	got, err := csB.Get(rec.ID, storage.GetOptions{})
	require.NoError(t, err)
	require.NotNil(t, got)

	ok, err := csA.Delete(rec.ID, storage.DeleteOptions{})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, engineA.SyncCollection(context.Background(), "notes"))

	require.NoError(t, engineB.SyncCollection(context.Background(), "notes"))
	goneFromB, err := csB.Get(rec.ID, storage.GetOptions{})
	require.NoError(t, err)
	assert.Nil(t, goneFromB, "a tombstone pulled from a peer must hide the record")
}

func TestSyncAllWalksEveryCollection(t *testing.T) {
	db := openTestDB(t)
	_, err := storage.RegisterCollection(db, notesBlueprint(t), nil)
	require.NoError(t, err)

	var seenNames []string
	engine := New(db, newFakeTransport(), &plaintextCrypto{}, "space-1", Options{})
	engine.OnProgress(func(p Progress) {
		seenNames = append(seenNames, p.Collection)
	})
	require.NoError(t, engine.SyncAll(context.Background()))
	assert.Contains(t, seenNames, "notes")
}
