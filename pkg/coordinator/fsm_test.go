package coordinator

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/hashicorp/raft"
)

func TestEpochFSMApplyIncrements(t *testing.T) {
	f := newEpochFSM()
	cmd, _ := json.Marshal(epochCommand{Op: "bump_epoch"})

	r1 := f.Apply(&raft.Log{Data: cmd})
	r2 := f.Apply(&raft.Log{Data: cmd})

	e1, ok1 := r1.(uint64)
	e2, ok2 := r2.(uint64)
	if !ok1 || !ok2 {
		t.Fatalf("expected uint64 results, got %T %T", r1, r2)
	}
	if e1 != 1 || e2 != 2 {
		t.Fatalf("expected epochs 1,2, got %d,%d", e1, e2)
	}
}

func TestEpochFSMSnapshotRestore(t *testing.T) {
	f := newEpochFSM()
	cmd, _ := json.Marshal(epochCommand{Op: "bump_epoch"})
	f.Apply(&raft.Log{Data: cmd})
	f.Apply(&raft.Log{Data: cmd})
	f.Apply(&raft.Log{Data: cmd})

	snap, err := f.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	var buf bytes.Buffer
	sink := &fakeSnapshotSink{Buffer: &buf}
	if err := snap.Persist(sink); err != nil {
		t.Fatalf("persist: %v", err)
	}

	restored := newEpochFSM()
	if err := restored.Restore(io.NopCloser(&buf)); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.epoch != 3 {
		t.Fatalf("expected restored epoch 3, got %d", restored.epoch)
	}
}

type fakeSnapshotSink struct {
	*bytes.Buffer
}

func (f *fakeSnapshotSink) ID() string    { return "test" }
func (f *fakeSnapshotSink) Cancel() error { return nil }
func (f *fakeSnapshotSink) Close() error  { return nil }
