package coordinator

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/hashicorp/raft"
)

// epochCommand is the only command ever applied through the raft log:
// a leadership epoch bump. It carries no document data, unlike the
// teacher's WarrenFSM.Command which applied node/service/container/
// secret/volume mutations directly.
type epochCommand struct {
	Op string `json:"op"`
}

// epochFSM implements raft.FSM. Apply increments and returns the
// current leadership epoch; Snapshot/Restore persist that single
// uint64 so a restarted voter resumes numbering instead of colliding
// with a previous term's epoch.
type epochFSM struct {
	mu    sync.Mutex
	epoch uint64
}

func newEpochFSM() *epochFSM { return &epochFSM{} }

func (f *epochFSM) Apply(log *raft.Log) any {
	var cmd epochCommand
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.epoch++
	return f.epoch
}

func (f *epochFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &epochSnapshot{epoch: f.epoch}, nil
}

func (f *epochFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var payload struct {
		Epoch uint64 `json:"epoch"`
	}
	if err := json.NewDecoder(rc).Decode(&payload); err != nil {
		return err
	}
	f.mu.Lock()
	f.epoch = payload.Epoch
	f.mu.Unlock()
	return nil
}

type epochSnapshot struct {
	epoch uint64
}

func (s *epochSnapshot) Persist(sink raft.SnapshotSink) error {
	data, err := json.Marshal(struct {
		Epoch uint64 `json:"epoch"`
	}{s.epoch})
	if err != nil {
		sink.Cancel()
		return err
	}
	if _, err := sink.Write(data); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *epochSnapshot) Release() {}
