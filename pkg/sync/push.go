package sync

import (
	"context"

	"github.com/cuemby/basin/pkg/basinerr"
	"github.com/cuemby/basin/pkg/boundary"
	"github.com/cuemby/basin/pkg/metrics"
	"github.com/cuemby/basin/pkg/storage"
	"github.com/cuemby/basin/pkg/wire"
)

type pendingPush struct {
	payload  boundary.RecordPayload
	snapshot storage.SyncSnapshot
}

// push runs the cycle's push half (spec §4.G steps 2.1-2.5): collect
// every dirty record, encrypt each one's envelope, send them out in
// batches of at most BatchSize, and mark each acknowledged record
// synced against the snapshot captured when its payload was built.
func (e *Engine) push(ctx context.Context, collection string) error {
	cs, ok := e.db.Collection(collection)
	if !ok {
		return basinerr.NotFound(collection, "")
	}

	dirty, err := cs.GetDirty()
	if err != nil {
		return err
	}
	quarantined, err := e.db.QuarantinedIDs(collection)
	if err != nil {
		return err
	}
	kept := dirty[:0]
	for _, rec := range dirty {
		if !quarantined[rec.ID] {
			kept = append(kept, rec)
		}
	}
	dirty = kept
	metrics.DirtyRecordsTotal.WithLabelValues(collection).Set(float64(len(dirty)))

	total := len(dirty)
	e.progress(PhasePush, collection, 0, total)
	if total == 0 {
		return nil
	}

	items := make([]pendingPush, 0, total)
	for _, rec := range dirty {
		snapshot := storage.SyncSnapshot{PendingPatchesLen: len(rec.PendingPatches), Deleted: rec.Deleted}
		payload := boundary.RecordPayload{
			ID:       rec.ID,
			Version:  rec.Version,
			Deleted:  rec.Deleted,
			Sequence: rec.Sequence,
			Meta:     rec.Meta,
		}
		if !rec.Deleted {
			plaintext, merr := wire.MarshalRecordEnvelope(wire.RecordEnvelope{
				Version:   rec.Version,
				CRDT:      rec.CRDT,
				EditChain: rec.EditChain,
			})
			if merr != nil {
				return merr
			}
			blob, wrappedDEK, eerr := e.crypto.EncryptRecord(boundary.WithRecordID(ctx, rec.ID), plaintext)
			if eerr != nil {
				return eerr
			}
			payload.CRDT = blob
			payload.WrappedDEK = wrappedDEK
		}
		items = append(items, pendingPush{payload: payload, snapshot: snapshot})
	}

	batchSize := e.opts.BatchSize
	if batchSize == Unbatched || batchSize <= 0 {
		batchSize = len(items)
	}

	processed := 0
	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		payloads := make([]boundary.RecordPayload, len(batch))
		for i, it := range batch {
			payloads[i] = it.payload
		}
		metrics.PushBatchSize.Observe(float64(len(payloads)))

		acks, err := e.transport.Push(ctx, collection, payloads)
		if err != nil {
			return err
		}
		ackSeq := make(map[string]uint64, len(acks))
		for _, a := range acks {
			ackSeq[a.ID] = a.Sequence
		}
		for _, it := range batch {
			seq, acked := ackSeq[it.payload.ID]
			if !acked {
				continue
			}
			if err := cs.MarkSynced(it.payload.ID, seq, it.snapshot); err != nil {
				return err
			}
		}
		processed = end
		e.progress(PhasePush, collection, processed, total)
	}
	return nil
}
