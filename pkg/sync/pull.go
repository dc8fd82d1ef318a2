package sync

import (
	"context"

	"github.com/cuemby/basin/pkg/basinerr"
	"github.com/cuemby/basin/pkg/boundary"
	"github.com/cuemby/basin/pkg/metrics"
	"github.com/cuemby/basin/pkg/storage"
	"github.com/cuemby/basin/pkg/wire"
)

// pull runs the cycle's pull half (spec §4.G steps 1.1-1.7): fetch
// everything newer than the collection's cursor, decrypt and unwrap
// each payload, fold the batch into storage, then advance the cursor
// and clean up quarantine/failure bookkeeping for whatever applied.
func (e *Engine) pull(ctx context.Context, collection string) error {
	cs, ok := e.db.Collection(collection)
	if !ok {
		return basinerr.NotFound(collection, "")
	}

	since, err := e.db.LastSequence(collection)
	if err != nil {
		return err
	}

	result, err := e.transport.Pull(ctx, collection, since)
	if err != nil {
		return err
	}

	quarantined, err := e.db.QuarantinedIDs(collection)
	if err != nil {
		return err
	}

	total := len(result.Records)
	e.progress(PhasePull, collection, 0, total)

	maxSeq := since
	remote := make([]storage.RemoteRecord, 0, total)
	for i, rp := range result.Records {
		if rp.Sequence > maxSeq {
			maxSeq = rp.Sequence
		}
		if quarantined[rp.ID] {
			e.progress(PhasePull, collection, i+1, total)
			continue
		}

		rr := storage.RemoteRecord{
			ID:       rp.ID,
			Version:  rp.Version,
			Deleted:  rp.Deleted,
			Sequence: rp.Sequence,
			Meta:     rp.Meta,
		}
		if !rp.Deleted {
			plaintext, derr := e.crypto.DecryptRecord(boundary.WithRecordID(ctx, rp.ID), rp.CRDT, rp.WrappedDEK)
			if derr != nil {
				e.recordFailure(collection, rp.ID)
				e.progress(PhasePull, collection, i+1, total)
				continue
			}
			env, uerr := wire.UnmarshalRecordEnvelope(plaintext)
			if uerr != nil {
				e.recordFailure(collection, rp.ID)
				e.progress(PhasePull, collection, i+1, total)
				continue
			}
			rr.CRDT = env.CRDT
			rr.EditChain = env.EditChain
		}
		remote = append(remote, rr)
		e.progress(PhasePull, collection, i+1, total)
	}

	for _, f := range result.Failures {
		if f.Retryable {
			continue
		}
		e.recordFailure(collection, f.ID)
	}

	applyResult, err := cs.ApplyRemoteChanges(remote, e.opts.DeleteConflictStrategy)
	if err != nil {
		return err
	}
	for _, id := range applyResult.Applied {
		e.clearFailure(collection, id)
	}
	if applyResult.MaxSeq > maxSeq {
		maxSeq = applyResult.MaxSeq
	}
	if result.LatestSequence != nil && *result.LatestSequence > maxSeq {
		maxSeq = *result.LatestSequence
	}

	if maxSeq > since {
		if err := e.db.SetLastSequence(collection, maxSeq); err != nil {
			return err
		}
	}

	metrics.PullRecordsTotal.WithLabelValues(collection).Add(float64(total))
	return nil
}
