// Package epoch implements the client-side driver for the epoch advance
// protocol (spec §4.I): epochBegin, idempotent bulk DEK rewrap, and
// epochComplete, against the injected boundary.EpochTransport.
package epoch

import (
	"context"

	"github.com/cuemby/basin/pkg/basinerr"
	"github.com/cuemby/basin/pkg/boundary"
	"github.com/cuemby/basin/pkg/keys"
	"github.com/cuemby/basin/pkg/metrics"
)

// yieldBatchSize bounds how many DEKs are rewrapped between
// context-cancellation checkpoints, so a long crypto loop never blocks
// the single-threaded loop for its full duration (Design Note,
// grounded on the teacher's reconciler/scheduler loop-with-early-exit
// shape).
const yieldBatchSize = 500

// DEKSource enumerates every wrapped record and file DEK that must be
// considered during an epoch advance, keyed by an opaque id the caller
// can later use to persist the rewrapped result.
type DEKSource interface {
	ListWrappedDEKs(ctx context.Context) (map[string][]byte, error)
}

// Driver runs the epoch advance protocol for one space.
type Driver struct {
	transport boundary.EpochTransport
	hierarchy *keys.Hierarchy
	source    DEKSource
	spaceID   string
}

// NewDriver constructs a Driver. hierarchy supplies epoch-KEK
// derivation (forward-only, capped at keys.MaxEpochAdvance).
func NewDriver(transport boundary.EpochTransport, hierarchy *keys.Hierarchy, source DEKSource, spaceID string) *Driver {
	return &Driver{transport: transport, hierarchy: hierarchy, source: source, spaceID: spaceID}
}

// Advance runs the full epochBegin → rewrap → epochComplete cycle for
// one new epoch (current+1). A compare-and-set conflict surfaces as
// *basinerr.EpochMismatch; the rewrap phase is safe to retry since it
// is idempotent (already-rewrapped DEKs are detected via peekEpoch and
// skipped).
func (d *Driver) Advance(ctx context.Context, setMinKeyGeneration bool) error {
	newEpoch := d.hierarchy.CurrentEpoch() + 1

	mismatch, err := d.transport.EpochBegin(ctx, d.spaceID, newEpoch, setMinKeyGeneration)
	if err != nil {
		return err
	}
	if mismatch != nil {
		return basinerr.NewEpochMismatch(mismatch.CurrentEpoch, mismatch.RewrapEpoch)
	}

	rewrapped, err := d.rewrapAll(ctx, newEpoch)
	if err != nil {
		return err
	}

	if err := d.transport.UploadRewrappedDEKs(ctx, d.spaceID, rewrapped); err != nil {
		return err
	}
	if err := d.transport.EpochComplete(ctx, d.spaceID, newEpoch); err != nil {
		return err
	}
	metrics.EpochAdvancesTotal.Inc()
	return nil
}

func (d *Driver) rewrapAll(ctx context.Context, newEpoch uint32) (map[string][]byte, error) {
	all, err := d.source.ListWrappedDEKs(ctx)
	if err != nil {
		return nil, err
	}

	newKEK, err := d.hierarchy.EpochKey(newEpoch)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(all))
	i := 0
	for id, wrapped := range all {
		i++
		if i%yieldBatchSize == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}

		epochAtRest, err := keys.PeekEpoch(wrapped)
		if err != nil {
			return nil, err
		}
		if epochAtRest == newEpoch {
			continue // already rewrapped; idempotent skip
		}

		kekAtRest, err := d.hierarchy.EpochKey(epochAtRest)
		if err != nil {
			return nil, err
		}
		unwrapped, err := keys.UnwrapDEK(wrapped, kekAtRest)
		if err != nil {
			return nil, err
		}
		rewrapped, err := keys.RewrapDEK(unwrapped.DEK, newKEK, newEpoch)
		if err != nil {
			return nil, err
		}
		out[id] = rewrapped
	}
	return out, nil
}
