package sync

import (
	"time"

	"github.com/cuemby/basin/pkg/storage"
)

// Unbatched disables push batching entirely: every dirty record in a
// cycle goes out in a single Push call (spec §4.G push step 2.4,
// "Infinity disables batching").
const Unbatched = -1

const (
	defaultBatchSize          = 50
	defaultQuarantineThreshold = 3
)

// Options configures one Engine. The zero value is meaningful: New
// fills every field left at its zero value with the spec's default.
type Options struct {
	// BatchSize caps how many dirty records one Push call carries.
	// Zero means defaultBatchSize (50); Unbatched disables the cap.
	BatchSize int

	// QuarantineThreshold is the number of consecutive per-record
	// failures (decrypt/decode on pull, or a reported non-retryable
	// pull failure) before a record is quarantined. Zero means 3.
	QuarantineThreshold int

	// Cooldown is the scheduler's coalescing window. Zero means
	// DefaultCooldown (1000ms).
	Cooldown time.Duration

	// DeleteConflictStrategy resolves a local/remote divergence across
	// a delete/update boundary. Empty means storage.RemoteWins.
	DeleteConflictStrategy storage.DeleteConflictStrategy
}

func (o Options) withDefaults() Options {
	if o.BatchSize == 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.QuarantineThreshold == 0 {
		o.QuarantineThreshold = defaultQuarantineThreshold
	}
	if o.Cooldown == 0 {
		o.Cooldown = DefaultCooldown
	}
	if o.DeleteConflictStrategy == "" {
		o.DeleteConflictStrategy = storage.RemoteWins
	}
	return o
}
