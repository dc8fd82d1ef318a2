package sync

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cuemby/basin/pkg/boundary"
	"github.com/cuemby/basin/pkg/log"
	"github.com/cuemby/basin/pkg/metrics"
)

// Engine runs the pull-then-push cycle for one database against one
// injected transport and crypto collaborator (spec §4.G). Callers
// normally don't invoke SyncCollection/SyncAll directly on every local
// write; they go through a Scheduler built with NewScheduler(engine.SyncAll, ...)
// so bursts of writes coalesce into one cycle.
type Engine struct {
	db        Database
	transport boundary.SyncTransport
	crypto    boundary.CryptoCollaborator
	spaceID   string
	opts      Options
	logger    zerolog.Logger

	onProgress ProgressFunc

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	failuresMu sync.Mutex
	failures   map[string]map[string]int
}

// New constructs an Engine. spaceID is folded into envelope AAD via
// the crypto collaborator; it identifies the logical replication space
// this database belongs to.
func New(db Database, transport boundary.SyncTransport, crypto boundary.CryptoCollaborator, spaceID string, opts Options) *Engine {
	return &Engine{
		db:        db,
		transport: transport,
		crypto:    crypto,
		spaceID:   spaceID,
		opts:      opts.withDefaults(),
		logger:    log.WithComponent("sync"),
		locks:     make(map[string]*sync.Mutex),
		failures:  make(map[string]map[string]int),
	}
}

// OnProgress installs a progress callback, replacing any previous one.
func (e *Engine) OnProgress(fn ProgressFunc) {
	e.onProgress = fn
}

func (e *Engine) progress(phase Phase, collection string, processed, total int) {
	if e.onProgress == nil {
		return
	}
	e.onProgress(Progress{Phase: phase, Collection: collection, Processed: processed, Total: total})
}

func (e *Engine) collectionLock(name string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[name]
	if !ok {
		l = &sync.Mutex{}
		e.locks[name] = l
	}
	return l
}

// SyncCollection runs one pull-then-push cycle for a single collection,
// serialized against any other SyncCollection call for that same
// collection (spec §4.G "per-collection concurrency lock").
func (e *Engine) SyncCollection(ctx context.Context, collection string) error {
	if e.transport == nil {
		// A database opened without a Transport (engine.Config.Transport
		// is optional) is still fully usable for purely local reads and
		// writes; a sync cycle against it is a no-op rather than a panic
		// on a nil collaborator.
		return nil
	}

	lock := e.collectionLock(collection)
	lock.Lock()
	defer lock.Unlock()

	timer := metrics.NewTimer()
	err := e.pull(ctx, collection)
	if err == nil {
		err = e.push(ctx, collection)
	}
	timer.ObserveDurationVec(metrics.SyncCycleDuration, collection)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.SyncCyclesTotal.WithLabelValues(collection, outcome).Inc()
	if err != nil {
		e.logger.Warn().Err(err).Str("collection", collection).Msg("sync cycle failed")
	}
	return err
}

// SyncAll walks every collection in registration order (spec §4.G
// "syncAll walks collections in insertion order") running one cycle
// each. It keeps going after a per-collection error and returns the
// first one encountered.
func (e *Engine) SyncAll(ctx context.Context) error {
	var firstErr error
	for _, name := range e.db.CollectionNames() {
		if err := e.SyncCollection(ctx, name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Engine) recordFailure(collection, id string) {
	e.failuresMu.Lock()
	defer e.failuresMu.Unlock()
	m := e.failures[collection]
	if m == nil {
		m = make(map[string]int)
		e.failures[collection] = m
	}
	m[id]++
	count := m[id]
	if count < e.opts.QuarantineThreshold {
		return
	}
	delete(m, id)
	if err := e.db.AddQuarantine(collection, id); err != nil {
		e.logger.Error().Err(err).Str("collection", collection).Str("record_id", id).Msg("failed to persist quarantine")
		return
	}
	metrics.QuarantinedRecordsTotal.WithLabelValues(collection).Inc()
	e.logger.Warn().Str("collection", collection).Str("record_id", id).Int("failures", count).Msg("record quarantined after repeated sync failure")
}

func (e *Engine) clearFailure(collection, id string) {
	e.failuresMu.Lock()
	defer e.failuresMu.Unlock()
	if m, ok := e.failures[collection]; ok {
		delete(m, id)
	}
}

// RetryQuarantined clears every quarantine mark for a collection so its
// records are pulled and pushed again on the next cycle (spec §4.G
// "retryQuarantined(collection)").
func (e *Engine) RetryQuarantined(collection string) error {
	if err := e.db.ClearQuarantine(collection); err != nil {
		return err
	}
	metrics.QuarantinedRecordsTotal.WithLabelValues(collection).Set(0)
	return nil
}
