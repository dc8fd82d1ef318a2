package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cuemby/basin/pkg/basinerr"
	"github.com/cuemby/basin/pkg/changes"
	"github.com/cuemby/basin/pkg/coordinator"
	"github.com/cuemby/basin/pkg/defaultcrypto"
	"github.com/cuemby/basin/pkg/log"
	"github.com/cuemby/basin/pkg/rpc"
	"github.com/cuemby/basin/pkg/schema"
	"github.com/cuemby/basin/pkg/storage"
	"github.com/cuemby/basin/pkg/sync"
)

// Database is the top-level handle a host application opens (spec
// §4.M). It owns the storage backend, the change tracker, the sync
// engine and scheduler, the default crypto collaborator, and — when
// configured — the same-host leader coordinator.
type Database struct {
	cfg     Config
	storage *storage.Database
	tracker *changes.Tracker
	crypto  *defaultcrypto.Crypto
	engine  *sync.Engine
	sched   *sync.Scheduler
	coord   *coordinator.Coordinator

	// router/rpcServer/rpcClient implement spec §4.K's promotion
	// handoff: rpcServer answers collection operations by method name;
	// rpcClient is the handle a host (or, during a handoff, the local
	// engine itself) issues Call/Subscribe against, and its underlying
	// Transport is dormant (no Server reading it) until this replica is
	// promoted to leader. router exists once a Coordinator is
	// configured and tracks the promotion's transport generation.
	router    *coordinator.Router
	rpcServer *rpc.Server
	rpcClient *rpc.Client

	discoveryCancel func()
	serveCancel     context.CancelFunc

	mu          sync.RWMutex
	collections map[string]*Collection
}

// Open assembles a Database from cfg: opens the bbolt backend, wires
// the change tracker as every collection's ChangeObserver, builds the
// sync engine and its throttled scheduler, and starts same-host leader
// election when cfg.Coordinator is set.
func Open(cfg Config) (*Database, error) {
	if len(cfg.RootKey) == 0 {
		return nil, basinerr.SchemaMismatch("engine: RootKey is required")
	}

	st, err := storage.Open(cfg.Path)
	if err != nil {
		return nil, err
	}

	crypto := defaultcrypto.New(cfg.SpaceID, cfg.RootKey, cfg.SignKey)
	tracker := changes.NewTracker(st, st.ReplicaID())

	syncEngine := sync.New(st, cfg.Transport, crypto, cfg.SpaceID, cfg.SyncOptions)

	d := &Database{
		cfg:         cfg,
		storage:     st,
		tracker:     tracker,
		crypto:      crypto,
		engine:      syncEngine,
		collections: make(map[string]*Collection),
	}
	d.sched = sync.NewScheduler(syncEngine.SyncAll, cfg.SyncOptions.Cooldown)

	tracker.OnChangeGlobal(func(ev changes.ChangeEvent) {
		if ev.Kind == storage.ChangeRemote || cfg.Transport == nil {
			return
		}
		d.sched.Trigger(context.Background())
	})

	d.rpcServer = rpc.NewServer()
	d.registerRPCHandlers()

	if cfg.Coordinator != nil {
		d.router = coordinator.NewRouter(cfg.Coordinator.ReplicaID)

		// The client side is wired up-front so a caller can issue a
		// request the moment this replica starts electing; the other
		// end is left dormant (nothing Recv()s from it) until
		// onPromote swaps in a transport actually backed by a served
		// rpcServer. A request issued before that swap simply blocks
		// in the rpc client's pending set and is replayed by SetTransport.
		clientSide, _ := rpc.NewInProcessPair()
		d.rpcClient = rpc.NewClient(clientSide)

		discovery := coordinator.NewDiscovery()
		coord, err := coordinator.New(*cfg.Coordinator, discovery, d.onPromote, d.onDemote)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("engine: start coordinator: %w", err)
		}
		d.coord = coord
		d.wireBroadcast(discovery)
		coord.Start()
	}

	return d, nil
}

// rpcCollectionArgs is the args shape every registered collection-level
// RPC method shares.
type rpcCollectionArgs struct {
	Collection string         `json:"collection"`
	ID         string         `json:"id,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// registerRPCHandlers exposes this database's collections over the rpc
// substrate (spec §4.K "router/port structure"): the same methods a
// promoted replica's router forwards to once its transport is swapped
// in at promotion time.
func (d *Database) registerRPCHandlers() {
	d.rpcServer.Handle("put", func(_ context.Context, args json.RawMessage) (any, error) {
		var a rpcCollectionArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, basinerr.SchemaMismatch("%v", err)
		}
		col, ok := d.Collection(a.Collection)
		if !ok {
			return nil, basinerr.NotFound(a.Collection, "")
		}
		return col.Put(a.Data, storage.PutOptions{ID: a.ID})
	})

	d.rpcServer.Handle("get", func(_ context.Context, args json.RawMessage) (any, error) {
		var a rpcCollectionArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, basinerr.SchemaMismatch("%v", err)
		}
		col, ok := d.Collection(a.Collection)
		if !ok {
			return nil, basinerr.NotFound(a.Collection, "")
		}
		return col.Get(a.ID, storage.GetOptions{})
	})

	d.rpcServer.Handle("delete", func(_ context.Context, args json.RawMessage) (any, error) {
		var a rpcCollectionArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, basinerr.SchemaMismatch("%v", err)
		}
		col, ok := d.Collection(a.Collection)
		if !ok {
			return nil, basinerr.NotFound(a.Collection, "")
		}
		return col.Delete(a.ID, storage.DeleteOptions{})
	})
}

// RPCClient exposes the rpc.Client a host (or test) issues requests
// through. It is set only when cfg.Coordinator is configured; its
// transport is swapped and its pending calls replayed automatically on
// promotion (spec §4.K).
func (d *Database) RPCClient() *rpc.Client { return d.rpcClient }

// Router exposes the promotion-time router/port structure. Nil when no
// Coordinator was configured.
func (d *Database) Router() *coordinator.Router { return d.router }

// wireBroadcast connects the change tracker's cross-replica hook to the
// coordinator's discovery broker (spec §2 "cross-replica change
// broadcast"): locally-originated events publish as DataChange messages,
// and every DataChange this replica didn't originate is folded back in
// via ReceiveRemote. Leader-handoff messages on the same broker are
// ignored here; pkg/coordinator handles those itself.
func (d *Database) wireBroadcast(discovery *coordinator.Discovery) {
	msgs, cancel := discovery.Subscribe()
	d.discoveryCancel = cancel

	d.tracker.SetBroadcast(func(ev changes.ChangeEvent) {
		discovery.Publish(coordinator.Message{
			Type:       coordinator.DataChange,
			ReplicaID:  ev.ReplicaID,
			Collection: ev.Collection,
			Kind:       string(ev.Kind),
			IDs:        ev.IDs,
		})
	})

	go func() {
		for msg := range msgs {
			if msg.Type != coordinator.DataChange {
				continue
			}
			d.tracker.ReceiveRemote(changes.ChangeEvent{
				Collection: msg.Collection,
				Kind:       storage.ChangeKind(msg.Kind),
				IDs:        msg.IDs,
				ReplicaID:  msg.ReplicaID,
			})
		}
	}()
}

// onPromote implements spec §4.K's promotion handoff: it opens this
// replica's previously dormant rpcServer for business, creates a fresh
// router-tagged transport pair, and swaps the live rpcClient onto it —
// which itself replays every request and subscription still pending
// from before the swap (pkg/rpc.Client.SetTransport), so a caller
// blocked in Call since before promotion completes against the
// now-local engine without ever seeing an error.
func (d *Database) onPromote(epoch uint64) {
	logger := log.WithComponent("engine")
	logger.Info().Uint64("leadership_epoch", epoch).Msg("replica promoted to leader")

	serverSide, clientSide := rpc.NewInProcessPair()

	ctx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	prevCancel := d.serveCancel
	d.serveCancel = cancel
	d.mu.Unlock()
	if prevCancel != nil {
		prevCancel()
	}

	go func() {
		if err := d.rpcServer.Serve(ctx, serverSide); err != nil {
			logger.Debug().Err(err).Msg("rpc server stopped serving")
		}
	}()

	gen := d.router.SwapTransport()
	logger.Info().Uint64("transport_generation", gen).Msg("router transport swapped to local engine")

	d.rpcClient.SetTransport(clientSide)
}

func (d *Database) onDemote() {
	log.WithComponent("engine").Info().Msg("replica demoted to follower")

	d.mu.Lock()
	cancel := d.serveCancel
	d.serveCancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// RegisterCollection opens (or creates) a collection from bp and
// returns its handle. Call once per collection at startup, following
// the teacher's eager-registration convention.
func (d *Database) RegisterCollection(bp schema.Blueprint) (*Collection, error) {
	cs, err := storage.RegisterCollection(d.storage, bp, d.tracker)
	if err != nil {
		return nil, err
	}
	if d.cfg.SignKey != nil {
		cs.SetEditChainSigner(d.cfg.SignKey, d.storage.ReplicaID())
	}
	col := &Collection{name: bp.Name, cs: cs, db: d}

	d.mu.Lock()
	d.collections[bp.Name] = col
	d.mu.Unlock()
	return col, nil
}

// Collection returns a previously registered collection's handle.
func (d *Database) Collection(name string) (*Collection, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.collections[name]
	return c, ok
}

// CollectionNames returns every registered collection's name.
func (d *Database) CollectionNames() []string {
	return d.storage.CollectionNames()
}

// ReplicaID is this process's replica identity.
func (d *Database) ReplicaID() string { return d.storage.ReplicaID() }

// OnChange subscribes to every change across every collection (spec
// §4.F "global change listener").
func (d *Database) OnChange(cb changes.GlobalCallback) changes.Cancel {
	return d.tracker.OnChangeGlobal(cb)
}

// OnSyncProgress installs a progress callback for every sync cycle
// (spec §4.G "onProgress").
func (d *Database) OnSyncProgress(fn sync.ProgressFunc) {
	d.engine.OnProgress(fn)
}

// Sync runs one pull-then-push cycle across every collection,
// bypassing the scheduler's throttle (spec: "flush/flushAll bypass
// throttling").
func (d *Database) Sync(ctx context.Context) error {
	return d.sched.Flush(ctx)
}

// SyncCollection runs one cycle for a single collection, bypassing the
// throttle.
func (d *Database) SyncCollection(ctx context.Context, name string) error {
	return d.engine.SyncCollection(ctx, name)
}

// TriggerSync requests a throttled sync cycle; concurrent callers
// during an in-flight cycle coalesce into one follow-up (spec §4.G
// "Scheduler (throttled)").
func (d *Database) TriggerSync(ctx context.Context) <-chan error {
	return d.sched.Trigger(ctx)
}

// RetryQuarantined clears a collection's quarantine marks so its
// records are retried on the next cycle.
func (d *Database) RetryQuarantined(collection string) error {
	return d.engine.RetryQuarantined(collection)
}

// IsLeader reports whether this replica currently owns write access,
// when a Coordinator is configured. A standalone database (no
// Coordinator) is always considered its own leader.
func (d *Database) IsLeader() bool {
	if d.coord == nil {
		return true
	}
	return d.coord.IsLeader()
}

// Close stops the coordinator (if any) and releases the storage
// backend. It does not wait for an in-flight sync cycle.
func (d *Database) Close() error {
	d.sched.Dispose()
	if d.coord != nil {
		if err := d.coord.Shutdown(); err != nil {
			return err
		}
	}
	if d.discoveryCancel != nil {
		d.discoveryCancel()
	}
	d.mu.Lock()
	cancel := d.serveCancel
	d.serveCancel = nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if d.rpcClient != nil {
		_ = d.rpcClient.Close()
	}
	return d.storage.Close()
}
