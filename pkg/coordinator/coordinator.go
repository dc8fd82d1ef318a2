package coordinator

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"

	"github.com/cuemby/basin/pkg/log"
)

// State is this replica's position in the spec §4.K state machine.
type State string

const (
	StateElecting State = "electing"
	StateLeader   State = "leader"
	StateFollower State = "follower"
)

// Peer is one voter in the same-host raft group.
type Peer struct {
	ReplicaID string
	Address   string
}

// Config configures one replica's Coordinator.
type Config struct {
	// Name is the database name; the raft data directory and the log's
	// bucket namespacing both key off it, matching spec's "named
	// host-level exclusive lock db:<name>".
	Name      string
	ReplicaID string
	DataDir   string
	BindAddr  string
	Peers     []Peer
}

// PromoteFunc is called exactly once per promotion to leader, with the
// epoch raft assigned this leadership term. It should open the dormant
// engine, build a Router, and wire the new local RPC transport.
type PromoteFunc func(epoch uint64)

// DemoteFunc is called when this replica stops being leader (graceful
// resignation or lost election).
type DemoteFunc func()

// Coordinator is one replica's handle into the same-host leader
// arbitration group described in pkg/coordinator's package doc.
type Coordinator struct {
	cfg       Config
	raft      *raft.Raft
	transport *raft.NetworkTransport
	discovery *Discovery

	onPromote PromoteFunc
	onDemote  DemoteFunc

	mu    sync.RWMutex
	state State

	stopCh chan struct{}
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New opens this replica's raft voter and returns a Coordinator in
// StateElecting. Call Start to begin observing leadership changes.
func New(cfg Config, discovery *Discovery, onPromote PromoteFunc, onDemote DemoteFunc) (*Coordinator, error) {
	if discovery == nil {
		discovery = NewDiscovery()
	}
	raftDir := filepath.Join(cfg.DataDir, "raft", cfg.Name, cfg.ReplicaID)
	if err := os.MkdirAll(raftDir, 0o700); err != nil {
		return nil, fmt.Errorf("coordinator: create raft dir: %w", err)
	}

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.ReplicaID)
	raftConfig.LogLevel = "ERROR"

	addr, err := resolveAddr(cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("coordinator: resolve bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("coordinator: create transport: %w", err)
	}

	boltPath := filepath.Join(raftDir, "raft.db")
	logStore, err := raftboltdb.NewBoltStore(boltPath)
	if err != nil {
		return nil, fmt.Errorf("coordinator: open raft log store: %w", err)
	}
	stableStore := logStore

	snapshotStore := raft.NewInmemSnapshotStore()

	fsm := newEpochFSM()
	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("coordinator: start raft: %w", err)
	}

	hasState, err := raft.HasExistingState(logStore, stableStore, snapshotStore)
	if err != nil {
		return nil, fmt.Errorf("coordinator: check existing raft state: %w", err)
	}
	if !hasState {
		servers := make([]raft.Server, 0, len(cfg.Peers)+1)
		servers = append(servers, raft.Server{ID: raft.ServerID(cfg.ReplicaID), Address: raft.ServerAddress(cfg.BindAddr)})
		for _, p := range cfg.Peers {
			servers = append(servers, raft.Server{ID: raft.ServerID(p.ReplicaID), Address: raft.ServerAddress(p.Address)})
		}
		if err := r.BootstrapCluster(raft.Configuration{Servers: servers}).Error(); err != nil && err != raft.ErrCantBootstrap {
			return nil, fmt.Errorf("coordinator: bootstrap cluster: %w", err)
		}
	}

	logger := log.WithComponent("coordinator").With().Str("replica_id", cfg.ReplicaID).Logger()

	return &Coordinator{
		cfg:       cfg,
		raft:      r,
		transport: transport,
		discovery: discovery,
		onPromote: onPromote,
		onDemote:  onDemote,
		state:     StateElecting,
		stopCh:    make(chan struct{}),
		logger:    logger,
	}, nil
}

func resolveAddr(bind string) (*net.TCPAddr, error) {
	return net.ResolveTCPAddr("tcp", bind)
}

// Start begins observing raft.Raft's LeaderCh and drives the
// electing → leader | follower transitions of spec §4.K.
func (c *Coordinator) Start() {
	c.wg.Add(1)
	go c.watch()
}

func (c *Coordinator) watch() {
	defer c.wg.Done()
	for {
		select {
		case isLeader, ok := <-c.raft.LeaderCh():
			if !ok {
				return
			}
			if isLeader {
				c.becomeLeader()
			} else {
				c.becomeFollower()
			}
		case <-c.stopCh:
			return
		}
	}
}

func (c *Coordinator) becomeLeader() {
	cmd, _ := json.Marshal(epochCommand{Op: "bump_epoch"})
	future := c.raft.Apply(cmd, 5*time.Second)
	var epoch uint64
	if err := future.Error(); err == nil {
		if v, ok := future.Response().(uint64); ok {
			epoch = v
		}
	} else {
		c.logf("coordinator: apply epoch bump failed: %v", err)
	}

	c.mu.Lock()
	c.state = StateLeader
	c.mu.Unlock()

	c.discovery.Publish(Message{Type: LeaderAnnounce, ReplicaID: c.cfg.ReplicaID})
	if c.onPromote != nil {
		c.onPromote(epoch)
	}
}

func (c *Coordinator) becomeFollower() {
	c.mu.Lock()
	was := c.state
	c.state = StateFollower
	c.mu.Unlock()

	if was == StateLeader {
		c.discovery.Publish(Message{Type: LeaderResigning, ReplicaID: c.cfg.ReplicaID})
		if c.onDemote != nil {
			c.onDemote()
		}
	}
	c.discovery.Publish(Message{Type: FollowerConnect, ReplicaID: c.cfg.ReplicaID})
}

// State reports this replica's current position in the state machine.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsLeader reports whether this replica currently owns the engine.
func (c *Coordinator) IsLeader() bool {
	return c.State() == StateLeader
}

// Discovery exposes the shared handoff broadcast channel.
func (c *Coordinator) Discovery() *Discovery { return c.discovery }

// Shutdown resigns leadership (if held) and releases the raft voter.
func (c *Coordinator) Shutdown() error {
	close(c.stopCh)
	c.wg.Wait()
	if c.State() == StateLeader {
		c.discovery.Publish(Message{Type: LeaderResigning, ReplicaID: c.cfg.ReplicaID})
	}
	return c.raft.Shutdown().Error()
}

func (c *Coordinator) logf(format string, args ...any) {
	c.logger.Error().Msgf(format, args...)
}
