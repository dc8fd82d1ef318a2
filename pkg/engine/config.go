package engine

import (
	"crypto/ecdsa"

	"github.com/cuemby/basin/pkg/boundary"
	"github.com/cuemby/basin/pkg/coordinator"
	"github.com/cuemby/basin/pkg/sync"
)

// Config assembles one Database (spec §4.M). Transport and SignKey are
// the host-supplied collaborators; everything else has a spec-mandated
// default the zero value already selects.
type Config struct {
	// Path is the bbolt file backing this database.
	Path string

	// SpaceID identifies the replication space this database
	// belongs to; it is folded into envelope AAD.
	SpaceID string

	// RootKey is the space's epoch_key_0. Required.
	RootKey []byte

	// SignKey signs this replica's edit-chain entries. Optional: a
	// database that never writes edit-chain history can leave it nil.
	SignKey *ecdsa.PrivateKey

	// Transport is the injected sync transport (spec §6 "Sync
	// transport (injected)"). Required to run a sync cycle; a
	// database opened without one can still be used purely locally.
	Transport boundary.SyncTransport

	// SyncOptions configures the sync engine and scheduler.
	SyncOptions sync.Options

	// Coordinator enables same-host multi-replica leader election
	// when set. Nil means standalone, single-replica operation.
	Coordinator *coordinator.Config
}
