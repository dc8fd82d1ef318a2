// Package engine assembles the per-collection storage, schema,
// change-tracking, sync, crypto and (optional) multi-replica
// coordination layers into the single Database a host application
// opens (spec §4.M "Boundary interfaces" / §3 Database attributes).
// It owns no algorithm of its own: every operation delegates straight
// to pkg/storage, pkg/changes, pkg/sync, pkg/defaultcrypto or
// pkg/coordinator.
package engine
