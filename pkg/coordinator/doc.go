// Package coordinator arbitrates which one of several same-host
// replicas owns the mutable storage engine (spec §4.K). It generalizes
// cuemby-warren's cluster-wide hashicorp/raft FSM (pkg/manager/fsm.go,
// pkg/manager/manager.go) from distributed cluster-state replication
// down to same-host leader arbitration: raft.Raft's leader election is
// CAS-like by construction (raft guarantees at most one leader), so it
// stands in for the spec's "named host-level exclusive lock". The only
// value ever committed through the raft log is a leadership epoch
// marker; document data never goes through raft, it always goes
// straight through pkg/storage on whichever replica currently holds
// leadership.
package coordinator
