// Package sync drives the pull-then-push cycle that reconciles local
// storage against an injected boundary.SyncTransport (spec §4.G "Sync
// engine"). It owns per-collection sequence cursors, the quarantine
// threshold for repeatedly-failing records, delete-conflict strategy
// selection, and the throttled coalescing scheduler that turns a storm
// of local writes into a small number of actual cycles.
package sync
