/*
Package log provides structured logging for basin using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("sync")                    │          │
	│  │  - WithCollection("users")                  │          │
	│  │  - WithRecordID("rec-abc123")                │          │
	│  │  - WithReplicaID("replica-xyz")              │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │  JSON: {"level":"info","component":"sync",  │          │
	│  │         "message":"pull complete"}          │          │
	│  │  Console: 10:30AM INF pull complete         │          │
	│  │           component=sync                    │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Usage

	import "github.com/cuemby/basin/pkg/log"

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	syncLog := log.WithComponent("sync")
	syncLog.Info().Str("collection", "users").Msg("pull complete")

	recordLog := log.WithCollection("users").With().Str("record_id", id).Logger()
	recordLog.Warn().Msg("record quarantined after repeated decrypt failure")

# Integration Points

This package is used by pkg/sync, pkg/coordinator, pkg/engine and
cmd/basin for structured, component-tagged logging throughout a sync
cycle or a leader election transition.

# Best Practices

Do:
  - Use Info level for production.
  - Use structured fields for queryable data (collection, record_id, replica_id).
  - Log errors with .Err() rather than string-interpolating them.

Don't:
  - Log record plaintext or key material.
  - Use Debug level in production.
*/
package log
