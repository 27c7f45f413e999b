// Package commands implements DDL propagation for database-level statements:
// deciding which statements leave the coordinator, shaping them into guarded
// task lists, replaying them idempotently on the receiving side, and keeping
// the shard registry in step with databases as they come and go.
//
// # Overview
//
// A database-level statement (CREATE/DROP/ALTER DATABASE, GRANT ... ON
// DATABASE) entering the coordinator takes one pass through ProcessUtility:
//
//	┌──────────────────────────────────────────────────┐
//	│                ProcessUtility                     │
//	├──────────────────────────────────────────────────┤
//	│ 1. Pre/postprocess  - build the propagated form  │
//	│ 2. Local apply      - mutate the catalog tx      │
//	│ 3. ExecuteTasks     - dispatch to worker nodes   │
//	│ 4. Shard upkeep     - assign/remove on create/   │
//	│                       drop when sharding is on   │
//	└──────────────────────────────────────────────────┘
//
// Statements issued inside a shard database never get this far: callers run
// MaybeDelegate first, which forwards CREATE/DROP DATABASE to the control
// database and suppresses local execution entirely.
//
// # Guards
//
// Propagation is controlled at two levels. Process-wide feature flags come
// from config.Flags; per-session guards live on Session and respond to
//
//	SET fleetdb.enable_ddl_propagation TO 'off'
//	SET fleetdb.enable_create_database_propagation TO 'off'
//
// Every propagated command travels bracketed by guard statements: the
// disable guard precedes it and the enable guard follows it, so its
// execution on the remote node cannot cascade into a second round of
// propagation. GuardedCommands builds the bracket.
//
// # Replay
//
// CREATE and DROP DATABASE are not propagated verbatim. They travel wrapped
// in a call to fleetdb_internal.database_command, whose handler,
// ReplayDatabaseCommand, converges instead of failing: create when absent,
// drop when present, no-op otherwise. The coordinator may retry, and more
// than one caller may replay the same text; both are safe.
//
// # Owner reconciliation
//
// ALTER DATABASE ... OWNER TO is propagated from catalog state, not from the
// statement text: after the local catalog is updated,
// PostprocessAlterDatabaseOwner regenerates the statement from the now
// current owner. A stale or reordered statement therefore cannot propagate
// an owner the coordinator does not believe in.
//
// # Concurrency
//
// One Propagator serves a whole process and is immutable after wiring.
// Everything per-call lives in the Session and the catalog transaction the
// caller owns; the package itself holds no locks across network I/O.
package commands
