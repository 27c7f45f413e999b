// Package catalog is the in-memory database catalog: databases, their
// owners and options, CONNECT grants, and the shard registry rows that pin
// databases to node groups.
//
// Mutation goes through transactions. Engine.Begin snapshots the committed
// state; a Tx mutates the snapshot freely and publishes it atomically on
// Commit, so readers never observe a half-applied statement and an abandoned
// Tx leaves nothing behind. Writers are serialized, which is the concurrency
// the DDL path needs — database DDL is rare and contention-free by nature.
//
// A Tx can flag that its changes affect pooler routing; the flag survives
// until Commit, fires the engine's reconfigure hook exactly once, and is
// dropped on rollback.
package catalog
