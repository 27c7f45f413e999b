// Package sharding assigns databases to node groups and enforces the
// assignment through connection privileges.
//
// # Overview
//
// With database sharding enabled, every database is pinned to exactly one
// node group. The registry row {database, group, available} is the unit of
// truth; placement picks the group, and a privilege sweep makes the
// placement real by granting CONNECT on the assigned group and revoking it
// everywhere else:
//
//	            assign(db)
//	                │
//	     group = workers[id % len(workers)]
//	                │
//	   ┌────────────┼────────────┐
//	   ▼            ▼            ▼
//	group 10     group 20     group 30
//	GRANT        REVOKE       REVOKE
//	CONNECT      CONNECT      CONNECT
//
// With no worker groups registered, databases land on the local group and
// no remote sweep runs.
//
// # Registry mutation order
//
// Registry rows always change locally first, then mirror to every
// metadata-holding node through the internal add/delete calls. A mirror
// failure aborts the enclosing transaction, so the row never diverges
// between the coordinator and a metadata node that acknowledged it.
//
// The privilege sweep runs sequentially in registry order with no
// compensation logic: a failure part-way leaves remote grants half-applied,
// and correctness relies on the enclosing transaction aborting the catalog
// change. Moving a database reuses the same sweep after rewriting the row.
//
// # Delegation
//
// Delegator carries CREATE/DROP DATABASE issued inside a shard database over
// to the control database. The forwarded connection is tagged with
// application_name 'fleetdb_database_shard' so the receiving side can
// recognize delegated traffic.
package sharding
