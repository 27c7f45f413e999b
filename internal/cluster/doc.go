// Package cluster provides node membership, command dispatch, and health
// monitoring for the fleetdb control plane.
//
// # Overview
//
// The cluster follows a coordinator-based topology: a central coordinator
// holds the authoritative catalog and dispatches DDL to worker nodes, which
// are grouped into node groups. Group 0 is the coordinator's own group.
//
//	              ┌──────────────┐
//	              │ Coordinator  │
//	              │   group 0    │
//	              │ - Registry   │
//	              │ - Dispatch   │
//	              │ - Health Mon │
//	              └──────┬───────┘
//	                     │ POST /exec
//	      ┌──────────────┼──────────────┐
//	┌─────▼─────┐  ┌─────▼─────┐  ┌─────▼─────┐
//	│  node-1   │  │  node-2   │  │  node-3   │
//	│ group 10  │  │ group 20  │  │ group 30  │
//	└───────────┘  └───────────┘  └───────────┘
//
// # Components
//
// Registry tracks registered nodes and answers the membership questions the
// propagation layer asks: all nodes, worker nodes (everything outside the
// local group), metadata-holding nodes, and the nodes of one group.
//
// Dispatcher sends one command to one node. The textual statement is the
// wire format: HTTPDispatcher posts an ExecRequest carrying the command
// text, and the receiving node parses it back at the boundary. Each request
// carries a fresh UUID for log correlation.
//
// HealthMonitor probes every registered node on an interval, declares a node
// unhealthy after three consecutive failures, and raises per-group callbacks
// so the coordinator can flip shard availability for the group.
//
// # Concurrency
//
// Registry and HealthMonitor are safe for concurrent use; neither holds its
// lock during network I/O. Health callbacks run on their own goroutines so a
// slow callback cannot stall probing.
package cluster
