package cluster

import (
	"sync"

	"golang.org/x/exp/slices"
)

// Registry tracks the nodes known to this process and which group is local.
//
// Nodes keep their registration order: the connect-privilege sweep and
// metadata mirroring iterate nodes in registry order, so that order must be
// stable across calls within a process.
//
// Thread-safe: all methods may be called concurrently.
type Registry struct {
	mu         sync.RWMutex
	nodes      []NodeInfo
	localGroup int
}

// NewRegistry creates a registry whose local node belongs to localGroup.
// The coordinator passes CoordinatorGroupID.
func NewRegistry(localGroup int) *Registry {
	return &Registry{localGroup: localGroup}
}

// Register adds a node or, when a node with the same ID is already known,
// replaces its entry in place so registry order is preserved.
func (r *Registry) Register(node NodeInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := slices.IndexFunc(r.nodes, func(n NodeInfo) bool { return n.ID == node.ID })
	if idx >= 0 {
		r.nodes[idx] = node
	} else {
		r.nodes = append(r.nodes, node)
	}
}

// Remove drops a node by ID. Unknown IDs are a no-op.
func (r *Registry) Remove(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := slices.IndexFunc(r.nodes, func(n NodeInfo) bool { return n.ID == nodeID })
	if idx >= 0 {
		r.nodes = append(r.nodes[:idx], r.nodes[idx+1:]...)
	}
}

// All returns every known node in registration order.
func (r *Registry) All() []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]NodeInfo(nil), r.nodes...)
}

// Workers returns the nodes outside the local group, in registration order.
// These are the propagation targets for coordinator-issued DDL.
func (r *Registry) Workers() []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []NodeInfo
	for _, n := range r.nodes {
		if n.GroupID != r.localGroup {
			out = append(out, n)
		}
	}
	return out
}

// WithMetadata returns the nodes that mirror cluster metadata, in
// registration order. Registry mutations are mirrored to exactly this set.
func (r *Registry) WithMetadata() []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []NodeInfo
	for _, n := range r.nodes {
		if n.HasMetadata && n.GroupID != r.localGroup {
			out = append(out, n)
		}
	}
	return out
}

// ByGroup returns the nodes belonging to the given group.
func (r *Registry) ByGroup(groupID int) []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []NodeInfo
	for _, n := range r.nodes {
		if n.GroupID == groupID {
			out = append(out, n)
		}
	}
	return out
}

// LocalGroupID returns the node group of this process.
func (r *Registry) LocalGroupID() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.localGroup
}

// SetLocalGroupID changes the local group, used when a node learns its group
// after registration.
func (r *Registry) SetLocalGroupID(groupID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localGroup = groupID
}
