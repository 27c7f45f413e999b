package sharding

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/dreamware/fleetdb/internal/catalog"
	"github.com/dreamware/fleetdb/internal/cluster"
	"github.com/dreamware/fleetdb/internal/config"
	"github.com/dreamware/fleetdb/internal/ddl"
	"github.com/dreamware/fleetdb/internal/metrics"
)

// ErrNotAssigned is returned when a move targets a database that has no
// shard assignment.
var ErrNotAssigned = errors.New("database is not assigned to a shard")

// NodeSource supplies the node sets the manager sweeps and mirrors to.
// *cluster.Registry satisfies it.
type NodeSource interface {
	All() []cluster.NodeInfo
	Workers() []cluster.NodeInfo
	WithMetadata() []cluster.NodeInfo
	LocalGroupID() int
}

// Manager owns database shard assignment: the registry rows, the placement
// policy, the cluster-wide connect-privilege sweep, and mirroring of registry
// mutations to metadata-holding nodes.
//
// Every operation runs inside a caller-owned catalog transaction. Local
// mutation always happens before remote mirroring, and the privilege sweep is
// sequential with no per-node compensation: a failure anywhere surfaces to
// the caller, whose rollback discards the registry write, preserving
// all-or-nothing semantics.
type Manager struct {
	flags      config.Flags
	nodes      NodeSource
	dispatcher cluster.Dispatcher
	logger     *zap.Logger
}

// NewManager wires a sharding manager.
func NewManager(flags config.Flags, nodes NodeSource, dispatcher cluster.Dispatcher, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{flags: flags, nodes: nodes, dispatcher: dispatcher, logger: logger}
}

// Assign assigns an existing database to a node group and returns the chosen
// group. The caller must own the database; a database that already has a
// shard row fails with DuplicateAssignment.
func (m *Manager) Assign(ctx context.Context, tx *catalog.Tx, database, role string) (int, error) {
	if err := tx.CheckOwner(database, role); err != nil {
		return 0, err
	}
	if _, assigned := tx.LookupShard(database); assigned {
		return 0, errors.Wrapf(catalog.ErrDuplicateAssignment, "database %q", database)
	}
	return m.assign(ctx, tx, database)
}

// AssignOnCreate assigns a database that was just created through the replay
// path on the control database. Ownership was already established by the
// create itself.
func (m *Manager) AssignOnCreate(ctx context.Context, tx *catalog.Tx, database string) error {
	if _, assigned := tx.LookupShard(database); assigned {
		return nil
	}
	_, err := m.assign(ctx, tx, database)
	return err
}

// RemoveOnDrop removes the shard assignment of a database about to be
// dropped, mirroring the deletion to metadata nodes.
func (m *Manager) RemoveOnDrop(ctx context.Context, tx *catalog.Tx, database string) error {
	return m.deleteAssignment(ctx, tx, database)
}

// assign runs the placement policy, persists the row, and enforces
// connection isolation.
//
// The policy is an explicit placeholder: with no worker groups the database
// lands on the local (coordinator) group, otherwise it goes to
// workers[databaseID mod workerCount]. It carries no capacity signal and is
// meant to be swapped out; only the database -> group interface shape is
// load-bearing.
func (m *Manager) assign(ctx context.Context, tx *catalog.Tx, database string) (int, error) {
	db, ok := tx.LookupDatabase(database)
	if !ok {
		return 0, errors.Wrapf(catalog.ErrUndefinedDatabase, "database %q", database)
	}

	groupID := m.nodes.LocalGroupID()
	workers := m.nodes.Workers()
	if len(workers) > 0 {
		groupID = workers[int(db.ID)%len(workers)].GroupID
	}

	if err := m.insertAssignment(ctx, tx, database, groupID); err != nil {
		return 0, err
	}
	if err := m.allowConnectionsOnlyOnGroup(ctx, tx, database, groupID); err != nil {
		return 0, err
	}

	tx.RequestPoolerReconfigure()
	metrics.ShardAssignments.Inc()
	m.logger.Info("assigned database to node group",
		zap.String("database", database),
		zap.Int("group", groupID))
	return groupID, nil
}

// Move reassigns a database to a new node group: delete then reinsert under
// the new group within the caller's transaction, then recompute connect
// grants. A reader on a separate snapshot between the two steps could see a
// transient absence; the enclosing transaction hides that from everyone but
// this Tx.
func (m *Manager) Move(ctx context.Context, tx *catalog.Tx, database string, newGroupID int, role string) error {
	if err := tx.CheckOwner(database, role); err != nil {
		return err
	}
	if _, assigned := tx.LookupShard(database); !assigned {
		return errors.Wrapf(ErrNotAssigned, "database %q", database)
	}

	if err := m.deleteAssignment(ctx, tx, database); err != nil {
		return err
	}
	if err := m.insertAssignment(ctx, tx, database, newGroupID); err != nil {
		return err
	}
	if err := m.allowConnectionsOnlyOnGroup(ctx, tx, database, newGroupID); err != nil {
		return err
	}

	tx.RequestPoolerReconfigure()
	m.logger.Info("moved database shard",
		zap.String("database", database),
		zap.Int("group", newGroupID))
	return nil
}

// insertAssignment inserts the registry row locally, inside the current
// transaction, then mirrors it to every metadata-holding node when metadata
// sync is enabled. Local always precedes remote, never in parallel.
func (m *Manager) insertAssignment(ctx context.Context, tx *catalog.Tx, database string, groupID int) error {
	if err := tx.InsertShard(database, groupID); err != nil {
		return err
	}
	if !m.flags.EnableMetadataSync {
		return nil
	}
	command, err := ddl.Deparse(&ddl.Statement{
		Kind:     ddl.KindInternalAddDatabaseShard,
		Database: database,
		GroupID:  groupID,
	})
	if err != nil {
		return err
	}
	return m.sendToMetadataNodes(ctx, command)
}

// deleteAssignment deletes the registry row locally if present, mirroring
// the deletion when metadata sync is enabled.
func (m *Manager) deleteAssignment(ctx context.Context, tx *catalog.Tx, database string) error {
	if err := tx.DeleteShard(database); err != nil {
		return err
	}
	if !m.flags.EnableMetadataSync {
		return nil
	}
	command, err := ddl.Deparse(&ddl.Statement{
		Kind:     ddl.KindInternalDeleteDatabaseShard,
		Database: database,
	})
	if err != nil {
		return err
	}
	return m.sendToMetadataNodes(ctx, command)
}

func (m *Manager) sendToMetadataNodes(ctx context.Context, command string) error {
	for _, node := range m.nodes.WithMetadata() {
		if err := m.dispatcher.Execute(ctx, node, m.flags.ControlDatabase, command); err != nil {
			return err
		}
	}
	return nil
}

// allowConnectionsOnlyOnGroup grants CONNECT on the database to public on
// every node of groupID and revokes it everywhere else. Nodes are visited in
// registry order; the local group executes directly against the transaction,
// remote nodes go through the dispatcher. There is no per-node compensation:
// any failure aborts the caller's transaction, registry row included.
//
// The remote commands travel inside the guard bracket: a worker executing a
// bare GRANT would try to propagate it and refuse with NotCoordinator.
func (m *Manager) allowConnectionsOnlyOnGroup(ctx context.Context, tx *catalog.Tx, database string, groupID int) error {
	localGroup := m.nodes.LocalGroupID()
	localSeen := false
	for _, node := range m.nodes.All() {
		granted := node.GroupID == groupID
		if node.GroupID == localGroup {
			localSeen = true
			if err := tx.SetConnectGrant(database, "public", granted); err != nil {
				return err
			}
			continue
		}
		command, err := ddl.Deparse(&ddl.Statement{
			Kind:      ddl.KindGrantOnDatabase,
			Grant:     granted,
			Privilege: "CONNECT",
			Database:  database,
			Grantee:   "public",
		})
		if err != nil {
			return err
		}
		for _, cmd := range []string{ddl.DisableDDLPropagation, command, ddl.EnableDDLPropagation} {
			if err := m.dispatcher.Execute(ctx, node, m.flags.ControlDatabase, cmd); err != nil {
				return err
			}
		}
	}

	// The local node may not appear in the registry at all (the coordinator
	// registers only workers); still record its own grant state.
	if !localSeen {
		granted := localGroup == groupID
		if err := tx.SetConnectGrant(database, "public", granted); err != nil {
			return err
		}
	}
	return nil
}

// AddShardLocally is the internal mirror entry point: it inserts a registry
// row in the local catalog only, for cluster metadata mirroring. Requires
// ownership; never used for primary assignment decisions.
func (m *Manager) AddShardLocally(tx *catalog.Tx, database string, groupID int, role string) error {
	if err := tx.CheckOwner(database, role); err != nil {
		return err
	}
	if err := tx.InsertShard(database, groupID); err != nil {
		return err
	}
	tx.RequestPoolerReconfigure()
	return nil
}

// DeleteShardLocally is the internal mirror entry point removing the local
// registry row.
func (m *Manager) DeleteShardLocally(tx *catalog.Tx, database, role string) error {
	if err := tx.CheckOwner(database, role); err != nil {
		return err
	}
	if err := tx.DeleteShard(database); err != nil {
		return err
	}
	tx.RequestPoolerReconfigure()
	return nil
}
