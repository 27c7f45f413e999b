package sharding

import (
	"context"

	"go.uber.org/zap"

	"github.com/dreamware/fleetdb/internal/cluster"
	"github.com/dreamware/fleetdb/internal/ddl"
)

// applicationMarker tags delegated connections so the control database can
// tell delegated traffic from direct traffic.
const applicationMarker = "fleetdb_database_shard"

// Delegator forwards whole-database DDL issued inside a shard database to the
// authoritative control database. The statement never runs against the shard
// database; only the control database's catalog is authoritative, and the
// normal propagation path fires from there.
type Delegator struct {
	controlNode     cluster.NodeInfo
	controlDatabase string
	dispatcher      cluster.Dispatcher
	logger          *zap.Logger
}

// NewDelegator wires a delegator that reaches the control database through
// controlNode.
func NewDelegator(controlNode cluster.NodeInfo, controlDatabase string,
	dispatcher cluster.Dispatcher, logger *zap.Logger) *Delegator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Delegator{
		controlNode:     controlNode,
		controlDatabase: controlDatabase,
		dispatcher:      dispatcher,
		logger:          logger,
	}
}

// ExecuteInControlDatabase opens a dedicated connection to the control
// database, tags it with the identifying marker, and executes the command
// there.
func (d *Delegator) ExecuteInControlDatabase(ctx context.Context, command string) error {
	marker := "SET application_name TO " + ddl.QuoteLiteral(applicationMarker)
	if err := d.dispatcher.Execute(ctx, d.controlNode, d.controlDatabase, marker); err != nil {
		return err
	}
	d.logger.Debug("executing delegated command in control database",
		zap.String("node", d.controlNode.ID))
	return d.dispatcher.Execute(ctx, d.controlNode, d.controlDatabase, command)
}
