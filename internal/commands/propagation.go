package commands

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

// NodeSource supplies propagation targets. *cluster.Registry satisfies it.
type NodeSource interface {
	Workers() []cluster.NodeInfo
	WithMetadata() []cluster.NodeInfo
	LocalGroupID() int
}

// ShardMaintainer is the slice of the sharding manager the replay path needs:
// keeping the shard registry in step with databases created and dropped on
// the control database.
type ShardMaintainer interface {
	AssignOnCreate(ctx context.Context, tx *catalog.Tx, database string) error
	RemoveOnDrop(ctx context.Context, tx *catalog.Tx, database string) error
}

// ControlDelegator forwards a command to the control database.
type ControlDelegator interface {
	ExecuteInControlDatabase(ctx context.Context, command string) error
}

// Propagator implements the DDL propagation pre/postprocessors, the
// idempotent replay entry point, and the top-level utility processing that
// ties them together. One Propagator serves a whole process; per-call state
// lives in the Session and the catalog transaction.
type Propagator struct {
	flags         config.Flags
	isCoordinator bool
	nodes         NodeSource
	dispatcher    cluster.Dispatcher
	sharder       ShardMaintainer
	delegator     ControlDelegator
	logger        *zap.Logger
}

// NewPropagator wires a propagator. sharder and delegator may be nil when the
// process does not shard databases.
func NewPropagator(flags config.Flags, isCoordinator bool, nodes NodeSource,
	dispatcher cluster.Dispatcher, logger *zap.Logger) *Propagator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Propagator{
		flags:         flags,
		isCoordinator: isCoordinator,
		nodes:         nodes,
		dispatcher:    dispatcher,
		logger:        logger,
	}
}

// SetSharder installs the shard registry maintenance hooks used by replay.
func (p *Propagator) SetSharder(s ShardMaintainer) { p.sharder = s }

// SetDelegator installs the control-database delegator used when statements
// are issued inside a shard database.
func (p *Propagator) SetDelegator(d ControlDelegator) { p.delegator = d }

// shouldPropagate combines the process flag with the session guard.
func (p *Propagator) shouldPropagate(sess *Session) bool {
	return p.flags.EnableDDLPropagation && sess.DDLPropagation
}

func (p *Propagator) shouldPropagateCreate(sess *Session) bool {
	return p.shouldPropagate(sess) &&
		p.flags.EnableCreateDatabasePropagation && sess.CreateDatabasePropagation
}

func (p *Propagator) ensureCoordinator() error {
	if !p.isCoordinator {
		return errors.Wrap(ErrNotCoordinator, "DDL propagation")
	}
	return nil
}

// PreprocessAlterDatabase runs before local application of ALTER DATABASE:
// the remote form is fully determined by the statement itself.
func (p *Propagator) PreprocessAlterDatabase(sess *Session, stmt *ddl.Statement) ([]Task, error) {
	if !p.shouldPropagate(sess) {
		return nil, nil
	}
	if err := p.ensureCoordinator(); err != nil {
		return nil, err
	}
	sql, err := ddl.Deparse(stmt)
	if err != nil {
		return nil, err
	}
	return NodeDDLTaskList(p.nodes.Workers(), GuardedCommands(sql)), nil
}

// PreprocessGrantOnDatabase runs before local application of GRANT/REVOKE on
// a database.
func (p *Propagator) PreprocessGrantOnDatabase(sess *Session, stmt *ddl.Statement) ([]Task, error) {
	if !p.shouldPropagate(sess) {
		return nil, nil
	}
	if err := p.ensureCoordinator(); err != nil {
		return nil, err
	}
	sql, err := ddl.Deparse(stmt)
	if err != nil {
		return nil, err
	}
	return NodeDDLTaskList(p.nodes.Workers(), GuardedCommands(sql)), nil
}

// PostprocessCreateDatabase runs after local application of CREATE DATABASE,
// when the owner has been resolved locally. The remote payload is the replay
// wrapper, not the bare statement, so workers apply it idempotently and
// outside transaction-block restrictions.
func (p *Propagator) PostprocessCreateDatabase(sess *Session, stmt *ddl.Statement) ([]Task, error) {
	if !p.shouldPropagateCreate(sess) {
		return nil, nil
	}
	if err := p.ensureCoordinator(); err != nil {
		return nil, err
	}
	wrapped, err := wrapInternalDatabaseCommand(stmt)
	if err != nil {
		return nil, err
	}
	return NodeDDLTaskList(p.nodes.Workers(), GuardedCommands(wrapped)), nil
}

// PreprocessDropDatabase runs before local application of DROP DATABASE and
// wraps the statement for idempotent replay on the workers.
func (p *Propagator) PreprocessDropDatabase(sess *Session, stmt *ddl.Statement) ([]Task, error) {
	if !p.shouldPropagateCreate(sess) {
		return nil, nil
	}
	if err := p.ensureCoordinator(); err != nil {
		return nil, err
	}
	wrapped, err := wrapInternalDatabaseCommand(stmt)
	if err != nil {
		return nil, err
	}
	return NodeDDLTaskList(p.nodes.Workers(), GuardedCommands(wrapped)), nil
}

// PostprocessAlterDatabaseOwner runs after the owner change applied locally.
// The propagated payload is reconstructed from the catalog through the owner
// reconciler rather than deparsed from the incoming statement, so replaying
// it converges regardless of how ownership last changed on the target.
func (p *Propagator) PostprocessAlterDatabaseOwner(sess *Session, tx *catalog.Tx, database string) ([]Task, error) {
	if !p.shouldPropagate(sess) {
		return nil, nil
	}
	if err := p.ensureCoordinator(); err != nil {
		return nil, err
	}
	commands, err := DatabaseOwnerCommands(tx, database)
	if err != nil {
		return nil, err
	}
	return NodeDDLTaskList(p.nodes.Workers(), GuardedCommands(commands...)), nil
}

// ExecuteTasks dispatches every task command to every target, sequentially
// and in order. Any failure aborts immediately; the caller's transaction
// provides the all-or-nothing boundary.
func (p *Propagator) ExecuteTasks(ctx context.Context, tasks []Task) error {
	for _, task := range tasks {
		for _, node := range task.Targets {
			for _, command := range task.Commands {
				if err := p.dispatcher.Execute(ctx, node, p.flags.ControlDatabase, command); err != nil {
					return err
				}
			}
		}
		metrics.CommandsPropagated.Add(float64(len(task.Targets)))
	}
	return nil
}

// ProcessUtility is the top-level entry point for a statement issued against
// this process: local application and propagation in one place. The caller
// owns tx and commits only when ProcessUtility succeeds. Callers check
// MaybeDelegate before opening tx; delegation reaches back into this process
// and must not run while a catalog transaction is held.
func (p *Propagator) ProcessUtility(ctx context.Context, sess *Session, tx *catalog.Tx, stmt *ddl.Statement) error {
	var tasks []Task
	var err error
	switch stmt.Kind {
	case ddl.KindSetGuard:
		return sess.ApplyGuard(stmt)

	case ddl.KindCreateDatabase:
		if _, err := tx.CreateDatabase(stmt.Database, stmt.Owner, optionMap(stmt.Options)); err != nil {
			return err
		}
		if tasks, err = p.PostprocessCreateDatabase(sess, stmt); err != nil {
			return err
		}

	case ddl.KindDropDatabase:
		if err := tx.CheckOwner(stmt.Database, sess.Role); err != nil {
			if !stmt.IfExists || !errors.Is(err, catalog.ErrUndefinedDatabase) {
				return err
			}
		}
		if tasks, err = p.PreprocessDropDatabase(sess, stmt); err != nil {
			return err
		}
		if p.flags.EnableDatabaseSharding && p.isCoordinator && p.sharder != nil {
			if _, assigned := tx.LookupShard(stmt.Database); assigned {
				if err := p.sharder.RemoveOnDrop(ctx, tx, stmt.Database); err != nil {
					return err
				}
			}
		}
		if err := tx.DropDatabase(stmt.Database, stmt.IfExists); err != nil {
			return err
		}

	case ddl.KindAlterDatabase:
		if err := tx.CheckOwner(stmt.Database, sess.Role); err != nil {
			return err
		}
		if tasks, err = p.PreprocessAlterDatabase(sess, stmt); err != nil {
			return err
		}
		if err := tx.AlterDatabaseOptions(stmt.Database, optionMap(stmt.Options)); err != nil {
			return err
		}

	case ddl.KindAlterDatabaseOwner:
		if err := tx.CheckOwner(stmt.Database, sess.Role); err != nil {
			return err
		}
		if err := tx.SetDatabaseOwner(stmt.Database, stmt.Owner); err != nil {
			return err
		}
		if tasks, err = p.PostprocessAlterDatabaseOwner(sess, tx, stmt.Database); err != nil {
			return err
		}

	case ddl.KindGrantOnDatabase:
		if err := tx.CheckOwner(stmt.Database, sess.Role); err != nil {
			return err
		}
		if tasks, err = p.PreprocessGrantOnDatabase(sess, stmt); err != nil {
			return err
		}
		if err := tx.SetConnectGrant(stmt.Database, stmt.Grantee, stmt.Grant); err != nil {
			return err
		}

	default:
		return errors.Wrapf(ddl.ErrUnsupportedStatement, "utility statement %s", stmt.Kind)
	}

	if err := p.ExecuteTasks(ctx, tasks); err != nil {
		return err
	}

	// Assignment runs after the database exists on every node, so the
	// connection-privilege sweep has something to grant against.
	if stmt.Kind == ddl.KindCreateDatabase &&
		p.flags.EnableDatabaseSharding && p.isCoordinator && p.sharder != nil {
		return p.sharder.AssignOnCreate(ctx, tx, stmt.Database)
	}
	return nil
}

// MaybeDelegate forwards CREATE/DROP DATABASE issued inside a shard database
// to the control database and suppresses the local execution path entirely.
// Run it before opening a catalog transaction.
func (p *Propagator) MaybeDelegate(ctx context.Context, sess *Session, stmt *ddl.Statement) (bool, error) {
	if !p.flags.EnableDatabaseSharding || p.delegator == nil {
		return false, nil
	}
	if sess.Database == "" || sess.Database == p.flags.ControlDatabase {
		return false, nil
	}
	if !p.flags.EnableCreateDatabasePropagation {
		return false, nil
	}
	if stmt.Kind != ddl.KindCreateDatabase && stmt.Kind != ddl.KindDropDatabase {
		return false, nil
	}
	command, err := ddl.Deparse(stmt)
	if err != nil {
		return false, err
	}
	p.logger.Info("delegating statement to control database",
		zap.String("database", stmt.Database),
		zap.Stringer("kind", stmt.Kind))
	return true, p.delegator.ExecuteInControlDatabase(ctx, command)
}

// wrapInternalDatabaseCommand deparses stmt and wraps the text in the replay
// call that workers execute.
func wrapInternalDatabaseCommand(stmt *ddl.Statement) (string, error) {
	sql, err := ddl.Deparse(stmt)
	if err != nil {
		return "", err
	}
	return ddl.Deparse(&ddl.Statement{Kind: ddl.KindInternalDatabaseCommand, Command: sql})
}

func optionMap(options []ddl.Option) map[string]string {
	if len(options) == 0 {
		return nil
	}
	m := make(map[string]string, len(options))
	for _, opt := range options {
		m[opt.Name] = opt.Value
	}
	return m
}
