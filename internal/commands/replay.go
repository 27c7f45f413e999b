package commands

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/dreamware/fleetdb/internal/catalog"
	"github.com/dreamware/fleetdb/internal/ddl"
	"github.com/dreamware/fleetdb/internal/metrics"
)

// ReplayDatabaseCommand applies a previously propagated CREATE or DROP
// DATABASE statement, given as text, so that repeated application converges:
//
//   - create when the database is absent, no-op when it already exists
//   - drop when the database is present, no-op when it is already gone
//
// The returned applied flag reports whether the catalog actually changed;
// callers that mirror the catalog into a live server use it to decide
// whether the statement still needs to run there.
//
// Both propagation guards are suppressed for the duration of the call and
// restored on every exit path, so a failed replay never leaves propagation
// off for the remainder of the session. Any statement kind other than
// create/drop database is fatal and leaves the catalog untouched.
//
// Replay may run more than once for the same statement: the coordinator
// retries, and more than one call site can replay the same text. That is the
// point of this entry point, not an error condition.
func (p *Propagator) ReplayDatabaseCommand(ctx context.Context, sess *Session, tx *catalog.Tx, commandText string) (applied bool, err error) {
	restore := sess.SuppressPropagation()
	defer restore()

	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.ReplayCalls.WithLabelValues(outcome).Inc()
	}()

	stmt, err := ddl.Parse(commandText)
	if err != nil {
		return false, err
	}

	switch stmt.Kind {
	case ddl.KindCreateDatabase:
		if _, exists := tx.LookupDatabase(stmt.Database); exists {
			p.logger.Debug("replayed create is a no-op",
				zap.String("database", stmt.Database))
			return false, nil
		}
		if _, err := tx.CreateDatabase(stmt.Database, stmt.Owner, optionMap(stmt.Options)); err != nil {
			return false, err
		}
		if p.flags.EnableDatabaseSharding && p.isCoordinator && p.sharder != nil {
			if err := p.sharder.AssignOnCreate(ctx, tx, stmt.Database); err != nil {
				return false, err
			}
		}
		return true, nil

	case ddl.KindDropDatabase:
		if _, exists := tx.LookupDatabase(stmt.Database); !exists {
			p.logger.Debug("replayed drop is a no-op",
				zap.String("database", stmt.Database))
			return false, nil
		}
		if p.flags.EnableDatabaseSharding && p.isCoordinator && p.sharder != nil {
			if _, assigned := tx.LookupShard(stmt.Database); assigned {
				if err := p.sharder.RemoveOnDrop(ctx, tx, stmt.Database); err != nil {
					return false, err
				}
			}
		}
		return true, tx.DropDatabase(stmt.Database, true)

	default:
		return false, errors.Wrapf(ddl.ErrUnsupportedStatement, "database command %s", stmt.Kind)
	}
}
