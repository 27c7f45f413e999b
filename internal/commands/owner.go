package commands

import (
	"github.com/dreamware/fleetdb/internal/catalog"
	"github.com/dreamware/fleetdb/internal/ddl"
)

// RecreateAlterDatabaseOwner builds the statement that sets the database's
// owner to its current owner, read from the catalog. Replaying the result
// anywhere converges on the same owner regardless of how ownership last
// changed on the target; replaying it where the owner already matches is a
// plain no-op statement. Fails with UndefinedDatabase when the name no longer
// resolves.
func RecreateAlterDatabaseOwner(tx *catalog.Tx, database string) (*ddl.Statement, error) {
	owner, err := tx.DatabaseOwner(database)
	if err != nil {
		return nil, err
	}
	return &ddl.Statement{
		Kind:     ddl.KindAlterDatabaseOwner,
		Database: database,
		Owner:    owner,
	}, nil
}

// DatabaseOwnerCommands returns the command list that idempotently applies
// the database's current ownership on any node.
func DatabaseOwnerCommands(tx *catalog.Tx, database string) ([]string, error) {
	stmt, err := RecreateAlterDatabaseOwner(tx, database)
	if err != nil {
		return nil, err
	}
	sql, err := ddl.Deparse(stmt)
	if err != nil {
		return nil, err
	}
	return []string{sql}, nil
}
