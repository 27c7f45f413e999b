package catalog

import (
	"github.com/cockroachdb/errors"
)

// Tx is a catalog transaction. Mutations are visible to later operations on
// the same Tx immediately, and to everyone else only after Commit. A Tx is
// not safe for concurrent use.
type Tx struct {
	e    *Engine
	st   state
	done bool

	reconfigurePoolers bool
}

// Commit installs the transaction's state as the committed catalog and runs
// the pooler reconfiguration hook if any operation requested it. Requests are
// coalesced: the hook runs at most once per transaction.
func (tx *Tx) Commit() {
	if tx.done {
		return
	}
	tx.done = true

	tx.e.mu.Lock()
	tx.e.st = tx.st
	tx.e.mu.Unlock()
	tx.e.writeMu.Unlock()

	if tx.reconfigurePoolers && tx.e.onReconfigure != nil {
		tx.e.onReconfigure()
	}
}

// Rollback discards the transaction. Calling it after Commit is a no-op.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	tx.e.writeMu.Unlock()
}

// RequestPoolerReconfigure marks the transaction as needing the connection
// pooler configuration rewritten at commit.
func (tx *Tx) RequestPoolerReconfigure() {
	tx.reconfigurePoolers = true
}

// CreateDatabase adds a database owned by owner. Fails with
// ErrDuplicateDatabase if the name is taken.
func (tx *Tx) CreateDatabase(name, owner string, options map[string]string) (*Database, error) {
	if _, ok := tx.st.databases[name]; ok {
		return nil, errors.Wrapf(ErrDuplicateDatabase, "database %q", name)
	}
	if owner == "" {
		owner = SuperuserRole
	}
	db := &Database{
		ID:            tx.st.nextID,
		Name:          name,
		Owner:         owner,
		Options:       make(map[string]string, len(options)),
		ConnectGrants: make(map[string]bool),
	}
	for k, v := range options {
		db.Options[k] = v
	}
	tx.st.nextID++
	tx.st.databases[name] = db
	return db.clone(), nil
}

// DropDatabase removes a database and any shard row referencing it. With
// missingOK the drop of an absent database is a silent no-op.
func (tx *Tx) DropDatabase(name string, missingOK bool) error {
	db, ok := tx.st.databases[name]
	if !ok {
		if missingOK {
			return nil
		}
		return errors.Wrapf(ErrUndefinedDatabase, "database %q", name)
	}
	delete(tx.st.shards, db.ID)
	delete(tx.st.databases, name)
	return nil
}

// LookupDatabase returns a copy of the database row as this transaction sees
// it.
func (tx *Tx) LookupDatabase(name string) (*Database, bool) {
	db, ok := tx.st.databases[name]
	if !ok {
		return nil, false
	}
	return db.clone(), true
}

// DatabaseOwner returns the owning role of the database.
func (tx *Tx) DatabaseOwner(name string) (string, error) {
	db, ok := tx.st.databases[name]
	if !ok {
		return "", errors.Wrapf(ErrUndefinedDatabase, "database %q", name)
	}
	return db.Owner, nil
}

// SetDatabaseOwner changes the owning role of the database.
func (tx *Tx) SetDatabaseOwner(name, owner string) error {
	db, ok := tx.st.databases[name]
	if !ok {
		return errors.Wrapf(ErrUndefinedDatabase, "database %q", name)
	}
	db.Owner = owner
	return nil
}

// AlterDatabaseOptions merges options into the database's option map.
func (tx *Tx) AlterDatabaseOptions(name string, options map[string]string) error {
	db, ok := tx.st.databases[name]
	if !ok {
		return errors.Wrapf(ErrUndefinedDatabase, "database %q", name)
	}
	for k, v := range options {
		db.Options[k] = v
	}
	return nil
}

// SetConnectGrant grants or revokes CONNECT on the database for grantee, as
// seen on this node.
func (tx *Tx) SetConnectGrant(name, grantee string, granted bool) error {
	db, ok := tx.st.databases[name]
	if !ok {
		return errors.Wrapf(ErrUndefinedDatabase, "database %q", name)
	}
	if granted {
		db.ConnectGrants[grantee] = true
	} else {
		delete(db.ConnectGrants, grantee)
	}
	return nil
}

// HasConnectGrant reports whether grantee holds CONNECT on the database.
func (tx *Tx) HasConnectGrant(name, grantee string) bool {
	db, ok := tx.st.databases[name]
	return ok && db.ConnectGrants[grantee]
}

// CheckOwner verifies that role owns the database. Superusers always pass.
func (tx *Tx) CheckOwner(name, role string) error {
	db, ok := tx.st.databases[name]
	if !ok {
		return errors.Wrapf(ErrUndefinedDatabase, "database %q", name)
	}
	if role != SuperuserRole && role != db.Owner {
		return errors.Wrapf(ErrPermissionDenied, "role %q is not the owner of database %q", role, name)
	}
	return nil
}

// InsertShard adds the shard row assigning the database to groupID. Fails
// with ErrDuplicateAssignment if a row already exists: the registry holds at
// most one row per database.
func (tx *Tx) InsertShard(name string, groupID int) error {
	db, ok := tx.st.databases[name]
	if !ok {
		return errors.Wrapf(ErrUndefinedDatabase, "database %q", name)
	}
	if _, exists := tx.st.shards[db.ID]; exists {
		return errors.Wrapf(ErrDuplicateAssignment, "database %q", name)
	}
	tx.st.shards[db.ID] = ShardRow{DatabaseID: db.ID, GroupID: groupID, Available: true}
	return nil
}

// DeleteShard removes the shard row for the database if one exists. Deleting
// an absent row is a no-op.
func (tx *Tx) DeleteShard(name string) error {
	db, ok := tx.st.databases[name]
	if !ok {
		return errors.Wrapf(ErrUndefinedDatabase, "database %q", name)
	}
	delete(tx.st.shards, db.ID)
	return nil
}

// LookupShard returns the shard row for the database as this transaction
// sees it.
func (tx *Tx) LookupShard(name string) (*ShardRow, bool) {
	db, ok := tx.st.databases[name]
	if !ok {
		return nil, false
	}
	row, ok := tx.st.shards[db.ID]
	if !ok {
		return nil, false
	}
	copied := row
	return &copied, true
}

// ListShards returns every shard row in the transaction's snapshot.
func (tx *Tx) ListShards() []ShardView {
	return tx.st.listShards()
}
