package catalog

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// SuperuserRole bypasses ownership checks, the way a superuser does on a real
// server.
const SuperuserRole = "postgres"

// Error kinds surfaced by catalog operations. Callers test them with
// errors.Is; wrapped context is preserved.
var (
	ErrUndefinedDatabase   = errors.New("database does not exist")
	ErrDuplicateDatabase   = errors.New("database already exists")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrDuplicateAssignment = errors.New("database is already assigned to a shard")
)

// Database is one row of the database catalog as this node sees it.
type Database struct {
	ID      uint32
	Name    string
	Owner   string
	Options map[string]string
	// ConnectGrants records per-grantee CONNECT privilege on this node.
	ConnectGrants map[string]bool
}

// ShardRow is one row of the database_shard table: the assignment of an
// entire database to a node group. At most one row exists per database at any
// committed snapshot.
type ShardRow struct {
	DatabaseID uint32
	GroupID    int
	Available  bool
}

// ShardView pairs a shard row with its database name for introspection.
type ShardView struct {
	DatabaseName string `json:"database"`
	DatabaseID   uint32 `json:"database_id"`
	GroupID      int    `json:"group_id"`
	Available    bool   `json:"is_available"`
}

// state is the full catalog content. Transactions work on a deep copy and
// swap it in on commit.
type state struct {
	nextID    uint32
	databases map[string]*Database
	shards    map[uint32]ShardRow // keyed by database ID
}

// Engine is an in-memory transactional catalog. Writes go through a Tx:
// Begin snapshots the state, mutations apply to the snapshot, and Commit
// installs it atomically. Transactions are serialized, matching the
// one-coordinating-transaction-at-a-time model of the propagation subsystem;
// reads can run concurrently against the committed state.
type Engine struct {
	mu      sync.RWMutex
	writeMu sync.Mutex
	st      state

	// onReconfigure runs once per committed transaction that requested pooler
	// reconfiguration, regardless of how many operations requested it.
	onReconfigure func()
}

// NewEngine creates an empty catalog.
func NewEngine() *Engine {
	return &Engine{
		st: state{
			// Leave room below for system databases, like OID assignment does.
			nextID:    16384,
			databases: make(map[string]*Database),
			shards:    make(map[uint32]ShardRow),
		},
	}
}

// SetReconfigureHook installs the commit-time pooler reconfiguration hook.
func (e *Engine) SetReconfigureHook(fn func()) {
	e.onReconfigure = fn
}

// Begin starts a transaction. It blocks until any in-flight transaction
// commits or rolls back. The returned Tx must be finished with Commit or
// Rollback; Rollback after Commit is a no-op, so "defer tx.Rollback()" is the
// normal pattern.
func (e *Engine) Begin() *Tx {
	e.writeMu.Lock()
	e.mu.RLock()
	snapshot := e.st.clone()
	e.mu.RUnlock()
	return &Tx{e: e, st: snapshot}
}

// LookupDatabase returns a copy of the committed database row, if present.
func (e *Engine) LookupDatabase(name string) (*Database, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	db, ok := e.st.databases[name]
	if !ok {
		return nil, false
	}
	return db.clone(), true
}

// ListDatabases returns the names of all committed databases.
func (e *Engine) ListDatabases() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.st.databases))
	for name := range e.st.databases {
		names = append(names, name)
	}
	return names
}

// ListShards returns all committed shard rows joined with database names.
func (e *Engine) ListShards() []ShardView {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.st.listShards()
}

// SetGroupAvailability flips is_available on every committed shard row of the
// given group, in its own transaction. The health monitor calls this when a
// node group changes health state.
func (e *Engine) SetGroupAvailability(groupID int, available bool) {
	tx := e.Begin()
	defer tx.Rollback()
	for dbID, row := range tx.st.shards {
		if row.GroupID == groupID && row.Available != available {
			row.Available = available
			tx.st.shards[dbID] = row
			tx.RequestPoolerReconfigure()
		}
	}
	tx.Commit()
}

func (s *state) clone() state {
	c := state{
		nextID:    s.nextID,
		databases: make(map[string]*Database, len(s.databases)),
		shards:    make(map[uint32]ShardRow, len(s.shards)),
	}
	for name, db := range s.databases {
		c.databases[name] = db.clone()
	}
	for id, row := range s.shards {
		c.shards[id] = row
	}
	return c
}

func (s *state) listShards() []ShardView {
	byID := make(map[uint32]string, len(s.databases))
	for name, db := range s.databases {
		byID[db.ID] = name
	}
	views := make([]ShardView, 0, len(s.shards))
	for id, row := range s.shards {
		views = append(views, ShardView{
			DatabaseName: byID[id],
			DatabaseID:   id,
			GroupID:      row.GroupID,
			Available:    row.Available,
		})
	}
	return views
}

func (d *Database) clone() *Database {
	c := *d
	c.Options = make(map[string]string, len(d.Options))
	for k, v := range d.Options {
		c.Options[k] = v
	}
	c.ConnectGrants = make(map[string]bool, len(d.ConnectGrants))
	for k, v := range d.ConnectGrants {
		c.ConnectGrants[k] = v
	}
	return &c
}
