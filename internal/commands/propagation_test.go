package commands

import (
	"context"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/fleetdb/internal/catalog"
	"github.com/dreamware/fleetdb/internal/cluster"
	"github.com/dreamware/fleetdb/internal/config"
	"github.com/dreamware/fleetdb/internal/ddl"
)

// fakeNodes is a static NodeSource.
type fakeNodes struct {
	workers  []cluster.NodeInfo
	metadata []cluster.NodeInfo
	local    int
}

func (f *fakeNodes) Workers() []cluster.NodeInfo      { return f.workers }
func (f *fakeNodes) WithMetadata() []cluster.NodeInfo { return f.metadata }
func (f *fakeNodes) LocalGroupID() int                { return f.local }

type dispatchCall struct {
	node     string
	database string
	command  string
}

// recordingDispatcher captures every dispatched command in order and can be
// told to fail on commands containing a marker.
type recordingDispatcher struct {
	calls  []dispatchCall
	failOn string
}

func (d *recordingDispatcher) Execute(_ context.Context, node cluster.NodeInfo, database, command string) error {
	if d.failOn != "" && strings.Contains(command, d.failOn) {
		return errors.Newf("dispatch to %s refused", node.ID)
	}
	d.calls = append(d.calls, dispatchCall{node: node.ID, database: database, command: command})
	return nil
}

// fakeSharder records registry maintenance calls.
type fakeSharder struct {
	assigned []string
	removed  []string
}

func (f *fakeSharder) AssignOnCreate(_ context.Context, _ *catalog.Tx, database string) error {
	f.assigned = append(f.assigned, database)
	return nil
}

func (f *fakeSharder) RemoveOnDrop(_ context.Context, _ *catalog.Tx, database string) error {
	f.removed = append(f.removed, database)
	return nil
}

// fakeDelegator records delegated commands.
type fakeDelegator struct {
	commands []string
	err      error
}

func (f *fakeDelegator) ExecuteInControlDatabase(_ context.Context, command string) error {
	if f.err != nil {
		return f.err
	}
	f.commands = append(f.commands, command)
	return nil
}

func twoWorkers() *fakeNodes {
	return &fakeNodes{
		workers: []cluster.NodeInfo{
			{ID: "node-1", Addr: "http://n1", GroupID: 10},
			{ID: "node-2", Addr: "http://n2", GroupID: 20},
		},
		local: cluster.CoordinatorGroupID,
	}
}

func newTestPropagator(t *testing.T, flags config.Flags, isCoordinator bool,
	nodes NodeSource, d cluster.Dispatcher) (*Propagator, *catalog.Engine) {
	t.Helper()
	return NewPropagator(flags, isCoordinator, nodes, d, nil), catalog.NewEngine()
}

func process(t *testing.T, p *Propagator, e *catalog.Engine, sess *Session, text string) error {
	t.Helper()
	stmt, err := ddl.Parse(text)
	require.NoError(t, err)
	tx := e.Begin()
	defer tx.Rollback()
	if err := p.ProcessUtility(context.Background(), sess, tx, stmt); err != nil {
		return err
	}
	tx.Commit()
	return nil
}

// TestCreateDatabasePropagation tests the full create path: local catalog
// application plus the guarded replay wrapper dispatched to every worker.
func TestCreateDatabasePropagation(t *testing.T) {
	d := &recordingDispatcher{}
	p, e := newTestPropagator(t, config.DefaultFlags(), true, twoWorkers(), d)
	sess := NewSession(config.DefaultFlags(), catalog.SuperuserRole, "fleetdb")

	require.NoError(t, process(t, p, e, sess, "CREATE DATABASE appdb OWNER alice"))

	db, ok := e.LookupDatabase("appdb")
	require.True(t, ok)
	assert.Equal(t, "alice", db.Owner)

	// Each worker receives the bracketed triple, in order, against the
	// control database.
	require.Len(t, d.calls, 6)
	for i, nodeID := range []string{"node-1", "node-1", "node-1", "node-2", "node-2", "node-2"} {
		assert.Equal(t, nodeID, d.calls[i].node)
		assert.Equal(t, "fleetdb", d.calls[i].database)
	}
	assert.Equal(t, ddl.DisableDDLPropagation, d.calls[0].command)
	assert.Equal(t,
		`SELECT fleetdb_internal.database_command('CREATE DATABASE appdb OWNER alice')`,
		d.calls[1].command)
	assert.Equal(t, ddl.EnableDDLPropagation, d.calls[2].command)
}

// TestPropagationDisabledIsLocalOnly tests that a disabled guard keeps the
// statement local
func TestPropagationDisabledIsLocalOnly(t *testing.T) {
	d := &recordingDispatcher{}
	p, e := newTestPropagator(t, config.DefaultFlags(), true, twoWorkers(), d)
	sess := NewSession(config.DefaultFlags(), catalog.SuperuserRole, "fleetdb")
	sess.DDLPropagation = false

	require.NoError(t, process(t, p, e, sess, "CREATE DATABASE appdb"))
	_, ok := e.LookupDatabase("appdb")
	assert.True(t, ok)
	assert.Empty(t, d.calls)
}

// TestPropagationRequiresCoordinator tests the worker-side refusal
func TestPropagationRequiresCoordinator(t *testing.T) {
	d := &recordingDispatcher{}
	p, e := newTestPropagator(t, config.DefaultFlags(), false, twoWorkers(), d)
	sess := NewSession(config.DefaultFlags(), catalog.SuperuserRole, "fleetdb")

	err := process(t, p, e, sess, "CREATE DATABASE appdb")
	assert.ErrorIs(t, err, ErrNotCoordinator)
	assert.Empty(t, d.calls)

	// Nothing committed.
	_, ok := e.LookupDatabase("appdb")
	assert.False(t, ok)
}

// TestDropDatabasePropagation tests drop wrapping and shard row cleanup
func TestDropDatabasePropagation(t *testing.T) {
	flags := config.DefaultFlags()
	flags.EnableDatabaseSharding = true
	d := &recordingDispatcher{}
	p, e := newTestPropagator(t, flags, true, twoWorkers(), d)
	sharder := &fakeSharder{}
	p.SetSharder(sharder)
	sess := NewSession(flags, catalog.SuperuserRole, "fleetdb")

	require.NoError(t, process(t, p, e, sess, "CREATE DATABASE appdb"))
	assert.Equal(t, []string{"appdb"}, sharder.assigned,
		"create assigns after propagation when sharding is on")

	// Simulate the row the real sharder would have inserted.
	tx := e.Begin()
	require.NoError(t, tx.InsertShard("appdb", 10))
	tx.Commit()
	d.calls = nil

	require.NoError(t, process(t, p, e, sess, "DROP DATABASE appdb"))
	assert.Equal(t, []string{"appdb"}, sharder.removed)
	_, ok := e.LookupDatabase("appdb")
	assert.False(t, ok)

	require.Len(t, d.calls, 6)
	assert.Equal(t,
		`SELECT fleetdb_internal.database_command('DROP DATABASE appdb')`,
		d.calls[1].command)
}

// TestAlterDatabaseOwnerReconciliation tests that the propagated owner change
// is rebuilt from the catalog, not echoed from the statement
func TestAlterDatabaseOwnerReconciliation(t *testing.T) {
	d := &recordingDispatcher{}
	p, e := newTestPropagator(t, config.DefaultFlags(), true, twoWorkers(), d)
	sess := NewSession(config.DefaultFlags(), catalog.SuperuserRole, "fleetdb")

	require.NoError(t, process(t, p, e, sess, "CREATE DATABASE appdb OWNER alice"))
	d.calls = nil

	require.NoError(t, process(t, p, e, sess, "ALTER DATABASE appdb OWNER TO bob"))
	owner, _ := e.LookupDatabase("appdb")
	assert.Equal(t, "bob", owner.Owner)
	require.Len(t, d.calls, 6)
	assert.Equal(t, "ALTER DATABASE appdb OWNER TO bob", d.calls[1].command)

	// The reconciler reads whatever the catalog holds at build time.
	tx := e.Begin()
	defer tx.Rollback()
	require.NoError(t, tx.SetDatabaseOwner("appdb", "carol"))
	cmds, err := DatabaseOwnerCommands(tx, "appdb")
	require.NoError(t, err)
	assert.Equal(t, []string{"ALTER DATABASE appdb OWNER TO carol"}, cmds)
}

// TestGrantOnDatabasePropagation tests grants travel verbatim and guarded
func TestGrantOnDatabasePropagation(t *testing.T) {
	d := &recordingDispatcher{}
	p, e := newTestPropagator(t, config.DefaultFlags(), true, twoWorkers(), d)
	sess := NewSession(config.DefaultFlags(), catalog.SuperuserRole, "fleetdb")

	require.NoError(t, process(t, p, e, sess, "CREATE DATABASE appdb"))
	d.calls = nil

	require.NoError(t, process(t, p, e, sess, "GRANT CONNECT ON DATABASE appdb TO alice"))
	require.Len(t, d.calls, 6)
	assert.Equal(t, "GRANT CONNECT ON DATABASE appdb TO alice", d.calls[1].command)

	db, _ := e.LookupDatabase("appdb")
	assert.True(t, db.ConnectGrants["alice"])
}

// TestOwnershipRequired tests that statements against an existing database
// are refused for roles that do not own it
func TestOwnershipRequired(t *testing.T) {
	d := &recordingDispatcher{}
	p, e := newTestPropagator(t, config.DefaultFlags(), true, twoWorkers(), d)
	super := NewSession(config.DefaultFlags(), catalog.SuperuserRole, "fleetdb")
	require.NoError(t, process(t, p, e, super, "CREATE DATABASE appdb OWNER alice"))
	d.calls = nil

	mallory := NewSession(config.DefaultFlags(), "mallory", "fleetdb")
	for _, text := range []string{
		"ALTER DATABASE appdb OWNER TO mallory",
		"ALTER DATABASE appdb WITH CONNECTION LIMIT 1",
		"DROP DATABASE appdb",
		"GRANT CONNECT ON DATABASE appdb TO mallory",
	} {
		err := process(t, p, e, mallory, text)
		assert.ErrorIs(t, err, catalog.ErrPermissionDenied, text)
	}
	assert.Empty(t, d.calls, "denied statements must not reach workers")

	db, ok := e.LookupDatabase("appdb")
	require.True(t, ok)
	assert.Equal(t, "alice", db.Owner)

	alice := NewSession(config.DefaultFlags(), "alice", "fleetdb")
	require.NoError(t, process(t, p, e, alice, "DROP DATABASE appdb"))

	t.Run("if exists skips the check for missing databases", func(t *testing.T) {
		require.NoError(t, process(t, p, e, mallory, "DROP DATABASE IF EXISTS nosuch"))
	})
}

// TestDispatchFailureAborts tests that a failed dispatch rolls the whole
// statement back
func TestDispatchFailureAborts(t *testing.T) {
	d := &recordingDispatcher{failOn: "database_command"}
	p, e := newTestPropagator(t, config.DefaultFlags(), true, twoWorkers(), d)
	sess := NewSession(config.DefaultFlags(), catalog.SuperuserRole, "fleetdb")

	err := process(t, p, e, sess, "CREATE DATABASE appdb")
	require.Error(t, err)
	_, ok := e.LookupDatabase("appdb")
	assert.False(t, ok, "nothing commits when a worker refuses")
}

// TestGuardedCommands tests bracket construction
func TestGuardedCommands(t *testing.T) {
	cmds := GuardedCommands("CREATE DATABASE x", "GRANT CONNECT ON DATABASE x TO y")
	assert.Equal(t, []string{
		ddl.DisableDDLPropagation,
		"CREATE DATABASE x",
		"GRANT CONNECT ON DATABASE x TO y",
		ddl.EnableDDLPropagation,
	}, cmds)

	assert.Nil(t, NodeDDLTaskList(nil, cmds), "no targets, no tasks")
}

// TestMaybeDelegate tests forwarding of create/drop issued inside a shard
// database
func TestMaybeDelegate(t *testing.T) {
	flags := config.DefaultFlags()
	flags.EnableDatabaseSharding = true
	d := &recordingDispatcher{}
	p, _ := newTestPropagator(t, flags, true, twoWorkers(), d)
	delegator := &fakeDelegator{}
	p.SetDelegator(delegator)

	stmt, err := ddl.Parse("CREATE DATABASE otherdb")
	require.NoError(t, err)

	t.Run("shard database delegates", func(t *testing.T) {
		sess := NewSession(flags, catalog.SuperuserRole, "appdb")
		handled, err := p.MaybeDelegate(context.Background(), sess, stmt)
		require.NoError(t, err)
		assert.True(t, handled)
		assert.Equal(t, []string{"CREATE DATABASE otherdb"}, delegator.commands)
	})

	t.Run("control database runs locally", func(t *testing.T) {
		sess := NewSession(flags, catalog.SuperuserRole, flags.ControlDatabase)
		handled, err := p.MaybeDelegate(context.Background(), sess, stmt)
		require.NoError(t, err)
		assert.False(t, handled)
	})

	t.Run("only create and drop delegate", func(t *testing.T) {
		alter, err := ddl.Parse("ALTER DATABASE otherdb OWNER TO bob")
		require.NoError(t, err)
		sess := NewSession(flags, catalog.SuperuserRole, "appdb")
		handled, err := p.MaybeDelegate(context.Background(), sess, alter)
		require.NoError(t, err)
		assert.False(t, handled)
	})

	t.Run("disabled create propagation stays local", func(t *testing.T) {
		off := flags
		off.EnableCreateDatabasePropagation = false
		p2, _ := newTestPropagator(t, off, true, twoWorkers(), d)
		p2.SetDelegator(delegator)
		sess := NewSession(off, catalog.SuperuserRole, "appdb")
		handled, err := p2.MaybeDelegate(context.Background(), sess, stmt)
		require.NoError(t, err)
		assert.False(t, handled)
	})
}
