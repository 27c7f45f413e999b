package ddl

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseCreateDatabase tests parsing of CREATE DATABASE variants
func TestParseCreateDatabase(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Statement
	}{
		{
			name: "bare create",
			text: "CREATE DATABASE appdb",
			want: Statement{Kind: KindCreateDatabase, Database: "appdb"},
		},
		{
			name: "create with owner",
			text: "CREATE DATABASE appdb OWNER alice",
			want: Statement{Kind: KindCreateDatabase, Database: "appdb", Owner: "alice"},
		},
		{
			name: "create with owner equals",
			text: "CREATE DATABASE appdb WITH OWNER = alice",
			want: Statement{Kind: KindCreateDatabase, Database: "appdb", Owner: "alice"},
		},
		{
			name: "bare identifiers fold to lower case",
			text: "CREATE DATABASE AppDB OWNER Alice",
			want: Statement{Kind: KindCreateDatabase, Database: "appdb", Owner: "alice"},
		},
		{
			name: "quoted identifier keeps case",
			text: `CREATE DATABASE "AppDB"`,
			want: Statement{Kind: KindCreateDatabase, Database: "AppDB"},
		},
		{
			name: "connection limit",
			text: "CREATE DATABASE appdb CONNECTION LIMIT 10",
			want: Statement{
				Kind:     KindCreateDatabase,
				Database: "appdb",
				Options:  []Option{{Name: "CONNECTION LIMIT", Value: "10"}},
			},
		},
		{
			name: "template option",
			text: "CREATE DATABASE appdb TEMPLATE template0",
			want: Statement{
				Kind:     KindCreateDatabase,
				Database: "appdb",
				Options:  []Option{{Name: "TEMPLATE", Value: "template0"}},
			},
		},
		{
			name: "owner and options together",
			text: "CREATE DATABASE appdb OWNER alice TEMPLATE template0 CONNECTION LIMIT 5",
			want: Statement{
				Kind:     KindCreateDatabase,
				Database: "appdb",
				Owner:    "alice",
				Options: []Option{
					{Name: "TEMPLATE", Value: "template0"},
					{Name: "CONNECTION LIMIT", Value: "5"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.text)
			require.NoError(t, err)
			assert.Equal(t, &tt.want, got)
		})
	}
}

// TestParseDropDatabase tests parsing of DROP DATABASE
func TestParseDropDatabase(t *testing.T) {
	got, err := Parse("DROP DATABASE appdb")
	require.NoError(t, err)
	assert.Equal(t, &Statement{Kind: KindDropDatabase, Database: "appdb"}, got)

	got, err = Parse("DROP DATABASE IF EXISTS appdb;")
	require.NoError(t, err)
	assert.Equal(t, &Statement{Kind: KindDropDatabase, Database: "appdb", IfExists: true}, got)
}

// TestParseAlterDatabase tests the three ALTER DATABASE forms
func TestParseAlterDatabase(t *testing.T) {
	t.Run("owner to", func(t *testing.T) {
		got, err := Parse("ALTER DATABASE appdb OWNER TO bob")
		require.NoError(t, err)
		assert.Equal(t, &Statement{Kind: KindAlterDatabaseOwner, Database: "appdb", Owner: "bob"}, got)
	})

	t.Run("set parameter", func(t *testing.T) {
		got, err := Parse("ALTER DATABASE appdb SET work_mem TO '64MB'")
		require.NoError(t, err)
		assert.Equal(t, &Statement{
			Kind:     KindAlterDatabase,
			Database: "appdb",
			Options:  []Option{{Name: "SET work_mem", Value: "64MB"}},
		}, got)
	})

	t.Run("with options", func(t *testing.T) {
		got, err := Parse("ALTER DATABASE appdb WITH CONNECTION LIMIT 20")
		require.NoError(t, err)
		assert.Equal(t, &Statement{
			Kind:     KindAlterDatabase,
			Database: "appdb",
			Options:  []Option{{Name: "CONNECTION LIMIT", Value: "20"}},
		}, got)
	})

	t.Run("with requires an option", func(t *testing.T) {
		_, err := Parse("ALTER DATABASE appdb WITH")
		assert.ErrorIs(t, err, ErrSyntax)
	})
}

// TestParseGrant tests GRANT and REVOKE on databases
func TestParseGrant(t *testing.T) {
	got, err := Parse("GRANT CONNECT ON DATABASE appdb TO alice")
	require.NoError(t, err)
	assert.Equal(t, &Statement{
		Kind: KindGrantOnDatabase, Grant: true,
		Privilege: "CONNECT", Database: "appdb", Grantee: "alice",
	}, got)

	got, err = Parse("REVOKE CONNECT ON DATABASE appdb FROM public")
	require.NoError(t, err)
	assert.Equal(t, &Statement{
		Kind: KindGrantOnDatabase, Grant: false,
		Privilege: "CONNECT", Database: "appdb", Grantee: "public",
	}, got)
}

// TestParseSetGuard tests guard SET statements
func TestParseSetGuard(t *testing.T) {
	got, err := Parse("SET fleetdb.enable_ddl_propagation TO 'off'")
	require.NoError(t, err)
	assert.Equal(t, &Statement{
		Kind:       KindSetGuard,
		Guard:      GuardDDLPropagation,
		GuardValue: "off",
	}, got)

	// The bracket constants must parse back to guard statements.
	got, err = Parse(DisableDDLPropagation)
	require.NoError(t, err)
	assert.Equal(t, GuardDDLPropagation, got.Guard)
	assert.Equal(t, "off", got.GuardValue)

	got, err = Parse(EnableDDLPropagation)
	require.NoError(t, err)
	assert.Equal(t, "on", got.GuardValue)
}

// TestParseInternalCalls tests the fleetdb_internal function forms
func TestParseInternalCalls(t *testing.T) {
	got, err := Parse("SELECT fleetdb_internal.database_command('CREATE DATABASE appdb')")
	require.NoError(t, err)
	assert.Equal(t, &Statement{
		Kind:    KindInternalDatabaseCommand,
		Command: "CREATE DATABASE appdb",
	}, got)

	got, err = Parse("SELECT fleetdb_internal.add_database_shard('appdb', 20)")
	require.NoError(t, err)
	assert.Equal(t, &Statement{
		Kind:     KindInternalAddDatabaseShard,
		Database: "appdb",
		GroupID:  20,
	}, got)

	got, err = Parse("SELECT fleetdb_internal.delete_database_shard('appdb')")
	require.NoError(t, err)
	assert.Equal(t, &Statement{Kind: KindInternalDeleteDatabaseShard, Database: "appdb"}, got)

	_, err = Parse("SELECT now()")
	assert.ErrorIs(t, err, ErrUnsupportedStatement)
}

// TestParseUnsupported tests that foreign statements are rejected distinctly
func TestParseUnsupported(t *testing.T) {
	for _, text := range []string{
		"CREATE TABLE t (a int)",
		"DROP TABLE t",
		"ALTER TABLE t ADD COLUMN b int",
		"INSERT INTO t VALUES (1)",
		"GRANT SELECT ON TABLE t TO alice",
	} {
		_, err := Parse(text)
		if !errors.Is(err, ErrUnsupportedStatement) {
			t.Errorf("Parse(%q): expected ErrUnsupportedStatement, got %v", text, err)
		}
	}

	_, err := Parse("")
	assert.ErrorIs(t, err, ErrSyntax)

	_, err = Parse("CREATE DATABASE appdb trailing 'junk' (")
	assert.Error(t, err)
}

// TestRoundTrip tests that deparsing a parsed statement reproduces it
func TestRoundTrip(t *testing.T) {
	texts := []string{
		"CREATE DATABASE appdb",
		"CREATE DATABASE appdb OWNER alice",
		`CREATE DATABASE "AppDB" OWNER "Report Writer"`,
		"DROP DATABASE appdb",
		"DROP DATABASE IF EXISTS appdb",
		"ALTER DATABASE appdb OWNER TO bob",
		"ALTER DATABASE appdb SET work_mem TO '64MB'",
		"GRANT CONNECT ON DATABASE appdb TO alice",
		"REVOKE CONNECT ON DATABASE appdb FROM public",
		"SET fleetdb.enable_ddl_propagation TO 'off'",
		"SELECT fleetdb_internal.database_command('DROP DATABASE appdb')",
		"SELECT fleetdb_internal.add_database_shard('appdb', 10)",
		"SELECT fleetdb_internal.delete_database_shard('appdb')",
	}
	for _, text := range texts {
		stmt, err := Parse(text)
		require.NoError(t, err, text)
		out, err := Deparse(stmt)
		require.NoError(t, err, text)
		back, err := Parse(out)
		require.NoError(t, err, out)
		assert.Equal(t, stmt, back, "round trip changed %q -> %q", text, out)
	}
}

// TestDeparseEscaping tests literal escaping in deparsed internal calls
func TestDeparseEscaping(t *testing.T) {
	inner := "CREATE DATABASE appdb OWNER \"o'brien\""
	out, err := Deparse(&Statement{Kind: KindInternalDatabaseCommand, Command: inner})
	require.NoError(t, err)

	back, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, inner, back.Command)
}
