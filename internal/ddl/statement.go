package ddl

import (
	"github.com/cockroachdb/errors"
)

// ErrUnsupportedStatement is returned when statement text does not encode one
// of the database-level statement kinds this package understands. Callers of
// the replay path treat it as fatal and never retry.
var ErrUnsupportedStatement = errors.New("unsupported statement kind")

// ErrSyntax is returned for text that is recognizably one of the supported
// statement kinds but is malformed.
var ErrSyntax = errors.New("syntax error")

// Kind identifies the statement kind of a parsed Statement.
type Kind int

const (
	KindInvalid Kind = iota

	// KindCreateDatabase is CREATE DATABASE name [OWNER role] [options].
	KindCreateDatabase

	// KindDropDatabase is DROP DATABASE [IF EXISTS] name.
	KindDropDatabase

	// KindAlterDatabase is ALTER DATABASE name WITH options, or
	// ALTER DATABASE name SET parameter TO value.
	KindAlterDatabase

	// KindAlterDatabaseOwner is ALTER DATABASE name OWNER TO role.
	KindAlterDatabaseOwner

	// KindGrantOnDatabase is GRANT/REVOKE privilege ON DATABASE name TO/FROM role.
	KindGrantOnDatabase

	// KindSetGuard is a session guard toggle, e.g.
	// SET fleetdb.enable_ddl_propagation TO 'off'.
	KindSetGuard

	// KindInternalDatabaseCommand wraps a create/drop statement for idempotent
	// replay: SELECT fleetdb_internal.database_command('<sql>').
	KindInternalDatabaseCommand

	// KindInternalAddDatabaseShard mirrors a shard registry insert:
	// SELECT fleetdb_internal.add_database_shard('<db>', <group>).
	KindInternalAddDatabaseShard

	// KindInternalDeleteDatabaseShard mirrors a shard registry delete:
	// SELECT fleetdb_internal.delete_database_shard('<db>').
	KindInternalDeleteDatabaseShard
)

// String returns a readable name for the kind, used in errors and logs.
func (k Kind) String() string {
	switch k {
	case KindCreateDatabase:
		return "CREATE DATABASE"
	case KindDropDatabase:
		return "DROP DATABASE"
	case KindAlterDatabase:
		return "ALTER DATABASE"
	case KindAlterDatabaseOwner:
		return "ALTER DATABASE OWNER"
	case KindGrantOnDatabase:
		return "GRANT ON DATABASE"
	case KindSetGuard:
		return "SET"
	case KindInternalDatabaseCommand:
		return "INTERNAL DATABASE COMMAND"
	case KindInternalAddDatabaseShard:
		return "INTERNAL ADD DATABASE SHARD"
	case KindInternalDeleteDatabaseShard:
		return "INTERNAL DELETE DATABASE SHARD"
	default:
		return "INVALID"
	}
}

// Option is a single name/value pair on a CREATE or ALTER DATABASE statement.
// Options keep their statement order so deparsing is deterministic.
type Option struct {
	Name  string // normalized to upper case, e.g. "ALLOW_CONNECTIONS"
	Value string // raw value text, unquoted
}

// Statement is the structured descriptor for a database-level statement.
// It is the internal currency of the propagation subsystem; statement text
// exists only at the network boundary, produced by Deparse and consumed by
// Parse.
type Statement struct {
	Kind Kind

	// Database is the operand database name for every kind that has one.
	Database string

	// Owner is the OWNER option of CREATE DATABASE, or the new owner of
	// ALTER DATABASE OWNER.
	Owner string

	// IfExists is set on DROP DATABASE IF EXISTS.
	IfExists bool

	// Grant distinguishes GRANT (true) from REVOKE (false) for
	// KindGrantOnDatabase.
	Grant     bool
	Privilege string
	Grantee   string

	// Options holds WITH/SET options on CREATE and ALTER DATABASE. A SET
	// parameter is stored with the "SET " prefix on its name.
	Options []Option

	// Guard and GuardValue carry a KindSetGuard toggle.
	Guard      string
	GuardValue string

	// Command is the wrapped statement text of KindInternalDatabaseCommand.
	Command string

	// GroupID is the node group of KindInternalAddDatabaseShard.
	GroupID int
}

// Session guard parameter names. The guards are session scoped: toggling one
// suppresses propagation for the remainder of the session (or until the
// matching enable), never for other sessions.
const (
	GuardDDLPropagation            = "fleetdb.enable_ddl_propagation"
	GuardCreateDatabasePropagation = "fleetdb.enable_create_database_propagation"
)

// Canonical guard bracketing commands. Every propagated task list opens with
// the disable command and closes with the enable command so that replaying
// the payload on a worker cannot re-trigger propagation there.
const (
	DisableDDLPropagation = "SET " + GuardDDLPropagation + " TO 'off'"
	EnableDDLPropagation  = "SET " + GuardDDLPropagation + " TO 'on'"
)
