package ddl

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Deparse converts a structured statement back into canonical text. The
// output is stable: parsing the result yields an equal Statement.
func Deparse(stmt *Statement) (string, error) {
	switch stmt.Kind {
	case KindCreateDatabase:
		return deparseCreateDatabase(stmt), nil
	case KindDropDatabase:
		return deparseDropDatabase(stmt), nil
	case KindAlterDatabase:
		return deparseAlterDatabase(stmt), nil
	case KindAlterDatabaseOwner:
		return fmt.Sprintf("ALTER DATABASE %s OWNER TO %s",
			QuoteIdentifier(stmt.Database), QuoteIdentifier(stmt.Owner)), nil
	case KindGrantOnDatabase:
		return deparseGrantOnDatabase(stmt), nil
	case KindSetGuard:
		return fmt.Sprintf("SET %s TO %s", stmt.Guard, QuoteLiteral(stmt.GuardValue)), nil
	case KindInternalDatabaseCommand:
		return fmt.Sprintf("SELECT fleetdb_internal.database_command(%s)",
			QuoteLiteral(stmt.Command)), nil
	case KindInternalAddDatabaseShard:
		return fmt.Sprintf("SELECT fleetdb_internal.add_database_shard(%s, %d)",
			QuoteLiteral(stmt.Database), stmt.GroupID), nil
	case KindInternalDeleteDatabaseShard:
		return fmt.Sprintf("SELECT fleetdb_internal.delete_database_shard(%s)",
			QuoteLiteral(stmt.Database)), nil
	default:
		return "", errors.Wrapf(ErrUnsupportedStatement, "cannot deparse kind %s", stmt.Kind)
	}
}

func deparseCreateDatabase(stmt *Statement) string {
	var b strings.Builder
	b.WriteString("CREATE DATABASE ")
	b.WriteString(QuoteIdentifier(stmt.Database))
	if stmt.Owner != "" {
		b.WriteString(" OWNER ")
		b.WriteString(QuoteIdentifier(stmt.Owner))
	}
	for _, opt := range stmt.Options {
		b.WriteByte(' ')
		b.WriteString(opt.Name)
		b.WriteByte(' ')
		b.WriteString(deparseOptionValue(opt.Value))
	}
	return b.String()
}

func deparseDropDatabase(stmt *Statement) string {
	if stmt.IfExists {
		return "DROP DATABASE IF EXISTS " + QuoteIdentifier(stmt.Database)
	}
	return "DROP DATABASE " + QuoteIdentifier(stmt.Database)
}

func deparseAlterDatabase(stmt *Statement) string {
	var b strings.Builder
	b.WriteString("ALTER DATABASE ")
	b.WriteString(QuoteIdentifier(stmt.Database))

	// A single SET parameter deparses as ALTER DATABASE ... SET p TO v;
	// everything else goes through the WITH option list.
	if len(stmt.Options) == 1 && strings.HasPrefix(stmt.Options[0].Name, "SET ") {
		b.WriteString(" SET ")
		b.WriteString(strings.TrimPrefix(stmt.Options[0].Name, "SET "))
		b.WriteString(" TO ")
		b.WriteString(deparseOptionValue(stmt.Options[0].Value))
		return b.String()
	}

	b.WriteString(" WITH")
	for _, opt := range stmt.Options {
		b.WriteByte(' ')
		b.WriteString(opt.Name)
		b.WriteByte(' ')
		b.WriteString(deparseOptionValue(opt.Value))
	}
	return b.String()
}

func deparseGrantOnDatabase(stmt *Statement) string {
	if stmt.Grant {
		return fmt.Sprintf("GRANT %s ON DATABASE %s TO %s",
			stmt.Privilege, QuoteIdentifier(stmt.Database), QuoteIdentifier(stmt.Grantee))
	}
	return fmt.Sprintf("REVOKE %s ON DATABASE %s FROM %s",
		stmt.Privilege, QuoteIdentifier(stmt.Database), QuoteIdentifier(stmt.Grantee))
}

func deparseOptionValue(v string) string {
	if isBareValue(v) {
		return v
	}
	return QuoteLiteral(v)
}
