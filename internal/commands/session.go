package commands

import (
	"github.com/cockroachdb/errors"

	"github.com/dreamware/fleetdb/internal/config"
	"github.com/dreamware/fleetdb/internal/ddl"
)

// ErrNotCoordinator is returned when DDL propagation is attempted from a node
// that is not the coordinator.
var ErrNotCoordinator = errors.New("operation is only allowed on the coordinator")

// Session carries the per-session propagation guards, the acting role, and
// the database the session is connected to. Guards start from the process
// flags and can be toggled by guard SET statements or suppressed for the
// duration of a replay.
type Session struct {
	// DDLPropagation is the general propagation guard. When false, nothing
	// this session does is propagated.
	DDLPropagation bool

	// CreateDatabasePropagation guards CREATE/DROP DATABASE propagation
	// specifically.
	CreateDatabasePropagation bool

	// Role is the acting role for ownership checks.
	Role string

	// Database is the database this session is connected to; delegation
	// triggers when it is not the control database.
	Database string
}

// NewSession creates a session whose guards start from the process flags.
func NewSession(flags config.Flags, role, database string) *Session {
	return &Session{
		DDLPropagation:            flags.EnableDDLPropagation,
		CreateDatabasePropagation: flags.EnableCreateDatabasePropagation,
		Role:                      role,
		Database:                  database,
	}
}

// SuppressPropagation turns both guards off for a scoped region and returns
// the function restoring them to their pre-call values. Callers must run the
// restore on every exit path:
//
//	restore := sess.SuppressPropagation()
//	defer restore()
func (s *Session) SuppressPropagation() (restore func()) {
	savedDDL := s.DDLPropagation
	savedCreate := s.CreateDatabasePropagation
	s.DDLPropagation = false
	s.CreateDatabasePropagation = false
	return func() {
		s.DDLPropagation = savedDDL
		s.CreateDatabasePropagation = savedCreate
	}
}

// ApplyGuard applies a parsed guard SET statement to the session. Unknown
// parameters fail so typos do not silently no-op.
func (s *Session) ApplyGuard(stmt *ddl.Statement) error {
	on, err := guardValue(stmt.GuardValue)
	if err != nil {
		return err
	}
	switch stmt.Guard {
	case ddl.GuardDDLPropagation:
		s.DDLPropagation = on
	case ddl.GuardCreateDatabasePropagation:
		s.CreateDatabasePropagation = on
	default:
		return errors.Newf("unknown session parameter %q", stmt.Guard)
	}
	return nil
}

func guardValue(v string) (bool, error) {
	switch v {
	case "on", "true":
		return true, nil
	case "off", "false":
		return false, nil
	default:
		return false, errors.Newf("invalid guard value %q", v)
	}
}
