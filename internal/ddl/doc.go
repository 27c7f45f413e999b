// Package ddl parses and regenerates the database-level statements fleetdb
// propagates. Statement text is the wire format between nodes; this package
// is the boundary where text becomes a structured Statement and back.
//
// The parser covers exactly the propagated surface: CREATE/DROP/ALTER
// DATABASE, GRANT/REVOKE CONNECT ON DATABASE, the propagation guard SET
// statements, and the fleetdb_internal function calls. Anything else is
// ErrUnsupportedStatement. Deparse is the inverse and always emits
// normalized text with identifiers quoted only when necessary.
package ddl
