package ddl

import "strings"

// reservedNames are words that must be quoted when used as identifiers.
// Only the small set this package can actually emit matters here.
var reservedNames = map[string]bool{
	"all": true, "create": true, "database": true, "drop": true,
	"grant": true, "group": true, "owner": true,
	"revoke": true, "select": true, "set": true, "table": true,
	"to": true, "user": true, "with": true,
}

// QuoteIdentifier returns name in a form safe to splice into statement text.
// Plain lower-case identifiers pass through bare; anything else is wrapped in
// double quotes with embedded quotes doubled, matching how the server itself
// prints identifiers.
func QuoteIdentifier(name string) string {
	if isBareIdentifier(name) && !reservedNames[name] {
		return name
	}
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			b.WriteByte('"')
		}
		b.WriteByte(name[i])
	}
	b.WriteByte('"')
	return b.String()
}

// QuoteLiteral returns s as a single-quoted string literal with embedded
// quotes doubled.
func QuoteLiteral(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			b.WriteByte('\'')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('\'')
	return b.String()
}

// isBareIdentifier reports whether name can appear unquoted: a lower-case
// letter or underscore followed by lower-case letters, digits or underscores.
func isBareIdentifier(name string) bool {
	if len(name) == 0 {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// isBareValue reports whether an option value can be emitted without quoting:
// integers and the boolean keywords.
func isBareValue(v string) bool {
	switch strings.ToLower(v) {
	case "true", "false", "on", "off":
		return true
	}
	if len(v) == 0 {
		return false
	}
	for i := 0; i < len(v); i++ {
		if c := v[i]; (c < '0' || c > '9') && !(i == 0 && c == '-') {
			return false
		}
	}
	return true
}
