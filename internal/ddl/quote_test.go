package ddl

import "testing"

// TestQuoteIdentifier tests identifier quoting rules
func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"appdb", "appdb"},
		{"app_db2", "app_db2"},
		{"AppDB", `"AppDB"`},
		{"app db", `"app db"`},
		{"2fast", `"2fast"`},
		{`odd"name`, `"odd""name"`},
		{"database", `"database"`},
		{"group", `"group"`},
		{"public", "public"},
		{"", `""`},
	}
	for _, tt := range tests {
		if got := QuoteIdentifier(tt.in); got != tt.want {
			t.Errorf("QuoteIdentifier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestQuoteLiteral tests string literal quoting
func TestQuoteLiteral(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "'plain'"},
		{"", "''"},
		{"o'brien", "'o''brien'"},
		{"it''s", "'it''''s'"},
	}
	for _, tt := range tests {
		if got := QuoteLiteral(tt.in); got != tt.want {
			t.Errorf("QuoteLiteral(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
