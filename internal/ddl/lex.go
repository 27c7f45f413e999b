package ddl

import (
	"strings"

	"github.com/cockroachdb/errors"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	// quoted marks identifiers that were double-quoted in the input and must
	// not be case folded or matched as keywords.
	quoted bool
}

// lex splits statement text into tokens. It handles double-quoted
// identifiers and single-quoted literals with doubled-quote escaping.
func lex(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case isIdentStart(c):
			start := i
			for i < len(input) && isIdentChar(input[i]) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: input[start:i]})

		case c >= '0' && c <= '9' || c == '-' && i+1 < len(input) && input[i+1] >= '0' && input[i+1] <= '9':
			start := i
			i++
			for i < len(input) && input[i] >= '0' && input[i] <= '9' {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: input[start:i]})

		case c == '"':
			text, rest, err := lexQuoted(input[i:], '"')
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokIdent, text: text, quoted: true})
			i = len(input) - len(rest)

		case c == '\'':
			text, rest, err := lexQuoted(input[i:], '\'')
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: text})
			i = len(input) - len(rest)

		case strings.ContainsRune("().,=;", rune(c)):
			toks = append(toks, token{kind: tokPunct, text: string(c)})
			i++

		default:
			return nil, errors.Wrapf(ErrSyntax, "unexpected character %q", c)
		}
	}
	return toks, nil
}

// lexQuoted consumes a quoted region starting at input[0] == q. A doubled
// quote inside the region encodes a single quote character. It returns the
// unescaped contents and the unconsumed remainder.
func lexQuoted(input string, q byte) (string, string, error) {
	var b strings.Builder
	i := 1
	for i < len(input) {
		if input[i] == q {
			if i+1 < len(input) && input[i+1] == q {
				b.WriteByte(q)
				i += 2
				continue
			}
			return b.String(), input[i+1:], nil
		}
		b.WriteByte(input[i])
		i++
	}
	return "", "", errors.Wrapf(ErrSyntax, "unterminated %q", string(q))
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9' || c == '$'
}
