package ddl

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// Parse converts statement text into a structured Statement. It understands
// exactly the kinds this subsystem propagates; any other statement fails with
// ErrUnsupportedStatement so callers can distinguish "not ours" from
// malformed input.
func Parse(text string) (*Statement, error) {
	toks, err := lex(text)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.done() {
		return nil, errors.Wrap(ErrSyntax, "empty statement")
	}

	var stmt *Statement
	switch strings.ToUpper(p.peekText()) {
	case "CREATE":
		stmt, err = p.parseCreateDatabase()
	case "DROP":
		stmt, err = p.parseDropDatabase()
	case "ALTER":
		stmt, err = p.parseAlterDatabase()
	case "GRANT":
		stmt, err = p.parseGrantOnDatabase(true)
	case "REVOKE":
		stmt, err = p.parseGrantOnDatabase(false)
	case "SET":
		stmt, err = p.parseSetGuard()
	case "SELECT":
		stmt, err = p.parseInternalCall()
	default:
		return nil, errors.Wrapf(ErrUnsupportedStatement, "statement starts with %q", p.peekText())
	}
	if err != nil {
		return nil, err
	}
	if err := p.expectEnd(); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) parseCreateDatabase() (*Statement, error) {
	p.next() // CREATE
	if !p.matchKeyword("DATABASE") {
		return nil, errors.Wrapf(ErrUnsupportedStatement, "CREATE %s", p.peekText())
	}
	name, err := p.parseIdentifier()
	if err != nil {
		return nil, err
	}
	stmt := &Statement{Kind: KindCreateDatabase, Database: name}

	p.matchKeyword("WITH") // optional
	for !p.done() {
		optName := strings.ToUpper(p.peekText())
		if p.peek().kind != tokIdent || p.peek().quoted {
			break
		}
		p.next()
		switch optName {
		case "OWNER":
			p.matchPunct("=")
			if stmt.Owner, err = p.parseIdentifier(); err != nil {
				return nil, err
			}
		case "CONNECTION":
			if !p.matchKeyword("LIMIT") {
				return nil, errors.Wrap(ErrSyntax, "expected LIMIT after CONNECTION")
			}
			p.matchPunct("=")
			v, err := p.parseOptionValue()
			if err != nil {
				return nil, err
			}
			stmt.Options = append(stmt.Options, Option{Name: "CONNECTION LIMIT", Value: v})
		default:
			p.matchPunct("=")
			v, err := p.parseOptionValue()
			if err != nil {
				return nil, err
			}
			stmt.Options = append(stmt.Options, Option{Name: optName, Value: v})
		}
	}
	return stmt, nil
}

func (p *parser) parseDropDatabase() (*Statement, error) {
	p.next() // DROP
	if !p.matchKeyword("DATABASE") {
		return nil, errors.Wrapf(ErrUnsupportedStatement, "DROP %s", p.peekText())
	}
	stmt := &Statement{Kind: KindDropDatabase}
	if p.matchKeyword("IF") {
		if !p.matchKeyword("EXISTS") {
			return nil, errors.Wrap(ErrSyntax, "expected EXISTS after IF")
		}
		stmt.IfExists = true
	}
	var err error
	if stmt.Database, err = p.parseIdentifier(); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) parseAlterDatabase() (*Statement, error) {
	p.next() // ALTER
	if !p.matchKeyword("DATABASE") {
		return nil, errors.Wrapf(ErrUnsupportedStatement, "ALTER %s", p.peekText())
	}
	name, err := p.parseIdentifier()
	if err != nil {
		return nil, err
	}

	switch {
	case p.matchKeyword("OWNER"):
		if !p.matchKeyword("TO") {
			return nil, errors.Wrap(ErrSyntax, "expected TO after OWNER")
		}
		owner, err := p.parseIdentifier()
		if err != nil {
			return nil, err
		}
		return &Statement{Kind: KindAlterDatabaseOwner, Database: name, Owner: owner}, nil

	case p.matchKeyword("SET"):
		param, err := p.parseQualifiedName()
		if err != nil {
			return nil, err
		}
		if !p.matchKeyword("TO") && !p.matchPunct("=") {
			return nil, errors.Wrap(ErrSyntax, "expected TO in ALTER DATABASE SET")
		}
		v, err := p.parseOptionValue()
		if err != nil {
			return nil, err
		}
		return &Statement{
			Kind:     KindAlterDatabase,
			Database: name,
			Options:  []Option{{Name: "SET " + param, Value: v}},
		}, nil

	default:
		if !p.matchKeyword("WITH") {
			return nil, errors.Wrap(ErrSyntax, "expected OWNER, SET or WITH in ALTER DATABASE")
		}
		stmt := &Statement{Kind: KindAlterDatabase, Database: name}
		for !p.done() {
			optName := strings.ToUpper(p.peekText())
			if p.peek().kind != tokIdent || p.peek().quoted {
				break
			}
			p.next()
			if optName == "CONNECTION" {
				if !p.matchKeyword("LIMIT") {
					return nil, errors.Wrap(ErrSyntax, "expected LIMIT after CONNECTION")
				}
				optName = "CONNECTION LIMIT"
			}
			p.matchPunct("=")
			v, err := p.parseOptionValue()
			if err != nil {
				return nil, err
			}
			stmt.Options = append(stmt.Options, Option{Name: optName, Value: v})
		}
		if len(stmt.Options) == 0 {
			return nil, errors.Wrap(ErrSyntax, "ALTER DATABASE WITH requires at least one option")
		}
		return stmt, nil
	}
}

func (p *parser) parseGrantOnDatabase(grant bool) (*Statement, error) {
	p.next() // GRANT or REVOKE
	priv, err := p.parseIdentifier()
	if err != nil {
		return nil, err
	}
	if !p.matchKeyword("ON") {
		return nil, errors.Wrap(ErrSyntax, "expected ON in grant statement")
	}
	if !p.matchKeyword("DATABASE") {
		return nil, errors.Wrapf(ErrUnsupportedStatement, "grant on %s", p.peekText())
	}
	stmt := &Statement{Kind: KindGrantOnDatabase, Grant: grant, Privilege: strings.ToUpper(priv)}
	if stmt.Database, err = p.parseIdentifier(); err != nil {
		return nil, err
	}
	connective := "TO"
	if !grant {
		connective = "FROM"
	}
	if !p.matchKeyword(connective) {
		return nil, errors.Wrapf(ErrSyntax, "expected %s in grant statement", connective)
	}
	if stmt.Grantee, err = p.parseIdentifier(); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) parseSetGuard() (*Statement, error) {
	p.next() // SET
	param, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	if !p.matchKeyword("TO") && !p.matchPunct("=") {
		return nil, errors.Wrap(ErrSyntax, "expected TO in SET")
	}
	tok := p.next()
	if tok == nil || (tok.kind != tokIdent && tok.kind != tokString) {
		return nil, errors.Wrap(ErrSyntax, "expected value in SET")
	}
	return &Statement{
		Kind:       KindSetGuard,
		Guard:      param,
		GuardValue: strings.ToLower(tok.text),
	}, nil
}

func (p *parser) parseInternalCall() (*Statement, error) {
	p.next() // SELECT
	fn, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	if !p.matchPunct("(") {
		return nil, errors.Wrap(ErrSyntax, "expected ( in internal call")
	}
	switch fn {
	case "fleetdb_internal.database_command":
		cmd, err := p.parseStringArg()
		if err != nil {
			return nil, err
		}
		if !p.matchPunct(")") {
			return nil, errors.Wrap(ErrSyntax, "expected ) in internal call")
		}
		return &Statement{Kind: KindInternalDatabaseCommand, Command: cmd}, nil

	case "fleetdb_internal.add_database_shard":
		db, err := p.parseStringArg()
		if err != nil {
			return nil, err
		}
		if !p.matchPunct(",") {
			return nil, errors.Wrap(ErrSyntax, "expected , in internal call")
		}
		group, err := p.parseIntArg()
		if err != nil {
			return nil, err
		}
		if !p.matchPunct(")") {
			return nil, errors.Wrap(ErrSyntax, "expected ) in internal call")
		}
		return &Statement{Kind: KindInternalAddDatabaseShard, Database: db, GroupID: group}, nil

	case "fleetdb_internal.delete_database_shard":
		db, err := p.parseStringArg()
		if err != nil {
			return nil, err
		}
		if !p.matchPunct(")") {
			return nil, errors.Wrap(ErrSyntax, "expected ) in internal call")
		}
		return &Statement{Kind: KindInternalDeleteDatabaseShard, Database: db}, nil

	default:
		return nil, errors.Wrapf(ErrUnsupportedStatement, "SELECT %s", fn)
	}
}

// parser walks the token stream produced by lex.
type parser struct {
	toks []token
	i    int
}

func (p *parser) done() bool {
	return p.i >= len(p.toks)
}

func (p *parser) peek() *token {
	if p.done() {
		return nil
	}
	return &p.toks[p.i]
}

func (p *parser) peekText() string {
	if t := p.peek(); t != nil {
		return t.text
	}
	return ""
}

func (p *parser) next() *token {
	t := p.peek()
	if t != nil {
		p.i++
	}
	return t
}

// matchKeyword consumes the next token if it is the given bare keyword.
func (p *parser) matchKeyword(kw string) bool {
	t := p.peek()
	if t == nil || t.kind != tokIdent || t.quoted || !strings.EqualFold(t.text, kw) {
		return false
	}
	p.i++
	return true
}

func (p *parser) matchPunct(s string) bool {
	t := p.peek()
	if t == nil || t.kind != tokPunct || t.text != s {
		return false
	}
	p.i++
	return true
}

// parseIdentifier consumes one identifier. Bare identifiers fold to lower
// case, quoted identifiers keep their exact spelling.
func (p *parser) parseIdentifier() (string, error) {
	t := p.next()
	if t == nil || t.kind != tokIdent {
		return "", errors.Wrapf(ErrSyntax, "expected identifier, got %q", p.prevText())
	}
	if t.quoted {
		return t.text, nil
	}
	return strings.ToLower(t.text), nil
}

// parseQualifiedName consumes ident(.ident)* and joins the parts with dots.
func (p *parser) parseQualifiedName() (string, error) {
	part, err := p.parseIdentifier()
	if err != nil {
		return "", err
	}
	name := part
	for p.matchPunct(".") {
		if part, err = p.parseIdentifier(); err != nil {
			return "", err
		}
		name += "." + part
	}
	return name, nil
}

func (p *parser) parseOptionValue() (string, error) {
	t := p.next()
	if t == nil {
		return "", errors.Wrap(ErrSyntax, "expected option value")
	}
	switch t.kind {
	case tokString, tokNumber:
		return t.text, nil
	case tokIdent:
		if t.quoted {
			return t.text, nil
		}
		return strings.ToLower(t.text), nil
	default:
		return "", errors.Wrapf(ErrSyntax, "unexpected option value %q", t.text)
	}
}

func (p *parser) parseStringArg() (string, error) {
	t := p.next()
	if t == nil || t.kind != tokString {
		return "", errors.Wrap(ErrSyntax, "expected string argument")
	}
	return t.text, nil
}

func (p *parser) parseIntArg() (int, error) {
	t := p.next()
	if t == nil || t.kind != tokNumber {
		return 0, errors.Wrap(ErrSyntax, "expected integer argument")
	}
	n, err := strconv.Atoi(t.text)
	if err != nil {
		return 0, errors.Wrapf(ErrSyntax, "bad integer %q", t.text)
	}
	return n, nil
}

func (p *parser) expectEnd() error {
	p.matchPunct(";")
	if !p.done() {
		return errors.Wrapf(ErrSyntax, "trailing input at %q", p.peekText())
	}
	return nil
}

func (p *parser) prevText() string {
	if p.i > 0 && p.i <= len(p.toks) {
		return p.toks[p.i-1].text
	}
	return ""
}
