// Package search parses record filter queries such as
// `prediction:malicious score>0.9 -time<now-1h` and evaluates them against
// log records on the client.
package search

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrSyntax is returned for malformed queries.
	ErrSyntax = errors.New("invalid query")
	// ErrUnknownField is returned when a query names a field records do not have.
	ErrUnknownField = errors.New("unknown field")
	// ErrHiddenField is returned when a query names a field the viewer may not see.
	ErrHiddenField = errors.New("field not visible")
)

// Operator is a field comparison.
type Operator string

const (
	OpEquals      Operator = "="
	OpNotEquals   Operator = "!="
	OpGreater     Operator = ">"
	OpGreaterEq   Operator = ">="
	OpLess        Operator = "<"
	OpLessEq      Operator = "<="
	OpContains    Operator = "~"
	OpNotContains Operator = "!~"
)

// operators in match order: two-character spellings first.
var operators = []struct {
	text string
	op   Operator
}{
	{">=", OpGreaterEq},
	{"<=", OpLessEq},
	{"!=", OpNotEquals},
	{"!~", OpNotContains},
	{":", OpEquals},
	{"=", OpEquals},
	{">", OpGreater},
	{"<", OpLess},
	{"~", OpContains},
}

const maxDepth = 32

type kind uint8

const (
	kindEOF kind = iota
	kindWord
	kindField
	kindOp
	kindAnd
	kindOr
	kindNot
	kindOpen
	kindClose
)

var kindNames = [...]string{"end", "word", "field", "operator", "AND", "OR", "NOT", "(", ")"}

func (k kind) String() string { return kindNames[k] }

type token struct {
	kind kind
	text string
	pos  int // byte offset in the query
}

func syntaxErr(t token, format string, args ...any) error {
	return fmt.Errorf("%w: %s at column %d", ErrSyntax, fmt.Sprintf(format, args...), t.pos+1)
}

// tokenize splits q into tokens ending with kindEOF. A word directly
// followed by an operator becomes a field.
func tokenize(q string) ([]token, error) {
	var toks []token
	i := 0
	for {
		for i < len(q) {
			r, w := utf8.DecodeRuneInString(q[i:])
			if !unicode.IsSpace(r) {
				break
			}
			i += w
		}
		if i >= len(q) {
			break
		}

		start := i
		switch c := q[i]; {
		case c == '(':
			toks = append(toks, token{kindOpen, "(", start})
			i++
		case c == ')':
			toks = append(toks, token{kindClose, ")", start})
			i++
		case c == '-' && negates(q, i):
			toks = append(toks, token{kindNot, "-", start})
			i++
		case c == '"' || c == '\'':
			text, n, ok := unquote(q[i:])
			if !ok {
				return nil, syntaxErr(token{pos: start}, "unterminated quote")
			}
			toks = append(toks, token{kindWord, text, start})
			i += n
		case isOpByte(c):
			op, n := matchOperator(q[i:])
			if n == 0 {
				// a lone '!' negates
				toks = append(toks, token{kindNot, "!", start})
				i++
				break
			}
			toks = append(toks, token{kindOp, string(op), start})
			i += n
		default:
			for i < len(q) {
				r, w := utf8.DecodeRuneInString(q[i:])
				if unicode.IsSpace(r) || r == '(' || r == ')' || (r < utf8.RuneSelf && isOpByte(byte(r))) {
					break
				}
				i += w
			}
			toks = append(toks, word(q[start:i], start))
		}
	}
	toks = append(toks, token{kind: kindEOF, pos: len(q)})

	for j := 0; j+1 < len(toks); j++ {
		if toks[j].kind == kindWord && toks[j+1].kind == kindOp && !quoted(q, toks[j]) {
			toks[j].kind = kindField
		}
	}
	return toks, nil
}

func word(text string, pos int) token {
	switch strings.ToUpper(text) {
	case "AND", "&&":
		return token{kindAnd, text, pos}
	case "OR", "||":
		return token{kindOr, text, pos}
	case "NOT":
		return token{kindNot, text, pos}
	}
	return token{kindWord, text, pos}
}

// negates reports whether the '-' at i starts a negated term rather than a
// value such as "-1".
func negates(q string, i int) bool {
	if i == 0 {
		return true
	}
	prev, _ := utf8.DecodeLastRuneInString(q[:i])
	return unicode.IsSpace(prev) || prev == '('
}

func isOpByte(c byte) bool {
	return strings.IndexByte(":=!<>~", c) >= 0
}

func matchOperator(s string) (Operator, int) {
	for _, o := range operators {
		if strings.HasPrefix(s, o.text) {
			return o.op, len(o.text)
		}
	}
	return "", 0
}

// unquote reads a quoted phrase at the start of s. A backslash escapes the
// closing quote character.
func unquote(s string) (string, int, bool) {
	quote := s[0]
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		switch {
		case s[i] == '\\' && i+1 < len(s) && s[i+1] == quote:
			b.WriteByte(quote)
			i++
		case s[i] == quote:
			return b.String(), i + 1, true
		default:
			b.WriteByte(s[i])
		}
	}
	return "", 0, false
}

func quoted(q string, t token) bool {
	return q[t.pos] == '"' || q[t.pos] == '\''
}

// Node is a parsed query expression.
type Node interface {
	String() string
}

// Condition compares one field against a value.
type Condition struct {
	Field    string
	Operator Operator
	Value    string
}

func (c *Condition) String() string {
	return c.Field + string(c.Operator) + fmt.Sprintf("%q", c.Value)
}

// Term is a bare word or phrase matched against the event text.
type Term struct {
	Value string
}

func (t *Term) String() string { return fmt.Sprintf("%q", t.Value) }

// And matches when both sides match.
type And struct{ Left, Right Node }

func (a *And) String() string { return binary(a.Left, "AND", a.Right) }

// Or matches when either side matches.
type Or struct{ Left, Right Node }

func (o *Or) String() string { return binary(o.Left, "OR", o.Right) }

// Not inverts its operand.
type Not struct{ Operand Node }

func (n *Not) String() string { return "NOT " + n.Operand.String() }

func binary(l Node, op string, r Node) string {
	return "(" + l.String() + " " + op + " " + r.String() + ")"
}

// ParseQuery returns the expression for query, or nil when it is blank.
// Adjacent terms are joined with AND, and AND binds tighter than OR.
func ParseQuery(query string) (Node, error) {
	toks, err := tokenize(query)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.peek().kind == kindEOF {
		return nil, nil
	}
	n, err := p.or()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != kindEOF {
		return nil, syntaxErr(t, "unexpected %q", t.text)
	}
	return n, nil
}

type parser struct {
	toks  []token
	i     int
	depth int
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != kindEOF {
		p.i++
	}
	return t
}

func (p *parser) or() (Node, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == kindOr {
		p.next()
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = &Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) and() (Node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case kindAnd:
			p.next()
		case kindWord, kindField, kindNot, kindOpen:
			// implicit AND
		default:
			return left, nil
		}
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &And{Left: left, Right: right}
	}
}

func (p *parser) unary() (Node, error) {
	if p.peek().kind != kindNot {
		return p.primary()
	}
	p.next()
	operand, err := p.unary()
	if err != nil {
		return nil, err
	}
	return &Not{Operand: operand}, nil
}

func (p *parser) primary() (Node, error) {
	t := p.next()
	switch t.kind {
	case kindOpen:
		if p.depth == maxDepth {
			return nil, syntaxErr(t, "nested too deeply")
		}
		p.depth++
		n, err := p.or()
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != kindClose {
			return nil, syntaxErr(c, "missing )")
		}
		p.depth--
		return n, nil

	case kindField:
		op := p.next()
		v := p.next()
		if v.kind != kindWord && v.kind != kindField {
			return nil, syntaxErr(v, "%s%s needs a value", t.text, op.text)
		}
		return &Condition{Field: strings.ToLower(t.text), Operator: Operator(op.text), Value: v.text}, nil

	case kindWord:
		return &Term{Value: t.text}, nil

	case kindEOF:
		return nil, syntaxErr(t, "unexpected end of query")
	}
	return nil, syntaxErr(t, "unexpected %s", t.kind)
}
