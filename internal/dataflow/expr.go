// Package dataflow evaluates guarded rules over store state and drives
// derived events to a fixpoint.
//
// Conditions and value expressions are a small explicit AST compiled from
// the rule text, never dynamically evaluated code. The grammar covers
// projected-state access ($.field), literals, comparison and logical
// operators, and the $EQ/$NE/$GT/$LT/$GE/$LE/$AND/$OR operator-call
// sugar, which compiles to the native operators.
package dataflow

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Expr is a compiled expression. Eval never fails: any evaluation error
// yields nil, which callers treat as "no value" / condition false.
type Expr interface {
	Eval(state map[string]any) any
}

// ParseExpr compiles expression text. A rule that does not parse is a
// schema bug, so parse failures are returned as errors rather than
// swallowed like evaluation failures.
func ParseExpr(src string) (Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, fmt.Errorf("parse %q: unexpected %q", src, p.peek().text)
	}
	return e, nil
}

// Evaluate is the one-shot helper: parse + eval, nil on any failure.
func Evaluate(src string, state map[string]any) any {
	e, err := ParseExpr(src)
	if err != nil {
		return nil
	}
	return e.Eval(state)
}

// Truthy is the condition interpretation of a value: false for nil,
// false, zero and "", true otherwise.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case int:
		return val != 0
	case int64:
		return val != 0
	case string:
		return val != ""
	default:
		return true
	}
}

// --- AST ---

type literal struct{ val any }

func (l literal) Eval(map[string]any) any { return l.val }

// field is a $.a.b projection into the state map.
type field struct{ path []string }

func (f field) Eval(state map[string]any) any {
	var cur any = state
	for _, name := range f.path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[name]
	}
	return cur
}

type unary struct {
	op string
	x  Expr
}

func (u unary) Eval(state map[string]any) any {
	switch u.op {
	case "!":
		return !Truthy(u.x.Eval(state))
	case "-":
		if n, ok := toNumber(u.x.Eval(state)); ok {
			return -n
		}
		return nil
	}
	return nil
}

type binary struct {
	op   string
	l, r Expr
}

func (b binary) Eval(state map[string]any) any {
	switch b.op {
	case "&&":
		return Truthy(b.l.Eval(state)) && Truthy(b.r.Eval(state))
	case "||":
		return Truthy(b.l.Eval(state)) || Truthy(b.r.Eval(state))
	}

	lv := b.l.Eval(state)
	rv := b.r.Eval(state)
	switch b.op {
	case "==":
		return equal(lv, rv)
	case "!=":
		return !equal(lv, rv)
	case ">", "<", ">=", "<=":
		return order(b.op, lv, rv)
	}
	return nil
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if an, ok := toNumber(a); ok {
		if bn, ok := toNumber(b); ok {
			return an == bn
		}
		return false
	}
	return a == b
}

// order compares numbers or strings; anything else yields nil.
func order(op string, a, b any) any {
	if an, aok := toNumber(a); aok {
		bn, bok := toNumber(b)
		if !bok {
			return nil
		}
		return applyOrder(op, an < bn, an == bn)
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if !aok || !bok {
		return nil
	}
	return applyOrder(op, as < bs, as == bs)
}

func applyOrder(op string, less, eq bool) bool {
	switch op {
	case "<":
		return less
	case "<=":
		return less || eq
	case ">":
		return !less && !eq
	case ">=":
		return !less
	}
	return false
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// --- lexer ---

type token struct {
	kind string // "field", "num", "str", "ident", "op"
	text string
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '$' && i+1 < len(src) && src[i+1] == '.':
			j := i + 2
			for j < len(src) && isIdentChar(src[j]) {
				j++
			}
			// Nested access: $.a.b
			for j < len(src) && src[j] == '.' && j+1 < len(src) && isIdentStart(src[j+1]) {
				j++
				for j < len(src) && isIdentChar(src[j]) {
					j++
				}
			}
			if j == i+2 {
				return nil, fmt.Errorf("lex %q: empty field reference", src)
			}
			toks = append(toks, token{"field", src[i+2 : j]})
			i = j

		case c == '$':
			j := i + 1
			for j < len(src) && isIdentChar(src[j]) {
				j++
			}
			toks = append(toks, token{"ident", src[i:j]})
			i = j

		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			var sb strings.Builder
			for j < len(src) && src[j] != quote {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				sb.WriteByte(src[j])
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("lex %q: unterminated string", src)
			}
			toks = append(toks, token{"str", sb.String()})
			i = j + 1

		case c >= '0' && c <= '9':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			toks = append(toks, token{"num", src[i:j]})
			i = j

		case isIdentStart(c):
			j := i
			for j < len(src) && isIdentChar(src[j]) {
				j++
			}
			toks = append(toks, token{"ident", src[i:j]})
			i = j

		case strings.ContainsRune("=!<>&|", rune(c)):
			j := i + 1
			if j < len(src) && strings.ContainsRune("=&|", rune(src[j])) {
				j++
			}
			toks = append(toks, token{"op", src[i:j]})
			i = j

		case c == '(' || c == ')' || c == ',':
			toks = append(toks, token{"op", string(c)})
			i++

		case c == '-':
			toks = append(toks, token{"op", "-"})
			i++

		default:
			return nil, fmt.Errorf("lex %q: unexpected character %q", src, c)
		}
	}
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c))
}

func isIdentChar(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))
}

// --- parser ---

type parser struct {
	toks []token
	pos  int
}

func (p *parser) atEnd() bool    { return p.pos >= len(p.toks) }
func (p *parser) peek() token    { return p.toks[p.pos] }
func (p *parser) advance() token { t := p.toks[p.pos]; p.pos++; return t }

func (p *parser) accept(kind, text string) bool {
	if p.atEnd() || p.peek().kind != kind || p.peek().text != text {
		return false
	}
	p.pos++
	return true
}

func (p *parser) expect(kind, text string) error {
	if !p.accept(kind, text) {
		if p.atEnd() {
			return fmt.Errorf("expected %q, got end of expression", text)
		}
		return fmt.Errorf("expected %q, got %q", text, p.peek().text)
	}
	return nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept("op", "||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binary{"||", left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.accept("op", "&&") {
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = binary{"&&", left, right}
	}
	return left, nil
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for _, op := range []string{"==", "!=", "<=", ">=", "<", ">"} {
		if p.accept("op", op) {
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return binary{op, left, right}, nil
		}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.accept("op", "!") {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unary{"!", x}, nil
	}
	if p.accept("op", "-") {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unary{"-", x}, nil
	}
	return p.parsePrimary()
}

// operator-call sugar: $EQ(a, b) compiles to a == b, and so on.
var sugarOps = map[string]string{
	"$EQ":  "==",
	"$NE":  "!=",
	"$GT":  ">",
	"$LT":  "<",
	"$GE":  ">=",
	"$LE":  "<=",
	"$AND": "&&",
	"$OR":  "||",
}

func (p *parser) parsePrimary() (Expr, error) {
	if p.atEnd() {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	t := p.advance()
	switch t.kind {
	case "field":
		return field{path: strings.Split(t.text, ".")}, nil

	case "num":
		n, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q: %w", t.text, err)
		}
		return literal{n}, nil

	case "str":
		return literal{t.text}, nil

	case "ident":
		switch t.text {
		case "true":
			return literal{true}, nil
		case "false":
			return literal{false}, nil
		case "null":
			return literal{nil}, nil
		}
		if op, ok := sugarOps[t.text]; ok {
			if err := p.expect("op", "("); err != nil {
				return nil, err
			}
			a, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expect("op", ","); err != nil {
				return nil, err
			}
			b, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expect("op", ")"); err != nil {
				return nil, err
			}
			return binary{op, a, b}, nil
		}
		return nil, fmt.Errorf("unknown identifier %q", t.text)

	case "op":
		if t.text == "(" {
			e, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if err := p.expect("op", ")"); err != nil {
				return nil, err
			}
			return e, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %q", t.text)
}
