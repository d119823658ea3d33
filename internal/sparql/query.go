package sparql

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/tsunagu/internal/rdf"
)

// PatternTerm is one position of a triple pattern: either a variable or
// a concrete term.
type PatternTerm struct {
	Var  string
	Term rdf.Term
}

// IsVar reports whether the pattern position is a variable.
func (p PatternTerm) IsVar() bool {
	return p.Var != ""
}

// TriplePattern matches facts in the current graph.
type TriplePattern struct {
	Subject   PatternTerm
	Predicate PatternTerm
	Object    PatternTerm
}

// Node is one operator of the query algebra.
type Node interface {
	// patternSize estimates the evaluation weight for default join
	// ordering.
	patternSize() int
}

// BGP is a basic graph pattern: a conjunction of triple patterns
// evaluated with left-to-right binding propagation.
type BGP struct {
	Patterns []TriplePattern
}

func (b *BGP) patternSize() int { return len(b.Patterns) }

// Join sequences two operands. Forced joins keep their order; default
// joins may be swapped by the optimizer.
type Join struct {
	Left   Node
	Right  Node
	Forced bool
}

func (j *Join) patternSize() int { return j.Left.patternSize() + j.Right.patternSize() }

// Union concatenates the solutions of both operands.
type Union struct {
	Left  Node
	Right Node
}

func (u *Union) patternSize() int { return u.Left.patternSize() + u.Right.patternSize() }

// Graph evaluates its body against a named graph instead of the
// default graph.
type Graph struct {
	Target rdf.Term
	Body   Node
}

func (g *Graph) patternSize() int { return g.Body.patternSize() }

// Service delegates its body to a remote agent. The target is either a
// fixed IRI or a variable resolved per input solution. Raw preserves
// the original pattern text for the wire.
type Service struct {
	Target    string
	TargetVar string
	Raw       string
	Body      Node
}

func (s *Service) patternSize() int { return 1 }

// Values joins inline solution rows into the evaluation.
type Values struct {
	Vars []string
	Rows [][]rdf.Term
}

func (v *Values) patternSize() int { return 0 }

// Filter keeps solutions whose variable equals the given term.
type Filter struct {
	Var  string
	Term rdf.Term
}

func (f *Filter) patternSize() int { return 0 }

// Query is a parsed SELECT query.
type Query struct {
	Prefixes   map[string]string
	Projection []string // nil means *
	Where      Node
}

// Parse reads a query of the supported SPARQL subset: PREFIX
// declarations and a SELECT over basic graph patterns, GRAPH, SERVICE,
// UNION and equality FILTER clauses.
func Parse(text string) (*Query, error) {
	p := &parser{src: text, tokens: tokenize(text)}
	q := &Query{Prefixes: make(map[string]string)}

	for p.peek().kind == tokenKeyword && strings.EqualFold(p.peek().text, "PREFIX") {
		p.next()
		name := p.next()
		iri := p.next()
		if !strings.HasSuffix(name.text, ":") || iri.kind != tokenIRI {
			return nil, fmt.Errorf("%w: malformed PREFIX declaration", ErrBadRequest)
		}
		q.Prefixes[name.text] = iri.text
	}

	if kw := p.next(); kw.kind != tokenKeyword || !strings.EqualFold(kw.text, "SELECT") {
		return nil, fmt.Errorf("%w: only SELECT queries are supported", ErrBadRequest)
	}
	for {
		t := p.peek()
		if t.kind == tokenStar {
			p.next()
			break
		}
		if t.kind == tokenVar {
			q.Projection = append(q.Projection, p.next().text)
			continue
		}
		break
	}
	if kw := p.peek(); kw.kind == tokenKeyword && strings.EqualFold(kw.text, "WHERE") {
		p.next()
	}

	where, err := p.parseGroup(q.Prefixes)
	if err != nil {
		return nil, err
	}
	q.Where = where

	if t := p.peek(); t.kind != tokenEOF {
		return nil, fmt.Errorf("%w: unexpected trailing %q", ErrBadRequest, t.text)
	}
	return q, nil
}

// Variables returns the projection, or all variables of the pattern
// tree for a SELECT *.
func (q *Query) Variables() []string {
	if q.Projection != nil {
		return q.Projection
	}
	var vars []string
	seen := make(map[string]bool)
	var walk func(Node)
	collect := func(p PatternTerm) {
		if p.IsVar() && !seen[p.Var] {
			seen[p.Var] = true
			vars = append(vars, p.Var)
		}
	}
	walk = func(n Node) {
		switch node := n.(type) {
		case *BGP:
			for _, pattern := range node.Patterns {
				collect(pattern.Subject)
				collect(pattern.Predicate)
				collect(pattern.Object)
			}
		case *Join:
			walk(node.Left)
			walk(node.Right)
		case *Union:
			walk(node.Left)
			walk(node.Right)
		case *Graph:
			walk(node.Body)
		case *Service:
			if node.TargetVar != "" {
				collect(PatternTerm{Var: node.TargetVar})
			}
			if node.Body != nil {
				walk(node.Body)
			}
		case *Values:
			for _, name := range node.Vars {
				collect(PatternTerm{Var: name})
			}
		}
	}
	walk(q.Where)
	return vars
}

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenKeyword
	tokenVar
	tokenIRI
	tokenLiteral
	tokenPrefixed
	tokenOpenBrace
	tokenCloseBrace
	tokenOpenParen
	tokenCloseParen
	tokenDot
	tokenStar
	tokenEquals
)

type token struct {
	kind  tokenKind
	text  string
	start int
	end   int
}

var keywords = map[string]bool{
	"SELECT": true, "WHERE": true, "PREFIX": true,
	"GRAPH": true, "SERVICE": true, "UNION": true, "FILTER": true,
	"VALUES": true,
}

func tokenize(src string) []token {
	var tokens []token
	i := 0
	emit := func(kind tokenKind, start, end int) {
		tokens = append(tokens, token{kind: kind, text: src[start:end], start: start, end: end})
	}
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '{':
			emit(tokenOpenBrace, i, i+1)
			i++
		case c == '}':
			emit(tokenCloseBrace, i, i+1)
			i++
		case c == '(':
			emit(tokenOpenParen, i, i+1)
			i++
		case c == ')':
			emit(tokenCloseParen, i, i+1)
			i++
		case c == '.':
			emit(tokenDot, i, i+1)
			i++
		case c == '*':
			emit(tokenStar, i, i+1)
			i++
		case c == '=':
			emit(tokenEquals, i, i+1)
			i++
		case c == '?' || c == '$':
			start := i + 1
			i = start
			for i < len(src) && isNameByte(src[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokenVar, text: src[start:i], start: start - 1, end: i})
		case c == '<':
			end := strings.IndexByte(src[i:], '>')
			if end < 0 {
				tokens = append(tokens, token{kind: tokenIRI, text: src[i+1:], start: i, end: len(src)})
				i = len(src)
				break
			}
			tokens = append(tokens, token{kind: tokenIRI, text: src[i+1 : i+end], start: i, end: i + end + 1})
			i += end + 1
		case c == '"':
			end := strings.IndexByte(src[i+1:], '"')
			if end < 0 {
				tokens = append(tokens, token{kind: tokenLiteral, text: src[i+1:], start: i, end: len(src)})
				i = len(src)
				break
			}
			stop := i + end + 2
			// keep an attached datatype annotation
			for stop < len(src) && !isDelimiterByte(src[stop]) {
				stop++
			}
			tokens = append(tokens, token{kind: tokenLiteral, text: src[i:stop], start: i, end: stop})
			i = stop
		default:
			start := i
			for i < len(src) && !isDelimiterByte(src[i]) {
				i++
			}
			word := src[start:i]
			if keywords[strings.ToUpper(word)] {
				emit(tokenKeyword, start, i)
			} else {
				emit(tokenPrefixed, start, i)
			}
		}
	}
	tokens = append(tokens, token{kind: tokenEOF, start: len(src), end: len(src)})
	return tokens
}

func isNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

func isDelimiterByte(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '{', '}', '(', ')', ';', ',', '=':
		return true
	default:
		return false
	}
}

type parser struct {
	src    string
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

// parseGroup reads a brace-delimited group and folds its elements into
// a left-associated join tree.
func (p *parser) parseGroup(prefixes map[string]string) (Node, error) {
	if t := p.next(); t.kind != tokenOpenBrace {
		return nil, fmt.Errorf("%w: expected '{', got %q", ErrBadRequest, t.text)
	}

	var result Node
	var pending *BGP
	attach := func(n Node) {
		if pending != nil {
			result = join(result, pending)
			pending = nil
		}
		result = join(result, n)
	}

	for {
		t := p.peek()
		switch {
		case t.kind == tokenEOF:
			return nil, fmt.Errorf("%w: unterminated group", ErrBadRequest)

		case t.kind == tokenCloseBrace:
			p.next()
			if pending != nil {
				result = join(result, pending)
			}
			if result == nil {
				result = &BGP{}
			}
			return result, nil

		case t.kind == tokenKeyword && strings.EqualFold(t.text, "GRAPH"):
			p.next()
			target, err := p.parseTerm(prefixes)
			if err != nil {
				return nil, err
			}
			body, err := p.parseGroup(prefixes)
			if err != nil {
				return nil, err
			}
			attach(&Graph{Target: target, Body: body})

		case t.kind == tokenKeyword && strings.EqualFold(t.text, "SERVICE"):
			p.next()
			target := p.next()
			if target.kind != tokenIRI && target.kind != tokenVar {
				return nil, fmt.Errorf("%w: SERVICE target must be an IRI or a variable", ErrBadRequest)
			}
			open := p.peek()
			body, err := p.parseGroup(prefixes)
			if err != nil {
				return nil, err
			}
			closeBrace := p.tokens[p.pos-1]
			service := &Service{
				Raw:  strings.TrimSpace(p.src[open.end:closeBrace.start]),
				Body: body,
			}
			if target.kind == tokenVar {
				service.TargetVar = target.text
			} else {
				service.Target = target.text
			}
			attach(service)

		case t.kind == tokenKeyword && strings.EqualFold(t.text, "VALUES"):
			p.next()
			values, err := p.parseValues(prefixes)
			if err != nil {
				return nil, err
			}
			attach(values)

		case t.kind == tokenKeyword && strings.EqualFold(t.text, "FILTER"):
			p.next()
			filter, err := p.parseFilter(prefixes)
			if err != nil {
				return nil, err
			}
			attach(filter)

		case t.kind == tokenOpenBrace:
			branch, err := p.parseGroup(prefixes)
			if err != nil {
				return nil, err
			}
			for p.peek().kind == tokenKeyword && strings.EqualFold(p.peek().text, "UNION") {
				p.next()
				right, err := p.parseGroup(prefixes)
				if err != nil {
					return nil, err
				}
				branch = &Union{Left: branch, Right: right}
			}
			attach(branch)

		case t.kind == tokenDot:
			p.next()

		default:
			pattern, err := p.parseTriple(prefixes)
			if err != nil {
				return nil, err
			}
			if pending == nil {
				pending = &BGP{}
			}
			pending.Patterns = append(pending.Patterns, pattern)
		}
	}
}

func join(left, right Node) Node {
	if left == nil {
		return right
	}
	return &Join{Left: left, Right: right}
}

func (p *parser) parseTriple(prefixes map[string]string) (TriplePattern, error) {
	subject, err := p.parsePatternTerm(prefixes)
	if err != nil {
		return TriplePattern{}, err
	}
	predicate, err := p.parsePatternTerm(prefixes)
	if err != nil {
		return TriplePattern{}, err
	}
	object, err := p.parsePatternTerm(prefixes)
	if err != nil {
		return TriplePattern{}, err
	}
	return TriplePattern{Subject: subject, Predicate: predicate, Object: object}, nil
}

func (p *parser) parsePatternTerm(prefixes map[string]string) (PatternTerm, error) {
	t := p.peek()
	if t.kind == tokenVar {
		p.next()
		return PatternTerm{Var: t.text}, nil
	}
	term, err := p.parseTerm(prefixes)
	if err != nil {
		return PatternTerm{}, err
	}
	return PatternTerm{Term: term}, nil
}

func (p *parser) parseTerm(prefixes map[string]string) (rdf.Term, error) {
	t := p.next()
	switch t.kind {
	case tokenIRI:
		return rdf.IRI(t.text), nil
	case tokenLiteral:
		return rdf.ParseTerm(t.text, prefixes), nil
	case tokenPrefixed:
		if t.text == "a" {
			return rdf.IRI("http://www.w3.org/1999/02/22-rdf-syntax-ns#type"), nil
		}
		return rdf.ParseTerm(t.text, prefixes), nil
	default:
		return rdf.Term{}, fmt.Errorf("%w: expected a term, got %q", ErrBadRequest, t.text)
	}
}

// parseValues reads "VALUES ( ?var... ) { ( term... )* }".
func (p *parser) parseValues(prefixes map[string]string) (*Values, error) {
	if t := p.next(); t.kind != tokenOpenParen {
		return nil, fmt.Errorf("%w: expected '(' after VALUES", ErrBadRequest)
	}
	values := &Values{}
	for p.peek().kind == tokenVar {
		values.Vars = append(values.Vars, p.next().text)
	}
	if t := p.next(); t.kind != tokenCloseParen {
		return nil, fmt.Errorf("%w: expected ')' to close the VALUES variables", ErrBadRequest)
	}
	if t := p.next(); t.kind != tokenOpenBrace {
		return nil, fmt.Errorf("%w: expected '{' to open the VALUES rows", ErrBadRequest)
	}
	for p.peek().kind == tokenOpenParen {
		p.next()
		var row []rdf.Term
		for p.peek().kind != tokenCloseParen {
			term, err := p.parseTerm(prefixes)
			if err != nil {
				return nil, err
			}
			row = append(row, term)
		}
		p.next()
		if len(row) != len(values.Vars) {
			return nil, fmt.Errorf("%w: VALUES row width %d does not match %d variables", ErrBadRequest, len(row), len(values.Vars))
		}
		values.Rows = append(values.Rows, row)
	}
	if t := p.next(); t.kind != tokenCloseBrace {
		return nil, fmt.Errorf("%w: expected '}' to close the VALUES rows", ErrBadRequest)
	}
	return values, nil
}

// parseFilter reads "FILTER ( ?var = term )".
func (p *parser) parseFilter(prefixes map[string]string) (*Filter, error) {
	if t := p.next(); t.kind != tokenOpenParen {
		return nil, fmt.Errorf("%w: expected '(' after FILTER", ErrBadRequest)
	}
	v := p.next()
	if v.kind != tokenVar {
		return nil, fmt.Errorf("%w: FILTER supports only variable comparisons", ErrBadRequest)
	}
	if t := p.next(); t.kind != tokenEquals {
		return nil, fmt.Errorf("%w: FILTER supports only equality", ErrBadRequest)
	}
	term, err := p.parseTerm(prefixes)
	if err != nil {
		return nil, err
	}
	if t := p.next(); t.kind != tokenCloseParen {
		return nil, fmt.Errorf("%w: expected ')' to close FILTER", ErrBadRequest)
	}
	return &Filter{Var: v.text, Term: term}, nil
}
