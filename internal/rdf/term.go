// Package rdf provides the quad (graph-fact) data model, a transactional
// store interface with an in-memory implementation, and importers for the
// supported external serializations (line-oriented turtle and CSV).
package rdf

import (
	"fmt"
	"strings"
)

// TermKind distinguishes the syntactic categories of a Term.
type TermKind int

const (
	// KindAny is the zero value and acts as a wildcard in find patterns.
	KindAny TermKind = iota
	KindIRI
	KindLiteral
)

// Term is one position of a quad: an IRI, a literal (optionally typed),
// or the wildcard used in find patterns. Terms are comparable and can be
// used as map keys.
type Term struct {
	Kind     TermKind
	Value    string
	Datatype string // optional datatype IRI for literals
}

// Any is the wildcard term matching every term in a find pattern.
var Any = Term{}

// IRI returns an IRI term.
func IRI(value string) Term {
	return Term{Kind: KindIRI, Value: value}
}

// Literal returns a plain literal term.
func Literal(value string) Term {
	return Term{Kind: KindLiteral, Value: value}
}

// TypedLiteral returns a literal term with a datatype annotation.
func TypedLiteral(value, datatype string) Term {
	return Term{Kind: KindLiteral, Value: value, Datatype: datatype}
}

// IsAny reports whether the term is the find-pattern wildcard.
func (t Term) IsAny() bool {
	return t.Kind == KindAny
}

// Matches reports whether the term matches the given pattern term.
// A wildcard pattern matches everything.
func (t Term) Matches(pattern Term) bool {
	return pattern.IsAny() || t == pattern
}

// String renders the term in a turtle-like syntax.
func (t Term) String() string {
	switch t.Kind {
	case KindIRI:
		return "<" + t.Value + ">"
	case KindLiteral:
		if t.Datatype != "" {
			return fmt.Sprintf("%q^^<%s>", t.Value, t.Datatype)
		}
		return fmt.Sprintf("%q", t.Value)
	default:
		return "ANY"
	}
}

// Quad is a single graph fact: a triple scoped into a named graph.
// A Quad with wildcard components doubles as a find pattern.
type Quad struct {
	Graph     Term
	Subject   Term
	Predicate Term
	Object    Term
}

// Matches reports whether the quad matches the given pattern quad.
func (q Quad) Matches(pattern Quad) bool {
	return q.Graph.Matches(pattern.Graph) &&
		q.Subject.Matches(pattern.Subject) &&
		q.Predicate.Matches(pattern.Predicate) &&
		q.Object.Matches(pattern.Object)
}

// String renders the quad in a turtle-like syntax.
func (q Quad) String() string {
	return fmt.Sprintf("%s %s %s %s .", q.Graph, q.Subject, q.Predicate, q.Object)
}

// ParseTerm parses a turtle-like object snippet into a term:
// angle-bracketed values become IRIs, quoted values plain literals,
// "value^^type" typed literals, and prefixed names (looked up in the
// given prefix table) namespace-expanded IRIs. Anything else is kept
// as a plain literal.
func ParseTerm(raw string, prefixes map[string]string) Term {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "<") && strings.HasSuffix(raw, ">"):
		return IRI(raw[1 : len(raw)-1])
	case strings.HasPrefix(raw, "\"") && strings.HasSuffix(raw, "\"") && len(raw) >= 2:
		return Literal(raw[1 : len(raw)-1])
	case strings.Contains(raw, "^^"):
		idx := strings.Index(raw, "^^")
		value := strings.Trim(raw[:idx], "\"")
		datatype := strings.Trim(raw[idx+2:], "<>")
		return TypedLiteral(value, datatype)
	}
	for prefix, namespace := range prefixes {
		if strings.HasPrefix(raw, prefix) {
			return IRI(namespace + raw[len(prefix):])
		}
	}
	return Literal(raw)
}
