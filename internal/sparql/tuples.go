// Package sparql implements the parameterizable query processor: tuple
// binding, a SPARQL-subset engine over the quad store, the federation
// dispatcher, and skill resolution.
package sparql

import (
	"fmt"
	"sort"
)

// Tuple is one row of named-variable bindings.
type Tuple map[string]string

// Variables returns the bound variable names in sorted order.
func (t Tuple) Variables() []string {
	vars := make([]string, 0, len(t))
	for name := range t {
		vars = append(vars, name)
	}
	sort.Strings(vars)
	return vars
}

// Get returns the value bound to a variable.
func (t Tuple) Get(name string) string {
	return t[name]
}

// TupleSet collects named-variable bindings. Bindings added directly
// apply to every row; merged child sets are alternatives, each
// contributing its own rows extended by the parent's bindings. Sibling
// groups never form a cross product.
type TupleSet struct {
	bindings map[string]string
	children []*TupleSet
}

// NewTupleSet creates an empty tuple set.
func NewTupleSet() *TupleSet {
	return &TupleSet{bindings: make(map[string]string)}
}

// Add binds a variable at this level. Rebinding an already bound
// variable is an error.
func (ts *TupleSet) Add(name, value string) error {
	if ts.HasBinding(name) {
		return fmt.Errorf("%w: variable %q is already bound", ErrBadRequest, name)
	}
	ts.bindings[name] = value
	return nil
}

// HasBinding reports whether the variable is bound at this level or in
// any merged child set.
func (ts *TupleSet) HasBinding(name string) bool {
	if _, ok := ts.bindings[name]; ok {
		return true
	}
	for _, child := range ts.children {
		if child.HasBinding(name) {
			return true
		}
	}
	return false
}

// Merge attaches a child tuple set as an alternative row source.
func (ts *TupleSet) Merge(child *TupleSet) {
	ts.children = append(ts.children, child)
}

// Rows flattens the set into concrete tuples, children in merge order.
// A set without children yields its own bindings as the single row.
func (ts *TupleSet) Rows() []Tuple {
	if len(ts.children) == 0 {
		row := make(Tuple, len(ts.bindings))
		for name, value := range ts.bindings {
			row[name] = value
		}
		return []Tuple{row}
	}
	var rows []Tuple
	for _, child := range ts.children {
		for _, childRow := range child.Rows() {
			row := make(Tuple, len(ts.bindings)+len(childRow))
			for name, value := range ts.bindings {
				row[name] = value
			}
			for name, value := range childRow {
				row[name] = value
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// GetTuples returns the rows binding every requested variable,
// projected onto exactly those variables.
func (ts *TupleSet) GetTuples(variables ...string) []Tuple {
	var tuples []Tuple
rows:
	for _, row := range ts.Rows() {
		projected := make(Tuple, len(variables))
		for _, name := range variables {
			value, ok := row[name]
			if !ok {
				continue rows
			}
			projected[name] = value
		}
		tuples = append(tuples, projected)
	}
	return tuples
}
