package sparql

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashita-ai/tsunagu/internal/model"
	"github.com/ashita-ai/tsunagu/internal/rdf"
)

// Binding maps variable names onto concrete terms.
type Binding map[string]rdf.Term

// Federator dispatches a SERVICE pattern to a remote agent with the
// already-bound input solutions and returns the remote solutions.
type Federator interface {
	Call(ctx context.Context, target, pattern string, input []Binding) ([]Binding, []model.Warning, error)
}

// Engine evaluates parsed queries against the quad store.
type Engine struct {
	store  rdf.Store
	fed    Federator
	logger *slog.Logger
}

// NewEngine creates an engine. The federator may be nil when SERVICE
// patterns are not expected.
func NewEngine(store rdf.Store, fed Federator, logger *slog.Logger) *Engine {
	return &Engine{store: store, fed: fed, logger: logger}
}

// Eval optimizes and evaluates a query. It returns the projected
// variables, the solution rows, and the warnings accumulated during
// federation.
func (e *Engine) Eval(ctx context.Context, q *Query) ([]string, []Binding, []model.Warning, error) {
	exec := &execution{}
	rows, err := e.eval(ctx, exec, Optimize(q.Where), e.store.DefaultGraph(), []Binding{{}})
	if err != nil {
		return nil, nil, exec.warnings, err
	}

	variables := q.Variables()
	projected := make([]Binding, 0, len(rows))
	for _, row := range rows {
		out := make(Binding, len(variables))
		for _, name := range variables {
			if term, ok := row[name]; ok {
				out[name] = term
			}
		}
		projected = append(projected, out)
	}
	return variables, projected, exec.warnings, nil
}

// execution carries the per-query warning accumulator.
type execution struct {
	warnings []model.Warning
}

func (e *Engine) eval(ctx context.Context, exec *execution, node Node, graph rdf.Term, input []Binding) ([]Binding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch n := node.(type) {
	case *BGP:
		return e.evalBGP(ctx, n, graph, input)

	case *Join:
		left, err := e.eval(ctx, exec, n.Left, graph, input)
		if err != nil {
			return nil, err
		}
		if len(left) == 0 {
			return nil, nil
		}
		return e.eval(ctx, exec, n.Right, graph, left)

	case *Union:
		left, err := e.eval(ctx, exec, n.Left, graph, input)
		if err != nil {
			return nil, err
		}
		right, err := e.eval(ctx, exec, n.Right, graph, input)
		if err != nil {
			return nil, err
		}
		return append(left, right...), nil

	case *Graph:
		return e.eval(ctx, exec, n.Body, rdf.AssetGraph(n.Target.Value), input)

	case *Service:
		if e.fed == nil {
			return nil, fmt.Errorf("sparql: no federator configured for SERVICE <%s>", n.Target)
		}
		return e.evalService(ctx, exec, n, input)

	case *Values:
		rows := make([]Binding, 0, len(n.Rows))
		for _, row := range n.Rows {
			binding := make(Binding, len(n.Vars))
			for i, name := range n.Vars {
				binding[name] = row[i]
			}
			rows = append(rows, binding)
		}
		return joinBindings(input, rows), nil

	case *Filter:
		var kept []Binding
		for _, b := range input {
			if term, ok := b[n.Var]; ok && equalTerms(term, n.Term) {
				kept = append(kept, b)
			}
		}
		return kept, nil

	default:
		return nil, fmt.Errorf("sparql: unsupported algebra node %T", node)
	}
}

// evalService dispatches a federation call. A variable target resolves
// per input solution; solutions sharing a target are bundled into one
// call so repeated calls to a remote never go out one-by-one.
func (e *Engine) evalService(ctx context.Context, exec *execution, svc *Service, input []Binding) ([]Binding, error) {
	if svc.TargetVar == "" {
		out, warnings, err := e.fed.Call(ctx, svc.Target, svc.Raw, input)
		exec.warnings = append(exec.warnings, warnings...)
		if err != nil {
			return nil, err
		}
		return joinBindings(input, out), nil
	}

	groups := make(map[string][]Binding)
	var order []string
	for _, binding := range input {
		target, ok := binding[svc.TargetVar]
		if !ok {
			return nil, fmt.Errorf("%w: service target ?%s is unbound", ErrBadRequest, svc.TargetVar)
		}
		if _, seen := groups[target.Value]; !seen {
			order = append(order, target.Value)
		}
		groups[target.Value] = append(groups[target.Value], binding)
	}

	var out []Binding
	for _, target := range order {
		remote, warnings, err := e.fed.Call(ctx, target, svc.Raw, groups[target])
		exec.warnings = append(exec.warnings, warnings...)
		if err != nil {
			return nil, err
		}
		out = append(out, joinBindings(groups[target], remote)...)
	}
	return out, nil
}

// evalBGP matches each pattern in sequence, every match narrowing the
// solutions carried forward.
func (e *Engine) evalBGP(ctx context.Context, bgp *BGP, graph rdf.Term, input []Binding) ([]Binding, error) {
	solutions := input
	for _, pattern := range bgp.Patterns {
		var next []Binding
		for _, binding := range solutions {
			matches, err := e.matchPattern(ctx, pattern, graph, binding)
			if err != nil {
				return nil, err
			}
			next = append(next, matches...)
		}
		solutions = next
		if len(solutions) == 0 {
			return nil, nil
		}
	}
	return solutions, nil
}

func (e *Engine) matchPattern(ctx context.Context, pattern TriplePattern, graph rdf.Term, binding Binding) ([]Binding, error) {
	probe := rdf.Quad{
		Graph:     graph,
		Subject:   resolve(pattern.Subject, binding),
		Predicate: resolve(pattern.Predicate, binding),
		Object:    resolve(pattern.Object, binding),
	}
	quads, err := e.store.Find(ctx, probe)
	if err != nil {
		return nil, fmt.Errorf("sparql: find: %w", err)
	}

	var out []Binding
	for _, quad := range quads {
		extended := extend(binding, pattern, quad)
		if extended != nil {
			out = append(out, extended)
		}
	}
	return out, nil
}

// resolve turns a pattern position into a find term: bound variables
// and constants become concrete, unbound variables the wildcard.
func resolve(p PatternTerm, binding Binding) rdf.Term {
	if !p.IsVar() {
		return p.Term
	}
	if term, ok := binding[p.Var]; ok {
		return term
	}
	return rdf.Any
}

// extend adds the quad's values for the pattern's unbound variables.
// Returns nil when a variable would need two different values.
func extend(binding Binding, pattern TriplePattern, quad rdf.Quad) Binding {
	out := make(Binding, len(binding)+3)
	for name, term := range binding {
		out[name] = term
	}
	positions := []struct {
		p PatternTerm
		t rdf.Term
	}{
		{pattern.Subject, quad.Subject},
		{pattern.Predicate, quad.Predicate},
		{pattern.Object, quad.Object},
	}
	for _, pos := range positions {
		if !pos.p.IsVar() {
			continue
		}
		if bound, ok := out[pos.p.Var]; ok {
			if bound != pos.t {
				return nil
			}
			continue
		}
		out[pos.p.Var] = pos.t
	}
	return out
}

// joinBindings combines remote solutions with their inputs: solutions
// compatible with an input row merge with it, contradictory pairs drop.
func joinBindings(input, remote []Binding) []Binding {
	if len(input) == 1 && len(input[0]) == 0 {
		return remote
	}
	var out []Binding
	for _, in := range input {
		for _, r := range remote {
			if merged, ok := mergeBindings(in, r); ok {
				out = append(out, merged)
			}
		}
	}
	return out
}

func mergeBindings(a, b Binding) (Binding, bool) {
	out := make(Binding, len(a)+len(b))
	for name, term := range a {
		out[name] = term
	}
	for name, term := range b {
		if bound, ok := out[name]; ok && bound != term {
			return nil, false
		}
		out[name] = term
	}
	return out, true
}

// equalTerms compares by value, tolerating a missing kind or datatype
// on either side so literal filters match typed store terms.
func equalTerms(a, b rdf.Term) bool {
	if a == b {
		return true
	}
	return a.Value == b.Value && (a.Datatype == "" || b.Datatype == "" || a.Datatype == b.Datatype)
}
