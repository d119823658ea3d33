package sparql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tsunagu/internal/rdf"
)

func TestParseBasicGraphPattern(t *testing.T) {
	q, err := Parse(`PREFIX ex: <http://example.com/>
		SELECT ?s ?o WHERE { ?s ex:knows ?o . ?o a ex:Person }`)
	require.NoError(t, err)

	assert.Equal(t, []string{"s", "o"}, q.Projection)
	bgp, ok := q.Where.(*BGP)
	require.True(t, ok)
	require.Len(t, bgp.Patterns, 2)
	assert.Equal(t, rdf.IRI("http://example.com/knows"), bgp.Patterns[0].Predicate.Term)
	assert.Equal(t, rdf.IRI("http://www.w3.org/1999/02/22-rdf-syntax-ns#type"), bgp.Patterns[1].Predicate.Term)
	assert.Equal(t, rdf.IRI("http://example.com/Person"), bgp.Patterns[1].Object.Term)
}

func TestParseServiceKeepsRawText(t *testing.T) {
	q, err := Parse(`SELECT * WHERE { ?s <urn:p> ?v SERVICE <http://remote/asset> { ?v <urn:q> ?w } }`)
	require.NoError(t, err)

	j, ok := q.Where.(*Join)
	require.True(t, ok)
	svc, ok := j.Right.(*Service)
	require.True(t, ok)
	assert.Equal(t, "http://remote/asset", svc.Target)
	assert.Equal(t, "?v <urn:q> ?w", svc.Raw)
}

func TestParseServiceVariableTarget(t *testing.T) {
	q, err := Parse(`SELECT * WHERE { VALUES (?con) { (<urn:c1>) (<urn:c2>) } SERVICE ?con { ?s ?p ?o } }`)
	require.NoError(t, err)

	j, ok := q.Where.(*Join)
	require.True(t, ok)
	values, ok := j.Left.(*Values)
	require.True(t, ok)
	assert.Equal(t, []string{"con"}, values.Vars)
	require.Len(t, values.Rows, 2)
	svc, ok := j.Right.(*Service)
	require.True(t, ok)
	assert.Equal(t, "con", svc.TargetVar)
}

func TestParseUnionAndFilter(t *testing.T) {
	q, err := Parse(`SELECT ?s WHERE { { ?s <urn:a> ?v } UNION { ?s <urn:b> ?v } FILTER(?v = "x") }`)
	require.NoError(t, err)

	j, ok := q.Where.(*Join)
	require.True(t, ok)
	_, ok = j.Left.(*Union)
	assert.True(t, ok)
	filter, ok := j.Right.(*Filter)
	require.True(t, ok)
	assert.Equal(t, "v", filter.Var)
	assert.Equal(t, rdf.Literal("x"), filter.Term)
}

func TestParseGraphPattern(t *testing.T) {
	q, err := Parse(`SELECT * WHERE { GRAPH <urn:g> { ?s ?p ?o } }`)
	require.NoError(t, err)

	g, ok := q.Where.(*Graph)
	require.True(t, ok)
	assert.Equal(t, rdf.IRI("urn:g"), g.Target)
}

func TestParseRejectsNonSelect(t *testing.T) {
	_, err := Parse(`ASK { ?s ?p ?o }`)
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestVariablesForStarProjection(t *testing.T) {
	q, err := Parse(`SELECT * WHERE { ?s <urn:p> ?o }`)
	require.NoError(t, err)
	assert.Equal(t, []string{"s", "o"}, q.Variables())
}

func TestOptimizeForcesServiceAfterLeftInput(t *testing.T) {
	// tiny right side would normally swap ahead of the bigger left side
	left := &BGP{Patterns: make([]TriplePattern, 3)}
	svc := &Service{Target: "http://remote/x"}
	node := Optimize(&Join{Left: left, Right: svc})

	j, ok := node.(*Join)
	require.True(t, ok)
	assert.True(t, j.Forced)
	assert.Same(t, left, j.Left.(*BGP))
}

func TestOptimizeKeepsResolvedLeftSteps(t *testing.T) {
	graph := &Graph{Target: rdf.IRI("urn:g"), Body: &BGP{Patterns: make([]TriplePattern, 5)}}
	right := &BGP{Patterns: make([]TriplePattern, 1)}
	node := Optimize(&Join{Left: graph, Right: right})

	j := node.(*Join)
	assert.True(t, j.Forced)
	_, leftIsGraph := j.Left.(*Graph)
	assert.True(t, leftIsGraph)
}

func TestOptimizeSwapsSmallerDefaultSide(t *testing.T) {
	big := &BGP{Patterns: make([]TriplePattern, 4)}
	small := &BGP{Patterns: make([]TriplePattern, 1)}
	node := Optimize(&Join{Left: big, Right: small})

	j := node.(*Join)
	assert.False(t, j.Forced)
	assert.Same(t, small, j.Left.(*BGP))
	assert.Same(t, big, j.Right.(*BGP))
}
