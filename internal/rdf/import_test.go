package rdf

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const turtleFixture = `@prefix ex: <http://example.org/> .
# a small graph with four facts
<http://example.org/s1> <http://example.org/name> "first" .
<http://example.org/s1> ex:version "1.0" .
<http://example.org/s2> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> ex:Thing .
<http://example.org/s2> ex:count "4"^^<http://www.w3.org/2001/XMLSchema#int> .
`

func TestRegisterThenDeleteAssetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore("urn:x-arq:DefaultGraph")

	inserted, err := RegisterAsset(ctx, s, "urn:graph:test", strings.NewReader(turtleFixture), FormatTurtle)
	require.NoError(t, err)
	assert.Equal(t, int64(4), inserted)

	deleted, err := DeleteAsset(ctx, s, "urn:graph:test")
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)
	assert.Equal(t, 0, s.Len())
}

func TestParseTurtleExpandsPrefixesAndTypes(t *testing.T) {
	quads, err := ParseTurtle(strings.NewReader(turtleFixture), IRI("urn:graph:test"))
	require.NoError(t, err)
	require.Len(t, quads, 4)

	assert.Equal(t, IRI("http://example.org/version"), quads[1].Predicate)
	assert.Equal(t, IRI("http://example.org/Thing"), quads[2].Object)
	assert.Equal(t, TypedLiteral("4", "http://www.w3.org/2001/XMLSchema#int"), quads[3].Object)
}

func TestParseCSVRaggedRows(t *testing.T) {
	// The second row has one extra trailing field, the third is short.
	csvDoc := "subject,<http://example.org/name>,<http://example.org/version>\n" +
		"<urn:a>,alpha,1.0\n" +
		"<urn:b>,beta,2.0,extra\n" +
		"<urn:c>,gamma\n"

	quads, err := ParseCSV(strings.NewReader(csvDoc), IRI("urn:graph:test"))
	require.NoError(t, err)

	// 2 + 2 + 1 facts: the extra trailing cell is dropped, the short row
	// imports only the columns present.
	assert.Len(t, quads, 5)
	assert.Equal(t, IRI("urn:b"), quads[2].Subject)
	assert.Equal(t, Literal("beta"), quads[2].Object)
	assert.Equal(t, IRI("urn:c"), quads[4].Subject)
	assert.Equal(t, IRI("http://example.org/name"), quads[4].Predicate)
}

func TestAssetGraphAppliesUnsetBase(t *testing.T) {
	assert.Equal(t, IRI(UnsetBase+"graph1"), AssetGraph("graph1"))
	assert.Equal(t, IRI("http://example.org/g"), AssetGraph("http://example.org/g"))
}

func TestParseTerm(t *testing.T) {
	prefixes := map[string]string{"cx-taxo:": "https://w3id.org/catenax/taxonomy#"}

	tests := []struct {
		name string
		raw  string
		want Term
	}{
		{"iri", "<urn:x>", IRI("urn:x")},
		{"quoted literal", `"hello"`, Literal("hello")},
		{"typed literal", "true^^xsd:boolean", TypedLiteral("true", "xsd:boolean")},
		{"prefixed name", "cx-taxo:Graph", IRI("https://w3id.org/catenax/taxonomy#Graph")},
		{"plain literal", "just text", Literal("just text")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseTerm(tt.raw, prefixes))
		})
	}
}
