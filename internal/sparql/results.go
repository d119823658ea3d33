package sparql

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ashita-ai/tsunagu/internal/rdf"
)

// EncodeResults serializes solutions as sparql-results+json.
func EncodeResults(variables []string, rows []Binding) ([]byte, error) {
	doc := resultSet{}
	doc.Head.Vars = variables
	doc.Results.Bindings = make([]map[string]resultValue, 0, len(rows))
	for _, row := range rows {
		binding := make(map[string]resultValue, len(row))
		for name, term := range row {
			binding[name] = termToValue(term)
		}
		doc.Results.Bindings = append(doc.Results.Bindings, binding)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("sparql: encode results: %w", err)
	}
	return out, nil
}

// DecodeResults reads a sparql-results+json document into solutions.
func DecodeResults(r io.Reader) ([]string, []Binding, error) {
	var doc resultSet
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("sparql: decode results: %w", err)
	}
	rows := make([]Binding, 0, len(doc.Results.Bindings))
	for _, binding := range doc.Results.Bindings {
		row := make(Binding, len(binding))
		for name, value := range binding {
			row[name] = valueToTerm(value)
		}
		rows = append(rows, row)
	}
	return doc.Head.Vars, rows, nil
}

func termToValue(term rdf.Term) resultValue {
	if term.Kind == rdf.KindIRI {
		return resultValue{Type: "uri", Value: term.Value}
	}
	return resultValue{Type: "literal", Value: term.Value, Datatype: term.Datatype}
}

func valueToTerm(value resultValue) rdf.Term {
	if value.Type == "uri" {
		return rdf.IRI(value.Value)
	}
	if value.Datatype != "" {
		return rdf.TypedLiteral(value.Value, value.Datatype)
	}
	return rdf.Literal(value.Value)
}
