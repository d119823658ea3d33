package sparql

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/ashita-ai/tsunagu/internal/model"
)

// ErrBadRequest marks caller mistakes: malformed parameters, missing
// bindings, distribution mismatches. Handlers map it to a 400.
var ErrBadRequest = errors.New("sparql: bad request")

// ResultSetContentType is the serialization of pre-computed bindings
// accepted in request bodies and produced by federation targets.
const ResultSetContentType = "application/sparql-results+json"

var (
	paramPattern    = regexp.MustCompile(`([^=&]+)=([^&]*)`)
	groupPattern    = regexp.MustCompile(`\([^()]*\)`)
	variablePattern = regexp.MustCompile(`@([a-zA-Z0-9]+)`)
)

// ParseParams reads URL query parameters into a tuple set. A key
// prefixed with "(" opens a nested group, a value suffixed with ")"
// closes one; groups become alternative binding rows. The reserved
// parameters "asset" and "query" never bind variables.
func ParseParams(rawQuery string) (*TupleSet, error) {
	decoded, err := url.QueryUnescape(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable parameters: %v", ErrBadRequest, err)
	}

	root := NewTupleSet()
	stack := []*TupleSet{root}
	for _, match := range paramPattern.FindAllStringSubmatch(decoded, -1) {
		key, value := match[1], match[2]
		for strings.HasPrefix(key, "(") {
			key = key[1:]
			stack = append(stack, NewTupleSet())
		}
		if key == "" || value == "" {
			return nil, fmt.Errorf("%w: empty parameter in %q", ErrBadRequest, rawQuery)
		}
		realValue := strings.ReplaceAll(value, ")", "")
		if key != "asset" && key != "query" {
			if err := stack[len(stack)-1].Add(key, realValue); err != nil {
				return nil, err
			}
		}
		for strings.HasSuffix(value, ")") {
			if len(stack) < 2 {
				return nil, fmt.Errorf("%w: unbalanced group close in %q", ErrBadRequest, rawQuery)
			}
			closed := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			stack[len(stack)-1].Merge(closed)
			value = value[:len(value)-1]
		}
	}
	if len(stack) != 1 {
		return nil, fmt.Errorf("%w: unbalanced group open in %q", ErrBadRequest, rawQuery)
	}
	return root, nil
}

// resultSet mirrors the sparql-results+json document shape.
type resultSet struct {
	Head struct {
		Vars []string `json:"vars"`
	} `json:"head"`
	Results struct {
		Bindings []map[string]resultValue `json:"bindings"`
	} `json:"results"`
}

type resultValue struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Datatype string `json:"datatype,omitempty"`
}

// ParseResultsBody merges a sparql-results+json document into the tuple
// set, one child row per binding.
func ParseResultsBody(r io.Reader, tuples *TupleSet) error {
	var doc resultSet
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("%w: unreadable result set body: %v", ErrBadRequest, err)
	}
	for _, binding := range doc.Results.Bindings {
		row := NewTupleSet()
		for name, value := range binding {
			if err := row.Add(name, value.Value); err != nil {
				return err
			}
		}
		tuples.Merge(row)
	}
	return nil
}

// Bind substitutes @name placeholders in the query text.
//
// Parenthesized groups referencing at least one variable act as clause
// templates: one space-joined copy per tuple matching the group's
// variable set. Placeholders left outside any group resolve against the
// first matching tuple only; referencing variables with no matching
// tuple is a client error, more than one match keeps the first and
// raises a warning.
func Bind(query string, bindings *TupleSet) (string, []model.Warning, error) {
	var warnings []model.Warning

	var out strings.Builder
	last := 0
	for _, loc := range groupPattern.FindAllStringIndex(query, -1) {
		out.WriteString(query[last:loc[0]])
		group := query[loc[0]:loc[1]]
		variables := referencedVariables(group)
		if len(variables) == 0 {
			out.WriteString(group)
		} else {
			for i, tuple := range bindings.GetTuples(variables...) {
				if i > 0 {
					out.WriteString(" ")
				}
				out.WriteString(substitute(group, tuple))
			}
		}
		last = loc[1]
	}
	out.WriteString(query[last:])
	bound := out.String()

	variables := referencedVariables(bound)
	if len(variables) == 0 {
		return bound, warnings, nil
	}
	tuples := bindings.GetTuples(variables...)
	if len(tuples) == 0 {
		return "", warnings, fmt.Errorf("%w: variables %v referenced on top level but no binding matches", ErrBadRequest, variables)
	}
	if len(tuples) > 1 {
		warnings = append(warnings, model.Warning{
			Source:  "binder",
			Message: fmt.Sprintf("got %d tuples for top-level variables %v, using only the first one", len(tuples), variables),
		})
	}
	return substitute(bound, tuples[0]), warnings, nil
}

// referencedVariables lists the distinct @name placeholders of a text
// fragment in order of first appearance.
func referencedVariables(text string) []string {
	var variables []string
	seen := make(map[string]bool)
	for _, match := range variablePattern.FindAllStringSubmatch(text, -1) {
		if !seen[match[1]] {
			seen[match[1]] = true
			variables = append(variables, match[1])
		}
	}
	return variables
}

func substitute(text string, tuple Tuple) string {
	for _, name := range tuple.Variables() {
		text = strings.ReplaceAll(text, "@"+name, tuple.Get(name))
	}
	return text
}
