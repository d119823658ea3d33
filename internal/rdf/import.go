package rdf

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// UnsetBase is prepended to asset names that are not full IRIs so they
// can still address a named graph.
const UnsetBase = "http://server/unset-base/"

// Format is an external serialization the store can import.
type Format string

const (
	FormatTurtle Format = "text/turtle"
	FormatCSV    Format = "text/csv"
)

// FormatOf maps a content type onto an import format. Returns "" when
// the content type is not supported.
func FormatOf(contentType string) Format {
	switch {
	case strings.Contains(contentType, "turtle"):
		return FormatTurtle
	case strings.Contains(contentType, "csv"):
		return FormatCSV
	default:
		return ""
	}
}

// AssetGraph resolves an asset id to its graph IRI, applying the unset
// base to bare names.
func AssetGraph(asset string) Term {
	if !strings.Contains(asset, "/") {
		asset = UnsetBase + asset
	}
	return IRI(asset)
}

// RegisterAsset imports the given content into the named graph of the
// asset inside one write transaction and returns the number of triples
// inserted.
func RegisterAsset(ctx context.Context, store Store, asset string, content io.Reader, format Format) (int64, error) {
	graph := AssetGraph(asset)

	var triples []Quad
	var err error
	switch format {
	case FormatTurtle:
		triples, err = ParseTurtle(content, graph)
	case FormatCSV:
		triples, err = ParseCSV(content, graph)
	default:
		err = fmt.Errorf("rdf: unsupported import format %q", format)
	}
	if err != nil {
		return 0, err
	}

	tx, err := store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("rdf: begin: %w", err)
	}
	for _, q := range triples {
		if err := tx.Add(ctx, q); err != nil {
			_ = tx.Abort(ctx)
			return 0, fmt.Errorf("rdf: add: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("rdf: commit: %w", err)
	}
	return int64(len(triples)), nil
}

// DeleteAsset removes all facts in the asset's named graph inside one
// write transaction and returns the number of triples deleted.
func DeleteAsset(ctx context.Context, store Store, asset string) (int64, error) {
	graph := AssetGraph(asset)

	tx, err := store.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("rdf: begin: %w", err)
	}
	quads, err := tx.Find(ctx, Quad{Graph: graph})
	if err != nil {
		_ = tx.Abort(ctx)
		return 0, fmt.Errorf("rdf: find: %w", err)
	}
	for _, q := range quads {
		if err := tx.Delete(ctx, q); err != nil {
			_ = tx.Abort(ctx)
			return 0, fmt.Errorf("rdf: delete: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("rdf: commit: %w", err)
	}
	return int64(len(quads)), nil
}

// ParseTurtle reads a line-oriented turtle subset: optional @prefix
// directives, comment lines starting with '#', and one
// "subject predicate object ." statement per line. All triples are
// scoped into the given graph.
func ParseTurtle(r io.Reader, graph Term) ([]Quad, error) {
	var quads []Quad
	prefixes := make(map[string]string)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "@prefix") {
			if err := parsePrefix(line, prefixes); err != nil {
				return nil, fmt.Errorf("rdf: line %d: %w", lineNo, err)
			}
			continue
		}
		line = strings.TrimSpace(strings.TrimSuffix(line, "."))
		terms, err := scanTerms(line)
		if err != nil {
			return nil, fmt.Errorf("rdf: line %d: %w", lineNo, err)
		}
		if len(terms) != 3 {
			return nil, fmt.Errorf("rdf: line %d: expected 3 terms, got %d", lineNo, len(terms))
		}
		quads = append(quads, Quad{
			Graph:     graph,
			Subject:   ParseTerm(terms[0], prefixes),
			Predicate: ParseTerm(terms[1], prefixes),
			Object:    ParseTerm(terms[2], prefixes),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("rdf: read: %w", err)
	}
	return quads, nil
}

// parsePrefix handles "@prefix ns: <iri> ." directives.
func parsePrefix(line string, prefixes map[string]string) error {
	fields := strings.Fields(strings.TrimSuffix(strings.TrimSpace(line), "."))
	if len(fields) < 3 || !strings.HasSuffix(fields[1], ":") {
		return fmt.Errorf("malformed @prefix directive %q", line)
	}
	iri := strings.Trim(fields[2], "<>")
	prefixes[fields[1]] = iri
	return nil
}

// scanTerms splits a statement into whitespace-separated terms while
// keeping angle-bracketed IRIs and quoted literals intact.
func scanTerms(line string) ([]string, error) {
	var terms []string
	i := 0
	for i < len(line) {
		switch {
		case line[i] == ' ' || line[i] == '\t':
			i++
		case line[i] == '<':
			end := strings.IndexByte(line[i:], '>')
			if end < 0 {
				return nil, fmt.Errorf("unterminated IRI in %q", line)
			}
			// include a trailing datatype or language tag if attached
			stop := i + end + 1
			for stop < len(line) && line[stop] != ' ' && line[stop] != '\t' {
				stop++
			}
			terms = append(terms, line[i:stop])
			i = stop
		case line[i] == '"':
			end := strings.IndexByte(line[i+1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("unterminated literal in %q", line)
			}
			stop := i + end + 2
			for stop < len(line) && line[stop] != ' ' && line[stop] != '\t' {
				stop++
			}
			terms = append(terms, line[i:stop])
			i = stop
		default:
			stop := i
			for stop < len(line) && line[stop] != ' ' && line[stop] != '\t' {
				stop++
			}
			terms = append(terms, line[i:stop])
			i = stop
		}
	}
	return terms, nil
}

// ParseCSV reads a CSV document whose header cells name the predicates;
// the first column of every row is the subject IRI, the remaining cells
// are objects for the corresponding header predicate. Rows may carry
// fewer cells than the header (missing columns are skipped) or extra
// trailing cells (ignored).
func ParseCSV(r io.Reader, graph Term) ([]Quad, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("rdf: csv header: %w", err)
	}
	predicates := make([]Term, len(header))
	for i, cell := range header {
		predicates[i] = IRI(strings.Trim(strings.TrimSpace(cell), "<>"))
	}

	var quads []Quad
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("rdf: csv row: %w", err)
		}
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		subject := IRI(strings.Trim(strings.TrimSpace(row[0]), "<>"))
		for col := 1; col < len(row) && col < len(predicates); col++ {
			quads = append(quads, Quad{
				Graph:     graph,
				Subject:   subject,
				Predicate: predicates[col],
				Object:    ParseTerm(row[col], nil),
			})
		}
	}
	return quads, nil
}
