package sparql

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/tsunagu/internal/delegation"
	"github.com/ashita-ai/tsunagu/internal/model"
)

// Delegator sends an agent call into the dataspace.
type Delegator interface {
	Send(ctx context.Context, req delegation.Request) (*delegation.Response, error)
}

// FederationConfig holds the dispatch settings.
type FederationConfig struct {
	Allow     *regexp.Regexp
	Deny      *regexp.Regexp
	BatchSize int // input solutions per remote call, 0 = all at once
	Workers   int // concurrent remote calls, 0 = unbounded
}

// LocalExecutor runs downloaded skill text against the local engine,
// joining the results with the input solutions of the remote call.
type LocalExecutor func(ctx context.Context, query string, input []Binding) ([]Binding, []model.Warning, error)

// FederationClient dispatches SERVICE patterns to remote agents through
// the delegation layer. Input solutions are split into batches, batches
// of one call dispatched concurrently.
type FederationClient struct {
	cfg       FederationConfig
	delegator Delegator
	logger    *slog.Logger
	local     LocalExecutor
}

// NewFederationClient creates a federation client.
func NewFederationClient(cfg FederationConfig, delegator Delegator, logger *slog.Logger) *FederationClient {
	return &FederationClient{cfg: cfg, delegator: delegator, logger: logger}
}

// BindLocalExecutor attaches the executor used when a remote answers a
// call with consumer skill text instead of a result set.
func (f *FederationClient) BindLocalExecutor(local LocalExecutor) {
	f.local = local
}

// Call implements Federator. A target failing the allow-then-deny check
// contributes zero solutions and one warning, never an error.
func (f *FederationClient) Call(ctx context.Context, target, pattern string, input []Binding) ([]Binding, []model.Warning, error) {
	if err := delegation.Allowed(target, f.cfg.Allow, f.cfg.Deny); err != nil {
		f.logger.Warn("skipping disallowed federation target", "target", target)
		return nil, []model.Warning{{
			Source:  "federation",
			Message: fmt.Sprintf("service %s is not allowed, returning empty bindings", target),
		}}, nil
	}

	remoteURL, asset, err := splitTarget(target)
	if err != nil {
		return nil, nil, err
	}
	remoteQuery := "SELECT * WHERE { " + pattern + " }"

	batches := batchBindings(input, f.cfg.BatchSize)
	results := make([][]Binding, len(batches))
	warnings := make([][]model.Warning, len(batches))

	group, ctx := errgroup.WithContext(ctx)
	if f.cfg.Workers > 0 {
		group.SetLimit(f.cfg.Workers)
	}
	for i, batch := range batches {
		group.Go(func() error {
			rows, warns, err := f.dispatch(ctx, remoteURL, asset, remoteQuery, batch)
			if err != nil {
				return err
			}
			results[i] = rows
			warnings[i] = warns
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, nil, err
	}

	var rows []Binding
	var warns []model.Warning
	for i := range batches {
		rows = append(rows, results[i]...)
		warns = append(warns, warnings[i]...)
	}
	return rows, warns, nil
}

// dispatch issues one remote call for a batch of input solutions.
func (f *FederationClient) dispatch(ctx context.Context, remoteURL, asset, query string, batch []Binding) ([]Binding, []model.Warning, error) {
	req := delegation.Request{
		Method:    http.MethodPost,
		RemoteURL: remoteURL,
		Asset:     asset,
		Accept:    ResultSetContentType,
		Params:    url.Values{"query": {query}},
	}
	if body, ok := encodeInput(batch); ok {
		req.ContentType = ResultSetContentType
		req.Body = body
	}

	resp, err := f.delegator.Send(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("sparql: federated call to %s: %w", remoteURL, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, resp.Warnings, fmt.Errorf("sparql: federated call to %s failed with status %d", remoteURL, resp.StatusCode)
	}
	// a consumer-distributed skill comes back as query text and runs on
	// this side instead of delivering results
	if resp.SkillText != "" {
		if f.local == nil {
			return nil, resp.Warnings, fmt.Errorf("sparql: remote %s answered with skill text but local execution is not available", remoteURL)
		}
		rows, warns, err := f.local(ctx, resp.SkillText, batch)
		if err != nil {
			return nil, resp.Warnings, err
		}
		return rows, append(resp.Warnings, warns...), nil
	}
	_, rows, err := DecodeResults(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, resp.Warnings, err
	}
	return rows, resp.Warnings, nil
}

// encodeInput serializes non-trivial input solutions for the wire. A
// single empty solution means the call is unparameterized.
func encodeInput(batch []Binding) ([]byte, bool) {
	if len(batch) == 0 || (len(batch) == 1 && len(batch[0]) == 0) {
		return nil, false
	}
	var variables []string
	seen := make(map[string]bool)
	for _, row := range batch {
		for name := range row {
			if !seen[name] {
				seen[name] = true
				variables = append(variables, name)
			}
		}
	}
	body, err := EncodeResults(variables, batch)
	if err != nil {
		return nil, false
	}
	return body, true
}

// splitTarget separates a SERVICE target into the connector URL and the
// addressed asset: the fragment when present, the last path segment
// otherwise.
func splitTarget(target string) (string, string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", "", fmt.Errorf("%w: unparseable service target %q", ErrBadRequest, target)
	}
	if parsed.Fragment != "" {
		asset := parsed.Fragment
		parsed.Fragment = ""
		return parsed.String(), asset, nil
	}
	trimmed := strings.TrimSuffix(parsed.Path, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 && trimmed[idx+1:] != "" {
		asset := trimmed[idx+1:]
		parsed.Path = trimmed[:idx]
		return parsed.String(), asset, nil
	}
	return target, target, nil
}

// batchBindings splits the input solutions into dispatch batches.
func batchBindings(input []Binding, size int) [][]Binding {
	if len(input) == 0 {
		input = []Binding{{}}
	}
	if size <= 0 || len(input) <= size {
		return [][]Binding{input}
	}
	var batches [][]Binding
	for start := 0; start < len(input); start += size {
		end := min(start+size, len(input))
		batches = append(batches, input[start:end])
	}
	return batches
}
