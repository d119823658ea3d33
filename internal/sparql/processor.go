package sparql

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/ashita-ai/tsunagu/internal/delegation"
	"github.com/ashita-ai/tsunagu/internal/model"
	"github.com/ashita-ai/tsunagu/internal/rdf"
)

// Request is one query or skill execution.
type Request struct {
	Query       string // explicit query text, wins over a stored skill
	Asset       string // skill asset to resolve when no query is given
	RawParams   string // undecoded URL query string carrying bindings
	Body        io.Reader
	ContentType string
	RunMode     string // requested distribution mode
}

// DelegatedRequest is the internal execution form used when this node
// is itself the target of a remote federation call: routing and auth
// context replace the HTTP surface.
type DelegatedRequest struct {
	Request
	TargetURL  string // resolved backing endpoint for graph rewriting
	BoundAsset string // the single asset this execution is bound to
	Allow      *regexp.Regexp
	Deny       *regexp.Regexp
}

// Result is the shaped response of one execution.
type Result struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Warnings    []model.Warning
}

// Processor binds parameters, resolves skills, and runs queries through
// the engine.
type Processor struct {
	store     rdf.Store
	skills    *SkillStore
	delegator Delegator
	fedCfg    FederationConfig
	logger    *slog.Logger
}

// NewProcessor creates a processor.
func NewProcessor(store rdf.Store, skills *SkillStore, delegator Delegator, fedCfg FederationConfig, logger *slog.Logger) *Processor {
	return &Processor{store: store, skills: skills, delegator: delegator, fedCfg: fedCfg, logger: logger}
}

// rewriteRule replaces graph accesses of one asset with service calls
// when this node executes as a federation target.
type rewriteRule struct {
	asset  string
	target string
}

// Execute runs a direct query or skill request.
func (p *Processor) Execute(ctx context.Context, req Request) (*Result, error) {
	return p.execute(ctx, req, p.fedCfg, rewriteRule{})
}

// ExecuteDelegated runs a federation-target request: occurrences of the
// bound asset's graph are rewritten into service calls against the
// resolved backing endpoint before execution.
func (p *Processor) ExecuteDelegated(ctx context.Context, req DelegatedRequest) (*Result, error) {
	cfg := p.fedCfg
	if req.Allow != nil {
		cfg.Allow = req.Allow
	}
	if req.Deny != nil {
		cfg.Deny = req.Deny
	}
	var rule rewriteRule
	if req.BoundAsset != "" && req.TargetURL != "" {
		rule = rewriteRule{asset: req.BoundAsset, target: req.TargetURL}
		req.Asset = firstNonEmpty(req.Asset, req.BoundAsset)
	}
	inner := req.Request
	inner.Asset = req.Asset
	return p.execute(ctx, inner, cfg, rule)
}

func (p *Processor) execute(ctx context.Context, req Request, fedCfg FederationConfig, rule rewriteRule) (*Result, error) {
	tuples, err := ParseParams(req.RawParams)
	if err != nil {
		return nil, err
	}
	if req.Body != nil && strings.HasPrefix(req.ContentType, ResultSetContentType) {
		if err := ParseResultsBody(req.Body, tuples); err != nil {
			return nil, err
		}
	}

	requested, err := ParseDistribution(req.RunMode)
	if err != nil {
		return nil, err
	}

	text := req.Query
	mode := requested
	if text == "" {
		if req.Asset == "" {
			return nil, fmt.Errorf("%w: neither query nor asset given", ErrBadRequest)
		}
		skill, ok := p.skills.Get(req.Asset)
		if !ok {
			return nil, fmt.Errorf("%w: unknown skill %s", ErrBadRequest, req.Asset)
		}
		text = skill.Text
		if mode, err = Combine(skill.Distribution, requested); err != nil {
			return nil, err
		}
	}

	bound, warnings, err := Bind(text, tuples)
	if err != nil {
		return nil, err
	}
	// a delegated execution may carry the graph reference in the given
	// query or inside the resolved skill text
	bound = RewriteGraphToService(bound, rule.asset, rule.target)

	if mode == DistributionConsumer && req.Query == "" {
		return shape(delegation.SkillContentType, []byte(bound), warnings), nil
	}

	query, err := Parse(bound)
	if err != nil {
		return nil, err
	}
	fed := NewFederationClient(fedCfg, p.delegator, p.logger)
	engine := NewEngine(p.store, fed, p.logger)
	fed.BindLocalExecutor(func(ctx context.Context, text string, input []Binding) ([]Binding, []model.Warning, error) {
		downloaded, err := Parse(text)
		if err != nil {
			return nil, nil, fmt.Errorf("sparql: parse downloaded skill: %w", err)
		}
		_, rows, warns, err := engine.Eval(ctx, downloaded)
		if err != nil {
			return nil, nil, err
		}
		return joinBindings(input, rows), warns, nil
	})
	variables, rows, evalWarnings, err := engine.Eval(ctx, query)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, evalWarnings...)

	body, err := EncodeResults(variables, rows)
	if err != nil {
		return nil, err
	}
	return shape(ResultSetContentType, body, warnings), nil
}

// shape upgrades a plain success to the succeeded-with-warnings status
// when warnings exist.
func shape(contentType string, body []byte, warnings []model.Warning) *Result {
	status := http.StatusOK
	if len(warnings) > 0 {
		status = model.StatusWarnings
	}
	return &Result{StatusCode: status, ContentType: contentType, Body: body, Warnings: warnings}
}

// RewriteGraphToService replaces graph accesses naming the bound asset
// with service calls against the resolved target. Both the plain asset
// name and its unset-base form are recognized. An empty target leaves
// the text unchanged.
func RewriteGraphToService(query, asset, target string) string {
	if target == "" {
		return query
	}
	replacement := "SERVICE <" + target + ">"
	variants := []string{
		"GRAPH <" + asset + ">",
		"GRAPH <" + rdf.UnsetBase + asset + ">",
	}
	buf := query
	for _, variant := range variants {
		buf = strings.ReplaceAll(buf, variant, replacement)
	}
	return buf
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
