package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashita-ai/tsunagu/internal/agreement"
	"github.com/ashita-ai/tsunagu/internal/delegation"
	"github.com/ashita-ai/tsunagu/internal/model"
	"github.com/ashita-ai/tsunagu/internal/rdf"
	"github.com/ashita-ai/tsunagu/internal/sparql"
	"github.com/ashita-ai/tsunagu/internal/sync"
)

// definedByPredicate links a mirrored graph asset to the backing
// endpoint serving its data.
var definedByPredicate = rdf.IRI(sync.RDFSchemaNamespace + "isDefinedBy")

// QueryProcessor runs agent queries, either directly or as the target of
// a remote federation call.
type QueryProcessor interface {
	Execute(ctx context.Context, req sparql.Request) (*sparql.Result, error)
	ExecuteDelegated(ctx context.Context, req sparql.DelegatedRequest) (*sparql.Result, error)
}

// Publisher registers skills and graphs as assets on the dataspace
// management API so remote connectors can discover them.
type Publisher interface {
	CreateOrUpdateSkill(ctx context.Context, assetID, name, description, version, contract, distributionMode string, isFederated bool, query string) (string, error)
	CreateOrUpdateGraph(ctx context.Context, assetID, name, description, version, contract, shape string, isFederated bool) (string, error)
	DeleteAsset(ctx context.Context, assetID string) error
}

// HandlersDeps holds all dependencies for creating Handlers.
type HandlersDeps struct {
	Store     rdf.Store
	Processor QueryProcessor
	Skills    *sparql.SkillStore

	// Publisher is optional; nil keeps skills and graphs node-local.
	Publisher Publisher

	Logger              *slog.Logger
	Version             string
	DefaultContract     string
	MaxRequestBodyBytes int64
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	deps HandlersDeps
}

// NewHandlers creates the handler set.
func NewHandlers(deps HandlersDeps) *Handlers {
	return &Handlers{deps: deps}
}

// HandleHealth reports liveness.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.deps.Version,
	})
}

// HandleGraphUpload imports an RDF serialization into the named asset
// graph and optionally publishes the asset on the management API.
func (h *Handlers) HandleGraphUpload(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		writeError(w, r, http.StatusBadRequest, "missing asset parameter")
		return
	}
	format := rdf.FormatOf(r.Header.Get("Content-Type"))
	if format == "" {
		writeError(w, r, http.StatusBadRequest, "unsupported content type "+r.Header.Get("Content-Type"))
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.deps.MaxRequestBodyBytes)
	count, err := rdf.RegisterAsset(r.Context(), h.deps.Store, asset, body, format)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	if h.deps.Publisher != nil {
		query := r.URL.Query()
		if _, err := h.deps.Publisher.CreateOrUpdateGraph(r.Context(), asset,
			query.Get("name"), query.Get("description"), query.Get("version"),
			firstOf(query.Get("contract"), h.deps.DefaultContract),
			query.Get("shape"), query.Get("isFederated") != "false"); err != nil {
			h.deps.Logger.Warn("could not publish graph asset", "asset", asset, "error", err)
		}
	}

	h.deps.Logger.Info("registered graph asset", "asset", asset, "triples", count)
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

// HandleGraphDelete drops the named asset graph.
func (h *Handlers) HandleGraphDelete(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	if asset == "" {
		writeError(w, r, http.StatusBadRequest, "missing asset parameter")
		return
	}
	count, err := rdf.DeleteAsset(r.Context(), h.deps.Store, asset)
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	if h.deps.Publisher != nil {
		if err := h.deps.Publisher.DeleteAsset(r.Context(), asset); err != nil {
			h.deps.Logger.Warn("could not unpublish graph asset", "asset", asset, "error", err)
		}
	}

	h.deps.Logger.Info("deleted graph asset", "asset", asset, "triples", count)
	writeJSON(w, http.StatusOK, map[string]int64{"count": count})
}

// HandleAgent executes a query or stored skill. When the addressed asset
// is a mirrored graph with a known backing endpoint, this node acts as a
// federation target and graph accesses are rewritten onto that endpoint.
func (h *Handlers) HandleAgent(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	req := sparql.Request{
		Query:       params.Get("query"),
		Asset:       params.Get("asset"),
		RawParams:   r.URL.RawQuery,
		ContentType: r.Header.Get("Content-Type"),
		RunMode:     params.Get("runMode"),
	}
	if r.Method == http.MethodPost && r.Body != nil {
		req.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxRequestBodyBytes)
	}

	var (
		result *sparql.Result
		err    error
	)
	if target := h.backingEndpoint(r.Context(), req.Asset); target != "" {
		result, err = h.deps.Processor.ExecuteDelegated(r.Context(), sparql.DelegatedRequest{
			Request:    req,
			TargetURL:  target,
			BoundAsset: req.Asset,
		})
	} else {
		result, err = h.deps.Processor.Execute(r.Context(), req)
	}
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	writeResult(w, result)
}

// backingEndpoint resolves the backing service URL of a graph asset, or
// "" when the asset has none and executes locally. Skills always run
// locally.
func (h *Handlers) backingEndpoint(ctx context.Context, asset string) string {
	if asset == "" {
		return ""
	}
	if _, isSkill := h.deps.Skills.Get(asset); isSkill {
		return ""
	}
	facts, err := h.deps.Store.Find(ctx, rdf.Quad{
		Graph:     h.deps.Store.DefaultGraph(),
		Subject:   rdf.IRI(asset),
		Predicate: definedByPredicate,
	})
	if err != nil || len(facts) == 0 {
		return ""
	}
	if facts[0].Object.Kind != rdf.KindIRI {
		return ""
	}
	return delegation.NormalizeScheme(facts[0].Object.Value)
}

// HandleSkillPut stores a skill under the asset id and optionally
// publishes it on the management API.
func (h *Handlers) HandleSkillPut(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	asset := params.Get("asset")
	if asset == "" {
		writeError(w, r, http.StatusBadRequest, "missing asset parameter")
		return
	}
	mode, err := sparql.ParseDistribution(params.Get("distributionMode"))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	text, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.deps.MaxRequestBodyBytes))
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}
	if len(text) == 0 {
		writeError(w, r, http.StatusBadRequest, "missing skill text")
		return
	}

	existed := h.deps.Skills.Put(asset, sparql.Skill{Text: string(text), Distribution: mode})

	if h.deps.Publisher != nil {
		if _, err := h.deps.Publisher.CreateOrUpdateSkill(r.Context(), asset,
			params.Get("name"), params.Get("description"), params.Get("version"),
			firstOf(params.Get("contract"), h.deps.DefaultContract),
			mode.String(), params.Get("isFederated") != "false", string(text)); err != nil {
			h.deps.Logger.Warn("could not publish skill asset", "asset", asset, "error", err)
		}
	}

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	h.deps.Logger.Info("stored skill", "asset", asset, "mode", mode.String(), "updated", existed)
	writeJSON(w, status, map[string]string{"asset": asset})
}

// HandleSkillGet returns the stored skill text.
func (h *Handlers) HandleSkillGet(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	skill, ok := h.deps.Skills.Get(asset)
	if !ok {
		writeError(w, r, http.StatusNotFound, "unknown skill "+asset)
		return
	}
	w.Header().Set("Content-Type", delegation.SkillContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(skill.Text))
}

// HandleSkillDelete removes a stored skill.
func (h *Handlers) HandleSkillDelete(w http.ResponseWriter, r *http.Request) {
	asset := r.URL.Query().Get("asset")
	if !h.deps.Skills.Delete(asset) {
		writeError(w, r, http.StatusNotFound, "unknown skill "+asset)
		return
	}
	if h.deps.Publisher != nil {
		if err := h.deps.Publisher.DeleteAsset(r.Context(), asset); err != nil {
			h.deps.Logger.Warn("could not unpublish skill asset", "asset", asset, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeResult flushes a shaped execution result, carrying accumulated
// warnings in the response header.
func writeResult(w http.ResponseWriter, result *sparql.Result) {
	if encoded := model.EncodeWarnings(result.Warnings); encoded != "" {
		w.Header().Set(model.WarningsHeader, encoded)
	}
	if result.ContentType != "" {
		w.Header().Set("Content-Type", result.ContentType)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Body)))
	w.WriteHeader(result.StatusCode)
	_, _ = w.Write(result.Body)
}

// writeFailure maps service errors onto HTTP statuses.
func (h *Handlers) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, sparql.ErrBadRequest):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, delegation.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, delegation.ErrMethodNotAllowed):
		writeError(w, r, http.StatusMethodNotAllowed, err.Error())
	case errors.Is(err, agreement.ErrNoOffer):
		writeError(w, r, http.StatusBadGateway, err.Error())
	default:
		h.deps.Logger.Error("request failed",
			"path", r.URL.Path, "request_id", RequestIDFromContext(r.Context()), "error", err)
		writeError(w, r, http.StatusInternalServerError, err.Error())
	}
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
