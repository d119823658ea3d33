// Package controlplane is a typed HTTP client for the connector control
// plane's management API: catalog lookup, contract negotiation, transfer
// credential retrieval and asset registration.
package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// dspPath is the dataspace protocol endpoint exposed by every connector,
// relative to its base URL.
const dspPath = "%s/api/v1/dsp"

// isFederatedPredicate marks catalog entries that participate in
// federated querying.
const isFederatedPredicate = "https://w3id.org/catenax/ontology/common#isFederated"

// Error is a non-2xx answer from the management API.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("controlplane: status %d: %s", e.StatusCode, e.Message)
}

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the management API of the local connector.
	BaseURL string

	// ProviderURL is the management API used for provider-side asset
	// registration. Falls back to BaseURL when empty.
	ProviderURL string

	// AuthHeader/AuthValue are presented on every management call.
	AuthHeader string
	AuthValue  string

	// HTTPClient is an optional custom HTTP client. If nil, a default
	// client with a 30-second timeout is used.
	HTTPClient *http.Client
}

// Client talks to the control plane. All methods are safe for
// concurrent use.
type Client struct {
	baseURL     string
	providerURL string
	authHeader  string
	authValue   string
	client      *http.Client
	logger      *slog.Logger
}

// New creates a Client from the given configuration.
func New(cfg Config, logger *slog.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	providerURL := strings.TrimRight(cfg.ProviderURL, "/")
	if providerURL == "" {
		providerURL = baseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:     baseURL,
		providerURL: providerURL,
		authHeader:  cfg.AuthHeader,
		authValue:   cfg.AuthValue,
		client:      httpClient,
		logger:      logger,
	}
}

// catalogRequest is the wire form of a catalog fetch.
type catalogRequest struct {
	CounterPartyAddress string       `json:"counterPartyAddress"`
	CounterPartyID      string       `json:"counterPartyId,omitempty"`
	Protocol            string       `json:"protocol"`
	QuerySpec           CatalogQuery `json:"querySpec"`
}

// CatalogQuery filters a catalog fetch.
type CatalogQuery struct {
	Filter []Criterion `json:"filterExpression,omitempty"`
}

// Criterion is one filter expression of a catalog query.
type Criterion struct {
	OperandLeft  string `json:"operandLeft"`
	Operator     string `json:"operator"`
	OperandRight string `json:"operandRight"`
}

// FederatedAssetQuery selects only datasets advertised for federation.
func FederatedAssetQuery() CatalogQuery {
	return CatalogQuery{Filter: []Criterion{{
		OperandLeft:  isFederatedPredicate,
		Operator:     "=",
		OperandRight: "true^^xsd:boolean",
	}}}
}

// AssetQuery selects a single asset by id.
func AssetQuery(assetID string) CatalogQuery {
	return CatalogQuery{Filter: []Criterion{{
		OperandLeft:  "https://w3id.org/edc/v0.0.1/ns/id",
		Operator:     "=",
		OperandRight: assetID,
	}}}
}

// Catalog mirrors the control plane's catalog answer.
type Catalog struct {
	ID            string    `json:"@id"`
	ParticipantID string    `json:"participantId"`
	Datasets      []Dataset `json:"dcat:dataset"`
}

// Dataset is one advertised asset with its usage policies.
type Dataset struct {
	ID         string         `json:"@id"`
	Properties map[string]any `json:"properties"`
	Policies   []Policy       `json:"odrl:hasPolicy"`
}

// Policy is a contract offer carried opaquely.
type Policy struct {
	ID         string         `json:"@id"`
	Constraint map[string]any `json:"odrl:permission,omitempty"`
}

// FirstPolicy returns the first offer of the dataset, if any. Offer
// selection is deliberately first-available.
func (d Dataset) FirstPolicy() (Policy, bool) {
	if len(d.Policies) == 0 {
		return Policy{}, false
	}
	return d.Policies[0], true
}

// GetCatalog fetches the remote connector's catalog filtered by the
// given query spec.
func (c *Client) GetCatalog(ctx context.Context, remoteURL string, query CatalogQuery) (*Catalog, error) {
	req := catalogRequest{
		CounterPartyAddress: fmt.Sprintf(dspPath, remoteURL),
		Protocol:            "dataspace-protocol-http",
		QuerySpec:           query,
	}
	var catalog Catalog
	if err := c.post(ctx, c.baseURL+"/v2/catalog/request", req, &catalog); err != nil {
		return nil, fmt.Errorf("controlplane: get catalog from %s: %w", remoteURL, err)
	}
	return &catalog, nil
}

// FindContractOffers returns the contract offers for one asset of the
// remote connector.
func (c *Client) FindContractOffers(ctx context.Context, remoteURL, assetID string) (*Catalog, error) {
	return c.GetCatalog(ctx, remoteURL, AssetQuery(assetID))
}

// NegotiationRequest initiates a contract negotiation for one asset.
type NegotiationRequest struct {
	OfferID             string `json:"offerId"`
	AssetID             string `json:"assetId"`
	Policy              Policy `json:"policy"`
	ConnectorID         string `json:"connectorId"`
	ConnectorAddress    string `json:"connectorAddress"`
	Protocol            string `json:"protocol"`
	LocalParticipantID  string `json:"localParticipantId"`
	RemoteParticipantID string `json:"remoteParticipantId"`
}

// idResponse is the control plane's acknowledgement of a create/update.
type idResponse struct {
	ID string `json:"@id"`
}

// InitiateNegotiation submits a negotiation request and returns the
// negotiation id.
func (c *Client) InitiateNegotiation(ctx context.Context, req NegotiationRequest) (string, error) {
	var resp idResponse
	if err := c.post(ctx, c.baseURL+"/v2/edrs", req, &resp); err != nil {
		return "", fmt.Errorf("controlplane: initiate negotiation for %s: %w", req.AssetID, err)
	}
	return resp.ID, nil
}

// Terminal negotiation states reported by the control plane.
const (
	StateNegotiated = "NEGOTIATED"
	StateTerminated = "TERMINATED"
)

// Negotiation is the transient state of one negotiation attempt.
type Negotiation struct {
	ID                string `json:"@id"`
	State             string `json:"tx:edrState"`
	ErrorDetail       string `json:"errorDetail,omitempty"`
	TransferProcessID string `json:"transferProcessId"`
	AgreementID       string `json:"agreementId,omitempty"`
}

// GetNegotiations returns the negotiation entries currently known for
// an asset.
func (c *Client) GetNegotiations(ctx context.Context, assetID string) ([]Negotiation, error) {
	req := CatalogQuery{Filter: []Criterion{{
		OperandLeft:  "assetId",
		Operator:     "=",
		OperandRight: assetID,
	}}}
	var negotiations []Negotiation
	if err := c.post(ctx, c.baseURL+"/v2/edrs/request", req, &negotiations); err != nil {
		return nil, fmt.Errorf("controlplane: get negotiations for %s: %w", assetID, err)
	}
	return negotiations, nil
}

// EndpointRef is the transfer credential tied to a transfer process.
type EndpointRef struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
	AuthKey  string `json:"authKey"`
	AuthCode string `json:"authorization"`
}

// GetTransferCredentials fetches the data address (endpoint plus
// authorization header) for a transfer process.
func (c *Client) GetTransferCredentials(ctx context.Context, transferProcessID string) (*EndpointRef, error) {
	var ref EndpointRef
	target := fmt.Sprintf("%s/v2/edrs/%s/dataaddress", c.baseURL, url.PathEscape(transferProcessID))
	if err := c.get(ctx, target, &ref); err != nil {
		return nil, fmt.Errorf("controlplane: get transfer credentials %s: %w", transferProcessID, err)
	}
	return &ref, nil
}

// assetRequest is the wire form of a provider-side asset registration.
type assetRequest struct {
	ID          string            `json:"@id"`
	Properties  map[string]any    `json:"properties"`
	DataAddress map[string]string `json:"dataAddress"`
}

// CreateOrUpdateSkill registers a stored query asset on the provider
// control plane.
func (c *Client) CreateOrUpdateSkill(ctx context.Context, assetID, name, description, version, contract, distributionMode string, isFederated bool, query string) (string, error) {
	req := assetRequest{
		ID: assetID,
		Properties: map[string]any{
			"https://w3id.org/catenax/ontology/common#name":                   name,
			"https://purl.org/dc/terms/description":                           description,
			"https://w3id.org/catenax/ontology/common#version":                version,
			"https://w3id.org/catenax/ontology/common#isFederated":            isFederated,
			"https://w3id.org/catenax/ontology/common#publishedUnderContract": contract,
			"https://w3id.org/catenax/ontology/common#distributionMode":       distributionMode,
			"https://purl.org/dc/terms/type":                                  "cx-common:SkillAsset",
			"https://w3id.org/catenax/ontology/common#query":                  query,
		},
		DataAddress: map[string]string{"type": "HttpData"},
	}
	var resp idResponse
	if err := c.post(ctx, c.providerURL+"/v3/assets", req, &resp); err != nil {
		return "", fmt.Errorf("controlplane: create skill %s: %w", assetID, err)
	}
	return resp.ID, nil
}

// CreateOrUpdateGraph registers a graph asset on the provider control
// plane.
func (c *Client) CreateOrUpdateGraph(ctx context.Context, assetID, name, description, version, contract, shape string, isFederated bool) (string, error) {
	req := assetRequest{
		ID: assetID,
		Properties: map[string]any{
			"https://w3id.org/catenax/ontology/common#name":                   name,
			"https://purl.org/dc/terms/description":                           description,
			"https://w3id.org/catenax/ontology/common#version":                version,
			"https://w3id.org/catenax/ontology/common#isFederated":            isFederated,
			"https://w3id.org/catenax/ontology/common#publishedUnderContract": contract,
			"http://www.w3.org/ns/shacl#shapesGraph":                          shape,
			"https://purl.org/dc/terms/type":                                  "cx-common:GraphAsset",
		},
		DataAddress: map[string]string{"type": "HttpData"},
	}
	var resp idResponse
	if err := c.post(ctx, c.providerURL+"/v3/assets", req, &resp); err != nil {
		return "", fmt.Errorf("controlplane: create graph %s: %w", assetID, err)
	}
	return resp.ID, nil
}

// DeleteAsset removes a provider-side asset registration.
func (c *Client) DeleteAsset(ctx context.Context, assetID string) error {
	target := fmt.Sprintf("%s/v3/assets/%s", c.providerURL, url.PathEscape(assetID))
	if err := c.do(ctx, http.MethodDelete, target, nil, nil); err != nil {
		return fmt.Errorf("controlplane: delete asset %s: %w", assetID, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, target string, body, out any) error {
	return c.do(ctx, http.MethodPost, target, body, out)
}

func (c *Client) get(ctx context.Context, target string, out any) error {
	return c.do(ctx, http.MethodGet, target, nil, out)
}

func (c *Client) do(ctx context.Context, method, target string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authHeader != "" && c.authValue != "" {
		req.Header.Set(c.authHeader, c.authValue)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(message))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
