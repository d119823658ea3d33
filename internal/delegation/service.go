// Package delegation proxies agent calls to remote dataspace
// connectors, negotiating access through the agreement controller and
// demultiplexing the multipart responses of remote agents.
package delegation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ashita-ai/tsunagu/internal/agreement"
	"github.com/ashita-ai/tsunagu/internal/model"
)

// SkillContentType marks a response part carrying raw query text.
const SkillContentType = "application/sparql-query"

// WarningsContentType marks a response part carrying a warnings array.
const WarningsContentType = "application/cx-warnings+json"

var (
	// ErrForbidden is returned when the remote URL fails the
	// allow-then-deny check.
	ErrForbidden = errors.New("delegation: remote url is not allowed")
	// ErrMethodNotAllowed is returned for methods other than GET and
	// POST.
	ErrMethodNotAllowed = errors.New("delegation: method not allowed")
)

// Agreements resolves endpoint references for assets.
type Agreements interface {
	Get(assetID string) (agreement.EndpointRef, bool)
	CreateAgreement(ctx context.Context, remoteURL, assetID string) (agreement.EndpointRef, error)
}

// Config holds the delegation settings.
type Config struct {
	Allow      *regexp.Regexp
	Deny       *regexp.Regexp
	HTTPClient *http.Client
}

// Request describes one call to delegate.
type Request struct {
	Method      string
	RemoteURL   string // connector base URL, possibly edc-schemed
	Asset       string // asset or skill id at the remote
	ContentType string
	Accept      string
	Params      url.Values // forwarded minus the asset parameter
	Body        []byte
}

// Response is the demultiplexed result of a delegated call.
type Response struct {
	StatusCode  int
	ContentType string
	Header      http.Header
	Body        []byte
	Warnings    []model.Warning
	// SkillText is set when the remote returned raw query text for
	// local execution; everything else is then left empty.
	SkillText string
}

// Service delegates agent calls into the dataspace.
type Service struct {
	cfg        Config
	agreements Agreements
	logger     *slog.Logger
}

// New creates a delegation service.
func New(cfg Config, agreements Agreements, logger *slog.Logger) *Service {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Service{cfg: cfg, agreements: agreements, logger: logger}
}

// NormalizeScheme rewrites dataspace URL schemes onto their underlying
// protocol.
func NormalizeScheme(remoteURL string) string {
	switch {
	case strings.HasPrefix(remoteURL, "edcs://"):
		return "https://" + strings.TrimPrefix(remoteURL, "edcs://")
	case strings.HasPrefix(remoteURL, "edc://"):
		return "http://" + strings.TrimPrefix(remoteURL, "edc://")
	default:
		return remoteURL
	}
}

// Allowed checks a URL against the allow-then-deny pair. Deny wins.
func Allowed(remoteURL string, allow, deny *regexp.Regexp) error {
	if allow != nil && !allow.MatchString(remoteURL) {
		return fmt.Errorf("%w: %s does not match the allowed pattern %s", ErrForbidden, remoteURL, allow)
	}
	if deny != nil && deny.MatchString(remoteURL) {
		return fmt.Errorf("%w: %s matches the denied pattern %s", ErrForbidden, remoteURL, deny)
	}
	return nil
}

// Send delegates the call and returns the demultiplexed response.
func (s *Service) Send(ctx context.Context, req Request) (*Response, error) {
	if err := Allowed(req.RemoteURL, s.cfg.Allow, s.cfg.Deny); err != nil {
		return nil, err
	}
	remoteURL := NormalizeScheme(req.RemoteURL)

	if req.Method != http.MethodGet && req.Method != http.MethodPost {
		return nil, fmt.Errorf("%w: %s calls to %s", ErrMethodNotAllowed, req.Method, remoteURL)
	}

	ref, ok := s.agreements.Get(req.Asset)
	if !ok {
		var err error
		ref, err = s.agreements.CreateAgreement(ctx, remoteURL, req.Asset)
		if err != nil {
			return nil, fmt.Errorf("delegation: could not get an agreement from connector %s to asset %s: %w", remoteURL, req.Asset, err)
		}
	}

	target, err := s.buildURL(ref.Endpoint, req)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("delegating call", "method", req.Method, "url", target)

	var body io.Reader
	if req.Method == http.MethodPost {
		body = bytes.NewReader(req.Body)
	}
	outbound, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("delegation: build request: %w", err)
	}
	if req.Method == http.MethodPost && req.ContentType != "" {
		outbound.Header.Set("Content-Type", req.ContentType)
	}
	if ref.AuthKey != "" {
		outbound.Header.Set(ref.AuthKey, ref.AuthCode)
	}

	resp, err := s.cfg.HTTPClient.Do(outbound)
	if err != nil {
		return nil, fmt.Errorf("delegation: call %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		s.logger.Warn("delegated call was not successful", "url", target, "status", resp.StatusCode)
	}
	return s.demuxResponse(resp)
}

// buildURL resolves the outbound URL: agreement endpoint with a
// guaranteed trailing slash, the caller's query parameters minus the
// asset selector, and the accept hint.
func (s *Service) buildURL(endpoint string, req Request) (string, error) {
	if !strings.HasSuffix(endpoint, "/") && !strings.Contains(endpoint, "#") {
		endpoint += "/"
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("delegation: endpoint %q: %w", endpoint, err)
	}

	query := parsed.Query()
	for key, values := range req.Params {
		if key == "asset" {
			continue
		}
		for _, value := range values {
			if value != "" {
				query.Add(key, value)
			}
		}
	}
	query.Set("cx_accept", acceptHint(req.Accept))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// acceptHint derives the cx_accept query hint from the caller's Accept
// header. Anything compatible with JSON collapses onto plain JSON.
func acceptHint(accept string) string {
	if accept == "" || strings.Contains(accept, "application/json") || strings.Contains(accept, "*/*") {
		return "application/json"
	}
	return accept
}

// demuxResponse splits a possibly multipart remote response into
// warnings, skill text, and the effective body. Warnings arriving in
// the cx_warnings header combine with warnings carried as parts.
func (s *Service) demuxResponse(resp *http.Response) (*Response, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("delegation: read response: %w", err)
	}
	contentType := resp.Header.Get("Content-Type")

	out := &Response{
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Header:      make(http.Header),
		Body:        raw,
	}
	if parts, ok := sniffMultipart(raw, contentType); ok {
		skillText, body, bodyType, warnings := walkParts(parts)
		if skillText != "" {
			out.SkillText = skillText
			return out, nil
		}
		out.Body = body
		out.ContentType = bodyType
		out.Warnings = warnings
	}
	if out.ContentType == SkillContentType {
		out.SkillText = string(out.Body)
		return out, nil
	}

	if headerWarnings := model.DecodeWarnings(resp.Header.Get(model.WarningsHeader)); headerWarnings != nil {
		out.Warnings = append(out.Warnings, headerWarnings...)
	}
	for key, values := range resp.Header {
		if strings.EqualFold(key, "Content-Length") || strings.EqualFold(key, model.WarningsHeader) {
			continue
		}
		for _, value := range values {
			out.Header.Add(key, value)
		}
	}
	return out, nil
}
