// Package agreement implements the per-asset contract negotiation state
// machine and the endpoint-reference cache consulted before every
// federated call.
package agreement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ashita-ai/tsunagu/internal/controlplane"
)

// tokenLeeway is the minimum remaining token lifetime for a cached
// reference to be served. Anything closer to expiry forces a fresh
// negotiation.
const tokenLeeway = 30 * time.Second

// ErrNoOffer is returned when the remote connector advertises no
// contract offer for the requested asset.
var ErrNoOffer = errors.New("agreement: no contract offer for asset")

// EndpointRef is a resolved, cached agreement: the backing endpoint,
// the authorization header to present there, and free-form properties
// merged from the originating catalog entry.
type EndpointRef struct {
	Endpoint   string
	AuthKey    string
	AuthCode   string
	Properties map[string]string
}

// ControlPlane is the subset of the management API the controller
// needs.
type ControlPlane interface {
	FindContractOffers(ctx context.Context, remoteURL, assetID string) (*controlplane.Catalog, error)
	InitiateNegotiation(ctx context.Context, req controlplane.NegotiationRequest) (string, error)
	GetNegotiations(ctx context.Context, assetID string) ([]controlplane.Negotiation, error)
	GetTransferCredentials(ctx context.Context, transferProcessID string) (*controlplane.EndpointRef, error)
}

// Config holds the controller settings.
type Config struct {
	ParticipantID string
	Timeout       time.Duration // overall negotiation deadline
	PollInterval  time.Duration // negotiation status poll interval
}

// Controller negotiates and caches endpoint references per asset.
//
// Two locks guard the shared state: the active-asset set and the
// reference cache, always acquired in that order. Every failure path
// after activation deactivates the asset again, so an asset is never
// left active without a valid cache entry or an in-flight negotiation.
type Controller struct {
	cp     ControlPlane
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	activeMu sync.Mutex
	active   map[string]bool

	cacheMu sync.Mutex
	cache   map[string]EndpointRef
}

// New creates a controller.
func New(cp ControlPlane, cfg Config, logger *slog.Logger) *Controller {
	return &Controller{
		cp:     cp,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		active: make(map[string]bool),
		cache:  make(map[string]EndpointRef),
	}
}

// Get returns the cached endpoint reference for an asset, but only if
// the asset is active and the cached token is valid for at least the
// leeway window. Stale or malformed entries are evicted and the asset
// deactivated so the next caller renegotiates.
func (c *Controller) Get(assetID string) (EndpointRef, bool) {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()

	if !c.active[assetID] {
		c.logger.Debug("asset is not active", "asset", assetID)
		return EndpointRef{}, false
	}

	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	ref, ok := c.cache[assetID]
	if ok && c.tokenValid(ref.AuthCode) {
		return ref, true
	}

	c.logger.Debug("cached agreement expired or invalid, evicting", "asset", assetID)
	delete(c.cache, assetID)
	delete(c.active, assetID)
	return EndpointRef{}, false
}

// tokenValid reports whether the token's expiry claim parses and is at
// least the leeway window in the future. Malformed tokens count as
// expired.
func (c *Controller) tokenValid(token string) bool {
	if token == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Time.After(c.now().Add(tokenLeeway))
}

// activate marks the asset active and reports whether this caller is
// the first mover.
func (c *Controller) activate(assetID string) bool {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	if c.active[assetID] {
		return false
	}
	c.active[assetID] = true
	return true
}

// deactivate clears activity and evicts any cache entry. Lock order:
// active set, then cache.
func (c *Controller) deactivate(assetID string) {
	c.activeMu.Lock()
	delete(c.active, assetID)
	c.activeMu.Unlock()

	c.cacheMu.Lock()
	delete(c.cache, assetID)
	c.cacheMu.Unlock()
}

// CreateAgreement negotiates access to an asset at a remote connector
// and returns the resulting endpoint reference.
//
// The first caller for an asset submits the negotiation; concurrent
// callers for the same asset become followers of the in-flight
// negotiation and join the poll loop without submitting a second
// request (coalescing policy).
func (c *Controller) CreateAgreement(ctx context.Context, remoteURL, assetID string) (EndpointRef, error) {
	c.logger.Debug("resolving agreement", "asset", assetID, "remote", remoteURL)

	isFresh := c.activate(assetID)
	var assetProperties map[string]string

	if isFresh {
		offers, err := c.cp.FindContractOffers(ctx, remoteURL, assetID)
		if err != nil {
			c.deactivate(assetID)
			return EndpointRef{}, fmt.Errorf("agreement: resolve contract offers for %s at %s: %w", assetID, remoteURL, err)
		}
		if len(offers.Datasets) == 0 {
			c.deactivate(assetID)
			return EndpointRef{}, fmt.Errorf("%w: %s at %s", ErrNoOffer, assetID, remoteURL)
		}

		// First offer wins; there is no cost-based ranking.
		offer := offers.Datasets[0]
		assetProperties = controlplane.DatasetProperties(offer)
		policy, ok := offer.FirstPolicy()
		if !ok {
			c.deactivate(assetID)
			return EndpointRef{}, fmt.Errorf("%w: %s has no usage policy", ErrNoOffer, assetID)
		}

		negotiationID, err := c.cp.InitiateNegotiation(ctx, controlplane.NegotiationRequest{
			OfferID:             policy.ID,
			AssetID:             assetID,
			Policy:              policy,
			ConnectorID:         "provider",
			ConnectorAddress:    controlplane.DSPEndpoint(remoteURL),
			Protocol:            "dataspace-protocol-http",
			LocalParticipantID:  c.cfg.ParticipantID,
			RemoteParticipantID: offers.ParticipantID,
		})
		if err != nil {
			c.deactivate(assetID)
			return EndpointRef{}, fmt.Errorf("agreement: initiate negotiation for offer %s: %w", policy.ID, err)
		}
		c.logger.Debug("negotiation submitted", "asset", assetID, "negotiation", negotiationID, "offer", policy.ID)
	}

	negotiation, err := c.awaitNegotiation(ctx, assetID)
	if err != nil {
		// a follower's poll failure must not deactivate the asset while
		// the first mover's negotiation is still in flight, or the next
		// caller would submit a second concurrent negotiation
		if isFresh {
			c.deactivate(assetID)
		}
		return EndpointRef{}, err
	}

	credentials, err := c.cp.GetTransferCredentials(ctx, negotiation.TransferProcessID)
	if err != nil {
		c.deactivate(assetID)
		return EndpointRef{}, fmt.Errorf("agreement: retrieve transfer credentials %s for %s: %w", negotiation.TransferProcessID, assetID, err)
	}
	if credentials == nil || credentials.Endpoint == "" {
		c.deactivate(assetID)
		return EndpointRef{}, fmt.Errorf("agreement: transfer process %s yielded no endpoint for %s", negotiation.TransferProcessID, assetID)
	}

	c.register(assetID, credentials, assetProperties)

	ref, ok := c.Get(assetID)
	if !ok {
		// Token already expired between registration and read.
		return EndpointRef{}, fmt.Errorf("agreement: negotiated reference for %s is already invalid", assetID)
	}
	return ref, nil
}

// awaitNegotiation polls the control plane until the asset's
// negotiation reaches a terminal state or the configured timeout
// elapses.
func (c *Controller) awaitNegotiation(ctx context.Context, assetID string) (controlplane.Negotiation, error) {
	deadline := c.now().Add(c.cfg.Timeout)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	// remembered across polls so a timeout can still report what the
	// control plane last complained about
	var lastDetail string

	for {
		select {
		case <-ctx.Done():
			return controlplane.Negotiation{}, fmt.Errorf("agreement: negotiation for %s interrupted: %w", assetID, ctx.Err())
		case <-ticker.C:
		}

		negotiations, err := c.cp.GetNegotiations(ctx, assetID)
		if err != nil {
			c.logger.Warn("negotiation status check failed, giving up", "asset", assetID, "error", err)
			return controlplane.Negotiation{}, fmt.Errorf("agreement: check negotiation for %s: %w", assetID, err)
		}
		for _, n := range negotiations {
			if n.ErrorDetail != "" {
				lastDetail = n.ErrorDetail
			}
			switch n.State {
			case controlplane.StateNegotiated:
				return n, nil
			case controlplane.StateTerminated:
				if n.ErrorDetail != "" {
					c.logger.Error("negotiation terminated", "asset", assetID, "detail", n.ErrorDetail)
					return controlplane.Negotiation{}, fmt.Errorf("agreement: negotiation for %s terminated: %s", assetID, n.ErrorDetail)
				}
				return controlplane.Negotiation{}, fmt.Errorf("agreement: negotiation for %s terminated", assetID)
			}
		}

		if c.now().After(deadline) {
			if lastDetail != "" {
				return controlplane.Negotiation{}, fmt.Errorf("agreement: negotiation for %s timed out: %s", assetID, lastDetail)
			}
			return controlplane.Negotiation{}, fmt.Errorf("agreement: negotiation for %s timed out", assetID)
		}
	}
}

// register caches the agreement, merging in any free-form properties of
// a previously cached reference so repeated negotiations do not lose
// externally attached metadata.
func (c *Controller) register(assetID string, credentials *controlplane.EndpointRef, assetProperties map[string]string) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	properties := make(map[string]string)
	if previous, ok := c.cache[assetID]; ok {
		for k, v := range previous.Properties {
			properties[k] = v
		}
	}
	for k, v := range assetProperties {
		properties[k] = v
	}

	c.cache[assetID] = EndpointRef{
		Endpoint:   credentials.Endpoint,
		AuthKey:    credentials.AuthKey,
		AuthCode:   credentials.AuthCode,
		Properties: properties,
	}
}
