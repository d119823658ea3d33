package controlplane

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestGetCatalogSendsFederatedFilter(t *testing.T) {
	var got catalogRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/catalog/request", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(Catalog{ParticipantID: "BPNL02", Datasets: []Dataset{{ID: "asset1"}}})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, AuthHeader: "X-Api-Key", AuthValue: "secret"}, testLogger())
	catalog, err := c.GetCatalog(context.Background(), "http://remote.example.com", FederatedAssetQuery())
	require.NoError(t, err)

	assert.Equal(t, "http://remote.example.com/api/v1/dsp", got.CounterPartyAddress)
	require.Len(t, got.QuerySpec.Filter, 1)
	assert.Equal(t, "true^^xsd:boolean", got.QuerySpec.Filter[0].OperandRight)
	assert.Equal(t, "BPNL02", catalog.ParticipantID)
	require.Len(t, catalog.Datasets, 1)
}

func TestInitiateNegotiationReturnsID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/edrs", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"@id": "negotiation-1"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, testLogger())
	id, err := c.InitiateNegotiation(context.Background(), NegotiationRequest{AssetID: "asset1"})
	require.NoError(t, err)
	assert.Equal(t, "negotiation-1", id)
}

func TestGetNegotiationsFiltersByAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/edrs/request", r.URL.Path)
		var query CatalogQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&query))
		require.Len(t, query.Filter, 1)
		assert.Equal(t, "asset1", query.Filter[0].OperandRight)
		_ = json.NewEncoder(w).Encode([]Negotiation{{ID: "n1", State: "NEGOTIATED", TransferProcessID: "tp1"}})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, testLogger())
	negotiations, err := c.GetNegotiations(context.Background(), "asset1")
	require.NoError(t, err)
	require.Len(t, negotiations, 1)
	assert.Equal(t, "tp1", negotiations[0].TransferProcessID)
}

func TestGetTransferCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/edrs/tp1/dataaddress", r.URL.Path)
		_ = json.NewEncoder(w).Encode(EndpointRef{Endpoint: "http://data.example.com", AuthKey: "Authorization", AuthCode: "token"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, testLogger())
	ref, err := c.GetTransferCredentials(context.Background(), "tp1")
	require.NoError(t, err)
	assert.Equal(t, "http://data.example.com", ref.Endpoint)
	assert.Equal(t, "Authorization", ref.AuthKey)
}

func TestErrorCarriesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such asset", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL}, testLogger())
	_, err := c.GetTransferCredentials(context.Background(), "missing")
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "no such asset", apiErr.Message)
}

func TestAsString(t *testing.T) {
	assert.Equal(t, "plain", AsString("plain"))
	assert.Equal(t, "true", AsString(true))
	assert.Equal(t, "42", AsString(float64(42)))
	assert.Equal(t, "wrapped", AsString(map[string]any{"@value": "wrapped"}))
	assert.Equal(t, "urn:x", AsString(map[string]any{"@id": "urn:x"}))
	assert.Equal(t, "", AsString(nil))
}
