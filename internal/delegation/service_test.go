package delegation

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tsunagu/internal/agreement"
	"github.com/ashita-ai/tsunagu/internal/model"
)

type fakeAgreements struct {
	refs       map[string]agreement.EndpointRef
	negotiated []string
}

func (f *fakeAgreements) Get(assetID string) (agreement.EndpointRef, bool) {
	ref, ok := f.refs[assetID]
	return ref, ok
}

func (f *fakeAgreements) CreateAgreement(ctx context.Context, remoteURL, assetID string) (agreement.EndpointRef, error) {
	f.negotiated = append(f.negotiated, assetID)
	ref := agreement.EndpointRef{Endpoint: remoteURL, AuthKey: "Authorization", AuthCode: "negotiated-token"}
	f.refs[assetID] = ref
	return ref, nil
}

func newService(agreements Agreements) *Service {
	return New(Config{
		Allow: regexp.MustCompile(`(http|edc)s?://.*`),
		Deny:  regexp.MustCompile(`^$`),
	}, agreements, slog.New(slog.DiscardHandler))
}

func TestSendRejectsDeniedURL(t *testing.T) {
	s := New(Config{
		Allow: regexp.MustCompile(`(http|edc)s?://.*`),
		Deny:  regexp.MustCompile(`http://internal\..*`),
	}, &fakeAgreements{refs: map[string]agreement.EndpointRef{}}, slog.New(slog.DiscardHandler))

	_, err := s.Send(context.Background(), Request{Method: http.MethodGet, RemoteURL: "http://internal.example.com", Asset: "a"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSendRejectsUnsupportedMethod(t *testing.T) {
	s := newService(&fakeAgreements{refs: map[string]agreement.EndpointRef{}})
	_, err := s.Send(context.Background(), Request{Method: http.MethodDelete, RemoteURL: "http://remote.example.com", Asset: "a"})
	assert.ErrorIs(t, err, ErrMethodNotAllowed)
}

func TestSendForwardsParamsAndAuth(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	agreements := &fakeAgreements{refs: map[string]agreement.EndpointRef{
		"asset1": {Endpoint: srv.URL, AuthKey: "Authorization", AuthCode: "cached-token"},
	}}
	s := newService(agreements)

	resp, err := s.Send(context.Background(), Request{
		Method:    http.MethodGet,
		RemoteURL: "edc://remote.example.com",
		Asset:     "asset1",
		Accept:    "text/turtle",
		Params:    url.Values{"asset": {"asset1"}, "vin": {"WBA123"}},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	query := got.URL.Query()
	assert.Equal(t, "WBA123", query.Get("vin"))
	assert.Empty(t, query.Get("asset"), "asset selector must not leak to the remote")
	assert.Equal(t, "text/turtle", query.Get("cx_accept"))
	assert.Equal(t, "cached-token", got.Header.Get("Authorization"))
	assert.Empty(t, agreements.negotiated, "a cached agreement needs no negotiation")
}

func TestSendNegotiatesWhenNotCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "negotiated-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	agreements := &fakeAgreements{refs: map[string]agreement.EndpointRef{}}
	s := newService(agreements)

	_, err := s.Send(context.Background(), Request{Method: http.MethodGet, RemoteURL: srv.URL, Asset: "asset1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"asset1"}, agreements.negotiated)
}

func TestSendMergesHeaderAndPartWarnings(t *testing.T) {
	multipartBody := "--frontier\n" +
		"Content-Type: application/cx-warnings+json\n" +
		"\n" +
		`[{"source":"remote","message":"partial result"}]` + "\n" +
		"--frontier\n" +
		"Content-Type: application/sparql-results+json\n" +
		"\n" +
		`{"results":{"bindings":[]}}` + "\n" +
		"--frontier--\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/mixed;boundary=frontier")
		w.Header().Set(model.WarningsHeader, `[{"source":"header","message":"from header"}]`)
		_, _ = w.Write([]byte(multipartBody))
	}))
	defer srv.Close()

	agreements := &fakeAgreements{refs: map[string]agreement.EndpointRef{
		"asset1": {Endpoint: srv.URL},
	}}
	s := newService(agreements)

	resp, err := s.Send(context.Background(), Request{Method: http.MethodGet, RemoteURL: srv.URL, Asset: "asset1"})
	require.NoError(t, err)

	require.Len(t, resp.Warnings, 2, "part warnings and header warnings combine")
	assert.Equal(t, "remote", resp.Warnings[0].Source)
	assert.Equal(t, "header", resp.Warnings[1].Source)
	assert.Equal(t, "application/sparql-results+json", resp.ContentType)
	assert.JSONEq(t, `{"results":{"bindings":[]}}`, string(resp.Body))
	assert.Empty(t, resp.Header.Get(model.WarningsHeader))
	assert.Empty(t, resp.Header.Get("Content-Length"))
}

func TestSendShortCircuitsSkillText(t *testing.T) {
	multipartBody := "--frontier\n" +
		"Content-Type: application/sparql-query\n" +
		"\n" +
		"SELECT ?s WHERE { ?s ?p ?o }\n" +
		"--frontier--\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/mixed;boundary=frontier")
		_, _ = w.Write([]byte(multipartBody))
	}))
	defer srv.Close()

	agreements := &fakeAgreements{refs: map[string]agreement.EndpointRef{
		"skill1": {Endpoint: srv.URL},
	}}
	s := newService(agreements)

	resp, err := s.Send(context.Background(), Request{Method: http.MethodGet, RemoteURL: srv.URL, Asset: "skill1"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT ?s WHERE { ?s ?p ?o }", resp.SkillText)
}

func TestSendTreatsPlainQueryBodyAsSkill(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", SkillContentType)
		_, _ = w.Write([]byte("SELECT * WHERE { ?s ?p ?o }"))
	}))
	defer srv.Close()

	agreements := &fakeAgreements{refs: map[string]agreement.EndpointRef{
		"skill1": {Endpoint: srv.URL},
	}}
	s := newService(agreements)

	resp, err := s.Send(context.Background(), Request{Method: http.MethodGet, RemoteURL: srv.URL, Asset: "skill1"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * WHERE { ?s ?p ?o }", resp.SkillText)
}

func TestNormalizeScheme(t *testing.T) {
	assert.Equal(t, "http://a.example.com", NormalizeScheme("edc://a.example.com"))
	assert.Equal(t, "https://b.example.com", NormalizeScheme("edcs://b.example.com"))
	assert.Equal(t, "https://c.example.com", NormalizeScheme("https://c.example.com"))
}

func TestSniffMultipartIgnoresPlainBodies(t *testing.T) {
	_, ok := sniffMultipart([]byte(`{"plain":"json"}`), "application/json")
	assert.False(t, ok)

	// starts with the marker but never repeats it
	_, ok = sniffMultipart([]byte("--just a dashed line"), "text/plain")
	assert.False(t, ok)
}
