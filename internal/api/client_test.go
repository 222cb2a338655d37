package api

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/httpclient"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/session"
)

// stubTokens is a TokenSource that swaps to a fixed renewed token.
type stubTokens struct {
	mu         sync.Mutex
	access     string
	renewed    string
	failWith   error
	refreshes  []string
	logoutSeen atomic.Bool
}

func (s *stubTokens) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access
}

func (s *stubTokens) Refresh(_ context.Context, stale string) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes = append(s.refreshes, stale)
	if s.failWith != nil {
		return session.Session{}, NewAuthError(s.failWith)
	}
	s.access = s.renewed
	return session.Session{Access: s.renewed, Refresh: "r"}, nil
}

func (s *stubTokens) Logout(context.Context) {
	s.logoutSeen.Store(true)
	s.mu.Lock()
	s.access = ""
	s.mu.Unlock()
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, baseURL string, tokens TokenSource) *Client {
	t.Helper()
	hc := httpclient.New(nil)
	t.Cleanup(hc.Close)
	return NewClient(baseURL, hc, tokens, nil)
}

func bearer(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) < len(prefix) {
		return ""
	}
	return h[len(prefix):]
}

func TestRequestAttachesBearerAndDecodes(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get(httpclient.RequestIDHeader))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"site_name":"NINA-01"}]`))
	})
	client := newTestClient(t, server.URL, &stubTokens{access: "tok-1"})

	var out []map[string]string
	require.NoError(t, client.Get(t.Context(), "/api/deployment/", &out))
	require.Len(t, out, 1)
	assert.Equal(t, "NINA-01", out[0]["site_name"])
}

func TestUnauthorizedRefreshesAndRetriesOnce(t *testing.T) {
	var calls atomic.Int32
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if bearer(r) != "tok-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "dep-1", body["deployment_ID"], "body is resent on retry")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	tokens := &stubTokens{access: "tok-1", renewed: "tok-2"}
	client := newTestClient(t, server.URL, tokens)

	var out map[string]bool
	status, err := client.Send(t.Context(), http.MethodPost, "/api/deployment/upsert_deployment/",
		map[string]string{"deployment_ID": "dep-1"}, &out)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.True(t, out["ok"])
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []string{"tok-1"}, tokens.refreshes, "refresh receives the token that was rejected")
	assert.False(t, tokens.logoutSeen.Load())
}

func TestSecondUnauthorizedLogsOut(t *testing.T) {
	var calls atomic.Int32
	server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Given token not valid for any token type"}`))
	})
	tokens := &stubTokens{access: "tok-1", renewed: "tok-2"}
	client := newTestClient(t, server.URL, tokens)

	err := client.Get(t.Context(), "/api/observation/", nil)
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.True(t, errors.IsCategory(err, errors.CategoryAuth))
	assert.True(t, tokens.logoutSeen.Load())
	assert.Equal(t, int32(2), calls.Load(), "exactly one retry")
}

func TestRefreshFailureSurfacesAuthError(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	tokens := &stubTokens{access: "tok-1", failWith: errors.NewStd("refresh token expired")}
	client := newTestClient(t, server.URL, tokens)

	err := client.Get(t.Context(), "/api/devices/", nil)
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
}

func TestHTTPErrorCarriesBackendMessage(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/api/datafile/99/" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"detail":"Not found."}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"deployment_ID is required","field":"deployment_ID"}`))
	})
	client := newTestClient(t, server.URL, &stubTokens{access: "tok"})

	err := client.Post(t.Context(), "/api/deployment/upsert_deployment/", map[string]string{}, nil)
	require.Error(t, err)
	httpErr, ok := AsHTTPError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.Status)
	assert.Equal(t, "deployment_ID is required", httpErr.Message)
	assert.JSONEq(t, `{"error":"deployment_ID is required","field":"deployment_ID"}`, string(httpErr.Body))
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))

	err = client.Get(t.Context(), "/api/datafile/99/", nil)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
}

func TestHTTPErrorWithoutJSONBody(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	client := newTestClient(t, server.URL, &stubTokens{access: "tok"})

	err := client.Get(t.Context(), "/api/deployment/", nil)
	httpErr, ok := AsHTTPError(err)
	require.True(t, ok)
	assert.Nil(t, httpErr.Body)
	assert.Equal(t, http.StatusText(http.StatusBadGateway), httpErr.Message)
}

func TestNetworkErrorIsDistinguishable(t *testing.T) {
	hc := httpclient.New(nil)
	t.Cleanup(hc.Close)
	httpmock.ActivateNonDefault(hc.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder(http.MethodGet, "http://portal.test/api/deployment/",
		httpmock.NewErrorResponder(io.ErrUnexpectedEOF))

	client := NewClient("http://portal.test", hc, &stubTokens{access: "tok"}, nil)
	err := client.Get(t.Context(), "/api/deployment/", nil)
	require.Error(t, err)
	assert.True(t, IsNetworkError(err))
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
	assert.False(t, IsAuthError(err))
	_, isHTTP := AsHTTPError(err)
	assert.False(t, isHTTP)
}

func TestDownloadStreamsBody(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFF...."))
	})
	client := newTestClient(t, server.URL, &stubTokens{access: "tok"})

	body, contentType, err := client.Download(t.Context(), "/api/datafile/5/download/")
	require.NoError(t, err)
	defer func() { _ = body.Close() }()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "RIFF....", string(data))
	assert.Equal(t, "audio/wav", contentType)
}

func TestPostMultipartRebuildsBodyOnRetry(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "NINA-01", r.FormValue("site_name"))
		if bearer(r) != "tok-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"created_files":1}`))
	})
	tokens := &stubTokens{access: "tok-1", renewed: "tok-2"}
	client := newTestClient(t, server.URL, tokens)

	builds := 0
	var out struct {
		CreatedFiles int `json:"created_files"`
	}
	_, err := client.PostMultipart(t.Context(), "/api/datafile/register_audio_files/", func(mw *multipart.Writer) error {
		builds++
		return mw.WriteField("site_name", "NINA-01")
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, 2, builds)
	assert.Equal(t, 1, out.CreatedFiles)
}

func TestEndpointLabel(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/deployment/", "/api/deployment/"},
		{"/api/datafile/12/quality_status/", "/api/datafile/{id}/quality_status/"},
		{"/api/deployment/by_site/NINA-01/", "/api/deployment/by_site/{site}/"},
		{"/api/devices/DEV-9", "/api/devices/{id}"},
		{"/api/devices/upsert_device/", "/api/devices/upsert_device/"},
		{"/api/devices/by_site/NINA-01/", "/api/devices/by_site/{site}/"},
		{"/api/datafile/date_range?site_name=x", "/api/datafile/date_range"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, endpointLabel(tt.path))
		})
	}
}
