package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/logger"
)

func TestGetInjectsHeaders(t *testing.T) {
	var gotUA, gotID string
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotID = r.Header.Get(RequestIDHeader)
		_, _ = io.WriteString(w, "ok")
	})

	client := newTestClient(t)
	resp, err := client.Get(t.Context(), server.URL)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, defaultUserAgent, gotUA)
	assert.Len(t, gotID, 36)
}

func TestRequestIDFollowsTraceID(t *testing.T) {
	var gotID string
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get(RequestIDHeader)
	})

	client := newTestClient(t)
	ctx := logger.WithTraceID(t.Context(), "trace-42")
	resp, err := client.Get(ctx, server.URL)
	require.NoError(t, err)
	closeResponseBody(t, resp)

	assert.Equal(t, "trace-42", gotID)
}

func TestBodyReadableAfterDo(t *testing.T) {
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access":"A1"}`)
	})

	cfg := DefaultConfig()
	cfg.DefaultTimeout = time.Second
	client := New(&cfg)
	t.Cleanup(client.Close)

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	defer closeResponseBody(t, resp)

	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "A1", payload["access"])
}

func TestPostEncodesJSON(t *testing.T) {
	var gotType string
	var got map[string]string
	server := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&got)
	})

	client := newTestClient(t)
	resp, err := client.Post(t.Context(), server.URL, "", map[string]string{"username": "tech"})
	require.NoError(t, err)
	closeResponseBody(t, resp)

	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "tech", got["username"])
}

func TestHooksObserveRequests(t *testing.T) {
	client := newTestClient(t)
	httpmock.ActivateNonDefault(client.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder(http.MethodGet, "https://portal.example.org/api/devices/",
		httpmock.NewStringResponder(http.StatusOK, `[]`))

	var before, after atomic.Int32
	var status int
	client.SetBeforeRequestHook(func(*http.Request) { before.Add(1) })
	client.SetAfterResponseHook(func(_ *http.Request, resp *http.Response, err error) {
		after.Add(1)
		if err == nil {
			status = resp.StatusCode
		}
	})

	resp, err := client.Get(t.Context(), "https://portal.example.org/api/devices/")
	require.NoError(t, err)
	closeResponseBody(t, resp)

	assert.Equal(t, int32(1), before.Load())
	assert.Equal(t, int32(1), after.Load())
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestRateLimiterHonoursContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 1
	client := New(&cfg)
	t.Cleanup(client.Close)
	httpmock.ActivateNonDefault(client.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	httpmock.RegisterResponder(http.MethodGet, "https://portal.example.org/",
		httpmock.NewStringResponder(http.StatusOK, ""))

	resp, err := client.Get(t.Context(), "https://portal.example.org/")
	require.NoError(t, err)
	closeResponseBody(t, resp)

	// The bucket is empty now and refills far slower than the deadline.
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Get(ctx, "https://portal.example.org/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
}

func TestEncodeBody(t *testing.T) {
	r, isJSON, err := EncodeBody(nil)
	require.NoError(t, err)
	assert.Equal(t, http.NoBody, r)
	assert.False(t, isJSON)

	_, isJSON, err = EncodeBody(struct{ A int }{1})
	require.NoError(t, err)
	assert.True(t, isJSON)

	_, _, err = EncodeBody(func() {})
	assert.Error(t, err)
}
