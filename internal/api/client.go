// Package api is the authenticated fetch layer for the sensor portal backend.
//
// Every request carries the current bearer token, read at send time. A 401
// triggers one coalesced session refresh and exactly one retry; a second 401
// logs the session out and surfaces an AuthError.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/httpclient"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/logger"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/observability/metrics"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/session"
)

// TokenSource supplies and renews the bearer token. auth.Manager implements it.
type TokenSource interface {
	AccessToken() string
	Refresh(ctx context.Context, staleAccess string) (session.Session, error)
	Logout(ctx context.Context)
}

// Client sends authenticated requests relative to the backend base URL.
type Client struct {
	baseURL string
	http    *httpclient.Client
	tokens  TokenSource
	metrics *metrics.ClientMetrics
	log     logger.Logger
}

// NewClient returns a Client for baseURL. m may be nil.
func NewClient(baseURL string, httpClient *httpclient.Client, tokens TokenSource, m *metrics.ClientMetrics) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
		metrics: m,
		log:     logger.Global().Module("api"),
	}
}

// bodyFunc produces a fresh request body for every attempt.
type bodyFunc func() (io.Reader, string, error)

func jsonBody(body any) (bodyFunc, error) {
	if body == nil {
		return nil, nil
	}
	reader, isJSON, err := httpclient.EncodeBody(body)
	if err != nil {
		return nil, errors.New(err).Component("api").Category(errors.CategoryValidation).Build()
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	contentType := ""
	if isJSON {
		contentType = "application/json"
	}
	return func() (io.Reader, string, error) {
		return bytes.NewReader(data), contentType, nil
	}, nil
}

// Request sends body as JSON and decodes a JSON response into out.
// out may be nil to discard the response.
func (c *Client) Request(ctx context.Context, method, path string, body, out any) error {
	_, err := c.Send(ctx, method, path, body, out)
	return err
}

// Send is Request that also reports the success status code, for endpoints
// where 200 and 201 mean different things.
func (c *Client) Send(ctx context.Context, method, path string, body, out any) (int, error) {
	fn, err := jsonBody(body)
	if err != nil {
		return 0, err
	}
	resp, err := c.do(ctx, method, path, fn)
	if err != nil {
		return 0, err
	}
	defer closeBody(resp)
	return resp.StatusCode, decode(resp, out)
}

// Get is Request with GET.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Request(ctx, http.MethodGet, path, nil, out)
}

// Post is Request with POST.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Request(ctx, http.MethodPost, path, body, out)
}

// Delete is Request with DELETE.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.Request(ctx, http.MethodDelete, path, nil, nil)
}

// Download streams a binary response. The caller closes the returned body.
func (c *Client) Download(ctx context.Context, path string) (io.ReadCloser, string, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, "", err
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

// PostMultipart posts a multipart form written by build. build runs once per
// attempt, so it must be repeatable.
func (c *Client) PostMultipart(ctx context.Context, path string, build func(*multipart.Writer) error, out any) (int, error) {
	fn := func() (io.Reader, string, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		if err := build(mw); err != nil {
			return nil, "", err
		}
		if err := mw.Close(); err != nil {
			return nil, "", err
		}
		return &buf, mw.FormDataContentType(), nil
	}
	resp, err := c.do(ctx, http.MethodPost, path, fn)
	if err != nil {
		return 0, err
	}
	defer closeBody(resp)
	return resp.StatusCode, decode(resp, out)
}

// do performs the authenticated exchange and returns a 2xx response.
func (c *Client) do(ctx context.Context, method, path string, body bodyFunc) (*http.Response, error) {
	token := c.tokens.AccessToken()
	resp, err := c.send(ctx, method, path, body, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		closeBody(resp)
		c.log.WithContext(ctx).Debug("access token rejected, refreshing",
			logger.String("method", method),
			logger.String("endpoint", endpointLabel(path)))

		renewed, err := c.tokens.Refresh(ctx, token)
		if err != nil {
			return nil, err
		}

		resp, err = c.send(ctx, method, path, body, renewed.Access)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			httpErr := CheckResponse(resp)
			closeBody(resp)
			c.tokens.Logout(ctx)
			return nil, NewAuthError(httpErr)
		}
	}

	if err := CheckResponse(resp); err != nil {
		closeBody(resp)
		return nil, err
	}
	return resp, nil
}

func (c *Client) send(ctx context.Context, method, path string, body bodyFunc, token string) (*http.Response, error) {
	target := c.resolve(path)

	var reader io.Reader = http.NoBody
	contentType := ""
	if body != nil {
		var err error
		reader, contentType, err = body()
		if err != nil {
			return nil, errors.New(err).Component("api").Category(errors.CategoryFileIO).Build()
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, errors.New(err).Component("api").Category(errors.CategoryValidation).Context("url", target).Build()
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	endpoint := endpointLabel(path)
	start := time.Now()
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		c.metrics.RecordNetworkError(method, endpoint)
		c.log.WithContext(ctx).Warn("backend request failed",
			logger.String("method", method),
			logger.String("endpoint", endpoint),
			logger.Error(err))
		return nil, newNetworkError(ctx, err, target)
	}
	c.metrics.RecordRequest(method, endpoint, resp.StatusCode, time.Since(start))
	return resp, nil
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func decode(resp *http.Response, out any) error {
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.New(fmt.Errorf("decode response: %w", err)).
			Component("api").
			Category(errors.CategoryFileParsing).
			Build()
	}
	return nil
}

func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}

var numericSegment = regexp.MustCompile(`^\d+$`)

// endpointLabel reduces a request path to a low-cardinality route label.
func endpointLabel(path string) string {
	if u, err := url.Parse(path); err == nil {
		path = u.Path
	}
	segments := strings.Split(path, "/")
	prev := ""
	for i, seg := range segments {
		switch {
		case seg == "":
		case numericSegment.MatchString(seg):
			segments[i] = "{id}"
		case prev == "by_site":
			segments[i] = "{site}"
		case prev == "devices" && seg != "by_site" && !strings.HasPrefix(seg, "upsert"):
			segments[i] = "{id}"
		}
		prev = seg
	}
	return strings.Join(segments, "/")
}

// Query builds an encoded query string from key/value pairs.
func Query(pairs ...string) string {
	values := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		values.Set(pairs[i], pairs[i+1])
	}
	return values.Encode()
}
