package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
)

// maxErrorBody bounds how much of a failed response is kept.
const maxErrorBody = 64 << 10

// HTTPError is a non-2xx response from the backend.
type HTTPError struct {
	Status  int
	Body    json.RawMessage // parsed JSON body when the backend sent one, else nil
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
}

// NetworkError means the request never reached the backend.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError means the session could not be refreshed. The session has been
// logged out by the time it is returned.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "authentication required"
	}
	return "authentication required: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error { return e.Err }

// ErrNotLoggedIn is wrapped in an AuthError when no session exists.
var ErrNotLoggedIn = errors.NewStd("not logged in")

// CheckResponse returns nil for 2xx responses and an HTTPError otherwise.
// The body is consumed on error.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	httpErr := &HTTPError{Status: resp.StatusCode}
	if json.Valid(raw) && len(strings.TrimSpace(string(raw))) > 0 {
		httpErr.Body = json.RawMessage(raw)
	}
	httpErr.Message = errorMessage(httpErr.Body, raw, resp.StatusCode)

	category := errors.CategoryHTTP
	if resp.StatusCode == http.StatusNotFound {
		category = errors.CategoryNotFound
	}

	b := errors.New(httpErr).
		Component("api").
		Category(category).
		Context("status_code", resp.StatusCode)
	if resp.Request != nil && resp.Request.URL != nil {
		b = b.Context("endpoint", endpointLabel(resp.Request.URL.Path))
	}
	return b.Build()
}

// errorMessage prefers the backend's own "error" or "detail" text verbatim.
func errorMessage(body json.RawMessage, raw []byte, status int) string {
	if body != nil {
		var fields struct {
			Error  any `json:"error"`
			Detail any `json:"detail"`
		}
		if err := json.Unmarshal(body, &fields); err == nil {
			if s := stringField(fields.Error); s != "" {
				return s
			}
			if s := stringField(fields.Detail); s != "" {
				return s
			}
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && body == nil && len(text) < 200 {
		return text
	}
	return http.StatusText(status)
}

func stringField(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func newNetworkError(ctx context.Context, err error, url string) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return errors.New(err).Component("api").Category(errors.CategoryCancellation).Context("url", url).Build()
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errors.New(&NetworkError{URL: url, Err: err}).
			Component("api").
			Category(errors.CategoryTimeout).
			Context("url", url).
			Build()
	}
	return errors.New(&NetworkError{URL: url, Err: err}).
		Component("api").
		Category(errors.CategoryNetwork).
		Context("url", url).
		Build()
}

// NewAuthError wraps cause as an AuthError.
func NewAuthError(cause error) error {
	return errors.New(&AuthError{Err: cause}).
		Component("auth").
		Category(errors.CategoryAuth).
		Build()
}

// AsHTTPError extracts the HTTPError from err's chain.
func AsHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	ok := errors.As(err, &httpErr)
	return httpErr, ok
}

// IsAuthError reports whether err means the user must log in again.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsNetworkError reports whether err is a transport failure. These are
// transient and safe to retry.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsValidationError reports whether err was raised before any network call.
func IsValidationError(err error) bool {
	return errors.IsCategory(err, errors.CategoryValidation)
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	if httpErr, ok := AsHTTPError(err); ok {
		return httpErr.Status
	}
	return 0
}
