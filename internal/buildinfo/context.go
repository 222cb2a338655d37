// Package buildinfo holds build-time metadata that is injected through
// linker flags and kept apart from user configuration.
package buildinfo

import "strings"

// UnknownValue is reported for metadata that was not set at build time.
const UnknownValue = "unknown"

// Product is the name used in user agents and error reports.
const Product = "pam-client"

// BuildInfo provides access to build-time metadata.
type BuildInfo interface {
	Version() string
	BuildDate() string
}

// Context contains the metadata of the running binary.
type Context struct {
	version   string
	buildDate string
}

var _ BuildInfo = (*Context)(nil)

// NewContext returns build metadata. Surrounding whitespace from ldflags is trimmed.
func NewContext(version, buildDate string) *Context {
	return &Context{
		version:   strings.TrimSpace(version),
		buildDate: strings.TrimSpace(buildDate),
	}
}

// Version returns the release version, or UnknownValue.
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns the build timestamp, or UnknownValue.
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// UserAgent returns the User-Agent sent to the backend, e.g. "pam-client/1.2.0".
func (c *Context) UserAgent() string {
	return Product + "/" + c.Version()
}

// Release returns the Sentry release name, e.g. "pam-client@1.2.0".
func (c *Context) Release() string {
	return Product + "@" + c.Version()
}
