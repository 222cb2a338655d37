package session

import (
	"context"
	"strings"
)

const siteNameKeyPrefix = "site_name_for_"

// SiteNames remembers which deployment site a device was last seen at, so
// device pages can render a breadcrumb back to the site. It is display data
// only; the backend remains the source of truth.
type SiteNames struct {
	storage Storage
}

// NewSiteNames returns a lookup backed by storage.
func NewSiteNames(storage Storage) *SiteNames {
	return &SiteNames{storage: storage}
}

// Remember records site as the current site for deviceID. Empty values are ignored.
func (s *SiteNames) Remember(ctx context.Context, deviceID, site string) error {
	if strings.TrimSpace(deviceID) == "" || strings.TrimSpace(site) == "" {
		return nil
	}
	return s.storage.Set(ctx, siteNameKeyPrefix+deviceID, site)
}

// Lookup returns the remembered site for deviceID.
func (s *SiteNames) Lookup(ctx context.Context, deviceID string) (string, bool, error) {
	return s.storage.Get(ctx, siteNameKeyPrefix+deviceID)
}
