package portal

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/logger"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/querycache"
)

// DeploymentFilter narrows the deployment list client-side.
type DeploymentFilter struct {
	// Country matches case-insensitively; empty matches all.
	Country string
}

func (f DeploymentFilter) match(d Deployment) bool {
	country := strings.TrimSpace(f.Country)
	return country == "" || strings.EqualFold(strings.TrimSpace(d.Country), country)
}

// Deployments lists deployments matching filter.
func (s *Service) Deployments(ctx context.Context, filter DeploymentFilter) ([]Deployment, error) {
	all, err := readList[Deployment](ctx, s, DeploymentsKey(), "/api/deployment/")
	if err != nil {
		return nil, err
	}
	out := make([]Deployment, 0, len(all))
	for _, d := range all {
		if filter.match(d) {
			out = append(out, d)
		}
	}
	return out, nil
}

// SplitDeployments partitions list into active and ended deployments,
// preserving order.
func SplitDeployments(list []Deployment, now time.Time) (active, ended []Deployment) {
	for _, d := range list {
		if d.Active(now) {
			active = append(active, d)
		} else {
			ended = append(ended, d)
		}
	}
	return active, ended
}

// Deployment returns the deployment at site. An unknown site is a not-found
// error.
func (s *Service) Deployment(ctx context.Context, site string) (Deployment, error) {
	site = strings.TrimSpace(site)
	if err := requireField(site, "site_name"); err != nil {
		return Deployment{}, err
	}
	d, err := read[Deployment](ctx, s, DeploymentKey(site), "/api/deployment/by_site/"+url.PathEscape(site)+"/")
	if err != nil {
		return Deployment{}, err
	}
	s.rememberSite(ctx, d.DeploymentID, site)
	return d, nil
}

// UpsertDeployment creates or updates the deployment keyed by its
// deployment_ID.
func (s *Service) UpsertDeployment(ctx context.Context, d Deployment) (UpsertResult[Deployment], error) {
	d.DeploymentID = strings.TrimSpace(d.DeploymentID)
	if err := requireField(d.DeploymentID, "deployment_ID"); err != nil {
		return UpsertResult[Deployment]{}, err
	}

	var saved Deployment
	status, err := s.client.Send(ctx, http.MethodPost, "/api/deployment/upsert_deployment/", d, &saved)
	if err != nil {
		return UpsertResult[Deployment]{}, err
	}
	s.cache.Settle(ctx, querycache.MutationUpsertDeployment)

	created := status == http.StatusCreated
	s.log.Info("deployment saved",
		logger.String("deployment_id", d.DeploymentID),
		logger.Bool("created", created))
	return UpsertResult[Deployment]{Record: saved, Created: created}, nil
}

// rememberSite records the breadcrumb from a device or deployment id to its
// site. Failures are logged only.
func (s *Service) rememberSite(ctx context.Context, id, site string) {
	if s.sites == nil || id == "" || site == "" {
		return
	}
	if err := s.sites.Remember(ctx, id, site); err != nil {
		s.log.Warn("failed to remember site name",
			logger.String("id", id),
			logger.Error(err))
	}
}

// SiteForDevice returns the site last seen for a device or deployment id.
func (s *Service) SiteForDevice(ctx context.Context, id string) (string, bool, error) {
	if s.sites == nil {
		return "", false, nil
	}
	return s.sites.Lookup(ctx, id)
}
