package portal

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/logger"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/querycache"
)

// Devices lists all devices.
func (s *Service) Devices(ctx context.Context) ([]Device, error) {
	return readList[Device](ctx, s, DevicesKey(), "/api/devices/")
}

// Device returns the device with the given device_ID.
func (s *Service) Device(ctx context.Context, deviceID string) (Device, error) {
	deviceID = strings.TrimSpace(deviceID)
	if err := requireField(deviceID, "device_ID"); err != nil {
		return Device{}, err
	}
	return read[Device](ctx, s, DeviceKey(deviceID), "/api/devices/"+url.PathEscape(deviceID))
}

// DeviceForSite returns the device deployed at site and records the
// breadcrumb from its device_ID to site.
func (s *Service) DeviceForSite(ctx context.Context, site string) (Device, error) {
	site = strings.TrimSpace(site)
	if err := requireField(site, "site_name"); err != nil {
		return Device{}, err
	}
	d, err := read[Device](ctx, s, DeviceBySiteKey(site), "/api/devices/by_site/"+url.PathEscape(site)+"/")
	if err != nil {
		return Device{}, err
	}
	s.rememberSite(ctx, d.DeviceID, site)
	return d, nil
}

// UpsertDevice creates or updates the device keyed by its device_ID.
func (s *Service) UpsertDevice(ctx context.Context, d Device) (UpsertResult[Device], error) {
	d.DeviceID = strings.TrimSpace(d.DeviceID)
	if err := requireField(d.DeviceID, "device_ID"); err != nil {
		return UpsertResult[Device]{}, err
	}

	var saved Device
	status, err := s.client.Send(ctx, http.MethodPost, "/api/devices/upsert_device/", d, &saved)
	if err != nil {
		return UpsertResult[Device]{}, err
	}
	s.cache.Settle(ctx, querycache.MutationUpsertDevice)

	created := status == http.StatusCreated
	s.log.Info("device saved",
		logger.String("device_id", d.DeviceID),
		logger.Bool("created", created))
	return UpsertResult[Device]{Record: saved, Created: created}, nil
}
