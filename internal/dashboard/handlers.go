package dashboard

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/logger"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/media"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/portal"
)

// DeploymentsResponse is the deployments page.
type DeploymentsResponse struct {
	Active []portal.Deployment `json:"active"`
	Ended  []portal.Deployment `json:"ended"`
	Count  int                 `json:"count"`
}

// WaveformResponse is the peak envelope of one data file.
type WaveformResponse struct {
	FileID     int64     `json:"file_id"`
	Peaks      []float32 `json:"peaks"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	BitDepth   int       `json:"bit_depth"`
	Duration   float64   `json:"duration_seconds"`
}

func (s *Server) idParam(c echo.Context) (int64, error) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.ValidationError("invalid id " + strconv.Quote(raw))
	}
	return id, nil
}

func intQuery(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.ValidationError("invalid " + name + " " + strconv.Quote(raw))
	}
	return v, nil
}

func (s *Server) getSession(c echo.Context) error {
	if s.session == nil || !s.session.IsAuthenticated() {
		return c.JSON(http.StatusOK, map[string]any{"authenticated": false})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          s.session.User(),
	})
}

func (s *Server) listDeployments(c echo.Context) error {
	ctx := c.Request().Context()
	list, err := s.service.Deployments(ctx, portal.DeploymentFilter{Country: c.QueryParam("country")})
	if err != nil {
		return s.fail(c, err, "Failed to load deployments")
	}
	active, ended := portal.SplitDeployments(list, s.now())
	return c.JSON(http.StatusOK, DeploymentsResponse{
		Active: nonNil(active),
		Ended:  nonNil(ended),
		Count:  len(list),
	})
}

func (s *Server) getDeployment(c echo.Context) error {
	d, err := s.service.Deployment(c.Request().Context(), c.Param("site"))
	if err != nil {
		return s.fail(c, err, "Failed to load deployment")
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) checkQualityBulk(c echo.Context) error {
	id, err := s.idParam(c)
	if err != nil {
		return s.fail(c, err, "Invalid deployment id")
	}
	total, err := s.service.CheckQualityBulk(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err, "Failed to start quality checks")
	}
	return c.JSON(http.StatusAccepted, map[string]int{"total_files": total})
}

func (s *Server) listDevices(c echo.Context) error {
	list, err := s.service.Devices(c.Request().Context())
	if err != nil {
		return s.fail(c, err, "Failed to load devices")
	}
	return c.JSON(http.StatusOK, nonNil(list))
}

func (s *Server) getDevice(c echo.Context) error {
	d, err := s.service.Device(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err, "Failed to load device")
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) getDeviceSite(c echo.Context) error {
	id := c.Param("id")
	site, ok, err := s.service.SiteForDevice(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err, "Failed to look up site")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"device_id": id,
		"site_name": site,
		"known":     ok,
	})
}

func (s *Server) listDataFiles(c echo.Context) error {
	ctx := c.Request().Context()
	site := c.Param("site")
	from, to := c.QueryParam("from"), c.QueryParam("to")
	if from == "" && to == "" {
		list, err := s.service.DataFiles(ctx, site)
		if err != nil {
			return s.fail(c, err, "Failed to load data files")
		}
		return c.JSON(http.StatusOK, nonNil(list))
	}

	start, err := time.Parse(portal.DateFormat, from)
	if err != nil {
		return s.fail(c, errors.ValidationError("from must be MM-DD-YYYY"), "Invalid date window")
	}
	end, err := time.Parse(portal.DateFormat, to)
	if err != nil {
		return s.fail(c, errors.ValidationError("to must be MM-DD-YYYY"), "Invalid date window")
	}
	list, err := s.service.DataFilesBetween(ctx, site, start, end)
	if err != nil {
		return s.fail(c, err, "Failed to load data files")
	}
	return c.JSON(http.StatusOK, nonNil(list))
}

func (s *Server) getDateRange(c echo.Context) error {
	r, err := s.service.DateRange(c.Request().Context(), c.Param("site"))
	if err != nil {
		return s.fail(c, err, "Failed to load date range")
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) getDataFile(c echo.Context) error {
	id, err := s.idParam(c)
	if err != nil {
		return s.fail(c, err, "Invalid data file id")
	}
	f, err := s.service.DataFile(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err, "Failed to load data file")
	}
	return c.JSON(http.StatusOK, f)
}

func (s *Server) getQualityStatus(c echo.Context) error {
	id, err := s.idParam(c)
	if err != nil {
		return s.fail(c, err, "Invalid data file id")
	}
	q, err := s.service.QualityStatus(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err, "Failed to load quality status")
	}
	return c.JSON(http.StatusOK, q)
}

func (s *Server) checkQuality(c echo.Context) error {
	id, err := s.idParam(c)
	if err != nil {
		return s.fail(c, err, "Invalid data file id")
	}
	if err := s.service.CheckQuality(c.Request().Context(), id); err != nil {
		return s.fail(c, err, "Failed to start quality check")
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": portal.QualityPending})
}

func (s *Server) getWaveform(c echo.Context) error {
	if s.downloader == nil {
		return s.HandleError(c, nil, "Waveforms are not available", http.StatusNotImplemented)
	}
	id, err := s.idParam(c)
	if err != nil {
		return s.fail(c, err, "Invalid data file id")
	}
	buckets, err := intQuery(c, "buckets", DefaultWaveformBuckets)
	if err != nil || buckets == 0 || buckets > MaxWaveformBuckets {
		return s.fail(c, errors.ValidationError("buckets must be between 1 and "+strconv.Itoa(MaxWaveformBuckets)), "Invalid bucket count")
	}

	blob, err := media.FetchBlob(c.Request().Context(), s.downloader, id)
	if err != nil {
		return s.fail(c, err, "Failed to download audio")
	}
	defer func() {
		if err := blob.Release(); err != nil {
			s.log.Warn("failed to release audio blob", logger.Int64("file_id", id), logger.Error(err))
		}
	}()

	peaks, info, err := media.Waveform(blob, buckets)
	if err != nil {
		if errors.Is(err, media.ErrUnsupportedFormat) {
			return s.HandleError(c, err, "Audio format has no waveform", http.StatusUnprocessableEntity)
		}
		return s.fail(c, err, "Failed to decode audio")
	}
	return c.JSON(http.StatusOK, WaveformResponse{
		FileID:     id,
		Peaks:      peaks,
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
		BitDepth:   info.BitDepth,
		Duration:   info.Duration.Seconds(),
	})
}

func (s *Server) listObservations(c echo.Context) error {
	page, err := intQuery(c, "page", 1)
	if err != nil {
		return s.fail(c, err, "Invalid page")
	}
	size, err := intQuery(c, "page_size", 0)
	if err != nil {
		return s.fail(c, err, "Invalid page size")
	}
	p, err := s.service.Observations(c.Request().Context(), page, size)
	if err != nil {
		return s.fail(c, err, "Failed to load observations")
	}
	p.Results = nonNil(p.Results)
	return c.JSON(http.StatusOK, p)
}

func (s *Server) exportObservations(c echo.Context) error {
	var buf bytes.Buffer
	n, err := s.service.ExportObservationsCSV(c.Request().Context(), &buf)
	if err != nil {
		return s.fail(c, err, "Failed to export observations")
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="observations.csv"`)
	c.Response().Header().Set("X-Row-Count", strconv.Itoa(n))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (s *Server) deleteObservation(c echo.Context) error {
	id, err := s.idParam(c)
	if err != nil {
		return s.fail(c, err, "Invalid observation id")
	}
	if err := s.service.DeleteObservation(c.Request().Context(), id); err != nil {
		return s.fail(c, err, "Failed to delete observation")
	}
	return c.NoContent(http.StatusNoContent)
}

// nonNil makes empty lists encode as [] rather than null.
func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
