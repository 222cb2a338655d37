package portal

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/api"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
)

// DateFormat is the MM-DD-YYYY layout the date filter endpoint expects.
const DateFormat = "01-02-2006"

// DataFiles lists the data files recorded at site.
func (s *Service) DataFiles(ctx context.Context, site string) ([]DataFile, error) {
	site = strings.TrimSpace(site)
	if err := requireField(site, "site_name"); err != nil {
		return nil, err
	}
	return readList[DataFile](ctx, s, DataFilesKey(site),
		"/api/datafile/?"+api.Query("deployment__site_name", site))
}

// DataFile returns one data file.
func (s *Service) DataFile(ctx context.Context, id int64) (DataFile, error) {
	return read[DataFile](ctx, s, DataFileKey(id), datafilePath(id, ""))
}

// DateRange returns the first and last recording dates at site.
func (s *Service) DateRange(ctx context.Context, site string) (DateRange, error) {
	site = strings.TrimSpace(site)
	if err := requireField(site, "site_name"); err != nil {
		return DateRange{}, err
	}
	return read[DateRange](ctx, s, DateRangeKey(site),
		"/api/datafile/date_range?"+api.Query("site_name", site))
}

// DataFilesBetween lists the data files at site recorded between from and to,
// inclusive by calendar day.
func (s *Service) DataFilesBetween(ctx context.Context, site string, from, to time.Time) ([]DataFile, error) {
	site = strings.TrimSpace(site)
	if err := requireField(site, "site_name"); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, errors.ValidationError("end date is before start date")
	}
	start, end := from.Format(DateFormat), to.Format(DateFormat)
	return readList[DataFile](ctx, s, DataFilesBetweenKey(site, start, end),
		"/api/datafile/filter_by_date?"+api.Query("start_date", start, "end_date", end, "site_name", site))
}

// DownloadPath is the endpoint serving a data file's audio.
func DownloadPath(id int64) string {
	return datafilePath(id, "download/")
}

func datafilePath(id int64, action string) string {
	return "/api/datafile/" + strconv.FormatInt(id, 10) + "/" + action
}
