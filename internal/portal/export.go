package portal

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/jszwec/csvutil"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/logger"
)

// ExportPageSize is the page size used when walking every observation.
const ExportPageSize = 1000

// maxExportPages stops a backend that never reports a last page.
const maxExportPages = 10000

type observationRow struct {
	ID           int64    `csv:"ID"`
	SpeciesName  string   `csv:"Species Name"`
	CommonName   string   `csv:"Common Name"`
	Source       string   `csv:"Source"`
	Date         string   `csv:"Date"`
	StartTime    *float64 `csv:"Start Time"`
	EndTime      *float64 `csv:"End Time"`
	Duration     *float64 `csv:"Duration"`
	AvgAmplitude *float64 `csv:"Average Amplitude"`
	AutoDetected bool     `csv:"Auto Detected"`
	NeedsReview  bool     `csv:"Needs Review"`
	FileNames    string   `csv:"File Names"`
}

func newObservationRow(o Observation) observationRow {
	names := make([]string, 0, len(o.DataFiles))
	for _, f := range o.DataFiles {
		names = append(names, f.FileName)
	}
	date := ""
	if !o.ObsDT.IsZero() {
		date = o.ObsDT.UTC().Format(time.RFC3339)
	}
	return observationRow{
		ID:           o.ID,
		SpeciesName:  o.Taxon.SpeciesName,
		CommonName:   o.Taxon.SpeciesCommonName,
		Source:       o.Source,
		Date:         date,
		StartTime:    o.ExtraData.StartTime,
		EndTime:      o.ExtraData.EndTime,
		Duration:     o.ExtraData.Duration,
		AvgAmplitude: o.ExtraData.AvgAmplitude,
		AutoDetected: o.ExtraData.AutoDetected,
		NeedsReview:  o.NeedsReview,
		FileNames:    strings.Join(names, "; "),
	}
}

// ExportObservationsCSV walks every observation page, bypassing the cache, and
// writes them to w as CSV. It returns the number of rows written.
func (s *Service) ExportObservationsCSV(ctx context.Context, w io.Writer) (int, error) {
	if err := s.checkEnabled(); err != nil {
		return 0, err
	}

	var rows []observationRow
	for page := 1; ; page++ {
		if page > maxExportPages {
			return 0, errors.Newf("observation export exceeded %d pages", maxExportPages).
				Component("portal").
				Category(errors.CategoryLimit).
				Build()
		}
		p, err := s.fetchObservations(ctx, page, ExportPageSize)
		if err != nil {
			return 0, err
		}
		for _, o := range p.Results {
			rows = append(rows, newObservationRow(o))
		}
		if !p.HasNext() {
			break
		}
	}
	if rows == nil {
		rows = []observationRow{}
	}

	data, err := csvutil.Marshal(rows)
	if err != nil {
		return 0, errors.New(err).
			Component("portal").
			Category(errors.CategoryFileParsing).
			Context("operation", "export_observations").
			Build()
	}
	if _, err := w.Write(data); err != nil {
		return 0, errors.New(err).
			Component("portal").
			Category(errors.CategoryFileIO).
			Context("operation", "export_observations").
			Build()
	}
	s.log.Info("observations exported", logger.Int("rows", len(rows)))
	return len(rows), nil
}
