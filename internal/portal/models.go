package portal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Quality check states reported by the backend.
const (
	QualityNotChecked = "not_checked"
	QualityPending    = "pending"
	QualityCompleted  = "completed"
	QualityFailed     = "failed"
)

// timeLayouts are the timestamp formats the backend emits, tried in order.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time is a backend timestamp. JSON null and "" decode to the zero value.
type Time struct {
	time.Time
}

// UnmarshalJSON accepts RFC 3339 timestamps, naive timestamps and plain dates.
func (t *Time) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// MarshalJSON writes RFC 3339, or null for the zero value.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339))
}

// Deployment is a device placed at a site for a period. SiteName is the
// routing key of the deployment pages.
type Deployment struct {
	ID                    int64           `json:"id,omitempty"`
	DeploymentID          string          `json:"deployment_ID"`
	SiteName              string          `json:"site_name"`
	DeploymentStart       Time            `json:"deployment_start"`
	DeploymentEnd         *Time           `json:"deployment_end"`
	Latitude              *float64        `json:"latitude,omitempty"`
	Longitude             *float64        `json:"longitude,omitempty"`
	CoordinateUncertainty string          `json:"coordinate_uncertainty,omitempty"`
	FolderSize            int64           `json:"folder_size,omitempty"`
	LastUpload            *Time           `json:"last_upload,omitempty"`
	Country               string          `json:"country,omitempty"`
	Habitat               string          `json:"habitat,omitempty"`
	GPSDevice             string          `json:"gps_device,omitempty"`
	MicHeight             *float64        `json:"mic_height,omitempty"`
	MicDirection          string          `json:"mic_direction,omitempty"`
	ProtocolChecklist     string          `json:"protocol_checklist,omitempty"`
	UserEmail             string          `json:"user_email,omitempty"`
	Comment               string          `json:"comment,omitempty"`
	Score                 *float64        `json:"score,omitempty"`
	Device                json.RawMessage `json:"device,omitempty"`
}

// Active reports whether the deployment has no end or ends after now.
func (d Deployment) Active(now time.Time) bool {
	return d.DeploymentEnd == nil || d.DeploymentEnd.IsZero() || d.DeploymentEnd.After(now)
}

// Device is a recorder. DeviceID is its unique key.
type Device struct {
	ID            int64       `json:"id,omitempty"`
	DeviceID      string      `json:"device_ID"`
	Name          string      `json:"name,omitempty"`
	Configuration string      `json:"configuration,omitempty"`
	SIMCardICC    string      `json:"sim_card_icc,omitempty"`
	SIMCardBatch  string      `json:"sim_card_batch,omitempty"`
	SDCardSize    json.Number `json:"sd_card_size,omitempty"`
}

// DataFileExtra holds the metrics the backend computes for charting.
type DataFileExtra struct {
	QualityMetrics           map[string]any `json:"quality_metrics,omitempty"`
	TemporalEvolution        map[string]any `json:"temporal_evolution,omitempty"`
	Observations             []string       `json:"observations,omitempty"`
	AutoDetectedObservations []int64        `json:"auto_detected_observations,omitempty"`
}

// DataFile is one recording uploaded for a deployment.
type DataFile struct {
	ID                 int64          `json:"id"`
	Deployment         int64          `json:"deployment"`
	FileName           string         `json:"file_name"`
	FileFormat         string         `json:"file_format"`
	FileSize           int64          `json:"file_size"`
	FileType           string         `json:"file_type,omitempty"`
	Path               string         `json:"path,omitempty"`
	LocalPath          string         `json:"local_path,omitempty"`
	UploadDT           Time           `json:"upload_dt"`
	RecordingDT        Time           `json:"recording_dt"`
	Config             *string        `json:"config,omitempty"`
	SampleRate         *int           `json:"sample_rate,omitempty"`
	FileLength         *string        `json:"file_length,omitempty"`
	QualityScore       *float64       `json:"quality_score"`
	QualityIssues      []string       `json:"quality_issues"`
	QualityCheckDT     *Time          `json:"quality_check_dt"`
	QualityCheckStatus string         `json:"quality_check_status"`
	ExtraData          *DataFileExtra `json:"extra_data,omitempty"`
	ThumbURL           string         `json:"thumb_url,omitempty"`
	LocalStorage       bool           `json:"local_storage,omitempty"`
	Archived           bool           `json:"archived,omitempty"`
	IsFavourite        bool           `json:"is_favourite,omitempty"`
}

// QualityStatus is the result of a file's latest quality check.
type QualityStatus struct {
	Status    string   `json:"status"`
	Score     *float64 `json:"score"`
	Issues    []string `json:"issues"`
	LastCheck *Time    `json:"last_check"`
}

// Done reports whether the check reached a terminal state.
func (q QualityStatus) Done() bool {
	return q.Status == QualityCompleted || q.Status == QualityFailed
}

// DateRange is the span of recordings available for a site.
type DateRange struct {
	FirstDate Time `json:"first_date"`
	LastDate  Time `json:"last_date"`
}

// Taxon is a species reference.
type Taxon struct {
	ID                int64  `json:"id"`
	SpeciesName       string `json:"species_name"`
	SpeciesCommonName string `json:"species_common_name"`
}

// ObservationExtra carries detector output for an observation.
type ObservationExtra struct {
	StartTime    *float64 `json:"start_time,omitempty"`
	EndTime      *float64 `json:"end_time,omitempty"`
	Duration     *float64 `json:"duration,omitempty"`
	AvgAmplitude *float64 `json:"avg_amplitude,omitempty"`
	AutoDetected bool     `json:"auto_detected"`
}

// FileRef names a data file an observation was made in.
type FileRef struct {
	ID       int64  `json:"id"`
	FileName string `json:"file_name"`
}

// Observation is a species detection.
type Observation struct {
	ID          int64            `json:"id"`
	ObsDT       Time             `json:"obs_dt"`
	Taxon       TaxonRef         `json:"taxon"`
	Source      string           `json:"source"`
	NeedsReview bool             `json:"needs_review"`
	ExtraData   ObservationExtra `json:"extra_data"`
	DataFiles   []FileRef        `json:"data_files"`
}

// TaxonRef is an observation's taxon. The backend sends either the nested
// object or only its id; Resolved reports which.
type TaxonRef struct {
	Taxon
	Resolved bool `json:"-"`
}

// UnmarshalJSON accepts a taxon object or a bare numeric id.
func (r *TaxonRef) UnmarshalJSON(data []byte) error {
	*r = TaxonRef{}
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var id int64
	if err := json.Unmarshal(data, &id); err == nil {
		r.ID = id
		return nil
	}
	if err := json.Unmarshal(data, &r.Taxon); err != nil {
		return err
	}
	r.Resolved = r.SpeciesName != ""
	return nil
}

// MarshalJSON always writes the object form.
func (r TaxonRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Taxon)
}

// ObservationPage is one page of the observation list.
type ObservationPage struct {
	Results []Observation `json:"results"`
	Count   int           `json:"count"`
	Next    *string       `json:"next"`
}

// HasNext reports whether another page follows.
func (p ObservationPage) HasNext() bool {
	return p.Next != nil && *p.Next != ""
}

// UpsertResult reports whether an upsert created or updated the record.
type UpsertResult[T any] struct {
	Record  T
	Created bool
}
