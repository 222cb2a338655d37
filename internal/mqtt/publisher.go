package mqtt

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/errors"
	"github.com/BA07-NINA/ARISE-MDS-sensor-portal-Pam/internal/portal"
)

// QualityEvent is the JSON payload of a quality status transition.
type QualityEvent struct {
	FileID    int64        `json:"file_id"`
	Status    string       `json:"status"`
	Score     *float64     `json:"score,omitempty"`
	Issues    []string     `json:"issues,omitempty"`
	LastCheck *portal.Time `json:"last_check,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// QualityPublisher sends quality status transitions to
// <topic>/datafile/<id>/quality. It implements portal.EventPublisher.
type QualityPublisher struct {
	client Client
	topic  string
	now    func() time.Time
}

var _ portal.EventPublisher = (*QualityPublisher)(nil)

// NewQualityPublisher publishes through c under the base topic.
func NewQualityPublisher(c Client, topic string) *QualityPublisher {
	return &QualityPublisher{
		client: c,
		topic:  strings.TrimRight(topic, "/"),
		now:    time.Now,
	}
}

// Topic returns the topic used for fileID.
func (p *QualityPublisher) Topic(fileID int64) string {
	return p.topic + "/datafile/" + strconv.FormatInt(fileID, 10) + "/quality"
}

// PublishQualityStatus encodes status and publishes it.
func (p *QualityPublisher) PublishQualityStatus(ctx context.Context, fileID int64, status portal.QualityStatus) error {
	payload, err := json.Marshal(QualityEvent{
		FileID:    fileID,
		Status:    status.Status,
		Score:     status.Score,
		Issues:    status.Issues,
		LastCheck: status.LastCheck,
		Timestamp: p.now().UTC(),
	})
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryValidation).
			Build()
	}
	return p.client.Publish(ctx, p.Topic(fileID), payload)
}
