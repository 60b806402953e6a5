// Package collector ingests transcript segments from transcription workers
// over long-lived websocket connections and feeds them through dedup,
// filtering, and durable storage.
package collector

import (
	"encoding/json"
	"fmt"

	"github.com/meetscribe/meetscribe/internal/apperr"
)

// Frame is one inbound message from a transcription worker.
type Frame struct {
	MeetingID int64     `json:"meeting_id"`
	Segments  []Segment `json:"segments"`
}

// Segment is one transcript interval inside a frame. The time and text
// fields are pointers so a missing field can be told apart from a zero one.
type Segment struct {
	StartTime *float64 `json:"start_time"`
	EndTime   *float64 `json:"end_time"`
	Text      *string  `json:"text"`
	Language  string   `json:"language,omitempty"`
	Completed bool     `json:"completed"`
}

// complete reports whether all mandatory fields are present.
func (s Segment) complete() bool {
	return s.StartTime != nil && s.EndTime != nil && s.Text != nil
}

// errorFrame is the per-message reply sent when a frame cannot be processed.
type errorFrame struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// parseFrame decodes and schema-checks one inbound message.
func parseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("collector: malformed frame: %w: %w", err, apperr.ErrValidation)
	}
	if f.MeetingID <= 0 {
		return Frame{}, fmt.Errorf("collector: frame missing meeting_id: %w", apperr.ErrValidation)
	}
	return f, nil
}
