package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status denotes the phase represented by an Event.
type Status string

// Supported statuses.
const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether the status ends a job run's event stream.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Event is the only message shape sent on a project's channel.
type Event struct {
	ProjectID int64  `json:"project_id"`
	Status    Status `json:"status"`
	Message   string `json:"message"`
	Progress  int    `json:"progress"`

	// JobID and TS are filled in by the Reporter for sinks; they never go on
	// the wire.
	JobID string    `json:"-"`
	TS    time.Time `json:"-"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.ProjectID <= 0 {
		return errors.New("project id must be > 0")
	}
	switch e.Status {
	case StatusProcessing, StatusCompleted, StatusError:
	default:
		return fmt.Errorf("unknown status %q", e.Status)
	}
	if e.Progress < 0 || e.Progress > 100 {
		return fmt.Errorf("progress %d out of range 0-100", e.Progress)
	}
	return nil
}

// Encode returns the JSON text frame for the event.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode progress event: %w", err)
	}
	return data, nil
}

// DecodeEvent parses and validates one JSON frame.
func DecodeEvent(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, fmt.Errorf("decode progress event: %w", err)
	}
	if err := evt.Validate(); err != nil {
		return Event{}, fmt.Errorf("invalid progress event: %w", err)
	}
	return evt, nil
}
