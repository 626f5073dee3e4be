package push

import (
	"errors"
	"fmt"
	"time"

	"github.com/sitegrade/sitegrade/internal/scan"
)

// Type identifies what a push event announces.
type Type string

// Supported event types. These names double as the topic names a real
// transport would publish to.
const (
	TypeScanProgress Type = "scan:progress"
	TypeQueueUpdate  Type = "queue:update"
	TypeScanComplete Type = "scan:complete"
)

// Event is a single job update. Which fields are meaningful depends on
// the type: Progress/Message for scan:progress, Position/WaitSeconds for
// queue:update, Report for scan:complete.
type Event struct {
	Type  Type      `json:"type"`
	JobID string    `json:"job_id"`
	At    time.Time `json:"at"`

	Progress int    `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`

	Position    int   `json:"position,omitempty"`
	WaitSeconds int64 `json:"wait_seconds,omitempty"`

	Report *scan.Report `json:"report,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.At.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Type {
	case TypeScanProgress:
		if e.Progress < 0 || e.Progress > 100 {
			return fmt.Errorf("progress %d out of range", e.Progress)
		}
	case TypeQueueUpdate:
		if e.Position < 1 {
			return errors.New("queue update requires a 1-based position")
		}
		if e.WaitSeconds < 0 {
			return errors.New("wait estimate must be >= 0")
		}
	case TypeScanComplete:
		if e.Report == nil {
			return errors.New("scan complete requires a report")
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	return nil
}
