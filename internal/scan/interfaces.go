package scan

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound is returned by stores for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// JobStore persists job state for the lifetime of the process.
// Implementations return copies; callers never see shared mutable state.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context) ([]Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, message string) error
	// UpdateJobProgress persists a progress report. Progress never moves
	// backwards: regressions are clamped to the stored value.
	UpdateJobProgress(ctx context.Context, jobID string, progress int, message string) error
	// UpdateQueueHint records the 1-based queue position and wait estimate
	// for a queued job. Position 0 clears both.
	UpdateQueueHint(ctx context.Context, jobID string, position int, wait time.Duration) error
	AttachReport(ctx context.Context, jobID string, report *Report) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
