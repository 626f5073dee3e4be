// Package memory provides the in-process job store. State lives for the
// lifetime of the process; a restart forgets every job.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sitegrade/sitegrade/internal/clock/system"
	"github.com/sitegrade/sitegrade/internal/scan"
)

// maxRetainedTerminal caps how many finished jobs stay queryable. Once
// exceeded, the oldest finished jobs are evicted; queued and running
// jobs are never evicted.
const maxRetainedTerminal = 100

// Store is a thread-safe, in-memory scan.JobStore.
type Store struct {
	mu    sync.RWMutex
	jobs  map[string]*scan.Job
	order []string // insertion order, oldest first
	clock scan.Clock
}

// New builds an empty store. A nil clock falls back to the system clock.
func New(clk scan.Clock) *Store {
	if clk == nil {
		clk = system.New()
	}
	return &Store{
		jobs:  make(map[string]*scan.Job),
		clock: clk,
	}
}

// CreateJob inserts a new job. The ID must be set and unused.
func (s *Store) CreateJob(ctx context.Context, job scan.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	stored := copyJob(&job)
	s.jobs[job.ID] = &stored
	s.order = append(s.order, job.ID)
	s.evictLocked()
	return nil
}

// GetJob returns a copy of the job, or scan.ErrJobNotFound.
func (s *Store) GetJob(ctx context.Context, jobID string) (scan.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return scan.Job{}, scan.ErrJobNotFound
	}
	return copyJob(job), nil
}

// ListJobs returns copies of every retained job, newest first.
func (s *Store) ListJobs(ctx context.Context) ([]scan.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]scan.Job, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if job, ok := s.jobs[s.order[i]]; ok {
			out = append(out, copyJob(job))
		}
	}
	return out, nil
}

// UpdateJobStatus moves a job through its lifecycle. Terminal jobs admit
// no further transitions. Entering the scanning state stamps Started;
// entering a terminal state stamps Finished.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status scan.JobStatus, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return scan.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is already %s", jobID, job.Status)
	}

	job.Status = status
	job.Message = message
	now := s.clock.Now()
	if status == scan.JobStatusScanning && job.Started == nil {
		job.Started = &now
	}
	if status.Terminal() && job.Finished == nil {
		job.Finished = &now
	}
	if status != scan.JobStatusQueued {
		job.QueuePosition = 0
		job.EstimatedWaitSeconds = 0
	}
	return nil
}

// UpdateJobProgress persists a progress report. Progress is clamped to
// [stored, 100] so it never moves backwards.
func (s *Store) UpdateJobProgress(ctx context.Context, jobID string, progress int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return scan.ErrJobNotFound
	}
	if progress > 100 {
		progress = 100
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	if message != "" {
		job.Message = message
	}
	return nil
}

// UpdateQueueHint records the queue position and wait estimate shown to
// clients while the job waits. Position 0 clears both.
func (s *Store) UpdateQueueHint(ctx context.Context, jobID string, position int, wait time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return scan.ErrJobNotFound
	}
	if position <= 0 {
		job.QueuePosition = 0
		job.EstimatedWaitSeconds = 0
		return nil
	}
	job.QueuePosition = position
	job.EstimatedWaitSeconds = int64(wait / time.Second)
	return nil
}

// AttachReport stores the finished report. The report is treated as
// immutable once attached; job copies share it.
func (s *Store) AttachReport(ctx context.Context, jobID string, report *scan.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return scan.ErrJobNotFound
	}
	job.Report = report
	return nil
}

// evictLocked drops the oldest terminal jobs past the retention cap.
func (s *Store) evictLocked() {
	terminal := 0
	for _, id := range s.order {
		if s.jobs[id].Status.Terminal() {
			terminal++
		}
	}
	for i := 0; terminal > maxRetainedTerminal && i < len(s.order); {
		id := s.order[i]
		if !s.jobs[id].Status.Terminal() {
			i++
			continue
		}
		delete(s.jobs, id)
		s.order = append(s.order[:i], s.order[i+1:]...)
		terminal--
	}
}

func copyJob(j *scan.Job) scan.Job {
	out := *j
	if len(j.Viewports) > 0 {
		out.Viewports = append([]scan.Viewport(nil), j.Viewports...)
	}
	out.Started = copyTime(j.Started)
	out.Finished = copyTime(j.Finished)
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
