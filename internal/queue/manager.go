// Package queue runs submitted scan jobs under a fixed concurrency cap.
//
// There is no background dispatcher and no polling. Every lifecycle
// change happens inside a scheduling pass, and passes run at exactly two
// moments: when a job is submitted and when a running job settles. Each
// pass promotes queued jobs while capacity allows, then recomputes the
// position and wait estimate of every job still waiting. Passes are
// serialized by the manager mutex, so two of them never interleave.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sitegrade/sitegrade/internal/clock/system"
	"github.com/sitegrade/sitegrade/internal/id/uuid"
	"github.com/sitegrade/sitegrade/internal/push"
	"github.com/sitegrade/sitegrade/internal/scan"
)

// ErrClosed is returned by Submit once Close has begun.
var ErrClosed = errors.New("queue is closed")

// failedMessage is the only failure text clients ever see. The real
// error goes to the log.
const failedMessage = "Scan failed due to an internal error."

const (
	// DefaultConcurrency caps how many jobs scan at once.
	DefaultConcurrency = 3

	// DefaultFallbackWait is the per-wave estimate used before any scan
	// has finished.
	DefaultFallbackWait = 60 * time.Second

	// durationSamples is how many recent scan durations feed the
	// wait-estimate average.
	durationSamples = 10

	// closeGrace bounds the wait for aborted jobs after Close's context
	// has already expired.
	closeGrace = 5 * time.Second
)

// ScanRunner executes the crawl/audit/score pipeline for one job. The
// progress callback may be invoked from the job's goroutine at any point
// before Run returns.
type ScanRunner interface {
	Run(ctx context.Context, job scan.Job, progress func(progress int, message string)) (*scan.Report, error)
}

// Config tunes the manager. Zero values select the defaults.
type Config struct {
	// Concurrency is the maximum number of jobs scanning at once.
	Concurrency int

	// FallbackWait seeds the wait estimate before any duration samples
	// exist.
	FallbackWait time.Duration

	// Clock supplies timestamps; nil selects the system clock.
	Clock scan.Clock

	// IDs mints job identifiers; nil selects random UUIDs.
	IDs scan.IDGenerator

	// Logger receives scheduling and failure logs; nil disables logging.
	Logger *zap.Logger
}

// Submission describes one requested scan.
type Submission struct {
	URL       string
	Viewports []scan.Viewport
	PageLimit int
}

// Manager owns the job lifecycle from Submit to a terminal status.
type Manager struct {
	cfg     Config
	store   scan.JobStore
	runner  ScanRunner
	emitter push.Emitter
	logger  *zap.Logger

	runCtx    context.Context
	runCancel context.CancelFunc

	mu        sync.Mutex
	waiting   []string // queued job IDs, submit order
	active    int
	durations durationRing
	closed    bool

	jobs sync.WaitGroup
}

// NewManager wires a manager around the given store and pipeline. The
// emitter may be nil when nothing consumes push events.
func NewManager(cfg Config, store scan.JobStore, runner ScanRunner, emitter push.Emitter) (*Manager, error) {
	if store == nil {
		return nil, errors.New("queue: store is required")
	}
	if runner == nil {
		return nil, errors.New("queue: runner is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.FallbackWait <= 0 {
		cfg.FallbackWait = DefaultFallbackWait
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if cfg.IDs == nil {
		cfg.IDs = uuid.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg,
		store:     store,
		runner:    runner,
		emitter:   emitter,
		logger:    cfg.Logger,
		runCtx:    runCtx,
		runCancel: runCancel,
	}, nil
}

// Submit registers a new job and runs a scheduling pass. The returned
// snapshot reflects that pass: the job is either scanning already or
// queued with its position and wait estimate filled in. An empty
// viewport list selects the default sweep.
func (m *Manager) Submit(ctx context.Context, sub Submission) (scan.Job, error) {
	seed := strings.TrimSpace(sub.URL)
	if seed == "" {
		return scan.Job{}, errors.New("queue: submission URL is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return scan.Job{}, ErrClosed
	}

	jobID, err := m.cfg.IDs.NewID()
	if err != nil {
		return scan.Job{}, fmt.Errorf("mint job ID: %w", err)
	}
	job := scan.Job{
		ID:        jobID,
		URL:       seed,
		Viewports: sub.Viewports,
		PageLimit: sub.PageLimit,
		Status:    scan.JobStatusQueued,
		Message:   "Waiting for a free scan slot",
		Submitted: m.cfg.Clock.Now(),
	}
	if len(job.Viewports) == 0 {
		job.Viewports = scan.DefaultViewports()
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		return scan.Job{}, fmt.Errorf("create job: %w", err)
	}

	m.waiting = append(m.waiting, jobID)
	m.scheduleLocked()
	return m.store.GetJob(ctx, jobID)
}

// Job returns the current snapshot of one job.
func (m *Manager) Job(ctx context.Context, jobID string) (scan.Job, error) {
	return m.store.GetJob(ctx, jobID)
}

// Jobs returns snapshots of every retained job, newest first.
func (m *Manager) Jobs(ctx context.Context) ([]scan.Job, error) {
	return m.store.ListJobs(ctx)
}

// Close stops admitting jobs, fails everything still waiting, and waits
// for running scans to finish. When ctx expires first, the running scans
// are aborted and Close returns after a short grace period.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		for _, jobID := range m.waiting {
			if err := m.store.UpdateJobStatus(context.Background(), jobID, scan.JobStatusFailed, "Server shut down before the scan started."); err != nil {
				m.logger.Warn("fail queued job on close", zap.String("job_id", jobID), zap.Error(err))
			}
		}
		m.waiting = nil
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.jobs.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.runCancel()
		return nil
	case <-ctx.Done():
		m.runCancel()
		select {
		case <-done:
		case <-time.After(closeGrace):
		}
		return fmt.Errorf("queue close wait: %w", ctx.Err())
	}
}

// scheduleLocked is the scheduling pass. Callers hold m.mu.
func (m *Manager) scheduleLocked() {
	for m.active < m.cfg.Concurrency && len(m.waiting) > 0 {
		jobID := m.waiting[0]
		m.waiting = m.waiting[1:]
		if err := m.store.UpdateJobStatus(context.Background(), jobID, scan.JobStatusScanning, "Scan started"); err != nil {
			m.logger.Error("promote queued job", zap.String("job_id", jobID), zap.Error(err))
			continue
		}
		m.active++
		m.jobs.Add(1)
		go m.runJob(jobID)
	}

	if len(m.waiting) == 0 {
		return
	}

	wave := m.durations.average(m.cfg.FallbackWait)
	for i, jobID := range m.waiting {
		position := i + 1
		estimate := time.Duration(m.wavesLocked(position)) * wave
		if err := m.store.UpdateQueueHint(context.Background(), jobID, position, estimate); err != nil {
			m.logger.Warn("update queue hint", zap.String("job_id", jobID), zap.Error(err))
			continue
		}
		m.emit(push.Event{
			Type:        push.TypeQueueUpdate,
			JobID:       jobID,
			At:          m.cfg.Clock.Now(),
			Position:    position,
			WaitSeconds: int64(estimate / time.Second),
		})
	}
}

// wavesLocked counts how many average scan durations must elapse before
// the job at the given 1-based position is promoted, accounting for the
// jobs already running ahead of it.
func (m *Manager) wavesLocked(position int) int {
	ahead := position - 1 + m.active
	waves := (ahead + m.cfg.Concurrency - 1) / m.cfg.Concurrency
	if waves < 1 {
		waves = 1
	}
	return waves
}

// runJob drives one promoted job to a terminal status and then triggers
// the settle-time scheduling pass.
func (m *Manager) runJob(jobID string) {
	defer m.jobs.Done()

	started := m.cfg.Clock.Now()
	report, err := m.executeJob(jobID)
	elapsed := m.cfg.Clock.Now().Sub(started)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.active--

	if err != nil {
		m.logger.Error("scan job failed", zap.String("job_id", jobID), zap.Error(err))
		if serr := m.store.UpdateJobStatus(context.Background(), jobID, scan.JobStatusFailed, failedMessage); serr != nil {
			m.logger.Error("mark job failed", zap.String("job_id", jobID), zap.Error(serr))
		}
	} else {
		m.completeLocked(jobID, report, elapsed)
	}

	m.scheduleLocked()
}

// completeLocked persists a successful result, records the duration
// sample, and pushes the completion event. Callers hold m.mu.
func (m *Manager) completeLocked(jobID string, report *scan.Report, elapsed time.Duration) {
	if err := m.store.AttachReport(context.Background(), jobID, report); err != nil {
		m.logger.Error("attach report", zap.String("job_id", jobID), zap.Error(err))
	}
	if err := m.store.UpdateJobProgress(context.Background(), jobID, 100, "Scan complete"); err != nil {
		m.logger.Warn("finalize progress", zap.String("job_id", jobID), zap.Error(err))
	}
	if err := m.store.UpdateJobStatus(context.Background(), jobID, scan.JobStatusComplete, "Scan complete"); err != nil {
		m.logger.Error("mark job complete", zap.String("job_id", jobID), zap.Error(err))
	}
	m.durations.add(elapsed)
	m.emit(push.Event{
		Type:   push.TypeScanComplete,
		JobID:  jobID,
		At:     m.cfg.Clock.Now(),
		Report: report,
	})
	m.logger.Info("scan job complete",
		zap.String("job_id", jobID),
		zap.Duration("elapsed", elapsed),
		zap.Int("score", report.Score),
		zap.Int("pages", report.PagesCrawled),
	)
}

// executeJob runs the pipeline with panic isolation so one bad job
// cannot take the process down.
func (m *Manager) executeJob(jobID string) (report *scan.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			report = nil
			err = fmt.Errorf("scan pipeline panic: %v", r)
		}
	}()

	job, err := m.store.GetJob(m.runCtx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}

	progress := func(pct int, message string) {
		if uerr := m.store.UpdateJobProgress(context.Background(), jobID, pct, message); uerr != nil {
			m.logger.Warn("update progress", zap.String("job_id", jobID), zap.Error(uerr))
		}
		m.emit(push.Event{
			Type:     push.TypeScanProgress,
			JobID:    jobID,
			At:       m.cfg.Clock.Now(),
			Progress: pct,
			Message:  message,
		})
	}
	return m.runner.Run(m.runCtx, job, progress)
}

func (m *Manager) emit(evt push.Event) {
	if m.emitter == nil {
		return
	}
	m.emitter.Emit(evt)
}

// durationRing keeps the most recent successful scan durations for the
// wait-estimate average.
type durationRing struct {
	samples [durationSamples]time.Duration
	total   int
}

func (r *durationRing) add(d time.Duration) {
	r.samples[r.total%durationSamples] = d
	r.total++
}

// average returns the mean of the retained samples, or fallback when no
// scan has finished yet.
func (r *durationRing) average(fallback time.Duration) time.Duration {
	n := r.total
	if n == 0 {
		return fallback
	}
	if n > durationSamples {
		n = durationSamples
	}
	var sum time.Duration
	for i := 0; i < n; i++ {
		sum += r.samples[i]
	}
	return sum / time.Duration(n)
}
