// Package queue contains tests for the concurrency-capped job manager.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitegrade/sitegrade/internal/push"
	"github.com/sitegrade/sitegrade/internal/scan"
	"github.com/sitegrade/sitegrade/internal/storage/memory"
)

func TestNewManagerRequiresStoreAndRunner(t *testing.T) {
	t.Parallel()

	_, err := NewManager(Config{}, nil, &fakeRunner{}, nil)
	require.Error(t, err)

	_, err = NewManager(Config{}, memory.New(nil), nil, nil)
	require.Error(t, err)
}

func TestSubmitRejectsBlankURL(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 1)
	_, err := fx.manager.Submit(context.Background(), Submission{URL: "   "})
	require.Error(t, err)
}

func TestSubmitAppliesDefaultViewports(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 1)
	job, err := fx.manager.Submit(context.Background(), Submission{URL: "https://defaults.example"})
	require.NoError(t, err)
	require.Len(t, job.Viewports, 3)
	require.Equal(t, "mobile", job.Viewports[0].Name)
	require.Equal(t, "desktop", job.Viewports[2].Name)
}

func TestSubmitRunsImmediatelyWhenCapacityIsFree(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 2)
	job, err := fx.manager.Submit(context.Background(), Submission{URL: "https://fast.example"})
	require.NoError(t, err)
	require.Equal(t, scan.JobStatusScanning, job.Status)
	require.Zero(t, job.QueuePosition)

	done := fx.waitForStatus(job.ID, scan.JobStatusComplete)
	require.Equal(t, 100, done.Progress)
	require.Equal(t, "Scan complete", done.Message)
	require.NotNil(t, done.Report)
	require.NotNil(t, done.Started)
	require.NotNil(t, done.Finished)
}

func TestQueueHoldsJobsBehindTheConcurrencyCap(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 1)
	release := make(chan struct{})
	fx.runner.fn = func(ctx context.Context, job scan.Job, _ func(int, string)) (*scan.Report, error) {
		select {
		case <-release:
			// Each scan takes a minute on the fake clock, so measured
			// durations match the fallback and the estimates stay put.
			fx.clock.Advance(time.Minute)
			return &scan.Report{URL: job.URL, Score: 88, Grade: "B", PagesCrawled: 2}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	first, err := fx.manager.Submit(context.Background(), Submission{URL: "https://a.example"})
	require.NoError(t, err)
	require.Equal(t, scan.JobStatusScanning, first.Status)

	second, err := fx.manager.Submit(context.Background(), Submission{URL: "https://b.example"})
	require.NoError(t, err)
	require.Equal(t, scan.JobStatusQueued, second.Status)
	require.Equal(t, 1, second.QueuePosition)
	require.Equal(t, int64(60), second.EstimatedWaitSeconds)

	third, err := fx.manager.Submit(context.Background(), Submission{URL: "https://c.example"})
	require.NoError(t, err)
	require.Equal(t, scan.JobStatusQueued, third.Status)
	require.Equal(t, 2, third.QueuePosition)
	require.Equal(t, int64(120), third.EstimatedWaitSeconds)

	// Settling the first job promotes the second and moves the third up.
	release <- struct{}{}
	fx.waitForStatus(first.ID, scan.JobStatusComplete)
	fx.waitForStatus(second.ID, scan.JobStatusScanning)
	require.Eventually(t, func() bool {
		job, err := fx.manager.Job(context.Background(), third.ID)
		return err == nil && job.QueuePosition == 1
	}, 2*time.Second, 5*time.Millisecond)

	release <- struct{}{}
	release <- struct{}{}
	fx.waitForStatus(second.ID, scan.JobStatusComplete)
	fx.waitForStatus(third.ID, scan.JobStatusComplete)

	updates := fx.emitter.eventsOf(push.TypeQueueUpdate)
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	require.Equal(t, third.ID, last.JobID)
	require.Equal(t, 1, last.Position)
	require.Equal(t, int64(60), last.WaitSeconds)
}

func TestWaitEstimatesUseMeasuredDurations(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 1)
	release := make(chan struct{})
	fx.runner.fn = func(ctx context.Context, job scan.Job, _ func(int, string)) (*scan.Report, error) {
		switch job.URL {
		case "https://timed.example":
			fx.clock.Advance(30 * time.Second)
			return &scan.Report{URL: job.URL, Score: 92, Grade: "A", PagesCrawled: 1}, nil
		default:
			select {
			case <-release:
				return &scan.Report{URL: job.URL, Score: 90, Grade: "A", PagesCrawled: 1}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	timed, err := fx.manager.Submit(context.Background(), Submission{URL: "https://timed.example"})
	require.NoError(t, err)
	fx.waitForStatus(timed.ID, scan.JobStatusComplete)

	_, err = fx.manager.Submit(context.Background(), Submission{URL: "https://blocker.example"})
	require.NoError(t, err)
	queued, err := fx.manager.Submit(context.Background(), Submission{URL: "https://queued.example"})
	require.NoError(t, err)
	require.Equal(t, 1, queued.QueuePosition)
	require.Equal(t, int64(30), queued.EstimatedWaitSeconds)

	close(release)
}

func TestProgressReportsReachStoreAndPush(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 1)
	fx.runner.fn = func(_ context.Context, job scan.Job, progress func(int, string)) (*scan.Report, error) {
		progress(5, "Starting scan")
		progress(20, "Crawl complete")
		progress(55, "Audited 1 of 2 pages")
		return &scan.Report{URL: job.URL, Score: 95, Grade: "A", PagesCrawled: 2}, nil
	}

	job, err := fx.manager.Submit(context.Background(), Submission{URL: "https://progress.example"})
	require.NoError(t, err)
	fx.waitForStatus(job.ID, scan.JobStatusComplete)

	require.Eventually(t, func() bool {
		return len(fx.emitter.eventsOf(push.TypeScanComplete)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	complete := fx.emitter.eventsOf(push.TypeScanComplete)[0]
	require.Equal(t, job.ID, complete.JobID)
	require.NotNil(t, complete.Report)
	require.Equal(t, 95, complete.Report.Score)

	steps := fx.emitter.eventsOf(push.TypeScanProgress)
	require.Len(t, steps, 3)
	require.Equal(t, 5, steps[0].Progress)
	require.Equal(t, "Starting scan", steps[0].Message)
	require.Equal(t, 55, steps[2].Progress)
}

func TestFailedJobKeepsMessageGenericAndFreesTheSlot(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 1)
	fx.runner.fn = func(_ context.Context, job scan.Job, _ func(int, string)) (*scan.Report, error) {
		if job.URL == "https://bad.example" {
			return nil, errors.New("chrome exploded: connection refused 127.0.0.1:9222")
		}
		return &scan.Report{URL: job.URL, Score: 90, Grade: "A", PagesCrawled: 1}, nil
	}

	bad, err := fx.manager.Submit(context.Background(), Submission{URL: "https://bad.example"})
	require.NoError(t, err)
	failed := fx.waitForStatus(bad.ID, scan.JobStatusFailed)
	require.Equal(t, failedMessage, failed.Message)
	require.NotContains(t, failed.Message, "chrome")
	require.Nil(t, failed.Report)

	good, err := fx.manager.Submit(context.Background(), Submission{URL: "https://good.example"})
	require.NoError(t, err)
	done := fx.waitForStatus(good.ID, scan.JobStatusComplete)
	require.NotNil(t, done.Report)

	completes := fx.emitter.eventsOf(push.TypeScanComplete)
	require.Len(t, completes, 1)
	require.Equal(t, good.ID, completes[0].JobID)
}

func TestPanickingJobIsIsolated(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 1)
	fx.runner.fn = func(_ context.Context, job scan.Job, _ func(int, string)) (*scan.Report, error) {
		if job.URL == "https://panics.example" {
			panic("nil dereference in page audit")
		}
		return &scan.Report{URL: job.URL, Score: 85, Grade: "B", PagesCrawled: 1}, nil
	}

	panicked, err := fx.manager.Submit(context.Background(), Submission{URL: "https://panics.example"})
	require.NoError(t, err)
	failed := fx.waitForStatus(panicked.ID, scan.JobStatusFailed)
	require.Equal(t, failedMessage, failed.Message)

	next, err := fx.manager.Submit(context.Background(), Submission{URL: "https://next.example"})
	require.NoError(t, err)
	fx.waitForStatus(next.ID, scan.JobStatusComplete)
}

func TestSubmitAfterCloseReturnsErrClosed(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 1)
	require.NoError(t, fx.manager.Close(context.Background()))
	require.NoError(t, fx.manager.Close(context.Background()))

	_, err := fx.manager.Submit(context.Background(), Submission{URL: "https://late.example"})
	require.ErrorIs(t, err, ErrClosed)
}

func TestCloseFailsWaitingJobsAndDrainsRunningOnes(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 1)
	release := make(chan struct{})
	fx.runner.fn = func(ctx context.Context, job scan.Job, _ func(int, string)) (*scan.Report, error) {
		select {
		case <-release:
			return &scan.Report{URL: job.URL, Score: 80, Grade: "B", PagesCrawled: 1}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	running, err := fx.manager.Submit(context.Background(), Submission{URL: "https://running.example"})
	require.NoError(t, err)
	waiting, err := fx.manager.Submit(context.Background(), Submission{URL: "https://waiting.example"})
	require.NoError(t, err)
	require.Equal(t, 1, waiting.QueuePosition)

	closeDone := make(chan error, 1)
	go func() { closeDone <- fx.manager.Close(context.Background()) }()

	// The queued job fails right away; the running one keeps going.
	failed := fx.waitForStatus(waiting.ID, scan.JobStatusFailed)
	require.Contains(t, failed.Message, "shut down")
	require.Equal(t, scan.JobStatusScanning, fx.job(running.ID).Status)

	close(release)
	select {
	case err := <-closeDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("close did not return after the running job settled")
	}
	require.Equal(t, scan.JobStatusComplete, fx.job(running.ID).Status)
}

func TestJobsListsNewestFirst(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, 2)
	older, err := fx.manager.Submit(context.Background(), Submission{URL: "https://older.example"})
	require.NoError(t, err)
	newer, err := fx.manager.Submit(context.Background(), Submission{URL: "https://newer.example"})
	require.NoError(t, err)

	jobs, err := fx.manager.Jobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, newer.ID, jobs[0].ID)
	require.Equal(t, older.ID, jobs[1].ID)
}

func TestDurationRingAverage(t *testing.T) {
	t.Parallel()

	var ring durationRing
	require.Equal(t, time.Minute, ring.average(time.Minute))

	ring.add(10 * time.Second)
	ring.add(20 * time.Second)
	require.Equal(t, 15*time.Second, ring.average(time.Minute))

	for i := 0; i < durationSamples; i++ {
		ring.add(30 * time.Second)
	}
	require.Equal(t, 30*time.Second, ring.average(time.Minute))
}

// --- fakes ---

type fixture struct {
	t       *testing.T
	manager *Manager
	store   *memory.Store
	emitter *fakeEmitter
	clock   *fakeClock
	runner  *fakeRunner
}

func newFixture(t *testing.T, concurrency int) *fixture {
	t.Helper()

	fx := &fixture{
		t:       t,
		clock:   newFakeClock(),
		emitter: &fakeEmitter{},
		runner:  &fakeRunner{},
	}
	fx.store = memory.New(fx.clock)

	manager, err := NewManager(Config{
		Concurrency: concurrency,
		Clock:       fx.clock,
		IDs:         &seqIDs{},
		Logger:      zap.NewNop(),
	}, fx.store, fx.runner, fx.emitter)
	require.NoError(t, err)
	fx.manager = manager

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = manager.Close(ctx)
	})
	return fx
}

func (fx *fixture) job(id string) scan.Job {
	fx.t.Helper()
	job, err := fx.manager.Job(context.Background(), id)
	require.NoError(fx.t, err)
	return job
}

func (fx *fixture) waitForStatus(id string, status scan.JobStatus) scan.Job {
	fx.t.Helper()
	require.Eventually(fx.t, func() bool {
		job, err := fx.manager.Job(context.Background(), id)
		return err == nil && job.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return fx.job(id)
}

type fakeRunner struct {
	fn func(ctx context.Context, job scan.Job, progress func(int, string)) (*scan.Report, error)
}

func (r *fakeRunner) Run(ctx context.Context, job scan.Job, progress func(int, string)) (*scan.Report, error) {
	if r.fn == nil {
		return &scan.Report{URL: job.URL, Score: 90, Grade: "A", PagesCrawled: 1}, nil
	}
	return r.fn(ctx, job, progress)
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []push.Event
}

func (e *fakeEmitter) Emit(evt push.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *fakeEmitter) eventsOf(typ push.Type) []push.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []push.Event
	for _, evt := range e.events {
		if evt.Type == typ {
			out = append(out, evt)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("job-%03d", s.n), nil
}
