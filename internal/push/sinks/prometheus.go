package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sitegrade/sitegrade/internal/push"
)

// PrometheusSink exports scan activity via Prometheus. It owns all
// collectors for completed scans, score and duration distributions,
// per-category issue counts, and queue wait estimates.
type PrometheusSink struct {
	events         *prometheus.CounterVec
	scansCompleted prometheus.Counter
	scanDuration   prometheus.Histogram
	pagesAudited   prometheus.Counter
	issuesFound    *prometheus.CounterVec
	siteScore      prometheus.Histogram
	queueWait      prometheus.Histogram
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitegrade_push_events_total",
			Help: "Push events delivered partitioned by type.",
		}, []string{"type"}),
		scansCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitegrade_scans_completed_total",
			Help: "Total scans that produced a report.",
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sitegrade_scan_duration_seconds",
			Help:    "Wall time per completed scan.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		pagesAudited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitegrade_pages_audited_total",
			Help: "Pages audited across completed scans.",
		}),
		issuesFound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitegrade_issues_found_total",
			Help: "Issues found partitioned by category and severity.",
		}, []string{"category", "severity"}),
		siteScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sitegrade_site_score",
			Help:    "Overall score distribution of completed scans.",
			Buckets: prometheus.LinearBuckets(10, 10, 10),
		}),
		queueWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sitegrade_queue_wait_estimate_seconds",
			Help:    "Wait estimates pushed to queued jobs.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.events,
		s.scansCompleted,
		s.scanDuration,
		s.pagesAudited,
		s.issuesFound,
		s.siteScore,
		s.queueWait,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register push collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors from the provided batch. It
// is safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []push.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt push.Event) {
	s.events.WithLabelValues(string(evt.Type)).Inc()
	switch evt.Type {
	case push.TypeQueueUpdate:
		s.queueWait.Observe(float64(evt.WaitSeconds))
	case push.TypeScanComplete:
		if evt.Report == nil {
			return
		}
		s.scansCompleted.Inc()
		s.scanDuration.Observe(float64(evt.Report.DurationMs) / 1000)
		s.pagesAudited.Add(float64(evt.Report.PagesCrawled))
		s.siteScore.Observe(float64(evt.Report.Score))
		for _, issue := range evt.Report.Issues {
			s.issuesFound.WithLabelValues(string(issue.Category), string(issue.Severity)).Inc()
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
