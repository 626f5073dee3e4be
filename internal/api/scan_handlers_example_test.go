package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sitegrade/sitegrade/internal/config"
	"github.com/sitegrade/sitegrade/internal/queue"
	"github.com/sitegrade/sitegrade/internal/scan"
	"github.com/sitegrade/sitegrade/internal/storage/memory"
)

// ExampleNewServer shows how to serve scan submissions over HTTP.
func ExampleNewServer() {
	runner := runnerFunc(func(_ context.Context, job scan.Job, _ func(int, string)) (*scan.Report, error) {
		return &scan.Report{URL: job.URL, Score: 95, Grade: "A", PagesCrawled: 1}, nil
	})
	manager, err := queue.NewManager(queue.Config{
		IDs:    &seqIDs{prefix: "scan"},
		Logger: zap.NewNop(),
	}, memory.New(nil), runner, nil)
	if err != nil {
		panic(err)
	}
	server := NewServer(manager, nil, config.Config{
		Crawler: config.CrawlerConfig{MaxPages: 10, MaxPageLimit: 50},
	}, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/scans", strings.NewReader(`{"url":"https://example.com"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	var payload struct {
		Job scan.Job `json:"job"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		panic(err)
	}
	fmt.Printf("%d %s %s\n", rec.Code, payload.Job.ID, payload.Job.Status)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = manager.Close(ctx)
	// Output:
	// 202 scan-001 scanning
}
