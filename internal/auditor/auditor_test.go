package auditor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sitegrade/sitegrade/internal/browser"
	"github.com/sitegrade/sitegrade/internal/scan"
)

func newTestAuditor(t *testing.T, b Browser) *Auditor {
	t.Helper()
	a, err := New(b, Config{ViewportSettle: time.Millisecond}, nil)
	require.NoError(t, err)
	return a
}

func TestNewRequiresBrowser(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{}, nil)
	require.Error(t, err)
}

func TestAuditCleanPage(t *testing.T) {
	t.Parallel()

	page := newFakePage()
	page.navElapsed = 1500 * time.Millisecond
	a := newTestAuditor(t, &fakeBrowser{page: page})

	result, err := a.Audit(context.Background(), Target{URL: testPageURL}, nil)
	require.NoError(t, err)
	require.Empty(t, result.Issues)
	require.Equal(t, 1200.0, result.Metrics.LCPMs)
	require.Equal(t, 800.0, result.Metrics.FCPMs)
	require.Equal(t, 0.02, result.Metrics.CLS)
	require.Equal(t, int64(1500), result.Metrics.NavigationMs)

	require.Equal(t, []string{metricsInitScript}, page.initScripts)
	require.Equal(t, []string{testPageURL}, page.navigated)
	require.True(t, page.drained)
	require.True(t, page.closed)
}

func TestAuditDefaultViewportSweep(t *testing.T) {
	t.Parallel()

	page := newFakePage()
	a := newTestAuditor(t, &fakeBrowser{page: page})

	_, err := a.Audit(context.Background(), Target{URL: testPageURL}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"390x844", "820x1180", "1440x900"}, page.viewports)
}

func TestAuditModerateLCPProducesOneMinorIssue(t *testing.T) {
	t.Parallel()

	page := newFakePage()
	page.perfJSON = `{"lcp": 3000, "fcp": 1000, "cls": 0.05}`
	a := newTestAuditor(t, &fakeBrowser{page: page})

	result, err := a.Audit(context.Background(), Target{URL: testPageURL}, nil)
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	require.Equal(t, scan.SeverityMinor, result.Issues[0].Severity)
	require.Equal(t, scan.CategoryPerformance, result.Issues[0].Category)
}

func TestAuditNavigationFailureKeepsListenerIssues(t *testing.T) {
	t.Parallel()

	page := newFakePage()
	page.navErr = errors.New("net::ERR_CONNECTION_REFUSED")
	page.events = []browser.Event{
		{Kind: browser.EventRequestFailed, URL: testPageURL, Text: "net::ERR_CONNECTION_REFUSED"},
	}
	a := newTestAuditor(t, &fakeBrowser{page: page})

	result, err := a.Audit(context.Background(), Target{URL: testPageURL}, nil)
	require.NoError(t, err)
	require.Len(t, result.Issues, 2)
	require.Equal(t, "Scan Failed", result.Issues[0].Title)
	require.Equal(t, scan.SeverityCritical, result.Issues[0].Severity)
	require.Equal(t, scan.CategoryReliability, result.Issues[0].Category)
	require.Contains(t, result.Issues[0].Description, "net::ERR_CONNECTION_REFUSED")
	require.Equal(t, "Failed Request", result.Issues[1].Title)

	// The remaining checks are skipped once navigation fails.
	require.Zero(t, page.evalCalls)
	require.Empty(t, page.viewports)
	require.True(t, page.closed)
}

func TestAuditOpenPageError(t *testing.T) {
	t.Parallel()

	a := newTestAuditor(t, &fakeBrowser{openErr: errors.New("browser is closed")})

	_, err := a.Audit(context.Background(), Target{URL: testPageURL}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "open page")
}

func TestAuditOverflowNamesTheViewport(t *testing.T) {
	t.Parallel()

	page := newFakePage()
	page.layoutJSON = `{"scrollWidth": 600, "clientWidth": 390}`
	a := newTestAuditor(t, &fakeBrowser{page: page})

	result, err := a.Audit(context.Background(), Target{URL: testPageURL}, []scan.Viewport{
		{Name: "mobile", Width: 390, Height: 844},
	})
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	require.Equal(t, "Horizontal Overflow", result.Issues[0].Title)
	require.Contains(t, result.Issues[0].Description, "mobile")
	require.Equal(t, scan.CategoryResponsiveness, result.Issues[0].Category)
	require.Equal(t, scan.SeverityMajor, result.Issues[0].Severity)
}

func TestAuditSubPixelOverflowIsIgnored(t *testing.T) {
	t.Parallel()

	page := newFakePage()
	page.layoutJSON = `{"scrollWidth": 391, "clientWidth": 390}`
	a := newTestAuditor(t, &fakeBrowser{page: page})

	result, err := a.Audit(context.Background(), Target{URL: testPageURL}, []scan.Viewport{
		{Name: "mobile", Width: 390, Height: 844},
	})
	require.NoError(t, err)
	require.Empty(t, result.Issues)
}

func TestAuditIncludesListenerEvents(t *testing.T) {
	t.Parallel()

	page := newFakePage()
	page.events = []browser.Event{
		{Kind: browser.EventException, Text: "ReferenceError: boom"},
	}
	a := newTestAuditor(t, &fakeBrowser{page: page})

	result, err := a.Audit(context.Background(), Target{URL: testPageURL}, nil)
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	require.Equal(t, "Uncaught Exception", result.Issues[0].Title)
}

func TestAuditMetricsReadFailureFallsBackToNavigationTime(t *testing.T) {
	t.Parallel()

	page := newFakePage()
	page.navElapsed = 6 * time.Second
	page.evalErrs = map[string]error{metricsReadExpr: errors.New("execution context destroyed")}
	a := newTestAuditor(t, &fakeBrowser{page: page})

	result, err := a.Audit(context.Background(), Target{URL: testPageURL}, nil)
	require.NoError(t, err)
	require.Zero(t, result.Metrics.LCPMs)
	require.Equal(t, int64(6000), result.Metrics.NavigationMs)
	require.Len(t, result.Issues, 1)
	require.Equal(t, "Slow Load Time", result.Issues[0].Title)
}

// --- fakes ---

type fakePage struct {
	navElapsed time.Duration
	navErr     error
	perfJSON   string
	domJSON    string
	layoutJSON string
	events     []browser.Event
	evalErrs   map[string]error

	initScripts []string
	navigated   []string
	viewports   []string
	evalCalls   int
	drained     bool
	closed      bool
}

func newFakePage() *fakePage {
	return &fakePage{
		perfJSON:   `{"lcp": 1200, "fcp": 800, "cls": 0.02}`,
		domJSON:    `{"title": "Welcome", "metaDescription": true, "canonical": true, "viewportMeta": true, "h1Count": 1, "https": true}`,
		layoutJSON: `{"scrollWidth": 1440, "clientWidth": 1440}`,
	}
}

func (p *fakePage) AddInitScript(_ context.Context, source string) error {
	p.initScripts = append(p.initScripts, source)
	return nil
}

func (p *fakePage) Navigate(_ context.Context, pageURL string, _ time.Duration) (time.Duration, error) {
	p.navigated = append(p.navigated, pageURL)
	return p.navElapsed, p.navErr
}

func (p *fakePage) Evaluate(_ context.Context, expr string, out any) error {
	p.evalCalls++
	if err := p.evalErrs[expr]; err != nil {
		return err
	}
	var payload string
	switch expr {
	case metricsReadExpr:
		payload = p.perfJSON
	case domSnapshotExpr:
		payload = p.domJSON
	case layoutExpr:
		payload = p.layoutJSON
	default:
		return fmt.Errorf("unexpected expression %q", expr)
	}
	return json.Unmarshal([]byte(payload), out)
}

func (p *fakePage) SetViewport(_ context.Context, width, height int64) error {
	p.viewports = append(p.viewports, fmt.Sprintf("%dx%d", width, height))
	return nil
}

func (p *fakePage) Drain() []browser.Event {
	p.drained = true
	return p.events
}

func (p *fakePage) Close() { p.closed = true }

type fakeBrowser struct {
	page    *fakePage
	openErr error
}

func (b *fakeBrowser) OpenPage(context.Context) (Page, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	return b.page, nil
}
