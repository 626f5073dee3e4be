package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Buffer for captured events; bursts beyond it are counted and dropped.
const eventBuffer = 512

// Per-operation guard so a wedged tab cannot hang callers indefinitely.
const opTimeout = 15 * time.Second

// How long after the load event Navigate keeps waiting for networkIdle.
const idleGrace = 2 * time.Second

// EventKind tags what a Page observed.
type EventKind string

// Captured event kinds.
const (
	EventConsole       EventKind = "console"
	EventException     EventKind = "exception"
	EventResponse      EventKind = "response"
	EventRequestFailed EventKind = "request_failed"
)

// Event is one observation from the CDP listeners attached to a page.
// Console events carry Level ("error" or "warning") and Text; responses
// carry URL, Status and ResourceType; failed requests carry URL, Text
// (the chromium error string), Canceled and ResourceType.
type Event struct {
	Kind         EventKind
	Level        string
	Text         string
	URL          string
	Status       int
	ResourceType string
	Canceled     bool
}

// Page is an instrumented tab. Listeners attach at creation, before any
// navigation, and feed a bounded buffer consumed via Drain once the page
// lifecycle is over.
type Page struct {
	tabCtx    context.Context
	cancel    context.CancelFunc
	release   func()
	logger    *zap.Logger
	events    chan Event
	dropped   atomic.Int64
	requests  map[network.RequestID]string
	mainFrame cdp.FrameID
	idle      chan struct{}
	idleOnce  sync.Once
	closeOnce sync.Once
}

// NewPage opens an instrumented tab. Callers must Close it.
func (e *Engine) NewPage(ctx context.Context) (*Page, error) {
	release, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}
	tabCtx, cancel := chromedp.NewContext(e.browserCtx)
	p := &Page{
		tabCtx:   tabCtx,
		cancel:   cancel,
		release:  release,
		logger:   e.logger,
		events:   make(chan Event, eventBuffer),
		requests: make(map[network.RequestID]string),
		idle:     make(chan struct{}),
	}
	chromedp.ListenTarget(tabCtx, p.captureEvent)

	setupCtx, cancelSetup := context.WithTimeout(tabCtx, opTimeout)
	defer cancelSetup()
	stopForward := forwardCancel(ctx, cancelSetup)
	defer stopForward()
	if err := chromedp.Run(setupCtx,
		network.Enable(),
		runtime.Enable(),
		page.SetLifecycleEventsEnabled(true),
	); err != nil {
		cancel()
		release()
		return nil, fmt.Errorf("page setup: %w", err)
	}
	return p, nil
}

// AddInitScript installs source to run in every new document before any
// page script. Call it before Navigate.
func (p *Page) AddInitScript(ctx context.Context, source string) error {
	return p.run(ctx, "add init script", chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(source).Do(ctx)
		return err
	}))
}

// Navigate loads pageURL, waiting for the load event and then a bounded
// network-idle settle. The timeout caps the whole navigation.
func (p *Page) Navigate(ctx context.Context, pageURL string, timeout time.Duration) (time.Duration, error) {
	if p.tabCtx.Err() != nil {
		return 0, errPageClosed
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	navCtx, cancel := context.WithTimeout(p.tabCtx, timeout)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	start := time.Now()
	if err := chromedp.Run(navCtx, chromedp.Navigate(pageURL)); err != nil {
		return time.Since(start), fmt.Errorf("navigate %s: %w", pageURL, err)
	}
	select {
	case <-p.idle:
	case <-time.After(idleGrace):
	case <-navCtx.Done():
	}
	return time.Since(start), nil
}

// Evaluate runs expr in the page and unmarshals its result into out.
func (p *Page) Evaluate(ctx context.Context, expr string, out any) error {
	return p.run(ctx, "evaluate", chromedp.Evaluate(expr, out))
}

// SetViewport switches the emulated viewport size.
func (p *Page) SetViewport(ctx context.Context, width, height int64) error {
	return p.run(ctx, "set viewport", chromedp.EmulateViewport(width, height))
}

// Drain returns every event captured so far without blocking.
func (p *Page) Drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-p.events:
			out = append(out, ev)
		default:
			if n := p.dropped.Swap(0); n > 0 {
				p.logger.Debug("page event buffer overflowed", zap.Int64("dropped", n))
			}
			return out
		}
	}
}

// Close releases the tab. Safe to call multiple times.
func (p *Page) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.release()
	})
}

func (p *Page) run(ctx context.Context, what string, action chromedp.Action) error {
	if p.tabCtx.Err() != nil {
		return errPageClosed
	}
	runCtx, cancel := context.WithTimeout(p.tabCtx, opTimeout)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()
	if err := chromedp.Run(runCtx, action); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// captureEvent runs on the tab's event loop; fields it touches are not
// read elsewhere until the page settles, so no locking is needed.
func (p *Page) captureEvent(ev any) {
	switch e := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		switch e.Type {
		case runtime.APITypeError:
			p.push(Event{Kind: EventConsole, Level: "error", Text: consoleText(e.Args)})
		case runtime.APITypeWarning:
			p.push(Event{Kind: EventConsole, Level: "warning", Text: consoleText(e.Args)})
		}
	case *runtime.EventExceptionThrown:
		p.push(Event{Kind: EventException, Text: exceptionText(e.ExceptionDetails)})
	case *network.EventRequestWillBeSent:
		if e.Request != nil {
			p.requests[e.RequestID] = e.Request.URL
		}
	case *network.EventResponseReceived:
		if e.Response == nil {
			return
		}
		p.push(Event{
			Kind:         EventResponse,
			URL:          e.Response.URL,
			Status:       int(e.Response.Status),
			ResourceType: string(e.Type),
		})
	case *network.EventLoadingFailed:
		p.push(Event{
			Kind:         EventRequestFailed,
			URL:          p.requests[e.RequestID],
			Text:         e.ErrorText,
			Canceled:     e.Canceled,
			ResourceType: string(e.Type),
		})
	case *page.EventFrameNavigated:
		if e.Frame != nil && e.Frame.ParentID == "" {
			p.mainFrame = e.Frame.ID
		}
	case *page.EventLifecycleEvent:
		if e.Name == "networkIdle" && (p.mainFrame == "" || e.FrameID == p.mainFrame) {
			p.idleOnce.Do(func() { close(p.idle) })
		}
	}
}

func (p *Page) push(ev Event) {
	select {
	case p.events <- ev:
	default:
		p.dropped.Add(1)
	}
}

func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		switch {
		case arg.Description != "":
			parts = append(parts, arg.Description)
		case len(arg.Value) > 0:
			var s string
			if err := json.Unmarshal(arg.Value, &s); err == nil {
				parts = append(parts, s)
			} else {
				parts = append(parts, string(arg.Value))
			}
		}
	}
	return strings.Join(parts, " ")
}

func exceptionText(details *runtime.ExceptionDetails) string {
	if details == nil {
		return "uncaught exception"
	}
	if details.Exception != nil && details.Exception.Description != "" {
		return details.Exception.Description
	}
	return details.Text
}
