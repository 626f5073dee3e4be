package crawler

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// hostLimiter spaces fetches per host so a crawl does not hammer the
// audited site. Zero or negative rps disables limiting entirely.
type hostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
}

func newHostLimiter(rps float64) *hostLimiter {
	return &hostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
	}
}

// Wait blocks until a token is available for the URL's host, respecting
// the context.
func (l *hostLimiter) Wait(ctx context.Context, pageURL string) error {
	if l.rps <= 0 {
		return nil
	}
	host := "unknown"
	if u, err := url.Parse(pageURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rps, 1)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()
	return limiter.Wait(ctx)
}
