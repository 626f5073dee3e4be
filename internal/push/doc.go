// Package push provides the event primitives, non-blocking hub, and
// emitter interfaces the queue manager uses to publish live job updates.
// Events batch on a background goroutine and fan out to pluggable sinks
// such as structured logging or Prometheus metrics; a real push transport
// (WebSocket, SSE) would attach at the same Sink boundary.
package push
