// Package sinks implements concrete push consumers: structured logging
// and Prometheus metrics. Each sink satisfies the push.Sink interface
// and is safe for repeated Consume/Close cycles.
package sinks
