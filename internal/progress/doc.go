// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces the pipeline uses to report scrape progress. Events are
// batched on a background goroutine and fanned out to pluggable sinks such as
// structured logging or Prometheus run metrics.
package progress
