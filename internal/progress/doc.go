// Package progress carries observability events for running analyses. A
// non-blocking hub batches job and stage events on a background goroutine and
// fans them out to sinks such as structured logs or Prometheus. Durable event
// history lives in the job store; nothing here is persisted.
package progress
