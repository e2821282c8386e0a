// Package sinks provides progress.Sink implementations that turn analysis
// events into structured logs and Prometheus series.
package sinks
