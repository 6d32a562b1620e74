// Package sinks holds the progress consumers: a zap log sink and a
// Prometheus sink.
package sinks
