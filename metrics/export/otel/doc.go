// Package otel exports rentauth counters and latency histograms through an
// OpenTelemetry meter supplied by the caller. Collection reads
// Engine.MetricsSnapshot in one callback; the exporter never mutates the
// engine.
package otel
