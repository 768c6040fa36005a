// Package prometheus exposes rentauth counters and latency histograms as a
// client_golang Collector.
//
// Counter names are rentauth_*_total; histograms are
// rentauth_login_latency_seconds and rentauth_authorize_latency_seconds.
// Callers register the [Collector] on their own registry or mount
// [Collector.Handler].
package prometheus
