package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrEthical07/rentauth"
	"github.com/MrEthical07/rentauth/internal/metrics"
	"github.com/MrEthical07/rentauth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// OutcomeKey is the attribute that splits one operation counter by result.
const OutcomeKey = "outcome"

// Source is what the exporter reads on every collection. *rentauth.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() rentauth.MetricsSnapshot
	AuditDropped() uint64
}

type outcome struct {
	name string
	id   metrics.ID
}

// family is one OTel counter whose data points are the outcomes of a single
// auth operation.
type family struct {
	name     string
	help     string
	outcomes []outcome
}

var families = []family{
	{"rentauth.login", "Login attempts by outcome.", []outcome{
		{"success", metrics.LoginSuccess},
		{"failure", metrics.LoginFailure},
		{"rate_limited", metrics.LoginRateLimited},
		{"step_up", metrics.LoginStepUpRequired},
	}},
	{"rentauth.refresh", "Refresh-token presentations by outcome.", []outcome{
		{"success", metrics.RefreshSuccess},
		{"failure", metrics.RefreshFailure},
		{"reuse", metrics.RefreshReuseDetected},
	}},
	{"rentauth.logout", "Logouts by scope.", []outcome{
		{"single", metrics.Logout},
		{"everywhere", metrics.LogoutAll},
	}},
	{"rentauth.authorize", "Authorize decisions by outcome.", []outcome{
		{"allowed", metrics.AuthorizeAllowed},
		{"denied", metrics.AuthorizeDenied},
		{"rejected", metrics.AuthorizeRejected},
	}},
	{"rentauth.otp", "One-time code events.", []outcome{
		{"issued", metrics.OTPIssued},
		{"verified", metrics.OTPVerified},
		{"failed", metrics.OTPFailed},
		{"replayed", metrics.OTPReplayDetected},
		{"attempts_exceeded", metrics.OTPAttemptsExceeded},
	}},
	{"rentauth.register", "Registrations by outcome.", []outcome{
		{"success", metrics.RegisterSuccess},
		{"duplicate", metrics.RegisterDuplicate},
	}},
	{"rentauth.email.verified", "Email addresses confirmed.", []outcome{
		{"success", metrics.EmailVerified},
	}},
	{"rentauth.password.change", "Password changes by outcome.", []outcome{
		{"success", metrics.PasswordChangeSuccess},
		{"invalid_old", metrics.PasswordChangeInvalidOld},
	}},
	{"rentauth.password.rehash", "Stored hashes re-encoded on login.", []outcome{
		{"success", metrics.PasswordHashUpgraded},
	}},
	{"rentauth.activity.write", "Activity log writes that failed.", []outcome{
		{"failure", metrics.ActivityWriteFailure},
	}},
}

type observedPoint struct {
	id   metrics.ID
	opts metric.ObserveOption
}

type observedFamily struct {
	instrument metric.Int64ObservableCounter
	points     []observedPoint
}

// observedHistogram carries one gauge per histogram; each cumulative bucket
// is a data point keyed by its upper bound in seconds.
type observedHistogram struct {
	id      metrics.ID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
	bounds  [metrics.BucketCount]metric.ObserveOption
}

// OTelExporter bridges in-process counters to an OTel meter.
type OTelExporter struct {
	source       Source
	registration metric.Registration
	families     []observedFamily
	histograms   []observedHistogram
	auditDropped metric.Int64ObservableCounter
}

// NewOTelExporter publishes engine's counters through meter.
func NewOTelExporter(meter metric.Meter, engine *rentauth.Engine) (*OTelExporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource registers one counter per operation family, two
// gauges per latency histogram and a single callback that reads source.
func NewOTelExporterFromSource(meter metric.Meter, source Source) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &OTelExporter{
		source:     source,
		families:   make([]observedFamily, 0, len(families)),
		histograms: make([]observedHistogram, 0, len(internaldefs.HistogramDefs)),
	}
	observables := make([]metric.Observable, 0, len(families)+2*len(internaldefs.HistogramDefs)+1)

	for _, f := range families {
		ins, err := meter.Int64ObservableCounter(f.name, metric.WithDescription(f.help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", f.name, err)
		}
		of := observedFamily{instrument: ins, points: make([]observedPoint, 0, len(f.outcomes))}
		for _, o := range f.outcomes {
			of.points = append(of.points, observedPoint{
				id:   o.id,
				opts: metric.WithAttributeSet(attribute.NewSet(attribute.String(OutcomeKey, o.name))),
			})
		}
		exporter.families = append(exporter.families, of)
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		name := otelName(def.Name)
		h := observedHistogram{id: def.ID, bounds: boundOptions()}
		var err error
		if h.buckets, err = meter.Int64ObservableGauge(name+".bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound."),
			metric.WithUnit("{request}"),
		); err != nil {
			return nil, fmt.Errorf("create bucket gauge %s: %w", name, err)
		}
		if h.count, err = meter.Int64ObservableGauge(name+".count",
			metric.WithDescription(def.Help+" Total samples."),
			metric.WithUnit("{request}"),
		); err != nil {
			return nil, fmt.Errorf("create count gauge %s: %w", name, err)
		}
		exporter.histograms = append(exporter.histograms, h)
		observables = append(observables, h.buckets, h.count)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		"rentauth.audit.dropped",
		metric.WithDescription("Audit events dropped under dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(exporter.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	exporter.registration = registration
	return exporter, nil
}

func (e *OTelExporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, f := range e.families {
		for _, p := range f.points {
			observer.ObserveInt64(f.instrument, int64(snapshot.Counters[p.id]), p.opts)
		}
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		for i, n := range cumulative {
			observer.ObserveInt64(h.buckets, int64(n), h.bounds[i])
		}
		observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
	}
	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

func boundOptions() [metrics.BucketCount]metric.ObserveOption {
	var out [metrics.BucketCount]metric.ObserveOption
	for i := range out {
		le := "+Inf"
		if i < len(internaldefs.HistogramBoundsSeconds) {
			le = strconv.FormatFloat(internaldefs.HistogramBoundsSeconds[i], 'g', -1, 64)
		}
		out[i] = metric.WithAttributeSet(attribute.NewSet(attribute.String("le", le)))
	}
	return out
}

// otelName turns "rentauth_login_latency_seconds" into
// "rentauth.login.latency".
func otelName(promName string) string {
	return strings.ReplaceAll(strings.TrimSuffix(promName, "_seconds"), "_", ".")
}
