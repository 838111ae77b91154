package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/greensec/rtauth"
	"github.com/greensec/rtauth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// MetricsSource is satisfied by *rtauth.Engine.
type MetricsSource interface {
	MetricsSnapshot() rtauth.MetricsSnapshot
	AuditDropped() uint64
}

type observedCounter struct {
	id         rtauth.MetricID
	instrument metric.Int64ObservableCounter
}

// OTel has no observable histogram, so each histogram is published as a
// cumulative bucket gauge keyed by "le" plus a count gauge.
type observedHistogram struct {
	id      rtauth.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

type Exporter struct {
	source       MetricsSource
	registration metric.Registration
	counters     []observedCounter
	histograms   []observedHistogram
	auditDropped metric.Int64ObservableCounter
	leOptions    []metric.ObserveOption
}

// NewExporter registers observable instruments on meter that read source
// on every collection.
func NewExporter(meter metric.Meter, source MetricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	for _, le := range internaldefs.BoundLabels() {
		e.leOptions = append(e.leOptions, metric.WithAttributes(attribute.String("le", le)))
	}

	var observables []metric.Observable
	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative bucket counts."))
		if err != nil {
			return nil, fmt.Errorf("histogram %s: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableGauge(def.Name+"_count",
			metric.WithDescription(def.Help+" Sample count."))
		if err != nil {
			return nil, fmt.Errorf("histogram %s: %w", def.Name, err)
		}
		e.histograms = append(e.histograms, observedHistogram{id: def.ID, buckets: buckets, count: count})
		observables = append(observables, buckets, count)
	}

	dropped, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("counter %s: %w", internaldefs.AuditDroppedName, err)
	}
	e.auditDropped = dropped
	observables = append(observables, dropped)

	reg, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		o.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		for i, v := range cumulative {
			o.ObserveInt64(h.buckets, int64(v), e.leOptions[i])
		}
		o.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the callback. The instruments stay on the meter.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
