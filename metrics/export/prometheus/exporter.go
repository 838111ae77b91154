package prometheus

import (
	"net/http"

	"github.com/greensec/rtauth"
	"github.com/greensec/rtauth/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsSource is satisfied by *rtauth.Engine.
type MetricsSource interface {
	MetricsSnapshot() rtauth.MetricsSnapshot
	AuditDropped() uint64
}

type counterDesc struct {
	id   rtauth.MetricID
	desc *prometheus.Desc
}

type histogramDesc struct {
	id   rtauth.MetricID
	desc *prometheus.Desc
}

// Collector publishes an engine snapshot on every scrape. It keeps no
// state of its own.
type Collector struct {
	source       MetricsSource
	counters     []counterDesc
	histograms   []histogramDesc
	auditDropped *prometheus.Desc
	bounds       []float64
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds a Collector over source, usually an *rtauth.Engine.
func NewCollector(source MetricsSource) *Collector {
	c := &Collector{
		source:       source,
		auditDropped: prometheus.NewDesc(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, nil, nil),
		bounds:       internaldefs.UpperBoundsSeconds(),
	}
	for _, def := range internaldefs.CounterDefs {
		c.counters = append(c.counters, counterDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	for _, def := range internaldefs.HistogramDefs {
		c.histograms = append(c.histograms, histogramDesc{id: def.ID, desc: prometheus.NewDesc(def.Name, def.Help, nil, nil)})
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.counters {
		ch <- d.desc
	}
	for _, h := range c.histograms {
		ch <- h.desc
	}
	ch <- c.auditDropped
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()

	for _, d := range c.counters {
		ch <- prometheus.MustNewConstMetric(d.desc, prometheus.CounterValue, float64(snapshot.Counters[d.id]))
	}
	for _, h := range c.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		buckets := make(map[float64]uint64, len(c.bounds))
		for i, upper := range c.bounds {
			buckets[upper] = cumulative[i]
		}
		count := cumulative[len(cumulative)-1]
		// Snapshots carry no sum.
		ch <- prometheus.MustNewConstHistogram(h.desc, count, 0, buckets)
	}
	ch <- prometheus.MustNewConstMetric(c.auditDropped, prometheus.CounterValue, float64(c.source.AuditDropped()))
}

// Handler registers a Collector for source on a private registry and
// serves it. The global registry is left untouched.
func Handler(source MetricsSource) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(source)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
