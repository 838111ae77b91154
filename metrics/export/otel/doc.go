// Package otel publishes rtauth engine metrics through an OpenTelemetry
// Meter supplied by the caller.
//
// Counters become Int64ObservableCounter instruments with the same names
// the Prometheus exporter uses. Latency histograms are exported as a
// cumulative bucket gauge with an "le" attribute and a count gauge.
package otel
