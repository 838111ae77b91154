// Package prometheus exposes rtauth engine metrics as a Prometheus
// collector. Counters are named rtauth_*_total; the only histogram is
// rtauth_authenticate_latency_seconds.
//
// Callers register [NewCollector] on their own registry or mount [Handler].
package prometheus
