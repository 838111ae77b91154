package internaldefs

import (
	"strconv"

	"github.com/greensec/rtauth"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   rtauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for export.
type HistogramDef struct {
	ID   rtauth.MetricID
	Name string
	Help string
}

// AuditDroppedName is exported alongside the engine counters.
const (
	AuditDroppedName = "rtauth_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

var CounterDefs = []CounterDef{
	{ID: rtauth.MetricLoginSuccess, Name: "rtauth_login_success_total", Help: "Issued token pairs."},
	{ID: rtauth.MetricLoginFailure, Name: "rtauth_login_failure_total", Help: "Logins that could not issue or store a pair."},
	{ID: rtauth.MetricLoginSuperseded, Name: "rtauth_login_superseded_total", Help: "Logins that replaced a live pair in the same client context."},
	{ID: rtauth.MetricPasswordLoginFailure, Name: "rtauth_password_login_failure_total", Help: "Password sign-ins rejected for unknown identifier or wrong password."},
	{ID: rtauth.MetricRefreshSuccess, Name: "rtauth_refresh_success_total", Help: "Successful access token rotations."},
	{ID: rtauth.MetricRefreshFailure, Name: "rtauth_refresh_failure_total", Help: "Refresh attempts requiring reauthentication."},
	{ID: rtauth.MetricRefreshConflict, Name: "rtauth_refresh_conflict_total", Help: "Refreshes that lost a concurrent rotation."},
	{ID: rtauth.MetricLogout, Name: "rtauth_logout_total", Help: "Completed logouts."},
	{ID: rtauth.MetricRevocationMarkerWritten, Name: "rtauth_revocation_marker_written_total", Help: "Access tokens marked revoked."},
	{ID: rtauth.MetricAuthenticateSuccess, Name: "rtauth_authenticate_success_total", Help: "Accepted access tokens."},
	{ID: rtauth.MetricAuthenticateFailure, Name: "rtauth_authenticate_failure_total", Help: "Rejected access tokens."},
	{ID: rtauth.MetricAuthenticateRevoked, Name: "rtauth_authenticate_revoked_total", Help: "Access tokens rejected by a revocation marker."},
	{ID: rtauth.MetricSecondFactorSuccess, Name: "rtauth_second_factor_success_total", Help: "Accepted second-factor codes."},
	{ID: rtauth.MetricSecondFactorFailure, Name: "rtauth_second_factor_failure_total", Help: "Rejected second-factor codes."},
	{ID: rtauth.MetricThrottled, Name: "rtauth_throttled_total", Help: "Attempts refused after repeated failures."},
	{ID: rtauth.MetricStoreUnavailable, Name: "rtauth_store_unavailable_total", Help: "Operations failed because the session store was unreachable."},
}

var HistogramDefs = []HistogramDef{
	{ID: rtauth.MetricAuthenticateLatency, Name: "rtauth_authenticate_latency_seconds", Help: "Authenticate latency."},
}

// UpperBoundsSeconds returns the finite bucket bounds in seconds.
func UpperBoundsSeconds() []float64 {
	bounds := rtauth.HistogramUpperBounds()
	out := make([]float64, len(bounds))
	for i, d := range bounds {
		out[i] = d.Seconds()
	}
	return out
}

// BoundLabels returns the "le" label value per bucket, ending with "+Inf".
func BoundLabels() []string {
	bounds := UpperBoundsSeconds()
	out := make([]string, 0, len(bounds)+1)
	for _, b := range bounds {
		out = append(out, strconv.FormatFloat(b, 'g', -1, 64))
	}
	return append(out, "+Inf")
}

// NormalizeBuckets pads or truncates raw to the engine bucket count.
func NormalizeBuckets(raw []uint64) [rtauth.HistogramBucketCount]uint64 {
	var out [rtauth.HistogramBucketCount]uint64
	copy(out[:], raw)
	return out
}

func CumulativeBuckets(raw [rtauth.HistogramBucketCount]uint64) [rtauth.HistogramBucketCount]uint64 {
	var out [rtauth.HistogramBucketCount]uint64
	var running uint64
	for i, v := range raw {
		running += v
		out[i] = running
	}
	return out
}
