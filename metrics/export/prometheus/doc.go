// Package prometheus renders authcore engine metrics as Prometheus text.
//
// [NewExporter] exposes an [net/http.Handler] for a /metrics route. Counters
// are named authcore_*_total. The ValidateAccess latency histogram is
// authcore_validate_access_latency_seconds.
//
// Nothing is registered in a global registry; callers mount the Handler.
package prometheus
