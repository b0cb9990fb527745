// Package otel publishes authcore engine metrics through an OpenTelemetry meter.
//
// [NewExporter] registers one observable counter per engine counter and a
// gauge per latency bucket. A single callback reads
// [authcore.Engine.MetricsSnapshot] on each collection.
//
// The caller owns the MeterProvider.
package otel
