// Package otel bridges authcore metrics into OpenTelemetry.
//
// [NewExporter] registers an Int64ObservableCounter per engine counter
// and Int64ObservableGauge instruments per latency bucket. A single
// callback reads the engine snapshot on each collection cycle. The
// caller owns the MeterProvider; this package only registers against
// the Meter it is handed.
package otel
