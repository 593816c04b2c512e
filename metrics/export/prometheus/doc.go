// Package prometheus renders authcore metric snapshots in the
// Prometheus text exposition format, without depending on the
// Prometheus client library.
package prometheus
