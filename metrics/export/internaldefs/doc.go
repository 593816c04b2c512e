// Package internaldefs holds the shared metric name table used by the
// Prometheus and OTel exporters. It exists so both exporters emit the
// same metric names and bucket layout.
package internaldefs
