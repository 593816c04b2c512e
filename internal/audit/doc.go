// Package audit provides the asynchronous audit event pipeline: a
// canonical event model, pluggable sinks, and a buffered dispatcher
// that keeps audit emission off the authentication hot path.
package audit
