// Package jobs runs the background retention sweeps: pruning the
// durable revocation log and the SQLite audit table. Sweeps are
// scheduled through asynq; correctness never depends on them, since
// every hot-path check re-validates expiry inline.
package jobs
