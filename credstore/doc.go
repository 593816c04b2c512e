// Package credstore provides a SQLite-backed CredentialStore for
// deployments that do not bring their own principal persistence.
package credstore
