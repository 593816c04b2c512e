// Package middleware provides net/http middleware that guards routes
// with the authcore Engine: bearer-token validation on every request
// and CSRF enforcement on unsafe methods.
package middleware
