// Package httpapi serves the authentication engine over HTTP using gin.
//
// Every response uses the envelope {success, data|error, timestamp}.
// Engine sentinel errors map onto stable HTTP statuses; rate-limited
// responses carry a Retry-After header and the window reset time.
package httpapi
