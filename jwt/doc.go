// Package jwt signs and verifies the access and refresh tokens issued by
// the engine. Both kinds are JWTs sharing one claim shape; a mandatory
// kind claim is validated on parse so an access token can never be
// replayed as a refresh token or vice versa. Every issuance carries a
// fresh jti and the principal's token version counter.
package jwt
