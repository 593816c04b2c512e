package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/caremesh/authcore"
)

// CSRFHeader is the request header carrying the session's CSRF token.
const CSRFHeader = "X-CSRF-Token"

// FingerprintHeader carries the client's device fingerprint, when the
// frontend computes one.
const FingerprintHeader = "X-Device-Fingerprint"

type authResultContextKey struct{}

// AuthResultFromContext returns the validated identity stored by Guard.
func AuthResultFromContext(ctx context.Context) (*authcore.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*authcore.AuthResult)
	return res, ok
}

// Guard validates the bearer access token on every request and, for
// unsafe methods, the CSRF token bound to its session. The validated
// AuthResult lands on the request context.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := WithRequestContext(r)

			var res *authcore.AuthResult
			var err error
			if unsafeMethod(r.Method) {
				res, err = engine.ValidateWithCSRF(ctx, token, r.Header.Get(CSRFHeader))
			} else {
				res, err = engine.ValidateAccess(ctx, token)
			}
			if err != nil {
				status := http.StatusUnauthorized
				if errors.Is(err, authcore.ErrCSRFInvalid) {
					status = http.StatusForbidden
				}
				http.Error(w, http.StatusText(status), status)
				return
			}

			if unsafeMethod(r.Method) {
				if rotated, err := engine.CSRFToken(res.SessionID); err == nil {
					w.Header().Set(CSRFHeader, rotated)
				}
			}

			ctx = context.WithValue(ctx, authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithRequestContext copies the request's client metadata onto its
// context so the Engine can rate limit, audit and fingerprint.
func WithRequestContext(r *http.Request) context.Context {
	ctx := r.Context()

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ctx = authcore.WithClientIP(ctx, host)
	ctx = authcore.WithUserAgent(ctx, r.UserAgent())
	if fp := r.Header.Get(FingerprintHeader); fp != "" {
		ctx = authcore.WithDeviceFingerprint(ctx, fp)
	}
	return ctx
}

func unsafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
