package httpapi

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/caremesh/authcore"
	"github.com/caremesh/authcore/metrics/export/prometheus"
	"github.com/caremesh/authcore/middleware"
)

func TestLoginEndpointIssuesTokens(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/auth/login", map[string]any{
		"identifier": "api@example.org",
		"password":   "api password 1",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	env := decodeEnvelope(t, rec)
	if !env.Success {
		t.Fatalf("success = false: %s", rec.Body.String())
	}
	data := env.Data.(map[string]any)
	tokens := data["tokens"].(map[string]any)
	if tokens["accessToken"] == "" || tokens["refreshToken"] == "" {
		t.Fatal("tokens missing from login payload")
	}
	if data["csrfToken"] == "" {
		t.Fatal("csrf token missing from login payload")
	}
}

func TestLoginEndpointRejectsBadPassword(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/auth/login", map[string]any{
		"identifier": "api@example.org",
		"password":   "wrong password",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	env := decodeEnvelope(t, rec)
	if env.Success || env.Error == nil || env.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("unexpected envelope: %s", rec.Body.String())
	}
}

func TestLoginEndpointRateLimitCarriesRetryAfter(t *testing.T) {
	router, _ := newTestRouterWith(t, func(cfg *authcore.Config) {
		cfg.RateLimit.Login.MaxRequests = 2
		cfg.RateLimit.Login.Window = time.Minute
	})

	var rec *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		rec = doJSON(t, router, http.MethodPost, "/auth/login", map[string]any{
			"identifier": "api@example.org",
			"password":   "wrong password",
		}, nil)
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("Retry-After header missing")
	}

	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != "RATE_LIMITED" || env.Error.ResetAt == nil {
		t.Fatalf("unexpected envelope: %s", rec.Body.String())
	}
}

func TestProtectedRoutesRequireBearerAndCSRF(t *testing.T) {
	router, _ := newTestRouter(t)

	login := loginViaAPI(t, router)

	// No token at all.
	rec := doJSON(t, router, http.MethodPost, "/auth/logout", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rec.Code)
	}

	// Bearer without CSRF on a mutating route.
	rec = doJSON(t, router, http.MethodPost, "/auth/logout", nil, map[string]string{
		"Authorization": "Bearer " + login.accessToken,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("no csrf: status = %d, want 403", rec.Code)
	}

	// GET needs no CSRF.
	rec = doJSON(t, router, http.MethodGet, "/auth/sessions", nil, map[string]string{
		"Authorization": "Bearer " + login.accessToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("sessions: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Full logout with both headers.
	rec = doJSON(t, router, http.MethodPost, "/auth/logout", nil, map[string]string{
		"Authorization":       "Bearer " + login.accessToken,
		middleware.CSRFHeader: login.csrfToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// The token is dead afterwards.
	rec = doJSON(t, router, http.MethodGet, "/auth/sessions", nil, map[string]string{
		"Authorization": "Bearer " + login.accessToken,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("after logout: status = %d, want 401", rec.Code)
	}
}

func TestRefreshEndpointRotates(t *testing.T) {
	router, _ := newTestRouter(t)
	login := loginViaAPI(t, router)

	rec := doJSON(t, router, http.MethodPost, "/auth/refresh", map[string]any{
		"refreshToken": login.refreshToken,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Replaying the consumed refresh token is rejected.
	rec = doJSON(t, router, http.MethodPost, "/auth/refresh", map[string]any{
		"refreshToken": login.refreshToken,
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replay: status = %d, want 401", rec.Code)
	}
}

func TestCaptchaEndpointRendersImage(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/auth/captcha", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	env := decodeEnvelope(t, rec)
	data := env.Data.(map[string]any)
	if data["captchaId"] == "" {
		t.Fatal("captchaId missing")
	}
	image, _ := data["image"].(string)
	if !strings.HasPrefix(image, "data:image/svg+xml;base64,") {
		t.Fatalf("image = %q", image)
	}
	if strings.Contains(rec.Body.String(), `"text"`) {
		t.Fatal("captcha answer leaked in response")
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "authcore_login_success_total") {
		t.Fatalf("metrics body missing counters:\n%s", rec.Body.String())
	}
}

type apiLogin struct {
	accessToken  string
	refreshToken string
	csrfToken    string
}

func loginViaAPI(t *testing.T, router *gin.Engine) apiLogin {
	t.Helper()

	rec := doJSON(t, router, http.MethodPost, "/auth/login", map[string]any{
		"identifier": "api@example.org",
		"password":   "api password 1",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	env := decodeEnvelope(t, rec)
	data := env.Data.(map[string]any)
	tokens := data["tokens"].(map[string]any)
	return apiLogin{
		accessToken:  tokens["accessToken"].(string),
		refreshToken: tokens["refreshToken"].(string),
		csrfToken:    data["csrfToken"].(string),
	}
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type testEnvelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
	Error   *struct {
		Code    string     `json:"code"`
		Message string     `json:"message"`
		ResetAt *time.Time `json:"resetAt"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v\n%s", err, rec.Body.String())
	}
	return env
}

func newTestRouter(t *testing.T) (*gin.Engine, *authcore.Engine) {
	return newTestRouterWith(t, nil)
}

func newTestRouterWith(t *testing.T, modify func(*authcore.Config)) (*gin.Engine, *authcore.Engine) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.Password = authcore.PasswordConfig{
		Memory: 8192, Time: 1, Parallelism: 1,
		SaltLength: 16, KeyLength: 32, MinLength: 8,
	}
	if modify != nil {
		modify(&cfg)
	}

	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(newMemoryCredentials()).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	if _, err := engine.Register(context.Background(), authcore.RegisterRequest{
		Identifier: "api@example.org",
		Password:   "api password 1",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	router := NewRouter(engine, Options{
		GinMode: gin.TestMode,
		Metrics: prometheus.NewExporter(engine).Handler(),
	})
	return router, engine
}
