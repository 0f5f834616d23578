package httpapi

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"posadmin/backend/internal/logger"
	"posadmin/backend/internal/metrics"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func TestRequestIDHeader(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if got := res.Header().Get(requestIDHeader); got == "" {
		t.Fatalf("expected a generated request id")
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "till-7-req-42")
	res = httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if got := res.Header().Get(requestIDHeader); got != "till-7-req-42" {
		t.Fatalf("expected caller request id to be echoed, got %q", got)
	}
}

func TestCORSPreflightAllowsConfiguredOrigin(t *testing.T) {
	api := newTestAPI(t)
	api.allowedOrigins = []string{"https://admin.example.com"}

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/products", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "https://admin.example.com" {
		t.Fatalf("expected allowed origin echoed, got %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/products", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	res = httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected foreign origin to be refused, got %q", got)
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"email":"%s@example.com","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
	if got := decodeError(t, res); got.Details["body"] != "is too large" {
		t.Fatalf("expected body detail 'is too large', got %v", got.Details)
	}
}

func TestInternalErrorsHideDetails(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	res := httptest.NewRecorder()

	api.writeError(res, req, fmt.Errorf("pq: relation \"secret_table\" does not exist"))

	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", res.Code)
	}
	body := decodeError(t, res)
	if body.Message != "internal server error" {
		t.Fatalf("expected public message, got %q", body.Message)
	}
}

func TestRecovererReturns500(t *testing.T) {
	api := newTestAPI(t)
	handler := api.recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", res.Code)
	}
}

func TestPanickingRequestIsLoggedAndCounted(t *testing.T) {
	var logs bytes.Buffer
	reg := prometheus.NewRegistry()
	api := New(Options{
		Logger:  logger.New(logger.Options{ServiceName: "posadmin-test", Output: &logs}),
		Metrics: metrics.New(reg),
	})
	handler := chi.Chain(api.middlewares()...).Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", res.Code)
	}
	out := logs.String()
	if !strings.Contains(out, "panic.recovered") || !strings.Contains(out, "request.complete") {
		t.Fatalf("expected panic and completion to be logged, got %s", out)
	}
	completed := false
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "request.complete") && strings.Contains(line, `"status":500`) {
			completed = true
		}
	}
	if !completed {
		t.Fatalf("expected completion log with status 500, got %s", out)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	counted := 0.0
	for _, mf := range families {
		if mf.GetName() != "posadmin_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "status" && label.GetValue() == "500" {
					counted += m.GetCounter().GetValue()
				}
			}
		}
	}
	if counted != 1 {
		t.Fatalf("expected one 500 request counted, got %v", counted)
	}
}

func TestAttemptLimiterWindow(t *testing.T) {
	limiter := newAttemptLimiter(2, 50*time.Millisecond)
	if !limiter.Allow("a") || !limiter.Allow("a") {
		t.Fatalf("expected first two attempts to pass")
	}
	if limiter.Allow("a") {
		t.Fatalf("expected third attempt to be limited")
	}
	if !limiter.Allow("b") {
		t.Fatalf("expected other keys to be unaffected")
	}
	time.Sleep(60 * time.Millisecond)
	if !limiter.Allow("a") {
		t.Fatalf("expected attempts to pass once the window slides")
	}
}

func TestAttemptLimiterEvictsIdleKeys(t *testing.T) {
	limiter := newAttemptLimiter(3, 30*time.Millisecond)
	for i := 0; i < 50; i++ {
		limiter.Allow(fmt.Sprintf("user-%d@example.com", i))
	}
	time.Sleep(40 * time.Millisecond)

	if !limiter.Allow("fresh@example.com") {
		t.Fatalf("expected a new key to pass")
	}
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if len(limiter.entries) != 1 {
		t.Fatalf("expected idle keys to be evicted, %d remain", len(limiter.entries))
	}
	if _, ok := limiter.entries["fresh@example.com"]; !ok {
		t.Fatalf("expected the fresh key to be tracked")
	}
}

func TestClientKeyStripsPort(t *testing.T) {
	cases := map[string]string{
		"10.0.0.7:5123":     "10.0.0.7",
		"[2001:db8::1]:443": "2001:db8::1",
		"":                  "unknown",
	}
	for remote, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		if got := clientKey(req); got != want {
			t.Fatalf("clientKey(%q) = %q, want %q", remote, got, want)
		}
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 50, 200); got != 200 {
		t.Fatalf("expected capped limit 200, got %d", got)
	}
	if got := parsePositiveLimit("", 50, 200); got != 50 {
		t.Fatalf("expected fallback limit 50, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 50, 200); got != 50 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
}
