package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func TestRequestIDEchoesCallerValue(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-42")
	resp := httptest.NewRecorder()
	RequestID(nil)(okHandler()).ServeHTTP(resp, req)

	if got := resp.Header().Get(requestIDHeader); got != "req-42" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}

func TestRequestIDReplacesOversizedValue(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, strings.Repeat("x", maxRequestIDLen+1))
	resp := httptest.NewRecorder()
	RequestID(nil)(okHandler()).ServeHTTP(resp, req)

	if _, err := uuid.Parse(resp.Header().Get(requestIDHeader)); err != nil {
		t.Fatalf("expected generated uuid, got %q", resp.Header().Get(requestIDHeader))
	}
}

func TestRequestIDRejectsControlCharacters(t *testing.T) {
	t.Parallel()

	for _, id := range []string{"req 42", "req\t42", "caf\u00e9"} {
		if acceptableRequestID(id) {
			t.Fatalf("expected %q to be rejected", id)
		}
	}
	if !acceptableRequestID("checkout-7f3a:retry.2") {
		t.Fatal("expected printable id to be accepted")
	}
}

func TestRecovererWritesInternalError(t *testing.T) {
	t.Parallel()

	handler := Recoverer(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
	if code := errorCode(t, resp.Body.Bytes()); code != "INTERNAL_ERROR" {
		t.Fatalf("expected INTERNAL_ERROR got %s", code)
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	t.Parallel()

	handler := CORS([]string{"https://shop.example"})(okHandler())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://shop.example")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.example" {
		t.Fatalf("expected origin echoed, got %q", got)
	}
}

type capturedRequest struct {
	method string
	route  string
	status int
}

type recordingMetrics struct {
	seen []capturedRequest
}

func (m *recordingMetrics) ObserveRequest(method, route string, status int, _ time.Duration) {
	m.seen = append(m.seen, capturedRequest{method: method, route: route, status: status})
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	t.Parallel()

	rec := &recordingMetrics{}
	r := chi.NewRouter()
	r.Use(Metrics(rec))
	r.Get("/api/v1/orders/{orderId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/orders/123", nil))

	if len(rec.seen) != 1 {
		t.Fatalf("expected one observation, got %d", len(rec.seen))
	}
	got := rec.seen[0]
	if got.route != "/api/v1/orders/{orderId}" || got.status != http.StatusAccepted || got.method != http.MethodGet {
		t.Fatalf("unexpected observation %+v", got)
	}
}
