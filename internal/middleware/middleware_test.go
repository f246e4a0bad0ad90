package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
})

func TestAPIKeyAuth(t *testing.T) {
	h := APIKeyAuth("s3cret")(okHandler)
	tests := []struct {
		name   string
		header map[string]string
		want   int
	}{
		{"bearer", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"bare authorization", map[string]string{"Authorization": "s3cret"}, http.StatusOK},
		{"x-api-key", map[string]string{APIKeyHeader: "s3cret"}, http.StatusOK},
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"prefix only", map[string]string{"Authorization": "Bearer s3"}, http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/internal/claim", nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestAPIKeyAuth_EmptyKeyRejectsAll(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/internal/claim", nil)
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()
	APIKeyAuth("")(okHandler).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, 0)
	h := rl.Middleware(okHandler)

	codes := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/result/x", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, codes("10.0.0.1:1111"))
	assert.Equal(t, http.StatusOK, codes("10.0.0.1:2222"))
	assert.Equal(t, http.StatusTooManyRequests, codes("10.0.0.1:3333"), "ports share one bucket")
	assert.Equal(t, http.StatusOK, codes("10.0.0.2:1111"))

	assert.Equal(t, 0, rl.Prune(time.Now()))
	assert.Equal(t, 2, rl.Prune(time.Now().Add(time.Hour)))
	assert.Equal(t, http.StatusOK, codes("10.0.0.1:4444"))
}

func TestTokenBucket_Refill(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
	tb.lastRefill = tb.lastRefill.Add(-2 * time.Second)
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
}

func TestValidateCaseID(t *testing.T) {
	assert.NoError(t, ValidateCaseID("3f2b8c1e-0d4a-4c53-9a57-0a1b2c3d4e5f"))
	for _, bad := range []string{"", "../etc/passwd", "3F2B8C1E-0D4A-4C53-9A57-0A1B2C3D4E5F", "{3f2b8c1e-0d4a-4c53-9a57-0a1b2c3d4e5f}", "abc"} {
		assert.Error(t, ValidateCaseID(bad), bad)
	}
}

func TestSanitizeAndValidateField(t *testing.T) {
	assert.Equal(t, "Ann Lee", SanitizeString("  Ann\x00 Lee\x07 "))
	assert.NoError(t, ValidateField("name", "Ann"))
	assert.Error(t, ValidateField("name", ""))
	assert.Error(t, ValidateField("name", string(make([]rune, MaxFieldLen+1))))
}

func TestHealthHandler(t *testing.T) {
	checks := map[string]HealthChecker{
		"store": CheckFunc(func(context.Context) error { return nil }),
	}
	w := httptest.NewRecorder()
	HealthHandler(checks).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	checks["disk"] = CheckFunc(func(context.Context) error { return errors.New("read-only") })
	w = httptest.NewRecorder()
	HealthHandler(checks).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "read-only", body.Checks["disk"].Message)
	assert.Equal(t, "healthy", body.Checks["store"].Status)
}

func TestHealthHandler_ProbesInParallel(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	both := make(chan struct{})
	go func() { started.Wait(); close(both) }()

	probe := CheckFunc(func(ctx context.Context) error {
		started.Done()
		select {
		case <-both:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	checks := map[string]HealthChecker{"queue": probe, "archive": probe}

	w := httptest.NewRecorder()
	HealthHandler(checks).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/internal/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Len(t, body.Checks, 2)
	assert.Equal(t, "healthy", body.Checks["queue"].Status)
	assert.Equal(t, "healthy", body.Checks["archive"].Status)
}

func TestMetricsBuilder_LabelsByRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	mb := NewMetricsBuilder(reg)
	mux := chi.NewRouter()
	mux.Use(mb.Build())
	mux.Get("/result/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/result/"+id, nil))
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(mb.counterVec.WithLabelValues("GET", "/result/{id}", "404")))
	assert.Equal(t, 0.0, testutil.ToFloat64(mb.inFlight))
}
