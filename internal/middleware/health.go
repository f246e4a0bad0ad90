package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const checkTimeout = 5 * time.Second

// HealthChecker is one dependency probe (queue volume, archive, bucket)
type HealthChecker interface {
	Check(ctx context.Context) error
}

// CheckFunc adapts a plain function
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckStatus `json:"checks"`
}

type CheckStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// HealthHandler probes every checker in parallel and answers 503 if any fails.
func HealthHandler(checkers map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		defer cancel()

		health := HealthStatus{
			Status:    "healthy",
			Timestamp: time.Now().UTC(),
			Checks:    make(map[string]CheckStatus, len(checkers)),
		}
		var mu sync.Mutex
		var wg sync.WaitGroup
		for name, checker := range checkers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				start := time.Now()
				err := checker.Check(ctx)
				cs := CheckStatus{Status: "healthy", LatencyMS: time.Since(start).Milliseconds()}
				if err != nil {
					cs.Status, cs.Message = "unhealthy", err.Error()
				}
				mu.Lock()
				health.Checks[name] = cs
				if err != nil {
					health.Status = "unhealthy"
				}
				mu.Unlock()
			}()
		}
		wg.Wait()

		code := http.StatusOK
		if health.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(health)
	}
}

// LivenessHandler is the public, dependency-free check
func LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
