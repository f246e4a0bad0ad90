package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanwahyu/casegate/internal/application"
	appcases "github.com/bryanwahyu/casegate/internal/application/cases"
	"github.com/bryanwahyu/casegate/internal/config"
	"github.com/bryanwahyu/casegate/internal/infra/fsstore"
	"github.com/bryanwahyu/casegate/internal/infra/httpserver"
	"github.com/bryanwahyu/casegate/internal/infra/metrics"
	"github.com/bryanwahyu/casegate/internal/middleware"
)

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config invalid: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// init queue
	store, err := fsstore.New(cfg.Storage.Root)
	if err != nil {
		log.Fatalf("storage init error: %v", err)
	}

	// init metrics
	reg := metrics.NewRegistry()

	// init service
	svc := &appcases.Service{
		Store:          store,
		Clock:          application.SystemClock{},
		Metrics:        metrics.NewRecorder(reg),
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		MaxClaimBytes:  cfg.Storage.MaxClaimBytes,
		ClaimBudget:    cfg.Storage.ClaimBudget,
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSec)
	go every(ctx, time.Minute, func() {
		if n := limiter.Prune(time.Now()); n > 0 {
			log.Printf("ratelimit: pruned buckets=%d", n)
		}
	})

	if cfg.Storage.StaleAfter > 0 {
		go every(ctx, max(cfg.Storage.StaleAfter/2, time.Second), func() {
			n, err := svc.SweepStale(ctx, cfg.Storage.StaleAfter)
			if err != nil {
				log.Printf("sweep error: %v", err)
			} else if n > 0 {
				log.Printf("sweep: released stale claims count=%d", n)
			}
		})
	}

	// init router
	handler := httpserver.NewRouter(svc, httpserver.Options{
		APIKey:         cfg.Auth.APIKey,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		StaleAfter:     cfg.Storage.StaleAfter,
		Limiter:        limiter,
		Metrics:        middleware.NewMetricsBuilder(reg),
		MetricsHandler: metrics.Handler(reg),
		Checks: map[string]middleware.HealthChecker{
			"storage": middleware.CheckFunc(store.Check),
		},
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// run server
	go func() {
		log.Printf("server listening on %s root=%s", addr, store.Root())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	<-ctx.Done()
	log.Println("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// every runs fn on each tick until ctx is done.
func every(ctx context.Context, d time.Duration, fn func()) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}
