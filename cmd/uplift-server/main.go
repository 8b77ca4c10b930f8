package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/time/rate"

	"github.com/fab-analytics/uplift/internal/dataset"
	"github.com/fab-analytics/uplift/internal/metrics"
	"github.com/fab-analytics/uplift/internal/pipeline"
	"github.com/fab-analytics/uplift/internal/store"
	"github.com/fab-analytics/uplift/pkg/otel"
)

const maxBodyBytes = 32 << 20

type Server struct {
	reportStore store.Store
	reportTTL   time.Duration
	opts        pipeline.Options
	metrics     *metrics.Metrics
	limiter     *rate.Limiter
	metricsAuth struct {
		enabled  bool
		user     string
		password string
	}
}

func main() {
	ctx := context.Background()

	// Tracing is optional; without a collector the exporter drops spans.
	var tp *sdktrace.TracerProvider
	if getEnv("OTEL_ENABLED", "") == "true" {
		cfg := otel.DefaultConfig("uplift-server")
		cfg.CollectorEndpoint = getEnv("OTEL_COLLECTOR", cfg.CollectorEndpoint)
		provider, err := otel.InitTracer(ctx, cfg)
		if err != nil {
			log.Fatalf("Failed to init tracing: %v", err)
		}
		tp = provider
	}

	// Setup report store
	storeBackend := getEnv("STORE_BACKEND", "memory")
	var reportStore store.Store
	var err error

	switch storeBackend {
	case "memory":
		reportStore = store.NewMemoryStore()
	case "redis":
		redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
		redisPass := getEnv("REDIS_PASSWORD", "")
		redisDB := getEnvInt("REDIS_DB", 0)
		reportStore, err = store.NewRedisStore(redisAddr, redisPass, redisDB)
		if err != nil {
			log.Fatalf("Failed to create Redis store: %v", err)
		}
	default:
		log.Fatalf("Unknown STORE_BACKEND: %s", storeBackend)
	}

	m := metrics.New()

	tokenRate := getEnvInt("TOKEN_RATE", 10)
	limiter := rate.NewLimiter(rate.Limit(tokenRate), tokenRate*2)

	opts := pipeline.DefaultOptions()
	opts.Metrics = m

	srv := &Server{
		reportStore: reportStore,
		reportTTL:   time.Duration(getEnvInt("REPORT_TTL_HOURS", 24)) * time.Hour,
		opts:        opts,
		metrics:     m,
		limiter:     limiter,
	}

	srv.metricsAuth.enabled = getEnv("METRICS_USER", "") != ""
	srv.metricsAuth.user = getEnv("METRICS_USER", "")
	srv.metricsAuth.password = getEnv("METRICS_PASS", "")

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/analyses/submit", srv.handleSubmit)
	mux.Handle("/metrics", srv.metricsHandler())
	mux.HandleFunc("/health", handleHealth)

	port := getEnv("PORT", "8080")
	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on port %s", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdown
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	if err := reportStore.Close(); err != nil {
		log.Printf("Error closing report store: %v", err)
	}
	if err := otel.Shutdown(shutdownCtx, tp); err != nil {
		log.Printf("Error shutting down tracing: %v", err)
	}

	log.Println("Server stopped")
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Rate limiting
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "10")
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	var ds dataset.Dataset
	if err := json.Unmarshal(body, &ds); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// Normalization sorts and validates; the fingerprint is only defined
	// on normalized data, so reject before touching the store.
	if err := ds.Normalize(); err != nil {
		log.Printf("Dataset rejected: %v", err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	fingerprint := ds.Fingerprint()

	// Idempotent replay: byte-identical datasets share a fingerprint.
	cached, err := s.reportStore.Get(ctx, fingerprint)
	if err != nil {
		log.Printf("Report store error: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if cached != nil {
		s.metrics.CacheHits.Inc()
		respondWithReport(w, cached)
		return
	}

	report, err := pipeline.Run(ctx, &ds, s.opts)
	if err != nil {
		log.Printf("Analysis failed for %s: %v", fingerprint, err)
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	if err := s.reportStore.Set(ctx, fingerprint, report, s.reportTTL); err != nil {
		log.Printf("Failed to cache report: %v", err)
		// Continue anyway - this is not fatal
	}

	respondWithReport(w, report)
}

func (s *Server) metricsHandler() http.Handler {
	handler := promhttp.Handler()

	if !s.metricsAuth.enabled {
		return handler
	}

	// Wrap with Basic Auth
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.metricsAuth.user || pass != s.metricsAuth.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="Metrics"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func respondWithReport(w http.ResponseWriter, report *pipeline.Report) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(report)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
