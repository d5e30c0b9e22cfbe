package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/replicahq/replica-broadcast/internal/broadcast"
	"github.com/replicahq/replica-broadcast/internal/config"
	"github.com/replicahq/replica-broadcast/internal/ingest"
	mw "github.com/replicahq/replica-broadcast/internal/middleware"
	"github.com/replicahq/replica-broadcast/internal/status"
)

func main() {
	cfg := config.Load()

	registry := broadcast.NewRegistry()

	source, err := ingest.NewSource(cfg)
	if err != nil {
		log.Fatalf("Status feed setup failed: %v", err)
	}

	var resolver status.SchemaResolver
	if cfg.SchemaRegistryURL != "" {
		log.Printf("Resolving writer schemas via %s", cfg.SchemaRegistryURL)
		resolver = status.NewRegistryResolver(cfg.SchemaRegistryURL)
	} else {
		log.Println("No schema registry configured; using the built-in status schema")
		resolver = status.NewStaticResolver()
	}

	// Ingestion loop: exactly one per process, for the process's lifetime.
	// A fatal feed error terminates the process; the supervisor restarts it
	// from the last committed offset.
	ctx, cancel := context.WithCancel(context.Background())
	consumer := ingest.NewConsumer(source, status.NewDecoder(resolver), registry)
	go func() {
		if err := consumer.Run(ctx); err != nil {
			log.Fatalf("Consumer loop exiting unexpectedly: %v", err)
		}
	}()

	// Router
	r := mux.NewRouter()

	// Rate limiting: 100 req/s per IP with burst of 200
	r.Use(mw.RateLimit(100, 200))

	r.HandleFunc("/healthz", healthzHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	broadcast.NewHandler(registry).RegisterRoutes(r)

	// HTTP Server — CORS wraps the entire router so OPTIONS preflight
	// requests are handled before mux routing (which would 404 on OPTIONS).
	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        corsMiddleware(r),
		ReadTimeout:    15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("Shutting down server...")
		cancel() // stop the consumer loop, committing final offsets

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Fatalf("Server shutdown failed: %v", err)
		}
	}()

	log.Printf("Starting server on :%s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}

	log.Println("Server stopped")
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"}) //nolint:errcheck
}

func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:3000"
	}

	origins := make(map[string]bool)
	for _, o := range strings.Split(allowedOrigins, ",") {
		origins[strings.TrimSpace(o)] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else if len(origins) == 1 {
			// Single origin mode: always set it (for dev convenience)
			for o := range origins {
				w.Header().Set("Access-Control-Allow-Origin", o)
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
