package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hoambaek/lifeos/internal/api"
	"github.com/hoambaek/lifeos/internal/config"
	"github.com/hoambaek/lifeos/internal/gamification"
	"github.com/hoambaek/lifeos/internal/mock"
	"github.com/hoambaek/lifeos/internal/storage/memory"
	"github.com/hoambaek/lifeos/internal/storage/postgres"
	"github.com/hoambaek/lifeos/internal/storage/sqlite"
)

func main() {
	mockPattern := flag.String("mock", "", "Seed synthetic history with the given pattern (steady, burst, lapse, methodical)")
	mockDays := flag.Int("mock-days", 60, "Days of synthetic history to seed with -mock")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("load .env: %v", err)
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Storage.Driver, err)
	}
	defer func() {
		if c, ok := store.(io.Closer); ok {
			if err := c.Close(); err != nil {
				log.Printf("close store: %v", err)
			}
		}
	}()

	opts, err := cfg.EngineOptions()
	if err != nil {
		log.Fatalf("Invalid progress config: %v", err)
	}
	engine, err := gamification.NewEngine(store, opts...)
	if err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	if *mockPattern != "" {
		log.Printf("Seeding %d days of %s mock history", *mockDays, *mockPattern)
		gen, err := mock.NewGenerator(engine, *mockPattern, uint64(cfg.Challenges.Seed))
		if err != nil {
			log.Fatalf("mock: %v", err)
		}
		if _, err := gen.Seed(ctx, *mockDays); err != nil {
			log.Fatalf("mock: %v", err)
		}
	}

	if cfg.Server.AuthToken == "" && cfg.Server.Host != "127.0.0.1" && cfg.Server.Host != "localhost" {
		log.Printf("warning: listening on %s without an auth token", cfg.Server.Host)
	}

	mux := http.NewServeMux()
	api.NewServer(engine, cfg.Server.AllowedOrigins, cfg.Server.AuthToken).SetupRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if p, ok := store.(interface{ Ping(context.Context) error }); ok {
			if err := p.Ping(r.Context()); err != nil {
				http.Error(w, "store unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.SecurityHeaders(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s (profile %s, %s store)", cfg.Addr(), engine.ProfileID(), cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Println("Shutting down...")
	case err := <-errCh:
		if err != nil {
			log.Printf("Server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func openStore(ctx context.Context, cfg config.StorageConfig) (gamification.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverFile:
		return memory.Open(cfg.Path)
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg.Path)
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DSN)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
