package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/systemshift/codegraph/internal/api"
	"github.com/systemshift/codegraph/internal/broker"
	"github.com/systemshift/codegraph/internal/config"
	"github.com/systemshift/codegraph/internal/events"
	"github.com/systemshift/codegraph/internal/graph"
	"github.com/systemshift/codegraph/internal/httpapi"
	"github.com/systemshift/codegraph/internal/ident"
	"github.com/systemshift/codegraph/internal/journal"
	"github.com/systemshift/codegraph/internal/snapshot"
	"github.com/systemshift/codegraph/internal/store"
)

func main() {
	cfg, err := config.Load(getEnv("CODEGRAPH_CONFIG", "codegraph.yaml"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	var backend graph.Backend
	if os.Getenv("CODEGRAPH_BACKEND") == "memory" {
		log.Println("Using in-memory backend (state is volatile)")
		backend = graph.NewMemory()
	} else {
		neo, err := graph.NewNeo4j(ctx, graph.Neo4jConfig{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.Username,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
		})
		if err != nil {
			log.Fatalf("Failed to connect to Neo4j: %v", err)
		}
		log.Println("Connected to Neo4j successfully")
		backend = neo
	}
	defer backend.Close(ctx)

	if err := backend.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to ensure schema: %v", err)
	}

	clock := ident.NewClock()
	bus := events.NewBus(cfg.Events.MailboxSize)
	defer bus.Close()

	jnl := journal.New(backend)
	st := store.New(backend, jnl, bus, clock)
	snapshots := snapshot.New(st, jnl)
	brk := broker.New(broker.Config{
		DefaultWaitTimeout: time.Duration(cfg.Broker.WaitTimeoutMs) * time.Millisecond,
		HistoryCapacity:    cfg.Broker.HistoryCapacity,
	}, bus, clock)
	defer brk.Close()

	svc := api.New(st, jnl, snapshots, brk, bus)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Mount("/", httpapi.New(svc).Routes())

	srv := &http.Server{
		Addr:        ":" + cfg.HTTP.Port,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// Write timeout stays off: broker waits and SSE streams are
		// long-lived by design.
		IdleTimeout: 60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Printf("Starting codegraph server on http://localhost:%s", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
		case <-groupCtx.Done():
			return groupCtx.Err()
		}

		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Server failed: %v", err)
	}
	log.Println("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
