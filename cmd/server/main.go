package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/medflow/claimsim/internal/api"
	"github.com/medflow/claimsim/internal/config"
	"github.com/medflow/claimsim/internal/events"
	"github.com/medflow/claimsim/internal/metrics"
	"github.com/medflow/claimsim/internal/simulator"
	"github.com/medflow/claimsim/internal/store"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	log.Println("🔥 Starting Claims Pipeline Simulator...")

	cfgPath := envOr("CONFIG_PATH", "config.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// Event bus: Pub/Sub fan-out when configured, in-memory otherwise.
	var emitter events.EventEmitter
	var bus *events.EventBus
	if project := os.Getenv("PUBSUB_PROJECT_ID"); project != "" {
		topic := envOr("PUBSUB_TOPIC", "claim-events")
		psBus, err := events.NewPubSubEventBus(project, topic)
		if err != nil {
			log.Fatalf("Failed to connect to Pub/Sub: %v", err)
		}
		defer psBus.Close()
		emitter = psBus
		bus = psBus.EventBus
	} else {
		local := events.NewEventBus()
		emitter = local
		bus = local
	}

	claimStore := buildStore()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	server, err := api.NewServer(cfg, simulator.Options{
		Store:   claimStore,
		Emitter: emitter,
		Metrics: m,
	}, bus, reg)
	if err != nil {
		log.Fatalf("Failed to build server: %v", err)
	}

	port, err := strconv.Atoi(envOr("PORT", "8080"))
	if err != nil {
		log.Fatalf("Invalid PORT: %v", err)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("🛑 Received shutdown signal, shutting down gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	if err := server.Start(port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	log.Println("Server stopped")
}

// buildStore picks the claim store from the environment: Postgres when
// DATABASE_URL is set, Redis when REDIS_ADDR is set, in-memory noop
// otherwise.
func buildStore() store.ClaimStore {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		st, err := store.NewPostgresStore(dsn)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		log.Println("✅ Claim store: Postgres")
		return st
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		db, _ := strconv.Atoi(os.Getenv("REDIS_DB"))
		st, err := store.NewRedisStore(addr, db, 24*time.Hour)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		log.Println("✅ Claim store: Redis")
		return st
	}
	log.Println("⚠️  No DATABASE_URL or REDIS_ADDR set, claim persistence disabled")
	return store.NoopStore{}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
