package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lingokit/accuracyd/internal/aggregator"
	"github.com/lingokit/accuracyd/internal/api"
	"github.com/lingokit/accuracyd/internal/config"
	"github.com/lingokit/accuracyd/internal/coordinator"
	"github.com/lingokit/accuracyd/internal/gate"
	"github.com/lingokit/accuracyd/internal/history"
	"github.com/lingokit/accuracyd/internal/jobqueue"
	"github.com/lingokit/accuracyd/internal/kv"
	"github.com/lingokit/accuracyd/internal/metrics"
	"github.com/lingokit/accuracyd/internal/realtime"
	"github.com/lingokit/accuracyd/internal/store"
	"github.com/lingokit/accuracyd/internal/telemetry"
)

const version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("accuracyd v%s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config from %s: %v", *configPath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTLPAddr != "" {
		shutdownTelemetry, err := telemetry.Init(ctx, "accuracyd", cfg.OTLPAddr)
		if err != nil {
			log.Printf("Warning: failed to initialize telemetry: %v", err)
		} else {
			defer func() {
				if err := shutdownTelemetry(context.Background()); err != nil {
					log.Printf("Error shutting down telemetry: %v", err)
				}
			}()
		}
	}

	m := metrics.NewMetrics()

	pg, err := store.NewPostgres(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pg.Close()

	// Redis is a best-effort mirror: fall back to an in-process KV so a
	// cache outage degrades latency, not availability.
	var mirror kv.KV
	redisKV, err := kv.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Printf("Warning: redis unavailable, running with in-process mirror only: %v", err)
		mirror = kv.NewMemory()
	} else {
		mirror = redisKV
		defer redisKV.Close()
	}

	var queue *jobqueue.Publisher
	queue, err = jobqueue.NewPublisher(jobqueue.Config{
		URL:        cfg.NATS.URL,
		StreamName: cfg.NATS.StreamName,
	}, m)
	if err != nil {
		log.Printf("Warning: NATS unavailable, profile events will not be published: %v", err)
		queue = nil
	} else {
		defer queue.Close()
	}

	cache := realtime.New(&realtime.Config{
		AutosavePeriod:   cfg.Realtime.AutosavePeriod,
		RedisTTL:         cfg.Realtime.RedisTTL,
		SmoothingCurrent: 0.7,
	}, mirror, pg, m)

	hist := history.New(mirror, pg, m, cfg.History.FlushEvery)
	agg := aggregator.New(cfg.Aggregator)
	qualityGate := gate.New(cfg.Gate)

	coord := coordinator.New(&cfg.Coordinator, qualityGate, agg, hist, cache, mirror, queue, m)

	apiServer := api.NewServer(coord, cache)
	handler := otelhttp.NewHandler(apiServer.SetupRoutes(), "accuracyd-http-server")

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("accuracyd API listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = httpSrv.Shutdown(shutdownCtx)
	// Flush dirty profiles before the process may exit.
	cache.Shutdown(shutdownCtx)
}
