package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vjranagit/minigraph/internal/config"
	"github.com/vjranagit/minigraph/internal/logging"
	"github.com/vjranagit/minigraph/pkg/api"
	"github.com/vjranagit/minigraph/pkg/engine"
	"github.com/vjranagit/minigraph/pkg/history"
	"github.com/vjranagit/minigraph/pkg/storage"
	"github.com/vjranagit/minigraph/pkg/transport/kafka"
	"github.com/vjranagit/minigraph/pkg/transport/mqtt"
)

const (
	version = "0.1.0"
)

func main() {
	configPath := flag.String("config", "minigraph.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the configuration")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Failed to load %s: %v", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logging.New(cfg.Logging, version)
	if err := run(cfg, logger); err != nil {
		logger.Error("minigraph stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting minigraph",
		"listen_addr", cfg.Server.ListenAddr,
		"storage", cfg.Storage.Backend,
		"history", cfg.History.Source,
		"entities", len(cfg.Card.Entities),
	)

	store, err := storage.Open(ctx, cfg.ToStorageConfig())
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	compressor, err := storage.NewCompressor(cfg.Storage.CompressionLevel)
	if err != nil {
		return fmt.Errorf("initializing compressor: %w", err)
	}
	defer compressor.Close()

	cache := storage.NewHistoryCache(store, compressor, logger.With("component", "cache"))

	fetcher, closeFetcher, err := newFetcher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFetcher()

	var sinks []engine.FrameSink

	var broker *mqtt.Client
	if cfg.MQTT.Enabled {
		broker, err = mqtt.Connect(cfg.ToMQTTConfig(), logger.With("component", "mqtt"))
		if err != nil {
			return err
		}
		defer broker.Close()
		sinks = append(sinks, broker)
	}

	if cfg.Kafka.Enabled {
		publisher, err := kafka.NewPublisher(cfg.ToKafkaConfig(), logger.With("component", "kafka").Logger)
		if err != nil {
			return fmt.Errorf("initializing kafka publisher: %w", err)
		}
		defer publisher.Close()
		sinks = append(sinks, publisher)
	}

	location, err := cfg.Location()
	if err != nil {
		return err
	}

	metrics := engine.NewMetrics()
	eng, err := engine.New(&cfg.Card, engine.Options{
		Fetcher:          fetcher,
		Cache:            cache,
		Logger:           logger.With("component", "engine"),
		Metrics:          metrics,
		Sinks:            sinks,
		Debounce:         cfg.Engine.Debounce,
		FetchConcurrency: cfg.Engine.FetchConcurrency,
		Location:         location,
	})
	if err != nil {
		return err
	}

	if broker != nil {
		if err := broker.Subscribe(eng); err != nil {
			logger.Warn("state subscription deferred until the broker connects", "error", err)
		}
	}

	eng.Start(ctx)
	defer eng.Stop()

	var accessLog io.Writer
	if cfg.Server.AccessLog {
		accessLog = os.Stdout
	}
	server := api.NewServer(cfg.Server.ListenAddr, eng, metrics.Handler(), accessLog)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("API server listening", "addr", cfg.Server.ListenAddr)
		serverErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}

	logger.Info("minigraph stopped")
	return nil
}

// newFetcher builds the configured history source and its cleanup
func newFetcher(ctx context.Context, cfg *config.Config) (history.Fetcher, func(), error) {
	switch cfg.History.Source {
	case config.SourceInflux:
		f, err := history.NewInfluxFetcher(ctx, cfg.ToInfluxConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("initializing influx history: %w", err)
		}
		return f, f.Close, nil
	default:
		timeout := cfg.History.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		return history.NewRESTFetcher(cfg.History.URL, cfg.History.Token, timeout), func() {}, nil
	}
}
