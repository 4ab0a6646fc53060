// Command resolver runs the Identity Resolver: consumes
// trinetra.detections, resolves each event against the Vector Gallery
// and spatiotemporal gate, and publishes resolved identities and
// alerts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ethan/trinetra/pkg/config"
	"github.com/ethan/trinetra/pkg/eventbus"
	"github.com/ethan/trinetra/pkg/gallery"
	"github.com/ethan/trinetra/pkg/gate"
	"github.com/ethan/trinetra/pkg/logger"
	"github.com/ethan/trinetra/pkg/metrics"
	"github.com/ethan/trinetra/pkg/registry"
	"github.com/ethan/trinetra/pkg/resolver"
)

// registrySweepInterval bounds how many processed events (Registry.Tick
// calls) pass between sweeps for expired registry entries.
const registrySweepInterval = 1000

func main() {
	fs := flag.NewFlagSet("resolver", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)
	fs.Parse(os.Args[1:])

	logCfg, err := logFlags.ToConfig()
	if err != nil {
		log.Fatalf("invalid logging flags: %v", err)
	}
	log0, err := logger.New(logCfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer log0.Close()

	log0.Info("starting identity resolver", "flags", logFlags.String())

	cfg, err := config.Load()
	if err != nil {
		log0.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	qdrantHost, qdrantPort := splitHostPort(cfg.QdrantURL, 6334)
	gal, err := gallery.New(gallery.Config{
		Host:       qdrantHost,
		Port:       qdrantPort,
		APIKey:     cfg.QdrantAPIKey,
		Collection: cfg.QdrantCollection,
	}, log0.With("component", "gallery").Logger)
	if err != nil {
		log0.Error("failed to connect to vector gallery", "error", err)
		os.Exit(1)
	}
	defer gal.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := gal.EnsureCollection(ctx); err != nil {
		log0.Error("failed to ensure gallery collection", "error", err)
		os.Exit(1)
	}

	matrix := gate.NewTravelMatrix()
	if cfg.CameraTravelMatrixPath != "" {
		if err := config.LoadTravelMatrix(cfg.CameraTravelMatrixPath, matrix); err != nil {
			log0.Error("failed to load camera travel matrix", "error", err)
			os.Exit(1)
		}
		watcher, err := config.WatchTravelMatrix(cfg.CameraTravelMatrixPath, matrix, log0.With("component", "travel_matrix").Logger)
		if err != nil {
			log0.Error("failed to watch camera travel matrix", "error", err)
			os.Exit(1)
		}
		if watcher != nil {
			defer watcher.Close()
		}
	}

	reg := registry.New(time.Duration(cfg.TemporalGateWindowS)*time.Second, registrySweepInterval)

	producer, err := eventbus.NewProducer(cfg.KafkaBootstrapServers, log0.With("component", "eventbus_producer"))
	if err != nil {
		log0.Error("failed to connect event bus producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	consumer, err := eventbus.NewConsumer(cfg.KafkaBootstrapServers, cfg.KafkaConsumerGroup, log0.With("component", "eventbus_consumer"))
	if err != nil {
		log0.Error("failed to connect event bus consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	promReg := prometheus.NewRegistry()
	resolverMetrics := metrics.NewResolver(promReg)

	res := resolver.New(gal, matrix, reg, producer, resolverMetrics, log0.With("component", "resolver"), resolver.Config{
		CosineThreshold: cfg.CosineThreshold,
		GateWindowS:     cfg.TemporalGateWindowS,
	})

	metricsServer := metrics.NewMetricsServer(fmt.Sprintf(":%d", cfg.MetricsPort), promReg)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log0.Error("metrics server failed", "error", err)
		}
	}()

	go func() {
		for err := range consumer.Errors() {
			log0.Error("event bus consumer error", "error", err)
		}
	}()

	go func() {
		err := consumer.Run(ctx, []string{eventbus.TopicDetections}, func(handlerCtx context.Context, payload eventbus.DetectionPayload) error {
			res.Resolve(handlerCtx, payload)
			return nil
		})
		if err != nil {
			log0.Error("resolver consume loop exited", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log0.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log0.Error("error stopping metrics server", "error", err)
	}

	log0.Info("resolver shutdown complete")
}

func splitHostPort(addr string, fallbackPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, fallbackPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, fallbackPort
	}
	return host, port
}
