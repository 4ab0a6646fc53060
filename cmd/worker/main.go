// Command worker runs an Inference Worker: joins every Frame Bus
// stream's consumer group, micro-batches frames, runs the detection +
// embedding pipeline, and publishes detections to the Event Bus.
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

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ethan/trinetra/pkg/config"
	"github.com/ethan/trinetra/pkg/eventbus"
	"github.com/ethan/trinetra/pkg/framebus"
	"github.com/ethan/trinetra/pkg/inference"
	"github.com/ethan/trinetra/pkg/logger"
	"github.com/ethan/trinetra/pkg/metrics"
	"github.com/ethan/trinetra/pkg/worker"
)

func main() {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
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

	log0.Info("starting inference worker", "flags", logFlags.String())

	cfg, err := config.Load()
	if err != nil {
		log0.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	bus, err := framebus.New(cfg.RedisURL, log0.With("component", "framebus"))
	if err != nil {
		log0.Error("failed to connect to frame bus", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	producer, err := eventbus.NewProducer(cfg.KafkaBootstrapServers, log0.With("component", "eventbus"))
	if err != nil {
		log0.Error("failed to connect to event bus", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	reg := prometheus.NewRegistry()
	workerMetrics := metrics.NewWorker(reg)

	// Detector and Embedder are black-box model collaborators (§4.2);
	// hosting the actual detection/embedding models is out of scope, so
	// the worker runs the deterministic stubs against real frames.
	pipeline := &inference.Pipeline{Detect: inference.StubDetector, Embed: inference.StubEmbedder}

	consumerID := fmt.Sprintf("worker-%s", uuid.NewString()[:8])
	w := worker.New(bus, producer, pipeline, workerMetrics, log0.With("component", "worker"), worker.Config{
		ConsumerID:     consumerID,
		BatchSize:      cfg.BatchSize,
		BatchTimeoutMS: cfg.BatchTimeoutMS,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cameras, err := w.JoinAllStreams(ctx)
	if err != nil {
		log0.Error("failed to join frame bus streams", "error", err)
		os.Exit(1)
	}
	log0.Info("joined frame bus streams", "consumer_id", consumerID, "cameras", len(cameras))

	metricsServer := metrics.NewMetricsServer(fmt.Sprintf(":%d", cfg.MetricsPort), reg)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log0.Error("metrics server failed", "error", err)
		}
	}()

	go func() {
		if err := w.Run(ctx, cameras); err != nil {
			log0.Error("worker run loop exited", "error", err)
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

	log0.Info("worker shutdown complete")
}
