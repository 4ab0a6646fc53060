// Command ingestor runs the Stream Ingestor: per-camera RTSP readers
// publishing sampled frames onto the Frame Bus.
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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ethan/trinetra/pkg/config"
	"github.com/ethan/trinetra/pkg/framebus"
	"github.com/ethan/trinetra/pkg/ingestor"
	"github.com/ethan/trinetra/pkg/logger"
	"github.com/ethan/trinetra/pkg/metrics"
)

func main() {
	fs := flag.NewFlagSet("ingestor", flag.ExitOnError)
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

	log0.Info("starting stream ingestor", "flags", logFlags.String())

	cfg, err := config.Load()
	if err != nil {
		log0.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if cfg.CameraTopologyPath == "" {
		log0.Error("CAMERA_TOPOLOGY_PATH must be set")
		os.Exit(1)
	}
	topology, err := config.LoadCameraTopology(cfg.CameraTopologyPath)
	if err != nil {
		log0.Error("failed to load camera topology", "error", err)
		os.Exit(1)
	}
	if len(topology) == 0 {
		log0.Error("camera topology is empty")
		os.Exit(1)
	}

	bus, err := framebus.New(cfg.RedisURL, log0.With("component", "framebus"))
	if err != nil {
		log0.Error("failed to connect to frame bus", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	reg := prometheus.NewRegistry()
	ingestorMetrics := metrics.NewIngestor(reg)

	ing := ingestor.New(bus, ingestorMetrics, log0.With("component", "ingestor"), cfg.FrameBufferMaxLen)

	cameras := make([]ingestor.Camera, 0, len(topology))
	for _, spec := range topology {
		cameras = append(cameras, ingestor.Camera{
			ID:        spec.ID,
			Type:      spec.Type,
			Source:    ingestor.NewRTSPSource(spec.RTSPURL, spec.CaptureFPS, log0.With("camera_id", spec.ID)),
			TargetFPS: spec.TargetFPS,
		})
	}
	log0.Info("loaded camera topology", "count", len(cameras))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpServer := ingestor.NewServer(ing, log0.With("component", "http"), fmt.Sprintf(":%d", httpPort()))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log0.Error("ingestor http server failed", "error", err)
		}
	}()

	metricsServer := metrics.NewMetricsServer(fmt.Sprintf(":%d", cfg.MetricsPort), reg)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log0.Error("metrics server failed", "error", err)
		}
	}()

	go ing.Run(ctx, cameras)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log0.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log0.Error("error stopping http server", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log0.Error("error stopping metrics server", "error", err)
	}

	log0.Info("ingestor shutdown complete")
}

func httpPort() int {
	if v := os.Getenv("INGESTOR_HTTP_PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil && p > 0 {
			return p
		}
	}
	return 8080
}
