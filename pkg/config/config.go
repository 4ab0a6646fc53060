// Package config loads pipeline configuration from environment
// variables (§6 of the spec) and the camera travel matrix from YAML,
// with optional hot-reload of the latter.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds every environment-driven setting shared across the
// ingestor, worker and resolver binaries. Each binary only reads the
// fields relevant to it.
type Config struct {
	RedisURL string

	KafkaBootstrapServers []string
	KafkaConsumerGroup    string

	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	CosineThreshold     float64
	TemporalGateWindowS float64

	FrameBufferMaxLen int64
	TargetFPS         float64
	BatchSize         int
	BatchTimeoutMS    int

	MetricsPort int

	CameraTravelMatrixPath string
	CameraTopologyPath     string
}

// Load reads configuration from the environment, applying the defaults
// named in §6 of the spec for anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		RedisURL:               getEnv("REDIS_URL", "redis://localhost:6379"),
		KafkaBootstrapServers:  splitCSV(getEnv("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092")),
		KafkaConsumerGroup:     getEnv("KAFKA_CONSUMER_GROUP", "identity-resolver-group"),
		QdrantURL:              getEnv("QDRANT_URL", "localhost:6334"),
		QdrantAPIKey:           getEnv("QDRANT_API_KEY", ""),
		QdrantCollection:       getEnv("QDRANT_COLLECTION", "face_embeddings"),
		CameraTravelMatrixPath: getEnv("CAMERA_TRAVEL_MATRIX_PATH", ""),
		CameraTopologyPath:     getEnv("CAMERA_TOPOLOGY_PATH", ""),
	}

	var err error
	if cfg.CosineThreshold, err = getEnvFloat("COSINE_THRESHOLD", 0.72); err != nil {
		return nil, err
	}
	if cfg.TemporalGateWindowS, err = getEnvFloat("TEMPORAL_GATE_WINDOW_S", 3600); err != nil {
		return nil, err
	}
	if cfg.FrameBufferMaxLen, err = getEnvInt64("FRAME_BUFFER_MAXLEN", 100); err != nil {
		return nil, err
	}
	if cfg.TargetFPS, err = getEnvFloat("TARGET_FPS", 15); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = getEnvInt("BATCH_SIZE", 4); err != nil {
		return nil, err
	}
	if cfg.BatchTimeoutMS, err = getEnvInt("BATCH_TIMEOUT_MS", 20); err != nil {
		return nil, err
	}
	if cfg.MetricsPort, err = getEnvInt("METRICS_PORT", 9090); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration invariants that would otherwise
// surface as silent misbehavior deep in the pipeline. Per §7 of the
// spec, configuration errors are the only class that is fatal at
// startup.
func (c *Config) Validate() error {
	if c.CosineThreshold <= 0 || c.CosineThreshold > 1 {
		return fmt.Errorf("config: COSINE_THRESHOLD must be in (0,1], got %v", c.CosineThreshold)
	}
	if c.TemporalGateWindowS <= 0 {
		return fmt.Errorf("config: TEMPORAL_GATE_WINDOW_S must be positive, got %v", c.TemporalGateWindowS)
	}
	if c.FrameBufferMaxLen <= 0 {
		return fmt.Errorf("config: FRAME_BUFFER_MAXLEN must be positive, got %v", c.FrameBufferMaxLen)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: BATCH_SIZE must be positive, got %v", c.BatchSize)
	}
	if c.BatchTimeoutMS <= 0 {
		return fmt.Errorf("config: BATCH_TIMEOUT_MS must be positive, got %v", c.BatchTimeoutMS)
	}
	if len(c.KafkaBootstrapServers) == 0 {
		return fmt.Errorf("config: KAFKA_BOOTSTRAP_SERVERS must not be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s=%q: %w", key, v, err)
	}
	return f, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s=%q: %w", key, v, err)
	}
	return n, nil
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s=%q: %w", key, v, err)
	}
	return n, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
