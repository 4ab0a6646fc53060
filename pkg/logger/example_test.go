package logger_test

import (
	"fmt"
	"os"

	"github.com/ethan/trinetra/pkg/logger"
)

// Example showing basic logger usage.
func ExampleLogger_basic() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatText

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.Info("ingestor started", "camera_count", 12)
	log.Warn("frame bus approaching high water mark", "fill_pct", 82.5)
	log.Error("qdrant query failed", "error", "context deadline exceeded")
}

// Example showing debug category usage.
func ExampleLogger_categories() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelDebug
	cfg.EnableCategory(logger.DebugGate)
	cfg.EnableCategory(logger.DebugANN)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	log.DebugGate("evaluating candidate", "elapsed", 4.2, "min_travel", 3.0)
	log.DebugANN("gallery returned candidates", "count", 5, "top_score", 0.91)
}

// Example showing command-line flags integration.
func ExampleFlags() {
	// In main.go:
	// fs := flag.NewFlagSet("resolver", flag.ExitOnError)
	// logFlags := logger.RegisterFlags(fs)
	// fs.Parse(os.Args[1:])
	//
	// logConfig, _ := logFlags.ToConfig()
	// log, _ := logger.New(logConfig)
	// defer log.Close()

	fmt.Println("See cmd/resolver/main.go for a complete example")
	// Output: See cmd/resolver/main.go for a complete example
}

// Example showing JSON format output.
func ExampleLogger_json() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatJSON
	cfg.OutputFile = "resolver_example.json"

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()
	defer os.Remove("resolver_example.json")

	log.Info("resolved identity",
		"customer_id", "alice",
		"confidence", 0.95,
		"camera_id", "cam_entrance_01")
}

// Example showing conditional debug logging.
func ExampleLogger_conditional() {
	cfg := logger.NewConfig()
	cfg.EnableCategory(logger.DebugBatch)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// Only executes if DebugBatch is enabled; zero cost otherwise.
	log.DebugBatch("batch ready", "size", 4, "trigger", "throughput")
}
