package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags.
type Flags struct {
	LogLevel   string
	LogFormat  string
	LogFile    string
	DebugFrame bool
	DebugBatch bool
	DebugANN   bool
	DebugGate  bool
	DebugBus   bool
	DebugAll   bool
}

// RegisterFlags registers logging flags with the given FlagSet.
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info",
		"Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text",
		"Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "",
		"Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "",
		"Log output file path (shorthand)")

	fs.BoolVar(&f.DebugFrame, "debug-frame", false,
		"Enable adaptive frame sampler debugging (fill_pct, flow magnitude, interval)")
	fs.BoolVar(&f.DebugBatch, "debug-batch", false,
		"Enable micro-batch accumulator debugging (batch size/timeout triggers)")
	fs.BoolVar(&f.DebugANN, "debug-ann", false,
		"Enable Vector Gallery query debugging (candidates, scores)")
	fs.BoolVar(&f.DebugGate, "debug-gate", false,
		"Enable spatiotemporal gate debugging (elapsed, min_travel, decision)")
	fs.BoolVar(&f.DebugBus, "debug-bus", false,
		"Enable Frame Bus / Event Bus wire traffic debugging")
	fs.BoolVar(&f.DebugAll, "debug-all", false,
		"Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config.
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	cfg.OutputFile = f.LogFile

	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		cfg.Level = LevelDebug
	} else {
		if f.DebugFrame {
			cfg.EnableCategory(DebugFrame)
			cfg.Level = LevelDebug
		}
		if f.DebugBatch {
			cfg.EnableCategory(DebugBatch)
			cfg.Level = LevelDebug
		}
		if f.DebugANN {
			cfg.EnableCategory(DebugANN)
			cfg.Level = LevelDebug
		}
		if f.DebugGate {
			cfg.EnableCategory(DebugGate)
			cfg.Level = LevelDebug
		}
		if f.DebugBus {
			cfg.EnableCategory(DebugBus)
			cfg.Level = LevelDebug
		}
	}

	return cfg, nil
}

// String returns a string representation of enabled flags.
func (f *Flags) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))

	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var debugCategories []string
	if f.DebugAll {
		debugCategories = append(debugCategories, "all")
	} else {
		if f.DebugFrame {
			debugCategories = append(debugCategories, "frame")
		}
		if f.DebugBatch {
			debugCategories = append(debugCategories, "batch")
		}
		if f.DebugANN {
			debugCategories = append(debugCategories, "ann")
		}
		if f.DebugGate {
			debugCategories = append(debugCategories, "gate")
		}
		if f.DebugBus {
			debugCategories = append(debugCategories, "bus")
		}
	}

	if len(debugCategories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(debugCategories, ",")))
	}

	return strings.Join(parts, " ")
}
