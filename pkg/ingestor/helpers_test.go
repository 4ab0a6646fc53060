package ingestor

import (
	"os"

	"github.com/ethan/trinetra/pkg/logger"
)

func discardLogger() *logger.Logger {
	cfg := logger.NewConfig()
	cfg.OutputFile = os.DevNull
	l, err := logger.New(cfg)
	if err != nil {
		return logger.Default()
	}
	return l
}
