package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/ethan/trinetra/pkg/gate"
)

// travelMatrixFile is the on-disk shape of the camera travel matrix
// configuration artifact (§4.6, §9). Example:
//
//	pairs:
//	  cam_entrance_01:
//	    cam_billing_01: 10.0
//	  cam_billing_01:
//	    cam_entrance_01: 10.0
type travelMatrixFile struct {
	Pairs map[string]map[string]float64 `yaml:"pairs"`
}

// LoadTravelMatrix reads the travel matrix from path and populates m.
// An empty path leaves m with no configured pairs, so every lookup
// falls back to gate.DefaultMinTravelSeconds.
func LoadTravelMatrix(path string, m *gate.TravelMatrix) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read travel matrix %s: %w", path, err)
	}

	var file travelMatrixFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse travel matrix %s: %w", path, err)
	}

	m.Replace(file.Pairs)
	return nil
}

// WatchTravelMatrix reloads the travel matrix whenever path changes on
// disk, per the spec's §9 note that the matrix should be reloadable
// without restart. The returned watcher must be closed by the caller.
func WatchTravelMatrix(path string, m *gate.TravelMatrix, logger *slog.Logger) (*fsnotify.Watcher, error) {
	if path == "" {
		return nil, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create travel matrix watcher: %w", err)
	}

	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch travel matrix %s: %w", path, err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := LoadTravelMatrix(path, m); err != nil {
					logger.Error("failed to reload travel matrix", "path", path, "error", err)
					continue
				}
				logger.Info("reloaded camera travel matrix", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("travel matrix watcher error", "error", err)
			}
		}
	}()

	return watcher, nil
}
