package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/crucible-sim/crucible/config"
)

// OutputManager handles structured experiment output with CSV logging.
type OutputManager struct {
	dir       string
	tickFile  *os.File
	epochFile *os.File

	// Track if headers have been written
	tickHeaderWritten  bool
	epochHeaderWritten bool
}

// NewOutputManager creates a new output manager and initializes the
// output directory. Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}

	f, err := os.Create(filepath.Join(dir, "ticks.csv"))
	if err != nil {
		return nil, fmt.Errorf("creating ticks.csv: %w", err)
	}
	om.tickFile = f

	f, err = os.Create(filepath.Join(dir, "epochs.csv"))
	if err != nil {
		om.tickFile.Close()
		return nil, fmt.Errorf("creating epochs.csv: %w", err)
	}
	om.epochFile = f

	return om, nil
}

// WriteConfig saves the current configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteTick appends a tick-window record to ticks.csv.
func (om *OutputManager) WriteTick(stats TickStats) error {
	if om == nil {
		return nil
	}

	records := []TickStats{stats}
	if !om.tickHeaderWritten {
		if err := gocsv.Marshal(records, om.tickFile); err != nil {
			return fmt.Errorf("writing ticks: %w", err)
		}
		om.tickHeaderWritten = true
	} else {
		if err := gocsv.MarshalWithoutHeaders(records, om.tickFile); err != nil {
			return fmt.Errorf("writing ticks: %w", err)
		}
	}
	return nil
}

// WriteEpoch appends a history row to epochs.csv.
func (om *OutputManager) WriteEpoch(stats EpochStats) error {
	if om == nil {
		return nil
	}

	records := []EpochStats{stats}
	if !om.epochHeaderWritten {
		if err := gocsv.Marshal(records, om.epochFile); err != nil {
			return fmt.Errorf("writing epochs: %w", err)
		}
		om.epochHeaderWritten = true
	} else {
		if err := gocsv.MarshalWithoutHeaders(records, om.epochFile); err != nil {
			return fmt.Errorf("writing epochs: %w", err)
		}
	}
	return nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	if om.tickFile != nil {
		if err := om.tickFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if om.epochFile != nil {
		if err := om.epochFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
