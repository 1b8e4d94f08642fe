// Package main runs a headless evolutionary experiment: epochs of
// grid-world ticks with generation boundaries between them, emitting
// CSV telemetry, periodic snapshots, and an optional SQLite archive.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/crucible-sim/crucible/config"
	"github.com/crucible-sim/crucible/storage"
	"github.com/crucible-sim/crucible/telemetry"
	"github.com/crucible-sim/crucible/universe"
)

func main() {
	configPath := flag.String("config", "", "Config YAML file (empty = use defaults)")
	seed := flag.Uint64("seed", 42, "Run seed")
	epochs := flag.Int("epochs", 0, "Epochs to run (0 = value from config)")
	outputDir := flag.String("output", "", "Output directory for CSV telemetry (empty = disabled)")
	archivePath := flag.String("archive", "", "SQLite archive path (empty = disabled)")
	snapshotDir := flag.String("snapshot-dir", "", "Directory for epoch snapshots (empty = disabled)")
	snapshotEvery := flag.Int("snapshot-every", 5, "Epochs between snapshots")
	runID := flag.String("run-id", "run", "Run identifier used in the archive")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	if err := run(log, *configPath, *seed, *epochs, *outputDir, *archivePath, *snapshotDir, *snapshotEvery, *runID); err != nil {
		log.Error("run failed", "err", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger, configPath string, seed uint64, epochs int, outputDir, archivePath, snapshotDir string, snapshotEvery int, runID string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if epochs > 0 {
		cfg.Run.Epochs = epochs
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	u, err := universe.New(cfg, seed, log)
	if err != nil {
		return err
	}
	defer u.Close()

	out, err := telemetry.NewOutputManager(outputDir)
	if err != nil {
		return err
	}
	defer out.Close()
	if err := out.WriteConfig(cfg); err != nil {
		return err
	}

	var archive *storage.Store
	if archivePath != "" {
		archive = storage.NewStore(archivePath)
		if err := archive.Init(ctx); err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		defer archive.Close()
	}

	log.Info("run starting",
		"seed", seed,
		"epochs", cfg.Run.Epochs,
		"grid", fmt.Sprintf("%dx%d", cfg.World.Width, cfg.World.Height),
		"population", cfg.Generation.PopulationSize,
	)

	collector := telemetry.NewCollector()
	perf := telemetry.NewPerfCollector(10)
	for epoch := 0; epoch < cfg.Run.Epochs; epoch++ {
		perf.StartEpoch()
		stats, err := runEpoch(ctx, u, out, collector, perf)
		if errors.Is(err, context.Canceled) {
			log.Info("interrupted, saving state")
			break
		}
		if err != nil {
			return err
		}

		perf.StartPhase(telemetry.PhaseTelemetry)
		log.Info("epoch complete", "stats", stats, "perf", perf.Stats())
		if err := out.WriteEpoch(stats); err != nil {
			return err
		}
		if archive != nil {
			if err := archive.SaveEpoch(ctx, runID, stats); err != nil {
				return fmt.Errorf("archiving epoch %d: %w", stats.Epoch, err)
			}
			if gt, fit, ok := u.Champion(); ok {
				if err := archive.SaveChampion(ctx, runID, stats.Epoch, fit, gt); err != nil {
					return fmt.Errorf("archiving champion: %w", err)
				}
			}
		}
		if snapshotDir != "" && snapshotEvery > 0 && (epoch+1)%snapshotEvery == 0 {
			perf.StartPhase(telemetry.PhaseSnapshot)
			if err := saveSnapshot(u, snapshotDir, log); err != nil {
				return err
			}
		}
		perf.EndEpoch()
	}

	if snapshotDir != "" {
		if err := saveSnapshot(u, snapshotDir, log); err != nil {
			return err
		}
	}
	log.Info("run finished", "epochs", u.Epoch(), "ticks", u.World().Tick())
	return nil
}

// runEpoch runs the ticks of one epoch, writes the tick-window row,
// then closes the generation.
func runEpoch(ctx context.Context, u *universe.Universe, out *telemetry.OutputManager, collector *telemetry.Collector, perf *telemetry.PerfCollector) (telemetry.EpochStats, error) {
	collector.Reset()
	perf.StartPhase(telemetry.PhaseTicks)
	reports, err := u.Step(ctx, u.Config().Run.TicksPerEpoch)
	for _, rep := range reports {
		collector.Record(rep)
	}
	if err != nil {
		return telemetry.EpochStats{}, err
	}

	if err := out.WriteTick(collector.TickStats(u.World().Energies())); err != nil {
		return telemetry.EpochStats{}, err
	}

	perf.StartPhase(telemetry.PhaseEvolution)
	stats, err := u.EvolveGeneration()
	if err != nil {
		return telemetry.EpochStats{}, err
	}
	stats.Births = collector.Births()
	stats.Deaths = collector.Deaths()
	return stats, nil
}

func saveSnapshot(u *universe.Universe, dir string, log *slog.Logger) error {
	snap, err := u.ExportSnapshot()
	if err != nil {
		return err
	}
	path, err := telemetry.SaveSnapshot(snap, u.World().Tick(), dir)
	if err != nil {
		return err
	}
	log.Info("snapshot written", "path", path)
	return nil
}
