// Package storage persists run history to a SQLite archive: genotypes,
// per-epoch history rows, and the champion of each generation. The
// archive is optional; runs without one simply never construct a Store.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/crucible-sim/crucible/genome"
	"github.com/crucible-sim/crucible/telemetry"
)

// Store is a SQLite-backed archive. Safe for concurrent use.
type Store struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

// NewStore creates an archive handle over the given database path. Call
// Init before any other method.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Init opens the database and creates the schema. Idempotent.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("archive path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

// SaveGenotype upserts one genotype under its lineage id.
func (s *Store) SaveGenotype(ctx context.Context, gt *genome.Genotype) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeGenotype(gt)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO genotypes (id, generation, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			generation = excluded.generation,
			payload = excluded.payload
	`, gt.ID, gt.Generation, payload)
	return err
}

// GetGenotype loads a genotype by lineage id. The second return is
// false when no row exists.
func (s *Store) GetGenotype(ctx context.Context, id string) (*genome.Genotype, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM genotypes WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	gt, err := DecodeGenotype(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode genotype %s: %w", id, err)
	}
	return gt, true, nil
}

// SaveEpoch appends one history row for a run. Re-saving the same epoch
// overwrites the earlier row.
func (s *Store) SaveEpoch(ctx context.Context, runID string, stats telemetry.EpochStats) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeEpoch(stats)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO epochs (run_id, epoch, best_fitness, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, epoch) DO UPDATE SET
			best_fitness = excluded.best_fitness,
			payload = excluded.payload
	`, runID, stats.Epoch, stats.BestFitness, payload)
	return err
}

// GetEpochs loads a run's full history ordered by epoch.
func (s *Store) GetEpochs(ctx context.Context, runID string) ([]telemetry.EpochStats, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT payload FROM epochs WHERE run_id = ? ORDER BY epoch
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []telemetry.EpochStats
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		stats, err := DecodeEpoch(payload)
		if err != nil {
			return nil, fmt.Errorf("decode epoch row for %s: %w", runID, err)
		}
		history = append(history, stats)
	}
	return history, rows.Err()
}

// SaveChampion records the fittest genotype of one epoch. The genotype
// itself is stored in the genotypes table first so lineage lookups can
// chase parent ids.
func (s *Store) SaveChampion(ctx context.Context, runID string, epoch int, fitness float64, gt *genome.Genotype) error {
	if err := s.SaveGenotype(ctx, gt); err != nil {
		return err
	}

	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO champions (run_id, epoch, genotype_id, fitness)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, epoch) DO UPDATE SET
			genotype_id = excluded.genotype_id,
			fitness = excluded.fitness
	`, runID, epoch, gt.ID, fitness)
	return err
}

// Champion is one row of a run's champion history.
type Champion struct {
	Epoch    int
	Fitness  float64
	Genotype *genome.Genotype
}

// GetChampions loads a run's champions ordered by epoch.
func (s *Store) GetChampions(ctx context.Context, runID string) ([]Champion, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT c.epoch, c.fitness, g.payload
		FROM champions c JOIN genotypes g ON g.id = c.genotype_id
		WHERE c.run_id = ? ORDER BY c.epoch
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var champs []Champion
	for rows.Next() {
		var (
			ch      Champion
			payload []byte
		)
		if err := rows.Scan(&ch.Epoch, &ch.Fitness, &payload); err != nil {
			return nil, err
		}
		if ch.Genotype, err = DecodeGenotype(payload); err != nil {
			return nil, fmt.Errorf("decode champion for %s epoch %d: %w", runID, ch.Epoch, err)
		}
		champs = append(champs, ch)
	}
	return champs, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("archive is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS genotypes (
			id TEXT PRIMARY KEY,
			generation INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS epochs (
			run_id TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			best_fitness REAL NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (run_id, epoch)
		);
		CREATE TABLE IF NOT EXISTS champions (
			run_id TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			genotype_id TEXT NOT NULL,
			fitness REAL NOT NULL,
			PRIMARY KEY (run_id, epoch)
		);
	`)
	return err
}
