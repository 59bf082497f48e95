package analysis

import (
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS analysis_runs (
	run_id        TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	label_count   INTEGER NOT NULL,
	created_at_ns INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS label_stats (
	run_id          TEXT NOT NULL REFERENCES analysis_runs(run_id) ON DELETE CASCADE,
	row_index       INTEGER NOT NULL,
	label           INTEGER NOT NULL,
	x               REAL NOT NULL,
	y               REAL NOT NULL,
	z               REAL,
	volume          INTEGER NOT NULL,
	physical_volume REAL NOT NULL,
	PRIMARY KEY (run_id, label)
);
`

// Run is one recorded analysis
type Run struct {
	RunID       string
	Source      string
	LabelCount  int
	CreatedAtNs int64
}

// Store persists label statistics in a SQLite database
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the database at path
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open stats db: %w", err)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create stats schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun stores stats under a new run ID and returns it
func (s *Store) RecordRun(source string, stats []LabelStats) (string, error) {
	runID := uuid.New().String()

	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO analysis_runs (run_id, source, label_count, created_at_ns) VALUES (?, ?, ?, ?)`,
		runID, source, len(stats), time.Now().UnixNano(),
	); err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO label_stats
		(run_id, row_index, label, x, y, z, volume, physical_volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	for _, st := range stats {
		if _, err := stmt.Exec(runID, st.Row, st.Label, st.X, st.Y, nullableZ(st.Z), st.Volume, st.PhysicalVolume); err != nil {
			return "", fmt.Errorf("insert label %d: %w", st.Label, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return runID, nil
}

// Runs lists the recorded runs, oldest first
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query(`SELECT run_id, source, label_count, created_at_ns FROM analysis_runs ORDER BY created_at_ns, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.Source, &r.LabelCount, &r.CreatedAtNs); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunStats returns the stats recorded for runID in label order
func (s *Store) RunStats(runID string) ([]LabelStats, error) {
	rows, err := s.db.Query(`SELECT row_index, label, x, y, z, volume, physical_volume
		FROM label_stats WHERE run_id = ? ORDER BY label`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []LabelStats
	for rows.Next() {
		var st LabelStats
		var z sql.NullFloat64
		if err := rows.Scan(&st.Row, &st.Label, &st.X, &st.Y, &z, &st.Volume, &st.PhysicalVolume); err != nil {
			return nil, err
		}
		st.Z = nanIfNull(z)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func nullableZ(z float64) sql.NullFloat64 {
	if math.IsNaN(z) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: z, Valid: true}
}

func nanIfNull(z sql.NullFloat64) float64 {
	if !z.Valid {
		return math.NaN()
	}
	return z.Float64
}
