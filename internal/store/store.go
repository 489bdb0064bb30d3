// Package store persists periodic controller records to SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// ErrNoRecords is returned by LastWallTime when nothing has been logged yet.
var ErrNoRecords = errors.New("store: no records")

// Record is one row of the periodic log.
type Record struct {
	Tick        uint32
	Wall        int64 // Unix seconds
	ODAverage   float64
	Temperature float64
	PIDOutput   float64
	TotalVolume float64
	RunID       string
}

// Store is an append-only SQLite log.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. Use ":memory:" for
// a throwaway database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store: path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// One connection: a single writer, and ":memory:" stays one database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 1000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure store (%s): %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return &Store{db: db}, nil
}

// Append writes one record.
func (s *Store) Append(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records(tick, wall, od_avg, temperature, pid_output, total_volume, run_id)
		 VALUES(?,?,?,?,?,?,?)`,
		int64(r.Tick), r.Wall, r.ODAverage, r.Temperature, r.PIDOutput, r.TotalVolume, r.RunID,
	)
	if err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

// LastWallTime returns the latest wall time ever logged.
func (s *Store) LastWallTime(ctx context.Context) (int64, error) {
	var wall sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(wall) FROM records`).Scan(&wall)
	if err != nil {
		return 0, fmt.Errorf("query last wall time: %w", err)
	}
	if !wall.Valid {
		return 0, ErrNoRecords
	}
	return wall.Int64, nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick, wall, od_avg, temperature, pid_output, total_volume, run_id
		 FROM records ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var tick int64
		if err := rows.Scan(&tick, &r.Wall, &r.ODAverage, &r.Temperature, &r.PIDOutput, &r.TotalVolume, &r.RunID); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Tick = uint32(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
