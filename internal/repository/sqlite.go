package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"patrol-beat-tracker/internal/models"
)

// SQLiteLocationStore implements LocationStore on a local SQLite file
type SQLiteLocationStore struct {
	db *sql.DB
}

// OpenSQLiteLocationStore opens the database, creating directories and schema as needed.
// Use ":memory:" for a throwaway store.
func OpenSQLiteLocationStore(ctx context.Context, path string) (*SQLiteLocationStore, error) {
	dsn := "file::memory:?_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteLocationStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle
func (s *SQLiteLocationStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteLocationStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS personnel_locations (
		id TEXT PRIMARY KEY,
		personnel_id TEXT NOT NULL UNIQUE,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		accuracy REAL NOT NULL,
		updated_at INTEGER NOT NULL
	);`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// UpsertLocation inserts or updates in one statement. The WHERE clause on the
// conflict branch drops writes older than the stored row.
func (s *SQLiteLocationStore) UpsertLocation(ctx context.Context, rec models.LocationRecord) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO personnel_locations (id, personnel_id, latitude, longitude, accuracy, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(personnel_id)
		 DO UPDATE SET latitude = excluded.latitude,
				 longitude = excluded.longitude,
				 accuracy = excluded.accuracy,
				 updated_at = excluded.updated_at
		 WHERE excluded.updated_at >= personnel_locations.updated_at;`,
		uuid.NewString(),
		rec.PersonnelID,
		rec.Latitude,
		rec.Longitude,
		rec.Accuracy,
		rec.UpdatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert location: %w", err)
	}
	return nil
}

func (s *SQLiteLocationStore) DeleteLocation(ctx context.Context, personnelID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM personnel_locations WHERE personnel_id = ?;`, personnelID); err != nil {
		return fmt.Errorf("delete location: %w", err)
	}
	return nil
}

func (s *SQLiteLocationStore) GetLocation(ctx context.Context, personnelID string) (*models.LocationRecord, error) {
	var (
		rec       models.LocationRecord
		updatedNs int64
	)
	err := s.db.QueryRowContext(
		ctx,
		`SELECT id, personnel_id, latitude, longitude, accuracy, updated_at FROM personnel_locations WHERE personnel_id = ?;`,
		personnelID,
	).Scan(&rec.ID, &rec.PersonnelID, &rec.Latitude, &rec.Longitude, &rec.Accuracy, &updatedNs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get location: %w", err)
	}

	rec.UpdatedAt = time.Unix(0, updatedNs).UTC()
	return &rec, nil
}

// Count returns the number of rows stored for a principal
func (s *SQLiteLocationStore) Count(ctx context.Context, personnelID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM personnel_locations WHERE personnel_id = ?;`, personnelID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count locations: %w", err)
	}
	return n, nil
}
