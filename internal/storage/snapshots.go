package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fear-greed-watch/internal/model"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates no snapshot exists for the requested basket.
	ErrNotFound = errors.New("storage: snapshot not found")
)

const (
	saveSnapshotSQL = `INSERT INTO series_snapshots (basket, samples, saved_at)
    VALUES ($1, $2, $3)
    ON CONFLICT (basket) DO UPDATE
    SET samples  = EXCLUDED.samples,
        saved_at = EXCLUDED.saved_at;`

	loadSnapshotSQL = `SELECT samples, saved_at FROM series_snapshots WHERE basket = $1;`
)

// SnapshotStore persists and restores rolling-window contents per basket.
type SnapshotStore interface {
	SaveSeries(ctx context.Context, basket string, samples []model.Sample) error
	LoadSeries(ctx context.Context, basket string) ([]model.Sample, time.Time, error)
}

// Store keeps one durable record per basket in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// SaveSeries upserts the basket's snapshot as a single jsonb record.
func (s *Store) SaveSeries(ctx context.Context, basket string, samples []model.Sample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(samples)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if _, execErr := pool.Exec(ctx, saveSnapshotSQL, basket, payload, time.Now().UTC()); execErr != nil {
		return fmt.Errorf("save snapshot: %w", execErr)
	}
	return nil
}

// LoadSeries restores the basket's snapshot. A missing record returns
// ErrNotFound; a corrupt one returns a decode error. Callers treat both as
// "absent" and reseed.
func (s *Store) LoadSeries(ctx context.Context, basket string) ([]model.Sample, time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, time.Time{}, err
	}

	var payload []byte
	var savedAt time.Time
	if scanErr := pool.QueryRow(ctx, loadSnapshotSQL, basket).Scan(&payload, &savedAt); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, time.Time{}, ErrNotFound
		}
		return nil, time.Time{}, fmt.Errorf("load snapshot: %w", scanErr)
	}

	var samples []model.Sample
	if err := json.Unmarshal(payload, &samples); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode snapshot: %w", err)
	}

	return samples, savedAt, nil
}

var _ SnapshotStore = (*Store)(nil)
