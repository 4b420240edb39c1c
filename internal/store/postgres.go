package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/urbanflux/netatmo-ingest/internal/device"
)

// PostgresStore keeps each device as one jsonb document keyed by its
// vendor id. last_checked is duplicated into a column so the
// oldest-checked query stays an indexed sort rather than a document scan.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the devices table if it is missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS devices (
    device_id    text PRIMARY KEY,
    last_checked timestamptz NOT NULL,
    doc          jsonb NOT NULL,
    created_at   timestamptz NOT NULL DEFAULT NOW(),
    updated_at   timestamptz NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return err
	}

	// Keeps the oldest-checked lookup cheap as the fleet grows.
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS devices_last_checked_idx ON devices (last_checked)`)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, dev device.Device) error {
	doc, err := json.Marshal(dev)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO devices (device_id, last_checked, doc, created_at, updated_at)
VALUES ($1, $2, $3, NOW(), NOW())`, dev.DeviceID, dev.LastChecked, doc)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, deviceID string) (device.Device, error) {
	row := s.pool.QueryRow(ctx, `
SELECT doc, last_checked, created_at, updated_at
FROM devices
WHERE device_id = $1`, deviceID)
	return scanDevice(row)
}

func (s *PostgresStore) GetOldestLastChecked(ctx context.Context) (device.Device, error) {
	row := s.pool.QueryRow(ctx, `
SELECT doc, last_checked, created_at, updated_at
FROM devices
ORDER BY last_checked ASC
LIMIT 1`)
	return scanDevice(row)
}

// Update replaces the whole document atomically, so the modules array is
// always written as a unit.
func (s *PostgresStore) Update(ctx context.Context, deviceID string, dev device.Device) (device.Device, error) {
	dev.DeviceID = deviceID
	doc, err := json.Marshal(dev)
	if err != nil {
		return device.Device{}, err
	}

	row := s.pool.QueryRow(ctx, `
UPDATE devices
SET last_checked = $2, doc = $3, updated_at = NOW()
WHERE device_id = $1
RETURNING doc, last_checked, created_at, updated_at`, deviceID, dev.LastChecked, doc)

	return scanDevice(row)
}

func (s *PostgresStore) Delete(ctx context.Context, deviceID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM devices WHERE device_id = $1`, deviceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM devices`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func scanDevice(row pgx.Row) (device.Device, error) {
	var (
		doc         []byte
		lastChecked time.Time
		createdAt   time.Time
		updatedAt   time.Time
	)
	if err := row.Scan(&doc, &lastChecked, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return device.Device{}, ErrDeviceNotFound
		}
		return device.Device{}, err
	}

	var dev device.Device
	if err := json.Unmarshal(doc, &dev); err != nil {
		return device.Device{}, err
	}
	dev.LastChecked = lastChecked
	dev.CreatedAt = createdAt
	dev.UpdatedAt = updatedAt
	return dev, nil
}
