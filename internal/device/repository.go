package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// timeFormat is fixed width so stored timestamps compare as strings.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Repository defines the interface for known-device persistence.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Upsert inserts a device or, if the GUID exists, moves its last_seen
	// forward. first_seen is never changed.
	Upsert(ctx context.Context, d KnownDevice) error

	// GetByGUID retrieves a device. Returns ErrDeviceNotFound if absent.
	GetByGUID(ctx context.Context, guid string) (*KnownDevice, error)

	// List retrieves all devices ordered by GUID.
	List(ctx context.Context) ([]KnownDevice, error)

	// Delete removes a device. Returns ErrDeviceNotFound if absent.
	Delete(ctx context.Context, guid string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Upsert records that a device was seen.
func (r *SQLiteRepository) Upsert(ctx context.Context, d KnownDevice) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.LastSeen.IsZero() {
		d.LastSeen = time.Now()
	}
	if d.FirstSeen.IsZero() {
		d.FirstSeen = d.LastSeen
	}

	query := `
		INSERT INTO arduino_devices (guid, grp, vendor, type, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (guid) DO UPDATE SET last_seen = excluded.last_seen
		WHERE excluded.last_seen > arduino_devices.last_seen`

	_, err := r.db.ExecContext(ctx, query,
		d.GUID, d.Group, d.Vendor, d.Type,
		d.FirstSeen.UTC().Format(timeFormat),
		d.LastSeen.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("upserting device %s: %w", d.GUID, err)
	}
	return nil
}

// GetByGUID retrieves a device by its G_V_D key.
func (r *SQLiteRepository) GetByGUID(ctx context.Context, guid string) (*KnownDevice, error) {
	query := `
		SELECT guid, grp, vendor, type, first_seen, last_seen
		FROM arduino_devices
		WHERE guid = ?`

	d, err := scanDevice(r.db.QueryRowContext(ctx, query, guid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device %s: %w", guid, err)
	}
	return d, nil
}

// List retrieves all known devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]KnownDevice, error) {
	query := `
		SELECT guid, grp, vendor, type, first_seen, last_seen
		FROM arduino_devices
		ORDER BY guid`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []KnownDevice
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Delete removes a device by GUID.
func (r *SQLiteRepository) Delete(ctx context.Context, guid string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM arduino_devices WHERE guid = ?", guid)
	if err != nil {
		return fmt.Errorf("deleting device %s: %w", guid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (*KnownDevice, error) {
	var (
		d                   KnownDevice
		firstSeen, lastSeen string
	)
	if err := s.Scan(&d.GUID, &d.Group, &d.Vendor, &d.Type, &firstSeen, &lastSeen); err != nil {
		return nil, err
	}

	var err error
	if d.FirstSeen, err = time.Parse(timeFormat, firstSeen); err != nil {
		return nil, fmt.Errorf("parsing first_seen: %w", err)
	}
	if d.LastSeen, err = time.Parse(timeFormat, lastSeen); err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}
	return &d, nil
}
