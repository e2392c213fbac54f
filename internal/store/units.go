package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// timeFormat is how timestamps are stored in TEXT columns. Fixed width in
// UTC, so text order is time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Unit is a grow unit row.
type Unit struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// CreateUnit inserts a unit and its settings row in one transaction.
// thresholds is the JSON object stored for the new unit.
func (s *Store) CreateUnit(ctx context.Context, u Unit, thresholds string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create unit: %w", err)
	}
	defer tx.Rollback()

	created := u.CreatedAt.UTC().Format(timeFormat)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO units (id, name, created_at)
		VALUES (?, ?, ?)
	`, u.ID, u.Name, created); err != nil {
		return fmt.Errorf("create unit: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO unit_settings (unit_id, thresholds, camera_enabled, updated_at)
		VALUES (?, ?, 0, ?)
	`, u.ID, thresholds, created); err != nil {
		return fmt.Errorf("create unit settings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create unit: %w", err)
	}
	return nil
}

// GetUnit returns one unit, or ErrNotFound.
func (s *Store) GetUnit(ctx context.Context, id string) (Unit, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM units WHERE id = ?
	`, id)
	u, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Unit{}, fmt.Errorf("unit %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Unit{}, fmt.Errorf("get unit: %w", err)
	}
	return u, nil
}

// ListUnits returns all units ordered by creation time, then id.
// Returns an empty slice (not nil) when there are none.
func (s *Store) ListUnits(ctx context.Context) ([]Unit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at FROM units
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	units := []Unit{}
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		units = append(units, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate units: %w", err)
	}
	return units, nil
}

// DeleteUnit removes a unit. Settings and schedules go with it through
// ON DELETE CASCADE.
func (s *Store) DeleteUnit(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM units WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete unit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete unit: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("unit %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(r rowScanner) (Unit, error) {
	var (
		u       Unit
		created string
	)
	if err := r.Scan(&u.ID, &u.Name, &created); err != nil {
		return Unit{}, err
	}
	// A malformed timestamp is not worth failing the read over.
	u.CreatedAt, _ = time.Parse(timeFormat, created)
	return u, nil
}
