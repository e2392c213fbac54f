package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SettingsRow is a unit_settings row as stored, before any sanitizing.
// Columns that older versions wrote loosely are kept as raw strings.
type SettingsRow struct {
	UnitID     string
	Thresholds string
	LightStart sql.NullString
	LightEnd   sql.NullString
	Dimensions sql.NullString
	Camera     sql.NullString
	UpdatedAt  string
	Schedules  []RawScheduleRow
}

// RawScheduleRow is a device_schedules row scanned as text so that values
// written by older code can be parsed leniently by the caller.
type RawScheduleRow struct {
	DeviceType string
	Start      sql.NullString
	End        sql.NullString
	Enabled    sql.NullString
}

// ScheduleRow is a validated schedule to be written.
type ScheduleRow struct {
	DeviceType string
	Start      int
	End        int
	Enabled    bool
}

// SettingsWrite replaces a unit's settings and its full set of schedules.
type SettingsWrite struct {
	UnitID        string
	Thresholds    string
	LightStart    sql.NullString
	LightEnd      sql.NullString
	Dimensions    sql.NullString
	CameraEnabled bool
	Schedules     []ScheduleRow
	UpdatedAt     time.Time
}

// ReadSettings returns the settings row and schedules of a unit, or
// ErrNotFound. Schedules are ordered by device type.
func (s *Store) ReadSettings(ctx context.Context, unitID string) (SettingsRow, error) {
	var row SettingsRow
	err := s.db.QueryRowContext(ctx, `
		SELECT unit_id, thresholds, light_start_time, light_end_time, dimensions, camera_enabled, updated_at
		FROM unit_settings
		WHERE unit_id = ?
	`, unitID).Scan(&row.UnitID, &row.Thresholds, &row.LightStart, &row.LightEnd, &row.Dimensions, &row.Camera, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SettingsRow{}, fmt.Errorf("settings for unit %s: %w", unitID, ErrNotFound)
	}
	if err != nil {
		return SettingsRow{}, fmt.Errorf("read settings: %w", err)
	}
	schedules, err := s.readSchedules(ctx, unitID)
	if err != nil {
		return SettingsRow{}, err
	}
	row.Schedules = schedules
	return row, nil
}

func (s *Store) readSchedules(ctx context.Context, unitID string) ([]RawScheduleRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_type, start_time, end_time, enabled
		FROM device_schedules
		WHERE unit_id = ?
		ORDER BY device_type COLLATE BINARY ASC
	`, unitID)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	schedules := []RawScheduleRow{}
	for rows.Next() {
		var r RawScheduleRow
		if err := rows.Scan(&r.DeviceType, &r.Start, &r.End, &r.Enabled); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return schedules, nil
}

// WriteSettings replaces the settings row and all schedules of a unit in one
// transaction. Returns ErrNotFound if the unit has no settings row.
//
// A NULL LightStart or LightEnd keeps the stored legacy value; use
// ClearLegacyLight to remove it.
func (s *Store) WriteSettings(ctx context.Context, w SettingsWrite) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	defer tx.Rollback()

	updated := w.UpdatedAt.UTC().Format(timeFormat)
	res, err := tx.ExecContext(ctx, `
		UPDATE unit_settings
		SET thresholds = ?,
		    light_start_time = COALESCE(?, light_start_time),
		    light_end_time = COALESCE(?, light_end_time),
		    dimensions = ?, camera_enabled = ?, updated_at = ?
		WHERE unit_id = ?
	`, w.Thresholds, w.LightStart, w.LightEnd, w.Dimensions, boolInt(w.CameraEnabled), updated, w.UnitID)
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := requireRow(res, w.UnitID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM device_schedules WHERE unit_id = ?`, w.UnitID); err != nil {
		return fmt.Errorf("write settings: clear schedules: %w", err)
	}
	for _, sch := range w.Schedules {
		if err := upsertSchedule(ctx, tx, w.UnitID, sch, updated); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// UpdateThresholds overwrites the stored threshold JSON of a unit.
func (s *Store) UpdateThresholds(ctx context.Context, unitID, thresholds string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE unit_settings SET thresholds = ?, updated_at = ? WHERE unit_id = ?
	`, thresholds, now.UTC().Format(timeFormat), unitID)
	if err != nil {
		return fmt.Errorf("update thresholds: %w", err)
	}
	return requireRow(res, unitID)
}

// CompareAndSwapThresholds replaces the threshold JSON only if it still
// equals old. It reports whether the row was changed. A false result with a
// nil error means another writer got there first.
func (s *Store) CompareAndSwapThresholds(ctx context.Context, unitID, old, next string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE unit_settings SET thresholds = ?, updated_at = ?
		WHERE unit_id = ? AND thresholds = ?
	`, next, now.UTC().Format(timeFormat), unitID, old)
	if err != nil {
		return false, fmt.Errorf("swap thresholds: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("swap thresholds: %w", err)
	}
	return n > 0, nil
}

// UpsertSchedule inserts or replaces one device schedule.
// Returns ErrNotFound if the unit does not exist.
func (s *Store) UpsertSchedule(ctx context.Context, unitID string, sch ScheduleRow, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert schedule: %w", err)
	}
	defer tx.Rollback()

	if err := requireUnit(ctx, tx, unitID); err != nil {
		return err
	}
	if err := upsertSchedule(ctx, tx, unitID, sch, now.UTC().Format(timeFormat)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("upsert schedule: %w", err)
	}
	return nil
}

// InsertScheduleIfAbsent writes sch only when the unit has no schedule for
// that device type yet. It reports whether a row was inserted.
func (s *Store) InsertScheduleIfAbsent(ctx context.Context, unitID string, sch ScheduleRow, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO device_schedules (unit_id, device_type, start_time, end_time, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(unit_id, device_type) DO NOTHING
	`, unitID, sch.DeviceType, sch.Start, sch.End, boolInt(sch.Enabled), now.UTC().Format(timeFormat))
	if err != nil {
		return false, fmt.Errorf("insert schedule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert schedule: %w", err)
	}
	return n > 0, nil
}

// DeleteSchedule removes one device schedule, or returns ErrNotFound.
func (s *Store) DeleteSchedule(ctx context.Context, unitID, deviceType string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM device_schedules WHERE unit_id = ? AND device_type = ?
	`, unitID, deviceType)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("schedule %s/%s: %w", unitID, deviceType, ErrNotFound)
	}
	return nil
}

// ClearLegacyLight removes the legacy single light window of a unit.
func (s *Store) ClearLegacyLight(ctx context.Context, unitID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE unit_settings
		SET light_start_time = NULL, light_end_time = NULL, updated_at = ?
		WHERE unit_id = ?
	`, now.UTC().Format(timeFormat), unitID)
	if err != nil {
		return fmt.Errorf("clear legacy light: %w", err)
	}
	return requireRow(res, unitID)
}

func upsertSchedule(ctx context.Context, tx *sql.Tx, unitID string, sch ScheduleRow, updated string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO device_schedules (unit_id, device_type, start_time, end_time, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(unit_id, device_type) DO UPDATE SET
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, unitID, sch.DeviceType, sch.Start, sch.End, boolInt(sch.Enabled), updated)
	if err != nil {
		return fmt.Errorf("upsert schedule %s: %w", sch.DeviceType, err)
	}
	return nil
}

func requireUnit(ctx context.Context, tx *sql.Tx, unitID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM units WHERE id = ?`, unitID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("unit %s: %w", unitID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup unit: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, unitID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("settings for unit %s: %w", unitID, ErrNotFound)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
