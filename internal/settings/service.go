package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roach88/growkeeper/internal/schedule"
	"github.com/roach88/growkeeper/internal/store"
	"github.com/roach88/growkeeper/internal/threshold"
)

// storedTimeFormat matches how the store writes updated_at.
const storedTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Service is the only way threshold and schedule state is read or written.
// Every value it returns has been sanitized or validated, and every error
// it returns is one of the errors in errors.go.
type Service struct {
	guard *store.Guard
	table *threshold.Table
	retry store.RetryPolicy
	loc   *time.Location
	now   func() time.Time
	log   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithTable sets the threshold range table.
func WithTable(t *threshold.Table) Option {
	return func(s *Service) { s.table = t }
}

// WithRetryPolicy sets how transient storage errors are retried.
func WithRetryPolicy(p store.RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// WithLocation sets the time zone schedules are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithClock sets the time source for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Service) { s.log = log }
}

// New creates a Service over guard.
func New(guard *store.Guard, opts ...Option) *Service {
	s := &Service{
		guard: guard,
		table: threshold.DefaultTable(),
		retry: store.DefaultRetryPolicy(),
		loc:   time.Local,
		now:   time.Now,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Table returns the range table thresholds are sanitized against.
func (s *Service) Table() *threshold.Table {
	return s.table
}

// Location returns the time zone schedules are evaluated in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// CreateUnit creates a unit with default thresholds and no schedules.
func (s *Service) CreateUnit(ctx context.Context, name string) (Unit, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Unit{}, fmt.Errorf("%w: unit name is empty", ErrInvalidSettings)
	}

	thresholds, err := s.table.Defaults().Marshal()
	if err != nil {
		return Unit{}, translate(err)
	}

	u := store.Unit{ID: newID(), Name: name, CreatedAt: s.now()}
	err = s.update(ctx, func(st *store.Store) error {
		return st.CreateUnit(ctx, u, thresholds)
	})
	if err != nil {
		return Unit{}, translate(err)
	}
	s.log.Info("unit created", zap.String("unit_id", u.ID), zap.String("name", name))
	return Unit{ID: u.ID, Name: u.Name, CreatedAt: u.CreatedAt}, nil
}

// DeleteUnit removes a unit with its settings and schedules.
func (s *Service) DeleteUnit(ctx context.Context, unitID string) error {
	err := s.update(ctx, func(st *store.Store) error {
		return st.DeleteUnit(ctx, unitID)
	})
	if err != nil {
		return translate(err)
	}
	s.log.Info("unit deleted", zap.String("unit_id", unitID))
	return nil
}

// ListUnits returns all units, oldest first.
func (s *Service) ListUnits(ctx context.Context) ([]Unit, error) {
	var rows []store.Unit
	err := s.view(ctx, func(st *store.Store) error {
		var err error
		rows, err = st.ListUnits(ctx)
		return err
	})
	if err != nil {
		return nil, translate(err)
	}
	units := make([]Unit, 0, len(rows))
	for _, r := range rows {
		units = append(units, Unit{ID: r.ID, Name: r.Name, CreatedAt: r.CreatedAt})
	}
	return units, nil
}

// GetUnitSettings reads a unit's settings.
//
// Thresholds are sanitized against the range table. Stored schedules that no
// longer validate are skipped. A light schedule is synthesized from the
// legacy light window when none is stored. Corrections and the synthesized
// schedule are written back so the next read is clean; failing to write them
// is logged and does not fail the read.
func (s *Service) GetUnitSettings(ctx context.Context, unitID string) (UnitSettings, error) {
	var row store.SettingsRow
	err := s.view(ctx, func(st *store.Store) error {
		var err error
		row, err = st.ReadSettings(ctx, unitID)
		return err
	})
	if err != nil {
		return UnitSettings{}, translate(err)
	}

	log := s.log.With(zap.String("unit_id", unitID))
	out := UnitSettings{
		UnitID:    row.UnitID,
		Schedules: make(map[string]schedule.DeviceSchedule, len(row.Schedules)),
	}
	out.UpdatedAt, _ = time.Parse(storedTimeFormat, row.UpdatedAt)

	camera, ok := parseStoredFlag(row.Camera.String)
	if !ok {
		log.Warn("stored camera flag unreadable, treating as off", zap.String("camera_enabled", row.Camera.String))
	}
	out.CameraEnabled = camera

	raw, err := threshold.ParseRaw([]byte(row.Thresholds))
	if err != nil {
		log.Warn("stored thresholds unreadable, using defaults", zap.Error(err))
		raw = threshold.Raw{}
	}
	set, corrections := s.table.Inspect(raw)
	out.Thresholds = set
	if len(corrections) > 0 {
		s.persistThresholds(ctx, log, unitID, row.Thresholds, set, corrections)
	}

	for _, r := range row.Schedules {
		sch, err := schedule.ParseStored(r.DeviceType, r.Start.String, r.End.String, r.Enabled.String)
		if err != nil {
			log.Warn("skipping invalid stored schedule",
				zap.String("device_type", r.DeviceType),
				zap.Error(err))
			continue
		}
		if _, dup := out.Schedules[sch.DeviceType]; dup {
			log.Warn("skipping duplicate stored schedule", zap.String("device_type", r.DeviceType))
			continue
		}
		out.Schedules[sch.DeviceType] = sch
	}

	if row.LightStart.Valid || row.LightEnd.Valid {
		out.LegacyLight = &LegacyLightWindow{Start: row.LightStart.String, End: row.LightEnd.String}
	}
	if _, ok := out.Schedules[schedule.DeviceLight]; !ok && out.LegacyLight != nil {
		if light, ok := schedule.FromLegacyLight(out.LegacyLight.Start, out.LegacyLight.End); ok {
			out.Schedules[schedule.DeviceLight] = light
			s.persistLegacyLight(ctx, log, unitID, light)
		} else {
			log.Warn("legacy light window unreadable",
				zap.String("light_start_time", out.LegacyLight.Start),
				zap.String("light_end_time", out.LegacyLight.End))
		}
	}

	if row.Dimensions.Valid {
		dims, ok := parseDimensions(row.Dimensions.String)
		if !ok {
			log.Warn("stored dimensions unreadable", zap.String("dimensions", row.Dimensions.String))
		}
		out.Dimensions = dims
	}

	return out, nil
}

// persistThresholds writes a sanitized set back, but only if the stored
// bytes are still the ones that were read.
func (s *Service) persistThresholds(ctx context.Context, log *zap.Logger, unitID, old string, set threshold.Set, corrections []threshold.Correction) {
	fields := make([]string, 0, len(corrections))
	for _, c := range corrections {
		fields = append(fields, c.String())
	}
	log.Warn("thresholds corrected on read", zap.Strings("corrections", fields))

	next, err := set.Marshal()
	if err != nil {
		log.Error("marshal corrected thresholds", zap.Error(err))
		return
	}

	var swapped bool
	err = s.guard.Update(ctx, func(st *store.Store) error {
		var err error
		swapped, err = st.CompareAndSwapThresholds(ctx, unitID, old, next, s.now())
		return err
	})
	switch {
	case err != nil:
		log.Warn("persisting corrected thresholds failed", zap.Error(err))
	case !swapped:
		log.Debug("thresholds changed concurrently, correction not persisted")
	}
}

func (s *Service) persistLegacyLight(ctx context.Context, log *zap.Logger, unitID string, light schedule.DeviceSchedule) {
	var inserted bool
	err := s.guard.Update(ctx, func(st *store.Store) error {
		var err error
		inserted, err = st.InsertScheduleIfAbsent(ctx, unitID, toRow(light), s.now())
		return err
	})
	if err != nil {
		log.Warn("persisting migrated light schedule failed", zap.Error(err))
		return
	}
	if inserted {
		log.Info("migrated legacy light window to device schedule",
			zap.Stringer("start", light.Start),
			zap.Stringer("end", light.End))
	}
}

// PutUnitSettings replaces a unit's thresholds, schedules, dimensions and
// camera flag. Thresholds are clamped into range. Schedules must validate.
// A nil LegacyLight keeps whatever legacy window is stored.
func (s *Service) PutUnitSettings(ctx context.Context, unitID string, in UnitSettings) error {
	set, corrections := s.table.Inspect(in.Thresholds.AsRaw())
	if len(corrections) > 0 {
		s.log.Info("thresholds clamped on write",
			zap.String("unit_id", unitID),
			zap.Int("corrections", len(corrections)))
	}
	thresholds, err := set.Marshal()
	if err != nil {
		return translate(err)
	}

	rows, err := scheduleRows(in.Schedules)
	if err != nil {
		return err
	}

	w := store.SettingsWrite{
		UnitID:        unitID,
		Thresholds:    thresholds,
		CameraEnabled: in.CameraEnabled,
		Schedules:     rows,
		UpdatedAt:     s.now(),
	}

	if in.Dimensions != nil {
		if !in.Dimensions.valid() {
			return fmt.Errorf("%w: dimensions must be finite and non-negative", ErrInvalidSettings)
		}
		data, err := json.Marshal(in.Dimensions)
		if err != nil {
			return translate(err)
		}
		w.Dimensions = sql.NullString{String: string(data), Valid: true}
	}

	if in.LegacyLight != nil {
		if _, ok := schedule.FromLegacyLight(in.LegacyLight.Start, in.LegacyLight.End); !ok {
			return fmt.Errorf("%w: legacy light window %q-%q", ErrInvalidSettings, in.LegacyLight.Start, in.LegacyLight.End)
		}
		w.LightStart = sql.NullString{String: in.LegacyLight.Start, Valid: true}
		w.LightEnd = sql.NullString{String: in.LegacyLight.End, Valid: true}
	}

	err = s.update(ctx, func(st *store.Store) error {
		return st.WriteSettings(ctx, w)
	})
	return translate(err)
}

// GetThresholds returns a unit's sanitized thresholds.
func (s *Service) GetThresholds(ctx context.Context, unitID string) (threshold.Set, error) {
	us, err := s.GetUnitSettings(ctx, unitID)
	if err != nil {
		return threshold.Set{}, err
	}
	return us.Thresholds, nil
}

// SetThresholds sanitizes raw and stores the result. It returns the stored
// set and what had to be corrected to get there.
func (s *Service) SetThresholds(ctx context.Context, unitID string, raw threshold.Raw) (threshold.Set, []threshold.Correction, error) {
	set, corrections := s.table.Inspect(raw)
	data, err := set.Marshal()
	if err != nil {
		return threshold.Set{}, nil, translate(err)
	}
	err = s.update(ctx, func(st *store.Store) error {
		return st.UpdateThresholds(ctx, unitID, data, s.now())
	})
	if err != nil {
		return threshold.Set{}, nil, translate(err)
	}
	return set, corrections, nil
}

// SetDeviceSchedule validates sch and upserts it under deviceType.
func (s *Service) SetDeviceSchedule(ctx context.Context, unitID, deviceType string, sch schedule.DeviceSchedule) error {
	sch.DeviceType = deviceType
	if err := schedule.Validate(&sch); err != nil {
		return err
	}
	err := s.update(ctx, func(st *store.Store) error {
		return st.UpsertSchedule(ctx, unitID, toRow(sch), s.now())
	})
	return translate(err)
}

// DeleteDeviceSchedule removes a device schedule. Deleting a schedule that
// does not exist is not an error. Deleting the light schedule also clears
// the legacy light window, otherwise the next read would bring it back.
func (s *Service) DeleteDeviceSchedule(ctx context.Context, unitID, deviceType string) error {
	dt, err := schedule.NormalizeDeviceType(deviceType)
	if err != nil {
		return err
	}
	err = s.update(ctx, func(st *store.Store) error {
		if _, err := st.GetUnit(ctx, unitID); err != nil {
			return err
		}
		err := st.DeleteSchedule(ctx, unitID, dt)
		if err != nil && !isNotFound(err) {
			return err
		}
		if dt == schedule.DeviceLight {
			return st.ClearLegacyLight(ctx, unitID, s.now())
		}
		return nil
	})
	return translate(err)
}

// GetActiveDevices returns the device types that should be on at now,
// evaluated in the service's time zone. The result is sorted.
func (s *Service) GetActiveDevices(ctx context.Context, unitID string, now time.Time) ([]string, error) {
	us, err := s.GetUnitSettings(ctx, unitID)
	if err != nil {
		return nil, err
	}
	return schedule.ActiveDevices(us.Schedules, schedule.MinuteOf(now.In(s.loc))), nil
}

func (s *Service) view(ctx context.Context, fn func(*store.Store) error) error {
	return store.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.guard.View(ctx, fn)
	})
}

func (s *Service) update(ctx context.Context, fn func(*store.Store) error) error {
	return store.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.guard.Update(ctx, fn)
	})
}

func scheduleRows(in map[string]schedule.DeviceSchedule) ([]store.ScheduleRow, error) {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seen := make(map[string]bool, len(in))
	rows := make([]store.ScheduleRow, 0, len(in))
	for _, k := range keys {
		sch := in[k]
		if sch.DeviceType == "" {
			sch.DeviceType = k
		}
		if err := schedule.Validate(&sch); err != nil {
			return nil, err
		}
		if key, err := schedule.NormalizeDeviceType(k); err != nil || key != sch.DeviceType {
			return nil, fmt.Errorf("%w: schedule key %q does not match device type %q", ErrInvalidSettings, k, sch.DeviceType)
		}
		if seen[sch.DeviceType] {
			return nil, fmt.Errorf("%w: duplicate schedule for %q", ErrInvalidSettings, sch.DeviceType)
		}
		seen[sch.DeviceType] = true
		rows = append(rows, toRow(sch))
	}
	return rows, nil
}

func toRow(sch schedule.DeviceSchedule) store.ScheduleRow {
	return store.ScheduleRow{
		DeviceType: sch.DeviceType,
		Start:      int(sch.Start),
		End:        int(sch.End),
		Enabled:    sch.Enabled,
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// newID generates a UUIDv7, falling back to v4.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
