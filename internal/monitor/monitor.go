// Package monitor runs the periodic jobs of a long-running growkeeper
// process: the store integrity probe and the active-device sweep.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/roach88/growkeeper/internal/settings"
)

// Job names.
const (
	JobIntegrity = "integrity"
	JobSweep     = "sweep"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Prober runs the store integrity check. *store.Guard satisfies it.
type Prober interface {
	Probe(ctx context.Context) error
}

// DeviceSource lists units and evaluates their schedules. *settings.Service
// satisfies it.
type DeviceSource interface {
	ListUnits(ctx context.Context) ([]settings.Unit, error)
	GetActiveDevices(ctx context.Context, unitID string, now time.Time) ([]string, error)
}

// Transition is a device of a unit switching on or off between sweeps.
type Transition struct {
	UnitID     string    `json:"unit_id"`
	UnitName   string    `json:"unit_name"`
	DeviceType string    `json:"device_type"`
	Active     bool      `json:"active"`
	At         time.Time `json:"at"`
}

// Config holds the job schedules as cron expressions.
type Config struct {
	IntegritySchedule string
	SweepSchedule     string
}

// JobStatus reports the state of one job.
type JobStatus struct {
	Name     string
	Next     time.Time
	LastRun  time.Time
	LastErr  error
	Runs     int
	Failures int
}

// Monitor checks for due jobs on every tick and runs them in order.
type Monitor struct {
	prober   Prober
	source   DeviceSource
	now      func() time.Time
	loc      *time.Location
	interval time.Duration
	log      *zap.Logger
	onChange func(Transition)

	mu     sync.Mutex
	jobs   []*job
	active map[string]map[string]bool
}

type job struct {
	name     string
	sched    cron.Schedule
	run      func(ctx context.Context, now time.Time) error
	next     time.Time
	lastRun  time.Time
	lastErr  error
	runs     int
	failures int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithLocation sets the time zone cron expressions are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(m *Monitor) { m.loc = loc }
}

// WithInterval sets how often Run checks for due jobs.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

// OnTransition registers fn to be called for every device transition the
// sweep observes. The first sweep reports every active device.
func OnTransition(fn func(Transition)) Option {
	return func(m *Monitor) { m.onChange = fn }
}

// New creates a Monitor. An empty schedule disables its job.
func New(prober Prober, source DeviceSource, cfg Config, opts ...Option) (*Monitor, error) {
	m := &Monitor{
		prober:   prober,
		source:   source,
		now:      time.Now,
		loc:      time.Local,
		interval: 10 * time.Second,
		log:      zap.NewNop(),
		active:   make(map[string]map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}

	if cfg.IntegritySchedule != "" {
		if err := m.add(JobIntegrity, cfg.IntegritySchedule, m.probe); err != nil {
			return nil, err
		}
	}
	if cfg.SweepSchedule != "" {
		if err := m.add(JobSweep, cfg.SweepSchedule, m.sweep); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Monitor) add(name, expr string, run func(context.Context, time.Time) error) error {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid %s schedule %q: %w", name, expr, err)
	}
	m.jobs = append(m.jobs, &job{
		name:  name,
		sched: sched,
		run:   run,
		next:  sched.Next(m.now().In(m.loc)),
	})
	return nil
}

// Run checks for due jobs until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info("monitor started", zap.Strings("jobs", m.jobNames()))
	for {
		select {
		case <-ctx.Done():
			m.log.Debug("monitor stopping")
			return nil
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs every job whose next run time has passed and schedules its next
// run. A failing job is logged and rescheduled like a successful one.
func (m *Monitor) Tick(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().In(m.loc)
	for _, j := range m.jobs {
		if now.Before(j.next) {
			continue
		}
		err := j.run(ctx, now)
		j.lastRun = now
		j.lastErr = err
		j.runs++
		if err != nil {
			j.failures++
			m.log.Error("monitor job failed", zap.String("job", j.name), zap.Error(err))
		}
		j.next = j.sched.Next(now)
		m.log.Debug("monitor job scheduled", zap.String("job", j.name), zap.Time("next", j.next))
	}
}

// RunNow runs the named job immediately without changing its schedule.
func (m *Monitor) RunNow(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, j := range m.jobs {
		if j.name == name {
			return j.run(ctx, m.now().In(m.loc))
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

// Status returns the state of every job.
func (m *Monitor) Status() []JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]JobStatus, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, JobStatus{
			Name:     j.name,
			Next:     j.next,
			LastRun:  j.lastRun,
			LastErr:  j.lastErr,
			Runs:     j.runs,
			Failures: j.failures,
		})
	}
	return out
}

func (m *Monitor) jobNames() []string {
	names := make([]string, 0, len(m.jobs))
	for _, j := range m.jobs {
		names = append(names, j.name)
	}
	return names
}

func (m *Monitor) probe(ctx context.Context, _ time.Time) error {
	if err := m.prober.Probe(ctx); err != nil {
		return fmt.Errorf("integrity probe: %w", err)
	}
	m.log.Debug("integrity probe passed")
	return nil
}

// sweep evaluates every unit's schedules and reports devices that changed
// state since the previous sweep. A unit that fails is skipped; the sweep
// continues with the rest and returns the first error.
func (m *Monitor) sweep(ctx context.Context, now time.Time) error {
	units, err := m.source.ListUnits(ctx)
	if err != nil {
		return fmt.Errorf("list units: %w", err)
	}

	var firstErr error
	seen := make(map[string]bool, len(units))
	for _, u := range units {
		seen[u.ID] = true
		devices, err := m.source.GetActiveDevices(ctx, u.ID, now)
		if err != nil {
			m.log.Warn("sweep skipped unit", zap.String("unit_id", u.ID), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("unit %s: %w", u.ID, err)
			}
			continue
		}
		m.diff(u, devices, now)
	}

	for id := range m.active {
		if !seen[id] {
			delete(m.active, id)
		}
	}
	return firstErr
}

func (m *Monitor) diff(u settings.Unit, devices []string, now time.Time) {
	prev := m.active[u.ID]
	next := make(map[string]bool, len(devices))
	for _, d := range devices {
		next[d] = true
	}

	var changes []Transition
	for d := range next {
		if !prev[d] {
			changes = append(changes, Transition{UnitID: u.ID, UnitName: u.Name, DeviceType: d, Active: true, At: now})
		}
	}
	for d := range prev {
		if !next[d] {
			changes = append(changes, Transition{UnitID: u.ID, UnitName: u.Name, DeviceType: d, Active: false, At: now})
		}
	}
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].DeviceType < changes[j].DeviceType
	})

	m.active[u.ID] = next
	for _, c := range changes {
		m.log.Info("device state changed",
			zap.String("unit_id", c.UnitID),
			zap.String("device_type", c.DeviceType),
			zap.Bool("active", c.Active))
		if m.onChange != nil {
			m.onChange(c)
		}
	}
}
