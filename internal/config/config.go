// Package config loads growkeeper settings from growkeeper.yaml, the
// environment (GROWKEEPER_*) and built-in defaults, in that order of
// precedence from lowest to highest: defaults, file, environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/roach88/growkeeper/internal/logging"
	"github.com/roach88/growkeeper/internal/store"
)

const (
	configFileName = "growkeeper"
	configFileType = "yaml"
	envPrefix      = "GROWKEEPER"
)

// Config keys.
const (
	KeyDatabasePath         = "database.path"
	KeyDatabaseBusyTimeout  = "database.busy_timeout"
	KeyDatabaseMaxOpenConns = "database.max_open_conns"
	KeyDatabaseIntegrity    = "database.integrity_check"
	KeyDatabaseMinFreeBytes = "database.min_free_bytes"
	KeyRetryAttempts        = "retry.attempts"
	KeyRetryBaseDelay       = "retry.base_delay"
	KeyRetryMaxDelay        = "retry.max_delay"
	KeyMonitorIntegrity     = "monitor.integrity_schedule"
	KeyMonitorSweep         = "monitor.sweep_schedule"
	KeyScheduleTimezone     = "schedule.timezone"
	KeyLogLevel             = "log.level"
	KeyLogFormat            = "log.format"
)

// Config is the full growkeeper configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig configures the store file and how it is opened.
type DatabaseConfig struct {
	Path           string        `mapstructure:"path"`
	BusyTimeout    time.Duration `mapstructure:"busy_timeout"`
	MaxOpenConns   int           `mapstructure:"max_open_conns"`
	IntegrityCheck string        `mapstructure:"integrity_check"`
	MinFreeBytes   uint64        `mapstructure:"min_free_bytes"`
}

// RetryConfig configures backoff for transient storage errors.
type RetryConfig struct {
	Attempts  int           `mapstructure:"attempts"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`
}

// MonitorConfig holds the cron schedules of the watch loop. An empty
// schedule disables that job.
type MonitorConfig struct {
	IntegritySchedule string `mapstructure:"integrity_schedule"`
	SweepSchedule     string `mapstructure:"sweep_schedule"`
}

// ScheduleConfig configures device schedule evaluation.
type ScheduleConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CronParser parses the standard 5-field cron expressions and descriptors
// such as @hourly or @every 5m.
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// validateSchedule accepts an empty spec, which leaves the job disabled.
func validateSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	_, err := CronParser.Parse(spec)
	return err
}

func setDefaults(v *viper.Viper) {
	opts := store.DefaultOptions()
	retry := store.DefaultRetryPolicy()

	v.SetDefault(KeyDatabasePath, filepath.Join("data", "growkeeper.db"))
	v.SetDefault(KeyDatabaseBusyTimeout, opts.BusyTimeout)
	v.SetDefault(KeyDatabaseMaxOpenConns, opts.MaxOpenConns)
	v.SetDefault(KeyDatabaseIntegrity, opts.IntegrityCheck)
	v.SetDefault(KeyDatabaseMinFreeBytes, uint64(16<<20))
	v.SetDefault(KeyRetryAttempts, retry.Attempts)
	v.SetDefault(KeyRetryBaseDelay, retry.BaseDelay)
	v.SetDefault(KeyRetryMaxDelay, retry.MaxDelay)
	v.SetDefault(KeyMonitorIntegrity, "@every 1h")
	v.SetDefault(KeyMonitorSweep, "* * * * *")
	v.SetDefault(KeyScheduleTimezone, "Local")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, logging.FormatJSON)
}

// Load reads the configuration. With path empty, growkeeper.yaml is looked
// up in the working directory and the user config directory, and a missing
// file is not an error. With path set, the file must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "growkeeper"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every value that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, fmt.Errorf("%s is required", KeyDatabasePath))
	}
	if c.Database.BusyTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", KeyDatabaseBusyTimeout))
	}
	if c.Database.MaxOpenConns < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1", KeyDatabaseMaxOpenConns))
	}
	switch c.Database.IntegrityCheck {
	case store.IntegrityFull, store.IntegrityQuick:
	default:
		errs = append(errs, fmt.Errorf("%s must be %q or %q, got %q", KeyDatabaseIntegrity, store.IntegrityFull, store.IntegrityQuick, c.Database.IntegrityCheck))
	}
	if c.Retry.Attempts < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1", KeyRetryAttempts))
	}
	if c.Retry.BaseDelay <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive", KeyRetryBaseDelay))
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, fmt.Errorf("%s must be at least %s", KeyRetryMaxDelay, KeyRetryBaseDelay))
	}
	if err := validateSchedule(c.Monitor.IntegritySchedule); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyMonitorIntegrity, err))
	}
	if err := validateSchedule(c.Monitor.SweepSchedule); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyMonitorSweep, err))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyScheduleTimezone, err))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyLogLevel, err))
	}
	switch strings.ToLower(c.Log.Format) {
	case logging.FormatJSON, logging.FormatConsole:
	default:
		errs = append(errs, fmt.Errorf("%s must be json or console, got %q", KeyLogFormat, c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// StoreOptions returns the options for opening the store.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		BusyTimeout:    c.Database.BusyTimeout,
		MaxOpenConns:   c.Database.MaxOpenConns,
		IntegrityCheck: c.Database.IntegrityCheck,
	}
}

// RetryPolicy returns the retry policy for transient storage errors.
func (c *Config) RetryPolicy() store.RetryPolicy {
	return store.RetryPolicy{
		Attempts:  c.Retry.Attempts,
		BaseDelay: c.Retry.BaseDelay,
		MaxDelay:  c.Retry.MaxDelay,
	}
}

// Location returns the time zone schedules are evaluated in.
func (c *Config) Location() (*time.Location, error) {
	switch c.Schedule.Timezone {
	case "", "Local":
		return time.Local, nil
	}
	return time.LoadLocation(c.Schedule.Timezone)
}
