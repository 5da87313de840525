// Package config loads spanwatch settings from defaults, files,
// the environment and command line overrides.
package config

import (
	"context"
	"fmt"
	"sort"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

const (
	EnvPrefix = "SPANWATCH_"

	PriorityFile        = 50
	PriorityEnvironment = 75
	PriorityFlag        = 100
)

const (
	KeyEnabled        = "profiler.enabled"
	KeyCollectConfig  = "profiler.collect_config"
	KeyMonitoring     = "profiler.monitoring.enabled"
	KeyDelayIdle      = "profiler.monitoring.delay_idle"
	KeyDelayRequest   = "profiler.monitoring.delay_request"
	KeyMinMaxAge      = "profiler.extraction.min_max_age"
	KeyStoreSize      = "profiler.store.size"
	KeyMatchRoutes    = "profiler.matchers.routes"
	KeyMatchIPs       = "profiler.matchers.ips"
	KeyLoggingLevel   = "logging.level"
	KeyLoggingSubsys  = "logging.subsystems"
	loggingSubsysBase = "spanwatch.*"
)

var defaults = map[string]interface{}{
	KeyEnabled:       true,
	KeyCollectConfig: true,
	KeyMonitoring:    true,
	KeyDelayIdle:     "1s",
	KeyDelayRequest:  "50ms",
	KeyMinMaxAge:     "1.5s",
	KeyStoreSize:     128,
	KeyMatchRoutes:   []string{},
	KeyMatchIPs:      []string{},
	KeyLoggingLevel:  "info",
	KeyLoggingSubsys: loggingSubsysBase,
}

// DefaultKeys lists every key that has a default.
func DefaultKeys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func setDefaults(manager *ConfigManager) {
	for key, value := range defaults {
		manager.SetDefault(key, value)
	}
}

func addValidators(manager *ConfigManager) {
	manager.AddValidator(KeyDelayIdle, &DurationValidator{Min: time.Millisecond, Max: time.Minute})
	manager.AddValidator(KeyDelayRequest, &DurationValidator{Min: time.Millisecond, Max: time.Minute})
	manager.AddValidator(KeyMinMaxAge, &DurationValidator{Min: 0})
	manager.AddValidator(KeyStoreSize, &RangeValidator{Min: 1, Max: 1 << 20})
	manager.AddValidator(KeyMatchRoutes, &RegexpListValidator{})
	manager.AddValidator(KeyLoggingLevel, &RequiredValidator{})
	manager.AddValidator(KeyLoggingLevel, &EnumValidator{
		Allowed: []interface{}{"debug", "info", "warn", "error", "dpanic", "panic", "fatal"},
	})
	if subsys, err := NewPatternValidator(`^[a-zA-Z0-9_./*\-]+$`); err == nil {
		manager.AddValidator(KeyLoggingSubsys, subsys)
	}
}

// Options tune Load.
type Options struct {
	Paths     []string
	Overrides map[string]interface{}
	Logger    Logger
}

// Load builds a manager with the spanwatch defaults, a file source over
// opts.Paths, the SPANWATCH_ environment and opts.Overrides, and loads it.
func Load(ctx context.Context, opts Options) (*ConfigManager, error) {
	manager := NewConfigManager(opts.Logger)
	setDefaults(manager)
	addValidators(manager)

	if len(opts.Paths) > 0 {
		manager.AddSource(NewFileSource(opts.Paths, PriorityFile))
	}
	manager.AddSource(NewEnvironmentSource(EnvPrefix, PriorityEnvironment, DefaultKeys()...))
	if len(opts.Overrides) > 0 {
		manager.AddSource(NewFlagSource(opts.Overrides, PriorityFlag))
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := manager.Load(ctx); err != nil {
		return nil, err
	}
	return manager, nil
}

// ProfilerConfig is the typed view of the profiler.* keys.
type ProfilerConfig struct {
	Enabled       bool          `json:"enabled"`
	CollectConfig bool          `json:"collect_config"`
	Monitoring    bool          `json:"monitoring"`
	DelayIdle     time.Duration `json:"delay_idle"`
	DelayRequest  time.Duration `json:"delay_request"`
	MinMaxAge     time.Duration `json:"min_max_age"`
	StoreSize     int           `json:"store_size"`
	Routes        []string      `json:"routes"`
	IPs           []string      `json:"ips"`
}

// DefaultProfilerConfig matches the built-in defaults.
func DefaultProfilerConfig() ProfilerConfig {
	return ProfilerConfig{
		Enabled:       true,
		CollectConfig: true,
		Monitoring:    true,
		DelayIdle:     time.Second,
		DelayRequest:  50 * time.Millisecond,
		MinMaxAge:     1500 * time.Millisecond,
		StoreSize:     128,
	}
}

// Profiler reads the profiler view from m. Keys that are missing or fail to
// convert keep their default.
func Profiler(m *ConfigManager) ProfilerConfig {
	cfg := DefaultProfilerConfig()
	if m == nil {
		return cfg
	}
	if v, err := m.GetBool(KeyEnabled); err == nil {
		cfg.Enabled = v
	}
	if v, err := m.GetBool(KeyCollectConfig); err == nil {
		cfg.CollectConfig = v
	}
	if v, err := m.GetBool(KeyMonitoring); err == nil {
		cfg.Monitoring = v
	}
	if v, err := m.GetDuration(KeyDelayIdle); err == nil {
		cfg.DelayIdle = v
	}
	if v, err := m.GetDuration(KeyDelayRequest); err == nil {
		cfg.DelayRequest = v
	}
	if v, err := m.GetDuration(KeyMinMaxAge); err == nil {
		cfg.MinMaxAge = v
	}
	if v, err := m.GetInt(KeyStoreSize); err == nil && v > 0 {
		cfg.StoreSize = v
	}
	if v, err := m.GetStringSlice(KeyMatchRoutes); err == nil {
		cfg.Routes = v
	}
	if v, err := m.GetStringSlice(KeyMatchIPs); err == nil {
		cfg.IPs = v
	}
	return cfg
}

// ApplyLogging sets the level of the spanwatch loggers from logging.level
// and keeps following the key.
func ApplyLogging(m *ConfigManager) error {
	apply := func() error {
		level, err := m.GetString(KeyLoggingLevel)
		if err != nil {
			return err
		}
		subsys, err := m.GetString(KeyLoggingSubsys)
		if err != nil || subsys == "" {
			subsys = loggingSubsysBase
		}
		if err := logging.SetLogLevelRegex(subsys, level); err != nil {
			return fmt.Errorf("set log level %q: %w", level, err)
		}
		return nil
	}
	if err := apply(); err != nil {
		return err
	}
	m.AddWatcher(KeyLoggingLevel, WatcherFunc(func(ConfigChange) {
		if err := apply(); err != nil {
			log.Warnw("failed to apply log level", "error", err)
		}
	}))
	return nil
}
