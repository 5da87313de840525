package config

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cast"
)

var log = logging.Logger("spanwatch/config")

type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// AnyKey registers a watcher for every key.
const AnyKey = "*"

type ConfigManager struct {
	sources    []ConfigSource
	values     map[string]*ConfigValue
	defaults   map[string]interface{}
	validators map[string][]ConfigValidator
	watchers   map[string][]ConfigWatcher
	mu         sync.RWMutex
	reloadMu   sync.Mutex
	onChange   chan ConfigChange
	loaded     bool
	logger     Logger
}

// NewConfigManager returns an empty manager. A nil logger selects the
// package logger.
func NewConfigManager(logger Logger) *ConfigManager {
	if logger == nil {
		logger = log
	}
	return &ConfigManager{
		sources:    make([]ConfigSource, 0),
		values:     make(map[string]*ConfigValue),
		defaults:   make(map[string]interface{}),
		validators: make(map[string][]ConfigValidator),
		watchers:   make(map[string][]ConfigWatcher),
		onChange:   make(chan ConfigChange, 100),
		logger:     logger,
	}
}

// AddSource keeps sources ordered by ascending priority, so later sources
// override earlier ones when applied in order.
func (m *ConfigManager) AddSource(source ConfigSource) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sources = append(m.sources, source)
	sort.SliceStable(m.sources, func(i, j int) bool {
		return m.sources[i].Priority() < m.sources[j].Priority()
	})
}

func (m *ConfigManager) SetDefault(key string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults[key] = value
}

func (m *ConfigManager) AddValidator(key string, validator ConfigValidator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validators[key] = append(m.validators[key], validator)
}

// AddWatcher registers w for changes of key, or of every key with AnyKey.
func (m *ConfigManager) AddWatcher(key string, watcher ConfigWatcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers[key] = append(m.watchers[key], watcher)
}

// Load reads defaults and every source, then validates the result. A source
// that fails to load is logged and skipped. On validation failure the
// previous values are kept.
func (m *ConfigManager) Load(ctx context.Context) error {
	_, err := m.reload(ctx)
	return err
}

// Reload is Load followed by change notification for every key whose value
// differs from before.
func (m *ConfigManager) Reload(ctx context.Context) ([]ConfigChange, error) {
	changes, err := m.reload(ctx)
	if err != nil {
		return nil, err
	}
	for _, change := range changes {
		m.notifyWatchers(change)
	}
	return changes, nil
}

func (m *ConfigManager) reload(ctx context.Context) ([]ConfigChange, error) {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	m.mu.RLock()
	sources := append([]ConfigSource(nil), m.sources...)
	defaults := make(map[string]interface{}, len(m.defaults))
	for k, v := range m.defaults {
		defaults[k] = v
	}
	m.mu.RUnlock()

	now := time.Now()
	values := make(map[string]*ConfigValue, len(defaults))
	for key, value := range defaults {
		values[key] = &ConfigValue{
			Value:     value,
			Source:    SourceDefault,
			IsDefault: true,
			Timestamp: now,
		}
	}

	for _, source := range sources {
		config, err := source.Load(ctx)
		if err != nil {
			m.logger.Warnw("failed to load from source", "source", source.Name(), "error", err)
			continue
		}
		flat := make(map[string]interface{})
		flatten("", config, flat)
		for key, value := range flat {
			values[key] = &ConfigValue{
				Value:     value,
				Source:    source.Type(),
				Priority:  source.Priority(),
				Timestamp: now,
			}
		}
	}

	m.mu.RLock()
	err := m.validateAll(values)
	m.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	m.mu.Lock()
	old := m.values
	m.values = values
	m.loaded = true
	m.mu.Unlock()

	return diff(old, values, now), nil
}

func diff(old, cur map[string]*ConfigValue, now time.Time) []ConfigChange {
	var changes []ConfigChange
	for key, v := range cur {
		prev, ok := old[key]
		if ok && reflect.DeepEqual(prev.Value, v.Value) {
			continue
		}
		change := ConfigChange{Key: key, NewValue: v.Value, Source: v.Source, Timestamp: now}
		if ok {
			change.OldValue = prev.Value
		}
		changes = append(changes, change)
	}
	for key, prev := range old {
		if _, ok := cur[key]; !ok {
			changes = append(changes, ConfigChange{Key: key, OldValue: prev.Value, Timestamp: now})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Key < changes[j].Key })
	return changes
}

// Validate runs the validators against the currently loaded values.
func (m *ConfigManager) Validate() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.validateAll(m.values)
}

func (m *ConfigManager) validateAll(values map[string]*ConfigValue) error {
	var result *multierror.Error

	keys := make([]string, 0, len(m.validators))
	for key := range m.validators {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		var value interface{}
		if v, ok := values[key]; ok {
			value = v.Value
		}
		for _, validator := range m.validators[key] {
			if _, required := validator.(*RequiredValidator); value == nil && !required {
				continue
			}
			if err := validator.Validate(key, value); err != nil {
				result = multierror.Append(result, &ConfigError{
					Key:     key,
					Message: "validation failed",
					Err:     err,
				})
			}
		}
	}
	return result.ErrorOrNil()
}

// Start watches every source and reloads on change until ctx is done.
func (m *ConfigManager) Start(ctx context.Context) error {
	m.mu.RLock()
	sources := append([]ConfigSource(nil), m.sources...)
	m.mu.RUnlock()

	for _, source := range sources {
		name := source.Name()
		err := source.Watch(ctx, func() {
			changes, err := m.Reload(ctx)
			if err != nil {
				m.logger.Errorw("reload failed", "source", name, "error", err)
				return
			}
			m.logger.Infow("configuration reloaded", "source", name, "changes", len(changes))
		})
		if err != nil {
			return fmt.Errorf("watch source %s: %w", name, err)
		}
	}
	return nil
}

func (m *ConfigManager) notifyWatchers(change ConfigChange) {
	m.mu.RLock()
	watchers := append(append([]ConfigWatcher(nil), m.watchers[change.Key]...), m.watchers[AnyKey]...)
	m.mu.RUnlock()
	for _, watcher := range watchers {
		watcher.OnConfigChange(change)
	}

	select {
	case m.onChange <- change:
	default:
		m.logger.Warnw("config change channel full, dropping change", "key", change.Key)
	}
}

// Watch delivers every change seen by Reload. Changes are dropped while the
// channel is full.
func (m *ConfigManager) Watch() <-chan ConfigChange {
	return m.onChange
}

func (m *ConfigManager) Get(key string) (interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.loaded {
		return nil, ErrNotLoaded
	}
	if v, ok := m.values[key]; ok {
		return v.Value, nil
	}
	// a prefix of stored keys reads as a nested map
	sub := make(map[string]interface{})
	prefix := key + "."
	for k, v := range m.values {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			setNestedValue(sub, k[len(prefix):], v.Value)
		}
	}
	if len(sub) > 0 {
		return sub, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
}

// Lookup returns the stored value with its origin.
func (m *ConfigManager) Lookup(key string) (ConfigValue, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return ConfigValue{}, false
	}
	return *v, true
}

func (m *ConfigManager) GetString(key string) (string, error) {
	v, err := m.Get(key)
	if err != nil {
		return "", err
	}
	return cast.ToStringE(v)
}

func (m *ConfigManager) GetInt(key string) (int, error) {
	v, err := m.Get(key)
	if err != nil {
		return 0, err
	}
	return cast.ToIntE(v)
}

func (m *ConfigManager) GetFloat64(key string) (float64, error) {
	v, err := m.Get(key)
	if err != nil {
		return 0, err
	}
	return cast.ToFloat64E(v)
}

func (m *ConfigManager) GetBool(key string) (bool, error) {
	v, err := m.Get(key)
	if err != nil {
		return false, err
	}
	return cast.ToBoolE(v)
}

// GetDuration reads duration strings, or plain numbers as milliseconds.
func (m *ConfigManager) GetDuration(key string) (time.Duration, error) {
	v, err := m.Get(key)
	if err != nil {
		return 0, err
	}
	return toDuration(v)
}

func (m *ConfigManager) GetStringSlice(key string) ([]string, error) {
	v, err := m.Get(key)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok {
		if s == "" {
			return nil, nil
		}
		return []string{s}, nil
	}
	return cast.ToStringSliceE(v)
}

// Keys lists every loaded key in sorted order.
func (m *ConfigManager) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AllSettings returns the loaded values as flat dotted keys.
func (m *ConfigManager) AllSettings() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]interface{}, len(m.values))
	for k, v := range m.values {
		out[k] = v.Value
	}
	return out
}
