package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	m, err := Load(context.Background(), Options{})
	require.NoError(t, err)

	cfg := Profiler(m)
	require.Equal(t, DefaultProfilerConfig().DelayIdle, cfg.DelayIdle)
	require.Equal(t, 50*time.Millisecond, cfg.DelayRequest)
	require.Equal(t, 1500*time.Millisecond, cfg.MinMaxAge)
	require.Equal(t, 128, cfg.StoreSize)
	require.True(t, cfg.Enabled)
	require.Empty(t, cfg.Routes)

	v, ok := m.Lookup(KeyStoreSize)
	require.True(t, ok)
	require.True(t, v.IsDefault)
	require.Equal(t, SourceDefault, v.Source)
}

func TestLoadLayers(t *testing.T) {
	dir := t.TempDir()
	yamlPath := writeFile(t, dir, "spanwatch.yaml", `
profiler:
  enabled: true
  store:
    size: 16
  monitoring:
    delay_idle: 2s
  matchers:
    routes: ["^/api/", "^/admin"]
logging:
  level: debug
`)
	jsonPath := writeFile(t, dir, "override.json", `{"profiler": {"store": {"size": 32}}}`)

	t.Setenv("SPANWATCH_PROFILER_MONITORING_DELAY_REQUEST", "10ms")
	t.Setenv("SPANWATCH_PROFILER_MATCHERS_IPS", "10.0.0.1, 10.0.0.2")

	m, err := Load(context.Background(), Options{
		Paths:     []string{yamlPath, jsonPath, filepath.Join(dir, "missing.yaml")},
		Overrides: map[string]interface{}{KeyCollectConfig: false},
	})
	require.NoError(t, err)

	cfg := Profiler(m)
	assert.Equal(t, 32, cfg.StoreSize)
	assert.Equal(t, 2*time.Second, cfg.DelayIdle)
	assert.Equal(t, 10*time.Millisecond, cfg.DelayRequest)
	assert.Equal(t, []string{"^/api/", "^/admin"}, cfg.Routes)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.IPs)
	assert.False(t, cfg.CollectConfig)

	level, err := m.GetString(KeyLoggingLevel)
	require.NoError(t, err)
	assert.Equal(t, "debug", level)

	v, _ := m.Lookup(KeyDelayRequest)
	assert.Equal(t, SourceEnvironment, v.Source)
	v, _ = m.Lookup(KeyStoreSize)
	assert.Equal(t, SourceFile, v.Source)
	v, _ = m.Lookup(KeyCollectConfig)
	assert.Equal(t, SourceFlag, v.Source)
}

func TestValidationAggregatesErrors(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.yaml", `
profiler:
  store:
    size: 0
  monitoring:
    delay_idle: soon
logging:
  level: loud
`)
	_, err := Load(context.Background(), Options{Paths: []string{path}})
	require.Error(t, err)

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	require.Len(t, merr.Errors, 3)

	var cerr *ConfigError
	require.True(t, errors.As(merr.Errors[0], &cerr))
	keys := []string{}
	for _, e := range merr.Errors {
		var ce *ConfigError
		require.True(t, errors.As(e, &ce))
		keys = append(keys, ce.Key)
	}
	assert.Equal(t, []string{KeyLoggingLevel, KeyDelayIdle, KeyStoreSize}, keys)
}

func TestGetErrors(t *testing.T) {
	m := NewConfigManager(nil)
	_, err := m.Get("a")
	require.ErrorIs(t, err, ErrNotLoaded)

	m.SetDefault("a.b", 1)
	m.SetDefault("a.c", "x")
	require.NoError(t, m.Load(context.Background()))

	_, err = m.Get("missing")
	require.ErrorIs(t, err, ErrKeyNotFound)

	sub, err := m.Get("a")
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"b": 1, "c": "x"}, sub)

	_, err = m.GetInt("a.c")
	require.Error(t, err)
	require.Equal(t, []string{"a.b", "a.c"}, m.Keys())
}

func TestReloadDiffsAndNotifies(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cfg.json", `{"profiler": {"store": {"size": 8}}}`)

	m := NewConfigManager(nil)
	m.SetDefault(KeyStoreSize, 128)
	m.SetDefault(KeyEnabled, true)
	m.AddSource(NewFileSource([]string{path}, PriorityFile))
	require.NoError(t, m.Load(context.Background()))

	var keyed, all []ConfigChange
	m.AddWatcher(KeyStoreSize, WatcherFunc(func(c ConfigChange) { keyed = append(keyed, c) }))
	m.AddWatcher(AnyKey, WatcherFunc(func(c ConfigChange) { all = append(all, c) }))

	writeFile(t, dir, "cfg.json", `{"profiler": {"store": {"size": 9}, "extra": "x"}}`)
	changes, err := m.Reload(context.Background())
	require.NoError(t, err)
	require.Len(t, changes, 2)
	require.Equal(t, "profiler.extra", changes[0].Key)
	require.Equal(t, KeyStoreSize, changes[1].Key)
	require.EqualValues(t, 8, changes[1].OldValue)
	require.EqualValues(t, 9, changes[1].NewValue)

	require.Len(t, keyed, 1)
	require.Len(t, all, 2)

	select {
	case c := <-m.Watch():
		require.Equal(t, "profiler.extra", c.Key)
	default:
		t.Fatal("expected a change on the watch channel")
	}

	changes, err = m.Reload(context.Background())
	require.NoError(t, err)
	require.Empty(t, changes)
}

func TestFailedReloadKeepsValues(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cfg.yaml", "profiler:\n  store:\n    size: 4\n")
	m := NewConfigManager(nil)
	m.AddValidator(KeyStoreSize, &RangeValidator{Min: 1, Max: 10})
	m.AddSource(NewFileSource([]string{path}, PriorityFile))
	require.NoError(t, m.Load(context.Background()))

	writeFile(t, dir, "cfg.yaml", "profiler:\n  store:\n    size: 40\n")
	_, err := m.Reload(context.Background())
	require.Error(t, err)

	size, err := m.GetInt(KeyStoreSize)
	require.NoError(t, err)
	require.Equal(t, 4, size)
}

func TestFileWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "live.yaml", "profiler:\n  store:\n    size: 4\n")

	m := NewConfigManager(nil)
	m.AddSource(NewFileSource([]string{path}, PriorityFile))
	require.NoError(t, m.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))

	writeFile(t, dir, "live.yaml", "profiler:\n  store:\n    size: 5\n")

	select {
	case c := <-m.Watch():
		require.Equal(t, KeyStoreSize, c.Key)
		require.EqualValues(t, 5, c.NewValue)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after file change")
	}
}

func TestUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "cfg.toml", "a = 1")
	_, err := NewFileSource([]string{path}, PriorityFile).Load(context.Background())
	require.Error(t, err)

	f, err := FormatFor("x.YML")
	require.NoError(t, err)
	require.Equal(t, "yaml", f.Name())

	f, err = FormatByName("JSON")
	require.NoError(t, err)
	out, err := f.Marshal(map[string]interface{}{"a": 1})
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(out))
	_, err = FormatByName("toml")
	require.Error(t, err)
}

func TestParseFlagValues(t *testing.T) {
	args, err := ParseFlagValues([]string{"profiler.enabled=false", "profiler.store.size=3", "logging.level=warn"})
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{
		"profiler.enabled":    false,
		"profiler.store.size": float64(3),
		"logging.level":       "warn",
	}, args)

	_, err = ParseFlagValues([]string{"novalue"})
	require.Error(t, err)
}

func TestValidators(t *testing.T) {
	tests := []struct {
		name      string
		validator ConfigValidator
		value     interface{}
		wantErr   bool
	}{
		{"range ok", &RangeValidator{Min: 1, Max: 5}, 3, false},
		{"range string number", &RangeValidator{Min: 1, Max: 5}, "4", false},
		{"range out", &RangeValidator{Min: 1, Max: 5}, 6.5, true},
		{"range not number", &RangeValidator{Min: 1, Max: 5}, "many", true},
		{"duration string", &DurationValidator{Min: time.Millisecond}, "20ms", false},
		{"duration millis", &DurationValidator{Min: time.Millisecond, Max: time.Second}, 500, false},
		{"duration too long", &DurationValidator{Max: time.Second}, "2s", true},
		{"duration bad", &DurationValidator{}, true, true},
		{"enum ok", &EnumValidator{Allowed: []interface{}{"a", "b"}}, "b", false},
		{"enum bad", &EnumValidator{Allowed: []interface{}{"a", "b"}}, "c", true},
		{"required empty", &RequiredValidator{}, "", true},
		{"required nil", &RequiredValidator{}, nil, true},
		{"required blank", &RequiredValidator{}, "  ", true},
		{"required empty list", &RequiredValidator{}, []interface{}{}, true},
		{"enum any case", &EnumValidator{Allowed: []interface{}{"info"}}, "INFO", false},
		{"enum number", &EnumValidator{Allowed: []interface{}{1, 2}}, 2, false},
		{"regexp list ok", &RegexpListValidator{}, []interface{}{"^/a", "b$"}, false},
		{"regexp list bad", &RegexpListValidator{}, []string{"("}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.validator.Validate("k", tt.value)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}

	pv, err := NewPatternValidator(`^[a-z]+$`)
	require.NoError(t, err)
	require.NoError(t, pv.Validate("k", "abc"))
	require.Error(t, pv.Validate("k", "ABC"))
	require.Error(t, pv.Validate("k", 3))
	_, err = NewPatternValidator("(")
	require.Error(t, err)
}

func TestApplyLogging(t *testing.T) {
	m, err := Load(context.Background(), Options{Overrides: map[string]interface{}{KeyLoggingLevel: "warn"}})
	require.NoError(t, err)
	require.NoError(t, ApplyLogging(m))
}
