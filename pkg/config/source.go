package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

type ConfigSource interface {
	Name() string
	Type() SourceType
	Load(ctx context.Context) (map[string]interface{}, error)
	// Watch calls onChange whenever the source may hold new values. Sources
	// that never change return nil right away.
	Watch(ctx context.Context, onChange func()) error
	Priority() int
}

type FileSource struct {
	paths    []string
	priority int
	watcher  *FileWatcher
	lastLoad time.Time
}

func NewFileSource(paths []string, priority int) *FileSource {
	return &FileSource{
		paths:    paths,
		priority: priority,
	}
}

func (f *FileSource) Name() string { return "file" }

func (f *FileSource) Type() SourceType { return SourceFile }

func (f *FileSource) Priority() int { return f.priority }

// Load reads every path in order, later files overriding earlier ones.
// Missing files are skipped.
func (f *FileSource) Load(ctx context.Context) (map[string]interface{}, error) {
	result := make(map[string]interface{})

	for _, path := range f.paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read file %s: %w", path, err)
		}
		format, err := FormatFor(path)
		if err != nil {
			return nil, fmt.Errorf("file %s: %w", path, err)
		}
		config, err := format.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal file %s: %w", path, err)
		}
		result = mergeMaps(result, config)
	}
	f.lastLoad = time.Now()
	return result, nil
}

func (f *FileSource) Watch(ctx context.Context, onChange func()) error {
	if f.watcher == nil {
		w, err := NewFileWatcher()
		if err != nil {
			return err
		}
		f.watcher = w
	}
	for _, path := range f.paths {
		if err := f.watcher.Watch(path, onChange); err != nil {
			return fmt.Errorf("failed to watch file %s: %w", path, err)
		}
	}
	go func() {
		<-ctx.Done()
		f.watcher.Close()
	}()
	return nil
}

// EnvironmentSource reads PREFIX_SECTION_KEY variables for a fixed set of
// keys. "profiler.store.size" is read from SPANWATCH_PROFILER_STORE_SIZE.
type EnvironmentSource struct {
	prefix   string
	priority int
	keys     []string
}

func NewEnvironmentSource(prefix string, priority int, keys ...string) *EnvironmentSource {
	return &EnvironmentSource{
		prefix:   prefix,
		priority: priority,
		keys:     keys,
	}
}

func (e *EnvironmentSource) Name() string { return "environment" }

func (e *EnvironmentSource) Type() SourceType { return SourceEnvironment }

func (e *EnvironmentSource) Priority() int { return e.priority }

// EnvName is the variable a key is read from.
func (e *EnvironmentSource) EnvName(key string) string {
	return e.prefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func (e *EnvironmentSource) Load(ctx context.Context) (map[string]interface{}, error) {
	result := make(map[string]interface{})
	for _, key := range e.keys {
		value, ok := os.LookupEnv(e.EnvName(key))
		if !ok {
			continue
		}
		setNestedValue(result, key, parseEnvValue(value))
	}
	return result, nil
}

func (e *EnvironmentSource) Watch(ctx context.Context, onChange func()) error {
	return nil
}

// FlagSource holds values given on the command line as flat keys.
type FlagSource struct {
	args     map[string]interface{}
	priority int
}

func NewFlagSource(args map[string]interface{}, priority int) *FlagSource {
	return &FlagSource{
		args:     args,
		priority: priority,
	}
}

// ParseFlagValues turns key=value pairs into flag source values.
func ParseFlagValues(pairs []string) (map[string]interface{}, error) {
	args := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid override %q, expected key=value", pair)
		}
		args[key] = parseEnvValue(value)
	}
	return args, nil
}

func (f *FlagSource) Name() string { return "flag" }

func (f *FlagSource) Type() SourceType { return SourceFlag }

func (f *FlagSource) Priority() int { return f.priority }

func (f *FlagSource) Load(ctx context.Context) (map[string]interface{}, error) {
	result := make(map[string]interface{})
	for key, value := range f.args {
		setNestedValue(result, key, value)
	}
	return result, nil
}

func (f *FlagSource) Watch(ctx context.Context, onChange func()) error {
	return nil
}

// parseEnvValue accepts JSON scalars and arrays, and falls back to the raw
// string.
func parseEnvValue(value string) interface{} {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return value
	}
	var parsed interface{}
	if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
		if _, isObject := parsed.(map[string]interface{}); isObject {
			return value
		}
		return parsed
	}
	if strings.Contains(trimmed, ",") {
		parts := strings.Split(trimmed, ",")
		out := make([]interface{}, 0, len(parts))
		for _, p := range parts {
			out = append(out, strings.TrimSpace(p))
		}
		return out
	}
	return value
}

func setNestedValue(m map[string]interface{}, key string, value interface{}) {
	parts := strings.Split(key, ".")
	cur := m
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

func mergeMaps(dst, src map[string]interface{}) map[string]interface{} {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]interface{})
		dstMap, dstIsMap := dst[k].(map[string]interface{})
		if srcIsMap && dstIsMap {
			dst[k] = mergeMaps(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
	return dst
}

// flatten turns nested maps into dotted keys. Lists stay values.
func flatten(prefix string, value interface{}, out map[string]interface{}) {
	m, ok := value.(map[string]interface{})
	if !ok {
		if prefix != "" {
			out[prefix] = value
		}
		return
	}
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		flatten(key, v, out)
	}
}
