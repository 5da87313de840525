package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"spanwatch/pkg/stopwatch"
	"spanwatch/pkg/timeline"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spanwatch.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"profiler":{"store":{"size":16}}}`), 0o644))

	out, err := execute(t, "--config", path, "config", "get", "profiler.store.size", "-o", "json")
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, float64(16), got["profiler.store.size"])

	out, err = execute(t, "--set", "profiler.store.size=32", "config", "get", "profiler.store")
	require.NoError(t, err)
	require.Contains(t, out, "32")

	_, err = execute(t, "config", "get", "no.such.key")
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	out, err := execute(t, "config", "validate")
	require.NoError(t, err)
	require.Contains(t, out, "Configuration is valid")

	_, err = execute(t, "--set", "logging.level=loud", "config", "validate")
	require.Error(t, err)

	_, err = execute(t, "--set", "broken", "config", "validate")
	require.Error(t, err)
}

func TestDemo(t *testing.T) {
	out, err := execute(t, "demo", "--units", "2", "--work", "1ms", "--spacing", "0s")
	require.NoError(t, err)
	require.Contains(t, out, "GET /demo/0")
	require.Contains(t, out, "GET /demo/1")
	require.Contains(t, out, "render")
	require.Contains(t, out, "FAMILY")

	out, err = execute(t, "demo", "-n", "1", "--work", "1ms", "-o", "json")
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got["profiles"], 1)

	_, err = execute(t, "demo", "--units", "0")
	require.Error(t, err)
}

func TestPrintTimelineNamesSections(t *testing.T) {
	entries := timeline.Flatten(stopwatch.SectionRecord{Sections: []stopwatch.SectionRecord{{
		ID:   1,
		Name: "GET /users",
		Events: []stopwatch.EventRecord{
			{ID: 2, Name: "handler", Category: "controller", Periods: []stopwatch.Period{{Start: 100, End: 600}}},
			{ID: 3, Name: "collector", Category: "profiler", Periods: []stopwatch.Period{{Start: 600}}},
		},
	}}})

	var out bytes.Buffer
	printTimeline(&out, 100, entries)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)

	section := strings.Fields(lines[1])
	require.Equal(t, []string{"0", "section", "GET", "/users", "section", "+0us", "500us", "running"}, section)
	require.Equal(t, []string{"1", "event", "handler", "controller", "+0us", "500us"}, strings.Fields(lines[2]))
	require.Equal(t, []string{"2", "event", "collector", "profiler", "+500us", "0us", "running"}, strings.Fields(lines[3]))
}
