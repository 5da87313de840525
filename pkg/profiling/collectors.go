package profiling

import (
	"context"
	"fmt"

	"spanwatch/pkg/config"
	"spanwatch/pkg/extract"
	"spanwatch/pkg/stopwatch"
	"spanwatch/pkg/timeline"
)

// Built-in collector names.
const (
	CollectorStopwatch = "stopwatch"
	CollectorTimeline  = "timeline"
	CollectorConfig    = "config"
)

// StopwatchData is what the stopwatch collector produces.
type StopwatchData struct {
	// Tree is the extracted slice of the shared tree.
	Tree       *stopwatch.Tree         `json:"-"`
	Record     stopwatch.SectionRecord `json:"record"`
	Extraction extract.Result          `json:"extraction"`
}

// StopwatchCollector pulls the unit's timings out of the shared tree.
type StopwatchCollector struct {
	extractor *extract.Extractor
}

func NewStopwatchCollector(x *extract.Extractor) *StopwatchCollector {
	if x == nil {
		x = extract.New()
	}
	return &StopwatchCollector{extractor: x}
}

func (c *StopwatchCollector) Name() string        { return CollectorStopwatch }
func (c *StopwatchCollector) Enabled() bool       { return true }
func (c *StopwatchCollector) DependsOn() []string { return nil }

func (c *StopwatchCollector) Collect(ctx context.Context, cc *CollectContext) (interface{}, error) {
	p := cc.Profiler
	tree, res := c.extractor.Extract(ctx, p.tree, cc.Unit.ID, cc.Unit.Window(), p.MaxAge())
	return &StopwatchData{
		Tree:       tree,
		Record:     tree.Record(),
		Extraction: res,
	}, nil
}

// TimelineCollector flattens the stopwatch result into a sorted list.
type TimelineCollector struct{}

func (TimelineCollector) Name() string        { return CollectorTimeline }
func (TimelineCollector) Enabled() bool       { return true }
func (TimelineCollector) DependsOn() []string { return []string{CollectorStopwatch} }

func (TimelineCollector) Collect(_ context.Context, cc *CollectContext) (interface{}, error) {
	v, ok := cc.Result(CollectorStopwatch)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDependencyMissing, CollectorStopwatch)
	}
	data, ok := v.(*StopwatchData)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result %T", CollectorStopwatch, v)
	}
	return timeline.Flatten(data.Record), nil
}

// Setting is one configuration key as the config collector reports it.
type Setting struct {
	Key    string      `json:"key"`
	Value  interface{} `json:"value"`
	Source string      `json:"source"`
}

// ConfigCollector snapshots the configuration the unit ran under.
type ConfigCollector struct {
	manager *config.ConfigManager
	enabled func() bool
}

// NewConfigCollector reports m while enabled returns true. A nil enabled
// means always.
func NewConfigCollector(m *config.ConfigManager, enabled func() bool) *ConfigCollector {
	return &ConfigCollector{manager: m, enabled: enabled}
}

func (c *ConfigCollector) Name() string        { return CollectorConfig }
func (c *ConfigCollector) DependsOn() []string { return nil }

func (c *ConfigCollector) Enabled() bool {
	if c.manager == nil {
		return false
	}
	return c.enabled == nil || c.enabled()
}

func (c *ConfigCollector) Collect(context.Context, *CollectContext) (interface{}, error) {
	keys := c.manager.Keys()
	out := make([]Setting, 0, len(keys))
	for _, k := range keys {
		v, ok := c.manager.Lookup(k)
		if !ok {
			continue
		}
		out = append(out, Setting{Key: k, Value: v.Value, Source: v.Source.String()})
	}
	return out, nil
}
