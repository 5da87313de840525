package profiling

import (
	"context"
	"fmt"
	"sync"
)

// Collector gathers one kind of data about a finished unit of work.
type Collector interface {
	Name() string
	Enabled() bool
	// DependsOn names collectors whose results this one reads.
	DependsOn() []string
	Collect(ctx context.Context, cc *CollectContext) (interface{}, error)
}

// CollectContext is handed to every collector of one unit.
type CollectContext struct {
	Unit     *Unit
	Profiler *Profiler

	mu      sync.RWMutex
	results map[string]interface{}
}

func newCollectContext(u *Unit, p *Profiler) *CollectContext {
	return &CollectContext{
		Unit:     u,
		Profiler: p,
		results:  make(map[string]interface{}),
	}
}

// Result returns what an earlier collector produced.
func (cc *CollectContext) Result(name string) (interface{}, bool) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	v, ok := cc.results[name]
	return v, ok
}

func (cc *CollectContext) set(name string, v interface{}) {
	cc.mu.Lock()
	cc.results[name] = v
	cc.mu.Unlock()
}

type collectorInfo struct {
	collector Collector
	priority  int
}

// CollectorRegistry keeps the collectors and the order they run in.
type CollectorRegistry struct {
	mu         sync.RWMutex
	collectors map[string]*collectorInfo
	order      []string
	dirty      bool
	logger     Logger
}

func NewCollectorRegistry(logger Logger) *CollectorRegistry {
	if logger == nil {
		logger = log
	}
	return &CollectorRegistry{
		collectors: make(map[string]*collectorInfo),
		logger:     logger,
	}
}

// Register adds c. Lower priorities run first among collectors that do not
// depend on each other.
func (r *CollectorRegistry) Register(c Collector, priority int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, exists := r.collectors[name]; exists {
		return fmt.Errorf("%w: %s", ErrCollectorExists, name)
	}
	r.collectors[name] = &collectorInfo{collector: c, priority: priority}
	r.dirty = true

	r.logger.Debugw("collector registered", "collector", name, "priority", priority)
	return nil
}

func (r *CollectorRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.collectors[name]; !exists {
		return fmt.Errorf("%w: %s", ErrCollectorNotFound, name)
	}
	delete(r.collectors, name)
	r.dirty = true
	return nil
}

func (r *CollectorRegistry) Get(name string) (Collector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, exists := r.collectors[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectorNotFound, name)
	}
	return info.collector, nil
}

// Resolve computes the run order: dependencies first, then priority, then
// name.
func (r *CollectorRegistry) Resolve() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked()
}

func (r *CollectorRegistry) resolveLocked() ([]string, error) {
	if !r.dirty && r.order != nil {
		return append([]string(nil), r.order...), nil
	}
	graph := newDependencyGraph()
	for name, info := range r.collectors {
		graph.add(name, info.priority, info.collector.DependsOn())
	}
	order, err := graph.order()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve collectors: %w", err)
	}
	r.order = order
	r.dirty = false
	r.logger.Debugw("collectors resolved", "order", order)
	return append([]string(nil), order...), nil
}

// Ordered returns the collectors in run order.
func (r *CollectorRegistry) Ordered() ([]Collector, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, err := r.resolveLocked()
	if err != nil {
		return nil, err
	}
	out := make([]Collector, 0, len(order))
	for _, name := range order {
		out = append(out, r.collectors[name].collector)
	}
	return out, nil
}
