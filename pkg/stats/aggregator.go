// Package stats keeps online mean/max/mode statistics over scalar samples.
package stats

import (
	"sort"
	"sync"
)

// Well known metric families.
const (
	Duration = "duration"
	CPU      = "cpu"
	Memory   = "memory"
)

// Aggregator owns one Accumulator per metric family. A process builds one and
// hands it to every collaborator that records samples.
type Aggregator struct {
	mu       sync.RWMutex
	families map[string]*Accumulator
}

// NewAggregator returns an aggregator with the well known families and any
// extra ones already registered.
func NewAggregator(extra ...string) *Aggregator {
	ag := &Aggregator{families: make(map[string]*Accumulator)}
	for _, name := range append([]string{Duration, CPU, Memory}, extra...) {
		ag.families[name] = NewAccumulator()
	}
	return ag
}

// Family returns the accumulator for name, creating it on first use.
func (ag *Aggregator) Family(name string) *Accumulator {
	ag.mu.RLock()
	acc, ok := ag.families[name]
	ag.mu.RUnlock()
	if ok {
		return acc
	}

	ag.mu.Lock()
	defer ag.mu.Unlock()
	if acc, ok = ag.families[name]; ok {
		return acc
	}
	acc = NewAccumulator()
	ag.families[name] = acc
	return acc
}

func (ag *Aggregator) Record(family string, v float64) bool {
	return ag.Family(family).Record(v)
}

func (ag *Aggregator) RecordAny(family string, v interface{}) bool {
	return ag.Family(family).RecordAny(v)
}

// Names lists the families in sorted order.
func (ag *Aggregator) Names() []string {
	ag.mu.RLock()
	defer ag.mu.RUnlock()
	names := make([]string, 0, len(ag.families))
	for name := range ag.families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (ag *Aggregator) Snapshot() map[string]Summary {
	ag.mu.RLock()
	defer ag.mu.RUnlock()
	out := make(map[string]Summary, len(ag.families))
	for name, acc := range ag.families {
		out[name] = acc.Snapshot()
	}
	return out
}

// Reset clears every family but keeps them registered, so accumulators
// already handed out stay valid.
func (ag *Aggregator) Reset() {
	ag.mu.RLock()
	defer ag.mu.RUnlock()
	for _, acc := range ag.families {
		acc.Reset()
	}
}
