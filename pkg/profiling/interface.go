// Package profiling follows units of work through a shared timing tree and
// turns each finished one into a Profile.
package profiling

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"spanwatch/pkg/extract"
	"spanwatch/pkg/stopwatch"
)

var (
	ErrUnitNotFound       = errors.New("unit of work not found")
	ErrUnitAlreadyStarted = errors.New("unit of work already started")
	ErrCollectorExists    = errors.New("collector already registered")
	ErrCollectorNotFound  = errors.New("collector not found")
	ErrDependencyMissing  = errors.New("missing dependency")
	ErrCircularDependency = errors.New("circular dependency detected")
)

// Logger is the key-value logger shared with the extractor.
type Logger = extract.Logger

// Meta describes whatever the unit of work is, typically an inbound request.
type Meta struct {
	Name    string            `json:"name,omitempty"`
	Method  string            `json:"method,omitempty"`
	Path    string            `json:"path,omitempty"`
	IP      string            `json:"ip,omitempty"`
	Referer string            `json:"referer,omitempty"`
	Labels  map[string]string `json:"labels,omitempty"`
}

// Unit is a unit of work in flight. Instrumented code times itself under
// Section, directly or through the context returned by Context.
type Unit struct {
	ID        string
	Meta      Meta
	Section   *stopwatch.Section
	StartedAt int64
	CreatedAt time.Time

	mu         sync.Mutex
	finishedAt int64
	stats      []ProcessStat
}

// Context carries the unit's section to stopwatch.SectionFromContext.
func (u *Unit) Context(ctx context.Context) context.Context {
	if u == nil {
		return ctx
	}
	return stopwatch.WithSection(ctx, u.Section)
}

func (u *Unit) FinishedAt() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.finishedAt
}

// Window is the extraction window; it is open ended until the unit finishes.
func (u *Unit) Window() extract.Window {
	u.mu.Lock()
	defer u.mu.Unlock()
	w := extract.Window{StartedAt: u.StartedAt, FinishedAt: u.finishedAt}
	if w.FinishedAt == 0 {
		w.FinishedAt = math.MaxInt64
	}
	return w
}

// Duration is zero while the unit runs.
func (u *Unit) Duration() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.finishedAt == 0 {
		return 0
	}
	return u.finishedAt - u.StartedAt
}

func (u *Unit) Stats() []ProcessStat {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]ProcessStat(nil), u.stats...)
}

func (u *Unit) addStat(ps ProcessStat) {
	u.mu.Lock()
	u.stats = append(u.stats, ps)
	u.mu.Unlock()
}

func (u *Unit) finish(at int64) {
	u.mu.Lock()
	u.finishedAt = at
	u.mu.Unlock()
}

func sortUnits(units []*Unit) {
	sort.Slice(units, func(i, j int) bool {
		if units[i].StartedAt != units[j].StartedAt {
			return units[i].StartedAt < units[j].StartedAt
		}
		return units[i].ID < units[j].ID
	})
}

func (u *Unit) snapshot() *Profile {
	u.mu.Lock()
	defer u.mu.Unlock()
	p := &Profile{
		ID:         u.ID,
		Meta:       u.Meta,
		StartedAt:  u.StartedAt,
		FinishedAt: u.finishedAt,
		CreatedAt:  u.CreatedAt,
		Stats:      append([]ProcessStat(nil), u.stats...),
		Collected:  map[string]interface{}{},
	}
	if u.finishedAt != 0 {
		p.Duration = u.finishedAt - u.StartedAt
	}
	return p
}

// Profile is the outcome of one unit of work. Collected maps collector names
// to what they returned.
type Profile struct {
	ID         string                 `json:"id"`
	Meta       Meta                   `json:"meta"`
	StartedAt  int64                  `json:"startedAt"`
	FinishedAt int64                  `json:"finishedAt"`
	Duration   int64                  `json:"duration"`
	CreatedAt  time.Time              `json:"createdAt"`
	Stats      []ProcessStat          `json:"stats"`
	Collected  map[string]interface{} `json:"collected"`
	Errors     []string               `json:"errors,omitempty"`
	Finished   bool                   `json:"finished"`
}
