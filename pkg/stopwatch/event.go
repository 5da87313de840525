package stopwatch

import "sync"

// DefaultCategory is used for events opened without a category.
const DefaultCategory = "default"

// Event is a named, categorized sequence of periods. An event can be started
// and stopped many times; every start opens a new period.
//
// All methods are safe on a nil *Event and never fail: stopping an event that
// is not running or starting one that already runs is a no-op.
type Event struct {
	id       uint64
	name     string
	category string
	tree     *Tree

	mu      sync.Mutex
	periods []Period
	current Period
	running bool
}

func newEvent(tree *Tree, name, category string) *Event {
	if category == "" {
		category = DefaultCategory
	}
	return &Event{
		id:       nextID(),
		name:     name,
		category: category,
		tree:     tree,
	}
}

func (e *Event) ID() uint64 {
	if e == nil {
		return 0
	}
	return e.id
}

func (e *Event) Name() string {
	if e == nil {
		return ""
	}
	return e.name
}

func (e *Event) Category() string {
	if e == nil {
		return ""
	}
	return e.category
}

// Start opens a new period unless one is already open.
func (e *Event) Start() *Event {
	if e == nil {
		return nil
	}
	now := e.tree.Microtime()
	mem := e.tree.memorySnapshot()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return e
	}
	e.current = Period{Start: now, Memory: mem}
	e.running = true
	return e
}

// Stop closes the open period. Without an open period it does nothing.
func (e *Event) Stop() *Event {
	if e == nil {
		return nil
	}
	now := e.tree.Microtime()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeLocked(now)
	return e
}

// Lap closes the open period and immediately opens the next one.
func (e *Event) Lap() *Event {
	if e == nil {
		return nil
	}
	now := e.tree.Microtime()
	mem := e.tree.memorySnapshot()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeLocked(now)
	e.current = Period{Start: now, Memory: mem}
	e.running = true
	return e
}

func (e *Event) closeLocked(now int64) {
	if !e.running {
		return
	}
	p := e.current
	if now < p.Start {
		now = p.Start
	}
	p.End = now
	e.periods = insertPeriod(e.periods, p)
	e.current = Period{}
	e.running = false
}

func (e *Event) IsStarted() bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// AddPeriod inserts an already measured period, keeping the order invariant.
func (e *Event) AddPeriod(p Period) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.periods = insertPeriod(e.periods, p)
}

// Periods returns a sorted copy of every period, including the open one.
func (e *Event) Periods() []Period {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Period, len(e.periods), len(e.periods)+1)
	copy(out, e.periods)
	if e.running {
		out = insertPeriod(out, e.current)
	}
	return out
}

// Len counts periods, the open one included.
func (e *Event) Len() int {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.periods)
	if e.running {
		n++
	}
	return n
}

// Duration is the total time of all closed periods.
func (e *Event) Duration() int64 {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var total int64
	for _, p := range e.periods {
		total += p.Duration()
	}
	return total
}

// prune drops closed periods that started before cutoff.
func (e *Event) prune(cutoff int64) (removed int, empty bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.periods[:0]
	for _, p := range e.periods {
		if p.Start < cutoff {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	for i := len(kept); i < len(e.periods); i++ {
		e.periods[i] = Period{}
	}
	e.periods = kept
	return removed, len(e.periods) == 0 && !e.running
}

func (e *Event) Record() EventRecord {
	return EventRecord{
		ID:       e.ID(),
		Name:     e.Name(),
		Category: e.Category(),
		Periods:  e.Periods(),
	}
}
