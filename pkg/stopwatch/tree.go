package stopwatch

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

var idCounter atomic.Uint64

// nextID hands out process-wide node identities.
func nextID() uint64 {
	return idCounter.Add(1)
}

// MemoryProbe returns the resource snapshot attached to new periods.
type MemoryProbe func() MemoryUsage

// Tree is a timing tree: one anonymous root section, owned for the lifetime
// of the process, that every unit of work appends to.
type Tree struct {
	root   *Section
	clock  clock.Clock
	epoch  time.Time
	base   int64
	memory MemoryProbe
}

type Option func(*Tree)

// WithClock replaces the wall clock, mostly with clock.NewMock() in tests.
func WithClock(c clock.Clock) Option {
	return func(t *Tree) {
		t.clock = c
	}
}

// WithMemoryProbe attaches a snapshot from probe to every new period.
func WithMemoryProbe(probe MemoryProbe) Option {
	return func(t *Tree) {
		t.memory = probe
	}
}

func New(opts ...Option) *Tree {
	t := &Tree{clock: clock.New()}
	for _, opt := range opts {
		opt(t)
	}
	t.epoch = t.clock.Now()
	t.base = t.epoch.UnixMicro()
	t.root = newSection(t, "")
	return t
}

// Sibling returns an empty tree that shares this tree's clock and epoch, so
// timestamps taken on either are comparable.
func (t *Tree) Sibling() *Tree {
	s := &Tree{
		clock:  t.clock,
		epoch:  t.epoch,
		base:   t.base,
		memory: t.memory,
	}
	s.root = newSection(s, "")
	return s
}

func (t *Tree) Root() *Section {
	if t == nil {
		return nil
	}
	return t.root
}

func (t *Tree) Clock() clock.Clock {
	if t == nil {
		return clock.New()
	}
	return t.clock
}

// Microtime is a monotonic timestamp in microseconds. It is anchored at the
// wall time the tree was created and then only advances.
func (t *Tree) Microtime() int64 {
	if t == nil {
		return time.Now().UnixMicro()
	}
	return t.base + t.clock.Since(t.epoch).Microseconds()
}

func (t *Tree) memorySnapshot() *MemoryUsage {
	if t == nil || t.memory == nil {
		return nil
	}
	m := t.memory()
	return &m
}

func (t *Tree) Section(name string) *Section {
	return t.Root().Section(name)
}

func (t *Tree) Unit(unitID, name string) *Section {
	return t.Root().Unit(unitID, name)
}

func (t *Tree) Start(name, category string) *Event {
	return t.Root().Start(name, category)
}

func (t *Tree) Record() SectionRecord {
	return t.Root().Record()
}
