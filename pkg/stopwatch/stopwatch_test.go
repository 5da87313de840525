package stopwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockTree(t *testing.T) (*Tree, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Add(time.Second)
	return New(WithClock(mock)), mock
}

func TestMicrotimeFollowsClock(t *testing.T) {
	tree, mock := newMockTree(t)

	start := tree.Microtime()
	mock.Add(250 * time.Microsecond)
	require.Equal(t, start+250, tree.Microtime())

	sib := tree.Sibling()
	require.Equal(t, tree.Microtime(), sib.Microtime())
}

func TestEventStartStopLap(t *testing.T) {
	tree, mock := newMockTree(t)
	base := tree.Microtime()

	ev := tree.Start("db.query", "db")
	require.True(t, ev.IsStarted())
	require.Equal(t, "db", ev.Category())

	mock.Add(10 * time.Microsecond)
	ev.Lap()
	mock.Add(5 * time.Microsecond)
	ev.Stop()

	require.False(t, ev.IsStarted())
	require.Equal(t, []Period{
		{Start: base, End: base + 10},
		{Start: base + 10, End: base + 15},
	}, ev.Periods())
	require.Equal(t, int64(15), ev.Duration())
}

func TestEventMisuseIsNoop(t *testing.T) {
	tree, mock := newMockTree(t)

	ev := tree.Root().NewEvent("idle", "")
	require.Equal(t, DefaultCategory, ev.Category())

	// stop without start
	ev.Stop()
	require.Empty(t, ev.Periods())

	ev.Start()
	mock.Add(3 * time.Microsecond)
	// starting twice keeps the first period
	ev.Start()
	ev.Stop()
	// closing twice changes nothing
	ev.Stop()
	require.Len(t, ev.Periods(), 1)
	require.Equal(t, int64(3), ev.Periods()[0].Duration())

	// unknown events and nil receivers
	require.Nil(t, tree.Root().Stop("missing"))
	require.Nil(t, tree.Root().Lap("missing"))

	var s *Section
	require.Nil(t, s.Section("x"))
	require.Nil(t, s.Start("x", "y"))
	require.False(t, s.HasTag(""))
	require.False(t, s.RemoveSection(nil))
	require.True(t, s.Record().IsEmpty())
}

func TestOpenPeriodIsVisible(t *testing.T) {
	tree, _ := newMockTree(t)
	ev := tree.Start("long", "")

	periods := ev.Periods()
	require.Len(t, periods, 1)
	require.True(t, periods[0].IsOpen())
	require.Equal(t, int64(0), periods[0].Duration())
}

func TestPeriodsStaySorted(t *testing.T) {
	tree, _ := newMockTree(t)
	ev := tree.Root().NewEvent("merged", "")

	for _, p := range []Period{
		{Start: 300, End: 310},
		{Start: 100, End: 190},
		{Start: 200, End: 250},
		{Start: 100, End: 150},
		{Start: 200, End: 210},
	} {
		ev.AddPeriod(p)
	}

	require.Equal(t, []Period{
		{Start: 100, End: 150},
		{Start: 100, End: 190},
		{Start: 200, End: 210},
		{Start: 200, End: 250},
		{Start: 300, End: 310},
	}, ev.Periods())
}

func TestSortPeriods(t *testing.T) {
	ps := []Period{{Start: 5, End: 9}, {Start: 1, End: 4}, {Start: 5, End: 6}}
	SortPeriods(ps)
	require.Equal(t, []Period{{Start: 1, End: 4}, {Start: 5, End: 6}, {Start: 5, End: 9}}, ps)
}

func TestTagging(t *testing.T) {
	tree, _ := newMockTree(t)

	global := tree.Section("router")
	unit := tree.Unit("unit-1", "request")

	require.False(t, global.HasTag(""))
	require.True(t, unit.HasTag(""))
	require.True(t, unit.HasTag("unit-1"))
	require.False(t, unit.HasTag("unit-2"))
	require.Equal(t, "unit-1", unit.Tag())

	global.SetTag("unit-2")
	require.True(t, global.HasTag("unit-2"))

	var tg Taggable = unit
	require.Equal(t, "unit-1", tg.Tag())
}

func TestRemoveSectionIsIdempotent(t *testing.T) {
	tree, _ := newMockTree(t)
	a := tree.Section("a")
	b := tree.Section("b")

	require.True(t, tree.Root().RemoveSection(a))
	require.False(t, tree.Root().RemoveSection(a))
	require.Equal(t, []*Section{b}, tree.Root().Sections())
}

func TestChildLooksUpWithoutCreating(t *testing.T) {
	tree, _ := newMockTree(t)
	db := tree.Section("db")
	tree.Section("db")

	root := tree.Root()
	require.Same(t, db, root.Child("db"))
	require.Nil(t, root.Child("cache"))
	require.Len(t, root.Sections(), 2)

	var missing *Section
	require.Nil(t, missing.Child("db"))
}

func TestPrune(t *testing.T) {
	tree, _ := newMockTree(t)
	s := tree.Section("cache")
	old := s.NewEvent("old", "")
	old.AddPeriod(Period{Start: 10, End: 20})
	mixed := s.NewEvent("mixed", "")
	mixed.AddPeriod(Period{Start: 15, End: 30})
	mixed.AddPeriod(Period{Start: 500, End: 510})

	removed, empty := s.Prune(100)
	require.Equal(t, 2, removed)
	require.False(t, empty)
	require.Nil(t, s.Event("old"))
	require.Equal(t, []Period{{Start: 500, End: 510}}, s.Event("mixed").Periods())

	removed, empty = s.Prune(1000)
	require.Equal(t, 1, removed)
	require.True(t, empty)
}

func TestPruneKeepsRunningEvents(t *testing.T) {
	tree, _ := newMockTree(t)
	s := tree.Section("worker")
	s.Start("loop", "")

	_, empty := s.Prune(tree.Microtime() + 1)
	require.False(t, empty)
	require.True(t, s.Event("loop").IsStarted())
}

func TestRecordShape(t *testing.T) {
	tree, mock := newMockTree(t)
	unit := tree.Unit("u1", "request")
	unit.Start("handler", "controller")
	mock.Add(7 * time.Microsecond)
	unit.Stop("handler")
	unit.Section("view").Start("render", "")

	rec := tree.Record()
	require.Len(t, rec.Sections, 1)
	require.Equal(t, "u1", rec.Sections[0].UnitID)
	require.Equal(t, 2, rec.PeriodCount())

	raw, err := json.Marshal(rec.Sections[0])
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "request", decoded["name"])
	require.Contains(t, decoded, "events")
	require.Contains(t, decoded, "sections")
	ev := decoded["events"].([]interface{})[0].(map[string]interface{})
	require.Equal(t, "controller", ev["category"])
	require.Len(t, ev["periods"], 1)
}

func TestMemoryProbe(t *testing.T) {
	mock := clock.NewMock()
	tree := New(WithClock(mock), WithMemoryProbe(func() MemoryUsage {
		return MemoryUsage{RSS: 42}
	}))
	ev := tree.Start("alloc", "")
	mock.Add(time.Microsecond)
	ev.Stop()

	p := ev.Periods()[0]
	require.NotNil(t, p.Memory)
	require.Equal(t, uint64(42), p.Memory.RSS)
}

func TestSectionFromContext(t *testing.T) {
	tree, _ := newMockTree(t)
	s := tree.Unit("u1", "request")

	ctx := WithSection(context.Background(), s)
	require.Same(t, s, SectionFromContext(ctx))
	require.Nil(t, SectionFromContext(context.Background()))

	// a missing section still accepts instrumentation calls
	SectionFromContext(context.Background()).Start("noop", "").Stop()
}

func TestConcurrentAppend(t *testing.T) {
	tree := New()
	shared := tree.Section("shared")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unit := tree.Unit(fmt.Sprintf("u%d", i), "request")
			for j := 0; j < 50; j++ {
				unit.Start("work", "").Stop()
				shared.Section("call").Start("io", "").Stop()
				_ = tree.Record()
			}
		}(i)
	}
	wg.Wait()

	units := 0
	for _, s := range tree.Root().Sections() {
		if s.HasTag("") {
			units++
			assert.Len(t, s.Event("work").Periods(), 50)
		}
	}
	require.Equal(t, 32, units)
	require.Len(t, shared.Sections(), 32*50)
}
