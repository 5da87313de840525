// Package timeline flattens timing trees into an ordered list of plot entries.
package timeline

import (
	"sort"

	"spanwatch/pkg/stopwatch"
)

// SectionCategory is the category of every section entry.
const SectionCategory = "section"

// Entry is one bar of a timeline: a named section with the periods of its
// whole subtree, or an event with its own periods.
type Entry struct {
	Idx         int                `json:"idx"`
	ID          uint64             `json:"id"`
	IsSection   bool               `json:"isSection"`
	Section     string             `json:"section"`
	Name        string             `json:"name,omitempty"`
	Category    string             `json:"category"`
	Periods     []stopwatch.Period `json:"periods"`
	HasPeriods  bool               `json:"hasPeriods"`
	FirstPeriod stopwatch.Period   `json:"firstPeriod"`
	LastPeriod  stopwatch.Period   `json:"lastPeriod"`
	// End is the latest end among the closed periods.
	End         int64              `json:"end"`
	// Running is set while any period is still open.
	Running     bool               `json:"running"`
}

// Duration spans from the first start to the latest closed end. Open periods
// do not count.
func (e Entry) Duration() int64 {
	if !e.HasPeriods || e.End < e.FirstPeriod.Start {
		return 0
	}
	return e.End - e.FirstPeriod.Start
}

type frame struct {
	rec *stopwatch.SectionRecord
	// named ancestors, as entry positions, the section itself included
	chain []int
}

// Flatten turns the given trees into entries. Unnamed sections, the roots
// among them, get no entry of their own; events without periods get none
// either. An id seen twice yields one entry holding both sets of periods.
//
// Entries are ordered by first period start. Entries without periods go
// last. At equal starts sections go first, so a section precedes its own
// events; otherwise the entry whose closed periods end first wins. Idx is the
// position in the result.
func Flatten(records ...stopwatch.SectionRecord) []Entry {
	var (
		entries []Entry
		index   = make(map[uint64]int)
	)
	entry := func(id uint64, init Entry) int {
		if i, ok := index[id]; ok {
			return i
		}
		entries = append(entries, init)
		index[id] = len(entries) - 1
		return len(entries) - 1
	}

	var stack []frame
	for i := len(records) - 1; i >= 0; i-- {
		stack = append(stack, frame{rec: &records[i]})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		rec := f.rec

		chain := f.chain
		if rec.Name != "" {
			pos := entry(rec.ID, Entry{
				ID:        rec.ID,
				IsSection: true,
				Section:   rec.Name,
				Category:  SectionCategory,
			})
			chain = append(append([]int(nil), f.chain...), pos)
		}

		for _, ev := range rec.Events {
			if len(ev.Periods) == 0 {
				continue
			}
			category := ev.Category
			if category == "" {
				category = stopwatch.DefaultCategory
			}
			pos := entry(ev.ID, Entry{
				ID:       ev.ID,
				Section:  rec.Name,
				Name:     ev.Name,
				Category: category,
			})
			entries[pos].Periods = append(entries[pos].Periods, ev.Periods...)
			for _, anc := range chain {
				entries[anc].Periods = append(entries[anc].Periods, ev.Periods...)
			}
		}

		for i := len(rec.Sections) - 1; i >= 0; i-- {
			stack = append(stack, frame{rec: &rec.Sections[i], chain: chain})
		}
	}

	for i := range entries {
		e := &entries[i]
		if e.Periods == nil {
			e.Periods = []stopwatch.Period{}
		}
		if len(e.Periods) == 0 {
			continue
		}
		stopwatch.SortPeriods(e.Periods)
		e.HasPeriods = true
		e.FirstPeriod = e.Periods[0]
		e.LastPeriod = e.Periods[len(e.Periods)-1]
		for _, p := range e.Periods {
			if p.IsOpen() {
				e.Running = true
			} else if p.End > e.End {
				e.End = p.End
			}
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return less(&entries[i], &entries[j])
	})
	for i := range entries {
		entries[i].Idx = i
	}
	return entries
}

// FlattenTrees snapshots the trees and flattens them.
func FlattenTrees(trees ...*stopwatch.Tree) []Entry {
	records := make([]stopwatch.SectionRecord, 0, len(trees))
	for _, t := range trees {
		if t == nil {
			continue
		}
		records = append(records, t.Record())
	}
	return Flatten(records...)
}

func less(a, b *Entry) bool {
	if a.HasPeriods != b.HasPeriods {
		return a.HasPeriods
	}
	if a.HasPeriods && a.FirstPeriod.Start != b.FirstPeriod.Start {
		return a.FirstPeriod.Start < b.FirstPeriod.Start
	}
	if a.IsSection != b.IsSection {
		return a.IsSection
	}
	return a.End < b.End
}
