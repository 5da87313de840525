package stopwatch

import "sort"

// MemoryUsage is a resource snapshot taken when a period starts.
type MemoryUsage struct {
	RSS       uint64 `json:"rss"`
	HeapTotal uint64 `json:"heapTotal"`
	HeapUsed  uint64 `json:"heapUsed"`
	External  uint64 `json:"external"`
}

// Period is a single start/stop sample in microseconds. End is zero while
// the period is still open. A closed period is never modified again.
type Period struct {
	Start  int64        `json:"start"`
	End    int64        `json:"end"`
	Memory *MemoryUsage `json:"memory,omitempty"`
}

func (p Period) IsOpen() bool {
	return p.End == 0
}

// Duration is zero for open periods.
func (p Period) Duration() int64 {
	if p.IsOpen() || p.End < p.Start {
		return 0
	}
	return p.End - p.Start
}

// Before reports whether p sorts ahead of o: start ascending, then end ascending.
func (p Period) Before(o Period) bool {
	if p.Start != o.Start {
		return p.Start < o.Start
	}
	return p.End < o.End
}

// SortPeriods sorts in place by start, then end. Equal periods keep their order.
func SortPeriods(periods []Period) {
	sort.SliceStable(periods, func(i, j int) bool {
		return periods[i].Before(periods[j])
	})
}

// insertPeriod places p after every period that does not sort behind it.
func insertPeriod(periods []Period, p Period) []Period {
	i := sort.Search(len(periods), func(i int) bool {
		return p.Before(periods[i])
	})
	periods = append(periods, Period{})
	copy(periods[i+1:], periods[i:])
	periods[i] = p
	return periods
}
