package stats

import (
	"math"
	"sync"

	"github.com/spf13/cast"
)

// Summary is a point-in-time read of an Accumulator.
type Summary struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Mean  float64 `json:"mean"`
	Max   float64 `json:"max"`
	Mode  float64 `json:"mode"`
}

// Accumulator keeps running count, sum, max and mode for one metric family
// without retaining samples. Only the rounded-value occurrence map grows, and
// only with the number of distinct rounded values.
type Accumulator struct {
	mu        sync.Mutex
	count     int64
	sum       float64
	max       float64
	occur     map[int64]int64
	mode      int64
	modeCount int64
}

func NewAccumulator() *Accumulator {
	return &Accumulator{occur: make(map[int64]int64)}
}

// round matches half-up rounding: 2.5 -> 3, -2.5 -> -2.
func round(v float64) int64 {
	return int64(math.Floor(v + 0.5))
}

// Record adds v. NaN and infinities are dropped and reported as false.
func (a *Accumulator) Record(v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.count == 0 || v > a.max {
		a.max = v
	}
	a.count++
	a.sum += v

	key := round(v)
	n := a.occur[key] + 1
	a.occur[key] = n
	// strictly greater: the first value to reach a count keeps the mode
	if n > a.modeCount {
		a.modeCount = n
		a.mode = key
	}
	return true
}

// RecordAny coerces v to a number first. Values that cannot be coerced, nil
// included, are dropped.
func (a *Accumulator) RecordAny(v interface{}) bool {
	if v == nil {
		return false
	}
	switch v.(type) {
	case bool:
		return false
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return false
	}
	return a.Record(f)
}

func (a *Accumulator) Count() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

func (a *Accumulator) Sum() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sum
}

// Mean is zero before the first sample.
func (a *Accumulator) Mean() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.meanLocked()
}

func (a *Accumulator) meanLocked() float64 {
	if a.count == 0 {
		return 0
	}
	return a.sum / float64(a.count)
}

func (a *Accumulator) Max() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.max
}

// Mode is the most frequent rounded sample.
func (a *Accumulator) Mode() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return float64(a.mode)
}

func (a *Accumulator) Snapshot() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Summary{
		Count: a.count,
		Sum:   a.sum,
		Mean:  a.meanLocked(),
		Max:   a.max,
		Mode:  float64(a.mode),
	}
}

func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count = 0
	a.sum = 0
	a.max = 0
	a.mode = 0
	a.modeCount = 0
	a.occur = make(map[int64]int64)
}
