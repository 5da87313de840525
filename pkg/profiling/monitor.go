package profiling

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"spanwatch/pkg/stats"
)

// ResourceSample is one reading of the process resources.
type ResourceSample struct {
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
}

// Probe reads the current resource usage of the process.
type Probe interface {
	Sample(ctx context.Context) (ResourceSample, error)
}

type ProbeFunc func(ctx context.Context) (ResourceSample, error)

func (f ProbeFunc) Sample(ctx context.Context) (ResourceSample, error) { return f(ctx) }

// ProcessStat is a snapshot of the process while units of work run.
// Durations are in microseconds.
type ProcessStat struct {
	PID            int       `json:"pid"`
	Active         int       `json:"active"`
	MaxActive      int       `json:"maxActive"`
	DurationMean   float64   `json:"durationMean"`
	DurationMode   float64   `json:"durationMode"`
	DurationMax    float64   `json:"durationMax"`
	UnitsPerSecond float64   `json:"unitsPerSecond"`
	CPU            float64   `json:"cpu"`
	CPUMean        float64   `json:"cpuMean"`
	CPUMode        float64   `json:"cpuMode"`
	CPUMax         float64   `json:"cpuMax"`
	Memory         float64   `json:"memory"`
	MemoryMean     float64   `json:"memoryMean"`
	MemoryMode     float64   `json:"memoryMode"`
	MemoryMax      float64   `json:"memoryMax"`
	Interval       int64     `json:"interval"`
	Microtime      int64     `json:"microtime"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Monitor samples the probe on a cadence that depends on whether units of
// work are running. All methods are safe on a nil Monitor.
type Monitor struct {
	p     *Profiler
	probe Probe
	clock clock.Clock
	pid   int

	mu           sync.Mutex
	delayIdle    time.Duration
	delayRequest time.Duration
	current      ProcessStat
	hasCurrent   bool
	last         int64

	kick     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	running  bool
	stopOnce sync.Once
}

func newMonitor(p *Profiler, probe Probe, idle, request time.Duration) *Monitor {
	return &Monitor{
		p:            p,
		probe:        probe,
		clock:        p.tree.Clock(),
		pid:          os.Getpid(),
		delayIdle:    idle,
		delayRequest: request,
		kick:         make(chan struct{}, 1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// SetDelays changes the cadence from the next tick on. Non-positive values
// keep the current delay.
func (m *Monitor) SetDelays(idle, request time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if idle > 0 {
		m.delayIdle = idle
	}
	if request > 0 {
		m.delayRequest = request
	}
}

func (m *Monitor) Delays() (idle, request time.Duration) {
	if m == nil {
		return 0, 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delayIdle, m.delayRequest
}

func (m *Monitor) delay() time.Duration {
	idle, request := m.Delays()
	if m.p.ActiveCount() > 0 {
		return request
	}
	return idle
}

// Current returns the latest sample, if one was taken.
func (m *Monitor) Current() (ProcessStat, bool) {
	if m == nil {
		return ProcessStat{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.hasCurrent
}

// Run starts the sampling loop. It returns at once; the loop ends when ctx
// is done or Stop is called.
func (m *Monitor) Run(ctx context.Context) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go m.run(ctx)
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	timer := m.clock.Timer(m.delay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-m.kick:
			timer.Reset(m.delay())
		case <-timer.C:
			if _, err := m.Sample(ctx); err != nil {
				m.p.logger.Warnw("resource sample failed", "error", err)
			}
			timer.Reset(m.delay())
		}
	}
}

// Kick re-arms the loop with the current cadence, so a unit starting on an
// idle process does not wait out the idle delay.
func (m *Monitor) Kick() {
	if m == nil {
		return
	}
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Stop halts the loop and waits for it to exit.
func (m *Monitor) Stop() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() { close(m.stop) })

	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if running {
		<-m.done
	}
}

// Sample reads the probe once, records the cpu and memory families, and
// hands the resulting stat to every active unit and stat.sample hook.
func (m *Monitor) Sample(ctx context.Context) (ProcessStat, error) {
	if m == nil || m.probe == nil {
		return ProcessStat{}, nil
	}
	rs, err := m.probe.Sample(ctx)
	if err != nil {
		return ProcessStat{}, err
	}

	agg := m.p.agg
	agg.Record(stats.CPU, rs.CPU)
	agg.Record(stats.Memory, rs.Memory)

	now := m.p.tree.Microtime()
	dur := agg.Family(stats.Duration).Snapshot()
	cpu := agg.Family(stats.CPU).Snapshot()
	mem := agg.Family(stats.Memory).Snapshot()

	m.mu.Lock()
	var interval int64
	if m.last != 0 {
		interval = now - m.last
	}
	m.last = now
	m.mu.Unlock()

	ps := ProcessStat{
		PID:            m.pid,
		Active:         m.p.ActiveCount(),
		MaxActive:      m.p.MaxActiveCount(),
		DurationMean:   dur.Mean,
		DurationMode:   dur.Mode,
		DurationMax:    dur.Max,
		UnitsPerSecond: m.p.UnitsPerSecond(),
		CPU:            rs.CPU,
		CPUMean:        cpu.Mean,
		CPUMode:        cpu.Mode,
		CPUMax:         cpu.Max,
		Memory:         rs.Memory,
		MemoryMean:     mem.Mean,
		MemoryMode:     mem.Mode,
		MemoryMax:      mem.Max,
		Interval:       interval,
		Microtime:      now,
		CreatedAt:      m.clock.Now(),
	}

	m.mu.Lock()
	m.current = ps
	m.hasCurrent = true
	m.mu.Unlock()

	active := m.p.Active()
	if len(active) == 0 {
		m.p.hooks.run(&HookContext{Ctx: ctx, Type: HookStatSample, Stat: &ps})
	}
	for _, u := range active {
		u.addStat(ps)
		m.p.hooks.run(&HookContext{Ctx: ctx, Type: HookStatSample, Unit: u, Stat: &ps})
	}
	return ps, nil
}
