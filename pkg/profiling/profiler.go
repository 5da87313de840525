package profiling

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"spanwatch/pkg/config"
	"spanwatch/pkg/extract"
	"spanwatch/pkg/metrics"
	"spanwatch/pkg/stats"
	"spanwatch/pkg/stopwatch"
)

var log = logging.Logger("spanwatch/profiling")

// Names of the events the profiler records on every unit section.
const (
	CategoryProfiler = "profiler"
	EventStart       = "profiler.start"
	EventCollector   = "profiler.collector"
)

// NewUnitID returns a fresh unit of work identifier.
func NewUnitID() string {
	return uuid.NewString()
}

type Option func(*Profiler)

func WithLogger(l Logger) Option {
	return func(p *Profiler) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithTelemetry(t *metrics.Telemetry) Option {
	return func(p *Profiler) {
		p.tele = t
	}
}

// WithConfig reads the profiler settings from m and follows its changes.
func WithConfig(m *config.ConfigManager) Option {
	return func(p *Profiler) {
		p.manager = m
		p.cfg = config.Profiler(m)
	}
}

// WithSettings replaces the settings without a config manager.
func WithSettings(cfg config.ProfilerConfig) Option {
	return func(p *Profiler) {
		p.cfg = cfg
	}
}

// WithMatchers replaces the matchers built from configuration.
func WithMatchers(ms ...Matcher) Option {
	return func(p *Profiler) {
		p.matchers = ms
		p.fixedMatchers = true
	}
}

// WithProbe enables resource monitoring through probe.
func WithProbe(probe Probe) Option {
	return func(p *Profiler) {
		p.probe = probe
	}
}

func WithExtractor(x *extract.Extractor) Option {
	return func(p *Profiler) {
		p.extractor = x
	}
}

// Profiler tracks units of work over one shared timing tree.
type Profiler struct {
	tree      *stopwatch.Tree
	agg       *stats.Aggregator
	logger    Logger
	tele      *metrics.Telemetry
	manager   *config.ConfigManager
	extractor *extract.Extractor
	probe     Probe

	store      *Store
	collectors *CollectorRegistry
	hooks      *hooks
	monitor    *Monitor

	mu            sync.RWMutex
	cfg           config.ProfilerConfig
	matchers      []Matcher
	fixedMatchers bool
	active        map[string]*Unit
	maxActive     int
	total         int64
	since         time.Time
}

// New builds a profiler over tree, recording into agg. The stopwatch,
// timeline and config collectors are registered.
func New(tree *stopwatch.Tree, agg *stats.Aggregator, opts ...Option) (*Profiler, error) {
	if tree == nil {
		tree = stopwatch.New()
	}
	if agg == nil {
		agg = stats.NewAggregator()
	}
	p := &Profiler{
		tree:   tree,
		agg:    agg,
		logger: log,
		cfg:    config.DefaultProfilerConfig(),
		active: make(map[string]*Unit),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.since = tree.Clock().Now()

	if p.extractor == nil {
		p.extractor = extract.New(extract.WithLogger(p.logger), extract.WithTelemetry(p.tele))
	}
	if !p.fixedMatchers {
		ms, err := MatchersFromConfig(p.cfg)
		if err != nil {
			return nil, err
		}
		p.matchers = ms
	}

	store, err := NewStore(p.cfg.StoreSize)
	if err != nil {
		return nil, err
	}
	p.store = store
	p.hooks = newHooks(p.logger)
	p.collectors = NewCollectorRegistry(p.logger)

	for _, reg := range []struct {
		c        Collector
		priority int
	}{
		{NewStopwatchCollector(p.extractor), 10},
		{TimelineCollector{}, 20},
		{NewConfigCollector(p.manager, func() bool { return p.Settings().CollectConfig }), 30},
	} {
		if err := p.collectors.Register(reg.c, reg.priority); err != nil {
			return nil, err
		}
	}

	if p.probe != nil && p.cfg.Monitoring {
		p.monitor = newMonitor(p, p.probe, p.cfg.DelayIdle, p.cfg.DelayRequest)
	}
	if p.manager != nil {
		p.manager.AddWatcher(config.AnyKey, config.WatcherFunc(func(config.ConfigChange) {
			p.applySettings(config.Profiler(p.manager))
		}))
	}
	return p, nil
}

func (p *Profiler) applySettings(cfg config.ProfilerConfig) {
	p.mu.Lock()
	p.cfg = cfg
	if !p.fixedMatchers {
		ms, err := MatchersFromConfig(cfg)
		if err != nil {
			p.logger.Warnw("keeping previous matchers", "error", err)
		} else {
			p.matchers = ms
		}
	}
	p.mu.Unlock()

	p.monitor.SetDelays(cfg.DelayIdle, cfg.DelayRequest)
	p.logger.Debugw("profiler settings applied", "enabled", cfg.Enabled, "monitoring", cfg.Monitoring)
}

func (p *Profiler) Settings() config.ProfilerConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

func (p *Profiler) Tree() *stopwatch.Tree { return p.tree }

func (p *Profiler) Stats() *stats.Aggregator { return p.agg }

// Collectors is the registry finished units run through.
func (p *Profiler) Collectors() *CollectorRegistry { return p.collectors }

// Monitor is nil unless a probe was given and monitoring is enabled.
func (p *Profiler) Monitor() *Monitor { return p.monitor }

// AddHook registers handler for hookType. Lower priorities run first.
func (p *Profiler) AddHook(name string, hookType HookType, handler HookHandler, priority int) {
	p.hooks.add(name, hookType, handler, priority)
}

// Close stops the resource monitor.
func (p *Profiler) Close() {
	p.monitor.Stop()
}

func (p *Profiler) accepts(meta Meta) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Enabled && matchAny(p.matchers, meta)
}

// Start opens a unit of work under a new id. It returns a nil unit and no
// error when profiling is disabled or no matcher accepts meta.
func (p *Profiler) Start(ctx context.Context, meta Meta) (*Unit, error) {
	return p.StartWithID(ctx, NewUnitID(), meta)
}

func (p *Profiler) StartWithID(ctx context.Context, id string, meta Meta) (*Unit, error) {
	if !p.accepts(meta) {
		return nil, nil
	}

	p.mu.Lock()
	if _, exists := p.active[id]; exists {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnitAlreadyStarted, id)
	}
	u := &Unit{
		ID:        id,
		Meta:      meta,
		StartedAt: p.tree.Microtime(),
		CreatedAt: p.tree.Clock().Now(),
	}
	u.Section = p.tree.Unit(id, unitName(meta))
	p.active[id] = u
	if n := len(p.active); n > p.maxActive {
		p.maxActive = n
	}
	p.total++
	p.mu.Unlock()

	ev := u.Section.Start(EventStart, CategoryProfiler)
	if cur, ok := p.monitor.Current(); ok {
		u.addStat(cur)
	}
	p.tele.UnitStarted(ctx)
	p.hooks.run(&HookContext{Ctx: ctx, Type: HookUnitStart, Unit: u})
	p.monitor.Kick()
	ev.Stop()

	p.logger.Debugw("unit started", "unit", id, "name", u.Section.Name())
	return u, nil
}

func unitName(meta Meta) string {
	if meta.Name != "" {
		return meta.Name
	}
	if name := strings.TrimSpace(meta.Method + " " + meta.Path); name != "" {
		return name
	}
	return "unit"
}

// Finish closes the unit, runs the collectors and stores the profile. A
// failing collector does not stop the others; their errors come back
// together, next to the profile.
func (p *Profiler) Finish(ctx context.Context, id string) (*Profile, error) {
	p.mu.Lock()
	u, ok := p.active[id]
	if ok {
		delete(p.active, id)
	}
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, id)
	}

	ctx, span := p.tele.StartSpan(ctx, "Profiler.Finish", trace.WithAttributes(attribute.String("unit", id)))
	defer span.End()

	u.finish(p.tree.Microtime())
	duration := u.Duration()
	p.agg.Record(stats.Duration, float64(duration))
	p.tele.UnitFinished(ctx, duration)

	profile, err := p.collect(ctx, u)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "collectors failed")
	}
	p.store.Add(profile)
	p.hooks.run(&HookContext{Ctx: ctx, Type: HookUnitFinish, Unit: u, Profile: profile})

	p.logger.Debugw("unit finished", "unit", id, "duration", duration, "collected", len(profile.Collected))
	return profile, err
}

func (p *Profiler) collect(ctx context.Context, u *Unit) (*Profile, error) {
	profile := u.snapshot()
	profile.Finished = true

	collectors, err := p.collectors.Ordered()
	if err != nil {
		profile.Errors = append(profile.Errors, err.Error())
		return profile, err
	}

	cc := newCollectContext(u, p)
	ev := u.Section.NewEvent(EventCollector, CategoryProfiler)
	ev.Start()
	defer ev.Stop()

	var errs *multierror.Error
	for _, c := range collectors {
		if !c.Enabled() {
			continue
		}
		name := c.Name()
		v, err := c.Collect(ctx, cc)
		ev.Lap()
		if err != nil {
			err = fmt.Errorf("collector %s: %w", name, err)
			errs = multierror.Append(errs, err)
			profile.Errors = append(profile.Errors, err.Error())
			p.tele.CollectFailed(ctx, name)
			p.logger.Warnw("collector failed", "unit", u.ID, "collector", name, "error", err)
			continue
		}
		cc.set(name, v)
		profile.Collected[name] = v
	}
	return profile, errs.ErrorOrNil()
}

// MaxAge is the eviction age handed to the extractor: the configured minimum
// or the longest unit seen so far, whichever is larger.
func (p *Profiler) MaxAge() int64 {
	age := p.Settings().MinMaxAge.Microseconds()
	if age <= 0 {
		age = extract.MinMaxAge
	}
	if longest := int64(p.agg.Family(stats.Duration).Max()); longest > age {
		age = longest
	}
	return age
}

// Get returns a snapshot of an active unit, or the stored profile of a
// finished one.
func (p *Profiler) Get(id string) (*Profile, error) {
	p.mu.RLock()
	u, ok := p.active[id]
	p.mu.RUnlock()
	if ok {
		return u.snapshot(), nil
	}
	if profile, ok := p.store.Get(id); ok {
		return profile, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, id)
}

// Recent lists stored profiles, newest first.
func (p *Profiler) Recent() []*Profile {
	return p.store.Recent()
}

func (p *Profiler) Store() *Store { return p.store }

// Active lists the running units in start order.
func (p *Profiler) Active() []*Unit {
	p.mu.RLock()
	out := make([]*Unit, 0, len(p.active))
	for _, u := range p.active {
		out = append(out, u)
	}
	p.mu.RUnlock()
	sortUnits(out)
	return out
}

func (p *Profiler) ActiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.active)
}

func (p *Profiler) MaxActiveCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.maxActive
}

// TotalCount counts units started since creation or the last Reset.
func (p *Profiler) TotalCount() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.total
}

// UnitsPerSecond is TotalCount over the time since creation or the last
// Reset. It is zero until time has passed.
func (p *Profiler) UnitsPerSecond() float64 {
	p.mu.RLock()
	total, since := p.total, p.since
	p.mu.RUnlock()
	elapsed := p.tree.Clock().Since(since).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(total) / elapsed
}

// Reset clears the statistics, the counters and the stored profiles.
// Running units are kept.
func (p *Profiler) Reset() {
	p.agg.Reset()
	p.store.Purge()

	p.mu.Lock()
	p.maxActive = len(p.active)
	p.total = 0
	p.since = p.tree.Clock().Now()
	p.mu.Unlock()
	p.logger.Infow("profiler reset")
}
