// Package extract pulls the slice of a shared timing tree that belongs to one
// finished unit of work.
package extract

import (
	"context"

	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"spanwatch/pkg/metrics"
	"spanwatch/pkg/stopwatch"
)

var log = logging.Logger("spanwatch/extract")

// MinMaxAge is the lower bound for the eviction age, in microseconds.
const MinMaxAge int64 = 1_500_000

// MaxAge derives the eviction age from the longest unit of work seen so far.
func MaxAge(maxDuration int64) int64 {
	if maxDuration > MinMaxAge {
		return maxDuration
	}
	return MinMaxAge
}

type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// Window is an inclusive [StartedAt, FinishedAt] range in microseconds.
type Window struct {
	StartedAt  int64 `json:"startedAt"`
	FinishedAt int64 `json:"finishedAt"`
}

func (w Window) Contains(ts int64) bool {
	return ts >= w.StartedAt && ts <= w.FinishedAt
}

// Result describes what one extraction did.
type Result struct {
	// Owned counts sections tagged with the unit that were moved over.
	Owned int `json:"owned"`
	// Copied counts shared periods copied because they started in the window.
	Copied int `json:"copied"`
	// Detached counts sections unlinked from the source tree.
	Detached int `json:"detached"`
	// Evicted counts stale periods dropped from the source tree.
	Evicted int `json:"evicted"`
}

type Option func(*Extractor)

func WithLogger(l Logger) Option {
	return func(x *Extractor) {
		if l != nil {
			x.log = l
		}
	}
}

func WithTelemetry(t *metrics.Telemetry) Option {
	return func(x *Extractor) {
		x.tele = t
	}
}

// Extractor runs window extractions. It keeps no state between calls and is
// safe for concurrent use.
type Extractor struct {
	log  Logger
	tele *metrics.Telemetry
}

func New(opts ...Option) *Extractor {
	x := &Extractor{log: log}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// frame is one pending node of the walk.
type frame struct {
	sec    *stopwatch.Section
	parent *stopwatch.Section
}

type detach struct {
	sec    *stopwatch.Section
	parent *stopwatch.Section
}

// Extract walks src and returns a new tree holding
//   - every section tagged with unitID, moved over with its whole subtree, and
//   - a copy of every shared period that started inside w, under a section
//     and event named like the ones it came from.
//
// Sections of other units are skipped. A shared section holding a period
// older than maxAge is pruned once the walk is over, and unlinked when
// nothing is left in it. Owned sections are unlinked from src at the same
// point. No unit tagged with unitID is a normal, empty result.
func (x *Extractor) Extract(ctx context.Context, src *stopwatch.Tree, unitID string, w Window, maxAge int64) (*stopwatch.Tree, Result) {
	_, span := x.tele.StartSpan(ctx, "Extractor.Extract", trace.WithAttributes(
		attribute.String("unit", unitID),
		attribute.Int64("window.start", w.StartedAt),
		attribute.Int64("window.finish", w.FinishedAt),
	))
	defer span.End()

	var res Result
	if src == nil {
		return stopwatch.New(), res
	}
	if maxAge <= 0 {
		maxAge = MinMaxAge
	}

	dst := src.Sibling()
	now := src.Microtime()

	var (
		detaches []detach
		evicts   []detach
	)

	stack := []frame{{sec: src.Root()}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		sec := f.sec

		isRoot := f.parent == nil
		if !isRoot {
			if unitID != "" && sec.HasTag(unitID) {
				dst.Root().AttachSection(sec)
				detaches = append(detaches, detach{sec: sec, parent: f.parent})
				res.Owned++
				continue
			}
			if sec.HasTag("") {
				continue
			}
		}

		var (
			target *stopwatch.Section
			stale  bool
		)
		for _, ev := range sec.Events() {
			var copyTo *stopwatch.Event
			for _, p := range ev.Periods() {
				if w.Contains(p.Start) {
					if target == nil {
						if isRoot {
							target = dst.Root()
						} else {
							target = dst.Section(sec.Name())
						}
					}
					if copyTo == nil {
						copyTo = target.NewEvent(ev.Name(), ev.Category())
					}
					copyTo.AddPeriod(p)
					res.Copied++
				}
				if now-p.Start > maxAge {
					stale = true
				}
			}
		}
		if stale {
			evicts = append(evicts, detach{sec: sec, parent: f.parent})
		}

		children := sec.Sections()
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{sec: children[i], parent: sec})
		}
	}

	for _, d := range detaches {
		if d.parent.RemoveSection(d.sec) {
			res.Detached++
		}
	}

	// Children were visited after their parents, so walking the list
	// backwards lets an emptied child go before its parent is looked at.
	cutoff := now - maxAge
	for i := len(evicts) - 1; i >= 0; i-- {
		d := evicts[i]
		removed, empty := d.sec.Prune(cutoff)
		res.Evicted += removed
		if empty && d.parent != nil && d.parent.RemoveSection(d.sec) {
			res.Detached++
		}
	}

	x.tele.ExtractDone(ctx, res.Detached, res.Evicted)
	span.SetAttributes(
		attribute.Int("owned", res.Owned),
		attribute.Int("copied", res.Copied),
		attribute.Int("evicted", res.Evicted),
	)
	x.log.Debugw("extracted", "unit", unitID, "owned", res.Owned, "copied", res.Copied,
		"detached", res.Detached, "evicted", res.Evicted)
	return dst, res
}
