package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"

	"spanwatch/pkg/metrics"
	"spanwatch/pkg/profiling"
	"spanwatch/pkg/stats"
	"spanwatch/pkg/stopwatch"
	"spanwatch/pkg/timeline"
)

type demoOptions struct {
	units   int
	spacing time.Duration
	work    time.Duration
	format  string
}

func newDemoCmd(root *rootOptions) *cobra.Command {
	d := &demoOptions{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run overlapping units of work and print what each one saw",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if d.units < 1 {
				return fmt.Errorf("--units must be at least 1, got %d", d.units)
			}
			m, err := root.load(cmd.Context())
			if err != nil {
				return err
			}
			tele, err := metrics.NewWithGlobalProviders()
			if err != nil {
				return err
			}

			tree := stopwatch.New(stopwatch.WithMemoryProbe(memoryUsage))
			p, err := profiling.New(tree, stats.NewAggregator(),
				profiling.WithConfig(m),
				profiling.WithTelemetry(tele),
				profiling.WithProbe(runtimeProbe{}),
			)
			if err != nil {
				return err
			}
			defer p.Close()
			p.Monitor().Run(cmd.Context())

			profiles, err := runUnits(cmd.Context(), p, d)
			if err != nil {
				return err
			}
			return printDemo(cmd.OutOrStdout(), p, profiles, d.format)
		},
	}
	cmd.Flags().IntVarP(&d.units, "units", "n", 3, "number of overlapping units of work")
	cmd.Flags().DurationVar(&d.spacing, "spacing", 2*time.Millisecond, "delay between unit starts")
	cmd.Flags().DurationVar(&d.work, "work", 5*time.Millisecond, "simulated work per step")
	cmd.Flags().StringVarP(&d.format, "format", "o", "text", "output format (text, json)")
	return cmd
}

func runUnits(ctx context.Context, p *profiling.Profiler, d *demoOptions) ([]*profiling.Profile, error) {
	shared := p.Tree().Section("db")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		profiles []*profiling.Profile
		firstErr error
	)
	for i := 0; i < d.units; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(i) * d.spacing)

			u, err := p.Start(ctx, profiling.Meta{Method: "GET", Path: fmt.Sprintf("/demo/%d", i)})
			if err == nil && u != nil {
				handle(u.Context(ctx), shared, d.work)
				var profile *profiling.Profile
				profile, err = p.Finish(ctx, u.ID)
				if profile != nil {
					mu.Lock()
					profiles = append(profiles, profile)
					mu.Unlock()
				}
			}
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	sort.Slice(profiles, func(i, j int) bool { return profiles[i].StartedAt < profiles[j].StartedAt })
	return profiles, firstErr
}

// handle pretends to serve a request: some controller work, a query in the
// shared db section, and a render in a nested section.
func handle(ctx context.Context, shared *stopwatch.Section, work time.Duration) {
	s := stopwatch.SectionFromContext(ctx)
	s.Start("controller", "controller")

	q := shared.Section("query").Start("exec", "db")
	time.Sleep(work)
	q.Stop()

	view := s.Section("view")
	view.Start("render", "view")
	time.Sleep(work / 2)
	view.Stop("render")

	s.Stop("controller")
}

func printDemo(w io.Writer, p *profiling.Profiler, profiles []*profiling.Profile, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"profiles": profiles,
			"stats":    p.Stats().Snapshot(),
		})
	}
	if format != "text" {
		return fmt.Errorf("unknown format %q", format)
	}

	for _, profile := range profiles {
		fmt.Fprintf(w, "== %s %s (%s)\n", profile.Meta.Method, profile.Meta.Path, time.Duration(profile.Duration)*time.Microsecond)
		if data, ok := profile.Collected[profiling.CollectorStopwatch].(*profiling.StopwatchData); ok {
			fmt.Fprintln(w, renderTree(profile, data.Record).String())
		}
		if entries, ok := profile.Collected[profiling.CollectorTimeline].([]timeline.Entry); ok {
			printTimeline(w, profile.StartedAt, entries)
		}
		for _, e := range profile.Errors {
			fmt.Fprintf(w, "error: %s\n", e)
		}
		fmt.Fprintln(w)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FAMILY\tCOUNT\tMEAN\tMODE\tMAX")
	snapshot := p.Stats().Snapshot()
	for _, name := range p.Stats().Names() {
		s := snapshot[name]
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%.0f\t%.2f\n", name, s.Count, s.Mean, s.Mode, s.Max)
	}
	return tw.Flush()
}

func renderTree(profile *profiling.Profile, rec stopwatch.SectionRecord) treeprint.Tree {
	tree := treeprint.New()
	tree.SetValue(profile.ID)
	addSection(tree, rec, profile.StartedAt)
	return tree
}

func addSection(branch treeprint.Tree, rec stopwatch.SectionRecord, base int64) {
	for _, e := range rec.Events {
		node := branch.AddMetaBranch(e.Category, e.Name)
		for _, p := range e.Periods {
			node.AddNode(formatPeriod(p, base))
		}
	}
	for _, s := range rec.Sections {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("#%d", s.ID)
		}
		if s.UnitID != "" {
			name += " (unit)"
		}
		addSection(branch.AddBranch(name), s, base)
	}
}

func formatPeriod(p stopwatch.Period, base int64) string {
	if p.IsOpen() {
		return fmt.Sprintf("+%dus running", p.Start-base)
	}
	return fmt.Sprintf("+%dus %dus", p.Start-base, p.Duration())
}

func printTimeline(w io.Writer, base int64, entries []timeline.Entry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "IDX\tKIND\tNAME\tCATEGORY\tSTART\tDURATION")
	for _, e := range entries {
		kind, name := "event", e.Name
		if e.IsSection {
			kind, name = "section", e.Section
		}
		start := "-"
		if e.HasPeriods {
			start = fmt.Sprintf("+%dus", e.FirstPeriod.Start-base)
		}
		duration := fmt.Sprintf("%dus", e.Duration())
		if e.Running {
			duration += " running"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", e.Idx, kind, name, e.Category, start, duration)
	}
	tw.Flush()
}

// runtimeProbe reports the Go heap as memory. CPU is not sampled.
type runtimeProbe struct{}

func (runtimeProbe) Sample(context.Context) (profiling.ResourceSample, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return profiling.ResourceSample{Memory: float64(ms.HeapAlloc)}, nil
}

func memoryUsage() stopwatch.MemoryUsage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return stopwatch.MemoryUsage{
		RSS:       ms.Sys,
		HeapTotal: ms.HeapSys,
		HeapUsed:  ms.HeapAlloc,
		External:  ms.StackSys,
	}
}
