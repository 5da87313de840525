package profiling

import (
	"context"
	"sort"
	"sync"
)

type HookType string

const (
	HookUnitStart  HookType = "unit.start"
	HookUnitFinish HookType = "unit.finish"
	HookStatSample HookType = "stat.sample"
)

// HookContext carries what a hook fires for. Profile is set on unit.finish,
// Stat on stat.sample.
type HookContext struct {
	Ctx     context.Context
	Type    HookType
	Unit    *Unit
	Profile *Profile
	Stat    *ProcessStat
}

type HookHandler func(hc *HookContext) error

type hookRegistration struct {
	name     string
	handler  HookHandler
	priority int
}

type hooks struct {
	mu     sync.RWMutex
	byType map[HookType][]*hookRegistration
	logger Logger
}

func newHooks(logger Logger) *hooks {
	return &hooks{
		byType: make(map[HookType][]*hookRegistration),
		logger: logger,
	}
}

func (h *hooks) add(name string, hookType HookType, handler HookHandler, priority int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := append(h.byType[hookType], &hookRegistration{
		name:     name,
		handler:  handler,
		priority: priority,
	})
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].priority < list[j].priority
	})
	h.byType[hookType] = list
	h.logger.Debugw("hook registered", "name", name, "hook", hookType, "priority", priority)
}

// run calls every handler in priority order. A failing handler is logged and
// the rest still run; the number of failures is returned.
func (h *hooks) run(hc *HookContext) int {
	h.mu.RLock()
	list := h.byType[hc.Type]
	h.mu.RUnlock()

	failed := 0
	for _, reg := range list {
		if err := reg.handler(hc); err != nil {
			failed++
			h.logger.Errorw("hook execution failed", "name", reg.name, "hook", hc.Type, "error", err)
		}
	}
	return failed
}
