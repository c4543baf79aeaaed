package scheduler

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/load"

	"photovault/internal/catalog"
	"photovault/internal/logging"
	"photovault/internal/memory"
	"photovault/internal/metrics"
)

// DemandFunc reports foreground thumbnail demand: active generations plus
// queued requests. Background jobs yield while demand is high.
type DemandFunc func() (active, queued int)

// IdleChecker evaluates whether the system has an idle window for background
// work. Verdicts are cached for a short TTL so tight gate loops do not
// hammer the catalog and /proc.
type IdleChecker struct {
	cat    *catalog.Catalog
	mem    *memory.Monitor
	demand DemandFunc

	loadThreshold   float64
	demandThreshold int
	cacheTTL        time.Duration

	mu       sync.Mutex
	cachedAt time.Time
	idle     bool
	reason   string
}

// NewIdleChecker wires the idle predicate. mem and demand may be nil when
// the corresponding signal is not available.
func NewIdleChecker(cat *catalog.Catalog, mem *memory.Monitor, demand DemandFunc, demandThreshold int) *IdleChecker {
	return &IdleChecker{
		cat:             cat,
		mem:             mem,
		demand:          demand,
		loadThreshold:   float64(runtime.NumCPU()),
		demandThreshold: demandThreshold,
		cacheTTL:        2 * time.Second,
	}
}

// Idle reports whether a background window is open and, when it is not, the
// first reason found.
func (ic *IdleChecker) Idle(ctx context.Context) (bool, string) {
	ic.mu.Lock()
	if time.Since(ic.cachedAt) < ic.cacheTTL {
		idle, reason := ic.idle, ic.reason
		ic.mu.Unlock()
		return idle, reason
	}
	ic.mu.Unlock()

	idle, reason := ic.evaluate(ctx)

	ic.mu.Lock()
	ic.cachedAt = time.Now()
	ic.idle = idle
	ic.reason = reason
	ic.mu.Unlock()

	verdict := "idle"
	if !idle {
		verdict = "busy"
	}
	metrics.SchedulerIdleChecks.WithLabelValues(verdict).Inc()
	return idle, reason
}

func (ic *IdleChecker) evaluate(ctx context.Context) (bool, string) {
	if ic.cat != nil {
		st, err := ic.cat.GetIndexStatus(ctx)
		if err != nil {
			logging.Debug("Idle check: index status unavailable: %v", err)
		} else if st.Status == catalog.IndexBuilding {
			return false, "index building"
		}
		cursor, err := ic.cat.GetProgress(ctx, catalog.ProgressKeyLastProcessedPath)
		if err == nil && cursor != "" {
			return false, "rebuild resume pending"
		}
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		if avg.Load1 > ic.loadThreshold {
			return false, "load over threshold"
		}
	}

	if ic.mem != nil && ic.mem.OverBudget() {
		return false, "memory over budget"
	}

	if ic.demand != nil && ic.demandThreshold > 0 {
		active, queued := ic.demand()
		if active+queued > ic.demandThreshold {
			return false, "thumbnail demand"
		}
	}

	return true, ""
}
