package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"printfleet/dashboard-server/internal/fleet"
	"printfleet/dashboard-server/internal/model"
)

// liveness remembers when each printer last reported in. Printers never heard from since startup
// are measured from the tracker's start time.
type liveness struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	started time.Time
	timeout time.Duration
	now     func() time.Time
}

func newLiveness(timeout time.Duration) *liveness {
	return &liveness{
		seen:    make(map[string]time.Time),
		started: time.Now(),
		timeout: timeout,
		now:     time.Now,
	}
}

func (l *liveness) beat(id string) {
	l.mu.Lock()
	l.seen[id] = l.now()
	l.mu.Unlock()
}

func (l *liveness) forget(id string) {
	l.mu.Lock()
	delete(l.seen, id)
	l.mu.Unlock()
}

func (l *liveness) stale(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	last, ok := l.seen[id]
	if !ok {
		last = l.started
	}
	return l.now().Sub(last) > l.timeout
}

func (a *App) startLivenessSweep(ctx context.Context) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(a.cfg.LivenessSchedule, func() {
		sweepCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		a.sweepLiveness(sweepCtx)
	}); err != nil {
		return nil, fmt.Errorf("schedule liveness sweep %q: %w", a.cfg.LivenessSchedule, err)
	}
	c.Start()
	a.logger.Info("liveness sweep scheduled", "schedule", a.cfg.LivenessSchedule, "timeout", a.cfg.HeartbeatTimeout)
	return c, nil
}

// sweepLiveness marks online printers without a recent heartbeat as offline.
func (a *App) sweepLiveness(ctx context.Context) {
	docs, err := a.store.QueryDocuments(ctx, fleet.PrintersQuery())
	if err != nil {
		a.logger.Error("liveness sweep query failed", "error", err)
		return
	}

	offline := false
	for _, doc := range docs {
		p := fleet.NormalizePrinter(doc)
		if !p.IsOnline || !a.liveness.stale(p.ID) {
			continue
		}

		if err := a.fleet.UpdatePrinter(ctx, p.ID, fleet.PrinterPatch{IsOnline: &offline}); err != nil {
			a.logger.Error("liveness sweep update failed", "printer", p.ID, "error", err)
			continue
		}
		a.liveness.forget(p.ID)
		if _, err := a.fleet.AppendLog(ctx, model.LevelWarning, fmt.Sprintf("%s stopped responding", p.Label), time.Time{}); err != nil {
			a.logger.Error("liveness sweep log failed", "printer", p.ID, "error", err)
		}
		a.logger.Info("printer marked offline", "printer", p.ID, "timeout", a.cfg.HeartbeatTimeout)
	}
}
