package memory

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultSweepInterval is used when no sweep interval is configured.
const DefaultSweepInterval = 5 * time.Minute

// MaintenanceReport summarizes one maintenance cycle.
type MaintenanceReport struct {
	Entities      int                   `json:"entities"`
	Expired       int                   `json:"expired"`
	Promotion     PromotionResult       `json:"promotion"`
	Consolidation []ConsolidationResult `json:"consolidation,omitempty"`
	CacheCleared  int                   `json:"cache_cleared"`
}

// Start runs maintenance on the sweep interval until Stop.
func (e *Engine) Start(ctx context.Context) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("memory: engine already started")
	}

	interval := e.cfg.Promotion.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	e.log.Info("starting memory engine",
		"sweep_interval", interval,
		"consolidation", e.cfg.Consolidation.Enabled,
		"embedding_dimension", e.cfg.Embedding.Dimension,
	)

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.started = true

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.RunMaintenance(loopCtx)
			case <-loopCtx.Done():
				return
			}
		}
	}(e.done)
	return nil
}

// Running reports whether the maintenance loop is running.
func (e *Engine) Running() bool {
	if e.closed.Load() {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Stop ends the maintenance loop, stops every promotion worker, flushes
// storage and closes the embeddings cache. The engine cannot be used after.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.cancel()
		select {
		case <-e.done:
		case <-ctx.Done():
			e.mu.Unlock()
			return ctx.Err()
		}
		e.started = false
	}
	e.mu.Unlock()

	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.log.Info("stopping memory engine")

	e.tiers.Range(func(_ string, tm *TierManager) bool {
		tm.Close()
		return true
	})

	var errs []error
	if e.db != nil {
		if err := e.db.Sync(); err != nil {
			errs = append(errs, err)
		}
	}
	if cache, ok := e.cache.Peek(); ok {
		if err := cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.log.Info("memory engine stopped")
	return errors.Join(errs...)
}

// RunMaintenance purges expired notes and promotes eligible entries for
// every loaded entity, then consolidates and cleans the embeddings cache
// when their intervals have elapsed.
func (e *Engine) RunMaintenance(ctx context.Context) MaintenanceReport {
	ctx, span := e.tracer.Start(ctx, "memory.maintenance")
	defer span.End()

	var report MaintenanceReport
	var tiers []*TierManager
	e.tiers.Range(func(_ string, tm *TierManager) bool {
		tiers = append(tiers, tm)
		return true
	})
	report.Entities = len(tiers)

	for _, tm := range tiers {
		if ctx.Err() != nil {
			report.Promotion.Canceled = true
			break
		}
		report.Expired += tm.short.PurgeExpired()
		report.Promotion.add(tm.PromoteAllEligible(ctx))
	}

	now := e.now()
	if e.cfg.Consolidation.Enabled && e.due(&e.lastConsolidation, e.cfg.Consolidation.Interval, now) {
		results, err := e.Consolidate(ctx)
		if err != nil {
			e.degrade(ctx, "consolidate", err)
		}
		report.Consolidation = results
	}

	if cache, ok := e.cache.Peek(); ok && e.cfg.Cache.MaxAge > 0 &&
		e.due(&e.lastCacheCleanup, e.cfg.Cache.CleanupInterval, now) {
		n, err := cache.ClearOld(ctx, e.cfg.Cache.MaxAge)
		if err != nil {
			e.degrade(ctx, "cache_cleanup", err)
		}
		report.CacheCleared = n
	}

	if e.db != nil {
		if err := e.db.Sync(); err != nil {
			e.degrade(ctx, "sync", err)
			span.SetStatus(codes.Error, err.Error())
		}
	}

	span.SetAttributes(
		attribute.Int("memory.entities", report.Entities),
		attribute.Int("memory.expired", report.Expired),
		attribute.Int("memory.promoted", report.Promotion.Promoted),
	)
	e.log.DebugContext(ctx, "maintenance cycle finished",
		"entities", report.Entities,
		"expired", report.Expired,
		"promoted", report.Promotion.Promoted,
		"cache_cleared", report.CacheCleared,
	)
	return report
}

// due reports whether interval has passed since *last and, if so, moves
// *last to now.
func (e *Engine) due(last *time.Time, interval time.Duration, now time.Time) bool {
	e.schedMu.Lock()
	defer e.schedMu.Unlock()
	if interval > 0 && now.Sub(*last) < interval {
		return false
	}
	*last = now
	return true
}

// Consolidate merges near-duplicate long-term entries in every loaded
// entity store and in the shared pool.
func (e *Engine) Consolidate(ctx context.Context) ([]ConsolidationResult, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	ctx, span := e.tracer.Start(ctx, "memory.consolidate")
	defer span.End()

	threshold := e.cfg.Consolidation.Threshold
	var (
		results []ConsolidationResult
		errs    []error
	)
	e.tiers.Range(func(_ string, tm *TierManager) bool {
		res, err := Consolidate(ctx, tm.long, threshold)
		tm.noteConsolidated(res.Aliases)
		e.metrics.RecordConsolidation(res.Scope, res.Removed)
		e.metrics.SetLongTermSize(res.Scope, tm.long.Count())
		results = append(results, res)
		if err != nil {
			errs = append(errs, err)
		}
		return ctx.Err() == nil
	})

	if shared, ok := e.shared.Peek(); ok && ctx.Err() == nil {
		res, err := Consolidate(ctx, shared.Store(), threshold)
		e.metrics.RecordConsolidation(res.Scope, res.Removed)
		e.metrics.SetLongTermSize(res.Scope, shared.Store().Count())
		results = append(results, res)
		if err != nil {
			errs = append(errs, err)
		}
	}

	removed := 0
	for _, r := range results {
		removed += r.Removed
	}
	span.SetAttributes(attribute.Int("memory.removed", removed))
	if removed > 0 {
		e.log.InfoContext(ctx, "memories consolidated", "removed", removed, "scopes", len(results))
	}
	err := errors.Join(errs...)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return results, err
}
