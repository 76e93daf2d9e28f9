package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lbmoreira/onyx-sync/internal/identity"
	"github.com/lbmoreira/onyx-sync/internal/schema"
	"github.com/lbmoreira/onyx-sync/internal/store"
	"golang.org/x/sync/singleflight"
)

// TableFailure records a push or pull error for one table within a
// sync session.
type TableFailure struct {
	Table string `json:"table"`
	Cause string `json:"cause"`
}

// Summary is the result of one sync session, always returned as a
// value: callers inspect failure without anything crashing.
type Summary struct {
	Success  bool           `json:"success"`
	Message  string         `json:"message"`
	SyncedAt int64          `json:"syncedAt,omitempty"`
	Failures []TableFailure `json:"failures,omitempty"`
}

// Orchestrator drives the table sync engine across every syncable
// table in one logical session, owning the lastSync watermark.
type Orchestrator struct {
	engine   *Engine
	local    *store.Store
	provider identity.Provider
	tables   []schema.Table
	logger   *slog.Logger

	// group collapses concurrent SyncAll calls into one session. Two
	// sessions interleaved against the same watermark would corrupt
	// the advance-only-on-full-success invariant; with singleflight a
	// second caller waits for, and shares, the in-flight result.
	group singleflight.Group

	// now is read once per session, before table iteration, so the new
	// watermark can never land after a record written mid-session.
	// Overridable in tests.
	now func() int64

	mu   sync.Mutex
	last *Summary
}

// NewOrchestrator creates a sync orchestrator over the full schema.
// If logger is nil the default slog logger is used.
func NewOrchestrator(engine *Engine, local *store.Store, provider identity.Provider, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		engine:   engine,
		local:    local,
		provider: provider,
		tables:   schema.Tables,
		logger:   logger,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// SyncAll runs one complete sync session and returns its summary.
// Concurrent callers share a single session.
func (o *Orchestrator) SyncAll(ctx context.Context) Summary {
	v, _, _ := o.group.Do("sync", func() (any, error) {
		return o.runSession(ctx), nil
	})

	summary := v.(Summary)

	o.mu.Lock()
	o.last = &summary
	o.mu.Unlock()

	return summary
}

// LastSummary returns the most recent session summary, or nil if no
// session has run yet.
func (o *Orchestrator) LastSummary() *Summary {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.last
}

func (o *Orchestrator) runSession(ctx context.Context) Summary {
	owner := o.provider.OwnerID()
	if owner == "" {
		return Summary{Success: false, Message: "not signed in"}
	}

	lastSync, err := o.local.LastSync()
	if err != nil {
		return Summary{Success: false, Message: fmt.Sprintf("reading sync watermark: %v", err)}
	}

	// Computed before iterating tables: a record written while a later
	// table is still syncing gets updatedAt >= now, stays above the new
	// watermark, and is picked up by the next session.
	now := o.now()

	o.logger.Info("sync session starting",
		slog.String("owner", owner),
		slog.Int64("last_sync", lastSync),
	)

	var failures []TableFailure

	for _, tbl := range o.tables {
		if tbl.LocalOnly {
			continue
		}

		if err := o.engine.SyncTable(ctx, tbl.Name, owner, lastSync); err != nil {
			o.logger.Warn("table sync failed",
				slog.String("table", tbl.Name),
				slog.String("error", err.Error()),
			)
			failures = append(failures, TableFailure{Table: tbl.Name, Cause: err.Error()})
		}
	}

	if len(failures) > 0 {
		// Watermark untouched: the next session retries the same window
		// for every table. Tables that already succeeded re-run as
		// harmless upserts.
		return Summary{
			Success:  false,
			Message:  fmt.Sprintf("%d of %d tables failed to sync", len(failures), len(schema.SyncTables())),
			Failures: failures,
		}
	}

	if err := o.local.SetLastSync(now); err != nil {
		return Summary{Success: false, Message: fmt.Sprintf("saving sync watermark: %v", err)}
	}

	o.logger.Info("sync session complete", slog.Int64("watermark", now))

	return Summary{
		Success:  true,
		SyncedAt: now,
		Message:  "synced at " + time.UnixMilli(now).Format(time.RFC3339),
	}
}
