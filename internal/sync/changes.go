// Package sync implements the offline-first replication core: the
// change tracker, the per-table push/pull/merge engine, the session
// orchestrator, and the one-time local-to-cloud migration.
package sync

import (
	"context"
	"fmt"

	"github.com/lbmoreira/onyx-sync/internal/cloud"
	"github.com/lbmoreira/onyx-sync/internal/record"
	"github.com/lbmoreira/onyx-sync/internal/store"
)

// Tracker derives "changed since T" record sets from either store.
// Both sides compare the same millisecond epoch and both use strictly
// greater-than, so the watermark instant itself is never re-processed.
// Pure reads, no side effects.
type Tracker struct {
	local  *store.Store
	remote cloud.Store
}

// NewTracker creates a change tracker over the two stores.
func NewTracker(local *store.Store, remote cloud.Store) *Tracker {
	return &Tracker{local: local, remote: remote}
}

// LocalSince returns local records with updatedAt > since.
func (t *Tracker) LocalSince(table string, since int64) ([]record.Record, error) {
	recs, err := t.local.ChangedSince(table, since)
	if err != nil {
		return nil, fmt.Errorf("tracking local changes in %s: %w", table, err)
	}

	return recs, nil
}

// RemoteSince returns remote records with updatedAt > since for owner.
func (t *Tracker) RemoteSince(ctx context.Context, owner, table string, since int64) ([]record.Record, error) {
	recs, err := t.remote.ListWhere(ctx, owner, table, record.UpdatedAtField, ">", since)
	if err != nil {
		return nil, fmt.Errorf("tracking remote changes in %s: %w", table, err)
	}

	return recs, nil
}
