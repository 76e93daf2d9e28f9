// Package cloud defines the remote document store contract consumed by
// the sync engine, and an HTTP client implementing it against the ONYX
// Link API. Documents live at owner-scoped paths users/{owner}/{table}/{id}.
package cloud

import (
	"context"

	"github.com/lbmoreira/onyx-sync/internal/record"
)

// Write is one document upsert inside a batch.
type Write struct {
	Table  string
	ID     string
	Record record.Record

	// Merge folds the record's fields into an existing document
	// instead of replacing it.
	Merge bool
}

// Store is the remote document store. Records returned by reads carry
// their document key in the id field, so they correlate with local
// records through the same canonical string id used on writes.
type Store interface {
	// ListWhere queries a table for documents matching a single field
	// predicate, e.g. ListWhere(ctx, owner, "habits", "updatedAt", ">", 50).
	ListWhere(ctx context.Context, owner, table, field, op string, value any) ([]record.Record, error)

	// Get returns one document, or nil if it does not exist.
	Get(ctx context.Context, owner, table, id string) (record.Record, error)

	// Set upserts one document. The server resolves concurrent writers
	// by last-write-wins on updatedAt: a write whose updatedAt is not
	// newer than the stored document's is discarded, so a fresher copy
	// pushed from another device survives a stale overwrite.
	Set(ctx context.Context, owner, table, id string, rec record.Record, merge bool) error

	// BatchWrite applies a set of writes atomically, under the same
	// last-write-wins acceptance as Set.
	BatchWrite(ctx context.Context, owner string, writes []Write) error
}
