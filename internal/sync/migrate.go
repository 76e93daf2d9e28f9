package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lbmoreira/onyx-sync/internal/cloud"
	onyxerrors "github.com/lbmoreira/onyx-sync/internal/errors"
	"github.com/lbmoreira/onyx-sync/internal/record"
	"github.com/lbmoreira/onyx-sync/internal/schema"
	"github.com/lbmoreira/onyx-sync/internal/store"
)

const (
	// systemTable holds per-identity bookkeeping documents, outside the
	// domain schema.
	systemTable = "system"

	// settingsDoc is the system document carrying the migration flag.
	settingsDoc = "settings"

	// migratedField marks an identity whose local data has been
	// transplanted to the remote store.
	migratedField = "migrated"

	// migrationBatchLimit caps writes per remote batch, below typical
	// document-store batch limits.
	migrationBatchLimit = 400
)

// Runner performs the one-time bulk transplant of all local data into
// the remote store for a newly authenticated identity.
type Runner struct {
	local  *store.Store
	remote cloud.Store
	logger *slog.Logger

	now func() int64
}

// NewRunner creates a migration runner. If logger is nil the default
// slog logger is used.
func NewRunner(local *store.Store, remote cloud.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		local:  local,
		remote: remote,
		logger: logger,
		now:    func() int64 { return time.Now().UnixMilli() },
	}
}

// Migrate bulk-copies every local table into the remote store for
// owner, unless the remote migrated flag is already set. The flag is
// read fresh on every call (never cached) so a second device racing
// the same identity at worst repeats idempotent upserts. The flag
// write goes last, after every data batch succeeded; any failure
// leaves it unset and the next sign-in retries from scratch.
func (r *Runner) Migrate(ctx context.Context, owner string) error {
	if owner == "" {
		return onyxerrors.ErrUnauthenticated
	}

	flag, err := r.remote.Get(ctx, owner, systemTable, settingsDoc)
	if err != nil {
		return fmt.Errorf("reading migration flag: %w", err)
	}

	if flag != nil {
		if migrated, ok := flag[migratedField].(bool); ok && migrated {
			return nil
		}
	}

	r.logger.Info("migrating local data", slog.String("owner", owner))

	now := r.now()
	copied := 0

	var batch []cloud.Write

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}

		if err := r.remote.BatchWrite(ctx, owner, batch); err != nil {
			return fmt.Errorf("writing migration batch of %d: %w", len(batch), err)
		}

		copied += len(batch)
		batch = nil

		return nil
	}

	for _, tbl := range schema.MigrationTables() {
		recs, err := r.local.List(tbl.Name)
		if err != nil {
			return fmt.Errorf("reading local table %s: %w", tbl.Name, err)
		}

		for _, rec := range recs {
			id := rec.CanonicalID()
			if id == "" {
				id = uuid.NewString()
			}

			// The identifier becomes the document key, not a payload
			// field.
			payload := rec.WithoutID()
			payload[record.MigratedAtField] = now

			batch = append(batch, cloud.Write{Table: tbl.Name, ID: id, Record: payload})

			if len(batch) >= migrationBatchLimit {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}

	if err := flush(); err != nil {
		return err
	}

	// Flag batch last, only after all data batches succeeded.
	err = r.remote.BatchWrite(ctx, owner, []cloud.Write{{
		Table: systemTable,
		ID:    settingsDoc,
		Record: record.Record{
			migratedField:         true,
			record.UpdatedAtField: now,
		},
		Merge: true,
	}})
	if err != nil {
		return fmt.Errorf("setting migration flag: %w", err)
	}

	r.logger.Info("migration complete",
		slog.String("owner", owner),
		slog.Int("records", copied),
	)

	return nil
}
