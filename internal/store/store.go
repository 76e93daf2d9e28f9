// Package store implements the local ONYX table store on bbolt: one
// bucket per schema table, JSON-encoded records keyed by canonical id,
// auto-increment id allocation, and writer-side timestamping.
package store

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/lbmoreira/onyx-sync/internal/record"
	"github.com/lbmoreira/onyx-sync/internal/schema"
	bolt "go.etcd.io/bbolt"
)

const (
	// dataDirPerm is the permission mode for the data directory.
	dataDirPerm = fs.FileMode(0o700)

	// dataFilePerm is the permission mode for the database file.
	dataFilePerm = fs.FileMode(0o600)

	// openTimeout is the maximum time to wait for the bolt database lock.
	openTimeout = 5 * time.Second
)

var (
	metaBucket  = []byte("meta")
	lastSyncKey = []byte("last_sync")
	tokenKey    = []byte("token")
)

func tableBucket(table string) []byte {
	return []byte("table:" + table)
}

// checkTable rejects table names outside the declared schema before
// any bucket access.
func checkTable(table string) error {
	if _, ok := schema.Lookup(table); !ok {
		return fmt.Errorf("unknown table %q", table)
	}

	return nil
}

// Store wraps a bbolt database holding every local table plus the sync
// watermark and cached session token. All writes stamp updatedAt; the
// read path never touches timestamps.
type Store struct {
	db *bolt.DB

	// now is the write-stamp clock, overridable in tests.
	now func() int64
}

// Open opens the database at <dir>/onyx.db, creating directory and file
// if needed.
func Open(dir string) (*Store, error) {
	return OpenAt(filepath.Join(dir, "onyx.db"))
}

// OpenAt opens a database at the given path, creating it if it does not
// exist. Buckets for every schema table are created on open, so later
// reads and writes can assume they exist.
func OpenAt(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), dataDirPerm); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := bolt.Open(path, dataFilePerm, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening local db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(metaBucket); err != nil {
			return err
		}

		for _, t := range schema.Tables {
			if _, err := tx.CreateBucketIfNotExists(tableBucket(t.Name)); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing local db: %w", err)
	}

	return &Store{
		db:  db,
		now: func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert writes a record into a table, stamping updatedAt with the
// current time and createdAt if absent. Records without an id are
// assigned the table's next auto-increment id. Returns the canonical
// id the record was stored under.
func (s *Store) Upsert(table string, rec record.Record) (string, error) {
	if err := checkTable(table); err != nil {
		return "", fmt.Errorf("upserting into %s: %w", table, err)
	}

	rec = rec.Clone()

	var id string

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tableBucket(table))
		if b == nil {
			return fmt.Errorf("table %s not initialized", table)
		}

		now := s.now()
		rec[record.UpdatedAtField] = now

		if rec[record.CreatedAtField] == nil {
			rec[record.CreatedAtField] = now
		}

		if rec[record.IDField] == nil {
			n, err := b.NextSequence()
			if err != nil {
				return fmt.Errorf("allocating id: %w", err)
			}

			rec[record.IDField] = int64(n)
		}

		id = rec.CanonicalID()
		if id == "" {
			return fmt.Errorf("record has unusable id %v", rec[record.IDField])
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding record: %w", err)
		}

		return b.Put([]byte(id), data)
	})
	if err != nil {
		return "", fmt.Errorf("upserting into %s: %w", table, err)
	}

	return id, nil
}

// BulkPut writes records into a table as-is, preserving their ids and
// timestamps. Used by the sync merge step, where the remote copy's
// updatedAt must survive unchanged: the reader never stamps.
func (s *Store) BulkPut(table string, recs []record.Record) error {
	if err := checkTable(table); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tableBucket(table))
		if b == nil {
			return fmt.Errorf("table %s not initialized", table)
		}

		for _, rec := range recs {
			id := rec.CanonicalID()
			if id == "" {
				return fmt.Errorf("record in %s has no id", table)
			}

			data, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encoding record %s/%s: %w", table, id, err)
			}

			if err := b.Put([]byte(id), data); err != nil {
				return fmt.Errorf("writing record %s/%s: %w", table, id, err)
			}
		}

		return nil
	})
}

// Delete removes a record by canonical id. Missing records are not an
// error (idempotent).
func (s *Store) Delete(table, id string) error {
	if err := checkTable(table); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(tableBucket(table))
		if b == nil {
			return nil
		}

		return b.Delete([]byte(id))
	})
}

// Get returns a record by canonical id, or nil if not found.
func (s *Store) Get(table, id string) (record.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}

	var rec record.Record

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(tableBucket(table))
		if b == nil {
			return nil
		}

		v := b.Get([]byte(id))
		if v == nil {
			return nil
		}

		rec = record.Record{}

		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", table, id, err)
	}

	return rec, nil
}

// List returns every record in a table.
func (s *Store) List(table string) ([]record.Record, error) {
	return s.ListWhere(table, nil)
}

// ListWhere returns the records in a table matching the predicate.
// A nil predicate matches everything.
func (s *Store) ListWhere(table string, keep func(record.Record) bool) ([]record.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, fmt.Errorf("listing %s: %w", table, err)
	}

	var out []record.Record

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(tableBucket(table))
		if b == nil {
			return fmt.Errorf("table %s not initialized", table)
		}

		return b.ForEach(func(k, v []byte) error {
			rec := record.Record{}
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decoding record %s: %w", k, err)
			}

			if keep == nil || keep(rec) {
				out = append(out, rec)
			}

			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", table, err)
	}

	return out, nil
}

// ChangedSince returns the records in a table with updatedAt strictly
// greater than since. Strict comparison keeps the watermark instant
// itself from being re-processed on the next session.
func (s *Store) ChangedSince(table string, since int64) ([]record.Record, error) {
	return s.ListWhere(table, func(rec record.Record) bool {
		return rec.UpdatedAt() > since
	})
}

// LastSync returns the persisted sync watermark in milliseconds, or 0
// if no session has ever completed.
func (s *Store) LastSync() (int64, error) {
	var ts int64

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(lastSyncKey)
		if v == nil {
			return nil
		}

		return json.Unmarshal(v, &ts)
	})
	if err != nil {
		return 0, fmt.Errorf("reading sync watermark: %w", err)
	}

	return ts, nil
}

// SetLastSync persists the sync watermark.
func (s *Store) SetLastSync(ts int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(ts)
		if err != nil {
			return err
		}

		return tx.Bucket(metaBucket).Put(lastSyncKey, data)
	})
}

// Token returns the cached session token, or empty string.
func (s *Store) Token() string {
	var token string

	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(tokenKey)
		if v != nil {
			token = string(v)
		}

		return nil
	})

	return token
}

// SetToken persists the session token.
func (s *Store) SetToken(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put(tokenKey, []byte(token))
	})
}
