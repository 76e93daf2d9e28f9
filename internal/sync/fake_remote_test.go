package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/lbmoreira/onyx-sync/internal/cloud"
	"github.com/lbmoreira/onyx-sync/internal/record"
	"github.com/lbmoreira/onyx-sync/internal/store"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLocal(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeRemote is an in-memory cloud.Store. Like the HTTP client, reads
// inject the document key as the id field and writes store only the
// payload fields.
type fakeRemote struct {
	mu      sync.Mutex
	docs    map[string]map[string]record.Record
	ops     []string
	batches [][]cloud.Write

	setErr   map[string]error
	queryErr map[string]error
	batchErr error

	// gate, when set, blocks queries until closed. entered is closed on
	// the first query so tests can wait for a session to be in flight.
	gate      chan struct{}
	entered   chan struct{}
	enterOnce sync.Once
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		docs:     map[string]map[string]record.Record{},
		setErr:   map[string]error{},
		queryErr: map[string]error{},
	}
}

func (f *fakeRemote) tableDocs(table string) map[string]record.Record {
	if f.docs[table] == nil {
		f.docs[table] = map[string]record.Record{}
	}
	return f.docs[table]
}

// put seeds a document, bypassing the Store interface.
func (f *fakeRemote) put(table, id string, rec record.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tableDocs(table)[id] = rec.WithoutID()
}

// doc returns a stored document's fields, or nil.
func (f *fakeRemote) doc(table, id string) record.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.docs[table]
	if t == nil {
		return nil
	}
	return t[id]
}

func (f *fakeRemote) opCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, o := range f.ops {
		if o == op {
			n++
		}
	}
	return n
}

func (f *fakeRemote) ListWhere(_ context.Context, _, table, field, op string, value any) ([]record.Record, error) {
	if f.entered != nil {
		f.enterOnce.Do(func() { close(f.entered) })
	}
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.ops = append(f.ops, "query "+table)

	if err := f.queryErr[table]; err != nil {
		return nil, err
	}

	if field != record.UpdatedAtField || op != ">" {
		return nil, fmt.Errorf("fake remote does not support %s %s", field, op)
	}

	since := toMillis(value)

	var out []record.Record
	for id, fields := range f.docs[table] {
		if fields.UpdatedAt() > since {
			rec := fields.Clone()
			rec[record.IDField] = id
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeRemote) Get(_ context.Context, _, table, id string) (record.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ops = append(f.ops, "get "+table+"/"+id)

	t := f.docs[table]
	if t == nil || t[id] == nil {
		return nil, nil
	}

	rec := t[id].Clone()
	rec[record.IDField] = id
	return rec, nil
}

func (f *fakeRemote) Set(_ context.Context, _, table, id string, rec record.Record, merge bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ops = append(f.ops, "set "+table+"/"+id)

	if err := f.setErr[table]; err != nil {
		return err
	}

	f.apply(cloud.Write{Table: table, ID: id, Record: rec, Merge: merge})
	return nil
}

func (f *fakeRemote) BatchWrite(_ context.Context, _ string, writes []cloud.Write) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ops = append(f.ops, "batch")

	if f.batchErr != nil {
		return f.batchErr
	}

	for _, w := range writes {
		f.apply(w)
	}

	f.batches = append(f.batches, append([]cloud.Write(nil), writes...))
	return nil
}

// apply upserts one write under the server's last-write-wins
// acceptance: a write not newer than the stored document is dropped.
// Callers hold f.mu.
func (f *fakeRemote) apply(w cloud.Write) {
	t := f.tableDocs(w.Table)

	if existing := t[w.ID]; existing != nil && existing.UpdatedAt() >= w.Record.UpdatedAt() {
		return
	}

	if w.Merge && t[w.ID] != nil {
		merged := t[w.ID].Clone()
		for k, v := range w.Record.WithoutID() {
			merged[k] = v
		}
		t[w.ID] = merged
		return
	}

	t[w.ID] = w.Record.WithoutID()
}

func toMillis(v any) int64 {
	switch ts := v.(type) {
	case int64:
		return ts
	case int:
		return int64(ts)
	case float64:
		return int64(ts)
	default:
		return 0
	}
}
