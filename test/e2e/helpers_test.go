package e2e_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/lbmoreira/onyx-sync/internal/cloud"
	"github.com/lbmoreira/onyx-sync/internal/record"
	"github.com/lbmoreira/onyx-sync/internal/store"
	syncer "github.com/lbmoreira/onyx-sync/internal/sync"
	"github.com/stretchr/testify/require"
)

const (
	testEmail    = "e2e@onyxlink.app"
	testPassword = "e2e-test-password"
	testOwner    = "e2e-owner-001"
	testToken    = "e2e-token-abc"
)

// fakeAPI is an in-memory ONYX Link API: signin, token validation, and
// the owner-scoped document endpoints the sync client talks to.
type fakeAPI struct {
	mu   sync.Mutex
	docs map[string]map[string]record.Record // table -> id -> fields

	batchCalls int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{docs: map[string]map[string]record.Record{}}
}

// doc returns a stored document's fields, or nil.
func (a *fakeAPI) doc(table, id string) record.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.docs[table]
	if t == nil {
		return nil
	}
	return t[id]
}

// put seeds a document directly, as if another device had written it.
func (a *fakeAPI) put(table, id string, fields record.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.docs[table] == nil {
		a.docs[table] = map[string]record.Record{}
	}
	a.docs[table][id] = fields
}

func (a *fakeAPI) batchCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.batchCalls
}

type wireDocument struct {
	ID     string        `json:"id"`
	Fields record.Record `json:"fields"`
}

func (a *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request")
			return
		}

		if req.Email != testEmail || req.Password != testPassword {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		writeBody(w, map[string]string{
			"userId": testOwner,
			"token":  testToken,
			"email":  testEmail,
		})
	})

	mux.HandleFunc("GET /v1/auth/me", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			writeError(w, http.StatusUnauthorized, "missing or invalid token")
			return
		}

		writeBody(w, map[string]string{"userId": testOwner})
	})

	mux.HandleFunc("/v1/users/", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			writeError(w, http.StatusUnauthorized, "missing or invalid token")
			return
		}

		a.handleDocs(w, r)
	})

	return mux
}

// handleDocs routes the owner-scoped document endpoints:
//
//	POST /v1/users/{owner}:batchWrite
//	POST /v1/users/{owner}/{table}:query
//	GET  /v1/users/{owner}/{table}/{id}
//	PUT  /v1/users/{owner}/{table}/{id}
func (a *fakeAPI) handleDocs(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 1 && strings.HasSuffix(parts[0], ":batchWrite") && r.Method == http.MethodPost:
		a.handleBatchWrite(w, r)
	case len(parts) == 2 && strings.HasSuffix(parts[1], ":query") && r.Method == http.MethodPost:
		a.handleQuery(w, r, strings.TrimSuffix(parts[1], ":query"))
	case len(parts) == 3 && r.Method == http.MethodGet:
		a.handleGet(w, parts[1], parts[2])
	case len(parts) == 3 && r.Method == http.MethodPut:
		a.handleSet(w, r, parts[1], parts[2])
	default:
		writeError(w, http.StatusNotFound, "no such endpoint")
	}
}

func (a *fakeAPI) handleQuery(w http.ResponseWriter, r *http.Request, table string) {
	var req struct {
		Field string  `json:"field"`
		Op    string  `json:"op"`
		Value float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed query")
		return
	}

	if req.Field != "updatedAt" || req.Op != ">" {
		writeError(w, http.StatusBadRequest, "unsupported query")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	docs := []wireDocument{}
	for id, fields := range a.docs[table] {
		if fields.UpdatedAt() > int64(req.Value) {
			docs = append(docs, wireDocument{ID: id, Fields: fields})
		}
	}

	writeBody(w, map[string]any{"documents": docs})
}

func (a *fakeAPI) handleGet(w http.ResponseWriter, table, id string) {
	fields := a.doc(table, id)
	if fields == nil {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}

	writeBody(w, wireDocument{ID: id, Fields: fields})
}

func (a *fakeAPI) handleSet(w http.ResponseWriter, r *http.Request, table, id string) {
	var req struct {
		Fields record.Record `json:"fields"`
		Merge  bool          `json:"merge"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed document")
		return
	}

	a.apply(table, id, req.Fields, req.Merge)
	writeBody(w, map[string]any{})
}

func (a *fakeAPI) handleBatchWrite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Writes []struct {
			Table  string        `json:"table"`
			ID     string        `json:"id"`
			Fields record.Record `json:"fields"`
			Merge  bool          `json:"merge"`
		} `json:"writes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed batch")
		return
	}

	for _, wr := range req.Writes {
		a.apply(wr.Table, wr.ID, wr.Fields, wr.Merge)
	}

	a.mu.Lock()
	a.batchCalls++
	a.mu.Unlock()

	writeBody(w, map[string]any{})
}

// apply upserts one document under the server's last-write-wins
// acceptance: a write not newer than the stored document is dropped.
func (a *fakeAPI) apply(table, id string, fields record.Record, merge bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.docs[table] == nil {
		a.docs[table] = map[string]record.Record{}
	}

	if existing := a.docs[table][id]; existing != nil && existing.UpdatedAt() >= fields.UpdatedAt() {
		return
	}

	if merge && a.docs[table][id] != nil {
		merged := a.docs[table][id].Clone()
		for k, v := range fields {
			merged[k] = v
		}
		a.docs[table][id] = merged
		return
	}

	a.docs[table][id] = fields
}

func authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+testToken
}

func writeBody(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness wires the full client stack against a fake API: local bbolt
// store, HTTP document client, migration runner, and sync orchestrator.
type harness struct {
	API    *fakeAPI
	Client *cloud.Client
	Local  *store.Store
	Runner *syncer.Runner
	Orch   *syncer.Orchestrator
}

type staticProvider string

func (p staticProvider) OwnerID() string { return string(p) }

func newHarness(t *testing.T) *harness {
	t.Helper()

	api := newFakeAPI()
	ts := httptest.NewServer(api.handler())
	t.Cleanup(ts.Close)

	local, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	logger := quietLogger()
	client := cloud.NewClient(ts.URL, ts.Client())
	engine := syncer.NewEngine(local, client, logger)

	return &harness{
		API:    api,
		Client: client,
		Local:  local,
		Runner: syncer.NewRunner(local, client, logger),
		Orch:   syncer.NewOrchestrator(engine, local, staticProvider(testOwner), logger),
	}
}

// signin authenticates the harness client with the test credentials.
func (h *harness) signin(t *testing.T) string {
	t.Helper()

	resp, err := h.Client.Signin(t.Context(), testEmail, testPassword, "e2e")
	require.NoError(t, err)
	return resp.UserID
}
