// Package server provides the local HTTP trigger surface for onyx-sync.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/lbmoreira/onyx-sync/internal/identity"
	"github.com/lbmoreira/onyx-sync/internal/store"
	syncer "github.com/lbmoreira/onyx-sync/internal/sync"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Orchestrator *syncer.Orchestrator
	Store        *store.Store
	Provider     identity.Provider
	Logger       *slog.Logger
}

// statusResponse is the GET /status payload.
type statusResponse struct {
	Owner    string          `json:"owner,omitempty"`
	SignedIn bool            `json:"signedIn"`
	LastSync int64           `json:"lastSync"`
	Last     *syncer.Summary `json:"lastSession,omitempty"`
}

// NewMux builds the HTTP mux with the sync trigger and status
// endpoints. Sync failures come back as a 200 with success=false; the
// summary is the result value, not a transport error.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /sync", func(w http.ResponseWriter, r *http.Request) {
		summary := cfg.Orchestrator.SyncAll(r.Context())

		writeJSON(w, cfg.Logger, summary)
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		lastSync, err := cfg.Store.LastSync()
		if err != nil {
			cfg.Logger.Warn("reading watermark for status", slog.String("error", err.Error()))
			http.Error(w, "reading sync state", http.StatusInternalServerError)

			return
		}

		owner := cfg.Provider.OwnerID()
		writeJSON(w, cfg.Logger, statusResponse{
			Owner:    owner,
			SignedIn: owner != "",
			LastSync: lastSync,
			Last:     cfg.Orchestrator.LastSummary(),
		})
	})

	return mux
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("encoding response", slog.String("error", err.Error()))
	}
}
