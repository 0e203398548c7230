// Package statushttp is the bridge validator's read-only monitoring
// surface (spec.md §6): health/readiness probes, aggregate stats, and
// per-transfer inspection, entirely out of the critical relay path.
// Grounded on the teacher's cmd/relayer/main.go inline chi route
// definitions, pulled into their own package so they can be unit tested
// without a live HTTP listener.
package statushttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/chainsafe/l0l1-bridge-validator/pkg/app/errors"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/store"
	"github.com/chainsafe/l0l1-bridge-validator/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// statusStore is the subset of store.Store the status surface reads from.
// It never writes.
type statusStore interface {
	GetTransfer(ctx context.Context, source types.ChainId, transferID string) (*types.TransferRecord, error)
	ListOpenTransfers(ctx context.Context) ([]types.TransferRecord, error)
	GetStats(ctx context.Context) (types.Stats, error)
	ListValidatorCounters(ctx context.Context) ([]types.ValidatorCounters, error)
}

// coordinatorStatus is the subset of *coordinator.Coordinator the surface
// reads from.
type coordinatorStatus interface {
	PeerCount() int
	OpenRecordCount() int
}

// chainWatcher reports whether a watcher has completed its first poll
// cycle, gating /ready.
type chainWatcher interface {
	Ready() bool
}

type Router struct {
	store       statusStore
	coordinator coordinatorStatus
	watcherA    chainWatcher
	watcherB    chainWatcher
	logger      *zap.Logger
}

// New builds the chi.Mux serving spec.md §6's status routes plus
// /metrics and /ready.
func New(store statusStore, coordinator coordinatorStatus, watcherA, watcherB chainWatcher, logger *zap.Logger) http.Handler {
	rt := &Router{store: store, coordinator: coordinator, watcherA: watcherA, watcherB: watcherB, logger: logger.Named("statushttp")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", rt.handleHealth)
	r.Get("/ready", rt.handleReady)
	r.Get("/status", rt.handleStatus)
	r.Get("/stats", rt.handleStats)
	r.Get("/transfers/pending", rt.handlePendingTransfers)
	r.Get("/transfers/{id}", rt.handleTransfer)
	r.Get("/transfers/{id}/attestations", rt.handleAttestations)
	r.Get("/validators", rt.handleValidators)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (rt *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (rt *Router) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !rt.watcherA.Ready() || !rt.watcherB.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("NOT_READY"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("READY"))
}

func (rt *Router) handleStatus(w http.ResponseWriter, r *http.Request) {
	rt.writeJSON(w, http.StatusOK, map[string]any{
		"status":       "running",
		"peer_count":   rt.coordinator.PeerCount(),
		"open_records": rt.coordinator.OpenRecordCount(),
	})
}

func (rt *Router) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.store.GetStats(r.Context())
	if err != nil {
		rt.writeError(w, apperrors.GeneralError(err))
		return
	}
	rt.writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) handlePendingTransfers(w http.ResponseWriter, r *http.Request) {
	records, err := rt.store.ListOpenTransfers(r.Context())
	if err != nil {
		rt.writeError(w, apperrors.GeneralError(err))
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{"transfers": records})
}

func (rt *Router) handleTransfer(w http.ResponseWriter, r *http.Request) {
	record, err := rt.lookupTransfer(w, r)
	if err != nil {
		return
	}
	rt.writeJSON(w, http.StatusOK, record)
}

func (rt *Router) handleAttestations(w http.ResponseWriter, r *http.Request) {
	record, err := rt.lookupTransfer(w, r)
	if err != nil {
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{"attestations": record.Attestations})
}

// lookupTransfer resolves the {id} path param plus a required ?source=
// query param (types.ChainA "A" or types.ChainB "B"), since
// TransferRecord is keyed on (source, transfer_id), not transfer_id
// alone. Writes the HTTP error response itself when it returns a non-nil
// error.
func (rt *Router) lookupTransfer(w http.ResponseWriter, r *http.Request) (*types.TransferRecord, error) {
	id := chi.URLParam(r, "id")
	source := types.ChainId(r.URL.Query().Get("source"))
	if !source.Valid() {
		err := apperrors.BadRequestError(nil, "source query parameter must be A or B")
		rt.writeError(w, err)
		return nil, err
	}

	record, err := rt.store.GetTransfer(r.Context(), source, id)
	if errors.Is(err, store.ErrTransferNotFound) {
		record, err = nil, nil
	}
	if err != nil {
		wrapped := apperrors.GeneralError(err)
		rt.writeError(w, wrapped)
		return nil, wrapped
	}
	if record == nil {
		err := apperrors.ResourceNotFoundError(nil, "transfer not found")
		rt.writeError(w, err)
		return nil, err
	}
	return record, nil
}

func (rt *Router) handleValidators(w http.ResponseWriter, r *http.Request) {
	counters, err := rt.store.ListValidatorCounters(r.Context())
	if err != nil {
		rt.writeError(w, apperrors.GeneralError(err))
		return
	}
	rt.writeJSON(w, http.StatusOK, map[string]any{"validators": counters})
}

func (rt *Router) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		rt.logger.Error("encode response failed", zap.Error(err))
	}
}

func (rt *Router) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if se, ok := err.(*apperrors.ServiceError); ok {
		status = se.StatusCode()
	}
	rt.writeJSON(w, status, map[string]string{"error": err.Error()})
}
