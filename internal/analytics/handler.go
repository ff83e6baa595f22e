package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// maxTop bounds the ranked lists and snapshot pages a caller may request.
const maxTop = 100

// SnapshotLister returns persisted aggregates, newest first.
type SnapshotLister interface {
	ListSnapshots(ctx context.Context, limit int) ([]AggregatedStats, error)
}

type Handler struct {
	aggregator *Aggregator
	snapshots  SnapshotLister
	logger     *slog.Logger
}

// NewHandler serves live stats from aggregator. snapshots may be nil when
// persistence is disabled.
func NewHandler(aggregator *Aggregator, snapshots SnapshotLister) *Handler {
	return &Handler{
		aggregator: aggregator,
		snapshots:  snapshots,
		logger:     slog.Default().With("component", "analytics-handler"),
	}
}

// Stats serves the live search aggregate. ?top=N trims the strategy, plan
// and sort rankings.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	top, ok := h.limit(w, r, "top", DefaultTop)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, h.aggregator.StatsTop(top))
}

// Snapshots serves the most recent persisted aggregates. ?limit=N, default 10.
func (h *Handler) Snapshots(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "snapshots are disabled"})
		return
	}
	limit, ok := h.limit(w, r, "limit", 10)
	if !ok {
		return
	}
	snaps, err := h.snapshots.ListSnapshots(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list snapshots", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if snaps == nil {
		snaps = []AggregatedStats{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

func (h *Handler) limit(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxTop {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": name + " must be an integer between 1 and " + strconv.Itoa(maxTop),
		})
		return 0, false
	}
	return n, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write analytics response", "error", err)
	}
}
