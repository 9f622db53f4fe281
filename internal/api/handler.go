package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/mtlprog/dcastat/internal/domain"
	"github.com/mtlprog/dcastat/internal/export"
	"github.com/mtlprog/dcastat/internal/worker"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// SnapshotSource returns the latest published snapshot.
type SnapshotSource interface {
	Latest() (domain.Snapshot, bool)
}

// Poller exposes the polling state and manual refresh.
type Poller interface {
	Status() worker.Status
	Refresh() error
}

// Handler provides HTTP endpoints for the dashboard API.
type Handler struct {
	snapshots SnapshotSource
	poller    Poller
}

// NewHandler creates a new API handler.
func NewHandler(snapshots SnapshotSource, poller Poller) *Handler {
	return &Handler{snapshots: snapshots, poller: poller}
}

type snapshotResponse struct {
	domain.Snapshot
	Status worker.Status `json:"status"`
}

type unavailableResponse struct {
	Error  string        `json:"error"`
	Status worker.Status `json:"status"`
}

// latest writes 503 with the poller status and returns false when nothing has been published yet.
func (h *Handler) latest(w http.ResponseWriter) (domain.Snapshot, bool) {
	snap, ok := h.snapshots.Latest()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, unavailableResponse{
			Error:  "no snapshot available yet",
			Status: h.poller.Status(),
		})
	}
	return snap, ok
}

// GetSnapshot handles GET /api/v1/snapshot.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.latest(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{Snapshot: snap, Status: h.poller.Status()})
}

// GetPositions handles GET /api/v1/positions?token=&direction=&active=.
func (h *Handler) GetPositions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var direction domain.Direction
	if d := q.Get("direction"); d != "" {
		direction = domain.Direction(strings.ToUpper(d))
		if direction != domain.DirectionBuy && direction != domain.DirectionSell {
			writeError(w, http.StatusBadRequest, "direction must be BUY or SELL")
			return
		}
	}

	var active *bool
	if a := q.Get("active"); a != "" {
		v, err := strconv.ParseBool(a)
		if err != nil {
			writeError(w, http.StatusBadRequest, "active must be true or false")
			return
		}
		active = &v
	}

	snap, ok := h.latest(w)
	if !ok {
		return
	}

	token := q.Get("token")
	positions := lo.Filter(snap.Positions, func(p domain.Position, _ int) bool {
		if token != "" && !strings.EqualFold(p.Token, token) && string(p.Mint) != token {
			return false
		}
		if direction != "" && p.Direction != direction {
			return false
		}
		return active == nil || p.IsActive == *active
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"generatedAt": snap.GeneratedAt,
		"count":       len(positions),
		"positions":   positions,
	})
}

// GetSummary handles GET /api/v1/summary.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.latest(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generatedAt": snap.GeneratedAt,
		"summary":     snap.Summary,
		"warnings":    snap.Warnings,
	})
}

// GetChart handles GET /api/v1/chart/{token}. The token is a symbol or a mint.
func (h *Handler) GetChart(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.latest(w)
	if !ok {
		return
	}

	mint, found := resolveToken(snap, r.PathValue("token"))
	points, hasPoints := snap.ChartData[mint]
	if !found || !hasPoints {
		writeError(w, http.StatusNotFound, "no chart data for token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mint":   mint,
		"points": points,
	})
}

// GetStatus handles GET /api/v1/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": h.poller.Status()}
	if snap, ok := h.snapshots.Latest(); ok {
		resp["generatedAt"] = snap.GeneratedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// Refresh handles POST /api/v1/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.poller.Refresh(); err != nil {
		if errors.Is(err, worker.ErrFetchInFlight) {
			writeError(w, http.StatusConflict, "fetch already in flight")
			return
		}
		slog.Error("failed to schedule refresh", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh scheduled"})
}

// ExportXLSX handles GET /api/v1/export.xlsx.
func (h *Handler) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.latest(w)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="dcastat-%s.xlsx"`, snap.GeneratedAt.UTC().Format("20060102-150405")))
	if err := export.WriteXLSX(w, snap); err != nil {
		slog.Error("failed to write xlsx export", "error", err)
	}
}

// resolveToken maps a symbol (case-insensitive) or mint to the mint used in the snapshot.
func resolveToken(snap domain.Snapshot, token string) (domain.TokenID, bool) {
	if token == "" {
		return "", false
	}
	if _, ok := snap.ChartData[domain.TokenID(token)]; ok {
		return domain.TokenID(token), true
	}
	for mint, s := range snap.Summary {
		if strings.EqualFold(s.Token, token) {
			return mint, true
		}
	}
	for _, p := range snap.Positions {
		if strings.EqualFold(p.Token, token) {
			return p.Mint, true
		}
	}
	return "", false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal JSON response", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Warn("failed to write HTTP response body", "error", err)
		return
	}
	_, _ = w.Write([]byte("\n"))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

