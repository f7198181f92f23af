package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/openhours/libs/httpx"
	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/openhours/services/availability-service/internal/service"
)

type Handler struct {
	svc    *service.Service
	logger *slog.Logger
}

func New(svc *service.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the API on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("PUT /api/v1/availability/{kind}/{id}", h.PutWindows)
	mux.HandleFunc("GET /api/v1/availability/{kind}/{id}", h.GetAvailability)
	mux.HandleFunc("GET /api/v1/availability/{kind}/{id}/windows", h.GetWindows)
	mux.HandleFunc("DELETE /api/v1/availability/{kind}/{id}", h.DeleteEntity)
	mux.HandleFunc("POST /api/v1/availability/conflicts", h.CheckConflicts)
}

type putWindowsRequest struct {
	Timezone        string                     `json:"timezone"`
	CacheTTLSeconds *int                       `json:"cache_ttl_seconds"`
	Windows         []availability.WindowInput `json:"windows"`
}

type windowsResponse struct {
	Windows   []availability.Window       `json:"windows"`
	Conflicts availability.ConflictReport `json:"conflicts"`
}

func (h *Handler) PutWindows(w http.ResponseWriter, r *http.Request) {
	var req putWindowsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.Windows == nil {
		httpx.WriteError(w, http.StatusBadRequest, "missing_field", "windows: "+availability.ErrMissingField.Error())
		return
	}
	var ttl time.Duration
	if req.CacheTTLSeconds != nil {
		ttl = time.Duration(*req.CacheTTLSeconds) * time.Second
	}

	res, err := h.svc.ReplaceWindows(r.Context(), service.ReplaceRequest{
		Kind:     r.PathValue("kind"),
		ID:       r.PathValue("id"),
		Timezone: req.Timezone,
		CacheTTL: ttl,
		Windows:  req.Windows,
	})
	if err != nil {
		var conflict *availability.ConflictError
		if errors.As(err, &conflict) {
			httpx.WriteJSON(w, http.StatusConflict, map[string]any{
				"error":     availability.ErrConflictDetected.Error(),
				"kind":      "conflict",
				"conflicts": conflict.Report,
			})
			return
		}
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, windowsResponse{Windows: res.Windows, Conflicts: res.Conflicts})
}

type availabilityResponse struct {
	EntityKind      string              `json:"entity_kind"`
	EntityID        string              `json:"entity_id"`
	IsOpenNow       bool                `json:"is_open_now"`
	Status          availability.Status `json:"status"`
	NextOpenInstant *time.Time          `json:"next_open_instant"`
	NextOpenLocal   *string             `json:"next_open_local"`
	EvaluatedAt     time.Time           `json:"evaluated_at"`
	Timezone        string              `json:"timezone"`
}

// GetAvailability evaluates at ?at= (RFC 3339, server clock when absent) and
// renders the next opening in ?tz= for display.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var at time.Time
	if raw := strings.TrimSpace(q.Get("at")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_field", "at: must be RFC 3339")
			return
		}
		at = parsed
	}
	tz := strings.TrimSpace(q.Get("tz"))
	if tz == "" {
		tz = availability.DefaultTimezone
	}
	if _, err := availability.LoadLocation(tz); err != nil {
		h.writeError(w, r, err)
		return
	}

	kind, id := r.PathValue("kind"), r.PathValue("id")
	res, err := h.svc.Evaluate(r.Context(), kind, id, at)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := availabilityResponse{
		EntityKind:      kind,
		EntityID:        id,
		IsOpenNow:       res.IsOpenNow,
		Status:          res.Status,
		NextOpenInstant: res.NextOpenInstant,
		EvaluatedAt:     res.EvaluatedAt,
		Timezone:        tz,
	}
	if res.NextOpenInstant != nil {
		local, err := availability.FormatInstant(*res.NextOpenInstant, tz)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		out.NextOpenLocal = &local
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

type storedWindow struct {
	ID string `json:"id"`
	availability.WindowSpec
}

func (h *Handler) GetWindows(w http.ResponseWriter, r *http.Request) {
	got, err := h.svc.GetWindows(r.Context(), r.PathValue("kind"), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	windows := make([]storedWindow, 0, len(got.Windows))
	for _, sw := range got.Windows {
		windows = append(windows, storedWindow{ID: sw.ID, WindowSpec: sw.Spec})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"entity_kind":       got.Entity.Kind,
		"entity_id":         got.Entity.ID,
		"timezone":          got.Entity.Timezone,
		"cache_ttl_seconds": int(got.Entity.CacheTTL / time.Second),
		"updated_at":        got.Entity.UpdatedAt,
		"windows":           windows,
	})
}

func (h *Handler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteEntity(r.Context(), r.PathValue("kind"), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type conflictsRequest struct {
	Timezone string                     `json:"timezone"`
	Windows  []availability.WindowInput `json:"windows"`
}

func (h *Handler) CheckConflicts(w http.ResponseWriter, r *http.Request) {
	var req conflictsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	windows, report, err := h.svc.CheckConflicts(r.Context(), req.Timezone, req.Windows)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if windows == nil {
		windows = []availability.Window{}
	}
	httpx.WriteJSON(w, http.StatusOK, windowsResponse{Windows: windows, Conflicts: report})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "availability request failed",
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"err", err,
		)
		httpx.WriteError(w, status, kind, "internal error")
		return
	}
	httpx.WriteError(w, status, kind, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrEntityNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, availability.ErrConflictDetected):
		return http.StatusConflict, "conflict"
	case errors.Is(err, availability.ErrNormalization):
		return http.StatusBadRequest, "normalization"
	case errors.Is(err, availability.ErrInvalidTimezone):
		return http.StatusBadRequest, "invalid_timezone"
	case errors.Is(err, availability.ErrMissingField):
		return http.StatusBadRequest, "missing_field"
	case errors.Is(err, availability.ErrInvalidField):
		return http.StatusBadRequest, "invalid_field"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
