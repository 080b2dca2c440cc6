// Package handler exposes the assignment service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/formation-assignment/internal/assignment/cache"
	apperrors "github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/formation-assignment/pkg/proto"
)

const maxBodyBytes = 1 << 20

// AssignmentService is the application layer behind the handlers.
type AssignmentService interface {
	Assign(ctx context.Context, req proto.AssignRequest) (*proto.AssignResponse, error)
	AssignFormation(ctx context.Context, req proto.FormationAssignRequest) (*proto.AssignResponse, error)
	AssignBatch(ctx context.Context, req proto.BatchAssignRequest) (*proto.BatchAssignResponse, error)
	CreateFormation(ctx context.Context, req proto.FormationRequest) (*proto.FormationResponse, error)
	GetFormation(ctx context.Context, name string) (*proto.FormationResponse, error)
	ListFormations(ctx context.Context) (*proto.FormationListResponse, error)
	DeleteFormation(ctx context.Context, name string) error
	CacheStats() (cache.Stats, error)
	InvalidateCache(ctx context.Context) (int64, error)
}

type Handler struct {
	svc    AssignmentService
	logger *slog.Logger
}

func New(svc AssignmentService) *Handler {
	return &Handler{
		svc:    svc,
		logger: logger.WithComponent("assignment-handler"),
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/assign", h.Assign)
	mux.HandleFunc("POST /api/v1/assign/batch", h.AssignBatch)
	mux.HandleFunc("POST /api/v1/formations/{name}/assign", h.AssignFormation)
	mux.HandleFunc("GET /api/v1/formations", h.ListFormations)
	mux.HandleFunc("POST /api/v1/formations", h.CreateFormation)
	mux.HandleFunc("GET /api/v1/formations/{name}", h.GetFormation)
	mux.HandleFunc("DELETE /api/v1/formations/{name}", h.DeleteFormation)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req proto.AssignRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.svc.Assign(r.Context(), req)
	if err != nil {
		h.fail(w, r, "assignment failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) AssignBatch(w http.ResponseWriter, r *http.Request) {
	var req proto.BatchAssignRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.svc.AssignBatch(r.Context(), req)
	if err != nil {
		h.fail(w, r, "batch assignment failed", err)
		return
	}
	logger.FromContext(r.Context()).Info("batch assigned", "instances", len(resp.Results))
	h.writeJSON(w, http.StatusOK, resp)
}

// AssignFormation handles POST /api/v1/formations/{name}/assign. The body
// carries only the agents; the path names the formation.
func (h *Handler) AssignFormation(w http.ResponseWriter, r *http.Request) {
	var req proto.FormationAssignRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Formation = r.PathValue("name")
	resp, err := h.svc.AssignFormation(r.Context(), req)
	if err != nil {
		h.fail(w, r, "formation assignment failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListFormations(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.ListFormations(r.Context())
	if err != nil {
		h.fail(w, r, "listing formations failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CreateFormation(w http.ResponseWriter, r *http.Request) {
	var req proto.FormationRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.svc.CreateFormation(r.Context(), req)
	if err != nil {
		h.fail(w, r, "creating formation failed", err)
		return
	}
	w.Header().Set("Location", "/api/v1/formations/"+resp.Name)
	h.writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) GetFormation(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.GetFormation(r.Context(), r.PathValue("name"))
	if err != nil {
		h.fail(w, r, "getting formation failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) DeleteFormation(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteFormation(r.Context(), r.PathValue("name")); err != nil {
		h.fail(w, r, "deleting formation failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.CacheStats()
	if err != nil {
		h.fail(w, r, "cache stats unavailable", err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.svc.InvalidateCache(r.Context())
	if err != nil {
		h.fail(w, r, "cache invalidation failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

// fail logs err and writes it with the status its sentinel maps to.
// Server-side failures are logged at error level and hidden from clients.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error(msg, "error", err, "status_code", status)
	} else {
		log.Debug(msg, "error", err, "status_code", status)
	}
	h.writeError(w, status, apperrors.PublicMessage(err))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
