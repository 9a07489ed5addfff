package users

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/warden-rbac/warden/internal/platform/httpx"
)

// Revoker signs a subject out everywhere.
type Revoker interface {
	ForceLogout(ctx context.Context, subjectID uuid.UUID) error
}

// Handler manages user administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	revoker   Revoker
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, revoker Revoker) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, revoker: revoker, validator: validator.New()}
}

// MountRoutes registers user routes. Callers mount it behind the auth middleware.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}", h.getUser)
	r.Put("/{id}/roles", h.assignRoles)
	r.Post("/{id}/force-logout", h.forceLogout)
}

type assignRolesRequest struct {
	RoleIDs []uuid.UUID `json:"role_ids" validate:"max=200"`
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	subject, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, subject)
}

func (h *Handler) assignRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req assignRolesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, httpx.ErrValidation)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, r, httpx.ErrValidation)
		return
	}
	if err := h.service.AssignRoles(r.Context(), id, req.RoleIDs); err != nil {
		h.logger.Error("assign roles", slog.String("subject", id.String()), slog.Any("error", err))
		httpx.RespondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) forceLogout(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.revoker.ForceLogout(r.Context(), id); err != nil {
		h.logger.Error("force logout", slog.String("subject", id.String()), slog.Any("error", err))
		httpx.RespondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, r, httpx.ErrValidation)
		return uuid.Nil, false
	}
	return id, true
}
