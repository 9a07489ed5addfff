package roles

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/warden-rbac/warden/internal/platform/httpx"
)

// Handler manages role administration endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listRoles)
	r.Put("/{id}/permissions", h.setPermissions)
	r.Put("/{id}/menus", h.setMenus)
	r.Put("/{id}/status", h.setStatus)
}

type grantsRequest struct {
	IDs []uuid.UUID `json:"ids" validate:"max=1000"`
}

type statusRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles failed", slog.Any("error", err))
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) setPermissions(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decodeGrants(w, r)
	if !ok {
		return
	}
	h.finish(w, r, "set permissions", h.service.SetPermissions(r.Context(), id, req.IDs))
}

func (h *Handler) setMenus(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.decodeGrants(w, r)
	if !ok {
		return
	}
	h.finish(w, r, "set menus", h.service.SetMenus(r.Context(), id, req.IDs))
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, r, httpx.ErrValidation)
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || h.validator.Struct(req) != nil {
		httpx.RespondError(w, r, httpx.ErrValidation)
		return
	}
	h.finish(w, r, "set status", h.service.SetStatus(r.Context(), id, *req.Enabled))
}

func (h *Handler) decodeGrants(w http.ResponseWriter, r *http.Request) (uuid.UUID, grantsRequest, bool) {
	var req grantsRequest
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, r, httpx.ErrValidation)
		return uuid.Nil, req, false
	}
	if err := httpx.DecodeJSON(r, &req); err != nil || h.validator.Struct(req) != nil {
		httpx.RespondError(w, r, httpx.ErrValidation)
		return uuid.Nil, req, false
	}
	return id, req, true
}

func (h *Handler) finish(w http.ResponseWriter, r *http.Request, op string, err error) {
	if err != nil {
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
