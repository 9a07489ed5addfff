package auth

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warden-rbac/warden/internal/platform/httpx"
	"github.com/warden-rbac/warden/internal/rbac"
	"github.com/warden-rbac/warden/internal/users"
)

// MenuRoutes returns the menu tree visible to a principal.
type MenuRoutes interface {
	UserRoutes(ctx context.Context, p rbac.Principal) ([]*rbac.Menu, error)
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	middleware *Middleware
	menus      MenuRoutes
	validator  *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, middleware *Middleware, menus MenuRoutes) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:     logger,
		service:    service,
		middleware: middleware,
		menus:      menus,
		validator:  validator.New(),
	}
}

// MountRoutes registers auth routes on provided router. Login and refresh
// are public; the rest require an access token.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/refresh", h.handleRefresh)
	r.Group(func(r chi.Router) {
		r.Use(h.middleware.Handler)
		r.Post("/logout", h.handleLogout)
		r.Get("/me", h.handleMe)
		r.Get("/menus", h.handleMenus)
	})
}

type loginRequest struct {
	Identifier string `json:"username" validate:"required,max=150"`
	Password   string `json:"password" validate:"required,max=128"`
	LoginType  string `json:"login_type" validate:"omitempty,oneof=password mobile"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type loginResponse struct {
	TokenPair
	User *users.Subject `json:"user"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, httpx.ErrValidation)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, r, httpx.ErrValidation)
		return
	}
	if req.LoginType == "" {
		req.LoginType = "password"
	}

	pair, subject, err := h.service.Login(r.Context(), LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
		IP:         clientIP(r),
		Type:       req.LoginType,
	})
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loginResponse{TokenPair: pair, User: subject})
}

// handleRefresh accepts the refresh token as bearer or in the body.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := BearerToken(r)
	if token == "" {
		var req refreshRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, r, ErrTokenMissing)
			return
		}
		token = req.RefreshToken
	}
	pair, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		h.logger.Warn("refresh rejected", slog.Any("error", err))
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pair)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	subject := SubjectFromContext(r.Context())
	var req logoutRequest
	if r.ContentLength > 0 {
		_ = httpx.DecodeJSON(r, &req)
	}
	if err := h.service.Logout(r.Context(), subject.ID, TokenFromContext(r.Context()), req.RefreshToken); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, SubjectFromContext(r.Context()))
}

func (h *Handler) handleMenus(w http.ResponseWriter, r *http.Request) {
	menus, err := h.menus.UserRoutes(r.Context(), SubjectFromContext(r.Context()))
	if err != nil {
		h.logger.Error("load menu routes", slog.Any("error", err))
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, menus)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
