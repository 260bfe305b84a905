package authz

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/gatekeeper/internal/platform/httpx"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Handler exposes permission resolution over HTTP.
type Handler struct {
	logger    *slog.Logger
	resolver  *Resolver
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, resolver *Resolver) *Handler {
	return &Handler{logger: logger, resolver: resolver, validator: validator.New()}
}

// MountRoutes registers resolution and cache maintenance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/check", h.check)
	r.Post("/check/batch", h.checkBatch)
	r.Post("/preauthorized-teams", h.preAuthorizedTeams)
	r.Delete("/cache/users/{userID}", h.clearUserCache)
	r.Delete("/cache", h.clearAllCache)
}

type checkRequest struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Key    string `json:"key" validate:"required"`
	Type   int    `json:"type" validate:"required"`
	TeamID *int64 `json:"team_id" validate:"omitempty,gt=0"`
}

type checkResponse struct {
	Granted bool `json:"granted"`
}

type batchCheckRequest struct {
	Checks []checkRequest `json:"checks" validate:"required,min=1,max=100,dive"`
}

type batchCheckResponse struct {
	Results []checkResponse `json:"results"`
}

type preAuthorizedRequest struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Key    string `json:"key" validate:"required"`
	Type   int    `json:"type" validate:"required"`
}

type preAuthorizedResponse struct {
	TeamIDs []int64 `json:"team_ids"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !h.decode(w, r, &req) {
		return
	}
	granted, err := h.resolve(r, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, checkResponse{Granted: granted})
}

func (h *Handler) checkBatch(w http.ResponseWriter, r *http.Request) {
	var req batchCheckRequest
	if !h.decode(w, r, &req) {
		return
	}
	results := make([]checkResponse, 0, len(req.Checks))
	for _, check := range req.Checks {
		granted, err := h.resolve(r, check)
		if err != nil {
			h.respondError(w, err)
			return
		}
		results = append(results, checkResponse{Granted: granted})
	}
	httpx.JSON(w, http.StatusOK, batchCheckResponse{Results: results})
}

func (h *Handler) preAuthorizedTeams(w http.ResponseWriter, r *http.Request) {
	var req preAuthorizedRequest
	if !h.decode(w, r, &req) {
		return
	}
	required, err := ParseType(req.Type)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid permission type", err.Error())
		return
	}
	teams, err := h.resolver.PreAuthorizedTeams(r.Context(), req.UserID, req.Key, required)
	if err != nil {
		h.respondError(w, err)
		return
	}
	resp := preAuthorizedResponse{TeamIDs: make([]int64, 0, len(teams))}
	for teamID, authorized := range teams {
		if authorized {
			resp.TeamIDs = append(resp.TeamIDs, teamID)
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) clearUserCache(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid path parameter", "userID must be a positive integer")
		return
	}
	if err := h.resolver.ClearUserCache(r.Context(), userID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clearAllCache(w http.ResponseWriter, r *http.Request) {
	if err := h.resolver.ClearAllCache(r.Context()); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resolve(r *http.Request, req checkRequest) (bool, error) {
	required, err := ParseType(req.Type)
	if err != nil {
		return false, err
	}
	return h.resolver.UserHasPermission(r.Context(), req.UserID, req.Key, required, req.TeamID)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrInvalidPermissionType):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid permission type", err.Error())
	default:
		h.logger.Error("permission check failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal error", shared.UserSafeMessage(err))
	}
}
