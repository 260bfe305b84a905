package teams

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/gatekeeper/internal/authz"
	"github.com/odyssey-erp/gatekeeper/internal/platform/httpx"
	"github.com/odyssey-erp/gatekeeper/internal/protect"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Handler exposes team and assignment management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	protector *protect.Batch
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, protector *protect.Batch) *Handler {
	return &Handler{logger: logger, service: service, protector: protector, validator: validator.New()}
}

// MountTeamRoutes registers team tree routes.
func (h *Handler) MountTeamRoutes(r chi.Router) {
	r.Post("/", h.createTeam)
	r.Route("/{teamID}", func(r chi.Router) {
		r.Get("/", h.getTeam)
		r.Delete("/", h.deleteTeam)
		r.Post("/reparent", h.reparentTeam)
		r.Get("/assignments", h.listAssignments)
		r.Post("/assignments", h.assignRole)
	})
}

// MountAssignmentRoutes registers assignment lifecycle routes.
func (h *Handler) MountAssignmentRoutes(r chi.Router) {
	r.Route("/{assignmentID}", func(r chi.Router) {
		r.Post("/suspend", h.suspendAssignment)
		r.Post("/terminate", h.terminateAssignment)
		r.Post("/derive", h.deriveAssignments)
		r.Delete("/", h.removeAssignment)
	})
}

func (h *Handler) createTeam(w http.ResponseWriter, r *http.Request) {
	var req createTeamRequest
	if !h.decode(w, r, &req) {
		return
	}
	team, err := h.service.CreateTeam(r.Context(), req.Name, req.ParentTeamID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTeamResponse(team))
}

func (h *Handler) getTeam(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathID(w, r, "teamID")
	if !ok {
		return
	}
	team, err := h.service.GetTeam(r.Context(), teamID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTeamResponse(team))
}

func (h *Handler) reparentTeam(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathID(w, r, "teamID")
	if !ok {
		return
	}
	var req reparentTeamRequest
	if !h.decode(w, r, &req) {
		return
	}
	team, err := h.service.ReparentTeam(r.Context(), teamID, req.ParentTeamID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTeamResponse(team))
}

func (h *Handler) deleteTeam(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathID(w, r, "teamID")
	if !ok {
		return
	}
	if err := h.service.DeleteTeam(r.Context(), teamID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listAssignments(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathID(w, r, "teamID")
	if !ok {
		return
	}
	assignments, err := h.service.ListAssignments(r.Context(), teamID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	assignments, err = redactOverrides(r.Context(), h.protector, assignments)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAssignmentResponses(assignments))
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	teamID, ok := pathID(w, r, "teamID")
	if !ok {
		return
	}
	var req assignRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	overrides := make([]authz.RolePermission, 0, len(req.Overrides))
	for _, override := range req.Overrides {
		permType, err := authz.ParseType(override.Type)
		if err != nil {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid override", err.Error())
			return
		}
		overrides = append(overrides, authz.RolePermission{Key: override.Key, Type: permType})
	}
	assignment, err := h.service.AssignRole(r.Context(), req.UserID, teamID, req.RoleID, authz.HierarchyMode(req.Mode), overrides)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toAssignmentResponse(assignment))
}

func (h *Handler) suspendAssignment(w http.ResponseWriter, r *http.Request) {
	h.endAssignment(w, r, h.service.SuspendAssignment)
}

func (h *Handler) terminateAssignment(w http.ResponseWriter, r *http.Request) {
	h.endAssignment(w, r, h.service.TerminateAssignment)
}

func (h *Handler) deriveAssignments(w http.ResponseWriter, r *http.Request) {
	assignmentID, ok := pathID(w, r, "assignmentID")
	if !ok {
		return
	}
	derived, err := h.service.DeriveChildAssignments(r.Context(), assignmentID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toAssignmentResponses(derived))
}

func (h *Handler) removeAssignment(w http.ResponseWriter, r *http.Request) {
	assignmentID, ok := pathID(w, r, "assignmentID")
	if !ok {
		return
	}
	if err := h.service.RemoveAssignment(r.Context(), assignmentID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) endAssignment(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, teamRoleID int64) error) {
	assignmentID, ok := pathID(w, r, "assignmentID")
	if !ok {
		return
	}
	if err := apply(r.Context(), assignmentID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
	case shared.IsPermissionDenied(err):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not found", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrAssignmentLimit),
		errors.Is(err, shared.ErrSystemRole),
		errors.Is(err, shared.ErrAssignmentInUse):
		httpx.Problem(w, http.StatusConflict, "Conflict", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrInvalidPermissionType):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid permission type", err.Error())
	default:
		h.logger.Error("team request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal error", shared.UserSafeMessage(err))
	}
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid path parameter", param+" must be a positive integer")
		return 0, false
	}
	return id, true
}
