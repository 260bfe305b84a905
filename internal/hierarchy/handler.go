package hierarchy

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/gatekeeper/internal/platform/httpx"
)

// Handler exposes team tree traversal endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers traversal routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/{teamID}", func(r chi.Router) {
		r.Get("/descendants", h.descendants)
		r.Get("/ancestors", h.ancestors)
		r.Get("/siblings", h.siblings)
		r.Get("/contains/{candidateID}", h.contains)
	})
}

type nodeResponse struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	ParentTeamID *int64 `json:"parent_team_id,omitempty"`
	Depth        int    `json:"depth"`
}

type containsResponse struct {
	Contains bool `json:"contains"`
}

func (h *Handler) descendants(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.teamID(w, r, "teamID")
	if !ok {
		return
	}
	opts := QueryOptions{Search: r.URL.Query().Get("search")}
	if raw := r.URL.Query().Get("max_depth"); raw != "" {
		depth, err := strconv.Atoi(raw)
		if err != nil || depth < 1 {
			httpx.Problem(w, http.StatusBadRequest, "Invalid query parameter", "max_depth must be a positive integer")
			return
		}
		opts.MaxDepth = depth
	}
	nodes, err := h.service.Descendants(r.Context(), teamID, opts)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toNodeResponses(nodes))
}

func (h *Handler) ancestors(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.teamID(w, r, "teamID")
	if !ok {
		return
	}
	nodes, err := h.service.Ancestors(r.Context(), teamID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toNodeResponses(nodes))
}

func (h *Handler) siblings(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.teamID(w, r, "teamID")
	if !ok {
		return
	}
	nodes, err := h.service.Siblings(r.Context(), teamID, r.URL.Query().Get("search"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toNodeResponses(nodes))
}

func (h *Handler) contains(w http.ResponseWriter, r *http.Request) {
	teamID, ok := h.teamID(w, r, "teamID")
	if !ok {
		return
	}
	candidateID, ok := h.teamID(w, r, "candidateID")
	if !ok {
		return
	}
	contains, err := h.service.IsDescendant(r.Context(), teamID, candidateID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, containsResponse{Contains: contains})
}

func (h *Handler) teamID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid path parameter", param+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	h.logger.Error("hierarchy request failed", slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal error", "An unexpected error occurred.")
}

func toNodeResponses(nodes []Node) []nodeResponse {
	responses := make([]nodeResponse, 0, len(nodes))
	for _, node := range nodes {
		responses = append(responses, nodeResponse{
			ID:           node.ID,
			Name:         node.Name,
			ParentTeamID: node.ParentTeamID,
			Depth:        node.Depth,
		})
	}
	return responses
}
