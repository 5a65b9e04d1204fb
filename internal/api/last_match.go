package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	dcache "fives-agent/internal/domain/cache"
	"fives-agent/pkg/api/response"
)

// Get may wait for the throttle and then for the backend.
const lastMatchGetTimeout = 20 * time.Second

type LastMatchHandler struct {
	cache dcache.LastMatchCache
}

func NewLastMatchHandler(cache dcache.LastMatchCache) *LastMatchHandler {
	return &LastMatchHandler{cache: cache}
}

type lastMatchResponse struct {
	TeamID       string    `json:"team_id"`
	Season       string    `json:"season"`
	Gameweek     int       `json:"gameweek"`
	LastUpdated  time.Time `json:"last_updated"`
	NextGameweek int       `json:"next_gameweek"`
}

type putLastMatchRequest struct {
	Season   string `json:"season"`
	Gameweek int    `json:"gameweek"`
}

// Get godoc
// @Summary Last season and gameweek of a team
// @Description Served from the local cache; refreshed from the backend when stale. Never fails for a valid team id.
// @Tags last-match
// @Produce json
// @Param teamID path string true "Team ID"
// @Success 200 {object} lastMatchResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/v1/teams/{teamID}/last-match [get]
func (h *LastMatchHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), lastMatchGetTimeout)
	defer cancel()

	teamID := strings.TrimSpace(chi.URLParam(r, "teamID"))
	last, err := h.cache.Get(ctx, teamID)
	if mapServiceError(w, err) {
		return
	}

	response.JSON(w, http.StatusOK, lastMatchResponse{
		TeamID:       teamID,
		Season:       last.Season,
		Gameweek:     last.Gameweek,
		LastUpdated:  last.LastUpdated,
		NextGameweek: last.Gameweek + 1,
	})
}

// Put godoc
// @Summary Record the season and gameweek of a newly logged match
// @Tags last-match
// @Accept json
// @Param teamID path string true "Team ID"
// @Param request body putLastMatchRequest true "Season and gameweek"
// @Success 204
// @Failure 400 {object} response.ErrorResponse
// @Router /api/v1/teams/{teamID}/last-match [put]
func (h *LastMatchHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req putLastMatchRequest
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request")
		return
	}

	teamID := strings.TrimSpace(chi.URLParam(r, "teamID"))
	if mapServiceError(w, h.cache.Put(r.Context(), teamID, strings.TrimSpace(req.Season), req.Gameweek)) {
		return
	}
	response.NoContent(w)
}

// Invalidate godoc
// @Summary Drop the cached entry of a team
// @Tags last-match
// @Param teamID path string true "Team ID"
// @Success 204
// @Router /api/v1/teams/{teamID}/last-match [delete]
func (h *LastMatchHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	teamID := strings.TrimSpace(chi.URLParam(r, "teamID"))
	if mapServiceError(w, h.cache.Invalidate(r.Context(), teamID)) {
		return
	}
	response.NoContent(w)
}

// Clear godoc
// @Summary Drop every cached entry
// @Description Called on logout.
// @Tags last-match
// @Success 204
// @Router /api/v1/last-match [delete]
func (h *LastMatchHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if mapServiceError(w, h.cache.Clear(r.Context())) {
		return
	}
	response.NoContent(w)
}

// Stats godoc
// @Summary Cache counters
// @Tags last-match
// @Produce json
// @Success 200 {object} cache.LastMatchStats
// @Router /api/v1/last-match/stats [get]
func (h *LastMatchHandler) Stats(w http.ResponseWriter, _ *http.Request) {
	response.JSON(w, http.StatusOK, h.cache.Stats())
}
