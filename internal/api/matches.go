package api

import (
	"context"
	"net/http"
	"time"

	"fives-agent/internal/domain/match"
	"fives-agent/internal/service"
	"fives-agent/pkg/api/response"
)

const createMatchTimeout = 15 * time.Second

type matchCreator interface {
	CreateFullMatch(ctx context.Context, in match.FullMatch) (service.CreatedMatch, error)
}

type MatchHandler struct {
	matches matchCreator
}

func NewMatchHandler(matches matchCreator) *MatchHandler {
	return &MatchHandler{matches: matches}
}

type createMatchResponse struct {
	MatchID  string `json:"match_id"`
	Season   string `json:"season"`
	Gameweek int    `json:"gameweek"`
}

// CreateFull godoc
// @Summary Log a match with player appearances
// @Description Forwards the match to the backend, records its season/gameweek in the cache and triggers statistics generation.
// @Tags matches
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Idempotency key for safe retries"
// @Param request body match.FullMatch true "Match with appearances"
// @Success 201 {object} createMatchResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 502 {object} response.ErrorResponse
// @Router /api/v1/matches/full [post]
func (h *MatchHandler) CreateFull(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), createMatchTimeout)
	defer cancel()

	var req match.FullMatch
	if err := decodeJSON(r, &req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request")
		return
	}

	created, err := h.matches.CreateFullMatch(ctx, req)
	if mapServiceError(w, err) {
		return
	}
	response.JSON(w, http.StatusCreated, createMatchResponse{
		MatchID:  created.MatchID,
		Season:   created.Season,
		Gameweek: created.Gameweek,
	})
}
