package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"fives-agent/internal/infra/session"
	"fives-agent/internal/service"
	"fives-agent/pkg/api/response"
)

const maxBodyBytes = 1 << 20

func mapServiceError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, service.ErrBadRequest):
		response.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotFound):
		response.Error(w, http.StatusNotFound, "not found")
	case errors.Is(err, session.ErrNoSession),
		errors.Is(err, session.ErrInvalidSession),
		errors.Is(err, session.ErrSessionExpired):
		response.Error(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, service.ErrUpstream):
		response.Error(w, http.StatusBadGateway, "backend unavailable")
	default:
		response.Error(w, http.StatusInternalServerError, "internal error")
	}
	return true
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
