package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightstage/internal/dispatch"
	"github.com/dokzlo13/lightstage/internal/engine"
	"github.com/dokzlo13/lightstage/internal/scene"
	"github.com/dokzlo13/lightstage/internal/target"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Response is the envelope of every reply.
type Response struct {
	Status  string `json:"status"`
	Payload any    `json:"payload,omitempty"`
	Message string `json:"message,omitempty"`
}

// errBadRequest marks query validation failures.
var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeSuccess(w http.ResponseWriter, payload any) {
	writeJSON(w, http.StatusOK, Response{Status: statusSuccess, Payload: payload})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), Response{Status: statusError, Message: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, scene.ErrSceneNotFound), errors.Is(err, target.ErrGroupNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, dispatch.ErrDispatchFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
