package server

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"player-session/internal/media"
	"player-session/internal/metadata"
	"player-session/internal/session"
)

const maxBodyBytes = 8 << 20

// Error category tokens.
const (
	codeUnsupportedFormat = "UnsupportedFormat"
	codeInvalidMetadata   = "InvalidMetadata"
	codeInvalidArgument   = "InvalidArgument"
	codeInvalidRequest    = "InvalidRequest"
	codeNotFound          = "NotFound"
	codeDisposed          = "Disposed"
	codeEngineUnavailable = "EngineUnavailable"
	codeInternal          = "Internal"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("[server] encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: msg}})
}

// writeCommandError maps a session or creation error to its status and
// category token.
func writeCommandError(w http.ResponseWriter, err error) {
	var ufe *media.UnsupportedFormatError
	switch {
	case errors.As(err, &ufe):
		writeError(w, http.StatusBadRequest, codeUnsupportedFormat, err.Error())
	case errors.Is(err, metadata.ErrMissingTitle), errors.Is(err, metadata.ErrMissingSubtitle):
		writeError(w, http.StatusBadRequest, codeInvalidMetadata, err.Error())
	case errors.Is(err, session.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, codeInvalidArgument, err.Error())
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, session.ErrDisposed):
		writeError(w, http.StatusGone, codeDisposed, err.Error())
	case errors.Is(err, session.ErrEngineUnavailable):
		writeError(w, http.StatusServiceUnavailable, codeEngineUnavailable, err.Error())
	default:
		log.Errorf("[server] unexpected error: %v", err)
		writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}
