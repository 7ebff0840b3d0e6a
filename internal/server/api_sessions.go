package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"player-session/internal/engine"
	"player-session/internal/session"
)

type healthResponse struct {
	Status   string `json:"status"`
	Backend  string `json:"backend"`
	Sessions int    `json:"sessions"`
	Details  any    `json:"details,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Backend:  engine.Backend(),
		Sessions: len(s.sessions.IDs()),
	}
	if s.health != nil {
		resp.Details = s.health()
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body session.RequestJSON
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.URI == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "uri is required")
		return
	}
	req, err := body.Request()
	if err != nil {
		writeCommandError(w, err)
		return
	}
	id, err := s.sessions.Create(req)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	log.Infof("[server] created session %d for %s", id, body.URI)
	writeJSON(w, http.StatusCreated, map[string]int64{"textureId": id})
}

// sessionID parses the {id} path parameter, writing a 400 when it is not a
// number.
func sessionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "invalid session id")
		return 0, false
	}
	return id, true
}

func (s *Server) handleDisposeSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	s.sessions.Dispose(id)
	w.WriteHeader(http.StatusNoContent)
}

// command runs fn for the session in the path and answers 204 on success.
func (s *Server) command(w http.ResponseWriter, r *http.Request, fn func(id int64) error) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if err := fn(id); err != nil {
		writeCommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, s.sessions.Play)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, s.sessions.Pause)
}

func (s *Server) handleBufferingUpdate(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, s.sessions.SendBufferingUpdate)
}

func (s *Server) handleSetLooping(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Looping *bool `json:"looping"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Looping == nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "looping is required")
		return
	}
	s.command(w, r, func(id int64) error { return s.sessions.SetLooping(id, *body.Looping) })
}

func (s *Server) handleSetVolume(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Volume *float64 `json:"volume"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Volume == nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "volume is required")
		return
	}
	s.command(w, r, func(id int64) error { return s.sessions.SetVolume(id, *body.Volume) })
}

func (s *Server) handleSetSpeed(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Speed *float64 `json:"speed"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Speed == nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "speed is required")
		return
	}
	s.command(w, r, func(id int64) error { return s.sessions.SetPlaybackSpeed(id, *body.Speed) })
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Position *int64 `json:"position"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Position == nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "position is required")
		return
	}
	s.command(w, r, func(id int64) error { return s.sessions.SeekTo(id, *body.Position) })
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	pos, err := s.sessions.Position(id)
	if err != nil {
		writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"position": pos})
}
