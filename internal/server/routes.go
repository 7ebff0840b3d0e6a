package server

import (
	"github.com/go-chi/chi/v5"
)

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)

	s.router.Route("/api/sessions", func(r chi.Router) {
		r.With(limitBody, jsonContentType).Post("/", s.handleCreateSession)

		r.Route("/{id}", func(sr chi.Router) {
			sr.Get("/events", s.handleSessionEvents)

			sr.Group(func(cr chi.Router) {
				cr.Use(limitBody)
				cr.Use(jsonContentType)
				cr.Delete("/", s.handleDisposeSession)
				cr.Post("/play", s.handlePlay)
				cr.Post("/pause", s.handlePause)
				cr.Put("/looping", s.handleSetLooping)
				cr.Put("/volume", s.handleSetVolume)
				cr.Put("/speed", s.handleSetSpeed)
				cr.Post("/seek", s.handleSeek)
				cr.Get("/position", s.handlePosition)
				cr.Post("/buffering", s.handleBufferingUpdate)
			})
		})
	})
}
