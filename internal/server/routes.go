package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes wires the relay's route tree.
func (s *Server) setupRoutes() {
	r := s.router

	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Get("/message", s.getMessages)
			r.Post("/message", s.sendMessage)
			r.Post("/cancel", s.cancelSession)
			r.Post("/open", s.openSession)

			r.Post("/plan/approve", s.approvePlan)
			r.Post("/question/answer", s.answerQuestion)
			r.Post("/retry", s.retryAfterDenial)

			r.Get("/draft", s.getDraft)
			r.Post("/draft", s.setDraft)
		})
	})

	r.Get("/worktree/{worktreeID}/git", s.gitStatus)

	// Event streaming (SSE)
	r.Get("/event", s.allEvents)
	r.Get("/session/{sessionID}/event", s.sessionEvents)
}
