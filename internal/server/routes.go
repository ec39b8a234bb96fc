package http

import (
	"net/http"
)

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": s.api.Health()})
	})
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	s.mux.HandleFunc("GET /posts", s.handleRecentPosts)
	s.mux.HandleFunc("GET /posts/{externalID}", s.handleGetPost)
	s.mux.HandleFunc("GET /topics/{topic}/posts", s.handleTopicPosts)
	s.mux.HandleFunc("GET /topics/{topic}/oldest", s.handleOldestPost)

	s.mux.HandleFunc("GET /schedules", s.handleSchedules)
	s.mux.HandleFunc("POST /schedules/escalate-all", s.handleEscalateAll)
	s.mux.HandleFunc("POST /schedules/{topic}/escalate", s.handleEscalate)
	s.mux.HandleFunc("POST /schedules/{topic}/deescalate", s.handleDeescalate)

	s.mux.HandleFunc("GET /credentials", s.handleCredentials)
}
