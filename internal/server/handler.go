package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hamychatgpt/Rasad-v2/internal/fault"
	"github.com/hamychatgpt/Rasad-v2/internal/ingest"
	"github.com/hamychatgpt/Rasad-v2/internal/logger"
)

const defaultReason = "operator request"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch fault.KindOf(err) {
	case fault.NotFound:
		status = http.StatusNotFound
	case fault.Conflict:
		status = http.StatusConflict
	case fault.Transient:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("Request failed", logger.String("path", r.URL.Path), logger.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func queryTime(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func (s *Server) handleRecentPosts(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		badRequest(w, "invalid limit")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		badRequest(w, "invalid offset")
		return
	}

	items, err := s.api.RecentPosts(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	p, err := s.api.Post(r.Context(), r.PathValue("externalID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleTopicPosts(w http.ResponseWriter, r *http.Request) {
	q := ingest.TopicQuery{Topic: r.PathValue("topic")}
	var err error
	if q.Since, err = queryTime(r, "since"); err != nil {
		badRequest(w, "since must be RFC3339")
		return
	}
	if q.Until, err = queryTime(r, "until"); err != nil {
		badRequest(w, "until must be RFC3339")
		return
	}
	if q.Limit, err = queryInt(r, "limit"); err != nil {
		badRequest(w, "invalid limit")
		return
	}

	items, err := s.api.TopicPosts(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleOldestPost(w http.ResponseWriter, r *http.Request) {
	p, err := s.api.OldestPost(r.Context(), r.PathValue("topic"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleSchedules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.api.Schedules()})
}

type transitionRequest struct {
	Reason string `json:"reason"`
}

// reason reads an optional {"reason": "..."} body.
func reason(r *http.Request) (string, error) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if req.Reason == "" {
		return defaultReason, nil
	}
	return req.Reason, nil
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	why, err := reason(r)
	if err != nil {
		badRequest(w, "invalid body")
		return
	}
	topic := r.PathValue("topic")
	if err := s.api.Escalate(r.Context(), topic, why); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"topic": topic, "status": "critical"})
}

func (s *Server) handleDeescalate(w http.ResponseWriter, r *http.Request) {
	why, err := reason(r)
	if err != nil {
		badRequest(w, "invalid body")
		return
	}
	topic := r.PathValue("topic")
	if err := s.api.Deescalate(r.Context(), topic, why); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"topic": topic, "status": "normal"})
}

func (s *Server) handleEscalateAll(w http.ResponseWriter, r *http.Request) {
	why, err := reason(r)
	if err != nil {
		badRequest(w, "invalid body")
		return
	}
	changed, err := s.api.EscalateAll(r.Context(), why)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"escalated": changed})
}

func (s *Server) handleCredentials(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.api.Credentials()})
}
