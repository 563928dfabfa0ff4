package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rentloop/lease-coordinator/internal/lease"
	"github.com/rentloop/lease-coordinator/internal/review"
	"github.com/rentloop/lease-coordinator/internal/storage"
	"github.com/rentloop/lease-coordinator/internal/validation"
)

// HandleHealth health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		log.Warn().Err(err).Msg("Health check store ping failed")
		status, code = "degraded", http.StatusServiceUnavailable
	}

	s.respondJSON(w, code, map[string]interface{}{
		"status": status,
		"time":   time.Now(),
	})
}

// adminOnly rejects callers without the admin claim
func (s *RESTServer) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims := claimsFrom(r); claims == nil || !claims.IsAdmin {
			s.respondError(w, http.StatusForbidden, "admin privileges required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ========== Helper methods ==========

// decode reads a JSON body and validates it
func (s *RESTServer) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validator.Validate(dst); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// respondServiceError maps domain errors to status codes
func (s *RESTServer) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, validation.ErrInvalid):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, lease.ErrInvalidState):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, review.ErrNotParty):
		s.respondError(w, http.StatusForbidden, err.Error())
	case storage.IsTransient(err):
		s.respondError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry later")
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		s.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// pathUUID parses a UUID route parameter
func (s *RESTServer) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}
