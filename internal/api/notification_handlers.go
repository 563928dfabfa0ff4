package api

import (
	"net/http"
)

// HandleListNotifications lists the caller's notifications, newest first
func (s *RESTServer) HandleListNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := s.ledger.ListForUser(r.Context(), claimsFrom(r).UserID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": list,
		"total":         len(list),
	})
}

// HandleListSentNotifications lists notifications the caller triggered
func (s *RESTServer) HandleListSentNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := s.ledger.ListSentBy(r.Context(), claimsFrom(r).UserID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": list,
		"total":         len(list),
	})
}

// HandleMarkNotificationRead marks one of the caller's notifications read
func (s *RESTServer) HandleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}

	n, err := s.store.GetNotification(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if n.UserID != claimsFrom(r).UserID {
		s.respondError(w, http.StatusNotFound, "not found")
		return
	}

	n, err = s.ledger.MarkRead(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, n)
}

// HandleMarkAllNotificationsRead marks every unread notification of the caller read
func (s *RESTServer) HandleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	updated, err := s.ledger.MarkAllRead(r.Context(), claimsFrom(r).UserID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"updated": updated,
	})
}

// HandleDeleteNotification removes a notification (administrative)
func (s *RESTServer) HandleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := s.ledger.Remove(r.Context(), id); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
