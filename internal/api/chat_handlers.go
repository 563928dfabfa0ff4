package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/rentloop/lease-coordinator/internal/models"
	"github.com/rentloop/lease-coordinator/internal/review"
)

// ========== Chat handlers ==========

// HandleSendChatMessage stores a message and pushes it to live listeners
func (s *RESTServer) HandleSendChatMessage(w http.ResponseWriter, r *http.Request) {
	chatID, ok := s.pathUUID(w, r, "chatId")
	if !ok {
		return
	}
	var req struct {
		ReceiverID uuid.UUID `json:"receiverId" validate:"required"`
		Text       string    `json:"text" validate:"required,max=4000"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	msg := &models.Message{
		ChatID:     chatID,
		SenderID:   claimsFrom(r).UserID,
		ReceiverID: req.ReceiverID,
		Text:       req.Text,
	}
	if err := s.store.CreateMessage(r.Context(), msg); err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	// The message is stored; live delivery is best effort
	if err := s.bus.SendChatMessage(r.Context(), msg); err != nil {
		s.respondJSON(w, http.StatusAccepted, msg)
		return
	}
	s.respondJSON(w, http.StatusCreated, msg)
}

// HandleListChatMessages lists the caller's latest messages in a chat
func (s *RESTServer) HandleListChatMessages(w http.ResponseWriter, r *http.Request) {
	chatID, ok := s.pathUUID(w, r, "chatId")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	msgs, err := s.store.ListMessages(r.Context(), chatID, limit)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	caller := claimsFrom(r).UserID
	visible := make([]*models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.SenderID == caller || m.ReceiverID == caller {
			visible = append(visible, m)
		}
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"messages": visible,
		"total":    len(visible),
	})
}

// ========== Review handlers ==========

// HandleCreateReview records the caller's review of a lease counterparty
func (s *RESTServer) HandleCreateReview(w http.ResponseWriter, r *http.Request) {
	var draft review.Draft
	if !s.decode(w, r, &draft) {
		return
	}
	draft.ReviewerID = claimsFrom(r).UserID

	rv, err := s.reviews.Create(r.Context(), draft)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, rv)
}
