package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is a chat message between two users
type Message struct {
	ID         uuid.UUID `json:"id" db:"id"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	ChatID     uuid.UUID `json:"chatId" db:"chat_id"`
	SenderID   uuid.UUID `json:"senderId" db:"sender_id"`
	ReceiverID uuid.UUID `json:"receiverId" db:"receiver_id"`
	Text       string    `json:"text" db:"text"`
}

// Review is left by one lease party about the other
type Review struct {
	BaseModel

	LeaseID    uuid.UUID `json:"leaseId" db:"lease_id"`
	ReviewerID uuid.UUID `json:"reviewerId" db:"reviewer_id"`
	RevieweeID uuid.UUID `json:"revieweeId" db:"reviewee_id"`
	Rating     int       `json:"rating" db:"rating"`
	Comment    string    `json:"comment" db:"comment"`

	// Populated asynchronously by the enrichment service
	Sentiment  *string    `json:"sentiment,omitempty" db:"sentiment"`
	Keywords   *string    `json:"keywords,omitempty" db:"keywords"`
	Flagged    bool       `json:"flagged" db:"flagged"`
	AnalyzedAt *time.Time `json:"analyzedAt,omitempty" db:"analyzed_at"`
}
