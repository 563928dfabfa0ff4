package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType identifies the kind of user-facing event
type NotificationType string

const (
	NotificationLeaseExpired        NotificationType = "LEASE_EXPIRED"
	NotificationLeaseTerminated     NotificationType = "LEASE_TERMINATED"
	NotificationRefundEligible      NotificationType = "REFUND_ELIGIBLE"
	NotificationBookingRequested    NotificationType = "BOOKING_REQUESTED"
	NotificationBookingAccepted     NotificationType = "BOOKING_ACCEPTED"
	NotificationBookingRejected     NotificationType = "BOOKING_REJECTED"
	NotificationNewMessage          NotificationType = "NEW_MESSAGE"
	NotificationReviewReceived      NotificationType = "REVIEW_RECEIVED"
	NotificationSubscriptionUpdated NotificationType = "SUBSCRIPTION_UPDATED"
)

// Notification is an append-only ledger entry addressed to one user.
// Only IsRead and Disabled change after insert.
type Notification struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	UserID   uuid.UUID        `json:"userId" db:"user_id"`
	SenderID *uuid.UUID       `json:"senderId,omitempty" db:"sender_id"`
	Title    string           `json:"title" db:"title"`
	Message  string           `json:"message" db:"message"`
	Type     NotificationType `json:"type" db:"type"`
	LeaseID  *uuid.UUID       `json:"leaseId,omitempty" db:"lease_id"`

	// DedupKey correlates derived-condition notifications, e.g. the
	// subscription id for REFUND_ELIGIBLE.
	DedupKey *string `json:"-" db:"dedup_key"`

	IsRead   bool      `json:"isRead" db:"is_read"`
	Disabled bool      `json:"disabled" db:"disabled"`
	Meta     Variables `json:"meta" db:"meta"`
}

// UserSummary holds the display fields attached to a notification sender
type UserSummary struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
}

// NotificationView is a notification enriched with sender display fields
type NotificationView struct {
	*Notification
	Sender *UserSummary `json:"sender,omitempty"`
}
