package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rentloop/lease-coordinator/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
	// ErrConflict is returned when a conditional update matched no row.
	ErrConflict = errors.New("conditional update conflict")
	// ErrTransient marks store failures worth retrying on a later pass.
	ErrTransient = errors.New("transient store error")
)

// IsTransient reports whether err is a retryable store failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// User methods
	UpsertUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.User, error)
	SetUserSubscribed(ctx context.Context, id uuid.UUID, subscribed bool) error

	// Unit methods
	CreateUnit(ctx context.Context, unit *models.Unit) error
	GetUnit(ctx context.Context, id uuid.UUID) (*models.Unit, error)
	ListUnits(ctx context.Context, filters UnitFilters) ([]*models.Unit, error)
	SetUnitStatus(ctx context.Context, id uuid.UUID, status models.UnitStatus) error

	// Booking request methods
	CreateBooking(ctx context.Context, booking *models.BookingRequest) error
	GetBooking(ctx context.Context, id uuid.UUID) (*models.BookingRequest, error)
	ListBookings(ctx context.Context, filters BookingFilters) ([]*models.BookingRequest, error)
	// AcceptBooking moves a pending booking to accepted and links the lease.
	// Returns ErrConflict when the booking is no longer pending.
	AcceptBooking(ctx context.Context, id, leaseID uuid.UUID) error
	// DeletePendingBooking removes a booking only while it is pending.
	// Returns ErrConflict when the booking is no longer pending.
	DeletePendingBooking(ctx context.Context, id uuid.UUID) error

	// Lease methods
	CreateLease(ctx context.Context, lease *models.Lease) error
	GetLease(ctx context.Context, id uuid.UUID) (*models.Lease, error)
	ListLeases(ctx context.Context, filters LeaseFilters) ([]*models.Lease, error)
	// TransitionLease sets status to `to` only if the lease is currently `from`
	// (and, when endBefore is set, end_date <= *endBefore). Returns ErrConflict
	// when no row matched.
	TransitionLease(ctx context.Context, id uuid.UUID, from, to models.LeaseStatus, endBefore *time.Time) (*models.Lease, error)
	MarkLeaseExpiryNotified(ctx context.Context, id uuid.UUID, at time.Time) error

	// Subscription methods
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	GetSubscriptionByExternalRef(ctx context.Context, ref string) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, filters SubscriptionFilters) ([]*models.Subscription, error)
	SetSubscriptionStatus(ctx context.Context, id uuid.UUID, status models.SubscriptionStatus) error

	// Notification methods
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, id uuid.UUID) (*models.Notification, error)
	ListNotifications(ctx context.Context, filters NotificationFilters) ([]*models.Notification, error)
	MarkNotificationRead(ctx context.Context, id uuid.UUID) (*models.Notification, error)
	MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error)
	DisableNotification(ctx context.Context, id uuid.UUID) error
	DeleteNotification(ctx context.Context, id uuid.UUID) error

	// Message methods
	CreateMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]*models.Message, error)

	// Review methods
	CreateReview(ctx context.Context, review *models.Review) error
	GetReview(ctx context.Context, id uuid.UUID) (*models.Review, error)
	UpdateReviewAnalysis(ctx context.Context, id uuid.UUID, analysis ReviewAnalysis) error

	// Health
	Ping(ctx context.Context) error

	// Close the store
	Close() error
}

// UnitFilters represents filters for units
type UnitFilters struct {
	OwnerID        *uuid.UUID
	SubscriptionID *uuid.UUID
	Statuses       []models.UnitStatus
}

// BookingFilters represents filters for booking requests
type BookingFilters struct {
	LandlordID *uuid.UUID
	TenantID   *uuid.UUID
	UnitID     *uuid.UUID
	Status     *models.BookingStatus
}

// LeaseFilters represents filters for leases
type LeaseFilters struct {
	LandlordID *uuid.UUID
	TenantID   *uuid.UUID
	UnitID     *uuid.UUID
	Statuses   []models.LeaseStatus
	// EndBefore matches end_date <= EndBefore
	EndBefore *time.Time
	// ExpiryUnnotified matches rows whose expiry notifications are not recorded
	ExpiryUnnotified bool
	Limit            int
}

// SubscriptionFilters represents filters for subscriptions
type SubscriptionFilters struct {
	LandlordID *uuid.UUID
	Statuses   []models.SubscriptionStatus
	// EndedBefore matches end_date < EndedBefore
	EndedBefore *time.Time
	Refunded    *bool
}

// NotificationFilters represents filters for notifications
type NotificationFilters struct {
	UserID   *uuid.UUID
	SenderID *uuid.UUID
	LeaseID  *uuid.UUID
	Types    []models.NotificationType
	DedupKey *string
	IsRead   *bool
	Disabled *bool
	// OldestFirst flips the default created_at DESC ordering
	OldestFirst bool
	Limit       int
}

// ReviewAnalysis holds the enrichment fields of a review
type ReviewAnalysis struct {
	Sentiment string
	Keywords  string
	Flagged   bool
}
