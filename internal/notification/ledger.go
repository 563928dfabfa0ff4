package notification

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rentloop/lease-coordinator/internal/models"
	"github.com/rentloop/lease-coordinator/internal/storage"
)

// ErrDuplicateSuppressed is returned by CreateUnique when an active
// notification with the same dedup key already exists. It is not a failure.
var ErrDuplicateSuppressed = errors.New("duplicate notification suppressed")

// Publisher pushes a freshly recorded notification to live clients
type Publisher interface {
	PublishNotification(ctx context.Context, view *models.NotificationView) error
}

// Draft describes a notification to be recorded
type Draft struct {
	UserID   uuid.UUID
	SenderID *uuid.UUID
	Title    string
	Message  string
	Type     models.NotificationType
	LeaseID  *uuid.UUID
	// DedupKey is required by CreateUnique
	DedupKey string
	Meta     models.Variables
}

// Ledger is the durable, append-only record of user-facing events
type Ledger struct {
	store     storage.Store
	publisher Publisher

	locks [lockStripes]sync.Mutex
}

// lockStripes bounds the per-user write locks. Users sharing a stripe
// serialize with each other.
const lockStripes = 64

// NewLedger creates a ledger. publisher may be nil.
func NewLedger(store storage.Store, publisher Publisher) *Ledger {
	return &Ledger{
		store:     store,
		publisher: publisher,
	}
}

// SetPublisher wires the live delivery path after construction
func (l *Ledger) SetPublisher(p Publisher) {
	l.publisher = p
}

func (l *Ledger) userLock(userID uuid.UUID) *sync.Mutex {
	return &l.locks[lockStripe(userID)]
}

func lockStripe(userID uuid.UUID) int {
	h := fnv.New32a()
	h.Write(userID[:])
	return int(h.Sum32() % lockStripes)
}

// Create appends a notification and pushes it to the user's live channels.
// Insert and push are serialized per user so delivery follows creation order.
func (l *Ledger) Create(ctx context.Context, d Draft) (*models.Notification, error) {
	mu := l.userLock(d.UserID)
	mu.Lock()
	defer mu.Unlock()

	return l.insertAndPublish(ctx, d)
}

// CreateUnique appends a derived-condition notification unless an active one
// with the same (user, type, dedup key) exists.
func (l *Ledger) CreateUnique(ctx context.Context, d Draft) (*models.Notification, error) {
	if d.DedupKey == "" {
		return nil, fmt.Errorf("%w: dedup key is required", storage.ErrInvalidData)
	}

	mu := l.userLock(d.UserID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := l.store.ListNotifications(ctx, storage.NotificationFilters{
		UserID:   &d.UserID,
		Types:    []models.NotificationType{d.Type},
		DedupKey: &d.DedupKey,
		Disabled: boolPtr(false),
		Limit:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("check existing notification: %w", err)
	}
	if len(existing) > 0 {
		return existing[0], ErrDuplicateSuppressed
	}

	n, err := l.insertAndPublish(ctx, d)
	if errors.Is(err, storage.ErrDuplicateKey) {
		// Lost a race with another writer; the unique index kept one copy
		return nil, ErrDuplicateSuppressed
	}
	return n, err
}

func (l *Ledger) insertAndPublish(ctx context.Context, d Draft) (*models.Notification, error) {
	n := &models.Notification{
		UserID:   d.UserID,
		SenderID: d.SenderID,
		Title:    d.Title,
		Message:  d.Message,
		Type:     d.Type,
		LeaseID:  d.LeaseID,
		Meta:     d.Meta,
	}
	if d.DedupKey != "" {
		key := d.DedupKey
		n.DedupKey = &key
	}

	if err := l.store.CreateNotification(ctx, n); err != nil {
		return nil, err
	}

	log.Debug().
		Str("notificationId", n.ID.String()).
		Str("userId", n.UserID.String()).
		Str("type", string(n.Type)).
		Msg("Notification recorded")

	if l.publisher != nil {
		views, err := l.enrich(ctx, []*models.Notification{n})
		if err != nil {
			views = []*models.NotificationView{{Notification: n}}
		}
		if err := l.publisher.PublishNotification(ctx, views[0]); err != nil {
			log.Warn().Err(err).
				Str("notificationId", n.ID.String()).
				Str("userId", n.UserID.String()).
				Msg("Failed to push notification")
		}
	}
	return n, nil
}

// ListForUser returns a user's notifications, newest first
func (l *Ledger) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.NotificationView, error) {
	list, err := l.store.ListNotifications(ctx, storage.NotificationFilters{UserID: &userID})
	if err != nil {
		return nil, err
	}
	return l.enrich(ctx, list)
}

// ListSentBy returns notifications sent by a user, newest first
func (l *Ledger) ListSentBy(ctx context.Context, senderID uuid.UUID) ([]*models.NotificationView, error) {
	list, err := l.store.ListNotifications(ctx, storage.NotificationFilters{SenderID: &senderID})
	if err != nil {
		return nil, err
	}
	return l.enrich(ctx, list)
}

// ListUnread returns a user's unread notifications, oldest first
func (l *Ledger) ListUnread(ctx context.Context, userID uuid.UUID) ([]*models.NotificationView, error) {
	list, err := l.store.ListNotifications(ctx, storage.NotificationFilters{
		UserID:      &userID,
		IsRead:      boolPtr(false),
		OldestFirst: true,
	})
	if err != nil {
		return nil, err
	}
	return l.enrich(ctx, list)
}

// enrich attaches sender display fields with a single lookup by id
func (l *Ledger) enrich(ctx context.Context, list []*models.Notification) ([]*models.NotificationView, error) {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, n := range list {
		if n.SenderID == nil {
			continue
		}
		if _, ok := seen[*n.SenderID]; !ok {
			seen[*n.SenderID] = struct{}{}
			ids = append(ids, *n.SenderID)
		}
	}

	users, err := l.store.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load senders: %w", err)
	}

	views := make([]*models.NotificationView, 0, len(list))
	for _, n := range list {
		view := &models.NotificationView{Notification: n}
		if n.SenderID != nil {
			if u, ok := users[*n.SenderID]; ok {
				view.Sender = u.Summary()
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// MarkRead marks one notification as read
func (l *Ledger) MarkRead(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	return l.store.MarkNotificationRead(ctx, id)
}

// MarkAllRead marks every unread notification of a user as read and returns
// how many changed. Calling it again with nothing unread returns zero.
func (l *Ledger) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	return l.store.MarkAllNotificationsRead(ctx, userID)
}

// Disable removes a notification from the active set without deleting it
func (l *Ledger) Disable(ctx context.Context, id uuid.UUID) error {
	return l.store.DisableNotification(ctx, id)
}

// Remove deletes a notification. Administrative use only.
func (l *Ledger) Remove(ctx context.Context, id uuid.UUID) error {
	return l.store.DeleteNotification(ctx, id)
}

// FindActive returns the active notification of a type with the given dedup key
func (l *Ledger) FindActive(ctx context.Context, typ models.NotificationType, dedupKey string) (*models.Notification, error) {
	list, err := l.store.ListNotifications(ctx, storage.NotificationFilters{
		Types:    []models.NotificationType{typ},
		DedupKey: &dedupKey,
		Disabled: boolPtr(false),
		Limit:    1,
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, storage.ErrNotFound
	}
	return list[0], nil
}

// Exists reports whether a user already has a notification of a type for a lease
func (l *Ledger) Exists(ctx context.Context, userID uuid.UUID, typ models.NotificationType, leaseID uuid.UUID) (bool, error) {
	list, err := l.store.ListNotifications(ctx, storage.NotificationFilters{
		UserID:  &userID,
		LeaseID: &leaseID,
		Types:   []models.NotificationType{typ},
		Limit:   1,
	})
	if err != nil {
		return false, err
	}
	return len(list) > 0, nil
}

func boolPtr(b bool) *bool {
	return &b
}
