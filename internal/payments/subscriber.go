package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/rentloop/lease-coordinator/internal/bus"
	"github.com/rentloop/lease-coordinator/internal/models"
	"github.com/rentloop/lease-coordinator/internal/notification"
	"github.com/rentloop/lease-coordinator/internal/storage"
)

// Subjects published by the payment collaborator
const (
	SubjectSubscriptionUpserted  = "payments.subscription.upserted"
	SubjectSubscriptionCancelled = "payments.subscription.cancelled"
	SubjectUserSubscription      = "payments.user.subscription"
)

const handleTimeout = 10 * time.Second

// SubscriptionNotifier pushes subscription flag changes to live clients
type SubscriptionNotifier interface {
	SubscriptionUpdated(ctx context.Context, userID uuid.UUID, isSubscribed bool) error
}

// Subscriber applies payment collaborator events to local state. It only
// reads what the collaborator decided and never initiates payments.
type Subscriber struct {
	nc       *nats.Conn
	store    storage.Store
	ledger   *notification.Ledger
	notifier SubscriptionNotifier
	subs     []*nats.Subscription
}

// NewSubscriber creates the payments subscriber
func NewSubscriber(nc *nats.Conn, store storage.Store, ledger *notification.Ledger, notifier SubscriptionNotifier) *Subscriber {
	return &Subscriber{
		nc:       nc,
		store:    store,
		ledger:   ledger,
		notifier: notifier,
		subs:     make([]*nats.Subscription, 0),
	}
}

// Start subscribes and blocks until ctx is cancelled
func (s *Subscriber) Start(ctx context.Context) error {
	handlers := map[string]nats.MsgHandler{
		SubjectSubscriptionUpserted:  s.handleSubscriptionUpserted,
		SubjectSubscriptionCancelled: s.handleSubscriptionCancelled,
		SubjectUserSubscription:      s.handleUserSubscription,
	}
	for subject, handler := range handlers {
		sub, err := s.nc.Subscribe(subject, handler)
		if err != nil {
			s.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	log.Info().
		Int("subscriptions", len(s.subs)).
		Msg("Payments subscriber started")

	<-ctx.Done()

	s.unsubscribe()
	return nil
}

func (s *Subscriber) unsubscribe() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = s.subs[:0]
}

// SubscriptionEvent is the payload of payments.subscription.upserted
type SubscriptionEvent struct {
	ExternalRef string                    `json:"externalRef"`
	LandlordID  uuid.UUID                 `json:"landlordId"`
	PlanName    string                    `json:"planName"`
	Status      models.SubscriptionStatus `json:"status"`
	StartDate   time.Time                 `json:"startDate"`
	EndDate     time.Time                 `json:"endDate"`
	UnitLimit   int                       `json:"unitLimit"`
	Refunded    bool                      `json:"refunded"`
}

// handleSubscriptionUpserted creates or updates a subscription
func (s *Subscriber) handleSubscriptionUpserted(msg *nats.Msg) {
	log.Debug().
		Str("subject", msg.Subject).
		Int("size", len(msg.Data)).
		Msg("Received subscription upsert")

	var ev SubscriptionEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal subscription event")
		return
	}
	if ev.ExternalRef == "" || ev.LandlordID == uuid.Nil {
		log.Error().Str("externalRef", ev.ExternalRef).Msg("Subscription event missing reference or landlord")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	sub := &models.Subscription{
		LandlordID:  ev.LandlordID,
		PlanName:    ev.PlanName,
		ExternalRef: ev.ExternalRef,
		Status:      ev.Status,
		StartDate:   ev.StartDate,
		EndDate:     ev.EndDate,
		UnitLimit:   ev.UnitLimit,
		Refunded:    ev.Refunded,
	}
	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		log.Error().Err(err).Str("externalRef", ev.ExternalRef).Msg("Failed to upsert subscription")
		return
	}

	log.Info().
		Str("subscriptionId", sub.ID.String()).
		Str("externalRef", sub.ExternalRef).
		Str("status", string(sub.Status)).
		Time("endDate", sub.EndDate).
		Msg("Subscription upserted")
}

// handleSubscriptionCancelled marks a subscription cancelled
func (s *Subscriber) handleSubscriptionCancelled(msg *nats.Msg) {
	var ev struct {
		ExternalRef string `json:"externalRef"`
	}
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal cancellation")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	sub, err := s.store.GetSubscriptionByExternalRef(ctx, ev.ExternalRef)
	if err != nil {
		log.Error().Err(err).Str("externalRef", ev.ExternalRef).Msg("Failed to get subscription")
		return
	}
	if err := s.store.SetSubscriptionStatus(ctx, sub.ID, models.SubscriptionStatusCancelled); err != nil {
		log.Error().Err(err).Str("subscriptionId", sub.ID.String()).Msg("Failed to cancel subscription")
		return
	}

	log.Info().
		Str("subscriptionId", sub.ID.String()).
		Str("externalRef", ev.ExternalRef).
		Msg("Subscription cancelled")
}

// UserSubscriptionEvent is the payload of payments.user.subscription
type UserSubscriptionEvent struct {
	UserID       uuid.UUID `json:"userId"`
	IsSubscribed bool      `json:"isSubscribed"`
}

// handleUserSubscription updates a user's subscription flag and tells them
func (s *Subscriber) handleUserSubscription(msg *nats.Msg) {
	var ev UserSubscriptionEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal user subscription event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	if err := s.store.SetUserSubscribed(ctx, ev.UserID, ev.IsSubscribed); err != nil {
		log.Error().Err(err).Str("userId", ev.UserID.String()).Msg("Failed to update user subscription flag")
		return
	}

	if s.notifier != nil {
		err := s.notifier.SubscriptionUpdated(ctx, ev.UserID, ev.IsSubscribed)
		if err != nil && !errors.Is(err, bus.ErrDeliveryUnavailable) {
			log.Warn().Err(err).Str("userId", ev.UserID.String()).Msg("Failed to push subscription update")
		}
	}

	title, message := "Subscription ended", "Your subscription is no longer active"
	if ev.IsSubscribed {
		title, message = "Subscription active", "Your subscription is now active"
	}
	if s.ledger != nil {
		_, err := s.ledger.Create(ctx, notification.Draft{
			UserID:  ev.UserID,
			Title:   title,
			Message: message,
			Type:    models.NotificationSubscriptionUpdated,
			Meta:    models.Variables{"isSubscribed": ev.IsSubscribed},
		})
		if err != nil {
			log.Error().Err(err).Str("userId", ev.UserID.String()).Msg("Failed to record subscription notification")
		}
	}

	log.Info().
		Str("userId", ev.UserID.String()).
		Bool("isSubscribed", ev.IsSubscribed).
		Msg("User subscription flag updated")
}
