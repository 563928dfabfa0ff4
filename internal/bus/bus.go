package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rentloop/lease-coordinator/internal/models"
	"github.com/rentloop/lease-coordinator/internal/presence"
)

// ErrDeliveryUnavailable means the user has no live channel. The event is
// still available through the notification ledger when it was recorded there.
var ErrDeliveryUnavailable = errors.New("no live channel for user")

// Event names pushed to clients
const (
	EventNewNotification     = "newNotification"
	EventNewMessage          = "newMessage"
	EventNewChatMessage      = "newChatMessage"
	EventSubscriptionUpdated = "subscriptionUpdated"
)

// UnreadSource lists a user's unread notifications, oldest first
type UnreadSource interface {
	ListUnread(ctx context.Context, userID uuid.UUID) ([]*models.NotificationView, error)
}

// Bus delivers events to connected users through the presence service
type Bus struct {
	presence presence.Service
	unread   UnreadSource

	mu       sync.Mutex
	channels map[string]*trackedChannel
}

// New creates a bus
func New(svc presence.Service, unread UnreadSource) *Bus {
	return &Bus{
		presence: svc,
		unread:   unread,
		channels: make(map[string]*trackedChannel),
	}
}

// BacklogSender is implemented by channels that can wait for buffer room
// while the unread backlog is replayed instead of failing fast
type BacklogSender interface {
	SendBacklog(ctx context.Context, ev presence.Event) error
}

// trackedChannel wraps a client channel with the bookkeeping the bus needs:
// the user it belongs to, chats it joined and notifications it has seen.
type trackedChannel struct {
	presence.Channel
	userID uuid.UUID

	mu        sync.Mutex
	replaying bool
	pending   []presence.Event
	seen      map[string]struct{}
	chats     map[uuid.UUID]struct{}
}

// Send drops a notification event this channel already received. While the
// backlog is replayed, live notifications are held back and flushed after it.
func (t *trackedChannel) Send(ev presence.Event) error {
	if ev.Name == EventNewNotification && ev.ID != "" {
		t.mu.Lock()
		if _, dup := t.seen[ev.ID]; dup {
			t.mu.Unlock()
			return nil
		}
		if t.replaying {
			t.pending = append(t.pending, ev)
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()
	}
	return t.Channel.Send(ev)
}

func (t *trackedChannel) replay(ctx context.Context, ev presence.Event) error {
	t.mu.Lock()
	t.seen[ev.ID] = struct{}{}
	t.mu.Unlock()

	return t.sendBacklog(ctx, ev)
}

func (t *trackedChannel) sendBacklog(ctx context.Context, ev presence.Event) error {
	if bs, ok := t.Channel.(BacklogSender); ok {
		return bs.SendBacklog(ctx, ev)
	}
	return t.Channel.Send(ev)
}

// endReplay flushes the notifications held back during replay, skipping
// any the backlog already carried. Live sends wait on the lock until the
// flush is done.
func (t *trackedChannel) endReplay(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	pending := t.pending
	t.pending = nil
	t.replaying = false

	for _, ev := range pending {
		if _, dup := t.seen[ev.ID]; dup {
			continue
		}
		t.seen[ev.ID] = struct{}{}
		if err := t.sendBacklog(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Connect registers ch for userID and replays every unread notification to
// it, oldest first. Notifications recorded during the replay follow it.
// Replay does not mark anything read.
func (b *Bus) Connect(ctx context.Context, userID uuid.UUID, ch presence.Channel) error {
	tc := &trackedChannel{
		Channel:   ch,
		userID:    userID,
		replaying: true,
		seen:      make(map[string]struct{}),
		chats:     make(map[uuid.UUID]struct{}),
	}

	b.mu.Lock()
	b.channels[ch.ID()] = tc
	b.mu.Unlock()

	if err := b.presence.Register(ctx, presence.UserAddress(userID), tc); err != nil {
		b.forget(ch.ID())
		return fmt.Errorf("register channel: %w", err)
	}

	log.Info().
		Str("userId", userID.String()).
		Str("channelId", ch.ID()).
		Msg("Client connected")

	replayed, err := b.replay(ctx, userID, tc)
	flushErr := tc.endReplay(ctx)
	if err != nil {
		return err
	}
	if flushErr != nil {
		return fmt.Errorf("flush live notifications: %w", flushErr)
	}

	log.Debug().
		Str("userId", userID.String()).
		Int("replayed", replayed).
		Msg("Unread notifications replayed")
	return nil
}

func (b *Bus) replay(ctx context.Context, userID uuid.UUID, tc *trackedChannel) (int, error) {
	if b.unread == nil {
		return 0, nil
	}
	backlog, err := b.unread.ListUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load unread notifications: %w", err)
	}
	for _, view := range backlog {
		ev, err := notificationEvent(view)
		if err != nil {
			return 0, err
		}
		if err := tc.replay(ctx, ev); err != nil {
			return 0, fmt.Errorf("replay notification: %w", err)
		}
	}
	return len(backlog), nil
}

// Disconnect removes ch and any chat memberships it held. Other channels
// of the same user stay registered.
func (b *Bus) Disconnect(ctx context.Context, userID uuid.UUID, ch presence.Channel) error {
	tc := b.forget(ch.ID())

	if tc != nil {
		tc.mu.Lock()
		chats := make([]uuid.UUID, 0, len(tc.chats))
		for chatID := range tc.chats {
			chats = append(chats, chatID)
		}
		tc.mu.Unlock()

		for _, chatID := range chats {
			if err := b.presence.Unregister(ctx, presence.ChatAddress(chatID), ch); err != nil {
				log.Warn().Err(err).Str("chatId", chatID.String()).Msg("Failed to leave chat on disconnect")
			}
		}
	}

	if err := b.presence.Unregister(ctx, presence.UserAddress(userID), ch); err != nil {
		return fmt.Errorf("unregister channel: %w", err)
	}

	log.Info().
		Str("userId", userID.String()).
		Str("channelId", ch.ID()).
		Msg("Client disconnected")
	return nil
}

func (b *Bus) forget(channelID string) *trackedChannel {
	b.mu.Lock()
	defer b.mu.Unlock()
	tc := b.channels[channelID]
	delete(b.channels, channelID)
	return tc
}

// JoinChat subscribes ch to a conversation address
func (b *Bus) JoinChat(ctx context.Context, chatID uuid.UUID, ch presence.Channel) error {
	b.mu.Lock()
	tc, ok := b.channels[ch.ID()]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("channel %s is not connected", ch.ID())
	}

	tc.mu.Lock()
	tc.chats[chatID] = struct{}{}
	tc.mu.Unlock()

	return b.presence.Register(ctx, presence.ChatAddress(chatID), tc)
}

// LeaveChat unsubscribes ch from a conversation address
func (b *Bus) LeaveChat(ctx context.Context, chatID uuid.UUID, ch presence.Channel) error {
	b.mu.Lock()
	tc, ok := b.channels[ch.ID()]
	b.mu.Unlock()
	if ok {
		tc.mu.Lock()
		delete(tc.chats, chatID)
		tc.mu.Unlock()
	}
	return b.presence.Unregister(ctx, presence.ChatAddress(chatID), ch)
}

// Publish pushes ev to every live channel of userID
func (b *Bus) Publish(ctx context.Context, userID uuid.UUID, ev presence.Event) error {
	n, err := b.presence.Publish(ctx, presence.UserAddress(userID), ev)
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Name, err)
	}
	if n == 0 {
		return ErrDeliveryUnavailable
	}
	return nil
}

// PublishNotification pushes a recorded notification to its recipient.
// An offline recipient is not an error; the ledger holds the record.
func (b *Bus) PublishNotification(ctx context.Context, view *models.NotificationView) error {
	ev, err := notificationEvent(view)
	if err != nil {
		return err
	}
	err = b.Publish(ctx, view.UserID, ev)
	if errors.Is(err, ErrDeliveryUnavailable) {
		log.Debug().
			Str("userId", view.UserID.String()).
			Str("notificationId", view.ID.String()).
			Msg("Recipient offline, notification left in ledger")
		return nil
	}
	return err
}

func notificationEvent(view *models.NotificationView) (presence.Event, error) {
	return presence.NewEvent(EventNewNotification, view.ID.String(), view)
}

// ChatMessage is the conversation-scoped payload of newChatMessage
type ChatMessage struct {
	ChatID uuid.UUID `json:"chatId"`
	From   uuid.UUID `json:"from"`
	Text   string    `json:"text"`
}

// MessagePayload is the receiver-scoped payload of newMessage
type MessagePayload struct {
	ChatID     uuid.UUID `json:"chatId"`
	SenderID   uuid.UUID `json:"senderId"`
	ReceiverID uuid.UUID `json:"receiverId"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SendChatMessage fans a stored message out to the conversation address and
// to the receiver's personal address
func (b *Bus) SendChatMessage(ctx context.Context, msg *models.Message) error {
	chatEv, err := presence.NewEvent(EventNewChatMessage, msg.ID.String(), ChatMessage{
		ChatID: msg.ChatID,
		From:   msg.SenderID,
		Text:   msg.Text,
	})
	if err != nil {
		return err
	}
	if _, err := b.presence.Publish(ctx, presence.ChatAddress(msg.ChatID), chatEv); err != nil {
		log.Warn().Err(err).Str("chatId", msg.ChatID.String()).Msg("Failed to publish chat message")
	}

	personalEv, err := presence.NewEvent(EventNewMessage, msg.ID.String(), MessagePayload{
		ChatID:     msg.ChatID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Text:       msg.Text,
		CreatedAt:  msg.CreatedAt,
	})
	if err != nil {
		return err
	}
	if err := b.Publish(ctx, msg.ReceiverID, personalEv); err != nil && !errors.Is(err, ErrDeliveryUnavailable) {
		return err
	}
	return nil
}

// SubscriptionUpdated tells a user's clients their subscription flag changed
func (b *Bus) SubscriptionUpdated(ctx context.Context, userID uuid.UUID, isSubscribed bool) error {
	ev, err := presence.NewEvent(EventSubscriptionUpdated, "", map[string]bool{"isSubscribed": isSubscribed})
	if err != nil {
		return err
	}
	return b.Publish(ctx, userID, ev)
}
