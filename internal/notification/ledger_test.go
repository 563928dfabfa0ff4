package notification

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentloop/lease-coordinator/internal/models"
	"github.com/rentloop/lease-coordinator/internal/storage"
)

type recordingPublisher struct {
	mu    sync.Mutex
	views []*models.NotificationView
}

func (p *recordingPublisher) PublishNotification(_ context.Context, view *models.NotificationView) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.views = append(p.views, view)
	return nil
}

func newTestLedger(t *testing.T) (*Ledger, *storage.SQLStore, *recordingPublisher) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pub := &recordingPublisher{}
	return NewLedger(store, pub), store, pub
}

func TestCreate_DefaultsAndPublish(t *testing.T) {
	ctx := context.Background()
	ledger, _, pub := newTestLedger(t)

	user := uuid.New()
	n, err := ledger.Create(ctx, Draft{UserID: user, Title: "Hi", Message: "there", Type: models.NotificationNewMessage})
	require.NoError(t, err)
	assert.False(t, n.IsRead)
	assert.False(t, n.Disabled)

	require.Len(t, pub.views, 1)
	assert.Equal(t, n.ID, pub.views[0].ID)
}

func TestCreateUnique_SuppressesDuplicates(t *testing.T) {
	ctx := context.Background()
	ledger, _, pub := newTestLedger(t)

	landlord := uuid.New()
	subID := uuid.NewString()
	draft := Draft{
		UserID:   landlord,
		Title:    "Refund available",
		Message:  "m",
		Type:     models.NotificationRefundEligible,
		DedupKey: subID,
		Meta:     models.Variables{"subscriptionId": subID},
	}

	first, err := ledger.CreateUnique(ctx, draft)
	require.NoError(t, err)

	_, err = ledger.CreateUnique(ctx, draft)
	assert.ErrorIs(t, err, ErrDuplicateSuppressed)
	assert.Len(t, pub.views, 1)

	found, err := ledger.FindActive(ctx, models.NotificationRefundEligible, subID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	_, err = ledger.CreateUnique(ctx, Draft{UserID: landlord, Type: models.NotificationRefundEligible})
	assert.ErrorIs(t, err, storage.ErrInvalidData)
}

func TestCreateUnique_ConcurrentWritersKeepOne(t *testing.T) {
	ctx := context.Background()
	ledger, store, _ := newTestLedger(t)
	// A second ledger over the same store has its own locks, like a second process
	other := NewLedger(store, nil)

	landlord := uuid.New()
	key := uuid.NewString()
	draft := Draft{UserID: landlord, Title: "t", Message: "m", Type: models.NotificationRefundEligible, DedupKey: key}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l := ledger
			if i%2 == 1 {
				l = other
			}
			_, err := l.CreateUnique(ctx, draft)
			if err != nil {
				assert.ErrorIs(t, err, ErrDuplicateSuppressed)
			}
		}(i)
	}
	wg.Wait()

	list, err := store.ListNotifications(ctx, storage.NotificationFilters{DedupKey: &key})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMarkAllRead_Idempotent(t *testing.T) {
	ctx := context.Background()
	ledger, _, _ := newTestLedger(t)

	user := uuid.New()
	for i := 0; i < 4; i++ {
		_, err := ledger.Create(ctx, Draft{UserID: user, Title: "t", Message: "m", Type: models.NotificationNewMessage})
		require.NoError(t, err)
	}

	n, err := ledger.MarkAllRead(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = ledger.MarkAllRead(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	unread, err := ledger.ListUnread(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, unread)
}

func TestListForUser_EnrichesSender(t *testing.T) {
	ctx := context.Background()
	ledger, store, _ := newTestLedger(t)

	sender := &models.User{Name: "Grace", AvatarURL: "https://img/g.png"}
	require.NoError(t, store.UpsertUser(ctx, sender))

	user := uuid.New()
	_, err := ledger.Create(ctx, Draft{UserID: user, SenderID: &sender.ID, Title: "a", Message: "m", Type: models.NotificationNewMessage})
	require.NoError(t, err)
	_, err = ledger.Create(ctx, Draft{UserID: user, Title: "b", Message: "m", Type: models.NotificationNewMessage})
	require.NoError(t, err)

	views, err := ledger.ListForUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, views, 2)

	var withSender *models.NotificationView
	for _, v := range views {
		if v.SenderID != nil {
			withSender = v
		}
	}
	require.NotNil(t, withSender)
	require.NotNil(t, withSender.Sender)
	assert.Equal(t, "Grace", withSender.Sender.Name)

	sent, err := ledger.ListSentBy(ctx, sender.ID)
	require.NoError(t, err)
	assert.Len(t, sent, 1)
}

func TestExists_ByLease(t *testing.T) {
	ctx := context.Background()
	ledger, _, _ := newTestLedger(t)

	user, leaseID := uuid.New(), uuid.New()
	ok, err := ledger.Exists(ctx, user, models.NotificationLeaseExpired, leaseID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = ledger.Create(ctx, Draft{UserID: user, LeaseID: &leaseID, Title: "t", Message: "m", Type: models.NotificationLeaseExpired})
	require.NoError(t, err)

	ok, err = ledger.Exists(ctx, user, models.NotificationLeaseExpired, leaseID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRemoveAndDisable(t *testing.T) {
	ctx := context.Background()
	ledger, store, _ := newTestLedger(t)

	n, err := ledger.Create(ctx, Draft{UserID: uuid.New(), Title: "t", Message: "m", Type: models.NotificationNewMessage})
	require.NoError(t, err)

	require.NoError(t, ledger.Disable(ctx, n.ID))
	got, err := store.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.True(t, got.Disabled)

	require.NoError(t, ledger.Remove(ctx, n.ID))
	assert.ErrorIs(t, ledger.Remove(ctx, n.ID), storage.ErrNotFound)
}

func TestUserLock_Striped(t *testing.T) {
	l := NewLedger(nil, nil)

	user := uuid.New()
	assert.Same(t, l.userLock(user), l.userLock(user))

	used := make(map[*sync.Mutex]struct{})
	for i := 0; i < 10000; i++ {
		stripe := lockStripe(uuid.New())
		require.GreaterOrEqual(t, stripe, 0)
		require.Less(t, stripe, lockStripes)
		used[l.userLock(uuid.New())] = struct{}{}
	}
	assert.LessOrEqual(t, len(used), lockStripes)
	assert.Greater(t, len(used), lockStripes/2)
}
