package storage

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentloop/lease-coordinator/internal/models"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestTransitionLease_CompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	lease := &models.Lease{
		LandlordID: uuid.New(),
		TenantID:   uuid.New(),
		UnitID:     uuid.New(),
		StartDate:  time.Now().Add(-48 * time.Hour),
		EndDate:    time.Now().Add(-time.Second),
		RentAmount: 900,
	}
	require.NoError(t, s.CreateLease(ctx, lease))

	now := time.Now()
	updated, err := s.TransitionLease(ctx, lease.ID, models.LeaseStatusActive, models.LeaseStatusExpired, &now)
	require.NoError(t, err)
	assert.Equal(t, models.LeaseStatusExpired, updated.Status)
	require.NotNil(t, updated.ExpiredAt)

	_, err = s.TransitionLease(ctx, lease.ID, models.LeaseStatusActive, models.LeaseStatusTerminated, nil)
	assert.ErrorIs(t, err, ErrConflict)

	got, err := s.GetLease(ctx, lease.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeaseStatusExpired, got.Status, "losing caller must not change state")
}

func TestTransitionLease_EndDateGuard(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	lease := &models.Lease{
		LandlordID: uuid.New(),
		TenantID:   uuid.New(),
		UnitID:     uuid.New(),
		StartDate:  time.Now(),
		EndDate:    time.Now().Add(24 * time.Hour),
		RentAmount: 500,
	}
	require.NoError(t, s.CreateLease(ctx, lease))

	now := time.Now()
	_, err := s.TransitionLease(ctx, lease.ID, models.LeaseStatusActive, models.LeaseStatusExpired, &now)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestListLeases_DueFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	due := &models.Lease{LandlordID: uuid.New(), TenantID: uuid.New(), UnitID: uuid.New(),
		StartDate: time.Now().Add(-time.Hour), EndDate: time.Now().Add(-time.Minute), RentAmount: 1}
	future := &models.Lease{LandlordID: uuid.New(), TenantID: uuid.New(), UnitID: uuid.New(),
		StartDate: time.Now(), EndDate: time.Now().Add(time.Hour), RentAmount: 1}
	require.NoError(t, s.CreateLease(ctx, due))
	require.NoError(t, s.CreateLease(ctx, future))

	now := time.Now()
	leases, err := s.ListLeases(ctx, LeaseFilters{
		Statuses:  []models.LeaseStatus{models.LeaseStatusActive},
		EndBefore: &now,
	})
	require.NoError(t, err)
	require.Len(t, leases, 1)
	assert.Equal(t, due.ID, leases[0].ID)
}

func TestBookingConditionalUpdates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	booking := &models.BookingRequest{TenantID: uuid.New(), LandlordID: uuid.New(), UnitID: uuid.New()}
	require.NoError(t, s.CreateBooking(ctx, booking))

	leaseID := uuid.New()
	require.NoError(t, s.AcceptBooking(ctx, booking.ID, leaseID))
	assert.ErrorIs(t, s.AcceptBooking(ctx, booking.ID, uuid.New()), ErrConflict)
	assert.ErrorIs(t, s.DeletePendingBooking(ctx, booking.ID), ErrConflict)

	got, err := s.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusAccepted, got.Status)
	require.NotNil(t, got.LeaseID)
	assert.Equal(t, leaseID, *got.LeaseID)

	_, err = s.GetBooking(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNotificationDedupIndex(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	user := uuid.New()
	key := uuid.NewString()
	first := &models.Notification{UserID: user, Title: "t", Message: "m",
		Type: models.NotificationRefundEligible, DedupKey: &key}
	require.NoError(t, s.CreateNotification(ctx, first))

	dup := &models.Notification{UserID: user, Title: "t", Message: "m",
		Type: models.NotificationRefundEligible, DedupKey: &key}
	assert.ErrorIs(t, s.CreateNotification(ctx, dup), ErrDuplicateKey)

	// A disabled instance no longer occupies the slot
	require.NoError(t, s.DisableNotification(ctx, first.ID))
	again := &models.Notification{UserID: user, Title: "t", Message: "m",
		Type: models.NotificationRefundEligible, DedupKey: &key}
	require.NoError(t, s.CreateNotification(ctx, again))
}

func TestListNotifications_SameTimestampOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	user := uuid.New()
	at := time.Now().UTC().Truncate(time.Second)
	var ids []string
	for i := 0; i < 5; i++ {
		n := &models.Notification{UserID: user, Title: "t", Message: "m",
			Type: models.NotificationNewMessage, CreatedAt: at}
		require.NoError(t, s.CreateNotification(ctx, n))
		ids = append(ids, n.ID.String())
	}
	sort.Strings(ids)

	oldest, err := s.ListNotifications(ctx, NotificationFilters{UserID: &user, OldestFirst: true})
	require.NoError(t, err)
	newest, err := s.ListNotifications(ctx, NotificationFilters{UserID: &user})
	require.NoError(t, err)
	require.Len(t, oldest, 5)
	require.Len(t, newest, 5)

	for i := range ids {
		assert.Equal(t, ids[i], oldest[i].ID.String())
		assert.Equal(t, ids[len(ids)-1-i], newest[i].ID.String())
	}
}

func TestNotificationMetaRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	n := &models.Notification{UserID: uuid.New(), Title: "t", Message: "m",
		Type: models.NotificationLeaseExpired, Meta: models.Variables{"leaseId": "abc"}}
	require.NoError(t, s.CreateNotification(ctx, n))

	got, err := s.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Meta.String("leaseId"))
	assert.False(t, got.IsRead)
	assert.False(t, got.Disabled)
}

func TestMarkAllNotificationsRead_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	user := uuid.New()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateNotification(ctx, &models.Notification{
			UserID: user, Title: "t", Message: "m", Type: models.NotificationNewMessage,
		}))
	}

	n, err := s.MarkAllNotificationsRead(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = s.MarkAllNotificationsRead(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestUpsertSubscription_ByExternalRef(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	landlord := uuid.New()
	sub := &models.Subscription{LandlordID: landlord, ExternalRef: "sub_123", PlanName: "basic",
		StartDate: time.Now(), EndDate: time.Now().Add(24 * time.Hour), UnitLimit: 3}
	require.NoError(t, s.UpsertSubscription(ctx, sub))
	firstID := sub.ID

	update := &models.Subscription{LandlordID: landlord, ExternalRef: "sub_123", PlanName: "pro",
		StartDate: time.Now(), EndDate: time.Now().Add(48 * time.Hour), UnitLimit: 10}
	require.NoError(t, s.UpsertSubscription(ctx, update))

	assert.Equal(t, firstID, update.ID)
	assert.Equal(t, "pro", update.PlanName)
	assert.Equal(t, 10, update.UnitLimit)
}

func TestGetUsersByIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := &models.User{Name: "Ada"}
	b := &models.User{Name: "Bo"}
	require.NoError(t, s.UpsertUser(ctx, a))
	require.NoError(t, s.UpsertUser(ctx, b))

	users, err := s.GetUsersByIDs(ctx, []uuid.UUID{a.ID, b.ID, uuid.New()})
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Equal(t, "Ada", users[a.ID].Name)

	empty, err := s.GetUsersByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestTransactionRollback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	unit := &models.Unit{OwnerID: uuid.New(), Title: "loft"}
	require.NoError(t, tx.CreateUnit(ctx, unit))
	require.NoError(t, tx.Rollback())

	_, err = s.GetUnit(ctx, unit.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentTransitions_SingleWinner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	lease := &models.Lease{LandlordID: uuid.New(), TenantID: uuid.New(), UnitID: uuid.New(),
		StartDate: time.Now().Add(-time.Hour), EndDate: time.Now().Add(-time.Second), RentAmount: 1}
	require.NoError(t, s.CreateLease(ctx, lease))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := models.LeaseStatusExpired
			if i%2 == 0 {
				to = models.LeaseStatusTerminated
			}
			if _, err := s.TransitionLease(ctx, lease.ID, models.LeaseStatusActive, to, nil); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
