package lease

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentloop/lease-coordinator/internal/models"
	"github.com/rentloop/lease-coordinator/internal/notification"
	"github.com/rentloop/lease-coordinator/internal/storage"
	"github.com/rentloop/lease-coordinator/internal/validation"
)

type fixture struct {
	store    *storage.SQLStore
	ledger   *notification.Ledger
	manager  *Manager
	landlord uuid.UUID
	tenant   uuid.UUID
	unit     *models.Unit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "lease.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ledger := notification.NewLedger(store, nil)
	f := &fixture{
		store:    store,
		ledger:   ledger,
		manager:  NewManager(store, ledger),
		landlord: uuid.New(),
		tenant:   uuid.New(),
	}
	f.unit = &models.Unit{OwnerID: f.landlord, Title: "Harbour loft"}
	require.NoError(t, store.CreateUnit(context.Background(), f.unit))
	return f
}

func validTerms() LeaseTerms {
	start := time.Now().UTC().Truncate(time.Second)
	return LeaseTerms{StartDate: start, EndDate: start.AddDate(0, 6, 0), RentAmount: 1200}
}

func TestAcceptBooking_CreatesActiveLease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	booking, err := f.manager.CreateBooking(ctx, f.tenant, f.unit.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, f.landlord, booking.LandlordID)

	lease, err := f.manager.AcceptBooking(ctx, booking.ID, validTerms())
	require.NoError(t, err)
	assert.Equal(t, models.LeaseStatusActive, lease.Status)
	assert.Equal(t, f.tenant, lease.TenantID)

	stored, err := f.store.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusAccepted, stored.Status)
	require.NotNil(t, stored.LeaseID)
	assert.Equal(t, lease.ID, *stored.LeaseID)

	unit, err := f.store.GetUnit(ctx, f.unit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UnitStatusBooked, unit.Status)

	ok, err := f.ledger.Exists(ctx, f.tenant, models.NotificationBookingAccepted, lease.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.manager.AcceptBooking(ctx, booking.ID, validTerms())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestAcceptBooking_InvalidTerms(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	booking, err := f.manager.CreateBooking(ctx, f.tenant, f.unit.ID, "")
	require.NoError(t, err)

	terms := validTerms()
	terms.EndDate = terms.StartDate.Add(-time.Hour)
	_, err = f.manager.AcceptBooking(ctx, booking.ID, terms)
	assert.ErrorIs(t, err, validation.ErrInvalid)

	stored, err := f.store.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusPending, stored.Status)
}

func TestRejectBooking_ThenAcceptFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	booking, err := f.manager.CreateBooking(ctx, f.tenant, f.unit.ID, "hi")
	require.NoError(t, err)

	require.NoError(t, f.manager.RejectBooking(ctx, booking.ID))

	list, err := f.manager.ListBookingsForLandlord(ctx, f.landlord)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.manager.AcceptBooking(ctx, booking.ID, validTerms())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidState)

	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "booking", stateErr.Entity)

	assert.ErrorIs(t, f.manager.RejectBooking(ctx, booking.ID), ErrInvalidState)
}

func TestCreateBooking_UnitNotAvailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.store.SetUnitStatus(ctx, f.unit.ID, models.UnitStatusUnderMaintenance))
	_, err := f.manager.CreateBooking(ctx, f.tenant, f.unit.ID, "")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestExpireLease_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	lease := &models.Lease{LandlordID: f.landlord, TenantID: f.tenant, UnitID: f.unit.ID,
		StartDate: time.Now().Add(-time.Hour), EndDate: time.Now().Add(-time.Second), RentAmount: 1}
	require.NoError(t, f.store.CreateLease(ctx, lease))
	require.NoError(t, f.store.SetUnitStatus(ctx, f.unit.ID, models.UnitStatusBooked))

	expired, err := f.manager.ExpireLease(ctx, lease.ID, time.Now())
	require.NoError(t, err)
	require.NotNil(t, expired)
	assert.Equal(t, models.LeaseStatusExpired, expired.Status)

	unit, err := f.store.GetUnit(ctx, f.unit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UnitStatusAvailable, unit.Status)

	again, err := f.manager.ExpireLease(ctx, lease.ID, time.Now())
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestExpireLease_NotDue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	lease := &models.Lease{LandlordID: f.landlord, TenantID: f.tenant, UnitID: f.unit.ID,
		StartDate: time.Now(), EndDate: time.Now().Add(time.Hour), RentAmount: 1}
	require.NoError(t, f.store.CreateLease(ctx, lease))

	got, err := f.manager.ExpireLease(ctx, lease.ID, time.Now())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTerminateLease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	booking, err := f.manager.CreateBooking(ctx, f.tenant, f.unit.ID, "")
	require.NoError(t, err)
	lease, err := f.manager.AcceptBooking(ctx, booking.ID, validTerms())
	require.NoError(t, err)

	terminated, err := f.manager.TerminateLease(ctx, lease.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeaseStatusTerminated, terminated.Status)
	assert.NotNil(t, terminated.TerminatedAt)

	for _, party := range []uuid.UUID{f.tenant, f.landlord} {
		ok, err := f.ledger.Exists(ctx, party, models.NotificationLeaseTerminated, lease.ID)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	_, err = f.manager.TerminateLease(ctx, lease.ID)
	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, string(models.LeaseStatusTerminated), stateErr.Status)

	_, err = f.manager.TerminateLease(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestExpireRacesTerminate_OneWinner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	lease := &models.Lease{LandlordID: f.landlord, TenantID: f.tenant, UnitID: f.unit.ID,
		StartDate: time.Now().Add(-time.Hour), EndDate: time.Now().Add(-time.Second), RentAmount: 1}
	require.NoError(t, f.store.CreateLease(ctx, lease))

	var (
		wg                sync.WaitGroup
		expired           *models.Lease
		expireErr, termErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		expired, expireErr = f.manager.ExpireLease(ctx, lease.ID, time.Now())
	}()
	go func() {
		defer wg.Done()
		_, termErr = f.manager.TerminateLease(ctx, lease.ID)
	}()
	wg.Wait()

	require.NoError(t, expireErr)
	if expired != nil {
		assert.ErrorIs(t, termErr, ErrInvalidState)
	} else {
		assert.NoError(t, termErr)
	}

	final, err := f.store.GetLease(ctx, lease.ID)
	require.NoError(t, err)
	assert.NotEqual(t, models.LeaseStatusActive, final.Status)
}
