package refund

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentloop/lease-coordinator/internal/models"
	"github.com/rentloop/lease-coordinator/internal/notification"
	"github.com/rentloop/lease-coordinator/internal/storage"
)

func newTestEvaluator(t *testing.T) (*Evaluator, *storage.SQLStore) {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "refund.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewEvaluator(store, notification.NewLedger(store, nil)), store
}

func createSubscription(t *testing.T, store storage.Store, landlord uuid.UUID, end time.Time) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		LandlordID:  landlord,
		PlanName:    "basic",
		ExternalRef: uuid.NewString(),
		StartDate:   end.AddDate(0, -1, 0),
		EndDate:     end,
		UnitLimit:   5,
	}
	require.NoError(t, store.UpsertSubscription(context.Background(), sub))
	return sub
}

func createUnit(t *testing.T, store storage.Store, owner uuid.UUID, sub *models.Subscription, status models.UnitStatus) *models.Unit {
	t.Helper()
	unit := &models.Unit{OwnerID: owner, SubscriptionID: &sub.ID, Status: status}
	require.NoError(t, store.CreateUnit(context.Background(), unit))
	return unit
}

func refundAdvisories(t *testing.T, store storage.Store, sub *models.Subscription) []*models.Notification {
	t.Helper()
	key := sub.ID.String()
	disabled := false
	list, err := store.ListNotifications(context.Background(), storage.NotificationFilters{
		Types:    []models.NotificationType{models.NotificationRefundEligible},
		DedupKey: &key,
		Disabled: &disabled,
	})
	require.NoError(t, err)
	return list
}

func TestEvaluate_EligibleOnceAcrossPasses(t *testing.T) {
	ctx := context.Background()
	eval, store := newTestEvaluator(t)

	landlord := uuid.New()
	s1 := createSubscription(t, store, landlord, time.Now().Add(-24*time.Hour))
	createUnit(t, store, landlord, s1, models.UnitStatusAvailable)

	report, err := eval.Evaluate(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)

	list := refundAdvisories(t, store, s1)
	require.Len(t, list, 1)
	assert.Equal(t, landlord, list[0].UserID)
	assert.Equal(t, s1.ID.String(), list[0].Meta.String("subscriptionId"))

	report, err = eval.Evaluate(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 1, report.Suppressed)
	assert.Len(t, refundAdvisories(t, store, s1), 1)
}

func TestEvaluate_BookedUnitBlocksEligibility(t *testing.T) {
	ctx := context.Background()
	eval, store := newTestEvaluator(t)

	landlord := uuid.New()
	s1 := createSubscription(t, store, landlord, time.Now().Add(-24*time.Hour))
	createUnit(t, store, landlord, s1, models.UnitStatusAvailable)

	_, err := eval.Evaluate(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, refundAdvisories(t, store, s1), 1)

	// U2 booked under S1, plus a fresh S2 whose units are all unbooked
	createUnit(t, store, landlord, s1, models.UnitStatusBooked)
	s2 := createSubscription(t, store, landlord, time.Now().Add(-24*time.Hour))
	createUnit(t, store, landlord, s2, models.UnitStatusUnderMaintenance)

	report, err := eval.Evaluate(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Retracted)

	assert.Empty(t, refundAdvisories(t, store, s1))
	assert.Len(t, refundAdvisories(t, store, s2), 1)
}

func TestEvaluate_SkipsActiveAndRefunded(t *testing.T) {
	ctx := context.Background()
	eval, store := newTestEvaluator(t)

	landlord := uuid.New()
	running := createSubscription(t, store, landlord, time.Now().Add(24*time.Hour))
	createUnit(t, store, landlord, running, models.UnitStatusAvailable)

	done := createSubscription(t, store, landlord, time.Now().Add(-24*time.Hour))
	done.Refunded = true
	require.NoError(t, store.UpsertSubscription(ctx, done))

	report, err := eval.Evaluate(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Checked)
	assert.Empty(t, refundAdvisories(t, store, running))
	assert.Empty(t, refundAdvisories(t, store, done))
}

// unitsFailure fails unit listing for one subscription
type unitsFailure struct {
	storage.Store
	subscriptionID uuid.UUID
}

func (s *unitsFailure) ListUnits(ctx context.Context, filters storage.UnitFilters) ([]*models.Unit, error) {
	if filters.SubscriptionID != nil && *filters.SubscriptionID == s.subscriptionID {
		return nil, fmt.Errorf("%w: connection reset", storage.ErrTransient)
	}
	return s.Store.ListUnits(ctx, filters)
}

func TestEvaluate_FailingSubscriptionDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	_, store := newTestEvaluator(t)

	landlord := uuid.New()
	ended := time.Now().Add(-24 * time.Hour)
	s1 := createSubscription(t, store, landlord, ended)
	createUnit(t, store, landlord, s1, models.UnitStatusAvailable)
	broken := createSubscription(t, store, landlord, ended)
	createUnit(t, store, landlord, broken, models.UnitStatusAvailable)
	s3 := createSubscription(t, store, uuid.New(), ended)
	createUnit(t, store, s3.LandlordID, s3, models.UnitStatusAvailable)

	faulty := &unitsFailure{Store: store, subscriptionID: broken.ID}
	eval := NewEvaluator(faulty, notification.NewLedger(faulty, nil))

	report, err := eval.Evaluate(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 1, report.Failed)

	assert.Len(t, refundAdvisories(t, store, s1), 1)
	assert.Len(t, refundAdvisories(t, store, s3), 1)
	assert.Empty(t, refundAdvisories(t, store, broken))

	// Recovers on the next pass
	faulty.subscriptionID = uuid.Nil
	report, err = eval.Evaluate(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 1, report.Created)
	assert.Len(t, refundAdvisories(t, store, broken), 1)
}
