package review

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentloop/lease-coordinator/internal/lease"
	"github.com/rentloop/lease-coordinator/internal/models"
	"github.com/rentloop/lease-coordinator/internal/notification"
	"github.com/rentloop/lease-coordinator/internal/storage"
	"github.com/rentloop/lease-coordinator/internal/validation"
)

type failingAnalyzer struct{}

func (failingAnalyzer) Analyze(context.Context, string) (*storage.ReviewAnalysis, error) {
	return nil, errors.New("analysis service down")
}

func newTestStore(t *testing.T) *storage.SQLStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "review.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func endedLease(t *testing.T, store storage.Store) *models.Lease {
	t.Helper()
	l := &models.Lease{
		LandlordID: uuid.New(),
		TenantID:   uuid.New(),
		UnitID:     uuid.New(),
		StartDate:  time.Now().AddDate(0, -6, 0),
		EndDate:    time.Now().Add(-time.Hour),
		RentAmount: 950,
		Status:     models.LeaseStatusExpired,
	}
	require.NoError(t, store.CreateLease(context.Background(), l))
	return l
}

func TestCreate_EnrichesAsynchronously(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Lovely flat, quick repairs", req["text"])
		json.NewEncoder(w).Encode(map[string]interface{}{
			"sentiment": "positive",
			"keywords":  []string{"flat", "repairs"},
			"flagged":   false,
		})
	}))
	defer srv.Close()

	svc := NewService(store, notification.NewLedger(store, nil), NewHTTPAnalyzer(srv.URL, nil, time.Second), time.Second)
	l := endedLease(t, store)

	r, err := svc.Create(ctx, Draft{LeaseID: l.ID, ReviewerID: l.TenantID, Rating: 5, Comment: "Lovely flat, quick repairs"})
	require.NoError(t, err)
	assert.Equal(t, l.LandlordID, r.RevieweeID)

	svc.Wait()

	stored, err := store.GetReview(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Sentiment)
	assert.Equal(t, "positive", *stored.Sentiment)
	require.NotNil(t, stored.Keywords)
	assert.Equal(t, "flat,repairs", *stored.Keywords)
	assert.NotNil(t, stored.AnalyzedAt)

	ok, err := notification.NewLedger(store, nil).Exists(ctx, l.LandlordID, models.NotificationReviewReceived, l.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreate_AnalyzerFailureDoesNotFailWrite(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewService(store, nil, failingAnalyzer{}, time.Second)
	l := endedLease(t, store)

	r, err := svc.Create(ctx, Draft{LeaseID: l.ID, ReviewerID: l.LandlordID, Rating: 2, Comment: "late rent"})
	require.NoError(t, err)
	svc.Wait()

	stored, err := store.GetReview(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Sentiment)
	assert.Nil(t, stored.AnalyzedAt)
}

func TestCreate_Rejections(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := NewService(store, nil, nil, time.Second)
	l := endedLease(t, store)

	_, err := svc.Create(ctx, Draft{LeaseID: l.ID, ReviewerID: uuid.New(), Rating: 4})
	assert.ErrorIs(t, err, ErrNotParty)

	_, err = svc.Create(ctx, Draft{LeaseID: l.ID, ReviewerID: l.TenantID, Rating: 9})
	assert.ErrorIs(t, err, validation.ErrInvalid)

	active := &models.Lease{LandlordID: uuid.New(), TenantID: uuid.New(), UnitID: uuid.New(),
		StartDate: time.Now(), EndDate: time.Now().Add(time.Hour), RentAmount: 1}
	require.NoError(t, store.CreateLease(ctx, active))
	_, err = svc.Create(ctx, Draft{LeaseID: active.ID, ReviewerID: active.TenantID, Rating: 4})
	assert.ErrorIs(t, err, lease.ErrInvalidState)
}

func TestHTTPAnalyzer_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPAnalyzer(srv.URL, map[string]string{"X-Api-Key": "k"}, time.Second).Analyze(context.Background(), "x")
	assert.Error(t, err)
}
