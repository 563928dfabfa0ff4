package review

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rentloop/lease-coordinator/internal/lease"
	"github.com/rentloop/lease-coordinator/internal/models"
	"github.com/rentloop/lease-coordinator/internal/notification"
	"github.com/rentloop/lease-coordinator/internal/storage"
	"github.com/rentloop/lease-coordinator/internal/validation"
)

// ErrNotParty is returned when the reviewer is not on the lease
var ErrNotParty = errors.New("reviewer is not a party to the lease")

// Draft is a review submitted by one lease party
type Draft struct {
	LeaseID    uuid.UUID `json:"leaseId" validate:"required"`
	ReviewerID uuid.UUID `json:"-"`
	Rating     int       `json:"rating" validate:"gte=1,lte=5"`
	Comment    string    `json:"comment" validate:"max=2000"`
}

// Service stores reviews and enriches them in the background
type Service struct {
	store     storage.Store
	ledger    *notification.Ledger
	analyzer  Analyzer
	validator *validation.Validator
	timeout   time.Duration

	wg sync.WaitGroup
}

// NewService creates a review service. analyzer may be nil.
func NewService(store storage.Store, ledger *notification.Ledger, analyzer Analyzer, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		store:     store,
		ledger:    ledger,
		analyzer:  analyzer,
		validator: validation.NewValidator(),
		timeout:   timeout,
	}
}

// Create persists a review of the other party of an ended lease. Enrichment
// starts only after the review is stored and never affects the result.
func (s *Service) Create(ctx context.Context, d Draft) (*models.Review, error) {
	if err := s.validator.Validate(d); err != nil {
		return nil, err
	}

	l, err := s.store.GetLease(ctx, d.LeaseID)
	if err != nil {
		return nil, fmt.Errorf("get lease: %w", err)
	}
	if d.ReviewerID != l.TenantID && d.ReviewerID != l.LandlordID {
		return nil, ErrNotParty
	}
	if l.Status == models.LeaseStatusActive {
		return nil, &lease.InvalidStateError{Entity: "lease", ID: l.ID, Op: "review", Status: string(l.Status)}
	}

	r := &models.Review{
		LeaseID:    l.ID,
		ReviewerID: d.ReviewerID,
		RevieweeID: l.Counterparty(d.ReviewerID),
		Rating:     d.Rating,
		Comment:    d.Comment,
	}
	if err := s.store.CreateReview(ctx, r); err != nil {
		return nil, err
	}

	log.Info().
		Str("reviewId", r.ID.String()).
		Str("leaseId", l.ID.String()).
		Int("rating", r.Rating).
		Msg("Review created")

	if s.ledger != nil {
		_, err := s.ledger.Create(ctx, notification.Draft{
			UserID:   r.RevieweeID,
			SenderID: &r.ReviewerID,
			Title:    "New review",
			Message:  fmt.Sprintf("You received a %d-star review", r.Rating),
			Type:     models.NotificationReviewReceived,
			LeaseID:  &l.ID,
			Meta:     models.Variables{"reviewId": r.ID.String(), "leaseId": l.ID.String()},
		})
		if err != nil {
			log.Error().Err(err).Str("reviewId", r.ID.String()).Msg("Failed to record review notification")
		}
	}

	s.dispatch(r)
	return r, nil
}

func (s *Service) dispatch(r *models.Review) {
	if s.analyzer == nil || r.Comment == "" {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		analysis, err := s.analyzer.Analyze(ctx, r.Comment)
		if err != nil {
			log.Warn().Err(err).Str("reviewId", r.ID.String()).Msg("Review enrichment failed")
			return
		}
		if err := s.store.UpdateReviewAnalysis(ctx, r.ID, *analysis); err != nil {
			log.Error().Err(err).Str("reviewId", r.ID.String()).Msg("Failed to store review enrichment")
			return
		}

		log.Debug().
			Str("reviewId", r.ID.String()).
			Str("sentiment", analysis.Sentiment).
			Bool("flagged", analysis.Flagged).
			Msg("Review enriched")
	}()
}

// Wait blocks until in-flight enrichments finish
func (s *Service) Wait() {
	s.wg.Wait()
}
