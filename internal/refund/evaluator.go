package refund

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rentloop/lease-coordinator/internal/models"
	"github.com/rentloop/lease-coordinator/internal/notification"
	"github.com/rentloop/lease-coordinator/internal/storage"
)

// Report summarizes one evaluator pass
type Report struct {
	Checked    int `json:"checked"`
	Eligible   int `json:"eligible"`
	Created    int `json:"created"`
	Suppressed int `json:"suppressed"`
	Retracted  int `json:"retracted"`
	Failed     int `json:"failed"`
}

// Evaluator flags expired, unrefunded subscriptions whose units are all
// unbooked. It only emits advisories; the refunded flag is set elsewhere.
type Evaluator struct {
	store  storage.Store
	ledger *notification.Ledger
}

// NewEvaluator creates a refund evaluator
func NewEvaluator(store storage.Store, ledger *notification.Ledger) *Evaluator {
	return &Evaluator{store: store, ledger: ledger}
}

// Evaluate runs one pass. It is safe to call repeatedly over the same data:
// at most one active REFUND_ELIGIBLE notification exists per subscription.
func (e *Evaluator) Evaluate(ctx context.Context, now time.Time) (*Report, error) {
	refunded := false
	subs, err := e.store.ListSubscriptions(ctx, storage.SubscriptionFilters{
		EndedBefore: &now,
		Refunded:    &refunded,
	})
	if err != nil {
		return nil, fmt.Errorf("list expired subscriptions: %w", err)
	}

	report := &Report{}
	for _, sub := range subs {
		report.Checked++
		if err := e.evaluate(ctx, sub, report); err != nil {
			report.Failed++
			log.Error().Err(err).
				Str("subscriptionId", sub.ID.String()).
				Bool("transient", storage.IsTransient(err)).
				Msg("Refund evaluation failed")
		}
	}

	log.Info().
		Int("checked", report.Checked).
		Int("eligible", report.Eligible).
		Int("created", report.Created).
		Int("suppressed", report.Suppressed).
		Int("retracted", report.Retracted).
		Int("failed", report.Failed).
		Msg("Refund evaluation completed")
	return report, nil
}

func (e *Evaluator) evaluate(ctx context.Context, sub *models.Subscription, report *Report) error {
	units, err := e.store.ListUnits(ctx, storage.UnitFilters{SubscriptionID: &sub.ID})
	if err != nil {
		return fmt.Errorf("list units: %w", err)
	}

	if anyBooked(units) {
		return e.retract(ctx, sub, report)
	}

	report.Eligible++
	_, err = e.ledger.CreateUnique(ctx, notification.Draft{
		UserID:   sub.LandlordID,
		Title:    "Refund available",
		Message:  fmt.Sprintf("Your %s plan has ended with no booked units. You may be eligible for a refund.", planName(sub)),
		Type:     models.NotificationRefundEligible,
		DedupKey: sub.ID.String(),
		Meta: models.Variables{
			"subscriptionId": sub.ID.String(),
			"planName":       sub.PlanName,
			"endDate":        sub.EndDate.UTC().Format(time.RFC3339),
		},
	})
	switch {
	case errors.Is(err, notification.ErrDuplicateSuppressed):
		report.Suppressed++
		return nil
	case err != nil:
		return fmt.Errorf("record refund advisory: %w", err)
	}

	report.Created++
	log.Info().
		Str("subscriptionId", sub.ID.String()).
		Str("landlordId", sub.LandlordID.String()).
		Msg("Refund advisory issued")
	return nil
}

// retract disables a standing advisory once a unit under the subscription is booked
func (e *Evaluator) retract(ctx context.Context, sub *models.Subscription, report *Report) error {
	existing, err := e.ledger.FindActive(ctx, models.NotificationRefundEligible, sub.ID.String())
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find advisory: %w", err)
	}
	if err := e.ledger.Disable(ctx, existing.ID); err != nil {
		return fmt.Errorf("disable advisory: %w", err)
	}

	report.Retracted++
	log.Info().
		Str("subscriptionId", sub.ID.String()).
		Str("notificationId", existing.ID.String()).
		Msg("Refund advisory retracted")
	return nil
}

func anyBooked(units []*models.Unit) bool {
	for _, u := range units {
		if u.Status == models.UnitStatusBooked {
			return true
		}
	}
	return false
}

func planName(sub *models.Subscription) string {
	if sub.PlanName == "" {
		return "subscription"
	}
	return sub.PlanName
}
