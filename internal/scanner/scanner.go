package scanner

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rentloop/lease-coordinator/internal/coordination"
	"github.com/rentloop/lease-coordinator/internal/lease"
	"github.com/rentloop/lease-coordinator/internal/models"
	"github.com/rentloop/lease-coordinator/internal/notification"
	"github.com/rentloop/lease-coordinator/internal/refund"
	"github.com/rentloop/lease-coordinator/internal/storage"
)

// Config holds scanner settings
type Config struct {
	Interval    time.Duration
	ItemTimeout time.Duration
	// BatchSize caps the leases expired per tick; 0 means no cap
	BatchSize int
	// ReviewLinkBase is the deep link clients open to review the other party
	ReviewLinkBase string
}

// DefaultConfig returns default scanner settings
func DefaultConfig() Config {
	return Config{
		Interval:       60 * time.Second,
		ItemTimeout:    10 * time.Second,
		ReviewLinkBase: "/reviews/new",
	}
}

// Locker serializes ticks across processes
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// TickReport summarizes one tick
type TickReport struct {
	Expired   int `json:"expired"`
	Notified  int `json:"notified"`
	Recovered int `json:"recovered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	Refund *refund.Report `json:"refund,omitempty"`
}

// Scanner periodically expires due leases, notifies both parties and then
// runs the refund evaluator
type Scanner struct {
	store     storage.Store
	manager   *lease.Manager
	ledger    *notification.Ledger
	evaluator *refund.Evaluator
	lock      Locker
	config    Config

	running atomic.Bool
	skipped atomic.Int64
	now     func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scanner. evaluator and lock may be nil.
func New(store storage.Store, manager *lease.Manager, ledger *notification.Ledger, evaluator *refund.Evaluator, lock Locker, cfg Config) *Scanner {
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = defaults.ItemTimeout
	}
	if cfg.ReviewLinkBase == "" {
		cfg.ReviewLinkBase = defaults.ReviewLinkBase
	}

	return &Scanner{
		store:     store,
		manager:   manager,
		ledger:    ledger,
		evaluator: evaluator,
		lock:      lock,
		config:    cfg,
		now:       time.Now,
	}
}

// Start begins the tick loop
func (s *Scanner) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.loop(ctx)

	log.Info().Dur("interval", s.config.Interval).Msg("Expiry scanner started")
}

// Stop stops the loop and waits for an in-flight tick to finish
func (s *Scanner) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	log.Info().Msg("Expiry scanner stopped")
}

func (s *Scanner) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Ticks are not cancelled mid-flight; items are bounded by ItemTimeout
			if _, err := s.RunOnce(context.WithoutCancel(ctx)); err != nil {
				log.Error().Err(err).Msg("Scanner tick failed")
			}
		}
	}
}

// SkippedTicks returns how many ticks were skipped because one was running
func (s *Scanner) SkippedTicks() int64 {
	return s.skipped.Load()
}

// RunOnce executes one tick. A tick that overlaps a running one, or loses
// the cross-process lock, is skipped rather than queued.
func (s *Scanner) RunOnce(ctx context.Context) (*TickReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		log.Warn().Msg("Previous scanner tick still running, skipping")
		return &TickReport{Skipped: 1}, nil
	}
	defer s.running.Store(false)

	if s.lock != nil {
		release, err := s.lock.Acquire(ctx)
		if errors.Is(err, coordination.ErrNotAcquired) {
			s.skipped.Add(1)
			log.Debug().Msg("Scanner tick held by another process, skipping")
			return &TickReport{Skipped: 1}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("acquire tick lock: %w", err)
		}
		defer release()
	}

	start := time.Now()
	now := s.now()
	report := &TickReport{}

	s.recover(ctx, report)

	if err := s.sweep(ctx, now, report); err != nil {
		return report, err
	}

	if s.evaluator != nil {
		refundReport, err := s.evaluator.Evaluate(ctx, now)
		if err != nil {
			log.Error().Err(err).Msg("Refund evaluation failed")
		}
		report.Refund = refundReport
	}

	log.Info().
		Int("expired", report.Expired).
		Int("notified", report.Notified).
		Int("recovered", report.Recovered).
		Int("failed", report.Failed).
		Dur("duration", time.Since(start)).
		Msg("Scanner tick completed")
	return report, nil
}

// recover completes notifications for leases that expired in an earlier
// tick but whose notifications were not all recorded
func (s *Scanner) recover(ctx context.Context, report *TickReport) {
	leases, err := s.store.ListLeases(ctx, storage.LeaseFilters{
		Statuses:         []models.LeaseStatus{models.LeaseStatusExpired},
		ExpiryUnnotified: true,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to list unnotified expired leases")
		return
	}

	for _, l := range leases {
		itemCtx, cancel := context.WithTimeout(ctx, s.config.ItemTimeout)
		created, err := s.notifyExpired(itemCtx, l)
		cancel()

		report.Notified += created
		if err != nil {
			report.Failed++
			log.Error().Err(err).
				Str("leaseId", l.ID.String()).
				Bool("transient", storage.IsTransient(err)).
				Msg("Expired lease still unnotified")
			continue
		}
		report.Recovered++
	}
}

func (s *Scanner) sweep(ctx context.Context, now time.Time, report *TickReport) error {
	due, err := s.store.ListLeases(ctx, storage.LeaseFilters{
		Statuses:  []models.LeaseStatus{models.LeaseStatusActive},
		EndBefore: &now,
		Limit:     s.config.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("list due leases: %w", err)
	}

	for _, l := range due {
		s.processLease(ctx, l.ID, now, report)
	}
	return nil
}

// processLease isolates one lease: its failure is logged and the lease stays
// due for the next tick
func (s *Scanner) processLease(ctx context.Context, leaseID uuid.UUID, now time.Time, report *TickReport) {
	ctx, cancel := context.WithTimeout(ctx, s.config.ItemTimeout)
	defer cancel()

	expired, err := s.manager.ExpireLease(ctx, leaseID, now)
	if err != nil {
		report.Failed++
		log.Error().Err(err).
			Str("leaseId", leaseID.String()).
			Bool("transient", storage.IsTransient(err)).
			Msg("Failed to expire lease")
		return
	}
	if expired == nil {
		// Already handled elsewhere
		return
	}
	report.Expired++

	created, err := s.notifyExpired(ctx, expired)
	report.Notified += created
	if err != nil {
		report.Failed++
		log.Error().Err(err).
			Str("leaseId", leaseID.String()).
			Msg("Lease transitioned but unnotified, will retry next tick")
	}
}

// notifyExpired records one LEASE_EXPIRED per party that does not have it
// yet, then stamps the lease so later ticks skip it
func (s *Scanner) notifyExpired(ctx context.Context, l *models.Lease) (int, error) {
	created := 0
	for _, party := range []uuid.UUID{l.TenantID, l.LandlordID} {
		exists, err := s.ledger.Exists(ctx, party, models.NotificationLeaseExpired, l.ID)
		if err != nil {
			return created, fmt.Errorf("check notification: %w", err)
		}
		if exists {
			continue
		}

		reviewee := l.Counterparty(party)
		_, err = s.ledger.Create(ctx, notification.Draft{
			UserID:  party,
			Title:   "Lease ended",
			Message: "Your lease has ended. Tell others how it went by leaving a review.",
			Type:    models.NotificationLeaseExpired,
			LeaseID: &l.ID,
			Meta: models.Variables{
				"leaseId":    l.ID.String(),
				"revieweeId": reviewee.String(),
				"reviewLink": s.reviewLink(l.ID, reviewee),
			},
		})
		if err != nil {
			return created, fmt.Errorf("record notification: %w", err)
		}
		created++
	}

	err := s.store.MarkLeaseExpiryNotified(ctx, l.ID, s.now())
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		return created, fmt.Errorf("mark lease notified: %w", err)
	}
	return created, nil
}

func (s *Scanner) reviewLink(leaseID, revieweeID uuid.UUID) string {
	q := url.Values{}
	q.Set("leaseId", leaseID.String())
	q.Set("revieweeId", revieweeID.String())
	return s.config.ReviewLinkBase + "?" + q.Encode()
}
