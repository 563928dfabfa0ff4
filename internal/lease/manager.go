package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rentloop/lease-coordinator/internal/models"
	"github.com/rentloop/lease-coordinator/internal/notification"
	"github.com/rentloop/lease-coordinator/internal/storage"
	"github.com/rentloop/lease-coordinator/internal/validation"
)

// LeaseTerms are the contract terms set by the landlord on acceptance
type LeaseTerms struct {
	StartDate  time.Time `json:"startDate" validate:"required"`
	EndDate    time.Time `json:"endDate" validate:"required,gtfield=StartDate"`
	RentAmount float64   `json:"rentAmount" validate:"gt=0"`
}

// Manager enforces the booking and lease state machines.
// Every transition is a compare-and-set on the current status, so a racing
// caller loses with an InvalidStateError (or a nil result for expiry).
type Manager struct {
	store     storage.Store
	ledger    *notification.Ledger
	validator *validation.Validator
}

// NewManager creates a lease manager
func NewManager(store storage.Store, ledger *notification.Ledger) *Manager {
	return &Manager{
		store:     store,
		ledger:    ledger,
		validator: validation.NewValidator(),
	}
}

// CreateBooking records a tenant's pending request for a unit
func (m *Manager) CreateBooking(ctx context.Context, tenantID, unitID uuid.UUID, message string) (*models.BookingRequest, error) {
	unit, err := m.store.GetUnit(ctx, unitID)
	if err != nil {
		return nil, fmt.Errorf("get unit: %w", err)
	}
	if unit.Status != models.UnitStatusAvailable {
		return nil, &InvalidStateError{Entity: "unit", ID: unit.ID, Op: "book", Status: string(unit.Status)}
	}

	booking := &models.BookingRequest{
		TenantID:   tenantID,
		LandlordID: unit.OwnerID,
		UnitID:     unit.ID,
		Message:    message,
		Status:     models.BookingStatusPending,
	}
	if err := m.store.CreateBooking(ctx, booking); err != nil {
		return nil, err
	}

	log.Info().
		Str("bookingId", booking.ID.String()).
		Str("unitId", unit.ID.String()).
		Str("tenantId", tenantID.String()).
		Msg("Booking requested")

	m.notify(ctx, notification.Draft{
		UserID:   unit.OwnerID,
		SenderID: &tenantID,
		Title:    "New booking request",
		Message:  fmt.Sprintf("A tenant requested to book %s", unitTitle(unit)),
		Type:     models.NotificationBookingRequested,
		Meta:     models.Variables{"bookingId": booking.ID.String(), "unitId": unit.ID.String()},
	})
	return booking, nil
}

// AcceptBooking turns a pending booking into an active lease
func (m *Manager) AcceptBooking(ctx context.Context, bookingID uuid.UUID, terms LeaseTerms) (*models.Lease, error) {
	if err := m.validator.Validate(terms); err != nil {
		return nil, err
	}

	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	booking, err := tx.GetBooking(ctx, bookingID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &InvalidStateError{Entity: "booking", ID: bookingID, Op: "accept"}
	}
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if booking.Status != models.BookingStatusPending {
		return nil, &InvalidStateError{Entity: "booking", ID: bookingID, Op: "accept", Status: string(booking.Status)}
	}

	lease := &models.Lease{
		LandlordID: booking.LandlordID,
		TenantID:   booking.TenantID,
		UnitID:     booking.UnitID,
		BookingID:  &booking.ID,
		StartDate:  terms.StartDate,
		EndDate:    terms.EndDate,
		RentAmount: terms.RentAmount,
		Status:     models.LeaseStatusActive,
	}
	if err := tx.CreateLease(ctx, lease); err != nil {
		return nil, err
	}

	if err := tx.AcceptBooking(ctx, booking.ID, lease.ID); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, &InvalidStateError{Entity: "booking", ID: bookingID, Op: "accept", Status: string(models.BookingStatusAccepted)}
		}
		return nil, fmt.Errorf("accept booking: %w", err)
	}

	if err := m.setUnitStatus(ctx, tx, booking.UnitID, models.UnitStatusBooked); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	log.Info().
		Str("bookingId", booking.ID.String()).
		Str("leaseId", lease.ID.String()).
		Time("endDate", lease.EndDate).
		Msg("Booking accepted")

	m.notify(ctx, notification.Draft{
		UserID:   booking.TenantID,
		SenderID: &booking.LandlordID,
		Title:    "Booking accepted",
		Message:  "Your booking request was accepted and your lease is now active",
		Type:     models.NotificationBookingAccepted,
		LeaseID:  &lease.ID,
		Meta:     models.Variables{"bookingId": booking.ID.String(), "leaseId": lease.ID.String()},
	})
	return lease, nil
}

// RejectBooking removes a pending booking request permanently
func (m *Manager) RejectBooking(ctx context.Context, bookingID uuid.UUID) error {
	booking, err := m.store.GetBooking(ctx, bookingID)
	if errors.Is(err, storage.ErrNotFound) {
		return &InvalidStateError{Entity: "booking", ID: bookingID, Op: "reject"}
	}
	if err != nil {
		return fmt.Errorf("get booking: %w", err)
	}
	if booking.Status != models.BookingStatusPending {
		return &InvalidStateError{Entity: "booking", ID: bookingID, Op: "reject", Status: string(booking.Status)}
	}

	if err := m.store.DeletePendingBooking(ctx, bookingID); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return &InvalidStateError{Entity: "booking", ID: bookingID, Op: "reject", Status: "superseded"}
		}
		return fmt.Errorf("delete booking: %w", err)
	}

	log.Info().Str("bookingId", bookingID.String()).Msg("Booking rejected")

	m.notify(ctx, notification.Draft{
		UserID:   booking.TenantID,
		SenderID: &booking.LandlordID,
		Title:    "Booking rejected",
		Message:  "Your booking request was declined",
		Type:     models.NotificationBookingRejected,
		Meta:     models.Variables{"bookingId": booking.ID.String(), "unitId": booking.UnitID.String()},
	})
	return nil
}

// ExpireLease moves an active lease whose end date has passed to expired.
// It returns nil without error when the lease is not currently due, which
// makes repeated sweeps safe. Notifications are left to the caller.
func (m *Manager) ExpireLease(ctx context.Context, leaseID uuid.UUID, now time.Time) (*models.Lease, error) {
	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	lease, err := tx.TransitionLease(ctx, leaseID, models.LeaseStatusActive, models.LeaseStatusExpired, &now)
	if errors.Is(err, storage.ErrConflict) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("expire lease: %w", err)
	}

	if err := m.setUnitStatus(ctx, tx, lease.UnitID, models.UnitStatusAvailable); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	log.Info().
		Str("leaseId", lease.ID.String()).
		Time("endDate", lease.EndDate).
		Msg("Lease expired")
	return lease, nil
}

// TerminateLease ends an active lease early
func (m *Manager) TerminateLease(ctx context.Context, leaseID uuid.UUID) (*models.Lease, error) {
	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	lease, err := tx.TransitionLease(ctx, leaseID, models.LeaseStatusActive, models.LeaseStatusTerminated, nil)
	if errors.Is(err, storage.ErrConflict) {
		stateErr := &InvalidStateError{Entity: "lease", ID: leaseID, Op: "terminate"}
		if current, getErr := tx.GetLease(ctx, leaseID); getErr == nil {
			stateErr.Status = string(current.Status)
		}
		return nil, stateErr
	}
	if err != nil {
		return nil, fmt.Errorf("terminate lease: %w", err)
	}

	if err := m.setUnitStatus(ctx, tx, lease.UnitID, models.UnitStatusAvailable); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	log.Info().Str("leaseId", lease.ID.String()).Msg("Lease terminated")

	for _, party := range []uuid.UUID{lease.TenantID, lease.LandlordID} {
		other := lease.Counterparty(party)
		m.notify(ctx, notification.Draft{
			UserID:  party,
			Title:   "Lease terminated",
			Message: "Your lease was terminated before its end date",
			Type:    models.NotificationLeaseTerminated,
			LeaseID: &lease.ID,
			Meta:    models.Variables{"leaseId": lease.ID.String(), "counterpartyId": other.String()},
		})
	}
	return lease, nil
}

// ListBookingsForLandlord returns the landlord's pending booking requests
func (m *Manager) ListBookingsForLandlord(ctx context.Context, landlordID uuid.UUID) ([]*models.BookingRequest, error) {
	status := models.BookingStatusPending
	return m.store.ListBookings(ctx, storage.BookingFilters{LandlordID: &landlordID, Status: &status})
}

// GetLease gets a lease by ID
func (m *Manager) GetLease(ctx context.Context, leaseID uuid.UUID) (*models.Lease, error) {
	return m.store.GetLease(ctx, leaseID)
}

func (m *Manager) setUnitStatus(ctx context.Context, tx storage.Store, unitID uuid.UUID, status models.UnitStatus) error {
	err := tx.SetUnitStatus(ctx, unitID, status)
	if errors.Is(err, storage.ErrNotFound) {
		log.Warn().Str("unitId", unitID.String()).Msg("Unit missing, status not updated")
		return nil
	}
	if err != nil {
		return fmt.Errorf("set unit status: %w", err)
	}
	return nil
}

// notify records a notification after a committed transition. Failures are
// logged and never undo the transition.
func (m *Manager) notify(ctx context.Context, d notification.Draft) {
	if m.ledger == nil {
		return
	}
	if _, err := m.ledger.Create(ctx, d); err != nil {
		log.Error().Err(err).
			Str("userId", d.UserID.String()).
			Str("type", string(d.Type)).
			Msg("Failed to record notification")
	}
}

func unitTitle(u *models.Unit) string {
	if u.Title != "" {
		return u.Title
	}
	return "your unit"
}
