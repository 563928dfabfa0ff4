package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rentloop/lease-coordinator/internal/models"
)

const leaseColumns = `id, created_at, updated_at, landlord_id, tenant_id, unit_id, booking_id,
	start_date, end_date, rent_amount, status, expired_at, terminated_at, expiry_notified_at`

const bookingColumns = `id, created_at, updated_at, tenant_id, landlord_id, unit_id, message, status, lease_id`

// ========== Lease Methods ==========

// CreateLease creates a new lease
func (s *SQLStore) CreateLease(ctx context.Context, lease *models.Lease) error {
	if lease.ID == uuid.Nil {
		lease.ID = uuid.New()
	}
	now := nowUTC()
	lease.CreatedAt = now
	lease.UpdatedAt = now
	lease.StartDate = lease.StartDate.UTC()
	lease.EndDate = lease.EndDate.UTC()
	if lease.Status == "" {
		lease.Status = models.LeaseStatusActive
	}

	query := `
		INSERT INTO leases (
			id, created_at, updated_at, landlord_id, tenant_id, unit_id, booking_id,
			start_date, end_date, rent_amount, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.exec(ctx, query,
		lease.ID, lease.CreatedAt, lease.UpdatedAt, lease.LandlordID, lease.TenantID,
		lease.UnitID, lease.BookingID, lease.StartDate, lease.EndDate, lease.RentAmount,
		lease.Status,
	)
	if err != nil {
		return fmt.Errorf("insert lease: %w", err)
	}
	return nil
}

// GetLease gets a lease by ID
func (s *SQLStore) GetLease(ctx context.Context, id uuid.UUID) (*models.Lease, error) {
	lease := &models.Lease{}
	err := s.get(ctx, lease, `SELECT `+leaseColumns+` FROM leases WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// ListLeases lists leases with filters, newest first
func (s *SQLStore) ListLeases(ctx context.Context, filters LeaseFilters) ([]*models.Lease, error) {
	var w whereClause
	if filters.LandlordID != nil {
		w.add("landlord_id = ?", *filters.LandlordID)
	}
	if filters.TenantID != nil {
		w.add("tenant_id = ?", *filters.TenantID)
	}
	if filters.UnitID != nil {
		w.add("unit_id = ?", *filters.UnitID)
	}
	if len(filters.Statuses) > 0 {
		w.add("status IN (?)", filters.Statuses)
	}
	if filters.EndBefore != nil {
		w.add("end_date <= ?", filters.EndBefore.UTC())
	}
	if filters.ExpiryUnnotified {
		w.add("expiry_notified_at IS NULL")
	}

	query := `SELECT ` + leaseColumns + ` FROM leases` + w.String() + orderAndLimit(false, filters.Limit)

	var leases []*models.Lease
	if err := s.selectIn(ctx, &leases, query, w.args...); err != nil {
		return nil, fmt.Errorf("list leases: %w", err)
	}
	return leases, nil
}

// TransitionLease performs a compare-and-set status change
func (s *SQLStore) TransitionLease(ctx context.Context, id uuid.UUID, from, to models.LeaseStatus, endBefore *time.Time) (*models.Lease, error) {
	now := nowUTC()

	query := `UPDATE leases SET status = ?, updated_at = ?`
	args := []interface{}{to, now}
	switch to {
	case models.LeaseStatusExpired:
		query += `, expired_at = ?`
		args = append(args, now)
	case models.LeaseStatusTerminated:
		query += `, terminated_at = ?`
		args = append(args, now)
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, from)
	if endBefore != nil {
		query += ` AND end_date <= ?`
		args = append(args, endBefore.UTC())
	}

	if err := s.execAffected(ctx, query, args...); err != nil {
		return nil, err
	}
	return s.GetLease(ctx, id)
}

// MarkLeaseExpiryNotified records that expiry notifications were issued
func (s *SQLStore) MarkLeaseExpiryNotified(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.execAffected(ctx,
		`UPDATE leases SET expiry_notified_at = ?, updated_at = ? WHERE id = ? AND expiry_notified_at IS NULL`,
		at.UTC(), nowUTC(), id,
	)
}

// ========== Booking Methods ==========

// CreateBooking creates a pending booking request
func (s *SQLStore) CreateBooking(ctx context.Context, booking *models.BookingRequest) error {
	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}
	now := nowUTC()
	booking.CreatedAt = now
	booking.UpdatedAt = now
	if booking.Status == "" {
		booking.Status = models.BookingStatusPending
	}

	query := `
		INSERT INTO booking_requests (
			id, created_at, updated_at, tenant_id, landlord_id, unit_id, message, status, lease_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.exec(ctx, query,
		booking.ID, booking.CreatedAt, booking.UpdatedAt, booking.TenantID, booking.LandlordID,
		booking.UnitID, booking.Message, booking.Status, booking.LeaseID,
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// GetBooking gets a booking request by ID
func (s *SQLStore) GetBooking(ctx context.Context, id uuid.UUID) (*models.BookingRequest, error) {
	booking := &models.BookingRequest{}
	err := s.get(ctx, booking, `SELECT `+bookingColumns+` FROM booking_requests WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// ListBookings lists booking requests with filters, newest first
func (s *SQLStore) ListBookings(ctx context.Context, filters BookingFilters) ([]*models.BookingRequest, error) {
	var w whereClause
	if filters.LandlordID != nil {
		w.add("landlord_id = ?", *filters.LandlordID)
	}
	if filters.TenantID != nil {
		w.add("tenant_id = ?", *filters.TenantID)
	}
	if filters.UnitID != nil {
		w.add("unit_id = ?", *filters.UnitID)
	}
	if filters.Status != nil {
		w.add("status = ?", *filters.Status)
	}

	query := `SELECT ` + bookingColumns + ` FROM booking_requests` + w.String() + orderAndLimit(false, 0)

	var bookings []*models.BookingRequest
	if err := s.selectIn(ctx, &bookings, query, w.args...); err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return bookings, nil
}

// AcceptBooking moves a pending booking to accepted
func (s *SQLStore) AcceptBooking(ctx context.Context, id, leaseID uuid.UUID) error {
	return s.execAffected(ctx,
		`UPDATE booking_requests SET status = ?, lease_id = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.BookingStatusAccepted, leaseID, nowUTC(), id, models.BookingStatusPending,
	)
}

// DeletePendingBooking removes a pending booking
func (s *SQLStore) DeletePendingBooking(ctx context.Context, id uuid.UUID) error {
	return s.execAffected(ctx,
		`DELETE FROM booking_requests WHERE id = ? AND status = ?`,
		id, models.BookingStatusPending,
	)
}
