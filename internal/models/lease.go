package models

import (
	"time"

	"github.com/google/uuid"
)

// LeaseStatus represents the lifecycle state of a lease
type LeaseStatus string

const (
	LeaseStatusActive     LeaseStatus = "active"
	LeaseStatusExpired    LeaseStatus = "expired"
	LeaseStatusTerminated LeaseStatus = "terminated"
)

// Lease binds a landlord, a tenant and a unit for a date range
type Lease struct {
	BaseModel

	LandlordID uuid.UUID   `json:"landlordId" db:"landlord_id"`
	TenantID   uuid.UUID   `json:"tenantId" db:"tenant_id"`
	UnitID     uuid.UUID   `json:"unitId" db:"unit_id"`
	BookingID  *uuid.UUID  `json:"bookingId,omitempty" db:"booking_id"`
	StartDate  time.Time   `json:"startDate" db:"start_date"`
	EndDate    time.Time   `json:"endDate" db:"end_date"`
	RentAmount float64     `json:"rentAmount" db:"rent_amount"`
	Status     LeaseStatus `json:"status" db:"status"`

	ExpiredAt        *time.Time `json:"expiredAt,omitempty" db:"expired_at"`
	TerminatedAt     *time.Time `json:"terminatedAt,omitempty" db:"terminated_at"`
	ExpiryNotifiedAt *time.Time `json:"expiryNotifiedAt,omitempty" db:"expiry_notified_at"`
}

// Counterparty returns the other party of the lease relative to userID.
func (l *Lease) Counterparty(userID uuid.UUID) uuid.UUID {
	if userID == l.TenantID {
		return l.LandlordID
	}
	return l.TenantID
}

// BookingStatus represents the state of a booking request
type BookingStatus string

const (
	BookingStatusPending  BookingStatus = "pending"
	BookingStatusAccepted BookingStatus = "accepted"
	BookingStatusRejected BookingStatus = "rejected"
)

// BookingRequest is a tenant-initiated request to rent a unit
type BookingRequest struct {
	BaseModel

	TenantID   uuid.UUID     `json:"tenantId" db:"tenant_id"`
	LandlordID uuid.UUID     `json:"landlordId" db:"landlord_id"`
	UnitID     uuid.UUID     `json:"unitId" db:"unit_id"`
	Message    string        `json:"message" db:"message"`
	Status     BookingStatus `json:"status" db:"status"`
	LeaseID    *uuid.UUID    `json:"leaseId,omitempty" db:"lease_id"`
}
