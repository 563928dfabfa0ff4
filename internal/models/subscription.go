package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus represents the billing state of a landlord plan
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusRefunded  SubscriptionStatus = "refunded"
)

// Subscription is a landlord's paid plan permitting a bounded number of units
type Subscription struct {
	BaseModel

	LandlordID  uuid.UUID          `json:"landlordId" db:"landlord_id"`
	PlanName    string             `json:"planName" db:"plan_name"`
	ExternalRef string             `json:"externalRef" db:"external_ref"`
	Status      SubscriptionStatus `json:"status" db:"status"`
	StartDate   time.Time          `json:"startDate" db:"start_date"`
	EndDate     time.Time          `json:"endDate" db:"end_date"`
	UnitLimit   int                `json:"unitLimit" db:"unit_limit"`
	Refunded    bool               `json:"refunded" db:"refunded"`
}

// UnitStatus represents the occupancy state of a unit
type UnitStatus string

const (
	UnitStatusAvailable        UnitStatus = "available"
	UnitStatusBooked           UnitStatus = "booked"
	UnitStatusUnderMaintenance UnitStatus = "under_maintenance"
)

// Unit is a rentable listing owned by a landlord
type Unit struct {
	BaseModel

	OwnerID        uuid.UUID  `json:"ownerId" db:"owner_id"`
	SubscriptionID *uuid.UUID `json:"subscriptionId,omitempty" db:"subscription_id"`
	Title          string     `json:"title" db:"title"`
	Status         UnitStatus `json:"status" db:"status"`
}
