package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/rentloop/lease-coordinator/internal/lease"
	"github.com/rentloop/lease-coordinator/internal/storage"
)

// ========== Booking handlers ==========

// HandleCreateBooking creates a booking request for the calling tenant
func (s *RESTServer) HandleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UnitID  uuid.UUID `json:"unitId" validate:"required"`
		Message string    `json:"message" validate:"max=1000"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	booking, err := s.leases.CreateBooking(r.Context(), claimsFrom(r).UserID, req.UnitID, req.Message)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, booking)
}

// HandleListBookings lists pending booking requests addressed to the caller
func (s *RESTServer) HandleListBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := s.leases.ListBookingsForLandlord(r.Context(), claimsFrom(r).UserID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"bookings": bookings,
		"total":    len(bookings),
	})
}

// HandleAcceptBooking accepts a booking and creates its lease
func (s *RESTServer) HandleAcceptBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	var terms lease.LeaseTerms
	if !s.decode(w, r, &terms) {
		return
	}
	if !s.ownsBooking(w, r, id) {
		return
	}

	l, err := s.leases.AcceptBooking(r.Context(), id, terms)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, l)
}

// HandleRejectBooking rejects a pending booking
func (s *RESTServer) HandleRejectBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}
	if !s.ownsBooking(w, r, id) {
		return
	}

	if err := s.leases.RejectBooking(r.Context(), id); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownsBooking allows the booking's landlord through. A missing booking is
// passed on so the manager reports it as an invalid state.
func (s *RESTServer) ownsBooking(w http.ResponseWriter, r *http.Request, id uuid.UUID) bool {
	booking, err := s.store.GetBooking(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return true
	}
	if err != nil {
		s.respondServiceError(w, r, err)
		return false
	}
	if booking.LandlordID != claimsFrom(r).UserID {
		s.respondError(w, http.StatusForbidden, "only the landlord can answer this booking")
		return false
	}
	return true
}

// ========== Lease handlers ==========

// HandleGetLease gets a lease visible to one of its parties
func (s *RESTServer) HandleGetLease(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}

	l, err := s.leases.GetLease(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	claims := claimsFrom(r)
	if !claims.IsAdmin && claims.UserID != l.TenantID && claims.UserID != l.LandlordID {
		s.respondError(w, http.StatusNotFound, "not found")
		return
	}
	s.respondJSON(w, http.StatusOK, l)
}

// HandleTerminateLease ends an active lease early
func (s *RESTServer) HandleTerminateLease(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathUUID(w, r, "id")
	if !ok {
		return
	}

	current, err := s.leases.GetLease(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	caller := claimsFrom(r).UserID
	if caller != current.TenantID && caller != current.LandlordID {
		s.respondError(w, http.StatusForbidden, "only lease parties can terminate")
		return
	}

	l, err := s.leases.TerminateLease(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, l)
}
