package model

import "time"

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationApproved  ReservationStatus = "approved"
	ReservationCanceled  ReservationStatus = "canceled"
	ReservationExpired   ReservationStatus = "expired"
	ReservationFulfilled ReservationStatus = "fulfilled"
)

// Reservation queues a member for a title with no free copy.  A pending
// reservation waits in FIFO order; an approved one holds one shelf copy for
// its member until ExpiresAt.
//
// Fields:
//
//	ID        – primary key identifier.
//	BookID    – reserved title.
//	MemberID  – waiting member.
//	CreatedAt – queue position timestamp.
//	ExpiresAt – when the reservation (or its hold) lapses.
//	Status    – lifecycle state.
//	Notes     – free text.
type Reservation struct {
	ID        uint64            // reservations.id
	BookID    uint64            // reservations.book_id
	MemberID  uint64            // reservations.member_id
	CreatedAt time.Time         // reservations.created_at
	ExpiresAt time.Time         // reservations.expires_at
	Status    ReservationStatus // reservations.status
	Notes     string            // reservations.notes
}

// IsActive reports whether the reservation currently holds a copy.
func (r Reservation) IsActive(now time.Time) bool {
	return r.Status == ReservationApproved && now.Before(r.ExpiresAt)
}

// IsOpen reports whether the reservation still occupies the member's single
// queue slot for the book: pending or approved, lapsed or not.
func (r Reservation) IsOpen() bool {
	return r.Status == ReservationPending || r.Status == ReservationApproved
}

// IsWaiting reports whether the reservation is still queued at now.
func (r Reservation) IsWaiting(now time.Time) bool {
	return r.Status == ReservationPending && r.ExpiresAt.After(now)
}

// Transition moves the reservation to next, rejecting moves the lifecycle
// does not allow.
func (r *Reservation) Transition(next ReservationStatus) error {
	ok := false
	switch r.Status {
	case ReservationPending:
		ok = next == ReservationApproved || next == ReservationExpired || next == ReservationCanceled || next == ReservationFulfilled
	case ReservationApproved:
		ok = next == ReservationFulfilled || next == ReservationCanceled || next == ReservationExpired
	}
	if !ok {
		return &InvariantError{Entity: "reservation", ID: r.ID, Reason: "illegal transition " + string(r.Status) + " -> " + string(next)}
	}
	r.Status = next
	return nil
}
