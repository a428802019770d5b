// Package queue defines message payloads exchanged over the message broker.
package queue

import (
	"time"

	"github.com/google/uuid"
)

// QueueName is the durable queue circulation events are routed to.
const QueueName = "library.circulation"

// Event types published by the circulation engine.
const (
	EventBookBorrowed         = "book.borrowed"
	EventBookReturned         = "book.returned"
	EventBorrowRenewed        = "borrow.renewed"
	EventReservationRequested = "reservation.requested"
	EventReservationApproved  = "reservation.approved"
	EventReservationExpired   = "reservation.expired"
	EventReservationCanceled  = "reservation.canceled"
)

// CirculationEvent is published after a circulation change has been
// committed.  It carries enough information for downstream consumers to log,
// notify or trigger analytics without querying the primary database.
type CirculationEvent struct {
	EventID       string `json:"event_id"`
	Type          string `json:"type"`
	BookID        uint64 `json:"book_id"`
	MemberID      uint64 `json:"member_id"`
	BorrowID      uint64 `json:"borrow_id,omitempty"`
	ReservationID uint64 `json:"reservation_id,omitempty"`
	DueDate       string `json:"due_date,omitempty"`
	ExpiresAt     string `json:"expires_at,omitempty"`
	FineAmount    string `json:"fine_amount,omitempty"`
	OccurredAt    string `json:"occurred_at"`
}

// NewEvent stamps a fresh event of the given type.
func NewEvent(eventType string, bookID, memberID uint64, at time.Time) CirculationEvent {
	return CirculationEvent{
		EventID:    uuid.NewString(),
		Type:       eventType,
		BookID:     bookID,
		MemberID:   memberID,
		OccurredAt: at.UTC().Format(time.RFC3339),
	}
}
