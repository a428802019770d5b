// Package circulation implements the borrowing and reservation rules of the
// library: due dates, borrow limits, fines, copy accounting and the
// reservation queue.  Persistence is reached through the Store contracts
// below so the rules can be exercised against MySQL or an in-memory store.
package circulation

import (
	"context"
	"time"

	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/queue"
)

// CatalogStore exposes the book rows the engine mutates.
type CatalogStore interface {
	// GetBook loads a book and locks its row until the transaction ends.
	// Returns ErrNotFound when absent.
	GetBook(ctx context.Context, id uint64) (model.Book, error)
	// UpdateAvailability applies delta to the available counter and stores
	// status, provided the row still carries expectedVersion.  A version
	// mismatch yields ErrConflict.
	UpdateAvailability(ctx context.Context, bookID uint64, delta int, status model.BookStatus, expectedVersion uint32) error
}

// MembershipStore exposes member rows and their open loans.
type MembershipStore interface {
	// GetMember loads and locks a member row.  Returns ErrNotFound when absent.
	GetMember(ctx context.Context, id uint64) (model.Member, error)
	CountActiveBorrows(ctx context.Context, memberID uint64) (int, error)
}

// BorrowStore persists borrow records.
type BorrowStore interface {
	// CreateBorrow inserts rec and sets its ID.
	CreateBorrow(ctx context.Context, rec *model.BorrowRecord) error
	// GetBorrow loads and locks a record.  Returns ErrNotFound when absent.
	GetBorrow(ctx context.Context, id uint64) (model.BorrowRecord, error)
	UpdateBorrow(ctx context.Context, rec model.BorrowRecord) error
}

// ReservationStore persists the reservation queue.
type ReservationStore interface {
	// CreateReservation inserts r and sets its ID.  A second open (pending or
	// approved) row for the same book and member yields
	// ErrDuplicateReservation, from UpdateReservation as well.
	CreateReservation(ctx context.Context, r *model.Reservation) error
	GetReservation(ctx context.Context, id uint64) (model.Reservation, error)
	// ListReservationsByBook returns the book's reservations in the given
	// statuses ordered by creation time, then id.
	ListReservationsByBook(ctx context.Context, bookID uint64, statuses ...model.ReservationStatus) ([]model.Reservation, error)
	// UpdateReservation stores status and expiry of r if the row is still in
	// status from.  Otherwise it returns ErrConflict.
	UpdateReservation(ctx context.Context, r model.Reservation, from model.ReservationStatus) error
	// ExpirePendingReservations moves every pending reservation with
	// expires_at <= now to expired and returns the affected rows.
	ExpirePendingReservations(ctx context.Context, now time.Time) ([]model.Reservation, error)
}

// Tx is the transactional view of the store handed to InTx callbacks.
type Tx interface {
	CatalogStore
	MembershipStore
	BorrowStore
	ReservationStore
}

// Store runs units of work.  Every mutation of the engine happens inside a
// single InTx call; when fn returns an error nothing it wrote is kept.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// LookupBorrow reads a record without locking it.
	LookupBorrow(ctx context.Context, id uint64) (model.BorrowRecord, error)
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Publisher delivers circulation events after commit.  Delivery is best
// effort: a failed publish never undoes the committed change.
type Publisher interface {
	Publish(ctx context.Context, ev queue.CirculationEvent) error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, queue.CirculationEvent) error { return nil }
