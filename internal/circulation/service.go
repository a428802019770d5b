package circulation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/queue"
)

// The methods in this file are the operations transports call.  They read
// the injected clock, run the matching engine operation and publish the
// resulting events once the transaction has committed.

// BorrowReceipt is returned by Borrow and Renew.
type BorrowReceipt struct {
	BorrowRecordID uint64    `json:"borrow_record_id"`
	DueDate        time.Time `json:"due_date"`
	RenewalCount   uint32    `json:"renewal_count"`
}

// ReturnReceipt is returned by Return.
type ReturnReceipt struct {
	BorrowRecordID   uint64          `json:"borrow_record_id"`
	FineAmount       decimal.Decimal `json:"fine_amount"`
	OverdueDays      int             `json:"overdue_days"`
	PromotedMemberID *uint64         `json:"promoted_member_id,omitempty"`
}

// ReservationReceipt is returned by Reserve.
type ReservationReceipt struct {
	ReservationID uint64                  `json:"reservation_id"`
	Status        model.ReservationStatus `json:"status"`
	ExpiresAt     time.Time               `json:"expires_at"`
}

// Borrow lends bookID to memberID now.
func (e *Engine) Borrow(ctx context.Context, bookID, memberID uint64) (BorrowReceipt, error) {
	now := e.clock.Now()
	rec, err := e.BorrowBook(ctx, bookID, memberID, now)
	if err != nil {
		return BorrowReceipt{}, err
	}
	ev := queue.NewEvent(queue.EventBookBorrowed, bookID, memberID, now)
	ev.BorrowID = rec.ID
	ev.DueDate = rec.DueDate.UTC().Format(time.RFC3339)
	e.publish(ctx, ev)
	return BorrowReceipt{BorrowRecordID: rec.ID, DueDate: rec.DueDate}, nil
}

// Return closes borrowID now.
func (e *Engine) Return(ctx context.Context, borrowID uint64) (ReturnReceipt, error) {
	now := e.clock.Now()
	res, err := e.ReturnBook(ctx, borrowID, now)
	if err != nil {
		return ReturnReceipt{}, err
	}
	rec := res.Record
	ev := queue.NewEvent(queue.EventBookReturned, rec.BookID, rec.MemberID, now)
	ev.BorrowID = rec.ID
	ev.FineAmount = rec.FineAmount.StringFixed(2)
	e.publish(ctx, ev)

	out := ReturnReceipt{
		BorrowRecordID: rec.ID,
		FineAmount:     rec.FineAmount,
		OverdueDays:    e.policy.OverdueDays(rec.DueDate, now),
	}
	if p := res.Promoted; p != nil {
		e.publishApproved(ctx, *p, now)
		out.PromotedMemberID = &p.MemberID
	}
	return out, nil
}

// Renew extends borrowID now.
func (e *Engine) Renew(ctx context.Context, borrowID uint64) (BorrowReceipt, error) {
	now := e.clock.Now()
	rec, err := e.RenewBorrow(ctx, borrowID, now)
	if err != nil {
		return BorrowReceipt{}, err
	}
	ev := queue.NewEvent(queue.EventBorrowRenewed, rec.BookID, rec.MemberID, now)
	ev.BorrowID = rec.ID
	ev.DueDate = rec.DueDate.UTC().Format(time.RFC3339)
	e.publish(ctx, ev)
	return BorrowReceipt{BorrowRecordID: rec.ID, DueDate: rec.DueDate, RenewalCount: rec.RenewalCount}, nil
}

// Reserve queues memberID for bookID now.
func (e *Engine) Reserve(ctx context.Context, bookID, memberID uint64) (ReservationReceipt, error) {
	now := e.clock.Now()
	r, err := e.RequestReservation(ctx, bookID, memberID, now)
	if err != nil {
		return ReservationReceipt{}, err
	}
	ev := queue.NewEvent(queue.EventReservationRequested, bookID, memberID, now)
	ev.ReservationID = r.ID
	ev.ExpiresAt = r.ExpiresAt.UTC().Format(time.RFC3339)
	e.publish(ctx, ev)
	return ReservationReceipt{ReservationID: r.ID, Status: r.Status, ExpiresAt: r.ExpiresAt}, nil
}

// Cancel withdraws reservationID on behalf of memberID (zero for staff).
func (e *Engine) Cancel(ctx context.Context, reservationID, memberID uint64) error {
	now := e.clock.Now()
	r, promoted, err := e.CancelReservation(ctx, reservationID, memberID, now)
	if err != nil {
		return err
	}
	ev := queue.NewEvent(queue.EventReservationCanceled, r.BookID, r.MemberID, now)
	ev.ReservationID = r.ID
	e.publish(ctx, ev)
	if promoted != nil {
		e.publishApproved(ctx, *promoted, now)
	}
	return nil
}

// ExpireReservations is the maintenance entry point run by the sweeper.  It
// returns the number of reservations that lapsed.
func (e *Engine) ExpireReservations(ctx context.Context, now time.Time) (int, error) {
	expired, err := e.ExpireStaleReservations(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, r := range expired {
		ev := queue.NewEvent(queue.EventReservationExpired, r.BookID, r.MemberID, now)
		ev.ReservationID = r.ID
		e.publish(ctx, ev)
	}
	return len(expired), nil
}

// Now exposes the engine clock to transports.
func (e *Engine) Now() time.Time { return e.clock.Now() }

func (e *Engine) publishApproved(ctx context.Context, r model.Reservation, now time.Time) {
	ev := queue.NewEvent(queue.EventReservationApproved, r.BookID, r.MemberID, now)
	ev.ReservationID = r.ID
	ev.ExpiresAt = r.ExpiresAt.UTC().Format(time.RFC3339)
	e.publish(ctx, ev)
}

func (e *Engine) publish(ctx context.Context, ev queue.CirculationEvent) {
	if err := e.pub.Publish(ctx, ev); err != nil {
		e.log.Warn("publish event failed", zap.String("type", ev.Type), zap.String("event_id", ev.EventID), zap.Error(err))
	}
}
