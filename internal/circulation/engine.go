package circulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/library-circulation/internal/model"
)

// Engine applies the borrowing and reservation rules.  All methods are safe
// for concurrent use; serialization happens in the store through row locks
// taken in the order book, member, borrow record.
type Engine struct {
	store  Store
	policy Policy
	clock  Clock
	pub    Publisher
	log    *zap.Logger
}

// NewEngine wires an engine.  A nil clock, publisher or logger falls back to
// the wall clock, NopPublisher and a no-op logger.
func NewEngine(store Store, policy Policy, clock Clock, pub Publisher, log *zap.Logger) *Engine {
	if store == nil {
		panic("nil store passed to NewEngine")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if pub == nil {
		pub = NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: store, policy: policy, clock: clock, pub: pub, log: log.Named("circulation")}
}

// Policy returns the rules the engine was built with.
func (e *Engine) Policy() Policy { return e.policy }

// ReturnResult is the outcome of a return: the closed record and, when the
// copy went straight to the queue, the reservation that was approved.
type ReturnResult struct {
	Record   model.BorrowRecord
	Promoted *model.Reservation
}

// BorrowBook lends one copy of bookID to memberID.  Preconditions are checked
// in order and the first failure wins: the book exists, the membership is
// valid, the member is below the borrow limit, a copy is free.  A copy held
// for the member's own approved reservation counts as free for that member.
// Whatever reservation the member had open for the title is settled in the
// same transaction: fulfilled when it was waiting or holding, expired when its
// hold had already lapsed.
func (e *Engine) BorrowBook(ctx context.Context, bookID, memberID uint64, requestTime time.Time) (model.BorrowRecord, error) {
	var rec model.BorrowRecord
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		book, err := tx.GetBook(ctx, bookID)
		if err != nil {
			return fmt.Errorf("book %d: %w", bookID, err)
		}
		member, err := tx.GetMember(ctx, memberID)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("member %d: %w", memberID, ErrMemberIneligible)
		}
		if err != nil {
			return err
		}
		if !member.IsMembershipValid(requestTime, e.policy.Zone()) {
			return fmt.Errorf("member %d: %w", memberID, ErrMemberIneligible)
		}
		active, err := tx.CountActiveBorrows(ctx, memberID)
		if err != nil {
			return err
		}
		if limit := member.EffectiveBorrowLimit(e.policy.SystemCap); active >= limit {
			return fmt.Errorf("member %d holds %d of %d: %w", memberID, active, limit, ErrBorrowLimitExceeded)
		}

		open, err := tx.ListReservationsByBook(ctx, bookID, model.ReservationPending, model.ReservationApproved)
		if err != nil {
			return err
		}
		held := 0
		var mine *model.Reservation
		for i := range open {
			active := open[i].IsActive(requestTime)
			if active {
				held++
			}
			if open[i].MemberID == memberID && (mine == nil || active) {
				mine = &open[i]
			}
		}
		ownHold := mine != nil && mine.IsActive(requestTime)
		free := int(book.Available) - held
		if ownHold {
			free++
		}
		if !book.Lendable() || free <= 0 {
			return fmt.Errorf("book %d: %w", bookID, ErrBookUnavailable)
		}

		if err := book.CheckOut(); err != nil {
			return err
		}
		if mine != nil {
			from := mine.Status
			settled := model.ReservationFulfilled
			if from == model.ReservationApproved && !ownHold {
				settled = model.ReservationExpired
			}
			if err := mine.Transition(settled); err != nil {
				return err
			}
			if err := tx.UpdateReservation(ctx, *mine, from); err != nil {
				return err
			}
			if ownHold {
				held--
			}
		}
		if err := tx.UpdateAvailability(ctx, bookID, -1, book.DeriveStatus(held), book.Version); err != nil {
			return err
		}
		rec = model.NewBorrowRecord(bookID, memberID, requestTime, e.policy.LoanPeriod(member.Category))
		return tx.CreateBorrow(ctx, &rec)
	})
	e.report("borrow", err, zap.Uint64("book_id", bookID), zap.Uint64("member_id", memberID), zap.Uint64("borrow_id", rec.ID))
	if err != nil {
		return model.BorrowRecord{}, err
	}
	return rec, nil
}

// ReturnBook closes a loan, charges the overdue fine and puts the copy back.
// If a member is waiting for the title the oldest pending reservation is
// approved in the same transaction, before any other borrower can claim the
// copy.
func (e *Engine) ReturnBook(ctx context.Context, borrowID uint64, returnTime time.Time) (ReturnResult, error) {
	var res ReturnResult
	peek, err := e.store.LookupBorrow(ctx, borrowID)
	if err != nil {
		err = fmt.Errorf("borrow %d: %w", borrowID, err)
		e.report("return", err, zap.Uint64("borrow_id", borrowID))
		return res, err
	}
	err = e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		book, err := tx.GetBook(ctx, peek.BookID)
		if err != nil {
			return fmt.Errorf("book %d: %w", peek.BookID, err)
		}
		rec, err := tx.GetBorrow(ctx, borrowID)
		if err != nil {
			return fmt.Errorf("borrow %d: %w", borrowID, err)
		}
		if rec.Returned {
			return fmt.Errorf("borrow %d: %w", borrowID, ErrAlreadyReturned)
		}
		if err := rec.MarkReturned(returnTime, e.policy.ComputeFine(rec.DueDate, returnTime)); err != nil {
			return err
		}
		if err := tx.UpdateBorrow(ctx, rec); err != nil {
			return err
		}
		if err := book.CheckIn(); err != nil {
			return err
		}
		promoted, held, err := e.promote(ctx, tx, book, returnTime)
		if err != nil {
			return err
		}
		if err := tx.UpdateAvailability(ctx, book.ID, 1, book.DeriveStatus(held), book.Version); err != nil {
			return err
		}
		res = ReturnResult{Record: rec, Promoted: promoted}
		return nil
	})
	e.report("return", err, zap.Uint64("borrow_id", borrowID), zap.Uint64("book_id", peek.BookID),
		zap.Stringer("fine", res.Record.FineAmount))
	if err != nil {
		return ReturnResult{}, err
	}
	return res, nil
}

// RenewBorrow extends an open loan by the loan period it was granted with.
// It is refused when the loan is closed, the membership lapsed, somebody is
// queued for the title or the renewal cap is reached.
func (e *Engine) RenewBorrow(ctx context.Context, borrowID uint64, requestTime time.Time) (model.BorrowRecord, error) {
	var rec model.BorrowRecord
	peek, err := e.store.LookupBorrow(ctx, borrowID)
	if err != nil {
		err = fmt.Errorf("borrow %d: %w", borrowID, err)
		e.report("renew", err, zap.Uint64("borrow_id", borrowID))
		return rec, err
	}
	err = e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetBook(ctx, peek.BookID); err != nil {
			return fmt.Errorf("book %d: %w", peek.BookID, err)
		}
		member, err := tx.GetMember(ctx, peek.MemberID)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("member %d: %w", peek.MemberID, ErrMemberIneligible)
		}
		if err != nil {
			return err
		}
		rec, err = tx.GetBorrow(ctx, borrowID)
		if err != nil {
			return fmt.Errorf("borrow %d: %w", borrowID, err)
		}
		if rec.Returned {
			return fmt.Errorf("borrow %d: %w", borrowID, ErrAlreadyReturned)
		}
		if !member.IsMembershipValid(requestTime, e.policy.Zone()) {
			return fmt.Errorf("member %d: %w", member.ID, ErrMemberIneligible)
		}
		pending, err := tx.ListReservationsByBook(ctx, rec.BookID, model.ReservationPending)
		if err != nil {
			return err
		}
		for _, r := range pending {
			if r.IsWaiting(requestTime) && r.MemberID != rec.MemberID {
				return fmt.Errorf("book %d: %w", rec.BookID, ErrRenewalBlocked)
			}
		}
		if int(rec.RenewalCount) >= e.policy.MaxRenewals {
			return fmt.Errorf("borrow %d renewed %d times: %w", borrowID, rec.RenewalCount, ErrRenewalLimitExceeded)
		}
		if err := rec.Renew(grantedPeriod(rec)); err != nil {
			return err
		}
		return tx.UpdateBorrow(ctx, rec)
	})
	e.report("renew", err, zap.Uint64("borrow_id", borrowID), zap.Uint32("renewals", rec.RenewalCount))
	if err != nil {
		return model.BorrowRecord{}, err
	}
	return rec, nil
}

// grantedPeriod recovers the loan period fixed when the record was created;
// each renewal has added exactly one more period to the due date.
func grantedPeriod(rec model.BorrowRecord) time.Duration {
	return rec.DueDate.Sub(rec.BorrowDate) / time.Duration(rec.RenewalCount+1)
}

// promote approves the oldest waiting reservation for book if a shelf copy is
// not already held by an active approval.  Approved holds that have lapsed are
// moved to expired on the way.  It returns the promoted reservation (nil when
// none) and the number of copies held afterwards.
func (e *Engine) promote(ctx context.Context, tx Tx, book model.Book, now time.Time) (*model.Reservation, int, error) {
	queued, err := tx.ListReservationsByBook(ctx, book.ID, model.ReservationPending, model.ReservationApproved)
	if err != nil {
		return nil, 0, err
	}
	held := 0
	var next *model.Reservation
	for i := range queued {
		switch {
		case queued[i].IsActive(now):
			held++
		case queued[i].Status == model.ReservationApproved:
			if err := lapse(ctx, tx, &queued[i]); err != nil {
				return nil, held, err
			}
		case next == nil && queued[i].IsWaiting(now):
			next = &queued[i]
		}
	}
	if next == nil || !book.Lendable() || int(book.Available) <= held {
		return nil, held, nil
	}
	if err := next.Transition(model.ReservationApproved); err != nil {
		return nil, held, err
	}
	next.ExpiresAt = now.Add(e.policy.ReservationTTL)
	if err := tx.UpdateReservation(ctx, *next, model.ReservationPending); err != nil {
		return nil, held, err
	}
	return next, held + 1, nil
}

// lapse closes an approved reservation whose hold ran out so the member's
// queue slot for the book is free again.
func lapse(ctx context.Context, tx Tx, r *model.Reservation) error {
	if err := r.Transition(model.ReservationExpired); err != nil {
		return err
	}
	return tx.UpdateReservation(ctx, *r, model.ReservationApproved)
}

// report logs the outcome of an operation: defects at error, business
// rejections at debug, successes at info.
func (e *Engine) report(op string, err error, fields ...zap.Field) {
	switch {
	case err == nil:
		e.log.Info(op, fields...)
	case IsDefect(err):
		e.log.Error(op+" failed", append(fields, zap.Error(err))...)
	case KindOf(err) == KindInternal:
		e.log.Warn(op+" failed", append(fields, zap.Error(err))...)
	default:
		e.log.Debug(op+" rejected", append(fields, zap.String("kind", KindOf(err)), zap.Error(err))...)
	}
}
