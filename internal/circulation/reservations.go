package circulation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/library-circulation/internal/model"
)

// RequestReservation queues memberID for bookID.  The reservation starts
// pending and lapses ReservationTTL after requestTime unless a copy is
// allocated to it first.  A member may have only one open reservation (pending
// or approved) per book; an earlier approval whose hold lapsed is expired
// first.
func (e *Engine) RequestReservation(ctx context.Context, bookID, memberID uint64, requestTime time.Time) (model.Reservation, error) {
	var r model.Reservation
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetBook(ctx, bookID); err != nil {
			return fmt.Errorf("book %d: %w", bookID, err)
		}
		member, err := tx.GetMember(ctx, memberID)
		if err != nil {
			return fmt.Errorf("member %d: %w", memberID, err)
		}
		if !member.IsMembershipValid(requestTime, e.policy.Zone()) {
			return fmt.Errorf("member %d: %w", memberID, ErrMemberIneligible)
		}
		open, err := tx.ListReservationsByBook(ctx, bookID, model.ReservationPending, model.ReservationApproved)
		if err != nil {
			return err
		}
		for i := range open {
			if open[i].MemberID != memberID {
				continue
			}
			if open[i].Status == model.ReservationPending || open[i].IsActive(requestTime) {
				return fmt.Errorf("book %d member %d: %w", bookID, memberID, ErrDuplicateReservation)
			}
			if err := lapse(ctx, tx, &open[i]); err != nil {
				return err
			}
		}
		r = model.Reservation{
			BookID:    bookID,
			MemberID:  memberID,
			CreatedAt: requestTime,
			ExpiresAt: requestTime.Add(e.policy.ReservationTTL),
			Status:    model.ReservationPending,
		}
		return tx.CreateReservation(ctx, &r)
	})
	e.report("reserve", err, zap.Uint64("book_id", bookID), zap.Uint64("member_id", memberID), zap.Uint64("reservation_id", r.ID))
	if err != nil {
		return model.Reservation{}, err
	}
	return r, nil
}

// CancelReservation withdraws an open reservation.  memberID restricts the
// call to the reservation's owner; zero skips the ownership check.  Releasing
// an approved hold hands the copy to the next waiting member.
func (e *Engine) CancelReservation(ctx context.Context, reservationID, memberID uint64, now time.Time) (model.Reservation, *model.Reservation, error) {
	var (
		r        model.Reservation
		promoted *model.Reservation
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		r, err = tx.GetReservation(ctx, reservationID)
		if err != nil {
			return fmt.Errorf("reservation %d: %w", reservationID, err)
		}
		if memberID != 0 && r.MemberID != memberID {
			return fmt.Errorf("reservation %d: %w", reservationID, ErrNotFound)
		}
		book, err := tx.GetBook(ctx, r.BookID)
		if err != nil {
			return fmt.Errorf("book %d: %w", r.BookID, err)
		}
		from := r.Status
		if from != model.ReservationPending && from != model.ReservationApproved {
			return fmt.Errorf("reservation %d is %s: %w", reservationID, from, ErrNotFound)
		}
		wasHolding := r.IsActive(now)
		if err := r.Transition(model.ReservationCanceled); err != nil {
			return err
		}
		if err := tx.UpdateReservation(ctx, r, from); err != nil {
			return err
		}
		if !wasHolding {
			return nil
		}
		var held int
		promoted, held, err = e.promote(ctx, tx, book, now)
		if err != nil {
			return err
		}
		return tx.UpdateAvailability(ctx, book.ID, 0, book.DeriveStatus(held), book.Version)
	})
	e.report("cancel reservation", err, zap.Uint64("reservation_id", reservationID))
	if err != nil {
		return model.Reservation{}, nil, err
	}
	return r, promoted, nil
}

// ExpireStaleReservations moves every pending reservation whose expiry has
// passed to expired.  Approved reservations are not touched here: a lapsed
// hold stops counting at once and is closed by the next return, cancellation
// or request for the book.  Running it repeatedly or alongside borrows and
// returns is safe.
func (e *Engine) ExpireStaleReservations(ctx context.Context, now time.Time) ([]model.Reservation, error) {
	var expired []model.Reservation
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		expired, err = tx.ExpirePendingReservations(ctx, now)
		return err
	})
	if err != nil {
		e.report("expire reservations", err)
		return nil, err
	}
	if len(expired) > 0 {
		e.log.Info("expire reservations", zap.Int("expired", len(expired)))
	}
	return expired, nil
}

// PromoteNextReservation approves the oldest waiting reservation for bookID
// if a shelf copy is free of holds.  It returns nil when nobody was promoted.
func (e *Engine) PromoteNextReservation(ctx context.Context, bookID uint64, now time.Time) (*model.Reservation, error) {
	var promoted *model.Reservation
	err := e.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		book, err := tx.GetBook(ctx, bookID)
		if err != nil {
			return fmt.Errorf("book %d: %w", bookID, err)
		}
		var held int
		promoted, held, err = e.promote(ctx, tx, book, now)
		if err != nil {
			return err
		}
		status := book.DeriveStatus(held)
		if promoted == nil && status == book.Status {
			return nil
		}
		return tx.UpdateAvailability(ctx, bookID, 0, status, book.Version)
	})
	if err != nil {
		e.report("promote", err, zap.Uint64("book_id", bookID))
		return nil, err
	}
	if promoted != nil {
		e.log.Info("promote", zap.Uint64("book_id", bookID), zap.Uint64("reservation_id", promoted.ID))
	}
	return promoted, nil
}

// IsActive reports whether r holds a copy at now.
func IsActive(r model.Reservation, now time.Time) bool {
	return r.IsActive(now)
}
