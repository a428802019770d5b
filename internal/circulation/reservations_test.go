package circulation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/queue"
)

func TestRequestReservationErrorWhenDuplicate(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 1)
	m := f.member(t, model.CategoryStudent, 3)

	_, err := f.engine.RequestReservation(f.ctx, book.ID, m.ID, onDay(0))
	require.NoError(t, err)
	_, err = f.engine.RequestReservation(f.ctx, book.ID, m.ID, onDay(1))
	assert.ErrorIs(t, err, circulation.ErrDuplicateReservation)

	// a different member may still queue
	_, err = f.engine.RequestReservation(f.ctx, book.ID, f.member(t, model.CategoryStudent, 3).ID, onDay(1))
	assert.NoError(t, err)
}

func TestRequestReservationErrorWhenReferencesAreInvalid(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 1)
	m := f.member(t, model.CategoryStudent, 3)
	require.NoError(t, f.store.DeactivateMember(f.ctx, m.ID))

	_, err := f.engine.RequestReservation(f.ctx, 404, m.ID, onDay(0))
	assert.ErrorIs(t, err, circulation.ErrNotFound)
	_, err = f.engine.RequestReservation(f.ctx, book.ID, 404, onDay(0))
	assert.ErrorIs(t, err, circulation.ErrNotFound)
	_, err = f.engine.RequestReservation(f.ctx, book.ID, m.ID, onDay(0))
	assert.ErrorIs(t, err, circulation.ErrMemberIneligible)
}

func TestExpireStaleReservationsExpiresUnpromotedReservationByDayFour(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 1)
	m := f.member(t, model.CategoryStudent, 3)
	r, err := f.engine.RequestReservation(f.ctx, book.ID, m.ID, onDay(0))
	require.NoError(t, err)

	expired, err := f.engine.ExpireStaleReservations(f.ctx, onDay(2))
	require.NoError(t, err)
	assert.Empty(t, expired)

	expired, err = f.engine.ExpireStaleReservations(f.ctx, onDay(4))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, r.ID, expired[0].ID)

	got, err := f.store.FindReservation(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationExpired, got.Status)

	// idempotent
	expired, err = f.engine.ExpireStaleReservations(f.ctx, onDay(5))
	require.NoError(t, err)
	assert.Empty(t, expired)

	// an expired reservation no longer blocks a new request
	_, err = f.engine.RequestReservation(f.ctx, book.ID, m.ID, onDay(5))
	assert.NoError(t, err)
}

func TestExpireStaleReservationsLeavesApprovedAlone(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 1)
	holder := f.member(t, model.CategoryStudent, 3)
	m := f.member(t, model.CategoryStudent, 3)
	loan, err := f.engine.BorrowBook(f.ctx, book.ID, holder.ID, onDay(0))
	require.NoError(t, err)
	r, err := f.engine.RequestReservation(f.ctx, book.ID, m.ID, onDay(0))
	require.NoError(t, err)
	_, err = f.engine.ReturnBook(f.ctx, loan.ID, onDay(1))
	require.NoError(t, err)

	_, err = f.engine.ExpireStaleReservations(f.ctx, onDay(10))
	require.NoError(t, err)

	got, err := f.store.FindReservation(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationApproved, got.Status)
	assert.False(t, circulation.IsActive(got, onDay(10)))
	assert.True(t, circulation.IsActive(got, onDay(3)))

	// the lapsed hold frees the copy for everybody
	_, err = f.engine.BorrowBook(f.ctx, book.ID, holder.ID, onDay(10))
	assert.NoError(t, err)
}

func TestCancelReservationReleasesHoldToNextInQueue(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 1)
	holder := f.member(t, model.CategoryStudent, 3)
	first := f.member(t, model.CategoryStudent, 3)
	second := f.member(t, model.CategoryStudent, 3)

	loan, err := f.engine.BorrowBook(f.ctx, book.ID, holder.ID, onDay(0))
	require.NoError(t, err)
	r1, err := f.engine.RequestReservation(f.ctx, book.ID, first.ID, onDay(0))
	require.NoError(t, err)
	r2, err := f.engine.RequestReservation(f.ctx, book.ID, second.ID, onDay(1))
	require.NoError(t, err)
	_, err = f.engine.ReturnBook(f.ctx, loan.ID, onDay(2))
	require.NoError(t, err)

	_, _, err = f.engine.CancelReservation(f.ctx, r1.ID, second.ID, onDay(2))
	assert.ErrorIs(t, err, circulation.ErrNotFound, "members cannot cancel each other's reservations")

	canceled, promoted, err := f.engine.CancelReservation(f.ctx, r1.ID, first.ID, onDay(2))
	require.NoError(t, err)
	assert.Equal(t, model.ReservationCanceled, canceled.Status)
	require.NotNil(t, promoted)
	assert.Equal(t, r2.ID, promoted.ID)
	assert.Equal(t, onDay(5), promoted.ExpiresAt)

	_, _, err = f.engine.CancelReservation(f.ctx, r1.ID, 0, onDay(2))
	assert.ErrorIs(t, err, circulation.ErrNotFound)
}

func TestPromoteNextReservation(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 2)
	m := f.member(t, model.CategoryStudent, 3)
	other := f.member(t, model.CategoryStudent, 3)

	none, err := f.engine.PromoteNextReservation(f.ctx, book.ID, onDay(0))
	require.NoError(t, err)
	assert.Nil(t, none)

	r, err := f.engine.RequestReservation(f.ctx, book.ID, m.ID, onDay(0))
	require.NoError(t, err)
	promoted, err := f.engine.PromoteNextReservation(f.ctx, book.ID, onDay(0))
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, r.ID, promoted.ID)

	// one copy is held, the other is still free
	after := f.reload(t, book.ID)
	assert.Equal(t, model.BookAvailable, after.Status)
	_, err = f.engine.BorrowBook(f.ctx, book.ID, other.ID, onDay(0))
	require.NoError(t, err)
	assert.Equal(t, model.BookReserved, f.reload(t, book.ID).Status)

	_, err = f.engine.PromoteNextReservation(f.ctx, 404, onDay(0))
	assert.ErrorIs(t, err, circulation.ErrNotFound)
}

func TestExpireReservationsPublishesOneEventPerReservation(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 1)
	for i := 0; i < 3; i++ {
		_, err := f.engine.Reserve(f.ctx, book.ID, f.member(t, model.CategoryGuest, 3).ID)
		require.NoError(t, err)
	}

	n, err := f.engine.ExpireReservations(f.ctx, onDay(3))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	types := f.pub.types()
	require.Len(t, types, 6)
	assert.Equal(t, queue.EventReservationExpired, types[5])
}

func TestRequestReservationReplacesLapsedHold(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 1)
	holder := f.member(t, model.CategoryStudent, 3)
	m := f.member(t, model.CategoryStudent, 3)
	walkIn := f.member(t, model.CategoryStudent, 3)

	loan, err := f.engine.BorrowBook(f.ctx, book.ID, holder.ID, onDay(0))
	require.NoError(t, err)
	first, err := f.engine.RequestReservation(f.ctx, book.ID, m.ID, onDay(0))
	require.NoError(t, err)
	res, err := f.engine.ReturnBook(f.ctx, loan.ID, onDay(1))
	require.NoError(t, err)
	require.NotNil(t, res.Promoted)
	assert.Equal(t, first.ID, res.Promoted.ID)

	// the hold lapses unused and a walk-in takes the copy
	loan, err = f.engine.BorrowBook(f.ctx, book.ID, walkIn.ID, onDay(5))
	require.NoError(t, err)
	second, err := f.engine.RequestReservation(f.ctx, book.ID, m.ID, onDay(5))
	require.NoError(t, err)

	lapsed, err := f.store.FindReservation(f.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationExpired, lapsed.Status)

	res, err = f.engine.ReturnBook(f.ctx, loan.ID, onDay(6))
	require.NoError(t, err)
	require.NotNil(t, res.Promoted)
	assert.Equal(t, second.ID, res.Promoted.ID)

	history, err := f.store.ListReservationsByMember(f.ctx, m.ID)
	require.NoError(t, err)
	approved := 0
	for _, r := range history {
		if r.Status == model.ReservationApproved {
			approved++
		}
	}
	assert.Equal(t, 1, approved)

	_, err = f.engine.BorrowBook(f.ctx, book.ID, m.ID, onDay(6))
	require.NoError(t, err)
	done, err := f.store.FindReservation(f.ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationFulfilled, done.Status)
}

func TestReturnBookExpiresLapsedHolds(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 1)
	holder := f.member(t, model.CategoryStudent, 3)
	absent := f.member(t, model.CategoryStudent, 3)
	b := f.member(t, model.CategoryStudent, 3)
	c := f.member(t, model.CategoryStudent, 3)

	loan, err := f.engine.BorrowBook(f.ctx, book.ID, holder.ID, onDay(0))
	require.NoError(t, err)
	stale, err := f.engine.RequestReservation(f.ctx, book.ID, absent.ID, onDay(0))
	require.NoError(t, err)
	_, err = f.engine.ReturnBook(f.ctx, loan.ID, onDay(1))
	require.NoError(t, err)

	loan, err = f.engine.BorrowBook(f.ctx, book.ID, b.ID, onDay(5))
	require.NoError(t, err)
	waiting, err := f.engine.RequestReservation(f.ctx, book.ID, c.ID, onDay(5))
	require.NoError(t, err)

	res, err := f.engine.ReturnBook(f.ctx, loan.ID, onDay(6))
	require.NoError(t, err)
	require.NotNil(t, res.Promoted)
	assert.Equal(t, waiting.ID, res.Promoted.ID)

	got, err := f.store.FindReservation(f.ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationExpired, got.Status)
	assert.Equal(t, model.BookReserved, f.reload(t, book.ID).Status)
}
