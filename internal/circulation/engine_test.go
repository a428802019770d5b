package circulation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/queue"
	"github.com/iliyamo/library-circulation/internal/repository/memory"
)

var day0 = time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC)

func onDay(n int) time.Time { return day0.Add(time.Duration(n) * 24 * time.Hour) }

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.CirculationEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev queue.CirculationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	ctx    context.Context
	store  *memory.Store
	engine *circulation.Engine
	pub    *recordingPublisher
	now    time.Time
	seq    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), pub: &recordingPublisher{}, now: day0}
	clock := circulation.ClockFunc(func() time.Time { return f.now })
	f.store = memory.New(clock)
	f.engine = circulation.NewEngine(f.store, circulation.DefaultPolicy(), clock, f.pub, nil)
	return f
}

func (f *fixture) book(t *testing.T, quantity uint32) model.Book {
	t.Helper()
	f.seq++
	b := model.NewBook(fmt.Sprintf("Title %d", f.seq), []string{"Author"}, fmt.Sprintf("isbn-%d", f.seq), quantity, model.ConditionGood)
	require.NoError(t, f.store.CreateBook(f.ctx, &b))
	return b
}

func (f *fixture) member(t *testing.T, category model.Category, limit uint32) model.Member {
	t.Helper()
	f.seq++
	m := model.Member{
		FirstName:       "Member",
		MembershipID:    fmt.Sprintf("M-%d", f.seq),
		Category:        category,
		MembershipStart: onDay(-365),
		MembershipEnd:   onDay(365),
		Active:          true,
		MaxBorrowLimit:  limit,
	}
	require.NoError(t, f.store.CreateMember(f.ctx, &m))
	return m
}

func (f *fixture) reload(t *testing.T, id uint64) model.Book {
	t.Helper()
	b, err := f.store.FindBook(f.ctx, id)
	require.NoError(t, err)
	return b
}

func TestBorrowAndReturnSuccessLateStudentPaysSixDays(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 1)
	m := f.member(t, model.CategoryStudent, 3)

	rec, err := f.engine.BorrowBook(f.ctx, book.ID, m.ID, onDay(0))
	require.NoError(t, err)
	assert.Equal(t, onDay(14), rec.DueDate)
	assert.False(t, rec.Returned)

	after := f.reload(t, book.ID)
	assert.Equal(t, uint32(0), after.Available)
	assert.Equal(t, model.BookBorrowed, after.Status)

	res, err := f.engine.ReturnBook(f.ctx, rec.ID, onDay(20))
	require.NoError(t, err)
	assert.True(t, res.Record.Returned)
	require.NotNil(t, res.Record.ReturnDate)
	assert.Equal(t, onDay(20), *res.Record.ReturnDate)
	assert.True(t, res.Record.FineAmount.Equal(decimal.NewFromInt(6*5000)))
	assert.Nil(t, res.Promoted)

	after = f.reload(t, book.ID)
	assert.Equal(t, uint32(1), after.Available)
	assert.Equal(t, model.BookAvailable, after.Status)
}

func TestBorrowBookDueDateFollowsCategory(t *testing.T) {
	f := newFixture(t)
	for cat, days := range map[model.Category]int{
		model.CategoryProfessor: 30,
		model.CategoryStaff:     21,
		model.CategoryStudent:   14,
		model.CategoryGuest:     14,
	} {
		book := f.book(t, 1)
		m := f.member(t, cat, 3)
		rec, err := f.engine.BorrowBook(f.ctx, book.ID, m.ID, onDay(0))
		require.NoError(t, err)
		assert.Equal(t, onDay(days), rec.DueDate, string(cat))
	}
}

func TestBorrowBookErrorWhenNoCopyLeftLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 1)
	first := f.member(t, model.CategoryStudent, 3)
	second := f.member(t, model.CategoryStudent, 3)

	_, err := f.engine.BorrowBook(f.ctx, book.ID, first.ID, onDay(0))
	require.NoError(t, err)
	before := f.reload(t, book.ID)

	_, err = f.engine.BorrowBook(f.ctx, book.ID, second.ID, onDay(1))
	assert.ErrorIs(t, err, circulation.ErrBookUnavailable)
	assert.Equal(t, before, f.reload(t, book.ID))

	history, err := f.store.ListBorrowsByMember(f.ctx, second.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestBorrowBookErrorPreconditionOrder(t *testing.T) {
	f := newFixture(t)
	empty := f.book(t, 1)
	holder := f.member(t, model.CategoryStaff, 3)
	_, err := f.engine.BorrowBook(f.ctx, empty.ID, holder.ID, onDay(0))
	require.NoError(t, err)

	inactive := f.member(t, model.CategoryStudent, 3)
	require.NoError(t, f.store.DeactivateMember(f.ctx, inactive.ID))

	full := f.member(t, model.CategoryStudent, 1)
	_, err = f.engine.BorrowBook(f.ctx, f.book(t, 1).ID, full.ID, onDay(0))
	require.NoError(t, err)

	tests := []struct {
		name   string
		bookID uint64
		member uint64
		at     time.Time
		want   error
	}{
		{"missing book wins over missing member", 9999, 9999, onDay(1), circulation.ErrNotFound},
		{"missing member", empty.ID, 9999, onDay(1), circulation.ErrMemberIneligible},
		{"inactive member on empty book", empty.ID, inactive.ID, onDay(1), circulation.ErrMemberIneligible},
		{"membership lapsed", empty.ID, holder.ID, onDay(400), circulation.ErrMemberIneligible},
		{"limit reached wins over no copy", empty.ID, full.ID, onDay(1), circulation.ErrBorrowLimitExceeded},
		{"no copy", empty.ID, f.member(t, model.CategoryGuest, 3).ID, onDay(1), circulation.ErrBookUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.BorrowBook(f.ctx, tt.bookID, tt.member, tt.at)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBorrowBookErrorWhenBookIsDamaged(t *testing.T) {
	f := newFixture(t)
	b := model.NewBook("Worn", []string{"A"}, "isbn-damaged", 2, model.ConditionDamaged)
	require.NoError(t, f.store.CreateBook(f.ctx, &b))
	m := f.member(t, model.CategoryStudent, 3)

	_, err := f.engine.BorrowBook(f.ctx, b.ID, m.ID, onDay(0))
	assert.ErrorIs(t, err, circulation.ErrBookUnavailable)
	assert.Equal(t, uint32(2), f.reload(t, b.ID).Available)
}

func TestBorrowBookErrorWhenSystemCapReached(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, model.CategoryProfessor, 9)
	for i := 0; i < 5; i++ {
		_, err := f.engine.BorrowBook(f.ctx, f.book(t, 1).ID, m.ID, onDay(0))
		require.NoError(t, err)
	}
	_, err := f.engine.BorrowBook(f.ctx, f.book(t, 1).ID, m.ID, onDay(0))
	assert.ErrorIs(t, err, circulation.ErrBorrowLimitExceeded)
}

func TestReturnBookErrorWhenAlreadyReturned(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 2)
	m := f.member(t, model.CategoryStudent, 3)
	rec, err := f.engine.BorrowBook(f.ctx, book.ID, m.ID, onDay(0))
	require.NoError(t, err)

	_, err = f.engine.ReturnBook(f.ctx, rec.ID, onDay(3))
	require.NoError(t, err)
	_, err = f.engine.ReturnBook(f.ctx, rec.ID, onDay(4))
	assert.ErrorIs(t, err, circulation.ErrAlreadyReturned)

	after := f.reload(t, book.ID)
	assert.Equal(t, uint32(2), after.Available)
}

func TestReturnBookErrorWhenRecordMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ReturnBook(f.ctx, 42, onDay(0))
	assert.ErrorIs(t, err, circulation.ErrNotFound)
}

func TestReturnBookOnTimeChargesNothing(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 1)
	m := f.member(t, model.CategoryStudent, 3)
	rec, err := f.engine.BorrowBook(f.ctx, book.ID, m.ID, onDay(0))
	require.NoError(t, err)

	res, err := f.engine.ReturnBook(f.ctx, rec.ID, onDay(14))
	require.NoError(t, err)
	assert.True(t, res.Record.FineAmount.IsZero())
}

func TestBorrowBookConcurrentOnlyOneWinsTheLastCopy(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 1)
	members := make([]model.Member, 10)
	for i := range members {
		members[i] = f.member(t, model.CategoryStudent, 3)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejects   int
	)
	for _, m := range members {
		wg.Add(1)
		go func(memberID uint64) {
			defer wg.Done()
			_, err := f.engine.BorrowBook(f.ctx, book.ID, memberID, onDay(0))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, circulation.ErrBookUnavailable), errors.Is(err, circulation.ErrConflict):
				rejects++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(m.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 9, rejects)
	assert.Equal(t, uint32(0), f.reload(t, book.ID).Available)
}

func TestBorrowBookConcurrentLimitCannotBeExceeded(t *testing.T) {
	f := newFixture(t)
	m := f.member(t, model.CategoryStudent, 2)
	books := make([]model.Book, 10)
	for i := range books {
		books[i] = f.book(t, 1)
	}

	var wg sync.WaitGroup
	for _, b := range books {
		wg.Add(1)
		go func(bookID uint64) {
			defer wg.Done()
			_, _ = f.engine.BorrowBook(f.ctx, bookID, m.ID, onDay(0))
		}(b.ID)
	}
	wg.Wait()

	history, err := f.store.ListBorrowsByMember(f.ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestReturnBookConcurrentReturnsCountOnce(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 1)
	m := f.member(t, model.CategoryStudent, 3)
	loan, err := f.engine.BorrowBook(f.ctx, book.ID, m.ID, onDay(0))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejects   int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.ReturnBook(f.ctx, loan.ID, onDay(1))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, circulation.ErrAlreadyReturned), errors.Is(err, circulation.ErrConflict):
				rejects++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 9, rejects)
	after := f.reload(t, book.ID)
	assert.Equal(t, after.Quantity, after.Available)
	assert.Equal(t, uint32(1), after.Available)
}

func TestBorrowBookSettlesOwnQueuedReservation(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 2)
	a := f.member(t, model.CategoryStudent, 3)
	m := f.member(t, model.CategoryStudent, 3)
	n := f.member(t, model.CategoryStudent, 3)

	loan, err := f.engine.BorrowBook(f.ctx, book.ID, a.ID, onDay(0))
	require.NoError(t, err)
	r, err := f.engine.RequestReservation(f.ctx, book.ID, m.ID, onDay(0))
	require.NoError(t, err)

	_, err = f.engine.BorrowBook(f.ctx, book.ID, m.ID, onDay(0))
	require.NoError(t, err)
	settled, err := f.store.FindReservation(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationFulfilled, settled.Status)

	res, err := f.engine.ReturnBook(f.ctx, loan.ID, onDay(1))
	require.NoError(t, err)
	assert.Nil(t, res.Promoted, "a member who already holds a copy is not queued any more")

	_, err = f.engine.BorrowBook(f.ctx, book.ID, n.ID, onDay(1))
	assert.NoError(t, err)
}

func TestBorrowBookChecksMembershipInLibraryZone(t *testing.T) {
	f := newFixture(t)
	p := circulation.DefaultPolicy()
	p.Location = time.FixedZone("UTC+5", 5*3600)
	zoned := circulation.NewEngine(f.store, p, nil, nil, nil)
	book := f.book(t, 2)
	m := model.Member{
		FirstName:       "Member",
		MembershipID:    "M-zone",
		Category:        model.CategoryStudent,
		MembershipStart: onDay(-30),
		MembershipEnd:   onDay(0),
		Active:          true,
		MaxBorrowLimit:  3,
	}
	require.NoError(t, f.store.CreateMember(f.ctx, &m))

	// 21:00 UTC on the last day is already the next morning in UTC+5.
	evening := onDay(0).Add(12 * time.Hour)
	_, err := zoned.BorrowBook(f.ctx, book.ID, m.ID, evening)
	assert.ErrorIs(t, err, circulation.ErrMemberIneligible)
	_, err = f.engine.BorrowBook(f.ctx, book.ID, m.ID, evening)
	assert.NoError(t, err)
}

func TestReturnBookPromotesWaitingReservationBeforeNewBorrow(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 1)
	n := f.member(t, model.CategoryStudent, 3)
	m := f.member(t, model.CategoryStudent, 3)
	other := f.member(t, model.CategoryStudent, 3)

	loan, err := f.engine.BorrowBook(f.ctx, book.ID, n.ID, onDay(-5))
	require.NoError(t, err)

	r, err := f.engine.RequestReservation(f.ctx, book.ID, m.ID, onDay(0))
	require.NoError(t, err)
	assert.Equal(t, model.ReservationPending, r.Status)
	assert.Equal(t, onDay(3), r.ExpiresAt)

	res, err := f.engine.ReturnBook(f.ctx, loan.ID, onDay(1))
	require.NoError(t, err)
	require.NotNil(t, res.Promoted)
	assert.Equal(t, r.ID, res.Promoted.ID)
	assert.Equal(t, model.ReservationApproved, res.Promoted.Status)

	after := f.reload(t, book.ID)
	assert.Equal(t, uint32(1), after.Available)
	assert.Equal(t, model.BookReserved, after.Status)

	_, err = f.engine.BorrowBook(f.ctx, book.ID, other.ID, onDay(1))
	assert.ErrorIs(t, err, circulation.ErrBookUnavailable)

	_, err = f.engine.BorrowBook(f.ctx, book.ID, m.ID, onDay(2))
	require.NoError(t, err)
	held, err := f.store.FindReservation(f.ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReservationFulfilled, held.Status)
	assert.Equal(t, model.BookBorrowed, f.reload(t, book.ID).Status)
}

func TestReturnBookPromotesInFIFOOrder(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 1)
	holder := f.member(t, model.CategoryStudent, 3)
	first := f.member(t, model.CategoryStudent, 3)
	second := f.member(t, model.CategoryStudent, 3)

	loan, err := f.engine.BorrowBook(f.ctx, book.ID, holder.ID, onDay(0))
	require.NoError(t, err)
	r1, err := f.engine.RequestReservation(f.ctx, book.ID, first.ID, onDay(1))
	require.NoError(t, err)
	_, err = f.engine.RequestReservation(f.ctx, book.ID, second.ID, onDay(1))
	require.NoError(t, err)

	res, err := f.engine.ReturnBook(f.ctx, loan.ID, onDay(2))
	require.NoError(t, err)
	require.NotNil(t, res.Promoted)
	assert.Equal(t, r1.ID, res.Promoted.ID)
}

func TestReturnBookSkipsStaleReservation(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 1)
	holder := f.member(t, model.CategoryStudent, 3)
	late := f.member(t, model.CategoryStudent, 3)

	loan, err := f.engine.BorrowBook(f.ctx, book.ID, holder.ID, onDay(0))
	require.NoError(t, err)
	_, err = f.engine.RequestReservation(f.ctx, book.ID, late.ID, onDay(0))
	require.NoError(t, err)

	res, err := f.engine.ReturnBook(f.ctx, loan.ID, onDay(5))
	require.NoError(t, err)
	assert.Nil(t, res.Promoted)
	assert.Equal(t, model.BookAvailable, f.reload(t, book.ID).Status)
}

func TestRenewBorrow(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 1)
	m := f.member(t, model.CategoryStaff, 3)
	rec, err := f.engine.BorrowBook(f.ctx, book.ID, m.ID, onDay(0))
	require.NoError(t, err)

	renewed, err := f.engine.RenewBorrow(f.ctx, rec.ID, onDay(10))
	require.NoError(t, err)
	assert.Equal(t, onDay(42), renewed.DueDate)
	assert.Equal(t, uint32(1), renewed.RenewalCount)

	renewed, err = f.engine.RenewBorrow(f.ctx, rec.ID, onDay(30))
	require.NoError(t, err)
	assert.Equal(t, onDay(63), renewed.DueDate)

	_, err = f.engine.RenewBorrow(f.ctx, rec.ID, onDay(50))
	assert.ErrorIs(t, err, circulation.ErrRenewalLimitExceeded)
}

func TestRenewBorrowErrorWhenSomeoneIsWaiting(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 1)
	m := f.member(t, model.CategoryStudent, 3)
	waiting := f.member(t, model.CategoryStudent, 3)
	rec, err := f.engine.BorrowBook(f.ctx, book.ID, m.ID, onDay(0))
	require.NoError(t, err)
	_, err = f.engine.RequestReservation(f.ctx, book.ID, waiting.ID, onDay(1))
	require.NoError(t, err)

	_, err = f.engine.RenewBorrow(f.ctx, rec.ID, onDay(2))
	assert.ErrorIs(t, err, circulation.ErrRenewalBlocked)

	// once the reservation has lapsed the loan can be renewed again
	_, err = f.engine.RenewBorrow(f.ctx, rec.ID, onDay(5))
	assert.NoError(t, err)
}

func TestRenewBorrowErrorWhenReturnedOrMissing(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 1)
	m := f.member(t, model.CategoryStudent, 3)
	rec, err := f.engine.BorrowBook(f.ctx, book.ID, m.ID, onDay(0))
	require.NoError(t, err)
	_, err = f.engine.ReturnBook(f.ctx, rec.ID, onDay(1))
	require.NoError(t, err)

	_, err = f.engine.RenewBorrow(f.ctx, rec.ID, onDay(2))
	assert.ErrorIs(t, err, circulation.ErrAlreadyReturned)
	_, err = f.engine.RenewBorrow(f.ctx, 777, onDay(2))
	assert.ErrorIs(t, err, circulation.ErrNotFound)
}

func TestFacadePublishesEventsAfterCommit(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 1)
	m := f.member(t, model.CategoryStudent, 3)
	waiting := f.member(t, model.CategoryStudent, 3)

	receipt, err := f.engine.Borrow(f.ctx, book.ID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, onDay(14), receipt.DueDate)

	f.now = onDay(14)
	_, err = f.engine.Reserve(f.ctx, book.ID, waiting.ID)
	require.NoError(t, err)

	_, err = f.engine.Borrow(f.ctx, book.ID, waiting.ID)
	assert.ErrorIs(t, err, circulation.ErrBookUnavailable)

	f.now = onDay(16)
	ret, err := f.engine.Return(f.ctx, receipt.BorrowRecordID)
	require.NoError(t, err)
	assert.Equal(t, 2, ret.OverdueDays)
	assert.True(t, ret.FineAmount.Equal(decimal.NewFromInt(10000)))
	require.NotNil(t, ret.PromotedMemberID)
	assert.Equal(t, waiting.ID, *ret.PromotedMemberID)

	assert.Equal(t, []string{
		queue.EventBookBorrowed,
		queue.EventReservationRequested,
		queue.EventBookReturned,
		queue.EventReservationApproved,
	}, f.pub.types())
}
