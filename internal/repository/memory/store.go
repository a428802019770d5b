// Package memory is an in-process implementation of the circulation store
// and of the catalog, membership and auth repositories.  It backs the test
// suites and STORE_DRIVER=memory.  Transactions are serialized by a single
// mutex and run against a private copy of the state that replaces the live
// state only when the callback succeeds.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
)

type state struct {
	books        map[uint64]model.Book
	genres       map[uint64]model.Genre
	members      map[uint64]model.Member
	borrows      map[uint64]model.BorrowRecord
	reservations map[uint64]model.Reservation
	users        map[uint64]model.User
	tokens       map[string]model.RefreshToken
	seq          map[string]uint64
}

func newState() *state {
	return &state{
		books:        map[uint64]model.Book{},
		genres:       map[uint64]model.Genre{},
		members:      map[uint64]model.Member{},
		borrows:      map[uint64]model.BorrowRecord{},
		reservations: map[uint64]model.Reservation{},
		users:        map[uint64]model.User{},
		tokens:       map[string]model.RefreshToken{},
		seq:          map[string]uint64{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.books {
		c.books[k] = v
	}
	for k, v := range s.genres {
		c.genres[k] = v
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.borrows {
		c.borrows[k] = v
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.seq {
		c.seq[k] = v
	}
	return c
}

func (s *state) next(table string) uint64 {
	s.seq[table]++
	return s.seq[table]
}

// Store is safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	st    *state
	clock circulation.Clock
}

// New returns an empty store.  clock stamps created_at columns; nil means the
// wall clock.
func New(clock circulation.Clock) *Store {
	if clock == nil {
		clock = circulation.SystemClock{}
	}
	return &Store{st: newState(), clock: clock}
}

// InTx runs fn with exclusive access to the store.  Writes made by fn become
// visible only if it returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx circulation.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(ctx, &tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// LookupBorrow reads a borrow record outside any transaction.
func (s *Store) LookupBorrow(_ context.Context, id uint64) (model.BorrowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.st.borrows[id]
	if !ok {
		return model.BorrowRecord{}, circulation.ErrNotFound
	}
	return rec, nil
}

// view runs fn under the lock against the live state.
func (s *Store) view(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// tx implements circulation.Tx on a private copy of the state.
type tx struct {
	st *state
}

var _ circulation.Tx = (*tx)(nil)

func (t *tx) GetBook(_ context.Context, id uint64) (model.Book, error) {
	b, ok := t.st.books[id]
	if !ok {
		return model.Book{}, circulation.ErrNotFound
	}
	return b, nil
}

func (t *tx) UpdateAvailability(_ context.Context, bookID uint64, delta int, status model.BookStatus, expectedVersion uint32) error {
	b, ok := t.st.books[bookID]
	if !ok {
		return circulation.ErrNotFound
	}
	if b.Version != expectedVersion {
		return circulation.ErrConflict
	}
	next := int(b.Available) + delta
	if next < 0 || next > int(b.Quantity) {
		return &model.InvariantError{Entity: "book", ID: bookID, Reason: fmt.Sprintf("available %d out of [0,%d]", next, b.Quantity)}
	}
	b.Available = uint32(next)
	b.Status = status
	b.Version++
	t.st.books[bookID] = b
	return nil
}

func (t *tx) GetMember(_ context.Context, id uint64) (model.Member, error) {
	m, ok := t.st.members[id]
	if !ok {
		return model.Member{}, circulation.ErrNotFound
	}
	return m, nil
}

func (t *tx) CountActiveBorrows(_ context.Context, memberID uint64) (int, error) {
	n := 0
	for _, r := range t.st.borrows {
		if r.MemberID == memberID && !r.Returned {
			n++
		}
	}
	return n, nil
}

func (t *tx) CreateBorrow(_ context.Context, rec *model.BorrowRecord) error {
	if _, ok := t.st.books[rec.BookID]; !ok {
		return circulation.ErrNotFound
	}
	if _, ok := t.st.members[rec.MemberID]; !ok {
		return circulation.ErrNotFound
	}
	rec.ID = t.st.next("borrow_records")
	t.st.borrows[rec.ID] = *rec
	return nil
}

func (t *tx) GetBorrow(_ context.Context, id uint64) (model.BorrowRecord, error) {
	rec, ok := t.st.borrows[id]
	if !ok {
		return model.BorrowRecord{}, circulation.ErrNotFound
	}
	return rec, nil
}

func (t *tx) UpdateBorrow(_ context.Context, rec model.BorrowRecord) error {
	if _, ok := t.st.borrows[rec.ID]; !ok {
		return circulation.ErrNotFound
	}
	t.st.borrows[rec.ID] = rec
	return nil
}

// openConflict mirrors uq_reservations_open: one pending or approved row per
// book and member.
func (t *tx) openConflict(r model.Reservation) bool {
	if !r.IsOpen() {
		return false
	}
	for id, o := range t.st.reservations {
		if id != r.ID && o.BookID == r.BookID && o.MemberID == r.MemberID && o.IsOpen() {
			return true
		}
	}
	return false
}

func (t *tx) CreateReservation(_ context.Context, r *model.Reservation) error {
	if t.openConflict(*r) {
		return circulation.ErrDuplicateReservation
	}
	r.ID = t.st.next("reservations")
	t.st.reservations[r.ID] = *r
	return nil
}

func (t *tx) GetReservation(_ context.Context, id uint64) (model.Reservation, error) {
	r, ok := t.st.reservations[id]
	if !ok {
		return model.Reservation{}, circulation.ErrNotFound
	}
	return r, nil
}

func (t *tx) ListReservationsByBook(_ context.Context, bookID uint64, statuses ...model.ReservationStatus) ([]model.Reservation, error) {
	var out []model.Reservation
	for _, r := range t.st.reservations {
		if r.BookID == bookID && hasStatus(r.Status, statuses) {
			out = append(out, r)
		}
	}
	sortQueue(out)
	return out, nil
}

func (t *tx) UpdateReservation(_ context.Context, r model.Reservation, from model.ReservationStatus) error {
	cur, ok := t.st.reservations[r.ID]
	if !ok || cur.Status != from {
		return circulation.ErrConflict
	}
	if t.openConflict(model.Reservation{ID: cur.ID, BookID: cur.BookID, MemberID: cur.MemberID, Status: r.Status}) {
		return circulation.ErrDuplicateReservation
	}
	cur.Status = r.Status
	cur.ExpiresAt = r.ExpiresAt
	t.st.reservations[r.ID] = cur
	return nil
}

func (t *tx) ExpirePendingReservations(_ context.Context, now time.Time) ([]model.Reservation, error) {
	var out []model.Reservation
	for id, r := range t.st.reservations {
		if r.Status != model.ReservationPending || r.ExpiresAt.After(now) {
			continue
		}
		r.Status = model.ReservationExpired
		t.st.reservations[id] = r
		out = append(out, r)
	}
	sortQueue(out)
	return out, nil
}

func hasStatus(s model.ReservationStatus, statuses []model.ReservationStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}

// sortQueue orders reservations by creation time, then id.
func sortQueue(rs []model.Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].ID < rs[j].ID
	})
}
