package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
)

// Store implements circulation.Store on MySQL.  Each InTx call runs in one
// InnoDB transaction; GetBook, GetMember and GetBorrow take row locks so
// concurrent borrowers of the same book or by the same member serialize.
type Store struct {
	db           *sql.DB
	books        *BookRepo
	members      *MemberRepo
	borrows      *BorrowRepo
	reservations *ReservationRepo
}

// NewStore constructs a Store given a DB handle.
func NewStore(db *sql.DB) *Store {
	if db == nil {
		panic("nil db passed to NewStore")
	}
	return &Store{
		db:           db,
		books:        NewBookRepo(db),
		members:      NewMemberRepo(db),
		borrows:      NewBorrowRepo(db),
		reservations: NewReservationRepo(db),
	}
}

// InTx begins a transaction, runs fn and commits when fn succeeds.  Deadlocks
// and lock wait timeouts surface as circulation.ErrConflict.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx circulation.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(ctx, &txAdapter{s: s, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return translate(err, nil)
	}
	committed = true
	return nil
}

// LookupBorrow reads a record outside any transaction.
func (s *Store) LookupBorrow(ctx context.Context, id uint64) (model.BorrowRecord, error) {
	return s.borrows.Lookup(ctx, id)
}

// txAdapter binds the repositories' ...Tx methods to one *sql.Tx.
type txAdapter struct {
	s  *Store
	tx *sql.Tx
}

var _ circulation.Tx = (*txAdapter)(nil)

func (a *txAdapter) GetBook(ctx context.Context, id uint64) (model.Book, error) {
	return a.s.books.GetForUpdateTx(ctx, a.tx, id)
}

func (a *txAdapter) UpdateAvailability(ctx context.Context, bookID uint64, delta int, status model.BookStatus, expectedVersion uint32) error {
	return a.s.books.UpdateAvailabilityTx(ctx, a.tx, bookID, delta, status, expectedVersion)
}

func (a *txAdapter) GetMember(ctx context.Context, id uint64) (model.Member, error) {
	return a.s.members.GetForUpdateTx(ctx, a.tx, id)
}

func (a *txAdapter) CountActiveBorrows(ctx context.Context, memberID uint64) (int, error) {
	return a.s.members.CountActiveBorrowsTx(ctx, a.tx, memberID)
}

func (a *txAdapter) CreateBorrow(ctx context.Context, rec *model.BorrowRecord) error {
	return a.s.borrows.CreateTx(ctx, a.tx, rec)
}

func (a *txAdapter) GetBorrow(ctx context.Context, id uint64) (model.BorrowRecord, error) {
	return a.s.borrows.GetForUpdateTx(ctx, a.tx, id)
}

func (a *txAdapter) UpdateBorrow(ctx context.Context, rec model.BorrowRecord) error {
	return a.s.borrows.UpdateTx(ctx, a.tx, rec)
}

func (a *txAdapter) CreateReservation(ctx context.Context, r *model.Reservation) error {
	return a.s.reservations.CreateTx(ctx, a.tx, r)
}

func (a *txAdapter) GetReservation(ctx context.Context, id uint64) (model.Reservation, error) {
	return a.s.reservations.GetTx(ctx, a.tx, id)
}

func (a *txAdapter) ListReservationsByBook(ctx context.Context, bookID uint64, statuses ...model.ReservationStatus) ([]model.Reservation, error) {
	return a.s.reservations.ListByBookTx(ctx, a.tx, bookID, statuses...)
}

func (a *txAdapter) UpdateReservation(ctx context.Context, r model.Reservation, from model.ReservationStatus) error {
	return a.s.reservations.UpdateTx(ctx, a.tx, r, from)
}

func (a *txAdapter) ExpirePendingReservations(ctx context.Context, now time.Time) ([]model.Reservation, error) {
	return a.s.reservations.ExpirePendingTx(ctx, a.tx, now)
}
