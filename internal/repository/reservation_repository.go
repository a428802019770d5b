package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
)

const reservationColumns = `id, book_id, member_id, created_at, expires_at, status, COALESCE(notes, '')`

// ReservationRepo encapsulates database operations for the reservation queue.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo constructs a ReservationRepo given a DB handle.
func NewReservationRepo(db *sql.DB) *ReservationRepo {
	return &ReservationRepo{db: db}
}

func scanReservation(s scanner) (model.Reservation, error) {
	var r model.Reservation
	err := s.Scan(&r.ID, &r.BookID, &r.MemberID, &r.CreatedAt, &r.ExpiresAt, &r.Status, &r.Notes)
	return r, err
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryReservations(ctx context.Context, q querier, query string, args ...any) ([]model.Reservation, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err, nil)
	}
	defer rows.Close()
	out := []model.Reservation{}
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FindReservation fetches a reservation by id without locking it.
func (r *ReservationRepo) FindReservation(ctx context.Context, id uint64) (model.Reservation, error) {
	res, err := scanReservation(r.db.QueryRowContext(ctx, "SELECT "+reservationColumns+" FROM reservations WHERE id = ?", id))
	return res, translate(err, nil)
}

// ListReservationsByMember returns a member's reservations, newest first.
func (r *ReservationRepo) ListReservationsByMember(ctx context.Context, memberID uint64) ([]model.Reservation, error) {
	return queryReservations(ctx, r.db,
		"SELECT "+reservationColumns+" FROM reservations WHERE member_id = ? ORDER BY created_at DESC, id DESC", memberID)
}

// CreateTx queues a reservation and sets its ID.  The open_key unique index
// rejects a second pending or approved row for the same book and member;
// closed statuses may repeat.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, res *model.Reservation) error {
	out, err := tx.ExecContext(ctx,
		"INSERT INTO reservations (book_id, member_id, created_at, expires_at, status, notes) VALUES (?,?,?,?,?,?)",
		res.BookID, res.MemberID, res.CreatedAt, res.ExpiresAt, res.Status, res.Notes)
	if err != nil {
		return translate(err, circulation.ErrDuplicateReservation)
	}
	id, err := out.LastInsertId()
	if err != nil {
		return err
	}
	res.ID = uint64(id)
	return nil
}

// GetTx reads a reservation inside tx.
func (r *ReservationRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Reservation, error) {
	res, err := scanReservation(tx.QueryRowContext(ctx, "SELECT "+reservationColumns+" FROM reservations WHERE id = ?", id))
	return res, translate(err, nil)
}

// ListByBookTx returns the book's reservations in the given statuses in queue
// order and locks them for the rest of tx.
func (r *ReservationRepo) ListByBookTx(ctx context.Context, tx *sql.Tx, bookID uint64, statuses ...model.ReservationStatus) ([]model.Reservation, error) {
	query := "SELECT " + reservationColumns + " FROM reservations WHERE book_id = ?"
	args := []any{bookID}
	if len(statuses) > 0 {
		query += " AND status IN (?" + strings.Repeat(",?", len(statuses)-1) + ")"
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query += " ORDER BY created_at, id FOR UPDATE"
	return queryReservations(ctx, tx, query, args...)
}

// UpdateTx stores status and expiry of res provided the row is still in
// status from.  Otherwise it returns circulation.ErrConflict.
func (r *ReservationRepo) UpdateTx(ctx context.Context, tx *sql.Tx, res model.Reservation, from model.ReservationStatus) error {
	out, err := tx.ExecContext(ctx,
		"UPDATE reservations SET status = ?, expires_at = ? WHERE id = ? AND status = ?",
		res.Status, res.ExpiresAt, res.ID, from)
	if err != nil {
		return translate(err, circulation.ErrDuplicateReservation)
	}
	n, err := out.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return circulation.ErrConflict
	}
	return nil
}

// ExpirePendingTx moves every pending reservation with expires_at <= now to
// expired and returns the rows it changed.
func (r *ReservationRepo) ExpirePendingTx(ctx context.Context, tx *sql.Tx, now time.Time) ([]model.Reservation, error) {
	stale, err := queryReservations(ctx, tx,
		"SELECT "+reservationColumns+" FROM reservations WHERE status = ? AND expires_at <= ? ORDER BY created_at, id FOR UPDATE",
		model.ReservationPending, now)
	if err != nil || len(stale) == 0 {
		return nil, err
	}
	ids := make([]any, 0, len(stale)+1)
	ids = append(ids, model.ReservationExpired)
	for _, s := range stale {
		ids = append(ids, s.ID)
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE reservations SET status = ? WHERE id IN (?"+strings.Repeat(",?", len(stale)-1)+")", ids...)
	if err != nil {
		return nil, translate(err, nil)
	}
	for i := range stale {
		stale[i].Status = model.ReservationExpired
	}
	return stale, nil
}
