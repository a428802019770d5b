package repository

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/library-circulation/internal/circulation"
	"github.com/iliyamo/library-circulation/internal/model"
)

const borrowColumns = `id, book_id, member_id, borrow_date, due_date, return_date, returned,
	renewal_count, fine_amount, COALESCE(notes, '')`

// BorrowRepo encapsulates database operations for borrow_records.  Records
// are never deleted.
type BorrowRepo struct {
	db *sql.DB
}

// NewBorrowRepo constructs a BorrowRepo given a DB handle.
func NewBorrowRepo(db *sql.DB) *BorrowRepo {
	return &BorrowRepo{db: db}
}

func scanBorrow(s scanner) (model.BorrowRecord, error) {
	var (
		rec        model.BorrowRecord
		returnDate sql.NullTime
		fine       decimal.Decimal
	)
	err := s.Scan(&rec.ID, &rec.BookID, &rec.MemberID, &rec.BorrowDate, &rec.DueDate, &returnDate, &rec.Returned,
		&rec.RenewalCount, &fine, &rec.Notes)
	if err != nil {
		return model.BorrowRecord{}, err
	}
	if returnDate.Valid {
		t := returnDate.Time
		rec.ReturnDate = &t
	}
	rec.FineAmount = fine
	return rec, nil
}

// Lookup reads a record without locking it.
func (r *BorrowRepo) Lookup(ctx context.Context, id uint64) (model.BorrowRecord, error) {
	rec, err := scanBorrow(r.db.QueryRowContext(ctx, "SELECT "+borrowColumns+" FROM borrow_records WHERE id = ?", id))
	return rec, translate(err, nil)
}

// ListBorrowsByMember returns a member's loan history, newest first.
func (r *BorrowRepo) ListBorrowsByMember(ctx context.Context, memberID uint64) ([]model.BorrowRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+borrowColumns+" FROM borrow_records WHERE member_id = ? ORDER BY borrow_date DESC, id DESC", memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.BorrowRecord{}
	for rows.Next() {
		rec, err := scanBorrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CreateTx inserts a new loan and sets its ID.
func (r *BorrowRepo) CreateTx(ctx context.Context, tx *sql.Tx, rec *model.BorrowRecord) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO borrow_records (book_id, member_id, borrow_date, due_date, returned, renewal_count, fine_amount, notes)
		 VALUES (?,?,?,?,?,?,?,?)`,
		rec.BookID, rec.MemberID, rec.BorrowDate, rec.DueDate, rec.Returned, rec.RenewalCount, rec.FineAmount, rec.Notes)
	if err != nil {
		return translate(err, nil)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = uint64(id)
	return nil
}

// GetForUpdateTx loads a record and locks it for the rest of tx.
func (r *BorrowRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.BorrowRecord, error) {
	rec, err := scanBorrow(tx.QueryRowContext(ctx, "SELECT "+borrowColumns+" FROM borrow_records WHERE id = ? FOR UPDATE", id))
	return rec, translate(err, nil)
}

// UpdateTx stores the mutable columns of rec.
func (r *BorrowRepo) UpdateTx(ctx context.Context, tx *sql.Tx, rec model.BorrowRecord) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE borrow_records
		    SET due_date = ?, return_date = ?, returned = ?, renewal_count = ?, fine_amount = ?, notes = ?
		  WHERE id = ?`,
		rec.DueDate, rec.ReturnDate, rec.Returned, rec.RenewalCount, rec.FineAmount, rec.Notes, rec.ID)
	if err != nil {
		return translate(err, nil)
	}
	return expectOne(res)
}

// expectOne maps an update that touched no row to circulation.ErrNotFound.
func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return circulation.ErrNotFound
	}
	return nil
}
