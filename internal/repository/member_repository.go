package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/library-circulation/internal/model"
)

const memberColumns = `id, user_id, first_name, last_name, membership_id, student_id, email, phone,
	category, membership_start, membership_end, active, max_borrow_limit, COALESCE(notes, ''), created_at`

// MemberRepo encapsulates database operations for members.
type MemberRepo struct {
	db *sql.DB
}

// NewMemberRepo constructs a MemberRepo given a DB handle.
func NewMemberRepo(db *sql.DB) *MemberRepo {
	return &MemberRepo{db: db}
}

func scanMember(s scanner) (model.Member, error) {
	var (
		m         model.Member
		userID    sql.NullInt64
		studentID sql.NullString
		phone     sql.NullString
	)
	err := s.Scan(&m.ID, &userID, &m.FirstName, &m.LastName, &m.MembershipID, &studentID, &m.Email, &phone,
		&m.Category, &m.MembershipStart, &m.MembershipEnd, &m.Active, &m.MaxBorrowLimit, &m.Notes, &m.CreatedAt)
	if err != nil {
		return model.Member{}, err
	}
	if userID.Valid {
		u := uint64(userID.Int64)
		m.UserID = &u
	}
	if studentID.Valid {
		m.StudentID = &studentID.String
	}
	if phone.Valid {
		m.Phone = &phone.String
	}
	return m, nil
}

// CreateMember enrols a member and sets its ID.
func (r *MemberRepo) CreateMember(ctx context.Context, m *model.Member) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO members (user_id, first_name, last_name, membership_id, student_id, email, phone,
			category, membership_start, membership_end, active, max_borrow_limit, notes)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.UserID, m.FirstName, m.LastName, m.MembershipID, m.StudentID, m.Email, m.Phone,
		m.Category, m.MembershipStart, m.MembershipEnd, m.Active, m.MaxBorrowLimit, m.Notes)
	if err != nil {
		return translate(err, ErrDuplicate)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	m.ID = uint64(id)
	return nil
}

// FindMember fetches a member by id without locking it.
func (r *MemberRepo) FindMember(ctx context.Context, id uint64) (model.Member, error) {
	m, err := scanMember(r.db.QueryRowContext(ctx, "SELECT "+memberColumns+" FROM members WHERE id = ?", id))
	return m, translate(err, nil)
}

// FindMemberByUserID fetches the member linked to an auth account.
func (r *MemberRepo) FindMemberByUserID(ctx context.Context, userID uint64) (model.Member, error) {
	m, err := scanMember(r.db.QueryRowContext(ctx, "SELECT "+memberColumns+" FROM members WHERE user_id = ?", userID))
	return m, translate(err, nil)
}

// DeactivateMember soft-deletes a member; the row and its history stay.
func (r *MemberRepo) DeactivateMember(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, "UPDATE members SET active = 0 WHERE id = ?", id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// GetForUpdateTx loads a member and locks the row for the rest of tx so
// that concurrent borrows by the same member serialize on the limit check.
func (r *MemberRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Member, error) {
	m, err := scanMember(tx.QueryRowContext(ctx, "SELECT "+memberColumns+" FROM members WHERE id = ? FOR UPDATE", id))
	return m, translate(err, nil)
}

// CountActiveBorrowsTx counts the member's unreturned loans.
func (r *MemberRepo) CountActiveBorrowsTx(ctx context.Context, tx *sql.Tx, memberID uint64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM borrow_records WHERE member_id = ? AND returned = 0", memberID).Scan(&n)
	return n, err
}
