package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BorrowRecord is one loan of one copy to one member.  Records are append-only
// history: they are created at borrow time, updated once at return time and
// never deleted.
//
// Fields:
//
//	ID           – primary key identifier.
//	BookID       – borrowed title.
//	MemberID     – borrowing member.
//	BorrowDate   – when the copy left the shelf.
//	DueDate      – when the copy is due back.
//	ReturnDate   – when the copy came back (nil while on loan).
//	Returned     – true once the copy is back.
//	RenewalCount – number of renewals granted.
//	FineAmount   – overdue fine charged at return time.
//	Notes        – free text.
type BorrowRecord struct {
	ID           uint64          // borrow_records.id
	BookID       uint64          // borrow_records.book_id
	MemberID     uint64          // borrow_records.member_id
	BorrowDate   time.Time       // borrow_records.borrow_date
	DueDate      time.Time       // borrow_records.due_date
	ReturnDate   *time.Time      // borrow_records.return_date (nullable)
	Returned     bool            // borrow_records.returned
	RenewalCount uint32          // borrow_records.renewal_count
	FineAmount   decimal.Decimal // borrow_records.fine_amount
	Notes        string          // borrow_records.notes
}

// NewBorrowRecord opens a loan at borrowedAt that is due after loanPeriod.
func NewBorrowRecord(bookID, memberID uint64, borrowedAt time.Time, loanPeriod time.Duration) BorrowRecord {
	return BorrowRecord{
		BookID:     bookID,
		MemberID:   memberID,
		BorrowDate: borrowedAt,
		DueDate:    borrowedAt.Add(loanPeriod),
		FineAmount: decimal.Zero,
	}
}

// MarkReturned closes the loan.  ReturnDate and Returned always change
// together; a fine is only ever charged on a closed loan.
func (r *BorrowRecord) MarkReturned(at time.Time, fine decimal.Decimal) error {
	if r.Returned {
		return &InvariantError{Entity: "borrow_record", ID: r.ID, Reason: "already returned"}
	}
	if fine.IsNegative() {
		return &InvariantError{Entity: "borrow_record", ID: r.ID, Reason: "negative fine"}
	}
	if fine.IsPositive() && !at.After(r.DueDate) {
		return &InvariantError{Entity: "borrow_record", ID: r.ID, Reason: "fine charged on a timely return"}
	}
	r.Returned = true
	r.ReturnDate = &at
	r.FineAmount = fine
	return nil
}

// Renew pushes the due date forward by loanPeriod.
func (r *BorrowRecord) Renew(loanPeriod time.Duration) error {
	if r.Returned {
		return &InvariantError{Entity: "borrow_record", ID: r.ID, Reason: "renewing a returned loan"}
	}
	r.DueDate = r.DueDate.Add(loanPeriod)
	r.RenewalCount++
	return nil
}
