package model

import "time"

// Category drives the loan period granted to a member.
type Category string

const (
	CategoryStudent   Category = "student"
	CategoryProfessor Category = "professor"
	CategoryStaff     Category = "staff"
	CategoryGuest     Category = "guest"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryStudent, CategoryProfessor, CategoryStaff, CategoryGuest:
		return true
	}
	return false
}

// Member is an enrolled library patron.  Members are deactivated rather than
// deleted so their borrowing history stays intact.
//
// Fields:
//
//	ID              – primary key identifier.
//	UserID          – optional link to an auth account.
//	FirstName       – given name.
//	LastName        – family name.
//	MembershipID    – unique membership number printed on the card.
//	StudentID       – optional student/personnel number.
//	Email           – contact address.
//	Phone           – optional phone number.
//	Category        – member category.
//	MembershipStart – first valid day of the membership.
//	MembershipEnd   – last valid day of the membership.
//	Active          – soft-delete flag.
//	MaxBorrowLimit  – per-member override of the concurrent borrow limit.
//	Notes           – free text.
//	CreatedAt       – creation timestamp.
type Member struct {
	ID              uint64    // members.id
	UserID          *uint64   // members.user_id (nullable)
	FirstName       string    // members.first_name
	LastName        string    // members.last_name
	MembershipID    string    // members.membership_id
	StudentID       *string   // members.student_id (nullable)
	Email           string    // members.email
	Phone           *string   // members.phone (nullable)
	Category        Category  // members.category
	MembershipStart time.Time // members.membership_start (date)
	MembershipEnd   time.Time // members.membership_end (date)
	Active          bool      // members.active
	MaxBorrowLimit  uint32    // members.max_borrow_limit
	Notes           string    // members.notes
	CreatedAt       time.Time // members.created_at
}

// FullName joins first and last name.
func (m Member) FullName() string {
	if m.LastName == "" {
		return m.FirstName
	}
	return m.FirstName + " " + m.LastName
}

// IsMembershipValid reports whether the member may use circulation services
// at t.  The window is compared on calendar days as seen in loc (UTC when nil)
// and is inclusive on both ends.  MembershipStart and MembershipEnd are dates;
// only their year, month and day are read.
func (m Member) IsMembershipValid(t time.Time, loc *time.Location) bool {
	if !m.Active {
		return false
	}
	if loc == nil {
		loc = time.UTC
	}
	day := civilDay(t.In(loc))
	return !day.Before(civilDay(m.MembershipStart)) && !day.After(civilDay(m.MembershipEnd))
}

// EffectiveBorrowLimit is the lower of the member override and the system cap.
func (m Member) EffectiveBorrowLimit(systemCap int) int {
	if int(m.MaxBorrowLimit) < systemCap {
		return int(m.MaxBorrowLimit)
	}
	return systemCap
}

func civilDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}
