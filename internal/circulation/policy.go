package circulation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/library-circulation/internal/model"
)

const day = 24 * time.Hour

// Policy holds the tunable circulation rules.  It is built from configuration
// at start-up; nothing in the engine embeds these values.
//
// Fields:
//
//	LoanPeriods       – loan period per member category.
//	DefaultLoanPeriod – period for categories missing from LoanPeriods.
//	SystemCap         – hard cap on concurrent loans per member.
//	UnitFine          – fine per overdue calendar day.
//	MaxRenewals       – renewals allowed per loan.
//	ReservationTTL    – lifetime of a pending reservation and of an approved hold.
//	Location          – time zone in which calendar days are counted.
type Policy struct {
	LoanPeriods       map[model.Category]time.Duration
	DefaultLoanPeriod time.Duration
	SystemCap         int
	UnitFine          decimal.Decimal
	MaxRenewals       int
	ReservationTTL    time.Duration
	Location          *time.Location
}

// DefaultPolicy returns the rules the library has always run with.
func DefaultPolicy() Policy {
	return Policy{
		LoanPeriods: map[model.Category]time.Duration{
			model.CategoryStudent:   14 * day,
			model.CategoryProfessor: 30 * day,
			model.CategoryStaff:     21 * day,
			model.CategoryGuest:     14 * day,
		},
		DefaultLoanPeriod: 14 * day,
		SystemCap:         5,
		UnitFine:          decimal.NewFromInt(5000),
		MaxRenewals:       2,
		ReservationTTL:    3 * day,
		Location:          time.UTC,
	}
}

// LoanPeriod returns the loan period granted to members of category c.
func (p Policy) LoanPeriod(c model.Category) time.Duration {
	if d, ok := p.LoanPeriods[c]; ok && d > 0 {
		return d
	}
	return p.DefaultLoanPeriod
}

// Zone is the location calendar days are counted in, for fines and for
// membership windows alike.
func (p Policy) Zone() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// OverdueDays counts whole calendar days between due and returned, ignoring
// the time of day.  It is never negative.
func (p Policy) OverdueDays(due, returned time.Time) int {
	if !returned.After(due) {
		return 0
	}
	loc := p.Zone()
	d := calendarDate(due.In(loc))
	r := calendarDate(returned.In(loc))
	days := int(r.Sub(d) / day)
	if days < 0 {
		return 0
	}
	return days
}

// ComputeFine is the overdue fine for a copy due at due and returned at
// returned: zero for timely returns, otherwise OverdueDays times UnitFine.
func (p Policy) ComputeFine(due, returned time.Time) decimal.Decimal {
	days := p.OverdueDays(due, returned)
	if days == 0 {
		return decimal.Zero
	}
	return p.UnitFine.Mul(decimal.NewFromInt(int64(days)))
}

// calendarDate maps t to midnight UTC of its wall-clock date so that
// subtracting two dates is free of DST offsets.
func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
