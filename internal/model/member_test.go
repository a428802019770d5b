package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func TestIsMembershipValid(t *testing.T) {
	m := Member{
		Active:          true,
		MembershipStart: day(2025, time.January, 1, 0),
		MembershipEnd:   day(2025, time.December, 31, 0),
	}

	assert.True(t, m.IsMembershipValid(day(2025, time.January, 1, 0), nil))
	assert.True(t, m.IsMembershipValid(day(2025, time.December, 31, 23), nil), "last day is inclusive")
	assert.False(t, m.IsMembershipValid(day(2024, time.December, 31, 23), nil))
	assert.False(t, m.IsMembershipValid(day(2026, time.January, 1, 0), nil))

	m.Active = false
	assert.False(t, m.IsMembershipValid(day(2025, time.June, 1, 12), nil))
}

func TestIsMembershipValidUsesLibraryZone(t *testing.T) {
	m := Member{
		Active:          true,
		MembershipStart: day(2025, time.January, 1, 0),
		MembershipEnd:   day(2025, time.December, 31, 0),
	}
	east := time.FixedZone("UTC+5", 5*3600)

	// 21:00 UTC on Dec 31 is already Jan 1 in UTC+5.
	late := day(2025, time.December, 31, 21)
	assert.True(t, m.IsMembershipValid(late, time.UTC))
	assert.False(t, m.IsMembershipValid(late, east))

	// 20:00 UTC on Dec 31 2024 is Jan 1 2025 in UTC+5.
	early := day(2024, time.December, 31, 20)
	assert.False(t, m.IsMembershipValid(early, time.UTC))
	assert.True(t, m.IsMembershipValid(early, east))
}

func TestEffectiveBorrowLimit(t *testing.T) {
	assert.Equal(t, 3, Member{MaxBorrowLimit: 3}.EffectiveBorrowLimit(5))
	assert.Equal(t, 5, Member{MaxBorrowLimit: 9}.EffectiveBorrowLimit(5))
	assert.Equal(t, 0, Member{MaxBorrowLimit: 0}.EffectiveBorrowLimit(5))
}

func TestCheckGenreParent(t *testing.T) {
	one, two := uint64(1), uint64(2)
	// 3 -> 2 -> 1 (root)
	parents := map[uint64]*uint64{1: nil, 2: &one, 3: &two}
	lookup := func(id uint64) (*uint64, bool) {
		p, ok := parents[id]
		return p, ok
	}

	assert.NoError(t, CheckGenreParent(4, 3, lookup))
	assert.ErrorIs(t, CheckGenreParent(1, 3, lookup), ErrGenreCycle)
	assert.ErrorIs(t, CheckGenreParent(2, 2, lookup), ErrGenreCycle)
}
