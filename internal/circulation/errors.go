package circulation

import (
	"errors"

	"github.com/iliyamo/library-circulation/internal/model"
)

// Business rejections.  Callers translate these into user facing responses;
// only ErrConflict may be retried without new input.
var (
	ErrNotFound             = errors.New("not found")
	ErrMemberIneligible     = errors.New("membership is not valid")
	ErrBorrowLimitExceeded  = errors.New("borrow limit exceeded")
	ErrBookUnavailable      = errors.New("no copy available")
	ErrAlreadyReturned      = errors.New("already returned")
	ErrDuplicateReservation = errors.New("reservation already exists")
	ErrConflict             = errors.New("concurrent update conflict")
	ErrRenewalLimitExceeded = errors.New("renewal limit exceeded")
	ErrRenewalBlocked       = errors.New("other members are waiting for this book")
)

// Kind values reported by KindOf.
const (
	KindNotFound             = "not_found"
	KindMemberIneligible     = "member_ineligible"
	KindBorrowLimitExceeded  = "borrow_limit_exceeded"
	KindBookUnavailable      = "book_unavailable"
	KindAlreadyReturned      = "already_returned"
	KindDuplicateReservation = "duplicate_reservation"
	KindConflict             = "conflict"
	KindRenewalLimitExceeded = "renewal_limit_exceeded"
	KindRenewalBlocked       = "renewal_blocked"
	KindInternal             = "internal"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrNotFound, KindNotFound},
	{ErrMemberIneligible, KindMemberIneligible},
	{ErrBorrowLimitExceeded, KindBorrowLimitExceeded},
	{ErrBookUnavailable, KindBookUnavailable},
	{ErrAlreadyReturned, KindAlreadyReturned},
	{ErrDuplicateReservation, KindDuplicateReservation},
	{ErrConflict, KindConflict},
	{ErrRenewalLimitExceeded, KindRenewalLimitExceeded},
	{ErrRenewalBlocked, KindRenewalBlocked},
}

// KindOf maps err onto the error taxonomy.  Anything outside the taxonomy,
// invariant violations included, is reported as KindInternal.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Retryable reports whether the operation may be retried with fresh reads.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsDefect reports whether err signals a broken invariant rather than a
// business rejection.
func IsDefect(err error) bool {
	var inv *model.InvariantError
	return errors.As(err, &inv)
}
