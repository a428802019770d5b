package model

import "fmt"

// InvariantError reports a state transition that would break a data model
// invariant.  It signals a defect in the caller, never a business rejection.
type InvariantError struct {
	Entity string
	ID     uint64
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated on %s %d: %s", e.Entity, e.ID, e.Reason)
}
