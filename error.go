package asyncinit

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// panicAlreadyStarted triggers when Manager.Start is called while a run is initializing or initialized.
	panicAlreadyStarted = "cannot start: manager is already initializing or initialized"

	// panicLiveScope triggers when Manager.Start would create a second cancellation scope.
	panicLiveScope = "cannot start: a cancellation scope is already live"

	// panicUnknownStatus triggers when calling Status.String() with an out of range value.
	panicUnknownStatus = "unknown status"
)

// ConflictingPriorityError indicates that the declarations matching a Unit's Type disagree on its priority.
type ConflictingPriorityError struct {
	Type       Type
	Priorities []int
}

// Error returns the error message for a ConflictingPriorityError.
func (c *ConflictingPriorityError) Error() string {
	ps := make([]string, len(c.Priorities))
	for i, p := range c.Priorities {
		ps[i] = strconv.Itoa(p)
	}
	return fmt.Sprintf("conflicting priorities for type %q: %s", string(c.Type), strings.Join(ps, ", "))
}

// DuplicateUnitError indicates that the same Unit was registered more than once.
type DuplicateUnitError struct {
	Type Type
}

// Error returns the error message for a DuplicateUnitError.
func (d *DuplicateUnitError) Error() string {
	return fmt.Sprintf("found duplicate unit, type=%q", string(d.Type))
}

// NilUnitError indicates a nil Unit at the given input position.
type NilUnitError int

// Error returns the error message for a NilUnitError.
func (n NilUnitError) Error() string {
	return fmt.Sprintf("nil unit at index %d", int(n))
}

// TierError indicates that a Unit in the tier with the given priority failed. Types lists every Unit Type in the tier,
// Err is the failure that tripped the barrier.
type TierError struct {
	Priority int
	Types    []Type
	Err      error
}

// Error returns the error message for a TierError.
func (t *TierError) Error() string {
	return fmt.Sprintf("error occurred while initializing units, types=%q error=%q", joinTypes(t.Types, ","), t.Err.Error())
}

// Unwrap returns the failure that tripped the barrier.
func (t *TierError) Unwrap() error {
	return t.Err
}

// UnitPanicError wraps a value recovered from a panicking Unit.
type UnitPanicError struct {
	Type  Type
	Value interface{}
}

// Error returns the error message for a UnitPanicError.
func (u *UnitPanicError) Error() string {
	return fmt.Sprintf("unit %q panicked: %v", string(u.Type), u.Value)
}

func joinTypes(types []Type, sep string) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, sep)
}

// Check that errors satisfy the error interface.
var _ error = (*ConflictingPriorityError)(nil)
var _ error = (*DuplicateUnitError)(nil)
var _ error = NilUnitError(0)
var _ error = (*TierError)(nil)
var _ error = (*UnitPanicError)(nil)
