package nestedtx

import (
	"errors"
	"fmt"
)

// ErrUsage is the parent of every error caused by misusing the scope API.
// Use errors.Is to match either the specific error or the whole family.
var ErrUsage = errors.New("transaction scope misuse")

var (
	ErrRollbackOutsideScope = usageError("cannot roll back outside a transaction scope")
	ErrRollbackOuterScope   = usageError("cannot roll back an outer scope while an inner scope is active")
	ErrAlreadyRolledBack    = usageError("transaction scope already rolled back")
	ErrOutOfOrderExit       = usageError("out-of-order transaction scope exit: scopes must exit innermost first")
	ErrScopeAlreadyActive   = usageError("transaction scope is already active; construct a new scope to nest")
	ErrScopeNotActive       = usageError("transaction scope is not active")
	ErrCommitForbidden      = usageError("explicit commit forbidden while a transaction scope is active; exit the scope instead")
	ErrRollbackForbidden    = usageError("explicit rollback forbidden while a transaction scope is active; use the scope's Rollback instead")
)

// ErrInvariantViolation is returned when a scope is exited normally while the driver reports
// the transaction in an error state.
var ErrInvariantViolation = errors.New("driver reports an error state; an explicit rollback of this scope was required before it could exit successfully")

func usageError(msg string) error {
	return fmt.Errorf("%w: %s", ErrUsage, msg)
}
