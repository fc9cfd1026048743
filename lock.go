package persist

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// LockMode is the lock level requested for rows read by a load or query.
type LockMode int

// Lock modes in increasing strength.
const (
	LockNone LockMode = iota
	LockRead
	LockOptimistic
	LockOptimisticForceIncrement
	LockPessimisticRead
	LockPessimisticWrite
	LockUpgradeNoWait
	LockUpgradeSkipLocked
	LockPessimisticForceIncrement
)

var lockModeNames = [...]string{
	LockNone:                      "NONE",
	LockRead:                      "READ",
	LockOptimistic:                "OPTIMISTIC",
	LockOptimisticForceIncrement:  "OPTIMISTIC_FORCE_INCREMENT",
	LockPessimisticRead:           "PESSIMISTIC_READ",
	LockPessimisticWrite:          "PESSIMISTIC_WRITE",
	LockUpgradeNoWait:             "UPGRADE_NOWAIT",
	LockUpgradeSkipLocked:         "UPGRADE_SKIPLOCKED",
	LockPessimisticForceIncrement: "PESSIMISTIC_FORCE_INCREMENT",
}

// String returns the external name of the lock mode.
func (m LockMode) String() string {
	if m >= 0 && int(m) < len(lockModeNames) {
		return lockModeNames[m]
	}
	return fmt.Sprintf("LockMode(%d)", int(m))
}

// GreaterThan reports whether m is stronger than other.
func (m LockMode) GreaterThan(other LockMode) bool { return m > other }

// IsPessimistic reports whether the mode requires a database row lock.
func (m LockMode) IsPessimistic() bool { return m >= LockPessimisticRead }

// IsShared reports whether the mode asks for a shared (read) lock instead of an exclusive one.
func (m LockMode) IsShared() bool { return m == LockPessimisticRead }

// ParseLockMode resolves a lock mode from its external name, ignoring case.
func ParseLockMode(s string) (LockMode, error) {
	folded := cases.Fold().String(strings.TrimSpace(s))
	for i, name := range lockModeNames {
		if cases.Fold().String(name) == folded {
			return LockMode(i), nil
		}
	}
	return LockNone, NewUnrecognizedSettingError(s, "lock mode")
}

// LockScope controls which parts of a loaded graph a pessimistic lock covers.
type LockScope int

// Lock scopes.
const (
	// ScopeRootOnly locks only the rows of the root entity.
	ScopeRootOnly LockScope = iota
	// ScopeIncludeFetches also locks rows of fetched joins.
	ScopeIncludeFetches
	// ScopeIncludeCollections also locks rows of owned element collections.
	ScopeIncludeCollections
)

// String returns the external name of the scope.
func (s LockScope) String() string {
	switch s {
	case ScopeRootOnly:
		return "ROOT_ONLY"
	case ScopeIncludeFetches:
		return "INCLUDE_FETCHES"
	case ScopeIncludeCollections:
		return "INCLUDE_COLLECTIONS"
	default:
		return fmt.Sprintf("LockScope(%d)", int(s))
	}
}

// ParseLockScope resolves a scope from its external name. Dashes and
// underscores are interchangeable and case is ignored.
func ParseLockScope(s string) (LockScope, error) {
	folded := cases.Fold().String(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for _, scope := range []LockScope{ScopeRootOnly, ScopeIncludeFetches, ScopeIncludeCollections} {
		if cases.Fold().String(scope.String()) == folded {
			return scope, nil
		}
	}
	return ScopeRootOnly, NewUnrecognizedSettingError(s, "lock scope")
}

// Lock timeouts in milliseconds with special meaning.
const (
	WaitForever = -1
	NoWait      = 0
	SkipLocked  = -2
)

// LockOptions describes the lock requested for a load.
type LockOptions struct {
	Mode  LockMode
	Scope LockScope
	// Timeout in milliseconds, or one of WaitForever, NoWait, SkipLocked.
	Timeout int
}

// NoLock returns options requesting no lock.
func NoLock() LockOptions {
	return LockOptions{Mode: LockNone, Timeout: WaitForever}
}

// EffectiveTimeout folds the timeout implied by upgrade modes into the explicit timeout.
func (o LockOptions) EffectiveTimeout() int {
	switch o.Mode {
	case LockUpgradeNoWait:
		return NoWait
	case LockUpgradeSkipLocked:
		return SkipLocked
	}
	return o.Timeout
}
