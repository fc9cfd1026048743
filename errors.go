package persist

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors. Typed errors below match them through errors.Is.
var (
	// ErrNotFound is returned when an entity does not exist for the given identifier.
	ErrNotFound = errors.New("persist: entity not found")

	// ErrMapping is returned when mapping metadata is malformed or cannot be resolved.
	ErrMapping = errors.New("persist: mapping error")

	// ErrIllegalState is returned when a builder or context is used out of order.
	ErrIllegalState = errors.New("persist: illegal state")

	// ErrIllegalArgument is returned when an operation receives an argument it cannot handle.
	ErrIllegalArgument = errors.New("persist: illegal argument")

	// ErrUnrecognizedSetting is returned when a configuration value cannot be interpreted.
	ErrUnrecognizedSetting = errors.New("persist: unrecognized setting")

	// ErrOptimisticLock is returned when a versioned row was changed or removed concurrently.
	ErrOptimisticLock = errors.New("persist: optimistic lock failure")

	// ErrPessimisticLock is returned when the database refuses or times out a row lock.
	ErrPessimisticLock = errors.New("persist: pessimistic lock failure")

	// ErrQueryTimeout is returned when the database cancels a statement for exceeding its timeout.
	ErrQueryTimeout = errors.New("persist: query timeout")

	// ErrConstraintViolation is returned when a statement violates a unique, foreign key or check constraint.
	ErrConstraintViolation = errors.New("persist: constraint violation")

	// ErrTransientObject is returned when a flush finds a reference to an unsaved instance.
	ErrTransientObject = errors.New("persist: reference to transient instance")

	// ErrSessionClosed is returned when a closed session is used.
	ErrSessionClosed = errors.New("persist: session is closed")
)

// NotFoundError represents an entity that could not be found by identifier.
type NotFoundError struct {
	entity string
	id     any
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("persist: %s not found (id=%v)", e.entity, e.id)
	}
	return fmt.Sprintf("persist: %s not found", e.entity)
}

// Is reports whether the target error matches NotFoundError.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Entity returns the entity name.
func (e *NotFoundError) Entity() string { return e.entity }

// ID returns the identifier that was searched for, if available.
func (e *NotFoundError) ID() any { return e.id }

// NewNotFoundError returns a new NotFoundError.
func NewNotFoundError(entity string, id any) *NotFoundError {
	return &NotFoundError{entity: entity, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// MappingError reports malformed or unresolvable mapping metadata.
type MappingError struct {
	Entity    string // Entity name or collection role, if known
	Attribute string // Attribute name, if known
	Message   string
	Cause     error
}

// Error returns the error string.
func (e *MappingError) Error() string {
	var sb strings.Builder
	sb.WriteString("persist: mapping error")
	if e.Entity != "" {
		sb.WriteString(" in ")
		sb.WriteString(e.Entity)
		if e.Attribute != "" {
			sb.WriteString(".")
			sb.WriteString(e.Attribute)
		}
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *MappingError) Unwrap() error { return e.Cause }

// Is reports whether the target is ErrMapping.
func (e *MappingError) Is(target error) bool { return target == ErrMapping }

// NewMappingError returns a new MappingError.
func NewMappingError(entity, attribute, format string, args ...any) *MappingError {
	return &MappingError{Entity: entity, Attribute: attribute, Message: fmt.Sprintf(format, args...)}
}

// IsMappingError returns true if the error is a MappingError.
func IsMappingError(err error) bool {
	if err == nil {
		return false
	}
	var e *MappingError
	return errors.As(err, &e)
}

// IllegalStateError reports an operation invoked in a state that does not allow it.
type IllegalStateError struct {
	Message string
}

// Error returns the error string.
func (e *IllegalStateError) Error() string {
	return "persist: illegal state: " + e.Message
}

// Is reports whether the target is ErrIllegalState.
func (e *IllegalStateError) Is(target error) bool { return target == ErrIllegalState }

// NewIllegalStateError returns a new IllegalStateError.
func NewIllegalStateError(format string, args ...any) *IllegalStateError {
	return &IllegalStateError{Message: fmt.Sprintf(format, args...)}
}

// IsIllegalState returns true if the error is an IllegalStateError.
func IsIllegalState(err error) bool {
	return err != nil && errors.Is(err, ErrIllegalState)
}

// IllegalArgumentError reports an argument the operation cannot handle.
type IllegalArgumentError struct {
	Message string
}

// Error returns the error string.
func (e *IllegalArgumentError) Error() string {
	return "persist: illegal argument: " + e.Message
}

// Is reports whether the target is ErrIllegalArgument.
func (e *IllegalArgumentError) Is(target error) bool { return target == ErrIllegalArgument }

// NewIllegalArgumentError returns a new IllegalArgumentError.
func NewIllegalArgumentError(format string, args ...any) *IllegalArgumentError {
	return &IllegalArgumentError{Message: fmt.Sprintf(format, args...)}
}

// IsIllegalArgument returns true if the error is an IllegalArgumentError.
func IsIllegalArgument(err error) bool {
	return err != nil && errors.Is(err, ErrIllegalArgument)
}

// UnrecognizedSettingError reports a configuration value that matched no known name.
type UnrecognizedSettingError struct {
	Keys  []string // Setting keys that were consulted
	Value any
}

// Error returns the error string.
func (e *UnrecognizedSettingError) Error() string {
	quoted := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		quoted[i] = "'" + k + "'"
	}
	return fmt.Sprintf("persist: unrecognized %s value: '%v'", strings.Join(quoted, " or "), e.Value)
}

// Is reports whether the target is ErrUnrecognizedSetting.
func (e *UnrecognizedSettingError) Is(target error) bool { return target == ErrUnrecognizedSetting }

// NewUnrecognizedSettingError returns a new UnrecognizedSettingError.
func NewUnrecognizedSettingError(value any, keys ...string) *UnrecognizedSettingError {
	return &UnrecognizedSettingError{Keys: keys, Value: value}
}

// IsUnrecognizedSetting returns true if the error is an UnrecognizedSettingError.
func IsUnrecognizedSetting(err error) bool {
	return err != nil && errors.Is(err, ErrUnrecognizedSetting)
}

// OptimisticLockError reports a versioned row that was modified or deleted by another transaction.
type OptimisticLockError struct {
	Entity string
	ID     any
}

// Error returns the error string.
func (e *OptimisticLockError) Error() string {
	return fmt.Sprintf("persist: row was updated or deleted by another transaction (%s#%v)", e.Entity, e.ID)
}

// Is reports whether the target is ErrOptimisticLock.
func (e *OptimisticLockError) Is(target error) bool { return target == ErrOptimisticLock }

// NewOptimisticLockError returns a new OptimisticLockError.
func NewOptimisticLockError(entity string, id any) *OptimisticLockError {
	return &OptimisticLockError{Entity: entity, ID: id}
}

// IsOptimisticLock returns true if the error is an OptimisticLockError.
func IsOptimisticLock(err error) bool {
	return err != nil && errors.Is(err, ErrOptimisticLock)
}

// PessimisticLockError reports a row lock that could not be acquired.
type PessimisticLockError struct {
	SQL string
	Err error
}

// Error returns the error string.
func (e *PessimisticLockError) Error() string {
	return fmt.Sprintf("persist: could not obtain lock: %v", e.Err)
}

// Unwrap returns the driver error.
func (e *PessimisticLockError) Unwrap() error { return e.Err }

// Is reports whether the target is ErrPessimisticLock.
func (e *PessimisticLockError) Is(target error) bool { return target == ErrPessimisticLock }

// IsPessimisticLock returns true if the error is a PessimisticLockError.
func IsPessimisticLock(err error) bool {
	return err != nil && errors.Is(err, ErrPessimisticLock)
}

// QueryTimeoutError reports a statement canceled by the database for running too long.
type QueryTimeoutError struct {
	SQL string
	Err error
}

// Error returns the error string.
func (e *QueryTimeoutError) Error() string {
	return fmt.Sprintf("persist: query timed out: %v", e.Err)
}

// Unwrap returns the driver error.
func (e *QueryTimeoutError) Unwrap() error { return e.Err }

// Is reports whether the target is ErrQueryTimeout.
func (e *QueryTimeoutError) Is(target error) bool { return target == ErrQueryTimeout }

// IsQueryTimeout returns true if the error is a QueryTimeoutError.
func IsQueryTimeout(err error) bool {
	return err != nil && errors.Is(err, ErrQueryTimeout)
}

// ConstraintKind is the kind of a violated database constraint.
type ConstraintKind int

// Constraint kinds.
const (
	ConstraintUnknown ConstraintKind = iota
	ConstraintUnique
	ConstraintForeignKey
	ConstraintCheck
)

// String returns the name of the constraint kind.
func (k ConstraintKind) String() string {
	switch k {
	case ConstraintUnique:
		return "unique"
	case ConstraintForeignKey:
		return "foreign key"
	case ConstraintCheck:
		return "check"
	default:
		return "unknown"
	}
}

// ConstraintViolationError reports a statement rejected by a database constraint.
type ConstraintViolationError struct {
	Kind ConstraintKind
	SQL  string
	Err  error
}

// Error returns the error string.
func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("persist: %s constraint violation: %v", e.Kind, e.Err)
}

// Unwrap returns the driver error.
func (e *ConstraintViolationError) Unwrap() error { return e.Err }

// Is reports whether the target is ErrConstraintViolation.
func (e *ConstraintViolationError) Is(target error) bool { return target == ErrConstraintViolation }

// IsConstraintViolation returns true if the error is a ConstraintViolationError.
func IsConstraintViolation(err error) bool {
	return err != nil && errors.Is(err, ErrConstraintViolation)
}

// TransientObjectError reports a managed entity referencing an unsaved instance.
type TransientObjectError struct {
	Entity    string // Owning entity name
	Attribute string
	Target    string // Referenced entity name
}

// Error returns the error string.
func (e *TransientObjectError) Error() string {
	return fmt.Sprintf("persist: %s.%s references an unsaved transient instance of %s; persist it before flushing",
		e.Entity, e.Attribute, e.Target)
}

// Is reports whether the target is ErrTransientObject.
func (e *TransientObjectError) Is(target error) bool { return target == ErrTransientObject }

// NewTransientObjectError returns a new TransientObjectError.
func NewTransientObjectError(entity, attribute, target string) *TransientObjectError {
	return &TransientObjectError{Entity: entity, Attribute: attribute, Target: target}
}

// IsTransientObject returns true if the error is a TransientObjectError.
func IsTransientObject(err error) bool {
	return err != nil && errors.Is(err, ErrTransientObject)
}

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "persist: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("persist: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors.
func (e *AggregateError) Unwrap() []error { return e.Errors }

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}
