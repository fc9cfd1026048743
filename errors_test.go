package persist_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist"
)

func TestNotFoundError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		assert.Equal(t, "persist: Employee not found (id=7)", persist.NewNotFoundError("Employee", 7).Error())
		assert.Equal(t, "persist: Employee not found", persist.NewNotFoundError("Employee", nil).Error())
	})

	t.Run("IsNotFound", func(t *testing.T) {
		err := persist.NewNotFoundError("Employee", 1)
		assert.True(t, persist.IsNotFound(err))
		assert.True(t, persist.IsNotFound(fmt.Errorf("wrapper: %w", err)))
		assert.True(t, persist.IsNotFound(persist.ErrNotFound))
		assert.False(t, persist.IsNotFound(errors.New("other error")))
		assert.False(t, persist.IsNotFound(nil))
	})
}

func TestMappingError(t *testing.T) {
	err := persist.NewMappingError("Employee", "manager", "unknown target entity %q", "Boss")
	assert.Equal(t, `persist: mapping error in Employee.manager: unknown target entity "Boss"`, err.Error())
	assert.True(t, errors.Is(err, persist.ErrMapping))
	assert.True(t, persist.IsMappingError(fmt.Errorf("build: %w", err)))

	cause := errors.New("yaml: line 3")
	wrapped := &persist.MappingError{Message: "cannot decode", Cause: cause}
	assert.Equal(t, "persist: mapping error: cannot decode: yaml: line 3", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestIllegalStateAndArgument(t *testing.T) {
	state := persist.NewIllegalStateError("query space uid %q already registered", "<gen:0>")
	assert.Equal(t, `persist: illegal state: query space uid "<gen:0>" already registered`, state.Error())
	assert.True(t, persist.IsIllegalState(state))
	assert.False(t, persist.IsIllegalArgument(state))

	arg := persist.NewIllegalArgumentError("unexpected model part %T", 1)
	assert.True(t, persist.IsIllegalArgument(arg))
	assert.False(t, persist.IsIllegalState(arg))
}

func TestUnrecognizedSettingError(t *testing.T) {
	err := persist.NewUnrecognizedSettingError("sometimes", "jakarta.persistence.schema-generation.database.action", "hibernate.hbm2ddl.auto")
	assert.Equal(t,
		"persist: unrecognized 'jakarta.persistence.schema-generation.database.action' or 'hibernate.hbm2ddl.auto' value: 'sometimes'",
		err.Error())
	assert.ErrorIs(t, err, persist.ErrUnrecognizedSetting)
}

func TestLockErrors(t *testing.T) {
	driverErr := errors.New("lock wait timeout exceeded")

	pess := &persist.PessimisticLockError{SQL: "select 1", Err: driverErr}
	assert.True(t, persist.IsPessimisticLock(pess))
	assert.ErrorIs(t, pess, driverErr)

	timeout := &persist.QueryTimeoutError{Err: driverErr}
	assert.True(t, persist.IsQueryTimeout(timeout))
	assert.False(t, persist.IsPessimisticLock(timeout))

	opt := persist.NewOptimisticLockError("Employee", 3)
	assert.True(t, persist.IsOptimisticLock(opt))
	assert.Contains(t, opt.Error(), "Employee#3")
}

func TestConstraintViolationError(t *testing.T) {
	driverErr := errors.New("UNIQUE constraint failed: products.id")
	err := &persist.ConstraintViolationError{Kind: persist.ConstraintUnique, SQL: "insert into products", Err: driverErr}
	assert.Equal(t, "persist: unique constraint violation: UNIQUE constraint failed: products.id", err.Error())
	assert.True(t, persist.IsConstraintViolation(fmt.Errorf("flush: %w", err)))
	assert.ErrorIs(t, err, driverErr)
	assert.False(t, persist.IsConstraintViolation(driverErr))
	assert.Equal(t, "foreign key", persist.ConstraintForeignKey.String())
}

func TestAggregateError(t *testing.T) {
	require.NoError(t, persist.NewAggregateError(nil, nil))

	single := errors.New("one")
	assert.Equal(t, single, persist.NewAggregateError(nil, single))

	two := persist.NewAggregateError(errors.New("a"), persist.ErrNotFound)
	var agg *persist.AggregateError
	require.ErrorAs(t, two, &agg)
	assert.Len(t, agg.Errors, 2)
	assert.ErrorIs(t, two, persist.ErrNotFound)
	assert.Equal(t, "persist: multiple errors:\n  [1] a\n  [2] persist: entity not found", two.Error())
}
