package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/persist"
)

func TestFor(t *testing.T) {
	for _, name := range []string{Postgres, MySQL, SQLite, SQLServer, Oracle} {
		t.Run(name, func(t *testing.T) {
			d, err := For(name)
			require.NoError(t, err)
			assert.Equal(t, name, d.Name())
		})
	}
	_, err := For("db2")
	require.Error(t, err)
	assert.ErrorIs(t, err, persist.ErrUnrecognizedSetting)
	assert.Panics(t, func() { MustFor("db2") })
}

func TestParameterMarker(t *testing.T) {
	tests := []struct {
		dialect string
		want    string
	}{
		{Postgres, "$3"},
		{MySQL, "?"},
		{SQLite, "?"},
		{SQLServer, "@p3"},
		{Oracle, ":3"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MustFor(tt.dialect).ParameterMarker(3), tt.dialect)
	}
}

func TestLockStrings(t *testing.T) {
	pg, my, ora := MustFor(Postgres), MustFor(MySQL), MustFor(Oracle)
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"pg write", pg.WriteLockString(persist.WaitForever), " for update"},
		{"pg write nowait", pg.WriteLockString(persist.NoWait), " for update nowait"},
		{"pg write of", pg.WriteLockStringFor("e0_, d1_", persist.SkipLocked), " for update of e0_, d1_ skip locked"},
		{"pg read", pg.ReadLockString(persist.WaitForever), " for share"},
		{"pg read timeout ignored", pg.ReadLockStringFor("e0_", 3000), " for share of e0_"},
		{"mysql write", my.WriteLockString(persist.WaitForever), " for update"},
		{"mysql read of", my.ReadLockStringFor("e0_", persist.NoWait), " for share of e0_ nowait"},
		{"oracle read is write", ora.ReadLockString(persist.WaitForever), " for update"},
		{"oracle wait", ora.WriteLockStringFor("e0_.id", 2500), " for update of e0_.id wait 3"},
		{"oracle skip", ora.WriteLockString(persist.SkipLocked), " for update skip locked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestRowLockStrategies(t *testing.T) {
	assert.Equal(t, RowLockTable, MustFor(Postgres).WriteRowLockStrategy())
	assert.Equal(t, RowLockColumn, MustFor(Oracle).WriteRowLockStrategy())
	assert.Equal(t, RowLockNone, MustFor(SQLServer).WriteRowLockStrategy())
	assert.Equal(t, "COLUMN", RowLockColumn.String())
	assert.False(t, MustFor(Postgres).SupportsOuterJoinForUpdate())
	assert.True(t, MustFor(MySQL).SupportsOuterJoinForUpdate())
	assert.Equal(t, ClauseTableHint, MustFor(SQLServer).LockingClauseStyle())
	assert.Equal(t, ClauseUnsupported, MustFor(SQLite).LockingClauseStyle())
}

func TestSQLServerTableHint(t *testing.T) {
	d := MustFor(SQLServer)
	assert.Equal(t, " with (updlock,rowlock)", d.TableHint(persist.LockPessimisticWrite, persist.WaitForever))
	assert.Equal(t, " with (holdlock,rowlock,nowait)", d.TableHint(persist.LockPessimisticRead, persist.NoWait))
	assert.Equal(t, " with (updlock,rowlock,readpast)", d.TableHint(persist.LockUpgradeSkipLocked, persist.SkipLocked))
	assert.Equal(t, " with (updlock,rowlock,readpast)", d.TableHint(persist.LockPessimisticWrite, persist.SkipLocked))
	assert.Empty(t, d.TableHint(persist.LockRead, persist.WaitForever))
}

func TestTimeoutInSeconds(t *testing.T) {
	assert.Equal(t, 0, TimeoutInSeconds(0))
	assert.Equal(t, 0, TimeoutInSeconds(-1))
	assert.Equal(t, 1, TimeoutInSeconds(10))
	assert.Equal(t, 2, TimeoutInSeconds(1500))
}
