package schema

import (
	"testing"

	"github.com/syssam/persist"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpretJpaSetting(t *testing.T) {
	t.Parallel()
	tests := []struct {
		value any
		want  Action
	}{
		{nil, None},
		{"", None},
		{"  ", None},
		{"none", None},
		{"create", CreateOnly},
		{"drop", Drop},
		{"drop-and-create", Create},
		{" drop-and-create ", Create},
		{"create-drop", CreateDrop},
		{"update", Update},
		{"create-only", CreateOnly},
		{"CREATE_DROP", CreateDrop},
		{"truncate", Truncate},
		{Validate, Validate},
	}
	for _, tt := range tests {
		got, err := InterpretJpaSetting(tt.value)
		require.NoError(t, err, "value %v", tt.value)
		assert.Equal(t, tt.want, got, "value %v", tt.value)
	}
}

func TestInterpretHbm2ddlSetting(t *testing.T) {
	t.Parallel()
	tests := []struct {
		value any
		want  Action
	}{
		{nil, None},
		{"create", Create},
		{"create-only", CreateOnly},
		{"create-drop", CreateDrop},
		{"validate", Validate},
		{"populate", Populate},
		{"drop-and-create", Create},
		{"Update", Update},
	}
	for _, tt := range tests {
		got, err := InterpretHbm2ddlSetting(tt.value)
		require.NoError(t, err, "value %v", tt.value)
		assert.Equal(t, tt.want, got, "value %v", tt.value)
	}
}

func TestUnrecognizedSetting(t *testing.T) {
	t.Parallel()
	_, err := InterpretJpaSetting("bogus")
	require.Error(t, err)
	assert.True(t, persist.IsUnrecognizedSetting(err))
	var use *persist.UnrecognizedSettingError
	require.ErrorAs(t, err, &use)
	assert.Equal(t, []string{JakartaDatabaseAction, JavaxDatabaseAction}, use.Keys)
	assert.Contains(t, err.Error(), "'bogus'")
	assert.Contains(t, err.Error(), JakartaDatabaseAction)

	_, err = InterpretHbm2ddlSetting(42)
	require.ErrorAs(t, err, &use)
	assert.Equal(t, []string{Hbm2ddlAuto}, use.Keys)
}

func TestInterpretSettings(t *testing.T) {
	t.Parallel()
	g, err := InterpretSettings(map[string]any{
		JavaxDatabaseAction:  "drop-and-create",
		Hbm2ddlAuto:          "validate",
		JakartaScriptsAction: "create",
	})
	require.NoError(t, err)
	assert.Equal(t, Grouping{Database: Create, Scripts: CreateOnly}, g)

	g, err = InterpretSettings(map[string]any{Hbm2ddlAuto: "create"})
	require.NoError(t, err)
	assert.Equal(t, Grouping{Database: Create}, g)

	g, err = InterpretSettings(nil)
	require.NoError(t, err)
	assert.Equal(t, Grouping{}, g)

	_, err = InterpretSettings(map[string]any{JakartaScriptsAction: "sometimes"})
	assert.True(t, persist.IsUnrecognizedSetting(err))
}

func TestActionNames(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "CREATE_DROP", CreateDrop.String())
	assert.Equal(t, "drop-and-create", Create.JPAName())
	assert.Equal(t, "create", Create.Hbm2ddlName())
	assert.Empty(t, Truncate.Hbm2ddlName())
	assert.Equal(t, "Action(42)", Action(42).String())
	assert.Len(t, Actions(), 9)

	assert.True(t, Create.IncludesCreate())
	assert.True(t, Create.IncludesDrop())
	assert.False(t, CreateOnly.IncludesDrop())
	assert.False(t, Validate.IncludesCreate())
}
