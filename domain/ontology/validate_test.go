package ontology

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAndTransformProperties_NoKeys(t *testing.T) {
	props := map[string]any{"anything": "goes", "count": 3}

	got, err := ValidateAndTransformProperties(nil, props)
	require.NoError(t, err)
	assert.Equal(t, props, got)
}

func TestValidateAndTransformProperties_Coercion(t *testing.T) {
	keys := []KeyDefinition{
		{PropertyName: "age", DataType: DataTypeNumber},
		{PropertyName: "active", DataType: DataTypeBoolean},
		{PropertyName: "name", DataType: DataTypeString},
	}

	got, err := ValidateAndTransformProperties(keys, map[string]any{
		"age":    "42",
		"active": "yes",
		"name":   "pump-1",
	})
	require.NoError(t, err)

	assert.Equal(t, float64(42), got["age"])
	assert.Equal(t, true, got["active"])
	assert.Equal(t, "pump-1", got["name"])
}

func TestValidateAndTransformProperties_RequiredMissing(t *testing.T) {
	keys := []KeyDefinition{
		{PropertyName: "name", DataType: DataTypeString, Required: true},
	}

	_, err := ValidateAndTransformProperties(keys, map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required property: name")
}

func TestValidateAndTransformProperties_DefaultApplied(t *testing.T) {
	keys := []KeyDefinition{
		{PropertyName: "status", DataType: DataTypeString, Required: true, DefaultValue: "unknown"},
	}

	got, err := ValidateAndTransformProperties(keys, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "unknown", got["status"])
}

func TestValidateAndTransformProperties_Enumeration(t *testing.T) {
	keys := []KeyDefinition{
		{PropertyName: "kind", DataType: DataTypeEnum, Options: []any{"a", "b"}},
	}

	got, err := ValidateAndTransformProperties(keys, map[string]any{"kind": "a"})
	require.NoError(t, err)
	assert.Equal(t, "a", got["kind"])

	_, err = ValidateAndTransformProperties(keys, map[string]any{"kind": "z"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in enumeration options")
}

func TestValidateAndTransformProperties_UndeclaredPassThrough(t *testing.T) {
	keys := []KeyDefinition{
		{PropertyName: "name", DataType: DataTypeString},
	}

	got, err := ValidateAndTransformProperties(keys, map[string]any{
		"name":  "x",
		"extra": 7,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got["extra"])
}

func TestValidateAndTransformProperties_MultipleErrorsJoined(t *testing.T) {
	keys := []KeyDefinition{
		{PropertyName: "age", DataType: DataTypeNumber},
		{PropertyName: "name", DataType: DataTypeString, Required: true},
	}

	_, err := ValidateAndTransformProperties(keys, map[string]any{
		"age": "not-a-number",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "age:")
	assert.Contains(t, err.Error(), "missing required property: name")
}

func TestCoerceToNumber(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    float64
		wantErr bool
	}{
		{"float64", 1.5, 1.5, false},
		{"int", 3, 3, false},
		{"string", " 12.25 ", 12.25, false},
		{"bool true", true, 1, false},
		{"empty string", "", 0, true},
		{"garbage", "abc", 0, true},
		{"nil-ish type", []any{}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerceToNumber(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceToBoolean(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    bool
		wantErr bool
	}{
		{"bool", true, true, false},
		{"yes", "yes", true, false},
		{"t", "t", true, false},
		{"no", "no", false, false},
		{"zero", 0, false, false},
		{"one", 1, true, false},
		{"garbage", "maybe", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerceToBoolean(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceToDate(t *testing.T) {
	t.Run("rfc3339 passes through", func(t *testing.T) {
		got, err := coerceToDate("2024-06-01T10:00:00Z")
		require.NoError(t, err)
		assert.Equal(t, "2024-06-01T10:00:00Z", got)
	})

	t.Run("date only", func(t *testing.T) {
		got, err := coerceToDate("2024-06-01")
		require.NoError(t, err)
		assert.Contains(t, got, "2024-06-01")
	})

	t.Run("time.Time", func(t *testing.T) {
		ts := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
		got, err := coerceToDate(ts)
		require.NoError(t, err)
		assert.Equal(t, "2024-06-01T10:00:00Z", got)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := coerceToDate("not a date")
		assert.Error(t, err)
	})
}

func TestMetatypeKeyDefinitions(t *testing.T) {
	mt := &Metatype{
		Keys: []*MetatypeKey{
			{PropertyName: "name", DataType: DataTypeString, Required: true},
			{PropertyName: "age", DataType: DataTypeNumber, DefaultValue: float64(0)},
		},
	}

	defs := mt.KeyDefinitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "name", defs[0].PropertyName)
	assert.True(t, defs[0].Required)
	assert.Equal(t, float64(0), defs[1].DefaultValue)
}
