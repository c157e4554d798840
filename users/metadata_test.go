package users_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/awesome-pro/stack/users"
)

func TestValueJSONRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		value users.Value
		json  string
	}{
		{"null", users.Null(), `null`},
		{"bool", users.Bool(true), `true`},
		{"number", users.Number(42.5), `42.5`},
		{"string", users.String("hello"), `"hello"`},
		{"array", users.Array(users.Number(1), users.String("two")), `[1,"two"]`},
		{
			"object",
			users.Object(map[string]users.Value{"plan": users.String("pro")}),
			`{"plan":"pro"}`,
		},
		{
			"nested",
			users.Object(map[string]users.Value{
				"flags": users.Array(users.Bool(false), users.Null()),
			}),
			`{"flags":[false,null]}`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.value)
			require.NoError(t, err)
			require.JSONEq(t, tc.json, string(data))

			var decoded users.Value
			require.NoError(t, json.Unmarshal(data, &decoded))
			require.True(t, decoded.Equal(tc.value), "round-trip changed value")
		})
	}
}

func TestFromAnyRejectsUnsupported(t *testing.T) {
	_, err := users.FromAny(struct{}{})
	require.Error(t, err)
}

func TestMetadataMerge(t *testing.T) {
	base := users.Metadata{
		"theme": users.String("dark"),
		"count": users.Number(1),
	}
	patch := users.Metadata{
		"count": users.Number(2),
		"beta":  users.Bool(true),
	}

	merged := base.Merge(patch)
	require.True(t, merged["theme"].Equal(users.String("dark")))
	require.True(t, merged["count"].Equal(users.Number(2)))
	require.True(t, merged["beta"].Equal(users.Bool(true)))

	// The original is untouched.
	require.True(t, base["count"].Equal(users.Number(1)))
	_, ok := base["beta"]
	require.False(t, ok)
}

func TestMetadataCloneIsDeep(t *testing.T) {
	inner := map[string]users.Value{"a": users.Number(1)}
	base := users.Metadata{"obj": users.Object(inner)}

	clone := base.Clone()
	inner["a"] = users.Number(99)

	require.True(t, clone["obj"].Fields()["a"].Equal(users.Number(1)))
}
