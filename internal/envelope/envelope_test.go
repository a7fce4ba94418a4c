package envelope

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name,omitempty"`
	Count int    `json:"count,omitempty"`
	Skip  string `json:"-"`
}

func TestUnmarshal_SplitsKnownAndExtra(t *testing.T) {
	t.Parallel()

	var s sample
	extra, err := Unmarshal([]byte(`{"name":"a","count":2,"color":"red"}`), &s)
	require.NoError(t, err)
	assert.Equal(t, "a", s.Name)
	assert.Equal(t, 2, s.Count)
	assert.Equal(t, map[string]any{"color": "red"}, extra)
}

func TestUnmarshal_Empty(t *testing.T) {
	t.Parallel()

	var s sample
	extra, err := Unmarshal([]byte("null"), &s)
	require.NoError(t, err)
	assert.Nil(t, extra)
}

func TestMarshal_KnownFieldsWin(t *testing.T) {
	t.Parallel()

	out, err := Marshal(sample{Name: "typed"}, map[string]any{"name": "extra", "color": "red"})
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "typed", decoded["name"])
	assert.Equal(t, "red", decoded["color"])
	_, hasCount := decoded["count"]
	assert.False(t, hasCount)
}
