package miniapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Accepts(t *testing.T) {
	t.Parallel()

	res := Parse([]byte(`{"v":1,"type":"lead_submit","carId":17,"fields":{"brand":"BMW","budget":"25000"},"meta":{"lang":"uk"}}`))
	require.True(t, res.OK, res.Error)
	assert.Equal(t, TypeLeadSubmit, res.Payload.Type)
	assert.Equal(t, "17", res.Payload.CarID)
	assert.Equal(t, "BMW", res.Payload.Fields["brand"])
	assert.Equal(t, 25000, res.Payload.IntField("priceMax", "budget"))
	assert.Equal(t, "uk", res.Payload.Lang())
}

func TestParse_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		code string
	}{
		{raw: `{"v":2,"type":"lead_submit"}`, code: ErrUnsupportedVersion},
		{raw: `{"type":"lead_submit"}`, code: ErrUnsupportedVersion},
		{raw: `{"v":"1","type":"lead_submit"}`, code: ErrUnsupportedVersion},
		{raw: `{"v":1.5,"type":"lead_submit"}`, code: ErrUnsupportedVersion},
		{raw: `{"v":2.0,"type":"lead_submit"}`, code: ErrUnsupportedVersion},
		{raw: `{"v":1,"type":"not_a_type"}`, code: ErrUnsupportedType},
		{raw: `[1,2]`, code: ErrNotObject},
		{raw: `{"v":1,`, code: ErrInvalidJSON},
	}
	for _, tt := range tests {
		res := Parse([]byte(tt.raw))
		if res.OK {
			t.Fatalf("Parse(%s) accepted", tt.raw)
		}
		if res.Error != tt.code {
			t.Fatalf("Parse(%s) = %q, want %q", tt.raw, res.Error, tt.code)
		}
	}
}

func TestParse_AcceptsIntegralFloatVersion(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{
		`{"v":1.0,"type":"interest_click","carId":"c1"}`,
		`{"v":1e0,"type":"interest_click","carId":"c1"}`,
	} {
		res := Parse([]byte(raw))
		require.True(t, res.OK, "%s: %s", raw, res.Error)
		assert.Equal(t, 1, res.Payload.V)
	}
}

func TestParse_TypeIsCaseInsensitive(t *testing.T) {
	t.Parallel()

	res := Parse([]byte(`{"v":1,"type":"SELL_SUBMIT","fields":"oops","meta":[1]}`))
	require.True(t, res.OK)
	assert.Equal(t, TypeSellSubmit, res.Payload.Type)
	assert.Nil(t, res.Payload.Fields)
	assert.Nil(t, res.Payload.Meta)
}
