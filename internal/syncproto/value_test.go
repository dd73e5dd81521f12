package syncproto

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/levelsync/internal/netcode"
)

func TestValue_Equal(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"same int", IntValue(120), IntValue(120), true},
		{"different int", IntValue(120), IntValue(80), false},
		{"kind mismatch", IntValue(1), FloatValue(1), false},
		{"float", FloatValue(0.5), FloatValue(0.5), true},
		{"nan", FloatValue(math.NaN()), FloatValue(math.NaN()), true},
		{"nan and number", FloatValue(math.NaN()), FloatValue(0), false},
		{"text", TextValue("Vow"), TextValue("vow"), false},
		{"bool", BoolValue(true), BoolValue(true), true},
		{"unset", Value{}, Value{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.a.Equal(tt.b))
		})
	}
}

func TestValue_NegativeZeroSurvivesEncoding(t *testing.T) {
	negZero := math.Copysign(0, -1)
	data, err := netcode.Marshal(FloatValue(negZero))
	require.NoError(t, err)

	var got Value
	require.NoError(t, netcode.Unmarshal(data, &got))
	require.Equal(t, ValueFloat, got.Kind)
	require.True(t, math.Signbit(got.Float), "sign of -0.0 kept")

	data, err = netcode.Marshal(FloatValue(math.NaN()))
	require.NoError(t, err)
	require.NoError(t, netcode.Unmarshal(data, &got))
	require.True(t, got.Equal(FloatValue(math.NaN())))
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		kind    ValueKind
		in      string
		want    Value
		wantErr bool
	}{
		{ValueInt, "120", IntValue(120), false},
		{ValueInt, "x", Value{}, true},
		{ValueFloat, "1.25", FloatValue(1.25), false},
		{ValueFloat, "", Value{}, true},
		{ValueText, "hello", TextValue("hello"), false},
		{ValueBool, "true", BoolValue(true), false},
		{ValueBool, "maybe", Value{}, true},
		{ValueKind(99), "1", Value{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String()+"/"+tt.in, func(t *testing.T) {
			got, err := ParseValue(tt.kind, tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.in, got.Raw())
		})
	}
}

func TestValue_String(t *testing.T) {
	require.Equal(t, "120", IntValue(120).String())
	require.Equal(t, `"Vow"`, TextValue("Vow").String())
	require.Equal(t, "<unset>", Value{}.String())
}

func TestWeather_ParseAndString(t *testing.T) {
	w, err := ParseWeather("rainy")
	require.NoError(t, err)
	require.Equal(t, WeatherRainy, w)
	require.Equal(t, "Rainy", w.String())
	require.Equal(t, "None", WeatherNone.String())
	require.Equal(t, "Weather(42)", Weather(42).String())

	_, err = ParseWeather("hail")
	require.Error(t, err)
}

func TestParseValueKind(t *testing.T) {
	for in, want := range map[string]ValueKind{"int": ValueInt, "Float": ValueFloat, "text": ValueText, "string": ValueText, " bool ": ValueBool} {
		got, err := ParseValueKind(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
		if in == "int" {
			require.Equal(t, "int", got.String())
		}
	}
	_, err := ParseValueKind("decimal")
	require.Error(t, err)
}
