package collector

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wordsToBytes(words []uint16) []byte {
	out := make([]byte, 2*len(words))
	for i, w := range words {
		binary.BigEndian.PutUint16(out[2*i:], w)
	}
	return out
}

func TestEncodeRoundTripsThroughDecode(t *testing.T) {
	cases := []struct {
		point Point
		value float64
	}{
		{Point{Name: "u16", DataType: "uint16", Scale: 0.1}, 123.4},
		{Point{Name: "i16", DataType: "int16", Offset: -10}, -250},
		{Point{Name: "f32", DataType: "float32", ByteOrder: "CDAB"}, 21.5},
		{Point{Name: "f32dcba", DataType: "float32", ByteOrder: "DCBA"}, -3.25},
		{Point{Name: "u32", DataType: "uint32", ByteOrder: "BADC"}, 70000},
		{Point{Name: "i32", DataType: "int32"}, -70000},
	}
	for _, tc := range cases {
		t.Run(tc.point.Name, func(t *testing.T) {
			words, _, err := tc.point.Encode(tc.value)
			require.NoError(t, err)
			r, err := decodeRegisterData(Reading{}, wordsToBytes(words), tc.point.DataType, tc.point.ByteOrder, tc.point)
			require.NoError(t, err)
			assert.InDelta(t, tc.value, r.Value, 1e-6)
		})
	}
}

func TestEncodeBitsAndRanges(t *testing.T) {
	words, bit, err := Point{RegisterType: "coil"}.Encode(1)
	require.NoError(t, err)
	assert.Nil(t, words)
	assert.True(t, bit)

	_, _, err = Point{Name: "u16", DataType: "uint16"}.Encode(-1)
	assert.ErrorContains(t, err, "out of range")

	_, _, err = Point{Name: "i16", DataType: "int16"}.Encode(40000)
	assert.ErrorContains(t, err, "out of range")

	_, _, err = Point{Name: "x", DataType: "float64"}.Encode(1)
	assert.ErrorContains(t, err, "unsupported data type")
}
