package datastore

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalInt(t *testing.T) {
	tests := []struct {
		name  string
		value int64
	}{
		{name: "negative", value: -18249},
		{name: "positive", value: 1587129},
		{name: "zero", value: 0},
		{name: "min", value: math.MinInt64},
		{name: "max", value: math.MaxInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SortedUnmarshalInt(SortedMarshalInt(tt.value))
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestMarshalString(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{name: "empty", value: ""},
		{name: "plain", value: "ala ma kota i psa"},
		{name: "weird bytes", value: string([]byte{28, 192, 0, 123, 11, 99, 243, 172, 111, 3, 4, 5, 0, 128, 255})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SortedUnmarshalString(SortedMarshalString(tt.value))
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}
}

func TestIfMarshalMonotonic(t *testing.T) {
	tests := []struct {
		name   string
		values [][]byte
	}{
		{
			name: "ints",
			values: [][]byte{
				SortedMarshalInt(math.MinInt64),
				SortedMarshalInt(-456),
				SortedMarshalInt(-256),
				SortedMarshalInt(-255),
				SortedMarshalInt(-10),
				SortedMarshalInt(0),
				SortedMarshalInt(1),
				SortedMarshalInt(255),
				SortedMarshalInt(256),
				SortedMarshalInt(24287),
				SortedMarshalInt(math.MaxInt64),
			},
		},
		{
			name: "strings",
			values: [][]byte{
				SortedMarshalString(""),
				SortedMarshalString("a"),
				SortedMarshalString("a\x00"),
				SortedMarshalString("ab"),
				SortedMarshalString("ala"),
				SortedMarshalString("ala ma kota"),
				SortedMarshalString("ala ma psa"),
				SortedMarshalString("b"),
				SortedMarshalString("zebra"),
				SortedMarshalString("\xff"),
			},
		},
		{
			name: "ints before strings",
			values: [][]byte{
				SortedMarshalInt(math.MaxInt64),
				SortedMarshalString(""),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < len(tt.values)-1; i++ {
				assert.Equal(t, -1, bytes.Compare(tt.values[i], tt.values[i+1]), "index %d", i)
			}
		})
	}
}
