package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRound3HalfAwayFromZero(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.0005, 0.001},
		{0.0004, 0.0},
		{0.1225, 0.123},
		{0.1235, 0.124},
		{0.2605633802816901, 0.261},
		{0.9995, 1.0},
		{0.9, 0.9},
		{0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, round3(tt.in), "round3(%v)", tt.in)
	}
}

func TestRoundTwoPlaces(t *testing.T) {
	assert.Equal(t, 1.24, roundTo(1.235, 2))
	assert.Equal(t, 12.5, roundTo(12.4999999, 2))
}
