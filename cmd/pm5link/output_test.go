package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00.0"},
		{10, "00:00:10.0"},
		{480.5, "00:08:00.5"},
		{3599.96, "01:00:00.0"},
		{7325.25, "02:02:05.3"},
		{-1, "00:00:00.0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatElapsed(tt.seconds), "formatElapsed(%v)", tt.seconds)
	}
}

func TestFormatPace(t *testing.T) {
	assert.Equal(t, "2:00.1", formatPace(120.1))
	assert.Equal(t, "1:45.0", formatPace(105))
	assert.Equal(t, "-", formatPace(0), "missing pace MUST render as a dash")
}

func TestParseHex(t *testing.T) {
	for _, in := range []string{"0a1b", "0A 1B", "0a:1b", "0a-1b", " 0x0a1b "} {
		b, err := parseHex(in)
		if assert.NoError(t, err, in) {
			assert.Equal(t, []byte{0x0a, 0x1b}, b, in)
		}
	}
	_, err := parseHex("0a1")
	assert.Error(t, err, "odd length MUST fail")
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.0", formatVersion("1.2.0"))
	assert.Equal(t, "dev", formatVersion("dev"))
}
