package pm5

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLiveStatus(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected LiveStatus
	}{
		{
			name:     "distance only",
			input:    []byte{0, 0, 0, 10, 0, 0},
			expected: LiveStatus{ElapsedTime: 0, Distance: 1.0},
		},
		{
			name:     "one second five meters",
			input:    []byte{100, 0, 0, 50, 0, 0},
			expected: LiveStatus{ElapsedTime: 1.0, Distance: 5.0},
		},
		{
			name:     "all three bytes significant",
			input:    []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06},
			expected: LiveStatus{ElapsedTime: float64(0x030201) / 100, Distance: float64(0x060504) / 10},
		},
		{
			name:     "maximum values",
			input:    []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
			expected: LiveStatus{ElapsedTime: 167772.15, Distance: 1677721.5},
		},
		{
			name:     "trailing bytes ignored",
			input:    []byte{100, 0, 0, 50, 0, 0, 0xaa, 0xbb},
			expected: LiveStatus{ElapsedTime: 1.0, Distance: 5.0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeLiveStatus(tt.input)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected.ElapsedTime, got.ElapsedTime, 1e-9)
			assert.InDelta(t, tt.expected.Distance, got.Distance, 1e-9)
		})
	}
}

func TestDecodeLiveStatus_Short(t *testing.T) {
	for n := 0; n < LiveStatusLen; n++ {
		got, err := DecodeLiveStatus(make([]byte, n))
		require.Error(t, err, "length %d MUST fail", n)
		assert.True(t, errors.Is(err, ErrMalformedPacket), "length %d MUST be MalformedPacket, got %v", n, err)
		assert.Equal(t, LiveStatus{}, got, "no partial record on failure")
	}
}

func TestDecodeWorkoutSummary(t *testing.T) {
	captured := time.Date(2024, 3, 1, 7, 30, 0, 0, time.UTC)
	packet := []byte{
		0x34, 0x12,       // log entry date 0x1234
		0x78, 0x56,       // log entry time 0x5678
		0x40, 0x77, 0x1b, // elapsed 0x1b7740 = 1800000 -> 18000.00 s
		0x50, 0xc3, 0x00, // distance 0x00c350 = 50000 -> 5000.0 m
		24,               // avg stroke rate
		165,              // ending heart rate
		150,              // average heart rate
		90,               // min heart rate
		172,              // max heart rate
		118,              // drag factor
		0,                // recovery heart rate (not yet valid)
		3,                // fixed distance (splits)
		0xb0, 0x04,       // pace 1200 -> 120.0 s
	}

	got, err := DecodeWorkoutSummary(packet, captured)
	require.NoError(t, err)

	assert.Equal(t, captured, got.CaptureTimestamp)
	assert.Equal(t, uint16(0x1234), got.LogEntryDate)
	assert.Equal(t, uint16(0x5678), got.LogEntryTime)
	assert.InDelta(t, 18000.0, got.ElapsedTime, 1e-9)
	assert.InDelta(t, 5000.0, got.Distance, 1e-9)
	assert.Equal(t, uint8(24), got.AvgStrokeRate)
	assert.Equal(t, uint8(165), got.EndingHeartRate)
	assert.Equal(t, uint8(150), got.AverageHeartRate)
	assert.Equal(t, uint8(90), got.MinHeartRate)
	assert.Equal(t, uint8(172), got.MaxHeartRate)
	assert.Equal(t, uint8(118), got.AverageDragFactor)
	assert.False(t, got.HasRecoveryHeartRate())
	assert.Equal(t, WorkoutFixedDistanceSplits, got.WorkoutType)
	assert.InDelta(t, 120.0, got.AveragePace, 1e-9)

	again, err := DecodeWorkoutSummary(packet, captured)
	require.NoError(t, err)
	assert.Equal(t, got, again, "decoding MUST be deterministic")
}

func TestDecodeWorkoutSummary_Short(t *testing.T) {
	got, err := DecodeWorkoutSummary(make([]byte, WorkoutSummaryLen-1), time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedPacket)
	assert.Equal(t, MalformedPacket, Kind(err))
	assert.Equal(t, WorkoutSummary{}, got, "no partial record on failure")
}

func TestWorkoutType_String(t *testing.T) {
	assert.Equal(t, "just row", WorkoutJustRowNoSplits.String())
	assert.Equal(t, "fixed calorie interval", WorkoutFixedCalorieInterval.String())
	assert.Equal(t, "unknown(42)", WorkoutType(42).String())
}

func TestDecodeText(t *testing.T) {
	assert.Equal(t, "Concept2", DecodeText([]byte("Concept2\x00\x00")))
	assert.Equal(t, "430123456", DecodeText([]byte("430123456")))
	assert.Equal(t, "a�b", DecodeText([]byte{'a', 0xff, 'b'}))
	assert.Equal(t, "", DecodeText(nil))
}
