package pm5

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// Packet lengths of the two telemetry characteristics.
const (
	LiveStatusLen     = 6
	WorkoutSummaryLen = 20
)

// LiveStatus is a decoded general-status notification.
type LiveStatus struct {
	ElapsedTime float64 `json:"elapsedTime"` // seconds, 0.01 s resolution
	Distance    float64 `json:"distance"`    // meters, 0.1 m resolution
}

// WorkoutSummary is a decoded end-of-workout summary.
//
// RecoveryHeartRate is zero until the monitor re-sends the summary after one
// minute of rest.
type WorkoutSummary struct {
	CaptureTimestamp  time.Time   `json:"captureTimestamp"`
	LogEntryDate      uint16      `json:"logEntryDate"`
	LogEntryTime      uint16      `json:"logEntryTime"`
	ElapsedTime       float64     `json:"elapsedTime"` // seconds
	Distance          float64     `json:"distance"`    // meters
	AvgStrokeRate     uint8       `json:"avgStrokeRate"`
	EndingHeartRate   uint8       `json:"endingHeartRate"`
	AverageHeartRate  uint8       `json:"averageHeartRate"`
	MinHeartRate      uint8       `json:"minHeartRate"`
	MaxHeartRate      uint8       `json:"maxHeartRate"`
	AverageDragFactor uint8       `json:"averageDragFactor"`
	RecoveryHeartRate uint8       `json:"recoveryHeartRate"`
	WorkoutType       WorkoutType `json:"workoutType"`
	AveragePace       float64     `json:"averagePace"` // seconds per 500 m
}

// HasRecoveryHeartRate reports whether the summary carries a valid recovery heart rate.
func (w WorkoutSummary) HasRecoveryHeartRate() bool {
	return w.RecoveryHeartRate != 0
}

// WorkoutType is the PM5 workout type code.
type WorkoutType uint8

const (
	WorkoutJustRowNoSplits WorkoutType = iota
	WorkoutJustRowSplits
	WorkoutFixedDistanceNoSplits
	WorkoutFixedDistanceSplits
	WorkoutFixedTimeNoSplits
	WorkoutFixedTimeSplits
	WorkoutFixedTimeInterval
	WorkoutFixedDistanceInterval
	WorkoutVariableInterval
	WorkoutVariableUndefinedRestInterval
	WorkoutFixedCalorieSplits
	WorkoutFixedWattMinuteSplits
	WorkoutFixedCalorieInterval
)

var workoutTypeNames = [...]string{
	"just row",
	"just row (splits)",
	"fixed distance",
	"fixed distance (splits)",
	"fixed time",
	"fixed time (splits)",
	"fixed time interval",
	"fixed distance interval",
	"variable interval",
	"variable interval (undefined rest)",
	"fixed calorie (splits)",
	"fixed watt-minute (splits)",
	"fixed calorie interval",
}

func (t WorkoutType) String() string {
	if int(t) < len(workoutTypeNames) {
		return workoutTypeNames[t]
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// le assembles an unsigned little-endian field of up to 3 bytes.
func le(b []byte) uint32 {
	var v uint32
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}

func malformed(what string, want, got int) error {
	return newError(MalformedPacket, "decode "+what, "",
		fmt.Errorf("need %d bytes, got %d", want, got))
}

// DecodeLiveStatus decodes a general-status notification.
// Bytes beyond the first six are ignored.
func DecodeLiveStatus(b []byte) (LiveStatus, error) {
	if len(b) < LiveStatusLen {
		return LiveStatus{}, malformed("general status", LiveStatusLen, len(b))
	}
	return LiveStatus{
		ElapsedTime: float64(le(b[0:3])) / 100,
		Distance:    float64(le(b[3:6])) / 10,
	}, nil
}

// DecodeWorkoutSummary decodes an end-of-workout summary notification.
// capturedAt becomes CaptureTimestamp; the packet itself carries no wall-clock time.
func DecodeWorkoutSummary(b []byte, capturedAt time.Time) (WorkoutSummary, error) {
	if len(b) < WorkoutSummaryLen {
		return WorkoutSummary{}, malformed("workout summary", WorkoutSummaryLen, len(b))
	}
	return WorkoutSummary{
		CaptureTimestamp:  capturedAt,
		LogEntryDate:      uint16(le(b[0:2])),
		LogEntryTime:      uint16(le(b[2:4])),
		ElapsedTime:       float64(le(b[4:7])) / 100,
		Distance:          float64(le(b[7:10])) / 10,
		AvgStrokeRate:     b[10],
		EndingHeartRate:   b[11],
		AverageHeartRate:  b[12],
		MinHeartRate:      b[13],
		MaxHeartRate:      b[14],
		AverageDragFactor: b[15],
		RecoveryHeartRate: b[16],
		WorkoutType:       WorkoutType(b[17]),
		AveragePace:       float64(le(b[18:20])) / 10,
	}, nil
}

// DecodeText decodes an information characteristic value.
// Trailing NUL padding is dropped and invalid UTF-8 is replaced.
func DecodeText(b []byte) string {
	b = bytes.TrimRight(b, "\x00")
	return strings.ToValidUTF8(string(b), "�")
}
