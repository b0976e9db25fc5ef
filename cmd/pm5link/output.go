package main

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/srg/pm5link/internal/pm5"
)

// formatElapsed renders seconds as HH:MM:SS.t
func formatElapsed(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	tenths := int64(math.Round(seconds * 10))
	return fmt.Sprintf("%02d:%02d:%02d.%d",
		tenths/36000, tenths/600%60, tenths/10%60, tenths%10)
}

// formatPace renders seconds per 500 m as M:SS.t
func formatPace(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	tenths := int64(math.Round(seconds * 10))
	return fmt.Sprintf("%d:%02d.%d", tenths/600, tenths/10%60, tenths%10)
}

// formatDate renders a capture time in local time, minute precision.
func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatLiveStatus(s pm5.LiveStatus) string {
	return fmt.Sprintf("%s  %8.1f m", formatElapsed(s.ElapsedTime), s.Distance)
}

func heartRate(v uint8) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", v)
}

// printSummary writes a workout summary as an aligned key/value table.
func printSummary(out io.Writer, s pm5.WorkoutSummary) {
	title := color.New(color.Bold)
	title.Fprintln(out, "Workout summary")

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  Workout:\t%s\n", s.WorkoutType)
	fmt.Fprintf(w, "  Elapsed time:\t%s\n", formatElapsed(s.ElapsedTime))
	fmt.Fprintf(w, "  Distance:\t%.1f m\n", s.Distance)
	fmt.Fprintf(w, "  Average pace:\t%s /500m\n", formatPace(s.AveragePace))
	fmt.Fprintf(w, "  Stroke rate:\t%d spm\n", s.AvgStrokeRate)
	fmt.Fprintf(w, "  Heart rate:\tavg %s  min %s  max %s  end %s\n",
		heartRate(s.AverageHeartRate), heartRate(s.MinHeartRate), heartRate(s.MaxHeartRate), heartRate(s.EndingHeartRate))
	if s.HasRecoveryHeartRate() {
		fmt.Fprintf(w, "  Recovery HR:\t%d\n", s.RecoveryHeartRate)
	} else {
		fmt.Fprintf(w, "  Recovery HR:\tpending\n")
	}
	fmt.Fprintf(w, "  Drag factor:\t%d\n", s.AverageDragFactor)
	fmt.Fprintf(w, "  Log entry:\t%d/%d\n", s.LogEntryDate, s.LogEntryTime)
	w.Flush()
}

// printInformation writes the four device information strings.
func printInformation(out io.Writer, info pm5.DeviceInformation) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Manufacturer:\t%s\n", info.ManufacturerName)
	fmt.Fprintf(w, "Hardware revision:\t%s\n", info.HardwareRevision)
	fmt.Fprintf(w, "Serial number:\t%s\n", info.SerialNumber)
	fmt.Fprintf(w, "Firmware version:\t%s\n", info.FirmwareVersion)
	w.Flush()
}
