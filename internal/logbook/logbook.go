// Package logbook persists finished workouts.
package logbook

import (
	"context"
	"errors"

	"github.com/srg/pm5link/internal/pm5"
)

// ErrNotFound is returned when no entry matches.
var ErrNotFound = errors.New("logbook entry not found")

// Entry is a stored workout summary.
type Entry struct {
	ID int64 `json:"id"`
	pm5.WorkoutSummary
}

// Store is the persistence boundary for workout summaries.
type Store interface {
	// LoadAll returns every entry, newest capture first.
	LoadAll(ctx context.Context) ([]Entry, error)
	// Save appends a summary and returns the stored entry.
	Save(ctx context.Context, summary pm5.WorkoutSummary) (Entry, error)
	// Update replaces the summary of an existing entry.
	Update(ctx context.Context, entry Entry) error
	// FindByLogEntry returns the newest entry with the monitor's log entry date and time.
	FindByLogEntry(ctx context.Context, date, time uint16) (Entry, error)
	Close() error
}
