package logbook

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/pm5link/internal/pm5"
)

// DefaultWriteTimeout bounds each store call made by a Recorder.
const DefaultWriteTimeout = 5 * time.Second

// Recorder persists workout-end events.
//
// The PM5 sends the summary once when the workout ends and again after a
// minute of rest with the recovery heart rate filled in. The second copy is
// folded into the entry written for the first; a plain duplicate is ignored.
type Recorder struct {
	store   Store
	logger  *logrus.Logger
	timeout time.Duration
	onSaved func(Entry, bool)
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithOnSaved registers fn to run after each write; updated is true when an existing entry was revised.
func WithOnSaved(fn func(entry Entry, updated bool)) RecorderOption {
	return func(r *Recorder) { r.onSaved = fn }
}

// WithWriteTimeout overrides DefaultWriteTimeout.
func WithWriteTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.timeout = d }
}

func NewRecorder(store Store, logger *logrus.Logger, opts ...RecorderOption) *Recorder {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Recorder{store: store, logger: logger, timeout: DefaultWriteTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Listen is a pm5.Listener. Events other than workout summaries are ignored.
func (r *Recorder) Listen(e pm5.Event) error {
	ev, ok := e.(pm5.WorkoutSummaryEvent)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	_, _, err := r.Record(ctx, ev.Summary)
	return err
}

// Record stores summary, or revises the entry it repeats.
// It reports the resulting entry and whether an existing entry was revised.
func (r *Recorder) Record(ctx context.Context, summary pm5.WorkoutSummary) (Entry, bool, error) {
	log := r.logger.WithFields(logrus.Fields{
		"log_date": summary.LogEntryDate,
		"log_time": summary.LogEntryTime,
	})

	existing, err := r.store.FindByLogEntry(ctx, summary.LogEntryDate, summary.LogEntryTime)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return Entry{}, false, err
	case existing.HasRecoveryHeartRate() || !summary.HasRecoveryHeartRate():
		log.WithField("id", existing.ID).Debug("Duplicate workout summary ignored")
		return existing, false, nil
	default:
		revised := Entry{ID: existing.ID, WorkoutSummary: summary}
		revised.CaptureTimestamp = existing.CaptureTimestamp
		if err := r.store.Update(ctx, revised); err != nil {
			return Entry{}, false, err
		}
		log.WithFields(logrus.Fields{
			"id":          revised.ID,
			"recovery_hr": summary.RecoveryHeartRate,
		}).Info("Workout updated with recovery heart rate")
		r.notify(revised, true)
		return revised, true, nil
	}

	entry, err := r.store.Save(ctx, summary)
	if err != nil {
		return Entry{}, false, err
	}
	log.WithFields(logrus.Fields{
		"id":       entry.ID,
		"distance": summary.Distance,
	}).Info("Workout saved")
	r.notify(entry, false)
	return entry, false, nil
}

func (r *Recorder) notify(e Entry, updated bool) {
	if r.onSaved != nil {
		r.onSaved(e, updated)
	}
}
