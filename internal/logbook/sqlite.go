package logbook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/srg/pm5link/internal/pm5"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open logbook db: %w", err)
	}
	// One writer; the recorder and CLI never need more.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate logbook db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS workouts (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			captured_at    INTEGER NOT NULL,
			log_entry_date INTEGER NOT NULL,
			log_entry_time INTEGER NOT NULL,
			summary        TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS workouts_captured_at ON workouts (captured_at);
		CREATE INDEX IF NOT EXISTS workouts_log_entry ON workouts (log_entry_date, log_entry_time);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadAll(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, summary FROM workouts ORDER BY captured_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("load workouts: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Save(ctx context.Context, summary pm5.WorkoutSummary) (Entry, error) {
	data, err := json.Marshal(summary)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal workout: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO workouts (captured_at, log_entry_date, log_entry_time, summary) VALUES (?, ?, ?, ?)",
		capturedAt(summary), summary.LogEntryDate, summary.LogEntryTime, string(data),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("save workout: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Entry{}, fmt.Errorf("save workout: %w", err)
	}
	return Entry{ID: id, WorkoutSummary: summary}, nil
}

func (s *SQLiteStore) Update(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry.WorkoutSummary)
	if err != nil {
		return fmt.Errorf("marshal workout: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE workouts SET captured_at = ?, log_entry_date = ?, log_entry_time = ?, summary = ? WHERE id = ?",
		capturedAt(entry.WorkoutSummary), entry.LogEntryDate, entry.LogEntryTime, string(data), entry.ID,
	)
	if err != nil {
		return fmt.Errorf("update workout %d: %w", entry.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) FindByLogEntry(ctx context.Context, date, tm uint16) (Entry, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, summary FROM workouts WHERE log_entry_date = ? AND log_entry_time = ? ORDER BY id DESC LIMIT 1",
		date, tm,
	)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e    Entry
		data string
	)
	if err := row.Scan(&e.ID, &data); err != nil {
		return Entry{}, err
	}
	if err := json.Unmarshal([]byte(data), &e.WorkoutSummary); err != nil {
		return Entry{}, fmt.Errorf("decode workout %d: %w", e.ID, err)
	}
	return e, nil
}

func capturedAt(s pm5.WorkoutSummary) int64 {
	if s.CaptureTimestamp.IsZero() {
		return 0
	}
	return s.CaptureTimestamp.UnixNano()
}
