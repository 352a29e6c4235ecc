package store

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore persists events in a SQLite database.
type SQLiteStore struct {
	db        *sql.DB
	maxEvents int
}

// OpenDatabase opens the SQLite database and runs migrations
func OpenDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set dialect: %w", err)
	}
	goose.SetLogger(goose.NopLogger())

	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func NewSQLiteStore(path string, maxEvents int) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	db, err := OpenDatabase(path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps appends and trims serialized.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db, maxEvents: maxEvents}, nil
}

func (s *SQLiteStore) Append(ev Event) error {
	_, err := s.db.Exec(`
		INSERT INTO runner_events (id, runner, type, from_state, to_state, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.Runner, ev.Type, nullableString(ev.From), nullableString(ev.To), nullableString(ev.Message),
		ev.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	if s.maxEvents > 0 {
		_, err = s.db.Exec(`
			DELETE FROM runner_events
			WHERE seq <= (SELECT MAX(seq) FROM runner_events) - ?
		`, s.maxEvents)
		if err != nil {
			return fmt.Errorf("failed to trim events: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Recent(count int) ([]Event, error) {
	return s.query(`
		SELECT id, runner, type, from_state, to_state, message, created_at FROM (
			SELECT * FROM runner_events ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC
	`, count)
}

func (s *SQLiteStore) ForRunner(runner string, count int) ([]Event, error) {
	return s.query(`
		SELECT id, runner, type, from_state, to_state, message, created_at FROM (
			SELECT * FROM runner_events WHERE runner = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC
	`, runner, count)
}

func (s *SQLiteStore) query(q string, args ...any) ([]Event, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var (
			ev           Event
			from, to     sql.NullString
			message      sql.NullString
			createdAtStr string
		)
		if err := rows.Scan(&ev.ID, &ev.Runner, &ev.Type, &from, &to, &message, &createdAtStr); err != nil {
			return nil, err
		}
		createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		ev.From = from.String
		ev.To = to.String
		ev.Message = message.String
		ev.Timestamp = createdAt
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// nullableString returns nil for empty strings, otherwise the string
func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
