package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations from the embedded filesystem.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateSession creates a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (name, status, owner_tag, run_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.Name,
		session.Status,
		session.OwnerTag,
		session.RunID,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetSession retrieves a session by name.
func (s *SQLiteStore) GetSession(ctx context.Context, name string) (*Session, error) {
	query := `
		SELECT name, status, owner_tag, run_id, created_at, updated_at
		FROM sessions
		WHERE name = ?
	`

	session := &Session{}
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&session.Name,
		&session.Status,
		&session.OwnerTag,
		&session.RunID,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

// UpdateSessionStatus updates the status of a session.
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, name string, status SessionStatus) error {
	query := `UPDATE sessions SET status = ?, updated_at = ? WHERE name = ?`

	result, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), name)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session %q: %w", name, ErrNotFound)
	}

	return nil
}

// ListSessions lists all sessions, most recent first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*Session, error) {
	query := `
		SELECT name, status, owner_tag, run_id, created_at, updated_at
		FROM sessions
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*Session{}
	for rows.Next() {
		session := &Session{}
		err := rows.Scan(
			&session.Name,
			&session.Status,
			&session.OwnerTag,
			&session.RunID,
			&session.CreatedAt,
			&session.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

// DeleteSession deletes a session and its tasks.
func (s *SQLiteStore) DeleteSession(ctx context.Context, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session %q: %w", name, ErrNotFound)
	}

	return nil
}

// CreateTask creates a new task record.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *Task) error {
	query := `
		INSERT INTO tasks (id, session_name, name, command, pid, state, log_path, started_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.SessionName,
		task.Name,
		task.Command,
		task.PID,
		task.State,
		task.LogPath,
		task.StartedAt,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

// GetTask retrieves a task by session and task name.
func (s *SQLiteStore) GetTask(ctx context.Context, session, name string) (*Task, error) {
	query := `
		SELECT id, session_name, name, command, pid, state, log_path, started_at, created_at, updated_at
		FROM tasks
		WHERE session_name = ? AND name = ?
	`

	task := &Task{}
	err := s.db.QueryRowContext(ctx, query, session, name).Scan(
		&task.ID,
		&task.SessionName,
		&task.Name,
		&task.Command,
		&task.PID,
		&task.State,
		&task.LogPath,
		&task.StartedAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %q in session %q: %w", name, session, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return task, nil
}

// UpdateTaskState updates the state of a task.
func (s *SQLiteStore) UpdateTaskState(ctx context.Context, id string, state TaskState) error {
	query := `UPDATE tasks SET state = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, state, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update task state: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %q: %w", id, ErrNotFound)
	}

	return nil
}

// ListTasksBySession lists all tasks belonging to a session.
func (s *SQLiteStore) ListTasksBySession(ctx context.Context, session string) ([]*Task, error) {
	query := `
		SELECT id, session_name, name, command, pid, state, log_path, started_at, created_at, updated_at
		FROM tasks
		WHERE session_name = ?
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, session)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*Task{}
	for rows.Next() {
		task := &Task{}
		err := rows.Scan(
			&task.ID,
			&task.SessionName,
			&task.Name,
			&task.Command,
			&task.PID,
			&task.State,
			&task.LogPath,
			&task.StartedAt,
			&task.CreatedAt,
			&task.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

// AppendEvent appends a run event.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (session_name, task_name, level, message, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.SessionName,
		event.TaskName,
		event.Level,
		event.Message,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		event.ID = id
	}

	return nil
}

// ListEvents lists the most recent events for a session.
func (s *SQLiteStore) ListEvents(ctx context.Context, session string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, session_name, task_name, level, message, timestamp
		FROM events
		WHERE session_name = ?
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, session, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.SessionName,
			&event.TaskName,
			&event.Level,
			&event.Message,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database is reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
