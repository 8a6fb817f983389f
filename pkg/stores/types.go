package stores

import (
	"context"
	"time"
)

// SessionStatus represents the status of a supervision session.
type SessionStatus string

const (
	SessionStatusActive   SessionStatus = "active"
	SessionStatusInactive SessionStatus = "inactive"
)

// TaskState represents the state of a supervised task.
type TaskState string

const (
	TaskStateNotStarted TaskState = "not_started"
	TaskStateStarting   TaskState = "starting"
	TaskStateRunning    TaskState = "running"
	TaskStateFailed     TaskState = "failed"
	TaskStateStopped    TaskState = "stopped"
)

// IsTerminal reports whether the state is final.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateFailed || s == TaskStateStopped
}

// EventLevel represents the severity level of a run event.
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Session groups the supervised tasks of one orchestration run.
type Session struct {
	Name      string        `json:"name"`
	Status    SessionStatus `json:"status"`
	OwnerTag  string        `json:"owner_tag"`
	RunID     string        `json:"run_id"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Task is a named long-running process entry within a session.
type Task struct {
	ID          string     `json:"id"`
	SessionName string     `json:"session_name"`
	Name        string     `json:"name"`
	Command     string     `json:"command"`
	PID         int        `json:"pid"`
	State       TaskState  `json:"state"`
	LogPath     string     `json:"log_path"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Event is an append-only log entry tied to a session or task.
type Event struct {
	ID          int64      `json:"id"`
	SessionName *string    `json:"session_name,omitempty"`
	TaskName    *string    `json:"task_name,omitempty"`
	Level       EventLevel `json:"level"`
	Message     string     `json:"message"`
	Timestamp   time.Time  `json:"timestamp"`
}

// Store defines the persistence interface for the supervision registry.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Session operations
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, name string) (*Session, error)
	UpdateSessionStatus(ctx context.Context, name string, status SessionStatus) error
	ListSessions(ctx context.Context) ([]*Session, error)
	DeleteSession(ctx context.Context, name string) error

	// Task operations
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, session, name string) (*Task, error)
	UpdateTaskState(ctx context.Context, id string, state TaskState) error
	ListTasksBySession(ctx context.Context, session string) ([]*Task, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, session string, limit int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
