package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/devlab-sh/devlab/pkg/stores"
	"github.com/devlab-sh/devlab/pkg/telemetry"
)

// ErrSessionConflict is returned when a session of the requested name is
// already active. Matching with errors.As yields the *SessionConflictError
// carrying the conflicting session.
var ErrSessionConflict = errors.New("session conflict")

// SessionConflictError reports an attempt to open a session whose name is
// already held by an active session.
type SessionConflictError struct {
	Name string
}

func (e *SessionConflictError) Error() string {
	return fmt.Sprintf("session %q is already active; tear it down before starting a new run", e.Name)
}

func (e *SessionConflictError) Unwrap() error {
	return ErrSessionConflict
}

// Supervisor spawns detached service processes and records them in the
// registry store.
type Supervisor struct {
	store   stores.Store
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	logDir  string
}

// New creates a Supervisor writing task logs under logDir.
func New(store stores.Store, logger *telemetry.Logger, metrics *telemetry.Metrics, logDir string) *Supervisor {
	return &Supervisor{
		store:   store,
		logger:  logger.NewComponentLogger("supervisor"),
		metrics: metrics,
		logDir:  logDir,
	}
}

// appendEvent records a registry event. Event persistence is best effort and
// never fails the operation that produced it.
func (s *Supervisor) appendEvent(ctx context.Context, session string, task *string, level stores.EventLevel, message string) {
	event := &stores.Event{
		SessionName: &session,
		TaskName:    task,
		Level:       level,
		Message:     message,
		Timestamp:   time.Now().UTC(),
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		s.logger.WithSession(session).WithError(err).Warn("Failed to record event")
	}
}

// OpenSession registers a new session. It fails with a *SessionConflictError
// if a session of the same name is already active: re-running against a live
// session would duplicate daemons, so the caller must tear down first.
func (s *Supervisor) OpenSession(ctx context.Context, name, runID, ownerTag string) (*stores.Session, error) {
	existing, err := s.store.GetSession(ctx, name)
	if err != nil && !errors.Is(err, stores.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up session %q: %w", name, err)
	}

	if existing != nil {
		if existing.Status == stores.SessionStatusActive {
			return nil, &SessionConflictError{Name: name}
		}
		// A torn-down session of the same name can be replaced.
		if err := s.store.DeleteSession(ctx, name); err != nil {
			return nil, fmt.Errorf("failed to clear stale session %q: %w", name, err)
		}
	}

	now := time.Now().UTC()
	session := &stores.Session{
		Name:      name,
		Status:    stores.SessionStatusActive,
		OwnerTag:  ownerTag,
		RunID:     runID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session %q: %w", name, err)
	}

	s.logger.WithSession(name).Info("Session opened")
	s.appendEvent(ctx, name, nil, stores.EventLevelInfo, fmt.Sprintf("session opened (run %s)", runID))
	return session, nil
}

// IsSessionActive reports whether a session of the given name is active.
func (s *Supervisor) IsSessionActive(ctx context.Context, name string) (bool, error) {
	session, err := s.store.GetSession(ctx, name)
	if errors.Is(err, stores.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return session.Status == stores.SessionStatusActive, nil
}

// Spawn starts command as a detached process within session and records it as
// a task. It is fire-and-forget: the task is left in Starting state and the
// call returns without waiting for the process to become ready. The spawned
// process gets its own process group and keeps running after the supervisor's
// own process exits.
func (s *Supervisor) Spawn(ctx context.Context, session, taskName string, command string, args ...string) (*stores.Task, error) {
	sess, err := s.store.GetSession(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session %q: %w", session, err)
	}
	if sess.Status != stores.SessionStatusActive {
		return nil, fmt.Errorf("session %q is not active", session)
	}

	if err := os.MkdirAll(s.logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(s.logDir, fmt.Sprintf("%s-%s.log", session, taskName))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open task log %s: %w", logPath, err)
	}
	defer logFile.Close()

	// No CommandContext here: the task must outlive the caller's context.
	cmd := exec.Command(command, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start task %q: %w", taskName, err)
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		s.logger.WithTask(taskName).WithError(err).Warn("Failed to release process handle")
	}

	now := time.Now().UTC()
	task := &stores.Task{
		ID:          uuid.New().String(),
		SessionName: session,
		Name:        taskName,
		Command:     commandLine(command, args),
		PID:         pid,
		State:       stores.TaskStateStarting,
		LogPath:     logPath,
		StartedAt:   &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		// The process is already running; surface the bookkeeping failure
		// rather than killing it, the task log still identifies it.
		return nil, fmt.Errorf("failed to record task %q (pid %d): %w", taskName, pid, err)
	}

	s.metrics.RecordTaskSpawned(session)
	s.logger.WithSession(session).WithTask(taskName).
		WithField("pid", pid).
		WithField("log_path", logPath).
		Info("Task spawned")
	s.appendEvent(ctx, session, &taskName, stores.EventLevelInfo,
		fmt.Sprintf("task spawned (pid %d)", pid))

	return task, nil
}

// MarkRunning transitions a task to Running, typically after a health gate
// confirmed the process is reachable.
func (s *Supervisor) MarkRunning(ctx context.Context, task *stores.Task) error {
	if err := s.store.UpdateTaskState(ctx, task.ID, stores.TaskStateRunning); err != nil {
		return fmt.Errorf("failed to mark task %q running: %w", task.Name, err)
	}
	task.State = stores.TaskStateRunning
	return nil
}

// ListTasks returns the tasks of a session, oldest first, with each task's
// recorded state reconciled against actual process liveness.
func (s *Supervisor) ListTasks(ctx context.Context, session string) ([]*stores.Task, error) {
	tasks, err := s.store.ListTasksBySession(ctx, session)
	if err != nil {
		return nil, err
	}

	for _, task := range tasks {
		if task.State.IsTerminal() || task.PID == 0 {
			continue
		}
		if !processAlive(task.PID) {
			if err := s.store.UpdateTaskState(ctx, task.ID, stores.TaskStateFailed); err != nil {
				return nil, fmt.Errorf("failed to mark task %q failed: %w", task.Name, err)
			}
			task.State = stores.TaskStateFailed
			s.appendEvent(ctx, session, &task.Name, stores.EventLevelWarning,
				fmt.Sprintf("task exited unexpectedly (pid %d)", task.PID))
		}
	}

	return tasks, nil
}

// StopSession signals every live task of the session and marks the session
// inactive. Tasks are sent SIGTERM to their process group.
func (s *Supervisor) StopSession(ctx context.Context, name string) error {
	tasks, err := s.store.ListTasksBySession(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to list tasks for session %q: %w", name, err)
	}

	for _, task := range tasks {
		if task.State.IsTerminal() || task.PID == 0 {
			continue
		}
		if processAlive(task.PID) {
			// Negative pid signals the whole process group created by Setsid.
			if err := syscall.Kill(-task.PID, syscall.SIGTERM); err != nil {
				s.logger.WithTask(task.Name).WithError(err).Warn("Failed to signal task")
			}
		}
		if err := s.store.UpdateTaskState(ctx, task.ID, stores.TaskStateStopped); err != nil {
			return fmt.Errorf("failed to mark task %q stopped: %w", task.Name, err)
		}
	}

	if err := s.store.UpdateSessionStatus(ctx, name, stores.SessionStatusInactive); err != nil {
		return fmt.Errorf("failed to deactivate session %q: %w", name, err)
	}

	s.logger.WithSession(name).Info("Session stopped")
	s.appendEvent(ctx, name, nil, stores.EventLevelInfo, "session stopped")
	return nil
}

// processAlive probes a pid with signal 0.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func commandLine(command string, args []string) string {
	line := command
	for _, arg := range args {
		line += " " + arg
	}
	return line
}
