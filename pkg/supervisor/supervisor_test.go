package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devlab-sh/devlab/pkg/stores"
	"github.com/devlab-sh/devlab/pkg/telemetry"
)

func newTestSupervisor(t *testing.T) (*Supervisor, stores.Store) {
	t.Helper()

	dir := t.TempDir()
	store, err := stores.NewSQLiteStore(stores.Config{Path: filepath.Join(dir, "registry.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	return New(store, logger, metrics, filepath.Join(dir, "logs")), store
}

func TestOpenSession(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	ctx := context.Background()

	session, err := sup.OpenSession(ctx, "run1", "run-id-1", "devlab")
	if err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	if session.Status != stores.SessionStatusActive {
		t.Errorf("Expected active session, got %s", session.Status)
	}

	active, err := sup.IsSessionActive(ctx, "run1")
	if err != nil {
		t.Fatalf("IsSessionActive failed: %v", err)
	}
	if !active {
		t.Errorf("Expected session to be active")
	}
}

func TestOpenSession_Conflict(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	ctx := context.Background()

	if _, err := sup.OpenSession(ctx, "run1", "run-id-1", "devlab"); err != nil {
		t.Fatalf("First OpenSession failed: %v", err)
	}

	_, err := sup.OpenSession(ctx, "run1", "run-id-2", "devlab")
	if err == nil {
		t.Fatalf("Expected conflict on second OpenSession")
	}
	if !errors.Is(err, ErrSessionConflict) {
		t.Errorf("Expected ErrSessionConflict, got: %v", err)
	}

	var conflict *SessionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Expected *SessionConflictError, got: %v", err)
	}
	if conflict.Name != "run1" {
		t.Errorf("Expected conflict on run1, got %s", conflict.Name)
	}

	// No task may have been spawned by the failed attempt.
	tasks, err := sup.ListTasks(ctx, "run1")
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("Expected no tasks after conflict, got %d", len(tasks))
	}
}

func TestOpenSession_ReplacesInactiveSession(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	ctx := context.Background()

	if _, err := sup.OpenSession(ctx, "run1", "run-id-1", "devlab"); err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	if err := sup.StopSession(ctx, "run1"); err != nil {
		t.Fatalf("StopSession failed: %v", err)
	}

	session, err := sup.OpenSession(ctx, "run1", "run-id-2", "devlab")
	if err != nil {
		t.Fatalf("OpenSession after teardown failed: %v", err)
	}
	if session.RunID != "run-id-2" {
		t.Errorf("Expected fresh session run ID, got %s", session.RunID)
	}
}

func TestSpawn(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	ctx := context.Background()

	if _, err := sup.OpenSession(ctx, "run1", "run-id-1", "devlab"); err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}

	task, err := sup.Spawn(ctx, "run1", "sleeper", "sleep", "30")
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	t.Cleanup(func() { _ = sup.StopSession(context.Background(), "run1") })

	if task.State != stores.TaskStateStarting {
		t.Errorf("Expected starting state, got %s", task.State)
	}
	if task.PID == 0 {
		t.Errorf("Expected recorded pid")
	}
	if !processAlive(task.PID) {
		t.Errorf("Expected spawned process %d to be alive", task.PID)
	}
	if _, err := os.Stat(task.LogPath); err != nil {
		t.Errorf("Expected task log file at %s: %v", task.LogPath, err)
	}

	tasks, err := sup.ListTasks(ctx, "run1")
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("Expected 1 task, got %d", len(tasks))
	}
	if tasks[0].State != stores.TaskStateStarting {
		t.Errorf("Expected live task to stay in starting state, got %s", tasks[0].State)
	}
}

func TestSpawn_SessionNotActive(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	ctx := context.Background()

	if _, err := sup.OpenSession(ctx, "run1", "run-id-1", "devlab"); err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	if err := sup.StopSession(ctx, "run1"); err != nil {
		t.Fatalf("StopSession failed: %v", err)
	}

	if _, err := sup.Spawn(ctx, "run1", "sleeper", "sleep", "30"); err == nil {
		t.Errorf("Expected spawn into inactive session to fail")
	}
}

func TestMarkRunning(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	ctx := context.Background()

	if _, err := sup.OpenSession(ctx, "run1", "run-id-1", "devlab"); err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}

	task, err := sup.Spawn(ctx, "run1", "sleeper", "sleep", "30")
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	t.Cleanup(func() { _ = sup.StopSession(context.Background(), "run1") })

	if err := sup.MarkRunning(ctx, task); err != nil {
		t.Fatalf("MarkRunning failed: %v", err)
	}
	if task.State != stores.TaskStateRunning {
		t.Errorf("Expected running state, got %s", task.State)
	}
}

func TestListTasks_DetectsDeadProcess(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	ctx := context.Background()

	if _, err := sup.OpenSession(ctx, "run1", "run-id-1", "devlab"); err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}

	// "true" exits immediately; the task record outlives the process.
	task, err := sup.Spawn(ctx, "run1", "short", "true")
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	for i := 0; i < 100 && processAlive(task.PID); i++ {
		time.Sleep(10 * time.Millisecond)
	}

	tasks, err := sup.ListTasks(ctx, "run1")
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("Expected 1 task, got %d", len(tasks))
	}
	if tasks[0].State != stores.TaskStateFailed && tasks[0].State != stores.TaskStateStarting {
		t.Errorf("Unexpected state %s", tasks[0].State)
	}
}

func TestStopSession(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	ctx := context.Background()

	if _, err := sup.OpenSession(ctx, "run1", "run-id-1", "devlab"); err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	if _, err := sup.Spawn(ctx, "run1", "sleeper", "sleep", "30"); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	if err := sup.StopSession(ctx, "run1"); err != nil {
		t.Fatalf("StopSession failed: %v", err)
	}

	active, err := sup.IsSessionActive(ctx, "run1")
	if err != nil {
		t.Fatalf("IsSessionActive failed: %v", err)
	}
	if active {
		t.Errorf("Expected session to be inactive after stop")
	}

	got, err := sup.ListTasks(ctx, "run1")
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 task, got %d", len(got))
	}
	if got[0].State != stores.TaskStateStopped {
		t.Errorf("Expected stopped state, got %s", got[0].State)
	}
}

func TestSessionLifecycleRecordsEvents(t *testing.T) {
	sup, store := newTestSupervisor(t)
	ctx := context.Background()

	if _, err := sup.OpenSession(ctx, "run1", "run-id-1", "devlab"); err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}
	if _, err := sup.Spawn(ctx, "run1", "sleeper", "sleep", "30"); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if err := sup.StopSession(ctx, "run1"); err != nil {
		t.Fatalf("StopSession failed: %v", err)
	}

	events, err := store.ListEvents(ctx, "run1", 10)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}

	messages := make(map[string]bool, len(events))
	for _, event := range events {
		messages[event.Message] = true
		if event.Level != stores.EventLevelInfo {
			t.Errorf("Expected info level for %q, got %s", event.Message, event.Level)
		}
	}
	if !messages["session opened (run run-id-1)"] {
		t.Errorf("Expected session-opened event, got %v", messages)
	}
	if !messages["session stopped"] {
		t.Errorf("Expected session-stopped event, got %v", messages)
	}
}

func TestListTasks_DeadProcessRecordsWarningEvent(t *testing.T) {
	sup, store := newTestSupervisor(t)
	ctx := context.Background()

	if _, err := sup.OpenSession(ctx, "run1", "run-id-1", "devlab"); err != nil {
		t.Fatalf("OpenSession failed: %v", err)
	}

	task, err := sup.Spawn(ctx, "run1", "short", "true")
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	for i := 0; i < 100 && processAlive(task.PID); i++ {
		time.Sleep(10 * time.Millisecond)
	}
	if processAlive(task.PID) {
		t.Skip("spawned process did not exit in time")
	}

	if _, err := sup.ListTasks(ctx, "run1"); err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}

	events, err := store.ListEvents(ctx, "run1", 10)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}

	var warned bool
	for _, event := range events {
		if event.Level == stores.EventLevelWarning &&
			event.TaskName != nil && *event.TaskName == "short" {
			warned = true
		}
	}
	if !warned {
		t.Errorf("Expected a warning event for the dead task, got %v", events)
	}
}
