package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sudocode/controlplane/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)
	return log
}

func TestSpawnCompletesSuccessfully(t *testing.T) {
	sup := New(newTestLogger(t))
	proc, err := sup.Spawn(context.Background(), "exec-1", Config{Executable: "true"})
	require.NoError(t, err)
	require.NotZero(t, proc.PID())

	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not complete in time")
	}
	require.Equal(t, StatusCompleted, proc.Status())
	require.Equal(t, 0, proc.ExitCode())
}

func TestSpawnCapturesNonZeroExit(t *testing.T) {
	sup := New(newTestLogger(t))
	proc, err := sup.Spawn(context.Background(), "exec-2", Config{Executable: "false"})
	require.NoError(t, err)

	<-proc.Done()
	require.Equal(t, StatusCrashed, proc.Status())
	require.Equal(t, 1, proc.ExitCode())
}

func TestSpawnCapturesStdout(t *testing.T) {
	sup := New(newTestLogger(t))
	proc, err := sup.Spawn(context.Background(), "exec-3", Config{
		Executable: "sh",
		Args:       []string{"-c", "echo hello"},
	})
	require.NoError(t, err)

	<-proc.Done()
	var combined string
	for _, chunk := range proc.Output() {
		combined += chunk.Data
	}
	require.Contains(t, combined, "hello")
}

func TestSpawnRejectsEmptyExecutable(t *testing.T) {
	sup := New(newTestLogger(t))
	_, err := sup.Spawn(context.Background(), "exec-4", Config{})
	require.Error(t, err)
}

func TestTerminateStopsLongRunningProcess(t *testing.T) {
	sup := New(newTestLogger(t))
	proc, err := sup.Spawn(context.Background(), "exec-5", Config{
		Executable: "sleep",
		Args:       []string{"30"},
	})
	require.NoError(t, err)

	require.NoError(t, sup.Terminate(context.Background(), "exec-5"))

	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process was not terminated in time")
	}
	require.Equal(t, StatusCrashed, proc.Status())
}

func TestTerminateIsIdempotentForUnknownExecution(t *testing.T) {
	sup := New(newTestLogger(t))
	require.NoError(t, sup.Terminate(context.Background(), "does-not-exist"))
}

func TestMetricsTracksSpawnedAndCompleted(t *testing.T) {
	sup := New(newTestLogger(t))
	proc, err := sup.Spawn(context.Background(), "exec-6", Config{Executable: "true"})
	require.NoError(t, err)
	<-proc.Done()

	m := sup.Metrics()
	require.Equal(t, int64(1), m.Spawned)
	require.Equal(t, int64(1), m.Completed)
	require.Equal(t, int64(0), m.Active)
}
