package verify

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecutorRunsAllowedCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses posix echo")
	}
	ex := &Executor{Allowed: []string{"echo"}, Denied: []string{"rm"}}

	res, err := ex.Exec(context.Background(), 2*time.Second, "echo", "hi")
	require.NoError(t, err)
	require.Equal(t, 0, res.ExitCode)
	require.Equal(t, "hi\n", res.Stdout)
}

func TestExecutorReportsExitCodeWithoutError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses posix false")
	}
	res, err := (&Executor{}).Exec(context.Background(), 2*time.Second, "false")
	require.NoError(t, err)
	require.Equal(t, 1, res.ExitCode)
}

func TestExecutorDenied(t *testing.T) {
	ex := &Executor{Denied: []string{"rm"}}
	_, err := ex.Exec(context.Background(), 0, "RM", "-rf", "/")
	require.ErrorContains(t, err, "denied")
}

func TestExecutorAllowlist(t *testing.T) {
	ex := &Executor{Allowed: []string{"go"}}
	_, err := ex.Exec(context.Background(), 0, "curl", "http://example.com")
	require.ErrorContains(t, err, "allowlist")
}

func TestExecutorTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses posix sleep")
	}
	_, err := (&Executor{}).Exec(context.Background(), 50*time.Millisecond, "sleep", "5")
	require.ErrorIs(t, err, ErrTimeout)
}

func TestExecutorCancelled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses posix sleep")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Executor{}).Exec(ctx, time.Second, "sleep", "5")
	require.ErrorIs(t, err, context.Canceled)
}
