package run_test

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openSUSE/obs-service-cargo-audit/internal/run"
	"github.com/stretchr/testify/require"
)

func TestDo(t *testing.T) {
	t.Parallel()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	res := run.Do(t.Context(), run.Command{
		Path:    sh,
		Args:    []string{"-c", "echo stdout; echo 1>&2 stderr"},
		Timeout: 10 * time.Second,
	})
	require.NoError(t, res.Err)
	require.True(t, res.Exited())
	require.Equal(t, 0, res.ExitCode())
	require.Equal(t, "stdout\nstderr\n", string(res.Output))
	require.GreaterOrEqual(t, res.Stopped, res.Started)
}

func TestDo_NonZeroExit(t *testing.T) {
	t.Parallel()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	res := run.Do(t.Context(), run.Command{
		Path:    sh,
		Args:    []string{"-c", "echo failing; exit 3"},
		Timeout: 10 * time.Second,
	})
	require.Error(t, res.Err)
	var exitErr *exec.ExitError
	require.ErrorAs(t, res.Err, &exitErr)
	require.True(t, res.Exited())
	require.Equal(t, 3, res.ExitCode())
	require.Equal(t, "failing\n", string(res.Output))
}

func TestDo_ExecError(t *testing.T) {
	t.Parallel()
	res := run.Do(t.Context(), run.Command{
		Path:    "does-not-exist",
		Timeout: time.Second,
	})
	require.Error(t, res.Err)
	var execErr *exec.Error
	require.ErrorAs(t, res.Err, &execErr)
	require.False(t, res.Exited())
	require.Equal(t, -1, res.ExitCode())
}

func TestDo_Timeout(t *testing.T) {
	t.Parallel()
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skipf("skipped, binary sleep not available: %v", err)
	}

	res := run.Do(t.Context(), run.Command{
		Path:    sleep,
		Args:    []string{"10"},
		Timeout: 100 * time.Millisecond,
	})
	require.Error(t, res.Err)
	require.Less(t, res.Duration(), 5*time.Second)
	// a killed process is not a regular exit, even though os/exec
	// reports it as an ExitError
	require.ErrorIs(t, res.CtxErr, context.DeadlineExceeded)
	require.False(t, res.Exited())
}

func TestDo_Dir(t *testing.T) {
	t.Parallel()
	pwd, err := exec.LookPath("pwd")
	if err != nil {
		t.Skipf("skipped, binary pwd not available: %v", err)
	}

	dir := t.TempDir()
	res := run.Do(t.Context(), run.Command{
		Path:    pwd,
		Dir:     dir,
		Timeout: 10 * time.Second,
	})
	require.NoError(t, res.Err)
	// pwd prints the physical path, t.TempDir may contain symlinks
	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	require.Equal(t, want, strings.TrimSpace(string(res.Output)))
}
