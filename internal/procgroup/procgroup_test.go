package procgroup

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigure_SetsProcessGroup(t *testing.T) {
	t.Parallel()
	cmd := exec.Command("true")
	require.Nil(t, cmd.SysProcAttr)

	Configure(cmd)

	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setpgid)
}

func TestSignal_NilProcess(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Signal(nil, syscall.SIGTERM))
}

func TestShutdown_ExitsOnFirstStep(t *testing.T) {
	t.Parallel()
	exited := make(chan struct{})
	close(exited)

	start := time.Now()
	ok := Shutdown(nil, exited, []Step{{Wait: time.Second}})

	assert.True(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestShutdown_EscalatesToKill(t *testing.T) {
	t.Parallel()
	// The shell ignores SIGINT so only the SIGKILL step can stop it.
	cmd := exec.Command("sh", "-c", "trap '' INT; sleep 60")
	Configure(cmd)
	require.NoError(t, cmd.Start())

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	ok := Shutdown(cmd.Process, exited, []Step{
		{Wait: 50 * time.Millisecond},
		{Sig: syscall.SIGINT, Wait: 50 * time.Millisecond},
		{Sig: syscall.SIGKILL, Wait: 2 * time.Second},
	})
	assert.True(t, ok)
}

func TestShutdown_GivesUp(t *testing.T) {
	t.Parallel()
	never := make(chan struct{})
	ok := Shutdown(nil, never, []Step{{Wait: 10 * time.Millisecond}})
	assert.False(t, ok)
}
