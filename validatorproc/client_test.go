package validatorproc

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestClientProcessExitedAbnormallyDetectsFailure exercises the restart
// trigger's predicate directly against a real, already-reaped child process,
// without driving the socket handshake -- spawning a working validator
// stand-in isn't available in this tree, but the abnormal-exit detection
// itself only looks at cmd.ProcessState, which the restart-once rule keys
// off of.
func TestClientProcessExitedAbnormallyDetectsFailure(t *testing.T) {
	cmd := exec.Command("false")
	_ = cmd.Run() // "false" always exits 1; err is expected and ignored

	c := &Client{cmd: cmd}
	require.True(t, c.processExitedAbnormally())
}

func TestClientProcessExitedAbnormallyFalseOnSuccess(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())

	c := &Client{cmd: cmd}
	require.False(t, c.processExitedAbnormally())
}

func TestClientProcessExitedAbnormallyFalseBeforeStart(t *testing.T) {
	c := &Client{}
	require.False(t, c.processExitedAbnormally())
}

func TestClientCloseOnUninitializedClientIsNoOp(t *testing.T) {
	c := NewClient("/bin/does-not-matter", t.TempDir())
	require.NoError(t, c.Close())
	require.Equal(t, stateExiting, c.st)
}

func TestClientSendWhileExitingFails(t *testing.T) {
	c := NewClient("/bin/does-not-matter", t.TempDir())
	require.NoError(t, c.Close())

	err := c.Send(KindCommitGenesis, &CommitGenesisRequest{ChainID: "main"}, nil)
	require.ErrorIs(t, err, ErrCannotValidateWhileShuttingDown)
}
