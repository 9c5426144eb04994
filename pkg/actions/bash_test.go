package actions

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/autoflow/pkg/automation"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath(DefaultShell); err != nil {
		t.Skipf("%s not available", DefaultShell)
	}
}

func TestBash_Stdout(t *testing.T) {
	requireShell(t)
	b := &bash{shell: DefaultShell, dir: t.TempDir()}

	out, err := b.execute(context.Background(), automation.ExecuteBashInputs{Code: `echo hello; pwd >/dev/null`}, newRunContext())
	require.NoError(t, err)
	assert.Equal(t, automation.ExecuteBashOutputs{Stdout: "hello\n", Success: true}, out)
}

func TestBash_NonZeroExit(t *testing.T) {
	requireShell(t)
	b := &bash{shell: DefaultShell}

	_, err := b.execute(context.Background(), automation.ExecuteBashInputs{Code: `echo oops >&2; exit 3`}, newRunContext())
	var failure *automation.ActionFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, 3, failure.Status)
	assert.Equal(t, "command failed: oops", failure.Message)
}
