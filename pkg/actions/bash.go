package actions

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/tombee/autoflow/pkg/automation"
)

// maxStderrInMessage caps the stderr text copied into a failure message.
const maxStderrInMessage = 500

// bash runs EXECUTE_BASH code with the configured shell. The engine only
// dispatches it on self-hosted installs with bash enabled.
type bash struct {
	shell string
	dir   string
}

func (b *bash) execute(ctx context.Context, in automation.ExecuteBashInputs, rc *automation.RunContext) (automation.ExecuteBashOutputs, error) {
	cmd := exec.CommandContext(ctx, b.shell, "-c", in.Code)
	if b.dir != "" {
		cmd.Dir = b.dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if len(msg) > maxStderrInMessage {
				msg = msg[:maxStderrInMessage] + "..."
			}
			if msg == "" {
				msg = exitErr.Error()
			}
			if ctx.Err() != nil {
				return automation.ExecuteBashOutputs{}, automation.Failf("command interrupted: %v", ctx.Err())
			}
			rc.Logger().Debug("bash command failed", "exit_code", exitErr.ExitCode(), "stderr", msg)
			return automation.ExecuteBashOutputs{}, &automation.ActionFailure{
				Message: "command failed: " + msg,
				Status:  exitErr.ExitCode(),
			}
		}
		return automation.ExecuteBashOutputs{}, err
	}
	return automation.ExecuteBashOutputs{Stdout: stdout.String(), Success: true}, nil
}
