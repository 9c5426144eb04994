package actions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tombee/autoflow/pkg/automation"
)

// serverLog writes text to the run logger, prefixed with the automation id.
func serverLog(_ context.Context, in automation.ServerLogInputs, rc *automation.RunContext) (automation.ServerLogOutputs, error) {
	message := fmt.Sprintf("%s - %s", rc.AutomationID(), in.Text)
	rc.Logger().Info(message, slog.String("source", "server_log"))
	return automation.ServerLogOutputs{Success: true, Message: message}, nil
}
