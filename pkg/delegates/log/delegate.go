package log

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/bpmnvm/pkg/protocol"
)

// LogDelegate writes its message to the logger of the command.
type LogDelegate struct {
	Message string
	Level   string
}

func NewLogDelegate(config map[string]any) (*LogDelegate, error) {
	message, ok := config["message"]
	if !ok {
		return nil, errors.New("missing required field 'message'")
	}

	level := "info"
	if lvl, ok := config["level"].(string); ok && lvl != "" {
		level = lvl
	}

	return &LogDelegate{
		Message: fmt.Sprint(message),
		Level:   level,
	}, nil
}

func (d *LogDelegate) Execute(ctx context.Context, execution protocol.DelegateExecution, logger *slog.Logger) (any, error) {
	logger = logger.With(
		"delegate_type", "log",
		"execution_id", execution.ID(),
		"activity_id", execution.ActivityID(),
	)

	switch d.Level {
	case "debug":
		logger.DebugContext(ctx, d.Message)
	case "warn":
		logger.WarnContext(ctx, d.Message)
	case "error":
		logger.ErrorContext(ctx, d.Message)
	default:
		logger.InfoContext(ctx, d.Message)
	}

	return map[string]any{"message": d.Message}, nil
}
