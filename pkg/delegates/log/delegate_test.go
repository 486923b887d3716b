package log

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/bpmnvm/pkg/testutil"
)

func TestNewDelegateFactory(t *testing.T) {
	factory := NewDelegateFactory()
	assert.Equal(t, "log", factory.ID())
	assert.Equal(t, "Log", factory.Name())
	assert.NotEmpty(t, factory.Description())
	assert.Equal(t, []string{"message"}, factory.Schema()["required"])
}

func TestNewLogDelegate(t *testing.T) {
	tests := []struct {
		name          string
		config        map[string]any
		expectedMsg   string
		expectedLevel string
		expectErr     bool
	}{
		{
			name:      "missing message",
			config:    map[string]any{},
			expectErr: true,
		},
		{
			name:          "message only",
			config:        map[string]any{"message": "hello"},
			expectedMsg:   "hello",
			expectedLevel: "info",
		},
		{
			name:          "non string message",
			config:        map[string]any{"message": 42, "level": "warn"},
			expectedMsg:   "42",
			expectedLevel: "warn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delegate, err := NewLogDelegate(tt.config)
			if tt.expectErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expectedMsg, delegate.Message)
			assert.Equal(t, tt.expectedLevel, delegate.Level)
		})
	}
}

func TestLogDelegate_Execute(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	delegate, err := NewLogDelegate(map[string]any{"message": "order approved", "level": "error"})
	require.NoError(t, err)

	execution := testutil.NewDelegateExecution("exec-1", "task", nil)

	result, err := delegate.Execute(t.Context(), execution, logger)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"message": "order approved"}, result)
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "order approved")
	assert.Contains(t, buf.String(), "activity_id=task")
}
