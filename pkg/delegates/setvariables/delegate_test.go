package setvariables

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/bpmnvm/pkg/log"
	"github.com/dukex/bpmnvm/pkg/testutil"
)

func TestNewSetVariablesDelegate(t *testing.T) {
	_, err := NewSetVariablesDelegate(map[string]any{})
	require.Error(t, err)

	delegate, err := NewSetVariablesDelegate(map[string]any{
		"variables": map[string]any{"a": 1},
		"local":     true,
	})
	require.NoError(t, err)
	assert.True(t, delegate.Local)
	assert.Equal(t, map[string]any{"a": 1}, delegate.Variables)
}

func TestSetVariablesDelegate_Execute(t *testing.T) {
	execution := testutil.NewDelegateExecution("exec-1", "task", map[string]any{"status": "new"})

	delegate, err := NewSetVariablesDelegate(map[string]any{
		"variables": map[string]any{
			"status":   "approved",
			"approver": "jane",
		},
	})
	require.NoError(t, err)

	result, err := delegate.Execute(t.Context(), execution, log.Discard())
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"status": "approved", "approver": "jane"}, result)
	assert.Equal(t, map[string]any{"status": "approved", "approver": "jane"}, execution.Variables())
}

func TestSetVariablesDelegate_ExecuteLocal(t *testing.T) {
	execution := testutil.NewDelegateExecution("exec-1", "task", nil)

	delegate, err := NewSetVariablesDelegate(map[string]any{
		"variables": map[string]any{"counter": 3},
		"local":     true,
	})
	require.NoError(t, err)

	_, err = delegate.Execute(t.Context(), execution, log.Discard())
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"counter": 3}, execution.Local)
}
