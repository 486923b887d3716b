package throwerror

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/bpmnvm/pkg/log"
	"github.com/dukex/bpmnvm/pkg/pvm"
	"github.com/dukex/bpmnvm/pkg/testutil"
)

func TestThrowErrorDelegate_Execute(t *testing.T) {
	tests := []struct {
		name      string
		config    map[string]any
		expectErr bool
	}{
		{name: "always", config: map[string]any{"errorCode": "E42", "message": "boom"}, expectErr: true},
		{name: "when true", config: map[string]any{"errorCode": "E42", "when": "true"}, expectErr: true},
		{name: "when false", config: map[string]any{"errorCode": "E42", "when": false}, expectErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delegate, err := NewThrowErrorDelegate(tt.config)
			require.NoError(t, err)

			_, err = delegate.Execute(t.Context(), testutil.NewDelegateExecution("exec-1", "task", nil), log.Discard())
			if !tt.expectErr {
				require.NoError(t, err)

				return
			}

			var bpmnErr *pvm.BpmnError
			require.ErrorAs(t, err, &bpmnErr)
			assert.Equal(t, "E42", bpmnErr.Code)
		})
	}
}

func TestNewThrowErrorDelegate_RequiresCode(t *testing.T) {
	_, err := NewThrowErrorDelegate(map[string]any{"message": "no code"})
	require.Error(t, err)
}
