// Package throwerror provides the delegate raising a BPMN error.
package throwerror

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/bpmnvm/pkg/protocol"
	"github.com/dukex/bpmnvm/pkg/pvm"
)

// DelegateFactory creates ThrowErrorDelegate instances.
type DelegateFactory struct{}

func NewDelegateFactory() protocol.DelegateFactory {
	return &DelegateFactory{}
}

func (*DelegateFactory) ID() string {
	return "throw-error"
}

func (*DelegateFactory) Name() string {
	return "Throw error"
}

func (*DelegateFactory) Description() string {
	return "Raises a BPMN error caught by error boundary events and error event sub-processes."
}

func (f *DelegateFactory) Create(config map[string]any) (protocol.Delegate, error) {
	return NewThrowErrorDelegate(config)
}

func (*DelegateFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"errorCode": map[string]any{
				"type":        "string",
				"description": "Code matched against the errorCode of catching events",
				"minLength":   1,
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Human readable description of the error",
			},
			"when": map[string]any{
				"type":        []string{"boolean", "string"},
				"description": "Raise the error only when this resolves to true",
				"default":     true,
			},
		},
		"required": []string{"errorCode"},
	}
}

type ThrowErrorDelegate struct {
	ErrorCode string
	Message   string
	When      bool
}

func NewThrowErrorDelegate(config map[string]any) (*ThrowErrorDelegate, error) {
	code, _ := config["errorCode"].(string)
	if code == "" {
		return nil, errors.New("missing required field 'errorCode'")
	}

	message, _ := config["message"].(string)

	when := true

	switch v := config["when"].(type) {
	case bool:
		when = v
	case string:
		when = v == "true"
	}

	return &ThrowErrorDelegate{
		ErrorCode: code,
		Message:   message,
		When:      when,
	}, nil
}

func (d *ThrowErrorDelegate) Execute(ctx context.Context, execution protocol.DelegateExecution, logger *slog.Logger) (any, error) {
	if !d.When {
		return nil, nil
	}

	logger.InfoContext(ctx, "Throwing BPMN error",
		"delegate_type", "throw-error",
		"execution_id", execution.ID(),
		"error_code", d.ErrorCode)

	return nil, pvm.NewBpmnError(d.ErrorCode, d.Message)
}
