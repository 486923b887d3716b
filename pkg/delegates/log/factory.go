// Package log provides the delegate writing a message to the engine log.
package log

import (
	"github.com/dukex/bpmnvm/pkg/protocol"
)

// DelegateFactory creates LogDelegate instances.
type DelegateFactory struct{}

func NewDelegateFactory() protocol.DelegateFactory {
	return &DelegateFactory{}
}

func (*DelegateFactory) ID() string {
	return "log"
}

func (*DelegateFactory) Name() string {
	return "Log"
}

func (*DelegateFactory) Description() string {
	return "Logs a message at a specified level. Placeholders are resolved against the execution variables."
}

func (f *DelegateFactory) Create(config map[string]any) (protocol.Delegate, error) {
	return NewLogDelegate(config)
}

// Schema returns the JSON schema for the delegate configuration.
func (*DelegateFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "The message to log.",
				"examples": []string{
					"Order ${orderId} approved",
					"Processing ${length(items)} items",
				},
			},
			"level": map[string]any{
				"type":        "string",
				"description": "Log level for the message",
				"default":     "info",
				"enum":        []string{"debug", "info", "warn", "error"},
			},
		},
		"required": []string{"message"},
	}
}
