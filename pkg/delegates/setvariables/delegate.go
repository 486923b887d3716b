// Package setvariables provides the delegate assigning process variables.
package setvariables

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/dukex/bpmnvm/pkg/protocol"
)

// DelegateFactory creates SetVariablesDelegate instances.
type DelegateFactory struct{}

func NewDelegateFactory() protocol.DelegateFactory {
	return &DelegateFactory{}
}

func (*DelegateFactory) ID() string {
	return "set-variables"
}

func (*DelegateFactory) Name() string {
	return "Set variables"
}

func (*DelegateFactory) Description() string {
	return "Assigns the configured values to execution variables. Values are resolved before the assignment."
}

func (f *DelegateFactory) Create(config map[string]any) (protocol.Delegate, error) {
	return NewSetVariablesDelegate(config)
}

func (*DelegateFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"variables": map[string]any{
				"type":        "object",
				"description": "Variables to assign, by name.",
				"examples": []map[string]any{
					{"approved": "${amount < 1000}"},
					{"customer": "${order.customer}", "status": "pending"},
				},
			},
			"local": map[string]any{
				"type":        "boolean",
				"description": "Assign on the execution itself instead of the scope that already holds the variable",
				"default":     false,
			},
		},
		"required": []string{"variables"},
	}
}

// SetVariablesDelegate assigns variables in name order.
type SetVariablesDelegate struct {
	Variables map[string]any
	Local     bool
}

type localSetter interface {
	SetVariableLocal(name string, value any)
}

func NewSetVariablesDelegate(config map[string]any) (*SetVariablesDelegate, error) {
	variables, ok := config["variables"].(map[string]any)
	if !ok {
		return nil, errors.New("missing required field 'variables'")
	}

	local, _ := config["local"].(bool)

	return &SetVariablesDelegate{
		Variables: variables,
		Local:     local,
	}, nil
}

func (d *SetVariablesDelegate) Execute(ctx context.Context, execution protocol.DelegateExecution, logger *slog.Logger) (any, error) {
	names := make([]string, 0, len(d.Variables))
	for name := range d.Variables {
		names = append(names, name)
	}

	sort.Strings(names)

	setter, canSetLocal := execution.(localSetter)

	for _, name := range names {
		if d.Local && canSetLocal {
			setter.SetVariableLocal(name, d.Variables[name])
		} else {
			execution.SetVariable(name, d.Variables[name])
		}
	}

	logger.DebugContext(ctx, "Variables assigned",
		"delegate_type", "set-variables",
		"execution_id", execution.ID(),
		"variables", names)

	return d.Variables, nil
}
