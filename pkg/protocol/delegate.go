// Package protocol defines the contracts between the engine and pluggable delegates.
package protocol

import (
	"context"
	"log/slog"
)

// DelegateExecution is the view of an execution a delegate works with.
type DelegateExecution interface {
	ID() string
	ProcessInstanceID() string
	ActivityID() string
	TenantID() string
	Variable(name string) (any, bool)
	Variables() map[string]any
	SetVariable(name string, value any)
}

// Delegate is the code run by a service task. The returned value is stored in the task's
// result variable when one is declared.
type Delegate interface {
	Execute(ctx context.Context, execution DelegateExecution, logger *slog.Logger) (any, error)
}

// DelegateFactory creates delegate instances and provides metadata about the delegate type.
type DelegateFactory interface {
	// Create creates a new delegate with the given, already resolved, configuration
	Create(config map[string]any) (Delegate, error)

	// ID returns the unique identifier referenced by service tasks
	ID() string

	Name() string

	Description() string

	// Schema returns the JSON schema of the delegate configuration
	Schema() map[string]any
}
