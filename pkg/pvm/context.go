package pvm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dukex/bpmnvm/pkg/models"
)

// Evaluator evaluates an expression against a set of variables.
type Evaluator interface {
	Evaluate(expression string, variables map[string]any) (any, error)
}

// DefinitionLookup resolves process definitions for call activities.
type DefinitionLookup interface {
	LatestByKey(tenantID, key string) (*ProcessDefinition, error)
}

// JobOperation is a buffered change to the job table, applied after the command succeeds.
type JobOperation struct {
	Insert *models.Job
	// DeleteExecutionID removes every job of an execution.
	DeleteExecutionID string
}

// HistoryEvent records something that happened during a command.
type HistoryEvent struct {
	Type              string
	ProcessInstanceID string
	ExecutionID       string
	ActivityID        string
	DefinitionID      string
	TenantID          string
	Time              time.Time
	Data              map[string]any
}

// History event types.
const (
	HistoryProcessStarted   = "process-started"
	HistoryProcessCompleted = "process-completed"
	HistoryActivityStarted  = "activity-started"
	HistoryActivityEnded    = "activity-ended"
)

// CommandConfig carries the collaborators of one command.
type CommandConfig struct {
	TenantID    string
	Logger      *slog.Logger
	Clock       clockwork.Clock
	Tree        *Tree
	Evaluator   Evaluator
	Definitions DefinitionLookup
	JobRetries  int
	// Listeners are notified for every event of the given name, after the graph listeners.
	Listeners map[string][]ExecutionListener
}

// CommandContext is the explicit context of one logical command against one execution tree.
// It buffers job changes and history events until the caller commits them.
type CommandContext struct {
	ctx    context.Context
	config CommandConfig

	jobOperations []JobOperation
	history       []HistoryEvent
}

func NewCommandContext(ctx context.Context, config CommandConfig) *CommandContext {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	if config.Tree == nil {
		config.Tree = NewTree()
	}

	if config.JobRetries <= 0 {
		config.JobRetries = models.DefaultJobRetries
	}

	return &CommandContext{
		ctx:    ctx,
		config: config,
	}
}

func (cc *CommandContext) Context() context.Context {
	return cc.ctx
}

func (cc *CommandContext) TenantID() string {
	return cc.config.TenantID
}

func (cc *CommandContext) Logger() *slog.Logger {
	return cc.config.Logger
}

func (cc *CommandContext) Tree() *Tree {
	return cc.config.Tree
}

func (cc *CommandContext) Now() time.Time {
	return cc.config.Clock.Now()
}

func (cc *CommandContext) Definitions() DefinitionLookup {
	return cc.config.Definitions
}

func (cc *CommandContext) globalListeners(event string) []ExecutionListener {
	return cc.config.Listeners[event]
}

// Evaluate evaluates expression against the variables visible from execution.
func (cc *CommandContext) Evaluate(expression string, execution *Execution) (any, error) {
	if cc.config.Evaluator == nil {
		return nil, fmt.Errorf("no evaluator configured to evaluate %q", expression)
	}

	return cc.config.Evaluator.Evaluate(expression, execution.Variables())
}

// EvaluateCondition evaluates a transition condition. Empty conditions are true.
func (cc *CommandContext) EvaluateCondition(expression string, execution *Execution) (bool, error) {
	if expression == "" {
		return true, nil
	}

	value, err := cc.Evaluate(expression, execution)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition %q: %w", expression, err)
	}

	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		return v == "true", nil
	default:
		return false, fmt.Errorf("condition %q evaluated to non boolean %v", expression, value)
	}
}

// NewJob creates a job bound to execution and buffers its insertion.
func (cc *CommandContext) NewJob(execution *Execution, jobType models.JobType, handlerType, configuration string, dueDate *time.Time) *models.Job {
	job := models.NewJob(jobType, handlerType, execution.ID(), execution.ProcessInstanceID(), cc.Now())
	job.HandlerConfiguration = configuration
	job.DueDate = dueDate
	job.TenantID = execution.TenantID()
	job.Retries = cc.config.JobRetries

	if definition := execution.ProcessDefinition(); definition != nil {
		job.ProcessDefinitionID = definition.ID
	}

	cc.ScheduleJob(job)

	return job
}

// ScheduleJob buffers a job insertion.
func (cc *CommandContext) ScheduleJob(job *models.Job) {
	cc.jobOperations = append(cc.jobOperations, JobOperation{Insert: job})
}

// DeleteJobsOf buffers the removal of every job of an execution.
func (cc *CommandContext) DeleteJobsOf(executionID string) {
	for i := range cc.jobOperations {
		job := cc.jobOperations[i].Insert
		if job != nil && job.ExecutionID == executionID {
			cc.jobOperations[i].Insert = nil
		}
	}

	cc.jobOperations = append(cc.jobOperations, JobOperation{DeleteExecutionID: executionID})
}

// JobOperations returns the buffered job changes in the order they were requested.
func (cc *CommandContext) JobOperations() []JobOperation {
	operations := make([]JobOperation, 0, len(cc.jobOperations))

	for _, operation := range cc.jobOperations {
		if operation.Insert == nil && operation.DeleteExecutionID == "" {
			continue
		}

		operations = append(operations, operation)
	}

	return operations
}

// Record buffers a history event for execution.
func (cc *CommandContext) Record(eventType string, execution *Execution, data map[string]any) {
	event := HistoryEvent{
		Type:              eventType,
		ProcessInstanceID: execution.ProcessInstanceID(),
		ExecutionID:       execution.ID(),
		TenantID:          execution.TenantID(),
		Time:              cc.Now(),
		Data:              data,
	}

	if activity := execution.Activity(); activity != nil {
		event.ActivityID = activity.ID
	}

	if definition := execution.ProcessDefinition(); definition != nil {
		event.DefinitionID = definition.ID
	}

	cc.history = append(cc.history, event)
}

// History returns the buffered history events.
func (cc *CommandContext) History() []HistoryEvent {
	return cc.history
}
