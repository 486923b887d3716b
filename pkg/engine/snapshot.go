package engine

import (
	"context"
	"fmt"

	"github.com/dukex/bpmnvm/pkg/pvm"
)

// ExecutionSnapshot is a read-only copy of one execution of a process instance.
type ExecutionSnapshot struct {
	ID         string         `json:"id"`
	ParentID   string         `json:"parent_id,omitempty"`
	ActivityID string         `json:"activity_id,omitempty"`
	State      pvm.State      `json:"state"`
	Active     bool           `json:"active"`
	Concurrent bool           `json:"concurrent"`
	Scope      bool           `json:"scope"`
	EventScope bool           `json:"event_scope"`
	Variables  map[string]any `json:"variables,omitempty"`
}

// ProcessInstance is a read-only copy of a process instance, taken after the last command
// committed on it. Ended instances keep their final variables and no executions.
type ProcessInstance struct {
	ID               string              `json:"id"`
	DefinitionID     string              `json:"definition_id"`
	DefinitionKey    string              `json:"definition_key"`
	TenantID         string              `json:"tenant_id,omitempty"`
	BusinessKey      string              `json:"business_key,omitempty"`
	SuperExecutionID string              `json:"super_execution_id,omitempty"`
	Ended            bool                `json:"ended"`
	Suspended        bool                `json:"suspended"`
	Variables        map[string]any      `json:"variables,omitempty"`
	Executions       []ExecutionSnapshot `json:"executions,omitempty"`
}

// ActiveActivityIDs returns the activities active executions of the instance are in.
func (p *ProcessInstance) ActiveActivityIDs() []string {
	var ids []string

	for _, execution := range p.Executions {
		if execution.Active && execution.ActivityID != "" {
			ids = append(ids, execution.ActivityID)
		}
	}

	return ids
}

// ExecutionsAt returns the executions of the instance currently at activityID.
func (p *ProcessInstance) ExecutionsAt(activityID string) []ExecutionSnapshot {
	var executions []ExecutionSnapshot

	for _, execution := range p.Executions {
		if execution.ActivityID == activityID {
			executions = append(executions, execution)
		}
	}

	return executions
}

// ProcessInstance returns a snapshot of the live or ended process instance with id.
func (e *Engine) ProcessInstance(_ context.Context, id string) (*ProcessInstance, error) {
	e.mu.RLock()
	it, live := e.index[id]
	completed, ended := e.completed[id]
	e.mu.RUnlock()

	if live {
		it.mu.Lock()
		defer it.mu.Unlock()

		if !it.removed && it.tree.Get(id) != nil {
			return e.snapshotLocked(it, id)
		}

		e.mu.RLock()
		completed, ended = e.completed[id]
		e.mu.RUnlock()
	}

	if ended {
		return completed, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrProcessInstanceNotFound, id)
}

// ProcessInstances returns snapshots of the live process instances of tenantID in the order
// they were started. Instances created by call activities are included.
func (e *Engine) ProcessInstances(tenantID string) []*ProcessInstance {
	var instances []*ProcessInstance

	for _, it := range e.tenantTrees(tenantID) {
		it.mu.Lock()

		if !it.removed {
			for _, instance := range it.tree.ProcessInstances() {
				snapshot := snapshotOf(it.tree, instance)
				snapshot.Suspended = it.suspended
				instances = append(instances, snapshot)
			}
		}

		it.mu.Unlock()
	}

	return instances
}

// snapshotLocked snapshots the instance id of it, which the caller holds locked. Instances that
// already ended are served from the completed snapshots.
func (e *Engine) snapshotLocked(it *instanceTree, id string) (*ProcessInstance, error) {
	if !it.removed {
		if instance := it.tree.Get(id); instance != nil {
			snapshot := snapshotOf(it.tree, instance)
			snapshot.Suspended = it.suspended

			return snapshot, nil
		}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if completed, ok := e.completed[id]; ok {
		return completed, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrProcessInstanceNotFound, id)
}

func snapshotOf(tree *pvm.Tree, instance *pvm.Execution) *ProcessInstance {
	snapshot := &ProcessInstance{
		ID:          instance.ID(),
		TenantID:    instance.TenantID(),
		BusinessKey: instance.BusinessKey(),
		Variables:   pvm.DeepCopyMap(instance.VariablesLocal()),
	}

	if definition := instance.ProcessDefinition(); definition != nil {
		snapshot.DefinitionID = definition.ID
		snapshot.DefinitionKey = definition.Key
	}

	if super := instance.SuperExecution(); super != nil {
		snapshot.SuperExecutionID = super.ID()
	}

	for _, execution := range tree.Executions() {
		if execution.ProcessInstanceID() != instance.ID() {
			continue
		}

		snapshot.Executions = append(snapshot.Executions, ExecutionSnapshot{
			ID:         execution.ID(),
			ParentID:   execution.ParentID(),
			ActivityID: execution.ActivityID(),
			State:      execution.State(),
			Active:     execution.IsActive(),
			Concurrent: execution.IsConcurrent(),
			Scope:      execution.IsScope(),
			EventScope: execution.IsEventScope(),
			Variables:  pvm.DeepCopyMap(execution.VariablesLocal()),
		})
	}

	return snapshot
}
