package pvm

import (
	"sort"

	"github.com/google/uuid"
)

// Tree is the arena holding every execution of a process instance, of the process instances
// it called and of their event subscriptions. Executions reference each other by id only.
type Tree struct {
	executions    map[string]*Execution
	subscriptions map[string]*EventSubscription
	// replaced maps the id of an execution that handed its place in the tree to another one.
	replaced map[string]string
	seq      int64
	newID    func() string
}

func NewTree() *Tree {
	return &Tree{
		executions:    make(map[string]*Execution),
		subscriptions: make(map[string]*EventSubscription),
		replaced:      make(map[string]string),
		newID:         uuid.NewString,
	}
}

// NewProcessInstance creates the root execution of a new process instance of definition.
func (t *Tree) NewProcessInstance(definition *ProcessDefinition, businessKey, tenantID string) *Execution {
	instance := t.newExecution(definition)
	instance.processInstanceID = instance.id
	instance.scope = true
	instance.businessKey = businessKey
	instance.tenantID = tenantID

	return instance
}

func (t *Tree) newExecution(definition *ProcessDefinition) *Execution {
	t.seq++

	execution := &Execution{
		tree:       t,
		id:         t.newID(),
		seq:        t.seq,
		definition: definition,
		active:     true,
		state:      StateCreated,
		variables:  make(map[string]any),
	}

	t.executions[execution.id] = execution

	return execution
}

// Get returns the execution with id, or nil when it does not exist anymore.
func (t *Tree) Get(id string) *Execution {
	return t.executions[id]
}

// Resolve returns the execution with id, following replacements of executions that
// handed over their activity during forks and joins.
func (t *Tree) Resolve(id string) *Execution {
	for range len(t.replaced) {
		next, ok := t.replaced[id]
		if !ok {
			break
		}

		id = next
	}

	return t.executions[id]
}

func (t *Tree) replace(oldID, newID string) {
	t.replaced[oldID] = newID
	delete(t.replaced, newID)
}

// Executions returns every live execution in creation order.
func (t *Tree) Executions() []*Execution {
	executions := make([]*Execution, 0, len(t.executions))
	for _, execution := range t.executions {
		executions = append(executions, execution)
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].seq < executions[j].seq
	})

	return executions
}

// ProcessInstances returns the live root executions in creation order.
func (t *Tree) ProcessInstances() []*Execution {
	var instances []*Execution

	for _, execution := range t.Executions() {
		if execution.IsProcessInstance() {
			instances = append(instances, execution)
		}
	}

	return instances
}

func (t *Tree) Len() int {
	return len(t.executions)
}

// Clone returns an independent copy of the tree. Commands run against a clone so a failed
// command leaves the original untouched.
func (t *Tree) Clone() *Tree {
	clone := &Tree{
		executions:    make(map[string]*Execution, len(t.executions)),
		subscriptions: make(map[string]*EventSubscription, len(t.subscriptions)),
		replaced:      make(map[string]string, len(t.replaced)),
		seq:           t.seq,
		newID:         t.newID,
	}

	for id, execution := range t.executions {
		copied := *execution
		copied.tree = clone
		copied.fsm = nil
		copied.childIDs = append([]string(nil), execution.childIDs...)
		copied.variables = DeepCopyMap(execution.variables)
		clone.executions[id] = &copied
	}

	for id, subscription := range t.subscriptions {
		copied := *subscription
		clone.subscriptions[id] = &copied
	}

	for from, to := range t.replaced {
		clone.replaced[from] = to
	}

	return clone
}
