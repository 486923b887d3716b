// Package engine runs process instances on the virtual machine. Every command works on a copy of
// the execution tree of one process instance and is committed only when it succeeds; the job
// changes it produced are then written to the job store and its history published.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/dukex/bpmnvm/pkg/definition"
	"github.com/dukex/bpmnvm/pkg/eventbus"
	"github.com/dukex/bpmnvm/pkg/expression"
	"github.com/dukex/bpmnvm/pkg/otelhelper"
	"github.com/dukex/bpmnvm/pkg/persistence"
	"github.com/dukex/bpmnvm/pkg/pvm"
	"github.com/dukex/bpmnvm/pkg/tenant"
)

var (
	ErrProcessInstanceNotFound  = errors.New("process instance not found")
	ErrProcessInstanceSuspended = errors.New("process instance is suspended")
	ErrMessageNotCorrelated     = errors.New("no subscription correlates the message")
	ErrNoCompiler               = errors.New("engine has no definition compiler")
)

// JobHinter is told when new jobs of a tenant were written. The async executor implements it.
type JobHinter interface {
	HintJobs(tenantID string)
}

type Option func(*Engine)

func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithEvaluator(evaluator pvm.Evaluator) Option {
	return func(e *Engine) { e.evaluator = evaluator }
}

// WithEventBus publishes history events on bus.
func WithEventBus(bus eventbus.EventPublisher) Option {
	return func(e *Engine) { e.bus = bus }
}

func WithCompiler(compiler *definition.Compiler) Option {
	return func(e *Engine) { e.compiler = compiler }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithJobRetries sets the attempts given to the jobs created by commands.
func WithJobRetries(retries int) Option {
	return func(e *Engine) { e.jobRetries = retries }
}

// WithListener registers listener for event on every execution of every process.
func WithListener(event string, listener pvm.ExecutionListener) Option {
	return func(e *Engine) { e.listeners[event] = append(e.listeners[event], listener) }
}

// instanceTree is the execution tree of one process instance together with the instances it
// called. Commands on it are serialized by mu.
type instanceTree struct {
	mu        sync.Mutex
	rootID    string
	tenantID  string
	tree      *pvm.Tree
	suspended bool
	// removed is set once the root instance ended; holders of a stale pointer must not use it.
	removed bool
	seq     int64
}

type Engine struct {
	logger      *slog.Logger
	clock       clockwork.Clock
	store       persistence.JobStore
	definitions *definition.Repository
	compiler    *definition.Compiler
	evaluator   pvm.Evaluator
	bus         eventbus.EventPublisher
	tracer      trace.Tracer
	jobRetries  int
	listeners   map[string][]pvm.ExecutionListener

	mu     sync.RWMutex
	hinter JobHinter
	trees  map[string]*instanceTree
	// index maps every live execution id, process instances included, to its tree.
	index     map[string]*instanceTree
	completed map[string]*ProcessInstance
	seq       int64
}

func New(logger *slog.Logger, store persistence.JobStore, definitions *definition.Repository, options ...Option) *Engine {
	e := &Engine{
		logger:      logger.With("module", "engine"),
		clock:       clockwork.NewRealClock(),
		store:       store,
		definitions: definitions,
		tracer:      noop.NewTracerProvider().Tracer("bpmnvm-engine"),
		listeners:   make(map[string][]pvm.ExecutionListener),
		trees:       make(map[string]*instanceTree),
		index:       make(map[string]*instanceTree),
		completed:   make(map[string]*ProcessInstance),
	}

	for _, option := range options {
		option(e)
	}

	if e.evaluator == nil {
		e.evaluator = expression.NewEvaluator(logger, e.clock)
	}

	return e
}

// SetJobHinter installs the executor woken up when commands create jobs.
func (e *Engine) SetJobHinter(hinter JobHinter) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.hinter = hinter
}

func (e *Engine) Definitions() *definition.Repository {
	return e.definitions
}

// Deploy registers definition as the next version of its key for tenantID.
func (e *Engine) Deploy(tenantID string, processDefinition *pvm.ProcessDefinition) *pvm.ProcessDefinition {
	deployed := e.definitions.Deploy(tenantID, processDefinition)

	e.logger.Info("Process definition deployed",
		"tenant_id", tenantID,
		"definition_id", deployed.ID,
		"version", deployed.Version)

	return deployed
}

// DeployDocument compiles a JSON graph document and deploys it.
func (e *Engine) DeployDocument(tenantID string, data []byte) (*pvm.ProcessDefinition, error) {
	if e.compiler == nil {
		return nil, ErrNoCompiler
	}

	compiled, err := e.compiler.Compile(data)
	if err != nil {
		return nil, fmt.Errorf("failed to compile process document: %w", err)
	}

	return e.Deploy(tenantID, compiled), nil
}

// acquire returns the tree owning id, locked. The caller unlocks it.
func (e *Engine) acquire(id string) (*instanceTree, error) {
	e.mu.RLock()
	it, ok := e.index[id]
	e.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProcessInstanceNotFound, id)
	}

	it.mu.Lock()

	if it.removed {
		it.mu.Unlock()

		return nil, fmt.Errorf("%w: %s", ErrProcessInstanceNotFound, id)
	}

	return it, nil
}

// tenantTrees returns the trees of tenantID in the order their instances were started.
func (e *Engine) tenantTrees(tenantID string) []*instanceTree {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var trees []*instanceTree

	for _, it := range e.trees {
		if it.tenantID == tenantID {
			trees = append(trees, it)
		}
	}

	sort.Slice(trees, func(i, j int) bool {
		return trees[i].seq < trees[j].seq
	})

	return trees
}

// execute runs fn as one command against a copy of the tree of it, which the caller holds
// locked. The copy replaces the tree only when fn and the job flush succeed.
func (e *Engine) execute(ctx context.Context, it *instanceTree, name string, fn func(cc *pvm.CommandContext) error) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine."+name,
		attribute.String(otelhelper.TenantIDKey, it.tenantID),
		attribute.String(otelhelper.ProcessInstanceIDKey, it.rootID),
	)
	defer span.End()

	ctx = tenant.WithID(ctx, it.tenantID)
	ended := make(map[string]*ProcessInstance)

	cc := pvm.NewCommandContext(ctx, pvm.CommandConfig{
		TenantID:    it.tenantID,
		Logger:      e.logger,
		Clock:       e.clock,
		Tree:        it.tree.Clone(),
		Evaluator:   e.evaluator,
		Definitions: e.definitions,
		JobRetries:  e.jobRetries,
		Listeners:   e.commandListeners(ended),
	})

	err := fn(cc)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	operations := cc.JobOperations()

	err = e.flushJobs(ctx, operations)
	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	e.commit(it, cc.Tree(), ended)
	e.publishHistory(ctx, cc.Tree(), cc.History(), ended)
	e.hintJobs(operations)

	return nil
}

// commandListeners adds to the configured listeners one capturing the state of process
// instances as they end, before they leave the tree.
func (e *Engine) commandListeners(ended map[string]*ProcessInstance) map[string][]pvm.ExecutionListener {
	listeners := maps.Clone(e.listeners)

	capture := pvm.ListenerFunc(func(_ *pvm.CommandContext, execution *pvm.Execution) error {
		if execution.IsProcessInstance() && execution.EventSource() == execution.ProcessDefinition().ID {
			snapshot := snapshotOf(execution.Tree(), execution)
			snapshot.Ended = true
			snapshot.Executions = nil
			ended[execution.ID()] = snapshot
		}

		return nil
	})

	listeners[pvm.EventEnd] = append(append([]pvm.ExecutionListener(nil), listeners[pvm.EventEnd]...), capture)

	return listeners
}

func (e *Engine) flushJobs(ctx context.Context, operations []pvm.JobOperation) error {
	for _, operation := range operations {
		if operation.Insert != nil {
			err := e.store.InsertJob(ctx, operation.Insert)
			if err != nil {
				return fmt.Errorf("failed to insert job %s: %w", operation.Insert.ID, err)
			}

			continue
		}

		err := e.store.DeleteJobsByExecution(ctx, operation.DeleteExecutionID)
		if err != nil {
			return fmt.Errorf("failed to delete jobs of execution %s: %w", operation.DeleteExecutionID, err)
		}
	}

	return nil
}

func (e *Engine) commit(it *instanceTree, tree *pvm.Tree, ended map[string]*ProcessInstance) {
	previous := it.tree
	it.tree = tree

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, execution := range previous.Executions() {
		if tree.Get(execution.ID()) == nil {
			delete(e.index, execution.ID())
		}
	}

	for id, snapshot := range ended {
		e.completed[id] = snapshot
	}

	if tree.Get(it.rootID) == nil {
		it.removed = true
		delete(e.trees, it.rootID)

		for _, execution := range tree.Executions() {
			delete(e.index, execution.ID())
		}

		return
	}

	for _, execution := range tree.Executions() {
		e.index[execution.ID()] = it
	}

	if _, ok := e.trees[it.rootID]; !ok {
		e.seq++
		it.seq = e.seq
		e.trees[it.rootID] = it
	}
}

func (e *Engine) hint(tenantID string) {
	e.mu.RLock()
	hinter := e.hinter
	e.mu.RUnlock()

	if hinter != nil {
		hinter.HintJobs(tenantID)
	}
}

func (e *Engine) hintJobs(operations []pvm.JobOperation) {
	hinted := make(map[string]bool)

	for _, operation := range operations {
		if operation.Insert == nil || hinted[operation.Insert.TenantID] {
			continue
		}

		hinted[operation.Insert.TenantID] = true
		e.hint(operation.Insert.TenantID)
	}
}
