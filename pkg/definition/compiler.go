package definition

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"github.com/dukex/bpmnvm/pkg/bpmn/behavior"
	"github.com/dukex/bpmnvm/pkg/models"
	"github.com/dukex/bpmnvm/pkg/pvm"
)

var (
	ErrInvalidDocument = errors.New("invalid process document")
	ErrUnknownDelegate = errors.New("service task references an unregistered delegate")
	ErrUnsupported     = errors.New("unsupported activity")
)

// Delegates is the registry service tasks are bound to.
type Delegates interface {
	behavior.DelegateRegistry
	IsRegistered(delegateType string) bool
}

// Compiler turns graph documents into process definitions.
type Compiler struct {
	logger    *slog.Logger
	delegates Delegates
	resolver  behavior.Resolver
	validate  *validator.Validate
	schema    *gojsonschema.Schema
}

func NewCompiler(logger *slog.Logger, delegates Delegates, resolver behavior.Resolver) (*Compiler, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(Schema()))
	if err != nil {
		return nil, fmt.Errorf("failed to compile document schema: %w", err)
	}

	return &Compiler{
		logger:    logger.With("module", "definition_compiler"),
		delegates: delegates,
		resolver:  resolver,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		schema:    schema,
	}, nil
}

// Parse validates data against the document schema and decodes it.
func (c *Compiler) Parse(data []byte) (*Document, error) {
	result, err := c.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	if !result.Valid() {
		var messages []string
		for _, resultError := range result.Errors() {
			messages = append(messages, resultError.String())
		}

		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(messages, "; "))
	}

	var document Document

	err = json.Unmarshal(data, &document)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	return &document, nil
}

// Compile parses and compiles a JSON graph document.
func (c *Compiler) Compile(data []byte) (*pvm.ProcessDefinition, error) {
	document, err := c.Parse(data)
	if err != nil {
		return nil, err
	}

	return c.CompileDocument(document)
}

// CompileDocument builds the process definition of document.
func (c *Compiler) CompileDocument(document *Document) (*pvm.ProcessDefinition, error) {
	err := c.validate.Struct(document)
	if err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, validationErrors)
		}

		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	flows := make(map[string][]*Flow)
	collectFlows(document.Flows, document.Activities, flows)

	b := pvm.NewBuilder(document.Key).
		Name(document.Name).
		TenantID(document.TenantID)

	if document.Version > 0 {
		b.Version(document.Version)
	}

	declared := make(map[string]bool)

	err = c.addActivities(b, document.Activities, nil, flows, declared)
	if err != nil {
		return nil, err
	}

	for source := range flows {
		if !declared[source] {
			return nil, &pvm.DefinitionError{Op: "Compile", ActivityID: source, Err: fmt.Errorf("%w: source of sequence flow", pvm.ErrActivityNotFound)}
		}
	}

	definition, err := b.Build()
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Compiled process definition",
		"definition_id", definition.ID,
		"key", definition.Key,
		"tenant_id", definition.TenantID)

	return definition, nil
}

func collectFlows(flows []*Flow, activities []*Activity, bySource map[string][]*Flow) {
	for _, flow := range flows {
		bySource[flow.Source] = append(bySource[flow.Source], flow)
	}

	for _, activity := range activities {
		collectFlows(activity.Flows, activity.Activities, bySource)
	}
}

func (c *Compiler) addActivities(b *pvm.Builder, activities []*Activity, container *Activity, flows map[string][]*Flow, declared map[string]bool) error {
	for _, activity := range activities {
		declared[activity.ID] = true

		b.CreateActivity(activity.ID).Name(activity.Name)

		err := c.configure(b, activity, container)
		if err != nil {
			return err
		}

		for _, flow := range flows[activity.ID] {
			options := []pvm.TransitionOption{pvm.WithTransitionID(flow.ID)}
			if flow.Condition != "" {
				options = append(options, pvm.WithCondition(flow.Condition))
			}

			b.Transition(flow.Target, options...)
		}

		err = c.addActivities(b, activity.Activities, activity, flows, declared)
		if err != nil {
			return err
		}

		b.EndActivity()
	}

	return nil
}

func (c *Compiler) configure(b *pvm.Builder, activity *Activity, container *Activity) error {
	if activity.Async {
		b.Async()
	}

	if activity.DefaultFlow != "" {
		b.Property(pvm.PropertyDefaultFlow, activity.DefaultFlow)
	}

	if activity.CompensationHandler != "" {
		b.Property(pvm.PropertyCompensationHandler, activity.CompensationHandler)
	}

	if activity.ForCompensation {
		b.Property(pvm.PropertyIsForCompensation, true)
	}

	if activity.Interrupting != nil {
		b.Property(pvm.PropertyInterrupting, *activity.Interrupting)
	}

	err := c.configureEvent(b, activity)
	if err != nil {
		return err
	}

	switch activity.Type {
	case TypeStartEvent:
		if eventType(activity) == pvm.EventDefinitionTimer {
			return &pvm.DefinitionError{Op: "Compile", ActivityID: activity.ID, Err: fmt.Errorf("%w: timer start events", ErrUnsupported)}
		}

		b.Initial()

		if container != nil && container.Type == TypeEventSubProcess {
			b.Behavior(behavior.EventSubProcessStartEvent{})
		} else {
			b.Behavior(behavior.NoneStartEvent{})
		}
	case TypeEndEvent:
		if eventType(activity) == pvm.EventDefinitionError {
			b.Behavior(behavior.ErrorEndEvent{})
		} else {
			b.Behavior(behavior.NoneEndEvent{})
		}
	case TypeUserTask:
		b.Behavior(behavior.UserTask{})
	case TypeServiceTask:
		if !c.delegates.IsRegistered(activity.Delegate) {
			return &pvm.DefinitionError{Op: "Compile", ActivityID: activity.ID, Err: fmt.Errorf("%w: %s", ErrUnknownDelegate, activity.Delegate)}
		}

		b.Behavior(&behavior.ServiceTask{
			DelegateType:   activity.Delegate,
			Config:         activity.Config,
			ResultVariable: activity.ResultVariable,
			Registry:       c.delegates,
			Resolver:       c.resolver,
		})
	case TypeExclusiveGateway:
		b.Behavior(behavior.ExclusiveGateway{})
	case TypeParallelGateway:
		b.Behavior(behavior.ParallelGateway{})
	case TypeSubProcess:
		b.Behavior(behavior.SubProcess{})
	case TypeEventSubProcess:
		b.Property(pvm.PropertyTriggeredByEvent, true).Behavior(behavior.EventSubProcess{})
	case TypeCallActivity:
		b.Behavior(&behavior.CallActivity{
			CalledElement: activity.CalledElement,
			Inputs:        activity.Inputs,
			Outputs:       activity.Outputs,
		})
	case TypeBoundaryEvent:
		if activity.Event == nil {
			return &pvm.DefinitionError{Op: "Compile", ActivityID: activity.ID, Err: fmt.Errorf("%w: boundary event without event definition", ErrUnsupported)}
		}

		b.AttachedTo(activity.AttachedTo).Behavior(behavior.BoundaryEvent{})
	case TypeIntermediateCatchEvent:
		b.Behavior(behavior.IntermediateCatchEvent{})
	case TypeIntermediateThrowEvent:
		if eventType(activity) != pvm.EventDefinitionCompensate {
			return &pvm.DefinitionError{Op: "Compile", ActivityID: activity.ID, Err: fmt.Errorf("%w: only compensation throw events are supported", ErrUnsupported)}
		}

		b.Behavior(behavior.CompensationThrowEvent{})
	default:
		return &pvm.DefinitionError{Op: "Compile", ActivityID: activity.ID, Err: fmt.Errorf("%w: type %q", ErrUnsupported, activity.Type)}
	}

	return nil
}

func (c *Compiler) configureEvent(b *pvm.Builder, activity *Activity) error {
	event := activity.Event
	if event == nil {
		return nil
	}

	b.Property(pvm.PropertyEventDefinition, event.Type)

	if event.ErrorCode != "" {
		b.Property(pvm.PropertyErrorCode, event.ErrorCode)
	}

	if event.Name != "" {
		b.Property(pvm.PropertyEventName, event.Name)
	}

	if event.ActivityRef != "" {
		b.Property(pvm.PropertyActivityRef, event.ActivityRef)
	}

	if event.Async {
		b.Property(behavior.PropertyAsyncCompensation, true)
	}

	if event.Timer != nil {
		declaration := models.TimerDeclaration{
			ActivityID: activity.ID,
			Type:       event.Timer.Type,
			Expression: event.Timer.Expression,
		}

		_, err := declaration.DueDate(time.Now())
		if err != nil {
			return &pvm.DefinitionError{Op: "Compile", ActivityID: activity.ID, Err: err}
		}

		b.Timer(declaration)
	}

	return nil
}

func eventType(activity *Activity) string {
	if activity.Event == nil {
		return ""
	}

	return activity.Event.Type
}
