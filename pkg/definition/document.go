// Package definition compiles process graph documents into executable process definitions.
package definition

import (
	"github.com/dukex/bpmnvm/pkg/bpmn/behavior"
	"github.com/dukex/bpmnvm/pkg/models"
)

// ActivityType is the type of an activity in a graph document.
type ActivityType string

const (
	TypeStartEvent             ActivityType = "startEvent"
	TypeEndEvent               ActivityType = "endEvent"
	TypeUserTask               ActivityType = "userTask"
	TypeServiceTask            ActivityType = "serviceTask"
	TypeExclusiveGateway       ActivityType = "exclusiveGateway"
	TypeParallelGateway        ActivityType = "parallelGateway"
	TypeSubProcess             ActivityType = "subProcess"
	TypeEventSubProcess        ActivityType = "eventSubProcess"
	TypeCallActivity           ActivityType = "callActivity"
	TypeBoundaryEvent          ActivityType = "boundaryEvent"
	TypeIntermediateCatchEvent ActivityType = "intermediateCatchEvent"
	TypeIntermediateThrowEvent ActivityType = "intermediateThrowEvent"
)

// Document is the JSON representation of a process graph.
type Document struct {
	Key        string      `json:"key"                 validate:"required"`
	Name       string      `json:"name,omitempty"`
	Version    int         `json:"version,omitempty"   validate:"gte=0"`
	TenantID   string      `json:"tenant_id,omitempty"`
	Activities []*Activity `json:"activities"          validate:"required,min=1,dive"`
	Flows      []*Flow     `json:"flows,omitempty"     validate:"dive"`
}

// Activity is a node of a graph document. Sub-processes nest their own activities and flows.
type Activity struct {
	ID                  string           `json:"id"                             validate:"required"`
	Name                string           `json:"name,omitempty"`
	Type                ActivityType     `json:"type"                           validate:"required,oneof=startEvent endEvent userTask serviceTask exclusiveGateway parallelGateway subProcess eventSubProcess callActivity boundaryEvent intermediateCatchEvent intermediateThrowEvent"`
	Async               bool             `json:"async,omitempty"`
	Event               *EventDefinition `json:"event,omitempty"`
	AttachedTo          string           `json:"attached_to,omitempty"          validate:"required_if=Type boundaryEvent"`
	Interrupting        *bool            `json:"interrupting,omitempty"`
	CompensationHandler string           `json:"compensation_handler,omitempty"`
	ForCompensation     bool             `json:"for_compensation,omitempty"`
	DefaultFlow         string           `json:"default_flow,omitempty"`

	Delegate       string         `json:"delegate,omitempty"        validate:"required_if=Type serviceTask"`
	Config         map[string]any `json:"config,omitempty"`
	ResultVariable string         `json:"result_variable,omitempty"`

	CalledElement string             `json:"called_element,omitempty" validate:"required_if=Type callActivity"`
	Inputs        []behavior.Mapping `json:"inputs,omitempty"         validate:"dive"`
	Outputs       []behavior.Mapping `json:"outputs,omitempty"        validate:"dive"`

	Activities []*Activity `json:"activities,omitempty" validate:"dive"`
	Flows      []*Flow     `json:"flows,omitempty"      validate:"dive"`
}

// EventDefinition qualifies start, end, boundary and intermediate events.
type EventDefinition struct {
	Type      string           `json:"type"                 validate:"required,oneof=error timer message signal compensate"`
	ErrorCode string           `json:"error_code,omitempty"`
	Name      string           `json:"name,omitempty"       validate:"required_if=Type message,required_if=Type signal"`
	Timer     *TimerDefinition `json:"timer,omitempty"      validate:"required_if=Type timer"`
	// ActivityRef restricts a compensation throw event to one activity.
	ActivityRef string `json:"activity_ref,omitempty"`
	Async       bool   `json:"async,omitempty"`
}

type TimerDefinition struct {
	Type       models.TimerType `json:"type"       validate:"required,oneof=date duration cycle"`
	Expression string           `json:"expression" validate:"required"`
}

// Flow is a sequence flow between two activities of the same document.
type Flow struct {
	ID        string `json:"id"                  validate:"required"`
	Source    string `json:"source"              validate:"required"`
	Target    string `json:"target"              validate:"required"`
	Condition string `json:"condition,omitempty"`
}
