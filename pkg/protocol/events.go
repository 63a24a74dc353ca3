// Package protocol defines the wire envelope and event/payload shapes
// exchanged between a client and the workflow engine over the event bus.
package protocol

// ProtocolVersion identifies the wire-format revision of this package.
const ProtocolVersion = 1

// Inbound event types (client -> engine).
const (
	// EventExecuteGoal submits a natural-language goal for a new workflow.
	EventExecuteGoal = "execute_goal"
)

// Outbound event types (engine -> client). One per §6 of the spec.
const (
	EventStatus           = "status"
	EventPlanGenerated    = "plan_generated"
	EventStepExecuting    = "step_executing"
	EventStepResult       = "step_result"
	EventErrorDetected    = "error_detected"
	EventRePlanning       = "re_planning"
	EventWorkflowComplete = "workflow_complete"
)

// Error categories. Prefixed onto error_detected.error as "[category] ...".
const (
	CategoryValidation = "validation"
	CategoryRateLimit  = "rate_limit"
	CategoryPlanner    = "planner"
	CategoryExecutor   = "executor"
	CategorySandbox    = "sandbox"
	CategoryCancelled  = "cancelled"
)

// Envelope is the JSON shape of every event exchanged over the bus:
// {"type": "...", "payload": {...}}.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// NewEnvelope builds an Envelope for the given type/payload pair.
func NewEnvelope(eventType string, payload any) Envelope {
	return Envelope{Type: eventType, Payload: payload}
}
