package streams

// Run event types. They match the orchestrator's event names.
const (
	EventRunStateChanged = "run.state_changed"
	EventRunIteration    = "run.iteration_completed"
)

// DefaultStream is the stream run events are published to unless configured otherwise.
const DefaultStream = "rmri.run.events"

// Definition is one payload schema.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

var runEventDefinitions = []Definition{
	{
		EventType: EventRunStateChanged,
		Version:   DefaultVersion,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "run_id", "status", "iteration", "at"],
  "properties": {
    "type": {"const": "run.state_changed"},
    "run_id": {"type": "string", "minLength": 1},
    "status": {"enum": ["initializing", "planning", "executing", "synthesizing", "completed", "failed", "cancelled"]},
    "iteration": {"type": "integer", "minimum": 0},
    "message": {"type": "string"},
    "at": {"type": "string", "format": "date-time"}
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: EventRunIteration,
		Version:   DefaultVersion,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "run_id", "status", "iteration", "reason", "at"],
  "properties": {
    "type": {"const": "run.iteration_completed"},
    "run_id": {"type": "string", "minLength": 1},
    "status": {"type": "string"},
    "iteration": {"type": "integer", "minimum": 1},
    "similarity": {"type": "number", "minimum": 0, "maximum": 1},
    "reason": {"enum": ["first_iteration", "similarity_threshold_met", "max_iterations_reached", "similarity_below_threshold"]},
    "at": {"type": "string", "format": "date-time"}
  },
  "additionalProperties": true
}`),
	},
}
