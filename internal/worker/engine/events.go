package engine

import "encoding/json"

// Lifecycle event types emitted on the engine's WebSocket feed.
const (
	EventStatus         = "status"
	EventProgress       = "progress"
	EventExecuting      = "executing"
	EventExecuted       = "executed"
	EventExecutionError = "execution_error"
)

// Event is one frame from the lifecycle stream. Data stays raw until the
// frame type is known.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseEvent decodes a text frame. ok is false for frames that are not
// valid JSON event objects.
func ParseEvent(raw []byte) (Event, bool) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, false
	}
	return ev, true
}

// StatusData reports the engine's queue depth. Sent stream-wide, not
// scoped to one submission.
type StatusData struct {
	Status struct {
		ExecInfo struct {
			QueueRemaining any `json:"queue_remaining"`
		} `json:"exec_info"`
	} `json:"status"`
}

// ProgressData reports sampler progress inside one node.
type ProgressData struct {
	Node  string  `json:"node"`
	Value float64 `json:"value"`
	Max   float64 `json:"max"`
}

// ExecutingData announces the node the engine moved on to. A nil Node
// together with our execution id means the run is finished.
type ExecutingData struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

// ExecutedData announces that one node finished and produced outputs.
type ExecutedData struct {
	Node     string `json:"node"`
	PromptID string `json:"prompt_id"`
}

// ExecutionErrorData carries the engine's report of a node blowing up
// mid-run.
type ExecutionErrorData struct {
	PromptID         string `json:"prompt_id"`
	NodeID           any    `json:"node_id"`
	NodeType         string `json:"node_type"`
	ExceptionMessage string `json:"exception_message"`
}
