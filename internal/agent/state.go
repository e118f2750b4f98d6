package agent

// State is a phase of the answering state machine.
type State int

const (
	StateIdle State = iota
	StateReasoning
	StateToolInvoking
	StateResponding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReasoning:
		return "reasoning"
	case StateToolInvoking:
		return "tool_invoking"
	case StateResponding:
		return "responding"
	default:
		return "unknown"
	}
}

// Outcome describes how a turn ended.
type Outcome string

const (
	// OutcomeAnswered means the model produced a final answer.
	OutcomeAnswered Outcome = "answered"
	// OutcomeForced means the tool budget ran out and the answer was forced.
	OutcomeForced Outcome = "forced"
	// OutcomeTimeout means the turn budget expired.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeError means a dependency failed and the fallback answer was returned.
	OutcomeError Outcome = "error"
)
