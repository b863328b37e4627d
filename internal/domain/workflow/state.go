package workflow

// State is the position of a subject's approval record in the sign-off chain
type State string

const (
	StateNotStarted   State = "NOT_STARTED"
	StateStage1Signed State = "STAGE1_SIGNED"
	StateStage2Signed State = "STAGE2_SIGNED"
	StateComplete     State = "COMPLETE"
)

// IsTerminal returns true if no role-signing transition leaves the state
func (s State) IsTerminal() bool {
	return s == StateComplete
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid sign-off state
func (s State) IsValid() bool {
	switch s {
	case StateNotStarted, StateStage1Signed, StateStage2Signed, StateComplete:
		return true
	default:
		return false
	}
}
