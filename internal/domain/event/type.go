package event

// Type identifies the type of domain event
type Type string

const (
	TypeSubjectCreated    Type = "subject.created"
	TypeApprovalSigned    Type = "approval.signed"
	TypeApprovalCompleted Type = "approval.completed"
	TypeApprovalReset     Type = "approval.reset"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeSubjectCreated,
		TypeApprovalSigned,
		TypeApprovalCompleted,
		TypeApprovalReset:
		return true
	default:
		return false
	}
}
