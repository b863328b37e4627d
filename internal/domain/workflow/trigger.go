package workflow

import "github.com/garyjia/kiuva-approval/internal/domain/entity"

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerSignExecution    Trigger = "SIGN_EXECUTION"
	TriggerSignVerification Trigger = "SIGN_VERIFICATION"
	TriggerSignApproval     Trigger = "SIGN_APPROVAL"
	TriggerReset            Trigger = "RESET"
)

var signTriggers = map[entity.Role]Trigger{
	entity.RoleExecution:    TriggerSignExecution,
	entity.RoleVerification: TriggerSignVerification,
	entity.RoleApproval:     TriggerSignApproval,
}

// SignTrigger returns the trigger fired by signing role
func SignTrigger(role entity.Role) (Trigger, bool) {
	t, ok := signTriggers[role]
	return t, ok
}

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
