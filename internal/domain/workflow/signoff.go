package workflow

import (
	"fmt"

	"github.com/garyjia/kiuva-approval/internal/domain/entity"
)

// signOffChain is the fixed three-stage chain. A signed role is never
// replaced; only a reset clears it.
var signOffChain StateMachineBuilder

func init() {
	signOffChain = newSignOffBuilder()
}

func newSignOffBuilder() StateMachineBuilder {
	b := NewBuilder()

	b.Configure(StateNotStarted).
		Permit(TriggerSignExecution, StateStage1Signed).
		Permit(TriggerReset, StateNotStarted)

	b.Configure(StateStage1Signed).
		Permit(TriggerSignVerification, StateStage2Signed).
		Permit(TriggerReset, StateNotStarted)

	b.Configure(StateStage2Signed).
		Permit(TriggerSignApproval, StateComplete).
		Permit(TriggerReset, StateNotStarted)

	b.Configure(StateComplete).
		Permit(TriggerReset, StateNotStarted)

	return b
}

// NewSignOffMachine returns a sign-off state machine positioned at state
func NewSignOffMachine(state State) StateMachine {
	return signOffChain.Build(state)
}

// StateOf derives the chain state of a record
func StateOf(record *entity.ApprovalRecord) State {
	switch record.NextRequiredRole() {
	case entity.RoleExecution:
		return StateNotStarted
	case entity.RoleVerification:
		return StateStage1Signed
	case entity.RoleApproval:
		return StateStage2Signed
	default:
		return StateComplete
	}
}

// TransitionReason explains why a sign attempt was rejected
type TransitionReason string

const (
	ReasonOutOfOrder    TransitionReason = "out_of_order"
	ReasonAlreadySigned TransitionReason = "already_signed"
	ReasonComplete      TransitionReason = "complete"
)

// TransitionError is returned when signing role would break the stage order
type TransitionError struct {
	Role     entity.Role
	From     State
	Reason   TransitionReason
	Missing  entity.Role // set for ReasonOutOfOrder
	SignedBy string      // set for ReasonAlreadySigned
}

func (e *TransitionError) Error() string {
	switch e.Reason {
	case ReasonOutOfOrder:
		return fmt.Sprintf("cannot sign stage %d (%s) before stage %d (%s)",
			e.Role.Stage(), e.Role, e.Missing.Stage(), e.Missing)
	case ReasonAlreadySigned:
		return fmt.Sprintf("stage %d (%s) is already signed by %s; reset to restart",
			e.Role.Stage(), e.Role, e.SignedBy)
	default:
		return fmt.Sprintf("cannot sign %s: approval already complete; reset to restart", e.Role)
	}
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// SignerConflictError is returned when the signer already holds another role
type SignerConflictError struct {
	SignerID string
	Role     entity.Role
	HeldRole entity.Role
}

func (e *SignerConflictError) Error() string {
	return fmt.Sprintf("signer %s already signed %s and cannot also sign %s", e.SignerID, e.HeldRole, e.Role)
}

func (e *SignerConflictError) Unwrap() error {
	return ErrSignerConflict
}

// ApplySignature validates signing role against record and returns the
// candidate record. The input record is never modified.
func ApplySignature(record *entity.ApprovalRecord, role entity.Role, sig entity.Signature) (*entity.ApprovalRecord, State, error) {
	trigger, ok := SignTrigger(role)
	if !ok {
		return nil, "", fmt.Errorf("%w: %d", ErrUnknownRole, uint8(role))
	}

	from := StateOf(record)
	machine := NewSignOffMachine(from)
	fireErr := machine.Fire(trigger)
	if fireErr != nil && from != StateComplete && !record.IsSigned(role) {
		return nil, from, rejectTransition(record, role, from)
	}

	// A signer holding another role conflicts even when role is already signed.
	if held, conflict := record.RoleOf(sig.SignerID, role); conflict {
		return nil, from, &SignerConflictError{SignerID: sig.SignerID, Role: role, HeldRole: held}
	}

	if fireErr != nil {
		return nil, from, rejectTransition(record, role, from)
	}

	next := record.Clone()
	next.Signatures[role] = sig
	return next, machine.State(), nil
}

func rejectTransition(record *entity.ApprovalRecord, role entity.Role, from State) error {
	e := &TransitionError{Role: role, From: from}
	switch {
	case from == StateComplete:
		e.Reason = ReasonComplete
	case record.IsSigned(role):
		sig, _ := record.Signature(role)
		e.Reason = ReasonAlreadySigned
		e.SignedBy = sig.SignerID
	default:
		e.Reason = ReasonOutOfOrder
		e.Missing = role.Previous()
	}
	return e
}
