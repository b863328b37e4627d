package entity

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role is one of the three ordered sign-off stages of a subject
type Role uint8

const (
	RoleNone         Role = iota
	RoleExecution         // stage 1
	RoleVerification      // stage 2
	RoleApproval          // stage 3
)

// Roles lists every signable role in stage order
var Roles = [...]Role{RoleExecution, RoleVerification, RoleApproval}

var roleTokens = map[Role]string{
	RoleExecution:    "execution",
	RoleVerification: "verification",
	RoleApproval:     "approval",
}

// ParseRole converts a wire token into a Role
func ParseRole(token string) (Role, error) {
	normalized := strings.ToLower(strings.TrimSpace(token))
	for role, t := range roleTokens {
		if t == normalized {
			return role, nil
		}
	}
	return RoleNone, fmt.Errorf("unknown role %q", token)
}

// String returns the wire token of the role ("" for RoleNone)
func (r Role) String() string {
	return roleTokens[r]
}

// IsValid returns true for the three signable roles
func (r Role) IsValid() bool {
	_, ok := roleTokens[r]
	return ok
}

// Stage returns the 1-based position of the role in the chain
func (r Role) Stage() int {
	if !r.IsValid() {
		return 0
	}
	return int(r)
}

// Previous returns the role that must be signed before r, or RoleNone for stage 1
func (r Role) Previous() Role {
	if r <= RoleExecution || !r.IsValid() {
		return RoleNone
	}
	return r - 1
}

// MarshalText encodes the role as its wire token
func (r Role) MarshalText() ([]byte, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("cannot encode role %d", uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a wire token
func (r *Role) UnmarshalText(text []byte) error {
	role, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// Signature is a single sign-off. Never mutated after creation.
type Signature struct {
	SignerID  string    `json:"signer_id"`
	Timestamp time.Time `json:"timestamp"`
	Notes     string    `json:"notes,omitempty"`
}

// ApprovalRecord is the sign-off state attached 1:1 to a subject.
// The signer of a role is read from its signature, so the signer view and the
// signature view cannot disagree.
type ApprovalRecord struct {
	Signatures map[Role]Signature `json:"signatures"`
}

// NewApprovalRecord returns an empty record
func NewApprovalRecord() *ApprovalRecord {
	return &ApprovalRecord{Signatures: make(map[Role]Signature, len(Roles))}
}

// Signature returns the signature for role, if present
func (r *ApprovalRecord) Signature(role Role) (Signature, bool) {
	sig, ok := r.Signatures[role]
	return sig, ok
}

// IsSigned reports whether role has a signature
func (r *ApprovalRecord) IsSigned(role Role) bool {
	_, ok := r.Signatures[role]
	return ok
}

// Signers returns the role → signer view of the record
func (r *ApprovalRecord) Signers() map[Role]string {
	signers := make(map[Role]string, len(r.Signatures))
	for role, sig := range r.Signatures {
		signers[role] = sig.SignerID
	}
	return signers
}

// RoleOf returns the role held by signerID, ignoring the role in except
func (r *ApprovalRecord) RoleOf(signerID string, except Role) (Role, bool) {
	for _, role := range Roles {
		if role == except {
			continue
		}
		if sig, ok := r.Signatures[role]; ok && sig.SignerID == signerID {
			return role, true
		}
	}
	return RoleNone, false
}

// IsComplete reports whether all three roles are signed
func (r *ApprovalRecord) IsComplete() bool {
	return r.NextRequiredRole() == RoleNone
}

// NextRequiredRole returns the lowest-ordered unsigned role, or RoleNone if complete
func (r *ApprovalRecord) NextRequiredRole() Role {
	for _, role := range Roles {
		if !r.IsSigned(role) {
			return role
		}
	}
	return RoleNone
}

// LastSignedRole returns the highest-ordered signed role, or RoleNone if empty
func (r *ApprovalRecord) LastSignedRole() Role {
	last := RoleNone
	for _, role := range Roles {
		if r.IsSigned(role) {
			last = role
		}
	}
	return last
}

// Clone returns a deep copy
func (r *ApprovalRecord) Clone() *ApprovalRecord {
	out := NewApprovalRecord()
	for role, sig := range r.Signatures {
		out.Signatures[role] = sig
	}
	return out
}

// Validate checks the sequencing and distinct-signer invariants
func (r *ApprovalRecord) Validate() error {
	seen := make(map[string]Role, len(r.Signatures))
	for role, sig := range r.Signatures {
		if !role.IsValid() {
			return fmt.Errorf("%w: unknown role %d", ErrInvalidRecord, uint8(role))
		}
		if sig.SignerID == "" {
			return fmt.Errorf("%w: %s has an empty signer", ErrInvalidRecord, role)
		}
		if prev := role.Previous(); prev != RoleNone && !r.IsSigned(prev) {
			return fmt.Errorf("%w: %s signed without %s", ErrInvalidRecord, role, prev)
		}
		if other, dup := seen[sig.SignerID]; dup {
			return fmt.Errorf("%w: signer %s holds both %s and %s", ErrInvalidRecord, sig.SignerID, other, role)
		}
		seen[sig.SignerID] = role
	}
	return nil
}

// EncodeApprovalRecord serializes a record for storage
func EncodeApprovalRecord(r *ApprovalRecord) ([]byte, error) {
	if r == nil {
		r = NewApprovalRecord()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode approval record: %w", err)
	}
	return data, nil
}

// DecodeApprovalRecord parses a stored record. Empty input yields an empty record.
func DecodeApprovalRecord(data []byte) (*ApprovalRecord, error) {
	record := NewApprovalRecord()
	if len(data) == 0 {
		return record, nil
	}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, fmt.Errorf("failed to decode approval record: %w", err)
	}
	if record.Signatures == nil {
		record.Signatures = make(map[Role]Signature, len(Roles))
	}
	return record, nil
}
