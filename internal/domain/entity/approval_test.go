package entity

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sig(signer string) Signature {
	return Signature{SignerID: signer, Timestamp: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		token   string
		want    Role
		wantErr bool
	}{
		{"execution", RoleExecution, false},
		{"verification", RoleVerification, false},
		{"approval", RoleApproval, false},
		{" Approval ", RoleApproval, false},
		{"", RoleNone, true},
		{"stage4", RoleNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got, err := ParseRole(tt.token)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRole_Order(t *testing.T) {
	assert.Equal(t, []Role{RoleExecution, RoleVerification, RoleApproval}, Roles[:])
	assert.Equal(t, RoleNone, RoleExecution.Previous())
	assert.Equal(t, RoleExecution, RoleVerification.Previous())
	assert.Equal(t, RoleVerification, RoleApproval.Previous())
	assert.Equal(t, 3, RoleApproval.Stage())
	assert.Equal(t, 0, RoleNone.Stage())
	assert.False(t, RoleNone.IsValid())
}

func TestApprovalRecord_Derivations(t *testing.T) {
	rec := NewApprovalRecord()
	assert.False(t, rec.IsComplete())
	assert.Equal(t, RoleExecution, rec.NextRequiredRole())
	assert.Equal(t, RoleNone, rec.LastSignedRole())

	rec.Signatures[RoleExecution] = sig("alice")
	rec.Signatures[RoleVerification] = sig("bob")
	assert.Equal(t, RoleApproval, rec.NextRequiredRole())
	assert.Equal(t, RoleVerification, rec.LastSignedRole())

	rec.Signatures[RoleApproval] = sig("carol")
	assert.True(t, rec.IsComplete())
	assert.Equal(t, RoleNone, rec.NextRequiredRole())
	assert.Equal(t, map[Role]string{
		RoleExecution:    "alice",
		RoleVerification: "bob",
		RoleApproval:     "carol",
	}, rec.Signers())
}

func TestApprovalRecord_RoleOf(t *testing.T) {
	rec := NewApprovalRecord()
	rec.Signatures[RoleExecution] = sig("alice")

	role, ok := rec.RoleOf("alice", RoleVerification)
	assert.True(t, ok)
	assert.Equal(t, RoleExecution, role)

	_, ok = rec.RoleOf("alice", RoleExecution)
	assert.False(t, ok, "the excepted role is ignored")

	_, ok = rec.RoleOf("bob", RoleNone)
	assert.False(t, ok)
}

func TestApprovalRecord_CloneIsIndependent(t *testing.T) {
	rec := NewApprovalRecord()
	rec.Signatures[RoleExecution] = sig("alice")

	clone := rec.Clone()
	clone.Signatures[RoleVerification] = sig("bob")

	assert.False(t, rec.IsSigned(RoleVerification))
	assert.True(t, clone.IsSigned(RoleExecution))
}

func TestApprovalRecord_Validate(t *testing.T) {
	tests := []struct {
		name    string
		sigs    map[Role]Signature
		wantErr bool
	}{
		{"empty", map[Role]Signature{}, false},
		{"in order", map[Role]Signature{RoleExecution: sig("a"), RoleVerification: sig("b")}, false},
		{"gap", map[Role]Signature{RoleExecution: sig("a"), RoleApproval: sig("c")}, true},
		{"skips stage1", map[Role]Signature{RoleVerification: sig("b")}, true},
		{"duplicate signer", map[Role]Signature{RoleExecution: sig("a"), RoleVerification: sig("a")}, true},
		{"empty signer", map[Role]Signature{RoleExecution: sig("")}, true},
		{"unknown role", map[Role]Signature{Role(9): sig("x")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&ApprovalRecord{Signatures: tt.sigs}).Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidRecord))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestApprovalRecord_EncodeDecode(t *testing.T) {
	rec := NewApprovalRecord()
	rec.Signatures[RoleExecution] = Signature{
		SignerID:  "alice",
		Timestamp: time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC),
		Notes:     "batch 7 executed",
	}

	data, err := EncodeApprovalRecord(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"signatures":{"execution":{"signer_id":"alice","timestamp":"2026-10-01T09:30:00Z","notes":"batch 7 executed"}}}`, string(data))

	decoded, err := DecodeApprovalRecord(data)
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)
}

func TestDecodeApprovalRecord_EmptyAndNull(t *testing.T) {
	for _, input := range []string{"", `{}`, `{"signatures":null}`} {
		rec, err := DecodeApprovalRecord([]byte(input))
		require.NoError(t, err, input)
		assert.NotNil(t, rec.Signatures, input)
		assert.Empty(t, rec.Signatures, input)
	}

	_, err := DecodeApprovalRecord([]byte(`{"signatures":{"stage9":{}}}`))
	assert.Error(t, err)
}
