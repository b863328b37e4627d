package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"subj-42", false},
		{"alice@example.com", false},
		{"batch:7.run_2", false},
		{"", true},
		{"   ", true},
		{"-leading-dash", true},
		{"has space", true},
		{strings.Repeat("a", 129), true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateIdentifier("subject_id", tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSanitizeNotes(t *testing.T) {
	assert.Equal(t, "line1\nline2", SanitizeNotes("  line1\nline2\x00\x07 "))
	assert.Equal(t, 2000, len([]rune(SanitizeNotes(strings.Repeat("é", 2500)))))
}
