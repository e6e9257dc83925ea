package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

func TestHasAnyRole(t *testing.T) {
	tests := []struct {
		name string
		have []string
		want []string
		ok   bool
	}{
		{name: "match", have: []string{"sre", "admin"}, want: []string{"admin"}, ok: true},
		{name: "no overlap", have: []string{"viewer"}, want: []string{"admin", "sre"}, ok: false},
		{name: "caller without roles", have: nil, want: []string{"admin"}, ok: false},
		{name: "no required roles", have: []string{"viewer"}, want: nil, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, hasAnyRole(tt.have, tt.want))
		})
	}
}

// Gate bypass is admin-only; the check runs before anything is loaded, so
// a bare service is enough to exercise the rejection.
func TestExecuteRunbookBypassRequiresAdmin(t *testing.T) {
	svc := &ExecutionService{}

	tests := []struct {
		name  string
		roles []string
		input ExecuteRunbookInput
	}{
		{
			name:  "anonymous caller cannot bypass blackout",
			input: ExecuteRunbookInput{RunbookID: "rb-1", BypassBlackout: true},
		},
		{
			name:  "non-admin roles cannot bypass cooldown",
			roles: []string{"sre", "viewer"},
			input: ExecuteRunbookInput{RunbookID: "rb-1", BypassCooldown: true},
		},
		{
			name:  "both flags without admin",
			roles: []string{"dev"},
			input: ExecuteRunbookInput{RunbookID: "rb-1", BypassCooldown: true, BypassBlackout: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.input.Roles = tt.roles
			_, err := svc.ExecuteRunbook(context.Background(), tt.input)
			assert.ErrorIs(t, err, ErrForbidden)
			assert.Contains(t, err.Error(), models.RoleAdmin)
		})
	}
}
