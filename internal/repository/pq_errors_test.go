package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestMapUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "account_emailsの主キー違反はErrDuplicateEmail",
			err:  &pq.Error{Code: pqUniqueViolation, Constraint: "account_emails_pkey"},
			want: ErrDuplicateEmail,
		},
		{
			name: "adminsのemail制約違反はErrDuplicateEmail",
			err:  &pq.Error{Code: pqUniqueViolation, Constraint: "admins_email_key"},
			want: ErrDuplicateEmail,
		},
		{
			name: "provider_id制約違反はErrDuplicateRequest",
			err:  fmt.Errorf("wrapped: %w", &pq.Error{Code: pqUniqueViolation, Constraint: "approval_requests_provider_id_key"}),
			want: ErrDuplicateRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapUniqueViolation(tt.err), tt.want)
		})
	}
}

func TestMapUniqueViolation_PassesThroughOtherErrors(t *testing.T) {
	fkErr := &pq.Error{Code: "23503", Constraint: "providers_email_fkey"}
	assert.Same(t, error(fkErr), mapUniqueViolation(fkErr))

	plain := errors.New("connection refused")
	assert.Same(t, plain, mapUniqueViolation(plain))

	unknown := &pq.Error{Code: pqUniqueViolation, Constraint: "sessions_pkey"}
	assert.Same(t, error(unknown), mapUniqueViolation(unknown))
}

func TestLikePattern_EscapesWildcards(t *testing.T) {
	assert.Equal(t, "%venue%", likePattern("  venue "))
	assert.Equal(t, `%100\%\_off%`, likePattern("100%_off"))
	assert.Equal(t, `%a\\b%`, likePattern(`a\b`))
}
