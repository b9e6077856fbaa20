package service

import (
	"testing"

	"github.com/shenikar/emergency_dispatch_system/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestEscalationPolicy_Decide(t *testing.T) {
	policy := NewEscalationPolicy()

	cases := []struct {
		name    string
		attempt int
		kind    ErrorKind
		want    Decision
	}{
		{"first failure retried", 1, KindNoCandidate, DecisionRetry},
		{"second failure escalated", 2, KindNoCandidate, DecisionEscalate},
		{"third failure escalated", 3, KindReservationConflict, DecisionEscalate},
		{"timeout retried once", 1, KindTimeout, DecisionRetry},
		{"timeout escalated after retry", 2, KindTimeout, DecisionEscalate},
		{"collaborator failure retried", 1, KindCollaborator, DecisionRetry},
		{"internal error retried", 1, KindInternal, DecisionRetry},
		{"validation never retried", 1, KindValidation, DecisionAbort},
		{"validation never escalated", 2, KindValidation, DecisionAbort},
		{"stale transition is a no-op", 1, KindStaleTransition, DecisionAbort},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := policy.Decide(models.StageDispatch, models.PriorityP2, tc.attempt, tc.kind)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, KindNoCandidate, ClassifyError(ErrNoCandidate))
	assert.Equal(t, KindReservationConflict, ClassifyError(ErrReservationConflict))
	assert.Equal(t, KindValidation, ClassifyError(ErrValidation))
	assert.Equal(t, KindValidation, ClassifyError(ErrInvalidRequirements))
	assert.Equal(t, KindStaleTransition, ClassifyError(ErrStaleTransition))
	assert.Equal(t, KindCollaborator, ClassifyError(ErrCollaboratorUnavailable))
	assert.Equal(t, KindInternal, ClassifyError(assert.AnError))
}
