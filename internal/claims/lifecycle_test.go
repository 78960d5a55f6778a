package claims

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hoken/internal/model"
)

var allStates = []model.ClaimState{
	model.StateDraft,
	model.StateSubmitted,
	model.StateAutomatedAssessment,
	model.StatePendingAdjusterReview,
	model.StateApproved,
	model.StateSettled,
	model.StateDenied,
	model.StateDisputed,
	model.StateSettlementFailed,
	model.StateWithdrawn,
}

var allEvents = []Event{
	EventSubmit, EventWithdraw, EventStartAssessment, EventRequireReview,
	EventAutoApprove, EventAutoDeny, EventAdjusterApprove, EventAdjusterDeny,
	EventSettle, EventSettlementDenied, EventSettlementFailed, EventDispute, EventReopen,
}

func TestTransition_Table(t *testing.T) {
	legal := map[model.ClaimState]map[Event]model.ClaimState{
		model.StateDraft:                 {EventSubmit: model.StateSubmitted, EventWithdraw: model.StateWithdrawn},
		model.StateSubmitted:             {EventStartAssessment: model.StateAutomatedAssessment, EventWithdraw: model.StateWithdrawn},
		model.StateAutomatedAssessment:   {EventRequireReview: model.StatePendingAdjusterReview, EventAutoApprove: model.StateApproved, EventAutoDeny: model.StateDenied, EventWithdraw: model.StateDenied},
		model.StatePendingAdjusterReview: {EventAdjusterApprove: model.StateApproved, EventAdjusterDeny: model.StateDenied, EventWithdraw: model.StateDenied},
		model.StateApproved:              {EventSettle: model.StateSettled, EventSettlementDenied: model.StateDenied, EventSettlementFailed: model.StateSettlementFailed, EventWithdraw: model.StateDenied},
		model.StateSettled:               {EventDispute: model.StateDisputed},
		model.StateDenied:                {EventDispute: model.StateDisputed},
		model.StateSettlementFailed:      {EventReopen: model.StateSettlementFailed},
	}

	for _, from := range allStates {
		for _, ev := range allEvents {
			to, err := Transition(from, ev)
			want, ok := legal[from][ev]
			if ok {
				require.NoError(t, err, "%s --%s-->", from, ev)
				assert.Equal(t, want, to, "%s --%s-->", from, ev)
				assert.True(t, CanTransition(from, ev))
				continue
			}
			require.Error(t, err, "%s --%s--> should be rejected", from, ev)
			if from.Terminal() {
				assert.ErrorIs(t, err, model.ErrClaimClosed, "%s --%s-->", from, ev)
			} else {
				assert.ErrorIs(t, err, model.ErrIllegalTransition, "%s --%s-->", from, ev)
			}
			assert.False(t, CanTransition(from, ev))
		}
	}
}

func TestTransition_EveryStateListed(t *testing.T) {
	for _, s := range allStates {
		_, ok := transitions[s]
		assert.True(t, ok, "state %s missing from table", s)
	}
	assert.Len(t, transitions, len(allStates))
}

func TestTransition_UnknownState(t *testing.T) {
	_, err := Transition("limbo", EventSubmit)
	require.ErrorIs(t, err, model.ErrIllegalTransition)
}

func TestTransition_NoEstimateStateAfterSettledOrDenied(t *testing.T) {
	for _, from := range []model.ClaimState{model.StateSettled, model.StateDenied} {
		for _, ev := range []Event{EventStartAssessment, EventAdjusterApprove, EventSettle} {
			_, err := Transition(from, ev)
			assert.ErrorIs(t, err, model.ErrClaimClosed)
		}
	}
}

func TestBackoff_Delay(t *testing.T) {
	b := backoff{base: 10, max: 100}
	for attempt := range 10 {
		d := b.delay(attempt)
		assert.GreaterOrEqual(t, int64(d), int64(10))
		assert.LessOrEqual(t, int64(d), int64(100))
	}
	assert.Zero(t, backoff{}.delay(3))
}
