// Package claims orchestrates a claim from intake through assessment, review
// and settlement. Every state change goes through Transition, so the table
// below is the complete lifecycle.
package claims

import (
	"fmt"

	"github.com/ashita-ai/hoken/internal/model"
)

// Event drives a lifecycle transition.
type Event string

const (
	EventSubmit           Event = "submit"
	EventWithdraw         Event = "withdraw"
	EventStartAssessment  Event = "start_assessment"
	EventRequireReview    Event = "require_review"
	EventAutoApprove      Event = "auto_approve"
	EventAutoDeny         Event = "auto_deny"
	EventAdjusterApprove  Event = "adjuster_approve"
	EventAdjusterDeny     Event = "adjuster_deny"
	EventSettle           Event = "settle"
	EventSettlementDenied Event = "settlement_denied"
	EventSettlementFailed Event = "settlement_failed"
	EventDispute          Event = "dispute"
	EventReopen           Event = "reopen"
)

// Withdrawing before assessment starts is a plain withdrawal; afterwards it is
// a denial with reason "withdrawn" so the assessment history is preserved.
var transitions = map[model.ClaimState]map[Event]model.ClaimState{
	model.StateDraft: {
		EventSubmit:   model.StateSubmitted,
		EventWithdraw: model.StateWithdrawn,
	},
	model.StateSubmitted: {
		EventStartAssessment: model.StateAutomatedAssessment,
		EventWithdraw:        model.StateWithdrawn,
	},
	model.StateAutomatedAssessment: {
		EventRequireReview: model.StatePendingAdjusterReview,
		EventAutoApprove:   model.StateApproved,
		EventAutoDeny:      model.StateDenied,
		EventWithdraw:      model.StateDenied,
	},
	model.StatePendingAdjusterReview: {
		EventAdjusterApprove: model.StateApproved,
		EventAdjusterDeny:    model.StateDenied,
		EventWithdraw:        model.StateDenied,
	},
	model.StateApproved: {
		EventSettle:           model.StateSettled,
		EventSettlementDenied: model.StateDenied,
		EventSettlementFailed: model.StateSettlementFailed,
		EventWithdraw:         model.StateDenied,
	},
	model.StateSettled: {
		EventDispute: model.StateDisputed,
	},
	model.StateDenied: {
		EventDispute: model.StateDisputed,
	},
	model.StateSettlementFailed: {
		EventReopen: model.StateSettlementFailed,
	},
	model.StateDisputed:  {},
	model.StateWithdrawn: {},
}

// Transition returns the state reached by applying ev in state from.
// Events not accepted in a terminal state fail with ErrClaimClosed; any other
// unlisted pair fails with ErrIllegalTransition.
func Transition(from model.ClaimState, ev Event) (model.ClaimState, error) {
	events, ok := transitions[from]
	if !ok {
		return "", fmt.Errorf("%w: unknown state %q", model.ErrIllegalTransition, from)
	}
	to, ok := events[ev]
	if !ok {
		if from.Terminal() {
			return "", fmt.Errorf("%w: %s does not accept %s", model.ErrClaimClosed, from, ev)
		}
		return "", fmt.Errorf("%w: %s does not accept %s", model.ErrIllegalTransition, from, ev)
	}
	return to, nil
}

// CanTransition reports whether ev is accepted in state from.
func CanTransition(from model.ClaimState, ev Event) bool {
	_, err := Transition(from, ev)
	return err == nil
}
