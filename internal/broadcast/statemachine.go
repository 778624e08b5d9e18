// Package broadcast holds the message lifecycle state machine, the dispatch
// orchestrator that fans broadcast events out across providers, and the
// per-(event, provider) dispatch unit with its indefinite retry policy.
package broadcast

import (
	"fmt"

	"cbdispatch/internal/types"
)

// allowedTransitions is the authoritative transition list for a broadcast
// message. Any transition not present here is rejected, including
// draft -> broadcasting: going live always passes through approval.
var allowedTransitions = map[types.BroadcastStatus][]types.BroadcastStatus{
	types.StatusDraft:           {types.StatusPendingApproval},
	types.StatusPendingApproval: {types.StatusDraft, types.StatusRejected, types.StatusBroadcasting},
	types.StatusRejected:        {types.StatusPendingApproval},
	types.StatusBroadcasting:    {types.StatusCompleted, types.StatusCancelled, types.StatusTechnicalFailure},
}

// CanTransition reports whether a broadcast message may move from one status
// to another.
func CanTransition(from, to types.BroadcastStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a fatal AppError when the transition is not in the
// allowed list, nil otherwise.
func CheckTransition(from, to types.BroadcastStatus) error {
	if !CanTransition(from, to) {
		return types.NewAppError(types.ErrCodeTransitionInvalid,
			fmt.Sprintf("cannot transition broadcast message from %q to %q", from, to), nil)
	}
	return nil
}
