package taskbroker

import "github.com/chicoryai/taskrunner/internal/model"

// ApplyTransition implements the assistant-task state machine from
// spec.md §4.3, enforcing invariants T-2/T-3 and testable properties
// P-3/P-4/P-5. It is called by every Store implementation so the rules
// are identical regardless of backend.
//
// current is the status as currently persisted; update is the caller's
// requested change. ApplyTransition returns the status that should be
// persisted (which may equal current, meaning "no-op").
func ApplyTransition(current model.Status, requested model.Status) model.Status {
	if requested == "" {
		return current
	}
	// P-4: once terminal, status writes are no-ops...
	if current.Terminal() {
		// ...except spec.md §4.3 explicitly allows re-affirming CANCELLED
		// (idempotent re-cancel) and re-affirming the same terminal state
		// (P-5: applying the same update twice yields the same record).
		if requested == current {
			return current
		}
		// T-3 / P-3: CANCELLED dominates; COMPLETED/FAILED never overwrite it,
		// and once COMPLETED/FAILED no other terminal state may replace it either.
		return current
	}
	return requested
}

// TransitionBlocked reports whether a requested status update is rejected
// outright by P-4/T-3: current is terminal and requested asks for a
// different status. When blocked, the whole update (status AND content)
// must be dropped as a unit — spec.md's ordering guarantee ("once
// CANCELLED, no subsequent update... will set COMPLETED") would otherwise
// be violated by a late writer's content still landing even though its
// status write was discarded.
func TransitionBlocked(current model.Status, requestedStatus *model.Status) bool {
	if requestedStatus == nil {
		return false
	}
	return current.Terminal() && *requestedStatus != current
}
