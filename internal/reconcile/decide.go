package reconcile

import (
	"fmt"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

// Decision is what to do with a definitive outcome for an entry.
type Decision int

const (
	// Apply the outcome: the entry has not reached a definitive state yet.
	Apply Decision = iota
	// NoOp: an earlier outcome already settled the entry and this one agrees.
	NoOp
	// Conflict: the outcomes disagree; flag for manual review.
	Conflict
)

func (d Decision) String() string {
	switch d {
	case Apply:
		return "apply"
	case NoOp:
		return "noop"
	default:
		return "conflict"
	}
}

// Decide applies the first-definitive-wins rule. The returned detail
// explains a conflict.
func Decide(e models.LedgerEntry, outcome models.Outcome, remoteRef string) (Decision, string) {
	if !e.State.Terminal() {
		return Apply, ""
	}
	switch outcome {
	case models.OutcomeConfirmed:
		if e.State == models.StateFailed {
			return Conflict, "remote confirmed an entry recorded as failed"
		}
		if remoteRef != "" && e.RemoteRef != "" && remoteRef != e.RemoteRef {
			return Conflict, fmt.Sprintf("remote reference %s differs from recorded %s", remoteRef, e.RemoteRef)
		}
		return NoOp, ""
	case models.OutcomeRejected:
		if e.State == models.StateFailed {
			return NoOp, ""
		}
		return Conflict, fmt.Sprintf("remote rejected an entry recorded as %s", e.State)
	}
	return Conflict, fmt.Sprintf("unknown outcome %q", outcome)
}
