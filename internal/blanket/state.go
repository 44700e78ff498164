package blanket

import "time"

// StateInput gathers the inputs the lifecycle state is derived from.
type StateInput struct {
	Confirmed      bool
	Cancelled      bool
	ValidityDate   *time.Time
	RemainingTotal float64
}

// DeriveState computes the lifecycle state from current data. The
// result depends only on the input tuple, never on transition history:
//
//   - not confirmed: draft
//   - cancelled, or validity date on or before asOf: expired
//   - no remaining quantity across product lines: done
//   - otherwise: open
//
// An absent validity date means the order never expires.
func DeriveState(in StateInput, asOf time.Time) State {
	if !in.Confirmed {
		return StateDraft
	}
	if in.Cancelled {
		return StateExpired
	}
	if in.ValidityDate != nil && !truncateDay(*in.ValidityDate).After(truncateDay(asOf)) {
		return StateExpired
	}
	if floatIsZero(in.RemainingTotal) {
		return StateDone
	}
	return StateOpen
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
