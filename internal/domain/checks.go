package domain

// UnsatisfiedChecks is a bitmask of independent conditions keeping a pull
// request from being fully green.
type UnsatisfiedChecks uint8

const (
	CheckReviewRequired UnsatisfiedChecks = 1 << iota
	CheckChangesRequested
	CheckCIFailed
	CheckCIPending
)

// ChecksNone means every condition is satisfied.
const ChecksNone UnsatisfiedChecks = 0

// Has reports whether the given flag is set.
func (u UnsatisfiedChecks) Has(flag UnsatisfiedChecks) bool {
	return u&flag != 0
}

// Decoration is the single display label derived from an UnsatisfiedChecks
// bitmask.
type Decoration string

const (
	DecorationNone             Decoration = ""
	DecorationFailing          Decoration = "failing"
	DecorationChangesRequested Decoration = "changes requested"
	DecorationPending          Decoration = "pending"
	DecorationReviewRequired   Decoration = "review required"
)

// Decoration collapses the bitmask into one label. The tie-break order is
// failed > changes-requested > pending > review-required > none.
func (u UnsatisfiedChecks) Decoration() Decoration {
	switch {
	case u.Has(CheckCIFailed):
		return DecorationFailing
	case u.Has(CheckChangesRequested):
		return DecorationChangesRequested
	case u.Has(CheckCIPending):
		return DecorationPending
	case u.Has(CheckReviewRequired):
		return DecorationReviewRequired
	default:
		return DecorationNone
	}
}

// PRStatusChange pairs a pull request with its recomputed checks bitmask.
type PRStatusChange struct {
	PullRequest *PullRequest
	Unsatisfied UnsatisfiedChecks
}

// ChangedStatuses filters a recomputed status set down to the entries whose
// bitmask actually differs from the previous cycle, keyed by pull request
// identifier. Only these are reported to the UI layer.
func ChangedStatuses(prev map[string]UnsatisfiedChecks, next []PRStatusChange) []PRStatusChange {
	var changed []PRStatusChange
	for _, st := range next {
		old, ok := prev[st.PullRequest.Key()]
		if !ok || old != st.Unsatisfied {
			changed = append(changed, st)
		}
	}
	return changed
}
