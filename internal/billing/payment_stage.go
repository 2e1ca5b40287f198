// Package billing matches received payment amounts to the contractual
// milestones configured on a proposal.
package billing

// PaymentStage names the milestone a payment corresponds to.
type PaymentStage string

const (
	PaymentStageDeposit PaymentStage = "deposit"
	PaymentStageRoughIn PaymentStage = "rough_in"
	PaymentStageFinal   PaymentStage = "final"
	PaymentStagePartial PaymentStage = "partial"
)

// DefaultToleranceCents is the matching window of five dollars.
const DefaultToleranceCents int64 = 500

// Milestones are the three configured payment amounts of a proposal, in cents.
// A zero amount means the milestone is not used and never matches.
type Milestones struct {
	DepositCents  int64
	ProgressCents int64
	FinalCents    int64
}

// Match is the full result of matching a payment, including every milestone
// that fell within tolerance.
type Match struct {
	Stage       PaymentStage
	Candidates  []PaymentStage
	NeedsReview bool
}

type milestone struct {
	stage  PaymentStage
	amount int64
}

// ordered returns the configured milestones in matching priority order.
func (m Milestones) ordered() []milestone {
	all := []milestone{
		{PaymentStageDeposit, m.DepositCents},
		{PaymentStageRoughIn, m.ProgressCents},
		{PaymentStageFinal, m.FinalCents},
	}
	out := all[:0]
	for _, ms := range all {
		if ms.amount > 0 {
			out = append(out, ms)
		}
	}
	return out
}

// IdentifyPaymentStage compares paid against deposit, then progress, then final
// and returns the first milestone within tolerance, or partial.
func IdentifyPaymentStage(m Milestones, paidCents, toleranceCents int64) PaymentStage {
	return MatchPaymentStage(m, paidCents, toleranceCents).Stage
}

// MatchPaymentStage applies the same priority order as IdentifyPaymentStage and
// flags near-ties. A match needs review when more than one milestone is within
// tolerance of the paid amount, or when the chosen milestone is itself within
// tolerance of another configured milestone.
func MatchPaymentStage(m Milestones, paidCents, toleranceCents int64) Match {
	if toleranceCents < 0 {
		toleranceCents = 0
	}

	ordered := m.ordered()
	result := Match{Stage: PaymentStagePartial}
	var chosen *milestone
	for i := range ordered {
		if absDiff(paidCents, ordered[i].amount) <= toleranceCents {
			result.Candidates = append(result.Candidates, ordered[i].stage)
			if chosen == nil {
				chosen = &ordered[i]
			}
		}
	}
	if chosen == nil {
		return result
	}

	result.Stage = chosen.stage
	if len(result.Candidates) > 1 {
		result.NeedsReview = true
		return result
	}
	for _, other := range ordered {
		if other.stage != chosen.stage && absDiff(other.amount, chosen.amount) <= toleranceCents {
			result.NeedsReview = true
			break
		}
	}
	return result
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
