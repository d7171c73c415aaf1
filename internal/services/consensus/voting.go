package consensus

import (
	"sort"
	"time"

	"MetaAgent/internal/domain/models"
)

// Vote reconciles a set of same-correlation agent decisions into one
// coordinated decision using the given strategy. It returns nil when the
// strategy produces no consensus (unanimous with mixed actions, or an
// empty input set). The second return reports whether the inputs
// conflicted, i.e. more than one distinct action was present.
func Vote(strategy models.VotingStrategy, decisions []*models.AgentDecision) (*models.CoordinatedDecision, bool) {
	if len(decisions) == 0 {
		return nil, false
	}

	conflict := distinctActions(decisions) > 1

	switch strategy {
	case models.VotingConfidenceWeighted:
		return confidenceWeightedVote(decisions), conflict
	case models.VotingMajority:
		return majorityVote(decisions), conflict
	case models.VotingWeighted:
		// Reserved for per-agent performance weighting; equal-weight majority for now.
		return majorityVote(decisions), conflict
	case models.VotingUnanimous:
		if conflict {
			return nil, conflict
		}
		return majorityVote(decisions), conflict
	}
	return nil, conflict
}

func distinctActions(decisions []*models.AgentDecision) int {
	seen := map[models.Action]struct{}{}
	for _, d := range decisions {
		seen[d.Action] = struct{}{}
	}
	return len(seen)
}

type tally struct {
	count    int
	weight   float64
	quantity float64
	agents   []string
}

// pickWinner returns the action with the highest score. Ties are resolved
// deterministically: HOLD wins a tie it participates in, otherwise the
// lexically smallest action name wins.
func pickWinner(scores map[models.Action]float64) models.Action {
	actions := make([]models.Action, 0, len(scores))
	for a := range scores {
		actions = append(actions, a)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })

	best := actions[0]
	for _, a := range actions[1:] {
		if scores[a] > scores[best] {
			best = a
		}
	}
	if hold, ok := scores[models.ActionHold]; ok && hold == scores[best] {
		return models.ActionHold
	}
	return best
}

func majorityVote(decisions []*models.AgentDecision) *models.CoordinatedDecision {
	tallies := map[models.Action]*tally{}
	for _, d := range decisions {
		t := tallies[d.Action]
		if t == nil {
			t = &tally{}
			tallies[d.Action] = t
		}
		t.count++
		t.quantity += d.Quantity
		t.agents = append(t.agents, d.AgentID)
	}

	scores := make(map[models.Action]float64, len(tallies))
	for a, t := range tallies {
		scores[a] = float64(t.count)
	}
	winner := pickWinner(scores)
	win := tallies[winner]

	return &models.CoordinatedDecision{
		Symbol:              decisions[0].Symbol,
		Action:              winner,
		Quantity:            win.quantity / float64(win.count),
		Confidence:          float64(win.count) / float64(len(decisions)),
		ParticipatingAgents: win.agents,
		ConsensusMethod:     models.VotingMajority,
		Timestamp:           time.Now().UTC(),
		CorrelationID:       decisions[0].CorrelationID,
	}
}

func confidenceWeightedVote(decisions []*models.AgentDecision) *models.CoordinatedDecision {
	tallies := map[models.Action]*tally{}
	var totalWeight float64
	for _, d := range decisions {
		t := tallies[d.Action]
		if t == nil {
			t = &tally{}
			tallies[d.Action] = t
		}
		t.weight += d.Confidence
		t.quantity += d.Quantity * d.Confidence
		t.agents = append(t.agents, d.AgentID)
		totalWeight += d.Confidence
	}

	scores := make(map[models.Action]float64, len(tallies))
	for a, t := range tallies {
		scores[a] = t.weight
	}
	winner := pickWinner(scores)
	win := tallies[winner]

	// Zero total weight means every agent reported zero confidence; the
	// safe default is confidence 0 and quantity 0 rather than a fault.
	var confidence, quantity float64
	if totalWeight > 0 {
		confidence = win.weight / totalWeight
	}
	if win.weight > 0 {
		quantity = win.quantity / win.weight
	}

	return &models.CoordinatedDecision{
		Symbol:              decisions[0].Symbol,
		Action:              winner,
		Quantity:            quantity,
		Confidence:          confidence,
		ParticipatingAgents: win.agents,
		ConsensusMethod:     models.VotingConfidenceWeighted,
		Timestamp:           time.Now().UTC(),
		CorrelationID:       decisions[0].CorrelationID,
	}
}
