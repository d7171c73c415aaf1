package consensus

import (
	"math"
	"testing"

	"MetaAgent/internal/domain/models"
)

func dec(agent string, action models.Action, confidence, quantity float64) *models.AgentDecision {
	return &models.AgentDecision{
		AgentID:       agent,
		Symbol:        "BTCUSD",
		Action:        action,
		Quantity:      quantity,
		Confidence:    confidence,
		CorrelationID: "c-1",
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestMajorityVote(t *testing.T) {
	decisions := []*models.AgentDecision{
		dec("momentum", models.ActionBuy, 0.9, 10),
		dec("meanrev", models.ActionBuy, 0.8, 20),
		dec("sentiment", models.ActionSell, 0.95, 5),
	}

	out, conflict := Vote(models.VotingMajority, decisions)
	if out == nil {
		t.Fatalf("expected a decision")
	}
	if !conflict {
		t.Fatalf("mixed actions should report a conflict")
	}
	if out.Action != models.ActionBuy {
		t.Fatalf("action = %s, want BUY", out.Action)
	}
	if !almostEqual(out.Confidence, 2.0/3.0) {
		t.Fatalf("confidence = %v, want 2/3", out.Confidence)
	}
	if !almostEqual(out.Quantity, 15) {
		t.Fatalf("quantity = %v, want mean of winning quantities", out.Quantity)
	}
	if len(out.ParticipatingAgents) != 2 {
		t.Fatalf("participating agents = %v", out.ParticipatingAgents)
	}
	if out.ConsensusMethod != models.VotingMajority {
		t.Fatalf("consensus method = %s", out.ConsensusMethod)
	}
}

func TestMajorityTieBreakPrefersHold(t *testing.T) {
	decisions := []*models.AgentDecision{
		dec("a", models.ActionBuy, 0.5, 10),
		dec("b", models.ActionHold, 0.5, 0),
	}
	out, _ := Vote(models.VotingMajority, decisions)
	if out.Action != models.ActionHold {
		t.Fatalf("tied vote = %s, want HOLD", out.Action)
	}
}

func TestMajorityTieBreakLexicalWithoutHold(t *testing.T) {
	decisions := []*models.AgentDecision{
		dec("a", models.ActionSell, 0.5, 10),
		dec("b", models.ActionBuy, 0.5, 10),
	}
	// Re-run to catch map iteration order dependence.
	for i := 0; i < 20; i++ {
		out, _ := Vote(models.VotingMajority, decisions)
		if out.Action != models.ActionBuy {
			t.Fatalf("tied vote without HOLD = %s, want BUY", out.Action)
		}
	}
}

func TestConfidenceWeightedVote(t *testing.T) {
	decisions := []*models.AgentDecision{
		dec("a", models.ActionBuy, 0.9, 10),
		dec("b", models.ActionSell, 0.6, 5),
	}

	out, conflict := Vote(models.VotingConfidenceWeighted, decisions)
	if out == nil || !conflict {
		t.Fatalf("out=%v conflict=%v", out, conflict)
	}
	if out.Action != models.ActionBuy {
		t.Fatalf("action = %s, want BUY", out.Action)
	}
	if !almostEqual(out.Confidence, 0.9/1.5) {
		t.Fatalf("confidence = %v, want 0.6", out.Confidence)
	}
	if !almostEqual(out.Quantity, 10) {
		t.Fatalf("quantity = %v, want 10", out.Quantity)
	}
	if out.ConsensusMethod != models.VotingConfidenceWeighted {
		t.Fatalf("consensus method = %s", out.ConsensusMethod)
	}
}

func TestConfidenceWeightedZeroConfidence(t *testing.T) {
	decisions := []*models.AgentDecision{
		dec("a", models.ActionBuy, 0, 10),
		dec("b", models.ActionBuy, 0, 20),
	}
	out, _ := Vote(models.VotingConfidenceWeighted, decisions)
	if out == nil {
		t.Fatalf("expected a decision")
	}
	if out.Confidence != 0 || out.Quantity != 0 {
		t.Fatalf("zero-weight vote: confidence=%v quantity=%v, want 0/0", out.Confidence, out.Quantity)
	}
}

func TestUnanimousMixedActions(t *testing.T) {
	decisions := []*models.AgentDecision{
		dec("a", models.ActionBuy, 0.9, 10),
		dec("b", models.ActionSell, 0.9, 10),
	}
	out, conflict := Vote(models.VotingUnanimous, decisions)
	if out != nil {
		t.Fatalf("mixed unanimous vote should yield no decision, got %+v", out)
	}
	if !conflict {
		t.Fatalf("expected conflict flag")
	}
}

func TestUnanimousAgreement(t *testing.T) {
	decisions := []*models.AgentDecision{
		dec("a", models.ActionSell, 0.7, 10),
		dec("b", models.ActionSell, 0.8, 20),
	}
	out, conflict := Vote(models.VotingUnanimous, decisions)
	if out == nil || conflict {
		t.Fatalf("out=%v conflict=%v", out, conflict)
	}
	if out.Action != models.ActionSell {
		t.Fatalf("action = %s", out.Action)
	}
	if !almostEqual(out.Confidence, 1) {
		t.Fatalf("confidence = %v, want 1", out.Confidence)
	}
}

func TestWeightedFallsBackToMajority(t *testing.T) {
	decisions := []*models.AgentDecision{
		dec("a", models.ActionBuy, 0.9, 10),
		dec("b", models.ActionBuy, 0.1, 20),
		dec("c", models.ActionSell, 1.0, 5),
	}
	out, _ := Vote(models.VotingWeighted, decisions)
	if out == nil || out.Action != models.ActionBuy {
		t.Fatalf("out = %+v, want BUY via equal-weight majority", out)
	}
	if out.ConsensusMethod != models.VotingMajority {
		t.Fatalf("consensus method = %s, want majority", out.ConsensusMethod)
	}
}

func TestEmptyInput(t *testing.T) {
	out, conflict := Vote(models.VotingMajority, nil)
	if out != nil || conflict {
		t.Fatalf("empty input: out=%v conflict=%v", out, conflict)
	}
}

func TestCorrelationCarriedThrough(t *testing.T) {
	out, _ := Vote(models.VotingMajority, []*models.AgentDecision{dec("a", models.ActionBuy, 0.5, 1)})
	if out.CorrelationID != "c-1" || out.Symbol != "BTCUSD" {
		t.Fatalf("identity fields lost: %+v", out)
	}
}
