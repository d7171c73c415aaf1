package usecase

import (
	"testing"

	"MetaAgent/internal/domain/models"
)

func TestNewOverridesFallsBackToConfidenceWeighted(t *testing.T) {
	o := NewOverrides("nonsense")
	if got := o.VotingStrategy(); got != models.VotingConfidenceWeighted {
		t.Fatalf("strategy = %s, want confidence_weighted", got)
	}
}

func TestSetVotingStrategy(t *testing.T) {
	o := NewOverrides(models.VotingConfidenceWeighted)
	if err := o.SetVotingStrategy(models.VotingMajority); err != nil {
		t.Fatalf("SetVotingStrategy: %v", err)
	}
	if got := o.VotingStrategy(); got != models.VotingMajority {
		t.Fatalf("strategy = %s", got)
	}
	if err := o.SetVotingStrategy("bogus"); err == nil {
		t.Fatalf("expected error for unknown strategy")
	}
	if got := o.VotingStrategy(); got != models.VotingMajority {
		t.Fatalf("failed switch must not change strategy, got %s", got)
	}
}

func TestPauseResumeStrategy(t *testing.T) {
	o := NewOverrides(models.VotingMajority)
	o.PauseStrategy("AAPL")
	o.PauseStrategy("momentum")

	bySymbol := &models.CoordinatedDecision{Symbol: "AAPL", ParticipatingAgents: []string{"x"}}
	if !o.IsPausedFor(bySymbol) {
		t.Fatalf("expected pause for symbol AAPL")
	}
	byAgent := &models.CoordinatedDecision{Symbol: "MSFT", ParticipatingAgents: []string{"momentum", "other"}}
	if !o.IsPausedFor(byAgent) {
		t.Fatalf("expected pause for participating agent")
	}
	unrelated := &models.CoordinatedDecision{Symbol: "MSFT", ParticipatingAgents: []string{"other"}}
	if o.IsPausedFor(unrelated) {
		t.Fatalf("unexpected pause for unrelated decision")
	}

	if got := o.Paused(); len(got) != 2 || got[0] != "AAPL" || got[1] != "momentum" {
		t.Fatalf("Paused() = %v, want sorted [AAPL momentum]", got)
	}

	o.ResumeStrategy("AAPL")
	if o.IsPausedFor(bySymbol) {
		t.Fatalf("pause survived resume")
	}
}

func TestEmergencyFlag(t *testing.T) {
	o := NewOverrides(models.VotingMajority)
	if o.EmergencyActive() {
		t.Fatalf("emergency active by default")
	}
	o.SetEmergency(true)
	if !o.EmergencyActive() {
		t.Fatalf("emergency flag not set")
	}
	o.SetEmergency(false)
	if o.EmergencyActive() {
		t.Fatalf("emergency flag not cleared")
	}
}

func TestPositionCaps(t *testing.T) {
	o := NewOverrides(models.VotingMajority)
	o.SetCap("AAPL", 100)
	if cap, ok := o.Cap("AAPL"); !ok || cap != 100 {
		t.Fatalf("Cap = %v %v", cap, ok)
	}
	if _, ok := o.Cap("MSFT"); ok {
		t.Fatalf("unexpected cap for MSFT")
	}

	o.SetCap("AAPL", 0) // zero removes
	if _, ok := o.Cap("AAPL"); ok {
		t.Fatalf("zero cap must remove the entry")
	}

	o.SetCap("A", 1)
	o.SetCap("B", 2)
	caps := o.Caps()
	if len(caps) != 2 || caps["A"] != 1 || caps["B"] != 2 {
		t.Fatalf("Caps() = %v", caps)
	}
	caps["A"] = 99
	if got, _ := o.Cap("A"); got != 1 {
		t.Fatalf("Caps() must return a copy")
	}
}
