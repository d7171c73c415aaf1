package usecase

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"

	"MetaAgent/internal/domain/models"
	"MetaAgent/internal/services/risk"
	"MetaAgent/pkg/logger"
)

type fakePublisher struct {
	mu         sync.Mutex
	decisions  []*models.CoordinatedDecision
	violations []*models.RiskViolation
}

func (p *fakePublisher) PublishDecision(_ context.Context, d *models.CoordinatedDecision) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decisions = append(p.decisions, d)
	return nil
}

func (p *fakePublisher) PublishViolation(_ context.Context, v *models.RiskViolation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.violations = append(p.violations, v)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) published() []*models.CoordinatedDecision {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*models.CoordinatedDecision(nil), p.decisions...)
}

type fakeDeadLetter struct {
	mu      sync.Mutex
	reasons []string
}

func (d *fakeDeadLetter) Push(_ context.Context, _ []byte, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reasons = append(d.reasons, reason)
	return nil
}

type fakePriceCache struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (c *fakePriceCache) SetLastPrice(_ context.Context, symbol string, price float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prices == nil {
		c.prices = make(map[string]float64)
	}
	c.prices[symbol] = price
	return nil
}

func (c *fakePriceCache) LastPrice(_ context.Context, symbol string) (float64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	price, ok := c.prices[symbol]
	return price, ok, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return l
}

func permissiveLimits() models.RiskLimits {
	return models.RiskLimits{
		MaxDailyLoss:          1e6,
		MaxPositionValue:      1e7,
		MaxTotalExposure:      1e8,
		MaxConcentration:      1,
		MaxCorrelatedExposure: 1e8,
		MaxOrderVelocity:      1000,
	}
}

type coordFixture struct {
	coordinator *Coordinator
	engine      *risk.Engine
	overrides   *Overrides
	publisher   *fakePublisher
	deadletter  *fakeDeadLetter
	prices      *fakePriceCache
}

func newFixture(t *testing.T, cfg CoordinatorConfig, limits models.RiskLimits) *coordFixture {
	t.Helper()
	engine, err := risk.NewEngine(limits, map[string][]string{"tech": {"AAPL", "MSFT"}})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	overrides := NewOverrides(models.VotingConfidenceWeighted)
	publisher := &fakePublisher{}
	deadletter := &fakeDeadLetter{}
	prices := &fakePriceCache{}

	c := NewCoordinator(cfg, testLogger(t), engine, overrides, publisher, nil, deadletter, prices, nil)
	return &coordFixture{
		coordinator: c,
		engine:      engine,
		overrides:   overrides,
		publisher:   publisher,
		deadletter:  deadletter,
		prices:      prices,
	}
}

func submit(t *testing.T, c *Coordinator, d models.AgentDecision) {
	t.Helper()
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := c.Submit(context.Background(), payload); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestSubmitCoordinatesAtMinAgents(t *testing.T) {
	f := newFixture(t, CoordinatorConfig{}, permissiveLimits())

	submit(t, f.coordinator, models.AgentDecision{
		AgentID: "momentum", Symbol: "BTCUSD", Action: models.ActionBuy,
		Quantity: 10, Confidence: 0.9, CorrelationID: "c1",
	})
	if got := len(f.publisher.published()); got != 0 {
		t.Fatalf("published after one decision: %d", got)
	}
	if got := f.coordinator.PendingCount("BTCUSD"); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}

	submit(t, f.coordinator, models.AgentDecision{
		AgentID: "meanrev", Symbol: "BTCUSD", Action: models.ActionSell,
		Quantity: 5, Confidence: 0.5, CorrelationID: "c1",
	})

	decisions := f.publisher.published()
	if len(decisions) != 1 {
		t.Fatalf("published = %d, want 1", len(decisions))
	}
	out := decisions[0]
	if out.Symbol != "BTCUSD" || out.CorrelationID != "c1" {
		t.Fatalf("unexpected decision identity: %+v", out)
	}
	if out.Action != models.ActionBuy {
		t.Fatalf("action = %s, want BUY", out.Action)
	}
	if math.Abs(out.Confidence-0.9/1.4) > 1e-9 {
		t.Fatalf("confidence = %v, want %v", out.Confidence, 0.9/1.4)
	}
	if out.Quantity != 10 {
		t.Fatalf("quantity = %v, want 10", out.Quantity)
	}
	if out.Source != "meta-agent" {
		t.Fatalf("source = %q", out.Source)
	}
	if out.OverrideApplied != "" {
		t.Fatalf("unexpected override %q", out.OverrideApplied)
	}
	if got := f.coordinator.PendingCount("BTCUSD"); got != 0 {
		t.Fatalf("pending after coordination = %d", got)
	}
}

func TestSubmitKeepsCorrelationsIsolated(t *testing.T) {
	f := newFixture(t, CoordinatorConfig{}, permissiveLimits())

	submit(t, f.coordinator, models.AgentDecision{
		AgentID: "a1", Symbol: "AAPL", Action: models.ActionBuy,
		Quantity: 1, Confidence: 0.8, CorrelationID: "c1",
	})
	submit(t, f.coordinator, models.AgentDecision{
		AgentID: "a2", Symbol: "AAPL", Action: models.ActionBuy,
		Quantity: 1, Confidence: 0.8, CorrelationID: "c2",
	})

	if got := len(f.publisher.published()); got != 0 {
		t.Fatalf("different correlations must not coordinate, published %d", got)
	}
	if got := f.coordinator.PendingCount("AAPL"); got != 2 {
		t.Fatalf("pending = %d, want 2", got)
	}
}

func TestSubmitRejectsMalformedToDeadLetter(t *testing.T) {
	f := newFixture(t, CoordinatorConfig{}, permissiveLimits())

	if err := f.coordinator.Submit(context.Background(), []byte("{not json")); err != nil {
		t.Fatalf("malformed payload must not error: %v", err)
	}
	// Missing correlation_id fails validation.
	payload, _ := json.Marshal(models.AgentDecision{
		AgentID: "a1", Symbol: "AAPL", Action: models.ActionBuy, Confidence: 0.5,
	})
	if err := f.coordinator.Submit(context.Background(), payload); err != nil {
		t.Fatalf("invalid payload must not error: %v", err)
	}

	f.deadletter.mu.Lock()
	defer f.deadletter.mu.Unlock()
	if len(f.deadletter.reasons) != 2 {
		t.Fatalf("dead letters = %d, want 2", len(f.deadletter.reasons))
	}
	if got := f.coordinator.PendingCount("AAPL"); got != 0 {
		t.Fatalf("rejected payloads must not buffer, pending = %d", got)
	}
}

func TestNoConsensusLeavesDecisionsBuffered(t *testing.T) {
	f := newFixture(t, CoordinatorConfig{}, permissiveLimits())
	f.overrides.SetVotingStrategy(models.VotingUnanimous)

	submit(t, f.coordinator, models.AgentDecision{
		AgentID: "a1", Symbol: "AAPL", Action: models.ActionBuy,
		Quantity: 1, Confidence: 0.8, CorrelationID: "c1",
	})
	submit(t, f.coordinator, models.AgentDecision{
		AgentID: "a2", Symbol: "AAPL", Action: models.ActionSell,
		Quantity: 1, Confidence: 0.8, CorrelationID: "c1",
	})

	if got := len(f.publisher.published()); got != 0 {
		t.Fatalf("unanimous conflict must not publish, got %d", got)
	}
	if got := f.coordinator.PendingCount("AAPL"); got != 2 {
		t.Fatalf("pending = %d, want 2 (left for expiry)", got)
	}
}

func TestRiskBlockedOverride(t *testing.T) {
	limits := permissiveLimits()
	limits.MaxPositionValue = 500
	f := newFixture(t, CoordinatorConfig{FallbackPrice: 100}, limits)

	submit(t, f.coordinator, models.AgentDecision{
		AgentID: "a1", Symbol: "AAPL", Action: models.ActionBuy,
		Quantity: 10, Confidence: 0.9, CorrelationID: "c1",
	})
	submit(t, f.coordinator, models.AgentDecision{
		AgentID: "a2", Symbol: "AAPL", Action: models.ActionBuy,
		Quantity: 10, Confidence: 0.9, CorrelationID: "c1",
	})

	decisions := f.publisher.published()
	if len(decisions) != 1 {
		t.Fatalf("published = %d, want 1", len(decisions))
	}
	out := decisions[0]
	if out.Action != models.ActionHold || out.Quantity != 0 {
		t.Fatalf("blocked decision not held: %+v", out)
	}
	if out.OverrideApplied != "risk_blocked:"+string(models.ViolationPositionLimit) {
		t.Fatalf("override = %q", out.OverrideApplied)
	}
	f.publisher.mu.Lock()
	nViolations := len(f.publisher.violations)
	f.publisher.mu.Unlock()
	if nViolations != 1 {
		t.Fatalf("violations published = %d, want 1", nViolations)
	}
}

func TestEmergencyStopOverride(t *testing.T) {
	f := newFixture(t, CoordinatorConfig{}, permissiveLimits())
	f.overrides.SetEmergency(true)

	submit(t, f.coordinator, models.AgentDecision{
		AgentID: "a1", Symbol: "AAPL", Action: models.ActionBuy,
		Quantity: 1, Confidence: 0.9, CorrelationID: "c1",
	})
	submit(t, f.coordinator, models.AgentDecision{
		AgentID: "a2", Symbol: "AAPL", Action: models.ActionBuy,
		Quantity: 1, Confidence: 0.9, CorrelationID: "c1",
	})

	out := f.publisher.published()[0]
	if out.OverrideApplied != "emergency_stop" || out.Action != models.ActionHold {
		t.Fatalf("decision = %+v, want emergency_stop HOLD", out)
	}
}

func TestEngineKillSwitchForcesEmergencyOverride(t *testing.T) {
	f := newFixture(t, CoordinatorConfig{}, permissiveLimits())
	f.engine.EmergencyStop("manual")

	submit(t, f.coordinator, models.AgentDecision{
		AgentID: "a1", Symbol: "AAPL", Action: models.ActionSell,
		Quantity: 1, Confidence: 0.9, CorrelationID: "c1",
	})
	submit(t, f.coordinator, models.AgentDecision{
		AgentID: "a2", Symbol: "AAPL", Action: models.ActionSell,
		Quantity: 1, Confidence: 0.9, CorrelationID: "c1",
	})

	out := f.publisher.published()[0]
	// The kill switch also denies the order at the risk check, which runs first.
	if out.Action != models.ActionHold || out.Quantity != 0 {
		t.Fatalf("decision = %+v, want HOLD 0", out)
	}
	if out.OverrideApplied == "" {
		t.Fatalf("expected a blocking override")
	}
}

func TestSymbolPausedOverride(t *testing.T) {
	f := newFixture(t, CoordinatorConfig{}, permissiveLimits())
	f.overrides.PauseStrategy("AAPL")

	submit(t, f.coordinator, models.AgentDecision{
		AgentID: "a1", Symbol: "AAPL", Action: models.ActionBuy,
		Quantity: 1, Confidence: 0.9, CorrelationID: "c1",
	})
	submit(t, f.coordinator, models.AgentDecision{
		AgentID: "a2", Symbol: "AAPL", Action: models.ActionBuy,
		Quantity: 1, Confidence: 0.9, CorrelationID: "c1",
	})

	out := f.publisher.published()[0]
	if out.OverrideApplied != "symbol_paused" || out.Action != models.ActionHold {
		t.Fatalf("decision = %+v, want symbol_paused HOLD", out)
	}
}

func TestPausedAgentOverride(t *testing.T) {
	f := newFixture(t, CoordinatorConfig{}, permissiveLimits())
	f.overrides.PauseStrategy("momentum")

	submit(t, f.coordinator, models.AgentDecision{
		AgentID: "momentum", Symbol: "AAPL", Action: models.ActionBuy,
		Quantity: 1, Confidence: 0.9, CorrelationID: "c1",
	})
	submit(t, f.coordinator, models.AgentDecision{
		AgentID: "meanrev", Symbol: "AAPL", Action: models.ActionBuy,
		Quantity: 1, Confidence: 0.9, CorrelationID: "c1",
	})

	out := f.publisher.published()[0]
	if out.OverrideApplied != "symbol_paused" {
		t.Fatalf("override = %q, want symbol_paused", out.OverrideApplied)
	}
}

func TestPositionCapClipsQuantity(t *testing.T) {
	f := newFixture(t, CoordinatorConfig{}, permissiveLimits())
	f.overrides.SetCap("AAPL", 3)

	submit(t, f.coordinator, models.AgentDecision{
		AgentID: "a1", Symbol: "AAPL", Action: models.ActionBuy,
		Quantity: 10, Confidence: 0.9, CorrelationID: "c1",
	})
	submit(t, f.coordinator, models.AgentDecision{
		AgentID: "a2", Symbol: "AAPL", Action: models.ActionBuy,
		Quantity: 10, Confidence: 0.9, CorrelationID: "c1",
	})

	out := f.publisher.published()[0]
	if out.Action != models.ActionBuy {
		t.Fatalf("cap must not change the action, got %s", out.Action)
	}
	if out.Quantity != 3 {
		t.Fatalf("quantity = %v, want 3", out.Quantity)
	}
	if out.OverrideApplied != "position_limit" {
		t.Fatalf("override = %q, want position_limit", out.OverrideApplied)
	}
}

func TestEstimatePricePrefersPositionThenCacheThenFallback(t *testing.T) {
	f := newFixture(t, CoordinatorConfig{FallbackPrice: 42}, permissiveLimits())
	ctx := context.Background()

	if got := f.coordinator.estimatePrice(ctx, "AAPL"); got != 42 {
		t.Fatalf("fallback price = %v, want 42", got)
	}

	f.prices.SetLastPrice(ctx, "AAPL", 180)
	if got := f.coordinator.estimatePrice(ctx, "AAPL"); got != 180 {
		t.Fatalf("cached price = %v, want 180", got)
	}

	f.engine.UpdatePosition("AAPL", 10, 175)
	if got := f.coordinator.estimatePrice(ctx, "AAPL"); got != 175 {
		t.Fatalf("position price = %v, want 175", got)
	}
}

func TestExpirePendingDropPolicy(t *testing.T) {
	f := newFixture(t, CoordinatorConfig{PendingTTL: 10 * time.Second}, permissiveLimits())

	base := time.Now()
	f.coordinator.now = func() time.Time { return base }

	submit(t, f.coordinator, models.AgentDecision{
		AgentID: "a1", Symbol: "AAPL", Action: models.ActionBuy,
		Quantity: 1, Confidence: 0.9, CorrelationID: "c1",
	})

	f.coordinator.now = func() time.Time { return base.Add(5 * time.Second) }
	f.coordinator.ExpirePending(context.Background())
	if got := f.coordinator.PendingCount("AAPL"); got != 1 {
		t.Fatalf("expired before deadline, pending = %d", got)
	}

	f.coordinator.now = func() time.Time { return base.Add(11 * time.Second) }
	f.coordinator.ExpirePending(context.Background())
	if got := f.coordinator.PendingCount("AAPL"); got != 0 {
		t.Fatalf("pending after expiry = %d, want 0", got)
	}
	if got := len(f.publisher.published()); got != 0 {
		t.Fatalf("drop policy must not publish, got %d", got)
	}
}

func TestExpirePendingSinglePolicyCoordinates(t *testing.T) {
	f := newFixture(t, CoordinatorConfig{
		PendingTTL:   10 * time.Second,
		ExpiryPolicy: ExpirySingle,
	}, permissiveLimits())

	base := time.Now()
	f.coordinator.now = func() time.Time { return base }

	submit(t, f.coordinator, models.AgentDecision{
		AgentID: "solo", Symbol: "AAPL", Action: models.ActionBuy,
		Quantity: 7, Confidence: 0.6, CorrelationID: "c1",
	})

	f.coordinator.now = func() time.Time { return base.Add(11 * time.Second) }
	f.coordinator.ExpirePending(context.Background())

	decisions := f.publisher.published()
	if len(decisions) != 1 {
		t.Fatalf("published = %d, want 1", len(decisions))
	}
	out := decisions[0]
	if out.Action != models.ActionBuy || out.Quantity != 7 {
		t.Fatalf("single-policy decision = %+v", out)
	}
	if len(out.ParticipatingAgents) != 1 || out.ParticipatingAgents[0] != "solo" {
		t.Fatalf("agents = %v", out.ParticipatingAgents)
	}
	if got := f.coordinator.PendingCount("AAPL"); got != 0 {
		t.Fatalf("pending after expiry = %d", got)
	}
}

func TestStatusReflectsState(t *testing.T) {
	f := newFixture(t, CoordinatorConfig{}, permissiveLimits())
	f.overrides.PauseStrategy("MSFT")
	f.overrides.SetCap("AAPL", 25)

	submit(t, f.coordinator, models.AgentDecision{
		AgentID: "a1", Symbol: "AAPL", Action: models.ActionBuy,
		Quantity: 1, Confidence: 0.9, CorrelationID: "c1",
	})

	st := f.coordinator.Status()
	if st.VotingStrategy != models.VotingConfidenceWeighted {
		t.Fatalf("strategy = %s", st.VotingStrategy)
	}
	if len(st.PausedStrategies) != 1 || st.PausedStrategies[0] != "MSFT" {
		t.Fatalf("paused = %v", st.PausedStrategies)
	}
	if st.ActiveDecisions["AAPL"] != 1 {
		t.Fatalf("active = %v", st.ActiveDecisions)
	}
	if st.SymbolLimits["AAPL"] != 25 {
		t.Fatalf("limits = %v", st.SymbolLimits)
	}
	if st.EmergencyActive {
		t.Fatalf("emergency unexpectedly active")
	}

	f.overrides.SetEmergency(true)
	if st := f.coordinator.Status(); !st.EmergencyActive {
		t.Fatalf("emergency flag not reflected")
	}
}
