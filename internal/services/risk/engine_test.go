package risk

import (
	"math"
	"testing"
	"time"

	"MetaAgent/internal/domain/models"
)

func testLimits() models.RiskLimits {
	return models.RiskLimits{
		MaxDailyLoss:          1000,
		MaxPositionValue:      50000,
		MaxTotalExposure:      200000,
		MaxConcentration:      0.8,
		MaxCorrelatedExposure: 100000,
		MaxOrderVelocity:      100,
	}
}

func testBuckets() map[string][]string {
	return map[string][]string{
		"tech":    {"AAPL", "MSFT"},
		"finance": {"JPM"},
	}
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(testLimits(), testBuckets(), opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNewEngineRejectsInvalidLimits(t *testing.T) {
	limits := testLimits()
	limits.MaxDailyLoss = 0
	if _, err := NewEngine(limits, nil); err == nil {
		t.Fatalf("expected error for zero max_daily_loss")
	}
}

func TestCorrelationBucketFallback(t *testing.T) {
	e := newTestEngine(t)
	if got := e.CorrelationBucket("AAPL"); got != "tech" {
		t.Fatalf("AAPL bucket = %s", got)
	}
	if got := e.CorrelationBucket("BTCUSD"); got != "other" {
		t.Fatalf("unmapped bucket = %s, want other", got)
	}
}

func TestUpdatePositionAveragePriceAndRealizedPnL(t *testing.T) {
	e := newTestEngine(t)

	e.UpdatePosition("AAPL", 10, 100)
	e.UpdatePosition("AAPL", 10, 200)

	pos, ok := e.Position("AAPL")
	if !ok {
		t.Fatalf("expected position")
	}
	if !almostEqual(pos.AveragePrice, 150) || !almostEqual(pos.Quantity, 20) {
		t.Fatalf("after buys: avg=%v qty=%v", pos.AveragePrice, pos.Quantity)
	}

	e.UpdatePosition("AAPL", -15, 180)
	pos, ok = e.Position("AAPL")
	if !ok {
		t.Fatalf("expected remaining position")
	}
	if !almostEqual(pos.RealizedPnL, 450) {
		t.Fatalf("realized pnl = %v, want 450", pos.RealizedPnL)
	}
	if !almostEqual(pos.Quantity, 5) {
		t.Fatalf("quantity = %v, want 5", pos.Quantity)
	}
}

func TestUpdatePositionRemovesAtZero(t *testing.T) {
	e := newTestEngine(t)
	e.UpdatePosition("AAPL", 10, 100)
	e.UpdatePosition("AAPL", -10, 110)
	if _, ok := e.Position("AAPL"); ok {
		t.Fatalf("expected position removed at zero quantity")
	}
}

func TestCheckOrderRiskDailyLoss(t *testing.T) {
	e := newTestEngine(t)

	// Buy and mark the book down past the daily loss limit.
	e.UpdatePosition("AAPL", 100, 100)
	e.UpdateMarketPrices(map[string]float64{"AAPL": 89})
	if pnl := e.DailyPnL(); pnl >= -1000 {
		t.Fatalf("daily pnl = %v, want below -1000", pnl)
	}

	allowed, v := e.CheckOrderRisk("MSFT", models.ActionBuy, 1, 1.0)
	if allowed {
		t.Fatalf("expected denial")
	}
	if v == nil || v.Type != models.ViolationMaxDailyLoss {
		t.Fatalf("violation = %+v, want max_daily_loss", v)
	}
	if v.Severity != models.SeverityCritical {
		t.Fatalf("severity = %s, want critical", v.Severity)
	}
}

func TestCheckOrderRiskPositionValue(t *testing.T) {
	e := newTestEngine(t)
	allowed, v := e.CheckOrderRisk("AAPL", models.ActionBuy, 1000, 100)
	if allowed {
		t.Fatalf("expected denial: projected value 100000 > 50000")
	}
	if v.Type != models.ViolationPositionLimit {
		t.Fatalf("violation type = %s", v.Type)
	}
}

func TestCheckOrderRiskBlockedSymbol(t *testing.T) {
	e := newTestEngine(t)
	e.BlockSymbol("AAPL")

	allowed, v := e.CheckOrderRisk("AAPL", models.ActionBuy, 1, 100)
	if allowed || v.Severity != models.SeverityCritical {
		t.Fatalf("expected critical denial, got allowed=%v v=%+v", allowed, v)
	}

	e.UnblockSymbol("AAPL")
	if allowed, _ := e.CheckOrderRisk("AAPL", models.ActionBuy, 1, 100); !allowed {
		t.Fatalf("expected allow after unblock")
	}
}

func TestCheckOrderRiskConcentration(t *testing.T) {
	limits := testLimits()
	limits.MaxConcentration = 0.3
	e, err := NewEngine(limits, testBuckets())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	e.UpdatePosition("AAPL", 100, 100) // 10000
	e.UpdatePosition("JPM", 100, 100)  // 10000

	// Projected MSFT value 9000 over projected total 29000 is ~31%.
	allowed, v := e.CheckOrderRisk("MSFT", models.ActionBuy, 90, 100)
	if allowed {
		t.Fatalf("expected concentration denial")
	}
	if v.Type != models.ViolationConcentration {
		t.Fatalf("violation type = %s", v.Type)
	}
}

func TestCheckOrderRiskCorrelatedExposure(t *testing.T) {
	limits := testLimits()
	limits.MaxCorrelatedExposure = 15000
	limits.MaxConcentration = 1.0
	e, err := NewEngine(limits, testBuckets())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	e.UpdatePosition("AAPL", 100, 100) // tech: 10000
	allowed, v := e.CheckOrderRisk("MSFT", models.ActionBuy, 60, 100)
	if allowed {
		t.Fatalf("expected correlated exposure denial: tech would reach 16000")
	}
	if v.Type != models.ViolationCorrelation {
		t.Fatalf("violation type = %s", v.Type)
	}
}

func TestCheckOrderRiskVelocity(t *testing.T) {
	limits := testLimits()
	limits.MaxOrderVelocity = 3
	fixed := time.Date(2025, 6, 2, 14, 30, 10, 0, time.UTC)
	e, err := NewEngine(limits, testBuckets(), WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	for i := 0; i < 3; i++ {
		if allowed, v := e.CheckOrderRisk("AAPL", models.ActionBuy, 1, 1); !allowed {
			t.Fatalf("order %d denied: %+v", i, v)
		}
	}
	allowed, v := e.CheckOrderRisk("AAPL", models.ActionBuy, 1, 1)
	if allowed {
		t.Fatalf("expected velocity denial on 4th order in the same minute")
	}
	if v.Type != models.ViolationVelocity {
		t.Fatalf("violation type = %s", v.Type)
	}

	// A new minute clears the bucket.
	fixed = fixed.Add(time.Minute)
	if allowed, _ := e.CheckOrderRisk("AAPL", models.ActionBuy, 1, 1); !allowed {
		t.Fatalf("expected allow in next minute bucket")
	}
}

func TestHoldSkipsProjectionChecks(t *testing.T) {
	limits := testLimits()
	limits.MaxPositionValue = 1 // would deny any BUY
	e, err := NewEngine(limits, testBuckets())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if allowed, v := e.CheckOrderRisk("AAPL", models.ActionHold, 100, 100); !allowed {
		t.Fatalf("HOLD denied: %+v", v)
	}
}

func TestEmergencyStopIdempotentAndPermanent(t *testing.T) {
	e := newTestEngine(t)
	e.EmergencyStop("test")
	e.EmergencyStop("test again")

	if !e.KillSwitchActive() {
		t.Fatalf("kill switch should be active")
	}
	allowed, v := e.CheckOrderRisk("AAPL", models.ActionHold, 0, 0)
	if allowed {
		t.Fatalf("expected denial with kill switch active")
	}
	if v.Severity != models.SeverityEmergency {
		t.Fatalf("severity = %s, want emergency", v.Severity)
	}

	e.ResetKillSwitch()
	if e.KillSwitchActive() {
		t.Fatalf("kill switch should be cleared after explicit reset")
	}
	if allowed, _ := e.CheckOrderRisk("AAPL", models.ActionBuy, 1, 100); !allowed {
		t.Fatalf("expected allow after reset")
	}
}

func TestSweepEscalatesToEmergencyStop(t *testing.T) {
	limits := testLimits()
	limits.MaxTotalExposure = 5000
	limits.MaxConcentration = 1.0

	var sunk []models.RiskViolation
	e, err := NewEngine(limits, testBuckets(), WithViolationSink(func(v models.RiskViolation) {
		sunk = append(sunk, v)
	}))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	// Build a position within limits, then crash the price so the sweep
	// sees both a daily loss breach and (after a pump) an exposure breach.
	e.UpdatePosition("AAPL", 40, 100) // 4000
	e.ResetDailyCounters()
	e.UpdateMarketPrices(map[string]float64{"AAPL": 60}) // pnl -1600, exposure 2400
	if e.KillSwitchActive() {
		t.Fatalf("one critical violation must not trip the kill switch")
	}

	e.UpdateMarketPrices(map[string]float64{"AAPL": 10}) // pnl -3600, still one critical
	if e.KillSwitchActive() {
		t.Fatalf("single-category criticals must not escalate")
	}

	// Price pump: exposure 8000 > 5000 while pnl is positive again.
	e.UpdateMarketPrices(map[string]float64{"AAPL": 200})
	if e.KillSwitchActive() {
		t.Fatalf("exposure breach alone must not escalate")
	}

	// Re-baseline high, then crash: exposure stays breached at 6000 and
	// daily pnl is -2000. Two criticals in one sweep escalate.
	e.ResetDailyCounters()
	e.UpdateMarketPrices(map[string]float64{"AAPL": 150})
	if !e.KillSwitchActive() {
		t.Fatalf("two critical violations in one sweep must trigger emergency stop")
	}
	if len(sunk) == 0 {
		t.Fatalf("sweep violations should reach the sink")
	}
}

func TestResetDailyCountersKeepsKillSwitchAndBlocks(t *testing.T) {
	e := newTestEngine(t)
	e.UpdatePosition("AAPL", 10, 100)
	e.UpdateMarketPrices(map[string]float64{"AAPL": 50})
	e.BlockSymbol("MSFT")
	e.EmergencyStop("test")

	e.ResetDailyCounters()
	if pnl := e.DailyPnL(); !almostEqual(pnl, 0) {
		t.Fatalf("daily pnl after reset = %v, want 0", pnl)
	}
	if !e.KillSwitchActive() {
		t.Fatalf("reset must not clear kill switch")
	}
	if !e.IsBlocked("MSFT") {
		t.Fatalf("reset must not clear blocked symbols")
	}
}

func TestUpdateLimitsPartialAndValidated(t *testing.T) {
	e := newTestEngine(t)
	loss := 2500.0
	got, err := e.UpdateLimits(models.RiskLimitsRequest{MaxDailyLoss: &loss})
	if err != nil {
		t.Fatalf("UpdateLimits: %v", err)
	}
	if got.MaxDailyLoss != 2500 || got.MaxPositionValue != testLimits().MaxPositionValue {
		t.Fatalf("unexpected limits %+v", got)
	}

	bad := -1.0
	if _, err := e.UpdateLimits(models.RiskLimitsRequest{MaxConcentration: &bad}); err == nil {
		t.Fatalf("expected validation error")
	}
	if e.Limits().MaxConcentration != testLimits().MaxConcentration {
		t.Fatalf("failed update must not change limits")
	}
}

func TestSummary(t *testing.T) {
	e := newTestEngine(t)
	e.UpdatePosition("AAPL", 10, 100)
	e.UpdatePosition("JPM", 5, 50)
	e.BlockSymbol("XOM")

	s := e.Summary()
	if s.PositionCount != 2 {
		t.Fatalf("position count = %d", s.PositionCount)
	}
	if !almostEqual(s.TotalExposure, 1250) {
		t.Fatalf("total exposure = %v", s.TotalExposure)
	}
	if !almostEqual(s.CorrelationExposures["tech"], 1000) {
		t.Fatalf("tech exposure = %v", s.CorrelationExposures["tech"])
	}
	if s.LargestPosition != "AAPL" {
		t.Fatalf("largest position = %s", s.LargestPosition)
	}
	if len(s.BlockedSymbols) != 1 || s.BlockedSymbols[0] != "XOM" {
		t.Fatalf("blocked symbols = %v", s.BlockedSymbols)
	}
}

func TestViolationsBounded(t *testing.T) {
	e := newTestEngine(t)
	e.BlockSymbol("AAPL")
	for i := 0; i < 25; i++ {
		e.CheckOrderRisk("AAPL", models.ActionBuy, 1, 1)
	}
	if got := len(e.Violations(10)); got != 10 {
		t.Fatalf("violations(10) returned %d", got)
	}
	if got := len(e.Violations(0)); got != 25 {
		t.Fatalf("violations(0) returned %d, want all 25", got)
	}
}
