package usecase

import (
	"context"
	"encoding/json"
	"testing"

	"MetaAgent/internal/domain/models"
	"MetaAgent/internal/services/risk"
)

type noopMetrics struct{}

func (noopMetrics) RecordCoordination(string)         {}
func (noopMetrics) RecordConflict()                   {}
func (noopMetrics) RecordConsensusConfidence(float64) {}
func (noopMetrics) RecordOverride(string)             {}
func (noopMetrics) RecordViolation(string)            {}
func (noopMetrics) RecordBlockedOrder()               {}
func (noopMetrics) RecordEmergencyStop()              {}
func (noopMetrics) RecordDeadLetter()                 {}
func (noopMetrics) RecordExpiredCorrelation()         {}
func (noopMetrics) SetActiveAgents(int)               {}
func (noopMetrics) SetPendingCorrelations(int)        {}
func (noopMetrics) SetTotalExposure(float64)          {}
func (noopMetrics) SetSymbolExposure(string, float64) {}
func (noopMetrics) SetDailyPnL(float64)               {}
func (noopMetrics) RecordError(string)                {}
func (noopMetrics) RecordLatency(string, float64)     {}

func newFillsFixture(t *testing.T) (*KafkaFillsHandler, *risk.Engine, *fakePriceCache) {
	t.Helper()
	engine, err := risk.NewEngine(permissiveLimits(), nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	prices := &fakePriceCache{}
	h := NewKafkaFillsHandler("executions.fill", testLogger(t), engine, prices, noopMetrics{})
	return h, engine, prices
}

func handleFill(t *testing.T, h *KafkaFillsHandler, f models.Fill) {
	t.Helper()
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := h.Handle(context.Background(), b); err != nil {
		t.Fatalf("Handle: %v", err)
	}
}

func TestFillsHandlerBuildsPosition(t *testing.T) {
	h, engine, prices := newFillsFixture(t)

	handleFill(t, h, models.Fill{
		CorrID: "c1", OrderID: "o1", FillID: "f1",
		Instrument: "AAPL", Side: "buy", FillQuantity: 10, FillPrice: 150,
	})

	pos, ok := engine.Position("AAPL")
	if !ok {
		t.Fatalf("position not created")
	}
	if pos.Quantity != 10 || pos.AveragePrice != 150 {
		t.Fatalf("position = %+v", pos)
	}
	if p, ok, _ := prices.LastPrice(context.Background(), "AAPL"); !ok || p != 150 {
		t.Fatalf("last price = %v %v", p, ok)
	}
}

func TestFillsHandlerSellReducesPosition(t *testing.T) {
	h, engine, _ := newFillsFixture(t)

	handleFill(t, h, models.Fill{
		Instrument: "AAPL", Side: "BUY", FillQuantity: 10, FillPrice: 100,
	})
	handleFill(t, h, models.Fill{
		Instrument: "AAPL", Side: "SELL", FillQuantity: 4, FillPrice: 120,
	})

	pos, ok := engine.Position("AAPL")
	if !ok {
		t.Fatalf("position missing")
	}
	if pos.Quantity != 6 {
		t.Fatalf("quantity = %v, want 6", pos.Quantity)
	}
	if pos.RealizedPnL != 80 {
		t.Fatalf("realized pnl = %v, want 80", pos.RealizedPnL)
	}
}

func TestFillsHandlerDropsInvalidFill(t *testing.T) {
	h, engine, _ := newFillsFixture(t)

	// Missing instrument and non-positive quantity fail validation;
	// the handler drops the message without a consumer retry.
	b, _ := json.Marshal(models.Fill{Side: "buy", FillQuantity: 0, FillPrice: 10})
	if err := h.Handle(context.Background(), b); err != nil {
		t.Fatalf("invalid fill must not error: %v", err)
	}
	if _, ok := engine.Position(""); ok {
		t.Fatalf("position created from invalid fill")
	}
}

func TestFillsHandlerUnmarshalErrorIsRetryable(t *testing.T) {
	h, _, _ := newFillsFixture(t)
	if err := h.Handle(context.Background(), []byte("{broken")); err == nil {
		t.Fatalf("expected unmarshal error")
	}
}
