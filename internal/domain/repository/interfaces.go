package repository

import (
	"context"

	"MetaAgent/internal/domain/models"
)

// DecisionPublisher emits coordinated decisions and risk violations downstream.
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, d *models.CoordinatedDecision) error
	PublishViolation(ctx context.Context, v *models.RiskViolation) error
	Close() error
}

// DeadLetter receives malformed agent decisions. They are never retried.
type DeadLetter interface {
	Push(ctx context.Context, payload []byte, reason string) error
}

// DecisionStore persists published decisions and violations for history queries.
type DecisionStore interface {
	StoreDecision(ctx context.Context, d *models.CoordinatedDecision) error
	StoreViolation(ctx context.Context, v *models.RiskViolation) error
	Health(ctx context.Context) error
	Close() error
}

// PriceStream delivers market price updates for held symbols.
type PriceStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.PriceUpdate, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// Snapshotter keeps a best-effort copy of engine state outside the process.
type Snapshotter interface {
	SaveSummary(ctx context.Context, s models.RiskSummary) error
}

// PriceCache holds the latest observed price per symbol. Used to price
// risk projections for symbols without an open position.
type PriceCache interface {
	SetLastPrice(ctx context.Context, symbol string, price float64) error
	LastPrice(ctx context.Context, symbol string) (float64, bool, error)
}

// Metrics records domain-level observations.
type Metrics interface {
	RecordCoordination(method string)
	RecordConflict()
	RecordConsensusConfidence(v float64)
	RecordOverride(tag string)
	RecordViolation(violationType string)
	RecordBlockedOrder()
	RecordEmergencyStop()
	RecordDeadLetter()
	RecordExpiredCorrelation()
	SetActiveAgents(n int)
	SetPendingCorrelations(n int)
	SetTotalExposure(v float64)
	SetSymbolExposure(symbol string, v float64)
	SetDailyPnL(v float64)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
