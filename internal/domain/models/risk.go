package models

import (
	"fmt"
	"time"
)

// ViolationType classifies a risk rule breach.
type ViolationType string

const (
	ViolationMaxDailyLoss  ViolationType = "max_daily_loss"
	ViolationPositionLimit ViolationType = "position_limit"
	ViolationCorrelation   ViolationType = "correlation_limit"
	ViolationConcentration ViolationType = "concentration_risk"
	ViolationVelocity      ViolationType = "velocity_limit"
	ViolationExposure      ViolationType = "exposure_limit"
)

// Severity grades a violation.
type Severity string

const (
	SeverityWarning   Severity = "warning"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// RiskViolation is a first-class denial value, never an error. Append-only.
type RiskViolation struct {
	Type      ViolationType          `json:"violation_type"`
	Symbol    string                 `json:"symbol,omitempty"`
	Message   string                 `json:"message"`
	Severity  Severity               `json:"severity"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Position is an open holding in one symbol.
type Position struct {
	Symbol            string    `json:"symbol"`
	Quantity          float64   `json:"quantity"`
	AveragePrice      float64   `json:"average_price"`
	CurrentPrice      float64   `json:"current_price"`
	RealizedPnL       float64   `json:"realized_pnl"`
	Timestamp         time.Time `json:"timestamp"`
	CorrelationBucket string    `json:"correlation_bucket"`
}

// Value is the current market value of the position.
func (p Position) Value() float64 {
	return p.Quantity * p.CurrentPrice
}

// UnrealizedPnL is the mark-to-market profit against the average entry price.
func (p Position) UnrealizedPnL() float64 {
	return (p.CurrentPrice - p.AveragePrice) * p.Quantity
}

// RiskLimits is the operator-editable limit configuration.
type RiskLimits struct {
	MaxDailyLoss          float64 `json:"max_daily_loss" yaml:"max_daily_loss"`
	MaxPositionValue      float64 `json:"max_position_value" yaml:"max_position_value"`
	MaxTotalExposure      float64 `json:"max_total_exposure" yaml:"max_total_exposure"`
	MaxConcentration      float64 `json:"max_concentration" yaml:"max_concentration"`
	MaxCorrelatedExposure float64 `json:"max_correlated_exposure" yaml:"max_correlated_exposure"`
	MaxOrderVelocity      int     `json:"max_order_velocity" yaml:"max_order_velocity"`
}

// Validate rejects limit sets that would deny or allow everything.
func (l RiskLimits) Validate() error {
	switch {
	case l.MaxDailyLoss <= 0:
		return fmt.Errorf("max_daily_loss must be positive")
	case l.MaxPositionValue <= 0:
		return fmt.Errorf("max_position_value must be positive")
	case l.MaxTotalExposure <= 0:
		return fmt.Errorf("max_total_exposure must be positive")
	case l.MaxConcentration <= 0 || l.MaxConcentration > 1:
		return fmt.Errorf("max_concentration must be in (0, 1]")
	case l.MaxCorrelatedExposure <= 0:
		return fmt.Errorf("max_correlated_exposure must be positive")
	case l.MaxOrderVelocity <= 0:
		return fmt.Errorf("max_order_velocity must be positive")
	}
	return nil
}

// RiskSummary is a read-only snapshot of engine state.
type RiskSummary struct {
	TotalExposure        float64            `json:"total_exposure"`
	DailyPnL             float64            `json:"daily_pnl"`
	PositionCount        int                `json:"position_count"`
	LargestPosition      string             `json:"largest_position,omitempty"`
	CorrelationExposures map[string]float64 `json:"correlation_exposures"`
	KillSwitchActive     bool               `json:"kill_switch_active"`
	BlockedSymbols       []string           `json:"blocked_symbols"`
	RecentViolations     []RiskViolation    `json:"recent_violations"`
}
