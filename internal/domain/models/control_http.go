package models

// Requests for the operator control plane. Defined in domain for consistency and reuse.

type StrategyRequest struct {
	StrategyID string `query:"strategy_id" json:"strategy_id" validate:"required"`
}

type SymbolRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
}

type EmergencyStopRequest struct {
	Reason string `query:"reason" json:"reason" default:"manual operator stop"`
}

type VotingStrategyRequest struct {
	Strategy string `query:"strategy" json:"strategy" validate:"required,oneof=majority weighted unanimous confidence_weighted"`
}

// RiskLimitsRequest is a partial update; nil fields keep their current value.
type RiskLimitsRequest struct {
	MaxDailyLoss          *float64 `json:"max_daily_loss,omitempty" validate:"omitempty,gt=0"`
	MaxPositionValue      *float64 `json:"max_position_value,omitempty" validate:"omitempty,gt=0"`
	MaxTotalExposure      *float64 `json:"max_total_exposure,omitempty" validate:"omitempty,gt=0"`
	MaxConcentration      *float64 `json:"max_concentration,omitempty" validate:"omitempty,gt=0,lte=1"`
	MaxCorrelatedExposure *float64 `json:"max_correlated_exposure,omitempty" validate:"omitempty,gt=0"`
	MaxOrderVelocity      *int     `json:"max_order_velocity,omitempty" validate:"omitempty,gt=0"`
}

type PositionCapRequest struct {
	Symbol      string  `json:"symbol" validate:"required"`
	MaxQuantity float64 `json:"max_quantity" validate:"gt=0"`
}

type ViolationsRequest struct {
	Limit int    `query:"limit" json:"limit" default:"20" validate:"gte=1,lte=500"`
	Since string `query:"since" json:"since,omitempty"`
}
