package models

import "time"

// Action is a trading action recommended by an agent.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Valid reports whether the action is one of the known variants.
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold:
		return true
	}
	return false
}

// VotingStrategy selects how conflicting agent decisions are reconciled.
type VotingStrategy string

const (
	VotingMajority           VotingStrategy = "majority"
	VotingWeighted           VotingStrategy = "weighted"
	VotingUnanimous          VotingStrategy = "unanimous"
	VotingConfidenceWeighted VotingStrategy = "confidence_weighted"
)

// Valid reports whether the strategy name is known.
func (s VotingStrategy) Valid() bool {
	switch s {
	case VotingMajority, VotingWeighted, VotingUnanimous, VotingConfidenceWeighted:
		return true
	}
	return false
}

// AgentDecision is one agent's recommendation for a symbol, consumed once
// by coordination. Matches the decisions.order_intent message schema.
type AgentDecision struct {
	AgentID       string    `json:"agent_id" validate:"required"`
	Symbol        string    `json:"symbol" validate:"required"`
	Action        Action    `json:"action" validate:"required,oneof=BUY SELL HOLD"`
	Quantity      float64   `json:"quantity" validate:"gte=0"`
	Confidence    float64   `json:"confidence" validate:"gte=0,lte=1"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id" validate:"required"`
	Reasoning     string    `json:"reasoning"`
}

// CoordinatedDecision is the terminal outcome of one coordination round,
// published to decisions.meta.
type CoordinatedDecision struct {
	Symbol              string         `json:"symbol"`
	Action              Action         `json:"action"`
	Quantity            float64        `json:"quantity"`
	Confidence          float64        `json:"confidence"`
	ParticipatingAgents []string       `json:"participating_agents"`
	ConsensusMethod     VotingStrategy `json:"consensus_method"`
	Timestamp           time.Time      `json:"timestamp"`
	CorrelationID       string         `json:"correlation_id"`
	OverrideApplied     string         `json:"override_applied,omitempty"`
	Source              string         `json:"source"`
}
