package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"MetaAgent/internal/domain/models"
	domrepo "MetaAgent/internal/domain/repository"
	"MetaAgent/internal/services/consensus"
	"MetaAgent/internal/services/risk"
	"MetaAgent/pkg/logger"
)

// Expiry policies for correlation ids stuck below the voting threshold.
const (
	ExpiryDrop   = "drop"
	ExpirySingle = "single"
)

// CoordinatorConfig tunes the decision aggregation behaviour.
type CoordinatorConfig struct {
	// MinAgents is how many decisions must share (symbol, correlation id)
	// before a coordination fires.
	MinAgents int
	// PendingTTL bounds how long an incomplete correlation is buffered.
	PendingTTL time.Duration
	// ExpirySweep is the interval of the pending-expiry worker.
	ExpirySweep time.Duration
	// ExpiryPolicy is ExpiryDrop or ExpirySingle.
	ExpiryPolicy string
	// FallbackPrice prices risk projections when no market price is known.
	FallbackPrice float64
	// Source stamps outbound decisions.
	Source string
}

func (c *CoordinatorConfig) normalize() {
	if c.MinAgents < 2 {
		c.MinAgents = 2
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = 30 * time.Second
	}
	if c.ExpirySweep <= 0 {
		c.ExpirySweep = time.Second
	}
	if c.ExpiryPolicy != ExpirySingle {
		c.ExpiryPolicy = ExpiryDrop
	}
	if c.FallbackPrice <= 0 {
		c.FallbackPrice = 100
	}
	if c.Source == "" {
		c.Source = "meta-agent"
	}
}

type pendingKey struct {
	symbol      string
	correlation string
}

type pendingBucket struct {
	decisions []*models.AgentDecision
	deadline  time.Time
}

// Coordinator buffers agent decisions per (symbol, correlation id),
// reconciles them through the voting engine once enough agents have
// spoken, runs the override pipeline and publishes the outcome.
// Processing is serialized per symbol; distinct symbols run in parallel.
type Coordinator struct {
	cfg       CoordinatorConfig
	log       *logger.Logger
	validate  *validator.Validate
	risk      *risk.Engine
	overrides *Overrides

	publisher  domrepo.DecisionPublisher
	store      domrepo.DecisionStore
	deadletter domrepo.DeadLetter
	prices     domrepo.PriceCache
	metrics    domrepo.Metrics

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	pending map[pendingKey]*pendingBucket

	now func() time.Time
}

func NewCoordinator(
	cfg CoordinatorConfig,
	log *logger.Logger,
	engine *risk.Engine,
	overrides *Overrides,
	publisher domrepo.DecisionPublisher,
	store domrepo.DecisionStore,
	deadletter domrepo.DeadLetter,
	prices domrepo.PriceCache,
	metrics domrepo.Metrics,
) *Coordinator {
	cfg.normalize()
	return &Coordinator{
		cfg:        cfg,
		log:        log,
		validate:   validator.New(),
		risk:       engine,
		overrides:  overrides,
		publisher:  publisher,
		store:      store,
		deadletter: deadletter,
		prices:     prices,
		metrics:    metrics,
		locks:      make(map[string]*sync.Mutex),
		pending:    make(map[pendingKey]*pendingBucket),
		now:        time.Now,
	}
}

// Submit ingests one raw agent decision. Malformed payloads go to the
// dead-letter queue and are never retried; the returned error is nil for
// them so the consumer does not redeliver.
func (c *Coordinator) Submit(ctx context.Context, payload []byte) error {
	var d models.AgentDecision
	if err := json.Unmarshal(payload, &d); err != nil {
		c.reject(ctx, payload, "unmarshal: "+err.Error())
		return nil
	}
	if err := c.validate.Struct(&d); err != nil {
		c.reject(ctx, payload, "validate: "+err.Error())
		return nil
	}

	c.log.Debug("received agent decision",
		logger.String("agent_id", d.AgentID),
		logger.String("symbol", d.Symbol),
		logger.String("action", string(d.Action)),
		logger.String("correlation_id", d.CorrelationID))

	key := pendingKey{symbol: d.Symbol, correlation: d.CorrelationID}
	lock := c.symbolLock(d.Symbol)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	b := c.pending[key]
	if b == nil {
		b = &pendingBucket{deadline: c.now().Add(c.cfg.PendingTTL)}
		c.pending[key] = b
	}
	b.decisions = append(b.decisions, &d)
	decisions := append([]*models.AgentDecision(nil), b.decisions...)
	c.updateGaugesLocked()
	c.mu.Unlock()

	if len(decisions) >= c.cfg.MinAgents {
		c.coordinate(ctx, key, decisions)
	}
	return nil
}

func (c *Coordinator) reject(ctx context.Context, payload []byte, reason string) {
	c.log.Warn("rejected agent decision", logger.String("reason", reason))
	if c.metrics != nil {
		c.metrics.RecordDeadLetter()
	}
	if c.deadletter == nil {
		return
	}
	if err := c.deadletter.Push(ctx, payload, reason); err != nil {
		c.log.Error("dead letter push failed", logger.Error(err))
		if c.metrics != nil {
			c.metrics.RecordError("dead_letter_push")
		}
	}
}

// coordinate runs voting and, on consensus, overrides and publication.
// The caller holds the symbol lock. Decisions stay buffered when no
// consensus is reached; the expiry worker reclaims them later.
func (c *Coordinator) coordinate(ctx context.Context, key pendingKey, decisions []*models.AgentDecision) {
	start := c.now()

	out, conflict := consensus.Vote(c.overrides.VotingStrategy(), decisions)
	if conflict && c.metrics != nil {
		c.metrics.RecordConflict()
	}
	if out == nil {
		c.log.Info("no consensus reached",
			logger.String("symbol", key.symbol),
			logger.String("correlation_id", key.correlation),
			logger.Int("decisions", len(decisions)))
		return
	}

	if c.metrics != nil {
		c.metrics.RecordConsensusConfidence(out.Confidence)
	}

	c.applyOverrides(ctx, out)
	out.Source = c.cfg.Source

	if err := c.publisher.PublishDecision(ctx, out); err != nil {
		// The decision already encodes the final policy-approved action;
		// producer-level retries never re-run risk checks.
		c.log.Error("publish decision failed", logger.Error(err),
			logger.String("correlation_id", out.CorrelationID))
		if c.metrics != nil {
			c.metrics.RecordError("publish_decision")
		}
	}
	if c.store != nil {
		if err := c.store.StoreDecision(ctx, out); err != nil {
			c.log.Error("store decision failed", logger.Error(err))
			if c.metrics != nil {
				c.metrics.RecordError("store_decision")
			}
		}
	}

	c.mu.Lock()
	delete(c.pending, key)
	c.updateGaugesLocked()
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordCoordination(string(out.ConsensusMethod))
		c.metrics.RecordLatency("coordinate", c.now().Sub(start).Seconds())
	}

	c.log.Info("published coordinated decision",
		logger.String("symbol", out.Symbol),
		logger.String("action", string(out.Action)),
		logger.Any("quantity", out.Quantity),
		logger.Any("confidence", out.Confidence),
		logger.Strings("agents", out.ParticipatingAgents),
		logger.String("override", out.OverrideApplied),
		logger.String("correlation_id", out.CorrelationID))
}

// applyOverrides mutates the decision through the override pipeline:
// risk denial, emergency stop, paused strategy, position cap. The first
// matching blocking override is terminal; the cap only clips quantity.
func (c *Coordinator) applyOverrides(ctx context.Context, d *models.CoordinatedDecision) {
	price := c.estimatePrice(ctx, d.Symbol)

	allowed, violation := c.risk.CheckOrderRisk(d.Symbol, d.Action, d.Quantity, price)
	if !allowed {
		tag := "risk_blocked:unknown"
		if violation != nil {
			tag = "risk_blocked:" + string(violation.Type)
			c.emitViolation(ctx, violation)
		}
		c.log.Warn("risk engine blocked decision",
			logger.String("symbol", d.Symbol),
			logger.String("action", string(d.Action)),
			logger.String("override", tag))
		c.block(d, tag)
		return
	}

	if c.overrides.EmergencyActive() || c.risk.KillSwitchActive() {
		c.block(d, "emergency_stop")
		return
	}

	if c.overrides.IsPausedFor(d) || c.risk.IsBlocked(d.Symbol) {
		c.block(d, "symbol_paused")
		return
	}

	if cap, ok := c.overrides.Cap(d.Symbol); ok && d.Quantity > cap {
		d.Quantity = cap
		d.OverrideApplied = "position_limit"
		if c.metrics != nil {
			c.metrics.RecordOverride("position_limit")
		}
	}
}

// block converts the decision to HOLD with zero quantity. Denied
// decisions are still published so downstream sees the outcome.
func (c *Coordinator) block(d *models.CoordinatedDecision, tag string) {
	d.Action = models.ActionHold
	d.Quantity = 0
	d.OverrideApplied = tag
	if c.metrics != nil {
		c.metrics.RecordOverride(tag)
	}
}

func (c *Coordinator) emitViolation(ctx context.Context, v *models.RiskViolation) {
	if err := c.publisher.PublishViolation(ctx, v); err != nil {
		c.log.Error("publish violation failed", logger.Error(err))
		if c.metrics != nil {
			c.metrics.RecordError("publish_violation")
		}
	}
	if c.store != nil {
		if err := c.store.StoreViolation(ctx, v); err != nil {
			c.log.Error("store violation failed", logger.Error(err))
			if c.metrics != nil {
				c.metrics.RecordError("store_violation")
			}
		}
	}
}

// estimatePrice resolves a price for risk projections: the marked price
// of an open position, else the cached last market price, else the
// configured fallback.
func (c *Coordinator) estimatePrice(ctx context.Context, symbol string) float64 {
	if pos, ok := c.risk.Position(symbol); ok && pos.CurrentPrice > 0 {
		return pos.CurrentPrice
	}
	if c.prices != nil {
		if price, ok, err := c.prices.LastPrice(ctx, symbol); err == nil && ok && price > 0 {
			return price
		}
	}
	return c.cfg.FallbackPrice
}

// Run drives the pending-expiry worker until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ExpirySweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ExpirePending(ctx)
		}
	}
}

// ExpirePending reclaims correlations past their deadline. Policy drop
// discards them; policy single coordinates on whatever was buffered.
func (c *Coordinator) ExpirePending(ctx context.Context) {
	now := c.now()

	c.mu.Lock()
	var expired []pendingKey
	for key, b := range c.pending {
		if now.After(b.deadline) {
			expired = append(expired, key)
		}
	}
	c.mu.Unlock()

	for _, key := range expired {
		lock := c.symbolLock(key.symbol)
		lock.Lock()

		c.mu.Lock()
		b := c.pending[key]
		if b == nil || !now.After(b.deadline) { // re-check under the symbol lock
			c.mu.Unlock()
			lock.Unlock()
			continue
		}
		decisions := b.decisions
		delete(c.pending, key)
		c.updateGaugesLocked()
		c.mu.Unlock()

		if c.metrics != nil {
			c.metrics.RecordExpiredCorrelation()
		}
		c.log.Info("pending correlation expired",
			logger.String("symbol", key.symbol),
			logger.String("correlation_id", key.correlation),
			logger.Int("decisions", len(decisions)),
			logger.String("policy", c.cfg.ExpiryPolicy))

		if c.cfg.ExpiryPolicy == ExpirySingle && len(decisions) > 0 {
			c.coordinate(ctx, key, decisions)
		}
		lock.Unlock()
	}
}

func (c *Coordinator) symbolLock(symbol string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[symbol] = lock
	}
	return lock
}

// updateGaugesLocked refreshes the pending and active-agent gauges.
// Caller holds c.mu.
func (c *Coordinator) updateGaugesLocked() {
	if c.metrics == nil {
		return
	}
	agents := make(map[string]struct{})
	for _, b := range c.pending {
		for _, d := range b.decisions {
			agents[d.AgentID] = struct{}{}
		}
	}
	c.metrics.SetPendingCorrelations(len(c.pending))
	c.metrics.SetActiveAgents(len(agents))
}

// Status is the control-plane view of coordinator state.
type Status struct {
	VotingStrategy   models.VotingStrategy `json:"voting_strategy"`
	PausedStrategies []string              `json:"paused_strategies"`
	ActiveDecisions  map[string]int        `json:"active_decisions"`
	SymbolLimits     map[string]float64    `json:"symbol_limits"`
	EmergencyActive  bool                  `json:"emergency_active"`
	RiskSummary      models.RiskSummary    `json:"risk_summary"`
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	active := make(map[string]int)
	for key, b := range c.pending {
		active[key.symbol] += len(b.decisions)
	}
	c.mu.Unlock()

	return Status{
		VotingStrategy:   c.overrides.VotingStrategy(),
		PausedStrategies: c.overrides.Paused(),
		ActiveDecisions:  active,
		SymbolLimits:     c.overrides.Caps(),
		EmergencyActive:  c.overrides.EmergencyActive() || c.risk.KillSwitchActive(),
		RiskSummary:      c.risk.Summary(),
	}
}

// PendingCount reports buffered decisions for a symbol, all correlations.
func (c *Coordinator) PendingCount(symbol string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	for key, b := range c.pending {
		if key.symbol == symbol {
			n += len(b.decisions)
		}
	}
	return n
}
