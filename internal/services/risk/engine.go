package risk

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"MetaAgent/internal/domain/models"
	domrepo "MetaAgent/internal/domain/repository"
)

const (
	// violationHistoryMax bounds the retained violation history.
	violationHistoryMax = 1000
	// velocityWindow is how far back order-velocity buckets are kept.
	velocityWindow = 2 * time.Minute
	// recentViolations is the default size of the summary violation list.
	recentViolations = 10
)

// Engine owns position and exposure state and gates every order against
// the configured risk limits. All state lives behind one mutex; checks are
// cheap and run as a single exclusive critical section.
type Engine struct {
	mu sync.Mutex

	limits    models.RiskLimits
	positions map[string]*models.Position
	blocked   map[string]struct{}
	buckets   map[string]string // symbol -> correlation bucket

	killSwitch      bool
	dailyStartValue float64
	dailyFlow       float64 // sell proceeds minus buy cost since last reset
	orderCount      map[int64]int
	violations      []models.RiskViolation

	metrics     domrepo.Metrics
	onViolation func(models.RiskViolation)
	now         func() time.Time
}

// Option configures Engine.
type Option func(*Engine)

// WithMetrics sets the metrics recorder.
func WithMetrics(m domrepo.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithViolationSink sets a callback invoked for violations raised outside
// an order check (periodic sweeps, emergency stop).
func WithViolationSink(fn func(models.RiskViolation)) Option {
	return func(e *Engine) { e.onViolation = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates a risk engine. buckets maps bucket name to its member
// symbols; unmapped symbols fall into bucket "other".
func NewEngine(limits models.RiskLimits, buckets map[string][]string, opts ...Option) (*Engine, error) {
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("risk limits: %w", err)
	}

	symbolBuckets := make(map[string]string)
	for bucket, symbols := range buckets {
		for _, s := range symbols {
			symbolBuckets[s] = bucket
		}
	}

	e := &Engine{
		limits:     limits,
		positions:  make(map[string]*models.Position),
		blocked:    make(map[string]struct{}),
		buckets:    symbolBuckets,
		orderCount: make(map[int64]int),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// CorrelationBucket returns the bucket for a symbol, "other" when unmapped.
func (e *Engine) CorrelationBucket(symbol string) string {
	if b, ok := e.buckets[symbol]; ok {
		return b
	}
	return "other"
}

// CheckOrderRisk evaluates a proposed order against every risk rule in a
// fixed order and returns the first violation found. A denied order is
// (false, violation); an allowed one is (true, nil).
func (e *Engine) CheckOrderRisk(symbol string, action models.Action, quantity, price float64) (bool, *models.RiskViolation) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.killSwitch {
		return e.deny(models.RiskViolation{
			Type:      models.ViolationExposure,
			Symbol:    symbol,
			Message:   "kill switch is active - all trading halted",
			Severity:  models.SeverityEmergency,
			Timestamp: e.now().UTC(),
			Metadata:  map[string]interface{}{"action": action, "quantity": quantity},
		})
	}

	if _, ok := e.blocked[symbol]; ok {
		return e.deny(models.RiskViolation{
			Type:      models.ViolationPositionLimit,
			Symbol:    symbol,
			Message:   fmt.Sprintf("symbol %s is blocked", symbol),
			Severity:  models.SeverityCritical,
			Timestamp: e.now().UTC(),
			Metadata:  map[string]interface{}{"action": action, "quantity": quantity},
		})
	}

	dailyPnL := e.dailyPnLLocked()
	if dailyPnL < -e.limits.MaxDailyLoss {
		return e.deny(models.RiskViolation{
			Type:      models.ViolationMaxDailyLoss,
			Symbol:    symbol,
			Message:   fmt.Sprintf("daily loss limit exceeded: %.2f", -dailyPnL),
			Severity:  models.SeverityCritical,
			Timestamp: e.now().UTC(),
			Metadata:  map[string]interface{}{"daily_pnl": dailyPnL, "limit": e.limits.MaxDailyLoss},
		})
	}

	// HOLD carries no exposure; the projection checks below do not apply.
	if action == models.ActionHold {
		return true, nil
	}

	current := e.positions[symbol]
	var currentQty, currentValue float64
	if current != nil {
		currentQty = current.Quantity
		currentValue = current.Value()
	}

	var newValue float64
	switch action {
	case models.ActionBuy:
		newValue = (currentQty + quantity) * price
	case models.ActionSell:
		newValue = (currentQty - quantity) * price
		if newValue < 0 {
			newValue = -newValue
		}
	}

	if newValue > e.limits.MaxPositionValue {
		return e.deny(models.RiskViolation{
			Type:      models.ViolationPositionLimit,
			Symbol:    symbol,
			Message:   fmt.Sprintf("position value %.2f exceeds limit %.2f", newValue, e.limits.MaxPositionValue),
			Severity:  models.SeverityWarning,
			Timestamp: e.now().UTC(),
			Metadata:  map[string]interface{}{"new_value": newValue, "limit": e.limits.MaxPositionValue},
		})
	}

	currentTotal := e.totalExposureLocked()
	newTotal := currentTotal + (newValue - currentValue)
	if newTotal > e.limits.MaxTotalExposure {
		return e.deny(models.RiskViolation{
			Type:      models.ViolationExposure,
			Symbol:    symbol,
			Message:   fmt.Sprintf("total exposure %.2f would exceed limit %.2f", newTotal, e.limits.MaxTotalExposure),
			Severity:  models.SeverityWarning,
			Timestamp: e.now().UTC(),
			Metadata:  map[string]interface{}{"new_total": newTotal, "limit": e.limits.MaxTotalExposure},
		})
	}

	// Zero projected total means an empty book; concentration is 0 by
	// definition, never a division fault.
	if newTotal > 0 {
		concentration := newValue / newTotal
		if concentration > e.limits.MaxConcentration {
			return e.deny(models.RiskViolation{
				Type:      models.ViolationConcentration,
				Symbol:    symbol,
				Message:   fmt.Sprintf("position concentration %.1f%% exceeds limit %.1f%%", concentration*100, e.limits.MaxConcentration*100),
				Severity:  models.SeverityWarning,
				Timestamp: e.now().UTC(),
				Metadata:  map[string]interface{}{"concentration": concentration, "limit": e.limits.MaxConcentration},
			})
		}
	}

	bucket := e.CorrelationBucket(symbol)
	var bucketExposure float64
	for _, pos := range e.positions {
		if pos.CorrelationBucket == bucket {
			bucketExposure += pos.Value()
		}
	}
	newBucketExposure := bucketExposure + (newValue - currentValue)
	if newBucketExposure > e.limits.MaxCorrelatedExposure {
		return e.deny(models.RiskViolation{
			Type:      models.ViolationCorrelation,
			Symbol:    symbol,
			Message:   fmt.Sprintf("correlated exposure in %s %.2f exceeds limit %.2f", bucket, newBucketExposure, e.limits.MaxCorrelatedExposure),
			Severity:  models.SeverityWarning,
			Timestamp: e.now().UTC(),
			Metadata:  map[string]interface{}{"bucket": bucket, "new_exposure": newBucketExposure, "limit": e.limits.MaxCorrelatedExposure},
		})
	}

	minute := e.now().UTC().Truncate(time.Minute).Unix()
	e.orderCount[minute]++
	e.pruneVelocityLocked()
	if e.orderCount[minute] > e.limits.MaxOrderVelocity {
		return e.deny(models.RiskViolation{
			Type:      models.ViolationVelocity,
			Symbol:    symbol,
			Message:   fmt.Sprintf("order velocity %d exceeds limit %d", e.orderCount[minute], e.limits.MaxOrderVelocity),
			Severity:  models.SeverityWarning,
			Timestamp: e.now().UTC(),
			Metadata:  map[string]interface{}{"order_count": e.orderCount[minute], "limit": e.limits.MaxOrderVelocity},
		})
	}

	return true, nil
}

// deny records a violation and returns the denial pair. Caller holds e.mu.
func (e *Engine) deny(v models.RiskViolation) (bool, *models.RiskViolation) {
	e.appendViolationLocked(v)
	if e.metrics != nil {
		e.metrics.RecordViolation(string(v.Type))
		e.metrics.RecordBlockedOrder()
	}
	return false, &v
}

func (e *Engine) appendViolationLocked(v models.RiskViolation) {
	e.violations = append(e.violations, v)
	if len(e.violations) > violationHistoryMax {
		e.violations = e.violations[len(e.violations)-violationHistoryMax:]
	}
}

func (e *Engine) pruneVelocityLocked() {
	cutoff := e.now().UTC().Add(-velocityWindow).Unix()
	for minute := range e.orderCount {
		if minute <= cutoff {
			delete(e.orderCount, minute)
		}
	}
}

// UpdatePosition applies a fill. Buys recompute the cost-weighted average
// price; sells realize pnl against it. A position that reaches zero
// quantity is removed.
func (e *Engine) UpdatePosition(symbol string, quantityChange, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	pos := e.positions[symbol]
	if pos == nil {
		if quantityChange == 0 {
			return
		}
		e.positions[symbol] = &models.Position{
			Symbol:            symbol,
			Quantity:          quantityChange,
			AveragePrice:      price,
			CurrentPrice:      price,
			Timestamp:         e.now().UTC(),
			CorrelationBucket: e.CorrelationBucket(symbol),
		}
		e.dailyFlow -= quantityChange * price
		e.updateExposureMetricsLocked()
		return
	}

	newQuantity := pos.Quantity + quantityChange
	if quantityChange > 0 {
		totalCost := pos.Quantity*pos.AveragePrice + quantityChange*price
		pos.AveragePrice = totalCost / newQuantity
		e.dailyFlow -= quantityChange * price
	} else if quantityChange < 0 {
		closed := -quantityChange
		pos.RealizedPnL += (price - pos.AveragePrice) * closed
		e.dailyFlow += closed * price
	}

	if newQuantity == 0 {
		delete(e.positions, symbol)
	} else {
		pos.Quantity = newQuantity
		pos.CurrentPrice = price
		pos.Timestamp = e.now().UTC()
	}

	e.updateExposureMetricsLocked()
}

// UpdateMarketPrices refreshes prices for held symbols and runs the
// periodic limit sweep, which can escalate to an emergency stop.
func (e *Engine) UpdateMarketPrices(prices map[string]float64) {
	e.mu.Lock()
	for symbol, price := range prices {
		if pos, ok := e.positions[symbol]; ok {
			pos.CurrentPrice = price
		}
	}
	e.updateExposureMetricsLocked()
	stop, sweep := e.sweepLocked()
	e.mu.Unlock()

	for _, v := range sweep {
		if e.onViolation != nil {
			e.onViolation(v)
		}
	}
	if stop {
		e.EmergencyStop("multiple critical risk violations")
	}
}

// sweepLocked checks portfolio-wide limits independently of any order.
// It returns the violations found and whether two or more of them are
// critical, which escalates to an emergency stop.
func (e *Engine) sweepLocked() (bool, []models.RiskViolation) {
	var found []models.RiskViolation

	dailyPnL := e.dailyPnLLocked()
	if dailyPnL < -e.limits.MaxDailyLoss {
		found = append(found, models.RiskViolation{
			Type:      models.ViolationMaxDailyLoss,
			Message:   fmt.Sprintf("daily loss %.2f exceeds limit %.2f", -dailyPnL, e.limits.MaxDailyLoss),
			Severity:  models.SeverityCritical,
			Timestamp: e.now().UTC(),
			Metadata:  map[string]interface{}{"daily_pnl": dailyPnL, "limit": e.limits.MaxDailyLoss},
		})
	}

	total := e.totalExposureLocked()
	if total > e.limits.MaxTotalExposure {
		found = append(found, models.RiskViolation{
			Type:      models.ViolationExposure,
			Message:   fmt.Sprintf("total exposure %.2f exceeds limit %.2f", total, e.limits.MaxTotalExposure),
			Severity:  models.SeverityCritical,
			Timestamp: e.now().UTC(),
			Metadata:  map[string]interface{}{"total_exposure": total, "limit": e.limits.MaxTotalExposure},
		})
	}

	var critical int
	for _, v := range found {
		e.appendViolationLocked(v)
		if e.metrics != nil {
			e.metrics.RecordViolation(string(v.Type))
		}
		if v.Severity == models.SeverityCritical {
			critical++
		}
	}
	return critical >= 2, found
}

// EmergencyStop activates the kill switch. It is idempotent and permanent:
// nothing clears it except an explicit ResetKillSwitch call.
func (e *Engine) EmergencyStop(reason string) {
	e.mu.Lock()
	already := e.killSwitch
	e.killSwitch = true
	v := models.RiskViolation{
		Type:      models.ViolationExposure,
		Message:   fmt.Sprintf("emergency stop: %s", reason),
		Severity:  models.SeverityEmergency,
		Timestamp: e.now().UTC(),
		Metadata:  map[string]interface{}{"reason": reason, "positions": len(e.positions)},
	}
	if !already {
		e.appendViolationLocked(v)
	}
	e.mu.Unlock()

	if already {
		return
	}
	if e.metrics != nil {
		e.metrics.RecordEmergencyStop()
	}
	if e.onViolation != nil {
		e.onViolation(v)
	}
}

// ResetKillSwitch clears the kill switch. This is the only recovery path;
// there is no timer-based one.
func (e *Engine) ResetKillSwitch() {
	e.mu.Lock()
	e.killSwitch = false
	e.mu.Unlock()
}

// KillSwitchActive reports the kill switch state.
func (e *Engine) KillSwitchActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.killSwitch
}

// BlockSymbol denies all future orders for a symbol.
func (e *Engine) BlockSymbol(symbol string) {
	e.mu.Lock()
	e.blocked[symbol] = struct{}{}
	e.mu.Unlock()
}

// UnblockSymbol re-enables orders for a symbol.
func (e *Engine) UnblockSymbol(symbol string) {
	e.mu.Lock()
	delete(e.blocked, symbol)
	e.mu.Unlock()
}

// IsBlocked reports whether the symbol is blocked.
func (e *Engine) IsBlocked(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.blocked[symbol]
	return ok
}

// ResetDailyCounters re-baselines daily pnl tracking to the current total
// position value. The kill switch and blocked symbols are untouched.
func (e *Engine) ResetDailyCounters() {
	e.mu.Lock()
	e.dailyStartValue = e.totalExposureLocked()
	e.dailyFlow = 0
	e.orderCount = make(map[int64]int)
	e.mu.Unlock()
}

// UpdateLimits applies a partial limits update and returns the result.
func (e *Engine) UpdateLimits(req models.RiskLimitsRequest) (models.RiskLimits, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.limits
	if req.MaxDailyLoss != nil {
		next.MaxDailyLoss = *req.MaxDailyLoss
	}
	if req.MaxPositionValue != nil {
		next.MaxPositionValue = *req.MaxPositionValue
	}
	if req.MaxTotalExposure != nil {
		next.MaxTotalExposure = *req.MaxTotalExposure
	}
	if req.MaxConcentration != nil {
		next.MaxConcentration = *req.MaxConcentration
	}
	if req.MaxCorrelatedExposure != nil {
		next.MaxCorrelatedExposure = *req.MaxCorrelatedExposure
	}
	if req.MaxOrderVelocity != nil {
		next.MaxOrderVelocity = *req.MaxOrderVelocity
	}
	if err := next.Validate(); err != nil {
		return e.limits, err
	}
	e.limits = next
	return next, nil
}

// Limits returns the current limit configuration.
func (e *Engine) Limits() models.RiskLimits {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.limits
}

// DailyPnL returns the current daily pnl (realized plus mark-to-market).
func (e *Engine) DailyPnL() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dailyPnLLocked()
}

// Position returns a copy of the position for a symbol, if held.
func (e *Engine) Position(symbol string) (models.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[symbol]
	if !ok {
		return models.Position{}, false
	}
	return *pos, true
}

// Summary returns a read-only snapshot of engine state.
func (e *Engine) Summary() models.RiskSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := models.RiskSummary{
		TotalExposure:        e.totalExposureLocked(),
		DailyPnL:             e.dailyPnLLocked(),
		PositionCount:        len(e.positions),
		CorrelationExposures: make(map[string]float64),
		KillSwitchActive:     e.killSwitch,
		BlockedSymbols:       make([]string, 0, len(e.blocked)),
	}

	var largest float64
	for _, pos := range e.positions {
		s.CorrelationExposures[pos.CorrelationBucket] += pos.Value()
		if pos.Value() >= largest {
			largest = pos.Value()
			s.LargestPosition = pos.Symbol
		}
	}
	for symbol := range e.blocked {
		s.BlockedSymbols = append(s.BlockedSymbols, symbol)
	}
	sort.Strings(s.BlockedSymbols)

	n := len(e.violations)
	start := n - recentViolations
	if start < 0 {
		start = 0
	}
	s.RecentViolations = append([]models.RiskViolation(nil), e.violations[start:]...)
	return s
}

// Violations returns up to limit most recent violations, newest last.
func (e *Engine) Violations(limit int) []models.RiskViolation {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.violations)
	if limit <= 0 || limit > n {
		limit = n
	}
	return append([]models.RiskViolation(nil), e.violations[n-limit:]...)
}

func (e *Engine) totalExposureLocked() float64 {
	var total float64
	for _, pos := range e.positions {
		total += pos.Value()
	}
	return total
}

// dailyPnLLocked is mark-to-market pnl since the last daily reset: current
// book value adjusted for cash flow, measured against the baseline.
func (e *Engine) dailyPnLLocked() float64 {
	return e.totalExposureLocked() + e.dailyFlow - e.dailyStartValue
}

func (e *Engine) updateExposureMetricsLocked() {
	if e.metrics == nil {
		return
	}
	var total float64
	for symbol, pos := range e.positions {
		v := pos.Value()
		total += v
		e.metrics.SetSymbolExposure(symbol, v)
	}
	e.metrics.SetTotalExposure(total)
	e.metrics.SetDailyPnL(e.dailyPnLLocked())
}
