package usecase

import (
	"fmt"
	"sort"
	"sync"

	"MetaAgent/internal/domain/models"
)

// Overrides holds the operator-controlled coordination state: the active
// voting strategy, paused strategies, the manual emergency flag and
// per-symbol quantity caps. It is mutated by the control plane and read
// on every coordination, so it carries its own lock, separate from the
// risk engine's.
type Overrides struct {
	mu        sync.RWMutex
	strategy  models.VotingStrategy
	paused    map[string]struct{}
	emergency bool
	caps      map[string]float64
}

func NewOverrides(strategy models.VotingStrategy) *Overrides {
	if !strategy.Valid() {
		strategy = models.VotingConfidenceWeighted
	}
	return &Overrides{
		strategy: strategy,
		paused:   make(map[string]struct{}),
		caps:     make(map[string]float64),
	}
}

// SetVotingStrategy switches the active strategy for future coordinations.
func (o *Overrides) SetVotingStrategy(s models.VotingStrategy) error {
	if !s.Valid() {
		return fmt.Errorf("unknown voting strategy %q", s)
	}
	o.mu.Lock()
	o.strategy = s
	o.mu.Unlock()
	return nil
}

func (o *Overrides) VotingStrategy() models.VotingStrategy {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.strategy
}

// PauseStrategy suspends decisions associated with the given id. The id
// matches either a symbol or a participating agent.
func (o *Overrides) PauseStrategy(id string) {
	o.mu.Lock()
	o.paused[id] = struct{}{}
	o.mu.Unlock()
}

func (o *Overrides) ResumeStrategy(id string) {
	o.mu.Lock()
	delete(o.paused, id)
	o.mu.Unlock()
}

// IsPausedFor reports whether the decision's symbol or any of its
// participating agents is paused.
func (o *Overrides) IsPausedFor(d *models.CoordinatedDecision) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if _, ok := o.paused[d.Symbol]; ok {
		return true
	}
	for _, agent := range d.ParticipatingAgents {
		if _, ok := o.paused[agent]; ok {
			return true
		}
	}
	return false
}

func (o *Overrides) Paused() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.paused))
	for id := range o.paused {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SetEmergency sets the manual emergency flag. It is independent of the
// risk engine kill switch: either one forces HOLD.
func (o *Overrides) SetEmergency(on bool) {
	o.mu.Lock()
	o.emergency = on
	o.mu.Unlock()
}

func (o *Overrides) EmergencyActive() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.emergency
}

// SetCap installs a per-symbol quantity cap. Zero or negative removes it.
func (o *Overrides) SetCap(symbol string, maxQuantity float64) {
	o.mu.Lock()
	if maxQuantity <= 0 {
		delete(o.caps, symbol)
	} else {
		o.caps[symbol] = maxQuantity
	}
	o.mu.Unlock()
}

func (o *Overrides) Cap(symbol string) (float64, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	cap, ok := o.caps[symbol]
	return cap, ok
}

func (o *Overrides) Caps() map[string]float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]float64, len(o.caps))
	for s, q := range o.caps {
		out[s] = q
	}
	return out
}
