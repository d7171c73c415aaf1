package middleware

import (
	"context"
	"sync"
	"time"

	"MetaAgent/internal/domain/models"
	domrepo "MetaAgent/internal/domain/repository"
	"MetaAgent/internal/services/risk"
	"MetaAgent/pkg/logger"
)

// MarketSweeper sits between the price stream and the risk engine. It
// accumulates the latest price per symbol and periodically pushes the
// batch into the engine, which runs its limit sweep. It also refreshes
// the external price cache and the engine-state snapshot.
type MarketSweeper struct {
	stream   domrepo.PriceStream
	engine   *risk.Engine
	prices   domrepo.PriceCache
	snapshot domrepo.Snapshotter
	metrics  domrepo.Metrics
	log      *logger.Logger

	sweepInterval    time.Duration
	snapshotInterval time.Duration

	mu     sync.Mutex
	latest map[string]float64
}

type SweeperOption func(*MarketSweeper)

// WithSweepInterval sets how often accumulated prices hit the engine.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *MarketSweeper) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithSnapshotInterval sets how often the risk summary is exported.
func WithSnapshotInterval(d time.Duration) SweeperOption {
	return func(s *MarketSweeper) {
		if d > 0 {
			s.snapshotInterval = d
		}
	}
}

func NewMarketSweeper(stream domrepo.PriceStream, engine *risk.Engine, prices domrepo.PriceCache, snapshot domrepo.Snapshotter, metrics domrepo.Metrics, log *logger.Logger, opts ...SweeperOption) *MarketSweeper {
	s := &MarketSweeper{
		stream:           stream,
		engine:           engine,
		prices:           prices,
		snapshot:         snapshot,
		metrics:          metrics,
		log:              log,
		sweepInterval:    5 * time.Second,
		snapshotInterval: 30 * time.Second,
		latest:           make(map[string]float64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drives the stream and the periodic sweeps until ctx is cancelled.
// Stream errors trigger reconnects; the sweeper never gives up on its own.
func (s *MarketSweeper) Run(ctx context.Context) {
	sweep := time.NewTicker(s.sweepInterval)
	defer sweep.Stop()
	snap := time.NewTicker(s.snapshotInterval)
	defer snap.Stop()

	updates, errs := s.connect(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = s.stream.Close()
			return

		case u, ok := <-updates:
			if !ok {
				updates, errs = s.reconnect(ctx)
				continue
			}
			if u == nil || u.Symbol == "" || u.Price <= 0 {
				continue
			}
			s.mu.Lock()
			s.latest[u.Symbol] = u.Price
			s.mu.Unlock()
			if s.prices != nil {
				if err := s.prices.SetLastPrice(ctx, u.Symbol, u.Price); err != nil {
					s.metrics.RecordError("price_cache_set")
				}
			}

		case err, ok := <-errs:
			if ok && err != nil {
				s.log.Warn("price stream error", logger.Error(err))
				s.metrics.RecordError("price_stream")
			}
			updates, errs = s.reconnect(ctx)

		case <-sweep.C:
			s.flush()

		case <-snap.C:
			if s.snapshot != nil {
				if err := s.snapshot.SaveSummary(ctx, s.engine.Summary()); err != nil {
					s.log.Warn("snapshot save failed", logger.Error(err))
					s.metrics.RecordError("snapshot_save")
				}
			}
		}
	}
}

// flush hands the accumulated batch to the engine and clears it.
func (s *MarketSweeper) flush() {
	s.mu.Lock()
	if len(s.latest) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.latest
	s.latest = make(map[string]float64)
	s.mu.Unlock()

	start := time.Now()
	s.engine.UpdateMarketPrices(batch)
	s.metrics.RecordLatency("risk_sweep", time.Since(start).Seconds())
}

func (s *MarketSweeper) connect(ctx context.Context) (<-chan *models.PriceUpdate, <-chan error) {
	for {
		if err := s.stream.Connect(ctx); err == nil {
			if err := s.stream.Subscribe(ctx); err == nil {
				return s.stream.Read(ctx)
			}
		}
		s.metrics.RecordError("price_stream_connect")
		select {
		case <-ctx.Done():
			closed := make(chan *models.PriceUpdate)
			close(closed)
			errs := make(chan error)
			close(errs)
			return closed, errs
		case <-time.After(2 * time.Second):
		}
	}
}

func (s *MarketSweeper) reconnect(ctx context.Context) (<-chan *models.PriceUpdate, <-chan error) {
	if ctx.Err() != nil {
		closed := make(chan *models.PriceUpdate)
		close(closed)
		errs := make(chan error)
		close(errs)
		return closed, errs
	}
	if err := s.stream.Reconnect(ctx); err != nil {
		s.log.Warn("price stream reconnect failed", logger.Error(err))
		return s.connect(ctx)
	}
	return s.stream.Read(ctx)
}
