package usecase

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"MetaAgent/internal/domain/models"
	domrepo "MetaAgent/internal/domain/repository"
	"MetaAgent/internal/services/risk"
	"MetaAgent/pkg/kafka"
	"MetaAgent/pkg/logger"
)

// KafkaFillsHandler applies executions.fill messages to the portfolio
// book: buys add to positions, sells reduce them and realize pnl. The
// fill price also refreshes the last-price cache.
type KafkaFillsHandler struct {
	topic    string
	log      *logger.Logger
	validate *validator.Validate
	risk     *risk.Engine
	prices   domrepo.PriceCache
	metrics  domrepo.Metrics
}

func NewKafkaFillsHandler(topic string, log *logger.Logger, engine *risk.Engine, prices domrepo.PriceCache, metrics domrepo.Metrics) *KafkaFillsHandler {
	return &KafkaFillsHandler{
		topic:    topic,
		log:      log,
		validate: validator.New(),
		risk:     engine,
		prices:   prices,
		metrics:  metrics,
	}
}

func (h *KafkaFillsHandler) Topic() string { return h.topic }

func (h *KafkaFillsHandler) Handle(ctx context.Context, b []byte) error {
	var f models.Fill
	if err := json.Unmarshal(b, &f); err != nil {
		h.metrics.RecordError("fill_unmarshal")
		return err
	}
	if err := h.validate.Struct(&f); err != nil {
		// A malformed fill is not retryable; log and drop.
		h.log.Warn("rejected fill", logger.Error(err))
		h.metrics.RecordError("fill_validate")
		return nil
	}

	quantity := f.FillQuantity
	if strings.EqualFold(f.Side, "sell") {
		quantity = -quantity
	}

	start := time.Now()
	h.risk.UpdatePosition(f.Instrument, quantity, f.FillPrice)
	h.metrics.RecordLatency("position_update", time.Since(start).Seconds())

	if h.prices != nil {
		if err := h.prices.SetLastPrice(ctx, f.Instrument, f.FillPrice); err != nil {
			h.log.Warn("price cache update failed", logger.Error(err))
		}
	}

	h.log.Debug("applied fill",
		logger.String("instrument", f.Instrument),
		logger.String("side", f.Side),
		logger.Any("quantity", f.FillQuantity),
		logger.Any("price", f.FillPrice),
		logger.String("corr_id", f.CorrID))
	return nil
}

var _ kafka.MessageHandler = (*KafkaFillsHandler)(nil)
