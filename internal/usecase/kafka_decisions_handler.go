package usecase

import (
	"context"

	pkgkafka "MetaAgent/pkg/kafka"
)

// KafkaDecisionsHandler feeds decisions.order_intent messages into the
// coordinator. Malformed payloads are dead-lettered inside Submit and
// never surface as consumer errors.
type KafkaDecisionsHandler struct {
	topic       string
	coordinator *Coordinator
}

func NewKafkaDecisionsHandler(topic string, coordinator *Coordinator) *KafkaDecisionsHandler {
	return &KafkaDecisionsHandler{topic: topic, coordinator: coordinator}
}

func (h *KafkaDecisionsHandler) Topic() string { return h.topic }

func (h *KafkaDecisionsHandler) Handle(ctx context.Context, b []byte) error {
	return h.coordinator.Submit(ctx, b)
}

var _ pkgkafka.MessageHandler = (*KafkaDecisionsHandler)(nil)
