package repository

import (
	"context"

	"MetaAgent/internal/domain/models"
	"MetaAgent/internal/domain/repository"
	pkgkafka "MetaAgent/pkg/kafka"
)

// KafkaDecisionPublisher emits coordinated decisions and risk violations
// to their Kafka topics. Messages are keyed by symbol so downstream
// consumers see per-symbol order.
type KafkaDecisionPublisher struct {
	producer        *pkgkafka.Producer
	decisionsTopic  string
	violationsTopic string
}

func NewKafkaDecisionPublisher(producer *pkgkafka.Producer, decisionsTopic, violationsTopic string) repository.DecisionPublisher {
	return &KafkaDecisionPublisher{
		producer:        producer,
		decisionsTopic:  decisionsTopic,
		violationsTopic: violationsTopic,
	}
}

func (p *KafkaDecisionPublisher) PublishDecision(ctx context.Context, d *models.CoordinatedDecision) error {
	return p.producer.Publish(ctx, p.decisionsTopic, []byte(d.Symbol), d)
}

func (p *KafkaDecisionPublisher) PublishViolation(ctx context.Context, v *models.RiskViolation) error {
	return p.producer.Publish(ctx, p.violationsTopic, []byte(v.Symbol), v)
}

func (p *KafkaDecisionPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
