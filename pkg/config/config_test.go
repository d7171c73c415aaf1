package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"MetaAgent/internal/domain/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
environment: test
kafka:
  brokers:
    - localhost:9092
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Kafka.DecisionsTopic != "decisions.order_intent" {
		t.Fatalf("decisions topic = %q", cfg.Kafka.DecisionsTopic)
	}
	if cfg.Kafka.MetaTopic != "decisions.meta" {
		t.Fatalf("meta topic = %q", cfg.Kafka.MetaTopic)
	}
	if cfg.Kafka.ViolationsTopic != "risk.violations" {
		t.Fatalf("violations topic = %q", cfg.Kafka.ViolationsTopic)
	}
	if cfg.Kafka.FillsTopic != "executions.fill" {
		t.Fatalf("fills topic = %q", cfg.Kafka.FillsTopic)
	}
	if cfg.Kafka.Consumer.GroupID != "meta-agent" {
		t.Fatalf("group id = %q", cfg.Kafka.Consumer.GroupID)
	}
	if cfg.Coordinator.VotingStrategy != string(models.VotingConfidenceWeighted) {
		t.Fatalf("strategy = %q", cfg.Coordinator.VotingStrategy)
	}
	if cfg.Risk.Limits.MaxDailyLoss != 10000 || cfg.Risk.Limits.MaxConcentration != 0.3 {
		t.Fatalf("limit defaults = %+v", cfg.Risk.Limits)
	}
	if len(cfg.Risk.Buckets["tech"]) == 0 {
		t.Fatalf("default correlation buckets missing")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
environment: production
kafka:
  brokers: [broker1:9092, broker2:9092]
  meta_topic: decisions.meta.v2
coordinator:
  voting_strategy: majority
  pending_ttl: 45s
  expiry_policy: single
risk:
  limits:
    max_daily_loss: 2500
    max_position_value: 50000
    max_total_exposure: 200000
    max_concentration: 0.5
    max_correlated_exposure: 100000
    max_order_velocity: 10
  correlation_buckets:
    crypto: [BTCUSD, ETHUSD]
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.MetaTopic != "decisions.meta.v2" {
		t.Fatalf("meta topic = %q", cfg.Kafka.MetaTopic)
	}
	if cfg.Coordinator.VotingStrategy != "majority" {
		t.Fatalf("strategy = %q", cfg.Coordinator.VotingStrategy)
	}
	if cfg.Coordinator.PendingTTL != 45*time.Second {
		t.Fatalf("pending ttl = %v", cfg.Coordinator.PendingTTL)
	}
	if cfg.Coordinator.ExpiryPolicy != "single" {
		t.Fatalf("expiry policy = %q", cfg.Coordinator.ExpiryPolicy)
	}
	if cfg.Risk.Limits.MaxDailyLoss != 2500 {
		t.Fatalf("max daily loss = %v", cfg.Risk.Limits.MaxDailyLoss)
	}
	if got := cfg.Risk.Buckets["crypto"]; len(got) != 2 {
		t.Fatalf("crypto bucket = %v", got)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing environment", `
kafka:
  brokers: [localhost:9092]
`},
		{"missing brokers", `
environment: test
`},
		{"bad voting strategy", `
environment: test
kafka:
  brokers: [localhost:9092]
coordinator:
  voting_strategy: plurality
`},
		{"bad expiry policy", `
environment: test
kafka:
  brokers: [localhost:9092]
coordinator:
  expiry_policy: retry
`},
		{"bad concentration limit", `
environment: test
kafka:
  brokers: [localhost:9092]
risk:
  limits:
    max_daily_loss: 1000
    max_position_value: 1000
    max_total_exposure: 1000
    max_concentration: 1.5
    max_correlated_exposure: 1000
    max_order_velocity: 10
`},
		{"pricefeed enabled without url", `
environment: test
kafka:
  brokers: [localhost:9092]
pricefeed:
  enabled: true
`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.body)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("VOTING_STRATEGY", "unanimous")
	t.Setenv("REDIS_HOST", "redis.internal")

	cfg, err := LoadWithEnv(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadWithEnv: %v", err)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "k1:9092" {
		t.Fatalf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Coordinator.VotingStrategy != "unanimous" {
		t.Fatalf("strategy = %q", cfg.Coordinator.VotingStrategy)
	}
	if cfg.Redis.Host != "redis.internal" {
		t.Fatalf("redis host = %q", cfg.Redis.Host)
	}
}
