package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"MetaAgent/internal/domain/models"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Kafka struct {
		Brokers         []string `yaml:"brokers"`
		DecisionsTopic  string   `yaml:"decisions_topic"`
		MetaTopic       string   `yaml:"meta_topic"`
		ViolationsTopic string   `yaml:"violations_topic"`
		FillsTopic      string   `yaml:"fills_topic"`
		RequiredAcks    int      `yaml:"required_acks"`
		Compression     string   `yaml:"compression"`
		Producer        struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			BatchTimeout time.Duration `yaml:"batch_timeout"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
		DecisionsTable   string        `yaml:"decisions_table"`
		ViolationsTable  string        `yaml:"violations_table"`
	} `yaml:"clickhouse"`
	Redis struct {
		Host          string        `yaml:"host"`
		Port          int           `yaml:"port"`
		Password      string        `yaml:"password"`
		DB            int           `yaml:"db"`
		Prefix        string        `yaml:"prefix"`
		DeadLetterKey string        `yaml:"dead_letter_key"`
		DeadLetterMax int64         `yaml:"dead_letter_max"`
		PriceTTL      time.Duration `yaml:"price_ttl"`
		SnapshotTTL   time.Duration `yaml:"snapshot_ttl"`
	} `yaml:"redis"`
	PriceFeed struct {
		Enabled          bool          `yaml:"enabled"`
		WebSocketURL     string        `yaml:"websocket_url"`
		Symbols          []string      `yaml:"symbols"`
		ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
		PingInterval     time.Duration `yaml:"ping_interval"`
		SweepInterval    time.Duration `yaml:"sweep_interval"`
		SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	} `yaml:"pricefeed"`
	Coordinator struct {
		MinAgents      int           `yaml:"min_agents"`
		VotingStrategy string        `yaml:"voting_strategy"`
		PendingTTL     time.Duration `yaml:"pending_ttl"`
		ExpirySweep    time.Duration `yaml:"expiry_sweep"`
		ExpiryPolicy   string        `yaml:"expiry_policy"`
		FallbackPrice  float64       `yaml:"fallback_price"`
	} `yaml:"coordinator"`
	Risk struct {
		Limits  models.RiskLimits   `yaml:"limits"`
		Buckets map[string][]string `yaml:"correlation_buckets"`
	} `yaml:"risk"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	c.applyDefaults()
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_GROUP_ID"); v != "" {
		c.Kafka.Consumer.GroupID = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := os.Getenv("PRICEFEED_URL"); v != "" {
		c.PriceFeed.WebSocketURL = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.PriceFeed.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("VOTING_STRATEGY"); v != "" {
		c.Coordinator.VotingStrategy = v
	}

	return c, nil
}

// applyDefaults fills in values the deployment usually leaves implicit.
// Risk limit defaults match the platform-wide policy baseline.
func (c *Config) applyDefaults() {
	c.Kafka.DecisionsTopic = "decisions.order_intent"
	c.Kafka.MetaTopic = "decisions.meta"
	c.Kafka.ViolationsTopic = "risk.violations"
	c.Kafka.FillsTopic = "executions.fill"
	c.Kafka.Consumer.GroupID = "meta-agent"
	c.Redis.Prefix = "metaagent"
	c.ClickHouse.DecisionsTable = "decisions_meta"
	c.ClickHouse.ViolationsTable = "risk_violations"
	c.Coordinator.VotingStrategy = string(models.VotingConfidenceWeighted)
	c.Risk.Limits = models.RiskLimits{
		MaxDailyLoss:          10000,
		MaxPositionValue:      50000,
		MaxTotalExposure:      200000,
		MaxConcentration:      0.3,
		MaxCorrelatedExposure: 100000,
		MaxOrderVelocity:      100,
	}
	c.Risk.Buckets = map[string][]string{
		"tech":     {"AAPL", "GOOGL", "MSFT", "NVDA", "META"},
		"finance":  {"JPM", "BAC", "GS", "WFC"},
		"energy":   {"XOM", "CVX", "COP"},
		"consumer": {"AMZN", "TSLA", "WMT", "HD"},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty")
	}
	if c.Kafka.DecisionsTopic == "" || c.Kafka.MetaTopic == "" || c.Kafka.ViolationsTopic == "" {
		return fmt.Errorf("kafka topics are required")
	}
	if !models.VotingStrategy(c.Coordinator.VotingStrategy).Valid() {
		return fmt.Errorf("coordinator.voting_strategy %q is invalid", c.Coordinator.VotingStrategy)
	}
	if policy := c.Coordinator.ExpiryPolicy; policy != "" && policy != "drop" && policy != "single" {
		return fmt.Errorf("coordinator.expiry_policy must be 'drop' or 'single', got '%s'", policy)
	}
	if err := c.Risk.Limits.Validate(); err != nil {
		return fmt.Errorf("risk.limits: %w", err)
	}
	if c.PriceFeed.Enabled && c.PriceFeed.WebSocketURL == "" {
		return fmt.Errorf("pricefeed.websocket_url is required when pricefeed is enabled")
	}
	return nil
}
