package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string           `yaml:"environment" default:"development" validate:"required"`
	Server      ServerConfig     `yaml:"server"`
	Log         LogConfig        `yaml:"log"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Postgres    PostgresConfig   `yaml:"postgres"`
	Redis       RedisConfig      `yaml:"redis"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	Webhook     WebhookConfig    `yaml:"webhook"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Jobs        JobsConfig       `yaml:"jobs"`
	Execution   ExecutionConfig  `yaml:"execution"`
	MarketData  MarketDataConfig `yaml:"marketdata"`
	Strategies  []StrategyConfig `yaml:"strategies" validate:"required,min=1,dive"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" default:"8080" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" default:"1s"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	// Per-client token bucket for the /ops endpoints.
	OpsRateLimit float64 `yaml:"ops_rate_limit" default:"5"`
	OpsBurst     int     `yaml:"ops_burst" default:"10"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type PostgresConfig struct {
	// Empty DSN selects the in-process job queue and event store.
	DSN            string        `yaml:"dsn"`
	MaxConns       int32         `yaml:"max_conns" default:"10"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s"`
	MigrateOnStart bool          `yaml:"migrate_on_start"`
}

type RedisConfig struct {
	// Empty Addr selects the in-process key/value backend.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix" default:"signalgate"`
	PoolSize int    `yaml:"pool_size" default:"10"`
}

type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	DecisionTopic string        `yaml:"decision_topic" default:"signalgate.decisions"`
	LogTopic      string        `yaml:"log_topic"`
	RequiredAcks  int           `yaml:"required_acks" default:"1"`
	WriteTimeout  time.Duration `yaml:"write_timeout" default:"5s"`
	Alerts        struct {
		Topic   string `yaml:"topic"`
		GroupID string `yaml:"group_id" default:"signalgate-alerts"`
		Workers int    `yaml:"workers" default:"2"`
	} `yaml:"alerts"`
}

type WebhookConfig struct {
	Secret         string        `yaml:"secret"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl" default:"24h"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes" default:"1048576"`
}

type PipelineConfig struct {
	StateTTL  time.Duration `yaml:"state_ttl" default:"72h"`
	IndexTTL  time.Duration `yaml:"index_ttl" default:"24h"`
	NotesCap  int           `yaml:"notes_cap" default:"20" validate:"min=1"`
	AuditCap  int           `yaml:"audit_cap" default:"1000" validate:"min=1"`
	AuditTTL  time.Duration `yaml:"audit_ttl" default:"168h"`
	SetupCap  int           `yaml:"setup_cap" default:"50" validate:"min=1"`
	SetupTTL  time.Duration `yaml:"setup_ttl" default:"168h"`
	EventTTL  time.Duration `yaml:"event_ttl" default:"168h"`
	EventsCap int           `yaml:"events_cap" default:"5000" validate:"min=1"`
}

type JobsConfig struct {
	Workers            int           `yaml:"workers" default:"2" validate:"min=0"`
	BatchSize          int           `yaml:"batch_size" default:"5" validate:"min=1"`
	PollInterval       time.Duration `yaml:"poll_interval" default:"2s"`
	StaleLockAfter     time.Duration `yaml:"stale_lock_after" default:"5m"`
	DefaultMaxAttempts int           `yaml:"default_max_attempts" default:"5" validate:"min=1"`
	ApprovalWindow     time.Duration `yaml:"approval_window" default:"5m"`
	WorkerID           string        `yaml:"worker_id"`
}

type ExecutionConfig struct {
	LiveEnabled bool `yaml:"live_enabled"`
}

type MarketDataConfig struct {
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout" default:"3s"`
	RateLimit float64       `yaml:"rate_limit" default:"5"`
	Burst     int           `yaml:"burst" default:"5"`
	QuoteTTL  time.Duration `yaml:"quote_ttl" default:"2s"`
	CandleTTL time.Duration `yaml:"candle_ttl" default:"30s"`
	ChainTTL  time.Duration `yaml:"chain_ttl" default:"30s"`
}

// StrategyConfig holds the tunables of one strategy. Engine-specific knobs
// are ignored by engines that do not use them.
type StrategyConfig struct {
	ID                string `yaml:"id" validate:"required"`
	Engine            string `yaml:"engine" validate:"oneof=trend swing zones"`
	ExecutionMode     string `yaml:"execution_mode" default:"paper" validate:"oneof=disabled paper live"`
	Async             bool   `yaml:"async"`
	RequiredApprovals int    `yaml:"required_approvals" validate:"min=0"`
	JobPriority       int    `yaml:"job_priority"`
	JobMaxAttempts    int    `yaml:"job_max_attempts"`

	RiskPerTradeUSD float64       `yaml:"risk_per_trade_usd" default:"200" validate:"gt=0"`
	MaxPositionQty  int           `yaml:"max_position_qty" default:"5" validate:"min=1"`
	MaxTradesPerDay int           `yaml:"max_trades_per_day" default:"3" validate:"min=1"`
	MaxDailyRiskUSD float64       `yaml:"max_daily_risk_usd" default:"600" validate:"gt=0"`
	PointValue      float64       `yaml:"point_value" default:"1" validate:"gt=0"`
	Cooldown        time.Duration `yaml:"cooldown" default:"15m"`
	MinConfidence   float64       `yaml:"min_confidence" default:"0.6" validate:"min=0,max=1"`
	MinConfluence   float64       `yaml:"min_confluence" default:"0.5" validate:"min=0,max=1"`
	AllowedSessions []string      `yaml:"allowed_sessions" default:"[\"RTH\"]"`

	FallbackStopPct     float64 `yaml:"fallback_stop_pct" default:"0.005" validate:"gt=0"`
	LevelRounding       float64 `yaml:"level_rounding" default:"0.5" validate:"gt=0"`
	LunchStart          string  `yaml:"lunch_start" default:"12:00"`
	LunchEnd            string  `yaml:"lunch_end" default:"13:00"`
	MaxLevelAttempts    int     `yaml:"max_level_attempts" default:"2" validate:"min=1"`
	MaxDailyLosses      int     `yaml:"max_daily_losses" default:"3" validate:"min=1"`
	ThrottleAfterLosses int     `yaml:"throttle_after_losses" default:"2" validate:"min=1"`
	VolThrottle         float64 `yaml:"vol_throttle" default:"0.015"`
	VolBlock            float64 `yaml:"vol_block" default:"0.03"`

	MinRawConfidence       float64   `yaml:"min_raw_confidence" default:"0.55"`
	MinAbsDelta            float64   `yaml:"min_abs_delta" default:"0.3"`
	HighConfidenceOverride float64   `yaml:"high_confidence_override" default:"0.85"`
	MaxDriftATR            float64   `yaml:"max_drift_atr" default:"1"`
	ATRPeriod              int       `yaml:"atr_period" default:"14" validate:"min=1"`
	HistoryLookback        int       `yaml:"history_lookback" default:"50" validate:"min=2"`
	HTFTimeframe           string    `yaml:"htf_timeframe" default:"1h"`
	StopATR                float64   `yaml:"stop_atr" default:"1"`
	TargetATR              []float64 `yaml:"target_atr" default:"[1.5,3]"`
	MaxSpreadPct           float64   `yaml:"max_spread_pct" default:"0.1"`
	VolPenaltyStart        float64   `yaml:"vol_penalty_start" default:"0.002"` // per-bar log-return stdev
	VolPenaltyFull         float64   `yaml:"vol_penalty_full" default:"0.006"`
	MinOpenInterest        int64     `yaml:"min_open_interest" default:"100"`
	MinOptionVolume        int64     `yaml:"min_option_volume" default:"10"`
	MaxDTE                 int       `yaml:"max_dte" default:"14"`
	OptionStopPct          float64   `yaml:"option_stop_pct" default:"0.5"`
	OptionMultiplier       float64   `yaml:"option_multiplier" default:"100"`
	BaseContracts          int       `yaml:"base_contracts" default:"2" validate:"min=1"`
}

var validate = validator.New()

// Load reads the YAML file, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse builds a Config from YAML bytes.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.applyDefaults(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads .env (if any), the YAML file, then overrides from the environment.
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.applyDefaults(); err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) applyDefaults() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("config defaults: %w", err)
	}
	for i := range c.Strategies {
		if err := defaults.Set(&c.Strategies[i]); err != nil {
			return fmt.Errorf("config defaults: strategy %d: %w", i, err)
		}
		if c.Strategies[i].JobMaxAttempts <= 0 {
			c.Strategies[i].JobMaxAttempts = c.Jobs.DefaultMaxAttempts
		}
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("DATABASE_URL"); v != "" {
		c.Postgres.DSN = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("WEBHOOK_SECRET"); v != "" {
		c.Webhook.Secret = v
	}
	if v := getenv("LIVE_EXECUTION_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Execution.LiveEnabled = b
		}
	}
	if v := getenv("MARKETDATA_BASE_URL"); v != "" {
		c.MarketData.BaseURL = v
	}
	if v := getenv("MARKETDATA_API_KEY"); v != "" {
		c.MarketData.APIKey = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks struct tags plus the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Strategies))
	for _, s := range c.Strategies {
		id := strings.ToLower(s.ID)
		if _, dup := seen[id]; dup {
			return fmt.Errorf("strategies: duplicate id %q", s.ID)
		}
		seen[id] = struct{}{}
		if s.VolBlock > 0 && s.VolThrottle > s.VolBlock {
			return fmt.Errorf("strategies[%s]: vol_throttle must not exceed vol_block", s.ID)
		}
		if s.VolPenaltyFull > 0 && s.VolPenaltyStart > s.VolPenaltyFull {
			return fmt.Errorf("strategies[%s]: vol_penalty_start must not exceed vol_penalty_full", s.ID)
		}
		if s.Engine == "zones" && len(s.TargetATR) == 0 {
			return fmt.Errorf("strategies[%s]: target_atr is required", s.ID)
		}
		if _, _, err := ParseClock(s.LunchStart); err != nil {
			return fmt.Errorf("strategies[%s]: lunch_start: %w", s.ID, err)
		}
		if _, _, err := ParseClock(s.LunchEnd); err != nil {
			return fmt.Errorf("strategies[%s]: lunch_end: %w", s.ID, err)
		}
	}
	return nil
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, errors.New("expected HH:MM")
	}
	return t.Hour(), t.Minute(), nil
}

// Strategy returns the config of the strategy with id (case-insensitive).
func (c *Config) Strategy(id string) (StrategyConfig, bool) {
	for _, s := range c.Strategies {
		if strings.EqualFold(s.ID, id) {
			return s, true
		}
	}
	return StrategyConfig{}, false
}
