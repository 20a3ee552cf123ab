package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" mapstructure:"scheduler"`
	Jobs       JobsConfig       `yaml:"jobs" mapstructure:"jobs"`
	RateLimit  RateLimitConfig  `yaml:"ratelimit" mapstructure:"ratelimit"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Outreach   OutreachConfig   `yaml:"outreach" mapstructure:"outreach"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Hunter     HunterConfig     `yaml:"hunter" mapstructure:"hunter"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	SMTP       SMTPConfig       `yaml:"smtp" mapstructure:"smtp"`
	Events     EventsConfig     `yaml:"events" mapstructure:"events"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url" validate:"required"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port" validate:"gt=0,lt=65536"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// SchedulerConfig configures the periodic job trigger. MasterEnabled and
// AutoJobs are the static fallback when no settings row exists.
type SchedulerConfig struct {
	IntervalSecs  int      `yaml:"interval_secs" mapstructure:"interval_secs" validate:"gt=0"`
	MasterEnabled bool     `yaml:"master_enabled" mapstructure:"master_enabled"`
	AutoJobs      []string `yaml:"auto_jobs" mapstructure:"auto_jobs"`
}

// Interval returns the tick interval.
func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// JobsConfig configures job execution and ownership.
type JobsConfig struct {
	BatchSize        int `yaml:"batch_size" mapstructure:"batch_size" validate:"gt=0"`
	Concurrency      int `yaml:"concurrency" mapstructure:"concurrency" validate:"gt=0"`
	HeartbeatSecs    int `yaml:"heartbeat_secs" mapstructure:"heartbeat_secs" validate:"gt=0"`
	LeaseSecs        int `yaml:"lease_secs" mapstructure:"lease_secs" validate:"gtfield=HeartbeatSecs"`
	ProviderTimeoutS int `yaml:"provider_timeout_secs" mapstructure:"provider_timeout_secs" validate:"gt=0"`
	// TimeoutSecs bounds one job run; zero means no limit.
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"gte=0"`
}

// RateLimitConfig maps provider names to budgets like "100/hour".
type RateLimitConfig struct {
	Default   string            `yaml:"default" mapstructure:"default"`
	Providers map[string]string `yaml:"providers" mapstructure:"providers"`
}

// RetryConfig configures provider call retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig configures per-provider circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// DiscoveryConfig configures discover jobs.
type DiscoveryConfig struct {
	SearchProvider string   `yaml:"search_provider" mapstructure:"search_provider" validate:"oneof=jina google"`
	Parallelism    int      `yaml:"parallelism" mapstructure:"parallelism" validate:"gt=0"`
	Platforms      []string `yaml:"platforms" mapstructure:"platforms"`
	Keywords       []string `yaml:"keywords" mapstructure:"keywords"`
	Locations      []string `yaml:"locations" mapstructure:"locations"`
	PlanFile       string   `yaml:"plan_file" mapstructure:"plan_file"`
	Blocklist      []string `yaml:"blocklist" mapstructure:"blocklist"`
}

// ScoringConfig configures the ranking weights.
type ScoringConfig struct {
	AuthorityWeight    float64  `yaml:"authority_weight" mapstructure:"authority_weight"`
	HasEmailWeight     float64  `yaml:"has_email_weight" mapstructure:"has_email_weight"`
	ConfidenceWeight   float64  `yaml:"confidence_weight" mapstructure:"confidence_weight"`
	RelevanceWeight    float64  `yaml:"relevance_weight" mapstructure:"relevance_weight"`
	CompletenessWeight float64  `yaml:"completeness_weight" mapstructure:"completeness_weight"`
	RecencyWeight      float64  `yaml:"recency_weight" mapstructure:"recency_weight"`
	TargetKeywords     []string `yaml:"target_keywords" mapstructure:"target_keywords"`
	RecencyHalfLifeDay int      `yaml:"recency_half_life_days" mapstructure:"recency_half_life_days"`
}

// OutreachConfig configures drafting, sending and follow-ups.
type OutreachConfig struct {
	SenderName         string   `yaml:"sender_name" mapstructure:"sender_name"`
	Pitch              string   `yaml:"pitch" mapstructure:"pitch"`
	DraftVerifications []string `yaml:"draft_verifications" mapstructure:"draft_verifications"`
	MinScore           float64  `yaml:"min_score" mapstructure:"min_score"`
	FollowUpDelayHours int      `yaml:"followup_delay_hours" mapstructure:"followup_delay_hours"`
	FollowUpMax        int      `yaml:"followup_max" mapstructure:"followup_max"`
}

// JinaConfig holds Jina search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// GoogleConfig holds Google Places API settings.
type GoogleConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// HunterConfig holds email finder / verifier API settings.
type HunterConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SMTPConfig holds outbound mail settings.
type SMTPConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	From     string `yaml:"from" mapstructure:"from"`
}

// EventsConfig configures the AMQP job event publisher. An empty URL
// disables publishing.
type EventsConfig struct {
	URL      string `yaml:"url" mapstructure:"url"`
	Exchange string `yaml:"exchange" mapstructure:"exchange"`
}

// MonitoringConfig configures the job health checker.
type MonitoringConfig struct {
	Enabled             bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs   int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackHours       int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	FailureRateWarn     float64 `yaml:"failure_rate_warn" mapstructure:"failure_rate_warn"`
	FailureRateCritical float64 `yaml:"failure_rate_critical" mapstructure:"failure_rate_critical"`
	StuckJobMinutes     int     `yaml:"stuck_job_minutes" mapstructure:"stuck_job_minutes"`
	WebhookURL          string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("scheduler.interval_secs", 60)
	v.SetDefault("scheduler.master_enabled", false)
	v.SetDefault("scheduler.auto_jobs", []string{})
	v.SetDefault("jobs.batch_size", 200)
	v.SetDefault("jobs.concurrency", 4)
	v.SetDefault("jobs.heartbeat_secs", 15)
	v.SetDefault("jobs.lease_secs", 90)
	v.SetDefault("jobs.provider_timeout_secs", 30)
	v.SetDefault("jobs.timeout_secs", 3600)
	v.SetDefault("ratelimit.default", "")
	v.SetDefault("ratelimit.providers", map[string]string{
		"jina":      "100/minute",
		"google":    "10/second",
		"hunter":    "15/second",
		"anthropic": "50/minute",
		"smtp":      "100/hour",
		"scrape":    "5/second",
	})
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("discovery.search_provider", "jina")
	v.SetDefault("discovery.parallelism", 4)
	v.SetDefault("discovery.platforms", []string{"website"})
	v.SetDefault("scoring.authority_weight", 0.30)
	v.SetDefault("scoring.has_email_weight", 0.25)
	v.SetDefault("scoring.confidence_weight", 0.15)
	v.SetDefault("scoring.relevance_weight", 0.15)
	v.SetDefault("scoring.completeness_weight", 0.10)
	v.SetDefault("scoring.recency_weight", 0.05)
	v.SetDefault("scoring.recency_half_life_days", 30)
	v.SetDefault("outreach.draft_verifications", []string{"verified"})
	v.SetDefault("outreach.followup_delay_hours", 96)
	v.SetDefault("outreach.followup_max", 2)
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("hunter.base_url", "https://api.hunter.io/v2")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("smtp.port", 587)
	v.SetDefault("events.exchange", "outreach.jobs")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.failure_rate_warn", 0.25)
	v.SetDefault("monitoring.failure_rate_critical", 0.5)
	v.SetDefault("monitoring.stuck_job_minutes", 60)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Scope names which credentials a command needs.
type Scope string

const (
	ScopeStore    Scope = "store"
	ScopeServe    Scope = "serve"
	ScopeDiscover Scope = "discover"
	ScopeEnrich   Scope = "enrich"
	ScopeCompose  Scope = "compose"
	ScopeSend     Scope = "send"
)

// Validate checks the struct constraints and the credentials required by
// the given scopes.
func (c *Config) Validate(scopes ...Scope) error {
	v := validator.New()
	if err := v.Struct(c.Store); err != nil {
		return eris.Wrap(err, "config: store")
	}
	for _, s := range scopes {
		switch s {
		case ScopeServe:
			if err := v.Struct(c.Server); err != nil {
				return eris.Wrap(err, "config: server")
			}
			if err := v.Struct(c.Scheduler); err != nil {
				return eris.Wrap(err, "config: scheduler")
			}
			if err := v.Struct(c.Jobs); err != nil {
				return eris.Wrap(err, "config: jobs")
			}
		case ScopeDiscover:
			if err := v.Struct(c.Discovery); err != nil {
				return eris.Wrap(err, "config: discovery")
			}
			if c.Discovery.SearchProvider == "jina" && c.Jina.Key == "" {
				return eris.New("config: jina.key is required for discovery")
			}
			if c.Discovery.SearchProvider == "google" && c.Google.Key == "" {
				return eris.New("config: google.key is required for discovery")
			}
		case ScopeEnrich:
			if c.Hunter.Key == "" {
				return eris.New("config: hunter.key is required")
			}
		case ScopeCompose:
			if c.Anthropic.Key == "" {
				return eris.New("config: anthropic.key is required")
			}
		case ScopeSend:
			if c.SMTP.Host == "" || c.SMTP.From == "" {
				return eris.New("config: smtp.host and smtp.from are required")
			}
		}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
