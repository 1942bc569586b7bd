package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/spec-kit/inquiry-router/internal/domain"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Routing      RoutingConfig
	SLA          SLAConfig
	Priority     PriorityConfig
	Sentiment    SentimentConfig
	Notification NotificationConfig
	Escalation   EscalationConfig
	Seed         SeedConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values. An empty DSN selects the
// in-memory stores (development and tests).
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values for the best-effort
// handler-change pub/sub.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines operator token verification parameters. Tokens are
// issued by the surrounding platform; this service only verifies them.
type AuthConfig struct {
	JWTSecret string
}

// RoutingConfig tunes the routing engine.
type RoutingConfig struct {
	SweepIntervalSeconds int
	MaxRetries           int
	RetryBackoffMillis   int
}

// SweepInterval returns the periodic routing sweep cadence.
func (r RoutingConfig) SweepInterval() time.Duration {
	return time.Duration(r.SweepIntervalSeconds) * time.Second
}

// RetryBackoff returns the delay between conflict retries.
func (r RoutingConfig) RetryBackoff() time.Duration {
	return time.Duration(r.RetryBackoffMillis) * time.Millisecond
}

// SLAConfig maps priorities to SLA windows and tunes the breach sweep.
type SLAConfig struct {
	SweepIntervalSeconds  int
	CriticalWindowSeconds int
	HighWindowSeconds     int
	MediumWindowSeconds   int
	LowWindowSeconds      int
}

// SweepInterval returns the breach sweep cadence.
func (s SLAConfig) SweepInterval() time.Duration {
	return time.Duration(s.SweepIntervalSeconds) * time.Second
}

// Windows returns the priority→window mapping. The mapping is total by
// construction: every priority has a configured window.
func (s SLAConfig) Windows() map[domain.CasePriority]time.Duration {
	return map[domain.CasePriority]time.Duration{
		domain.PriorityCritical: time.Duration(s.CriticalWindowSeconds) * time.Second,
		domain.PriorityHigh:     time.Duration(s.HighWindowSeconds) * time.Second,
		domain.PriorityMedium:   time.Duration(s.MediumWindowSeconds) * time.Second,
		domain.PriorityLow:      time.Duration(s.LowWindowSeconds) * time.Second,
	}
}

// PriorityConfig feeds the priority derivation policy.
type PriorityConfig struct {
	CategoryDefaults           string
	Default                    string
	NegativeSentimentThreshold float64
	PremiumTiers               string
}

// Policy parses the configured derivation policy.
func (p PriorityConfig) Policy() domain.PriorityPolicy {
	defaults := make(map[string]domain.CasePriority)
	for _, pair := range strings.Split(p.CategoryDefaults, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			continue
		}
		defaults[parts[0]] = domain.CasePriority(strings.ToUpper(strings.TrimSpace(parts[1])))
	}
	tiers := make(map[domain.CustomerTier]bool)
	for _, tier := range strings.Split(p.PremiumTiers, ",") {
		if trimmed := strings.TrimSpace(tier); trimmed != "" {
			tiers[domain.CustomerTier(trimmed)] = true
		}
	}
	return domain.PriorityPolicy{
		CategoryDefaults:           defaults,
		DefaultPriority:            domain.CasePriority(strings.ToUpper(p.Default)),
		NegativeSentimentThreshold: p.NegativeSentimentThreshold,
		PremiumTiers:               tiers,
	}
}

// SentimentConfig locates the sentiment collaborator.
type SentimentConfig struct {
	URL           string
	TimeoutMillis int
}

// Timeout returns the bounded call timeout.
func (s SentimentConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMillis) * time.Millisecond
}

// NotificationConfig holds notification collaborator endpoints.
type NotificationConfig struct {
	EmailFrom           string
	WebhookURL          string
	TimeoutMillis       int
	RetryBackoffSeconds string
}

// Timeout returns the bounded delivery timeout per attempt.
func (n NotificationConfig) Timeout() time.Duration {
	return time.Duration(n.TimeoutMillis) * time.Millisecond
}

// RetrySchedule parses the backoff schedule, e.g. "1,5,25".
func (n NotificationConfig) RetrySchedule() []time.Duration {
	var schedule []time.Duration
	for _, raw := range strings.Split(n.RetryBackoffSeconds, ",") {
		seconds, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || seconds < 0 {
			continue
		}
		schedule = append(schedule, time.Duration(seconds)*time.Second)
	}
	if len(schedule) == 0 {
		schedule = []time.Duration{time.Second, 5 * time.Second, 25 * time.Second}
	}
	return schedule
}

// EscalationConfig names the supervisory assignment target.
type EscalationConfig struct {
	TargetHandlerID string
	NotifyTarget    string
}

// SeedConfig bootstraps handler records when running on the in-memory
// stores, where no migration path exists. Postgres deployments seed
// handlers through migrations/ops tooling instead.
type SeedConfig struct {
	// Handlers format: "id:skill1|skill2:max,...", e.g.
	// "agent-1:billing|general:3,agent-2:outage:2".
	Handlers string
}

// ParseHandlers decodes the seed list, skipping malformed entries.
func (s SeedConfig) ParseHandlers() []domain.Handler {
	var seeded []domain.Handler
	for _, entry := range strings.Split(s.Handlers, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 || parts[0] == "" {
			continue
		}
		max, err := strconv.Atoi(parts[2])
		if err != nil || max <= 0 {
			continue
		}
		var skills []string
		for _, skill := range strings.Split(parts[1], "|") {
			if trimmed := strings.TrimSpace(skill); trimmed != "" {
				skills = append(skills, trimmed)
			}
		}
		seeded = append(seeded, domain.Handler{
			ID:                 parts[0],
			Skills:             skills,
			MaxConcurrentCases: max,
			Status:             domain.HandlerStatusAvailable,
		})
	}
	return seeded
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	threshold, err := strconv.ParseFloat(getEnv("PRIORITY_NEGATIVE_SENTIMENT_THRESHOLD", "-0.5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PRIORITY_NEGATIVE_SENTIMENT_THRESHOLD: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "inquiry-router"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", "dev-secret"),
		},
		Routing: RoutingConfig{
			SweepIntervalSeconds: getEnvAsInt("ROUTING_SWEEP_INTERVAL_SECONDS", 15),
			MaxRetries:           getEnvAsInt("ROUTING_MAX_RETRIES", 3),
			RetryBackoffMillis:   getEnvAsInt("ROUTING_RETRY_BACKOFF_MILLIS", 50),
		},
		SLA: SLAConfig{
			SweepIntervalSeconds:  getEnvAsInt("SLA_SWEEP_INTERVAL_SECONDS", 10),
			CriticalWindowSeconds: getEnvAsInt("SLA_WINDOW_CRITICAL_SECONDS", 300),
			HighWindowSeconds:     getEnvAsInt("SLA_WINDOW_HIGH_SECONDS", 1800),
			MediumWindowSeconds:   getEnvAsInt("SLA_WINDOW_MEDIUM_SECONDS", 14400),
			LowWindowSeconds:      getEnvAsInt("SLA_WINDOW_LOW_SECONDS", 86400),
		},
		Priority: PriorityConfig{
			CategoryDefaults:           getEnv("PRIORITY_CATEGORY_DEFAULTS", "outage=CRITICAL,billing=HIGH"),
			Default:                    getEnv("PRIORITY_DEFAULT", "MEDIUM"),
			NegativeSentimentThreshold: threshold,
			PremiumTiers:               getEnv("PRIORITY_PREMIUM_TIERS", "premium"),
		},
		Sentiment: SentimentConfig{
			URL:           getEnv("SENTIMENT_URL", ""),
			TimeoutMillis: getEnvAsInt("SENTIMENT_TIMEOUT_MILLIS", 1500),
		},
		Notification: NotificationConfig{
			EmailFrom:           getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL:          getEnv("NOTIFY_WEBHOOK_URL", ""),
			TimeoutMillis:       getEnvAsInt("NOTIFY_TIMEOUT_MILLIS", 2000),
			RetryBackoffSeconds: getEnv("NOTIFY_RETRY_BACKOFF_SECONDS", "1,5,25"),
		},
		Escalation: EscalationConfig{
			TargetHandlerID: getEnv("ESCALATION_TARGET_HANDLER_ID", "supervisor-queue"),
			NotifyTarget:    getEnv("ESCALATION_NOTIFY_TARGET", "supervisors"),
		},
		Seed: SeedConfig{
			Handlers: getEnv("HANDLER_SEED", ""),
		},
	}

	for priority, window := range cfg.SLA.Windows() {
		if window <= 0 {
			return nil, fmt.Errorf("SLA window for %s must be positive", priority)
		}
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
