package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all slotowl configuration, read from environment variables.
type Config struct {
	Mode string `env:"APP_MODE" envDefault:"api"`

	// Server
	Host string `env:"APP_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"APP_PORT" envDefault:"8080"`

	// Database
	DatabaseURL   string `env:"DATABASE_URL" envDefault:"postgres://localhost:5432/slotowl?sslmode=disable"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations/global"`

	// Redis
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Telemetry
	OTLPEndpoint    string  `env:"OTEL_ENDPOINT"`
	OTLPSampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`
	MetricsPath     string  `env:"METRICS_PATH" envDefault:"/metrics"`

	// Dev mode: replies are logged instead of sent and webhook signatures are not checked.
	DevMode bool `env:"DEV_MODE" envDefault:"false"`

	// WhatsApp Cloud API
	WhatsAppVerifyToken      string        `env:"WHATSAPP_VERIFY_TOKEN"`
	WhatsAppAppSecret        string        `env:"WHATSAPP_APP_SECRET"`
	WhatsAppAccessToken      string        `env:"WHATSAPP_ACCESS_TOKEN"`
	WhatsAppAPIURL           string        `env:"WHATSAPP_API_URL" envDefault:"https://graph.facebook.com/v21.0"`
	WhatsAppSendTimeout      time.Duration `env:"WHATSAPP_SEND_TIMEOUT" envDefault:"10s"`
	WhatsAppSendRate         float64       `env:"WHATSAPP_SEND_RATE" envDefault:"20"`
	WhatsAppMaxMessageLength int           `env:"WHATSAPP_MAX_MESSAGE_LENGTH" envDefault:"4096"`

	// Language model
	OpenAIAPIKey      string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `env:"OPENAI_BASE_URL"`
	OpenAIModel       string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	OpenAITemperature float64       `env:"OPENAI_TEMPERATURE" envDefault:"0.3"`
	OpenAITimeout     time.Duration `env:"OPENAI_TIMEOUT" envDefault:"30s"`
	OpenAIMaxRetries  int           `env:"OPENAI_MAX_RETRIES" envDefault:"2"`

	// Agent
	AgentMaxIterations     int           `env:"AGENT_MAX_ITERATIONS" envDefault:"5"`
	AgentTurnTimeout       time.Duration `env:"AGENT_TURN_TIMEOUT" envDefault:"45s"`
	AgentHistoryLimit      int           `env:"AGENT_HISTORY_LIMIT" envDefault:"10"`
	AgentMaxConcurrentTurn int           `env:"AGENT_MAX_CONCURRENT_TURNS" envDefault:"32"`

	// Credential vault
	VaultKey string `env:"VAULT_KEY"`

	// Google Calendar
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	CalendarAPIURL     string `env:"CALENDAR_API_URL" envDefault:"https://www.googleapis.com/calendar/v3"`

	// Deduplication
	DedupTTL       time.Duration `env:"DEDUP_TTL" envDefault:"24h"`
	DedupMemoryMax int           `env:"DEDUP_MEMORY_MAX" envDefault:"10000"`

	// Tenant resolution
	TenantCacheTTL time.Duration `env:"TENANT_CACHE_TTL" envDefault:"60s"`

	// Scheduling
	SchedulingDuplicateWindow time.Duration `env:"SCHEDULING_DUPLICATE_WINDOW" envDefault:"5m"`
	SchedulingLockTTL         time.Duration `env:"SCHEDULING_LOCK_TTL" envDefault:"15s"`
	SchedulingDistributedLock bool          `env:"SCHEDULING_DISTRIBUTED_LOCK" envDefault:"true"`

	// Slack operator alerts
	SlackBotToken     string `env:"SLACK_BOT_TOKEN"`
	SlackAlertChannel string `env:"SLACK_ALERT_CHANNEL"`

	// Kafka appointment events
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"slotowl.appointments"`

	// Housekeeping worker
	HousekeepingSchedule      string        `env:"HOUSEKEEPING_SCHEDULE" envDefault:"15 3 * * *"`
	ProcessedMessageRetention time.Duration `env:"PROCESSED_MESSAGE_RETENTION" envDefault:"720h"`
	ToolAuditRetention        time.Duration `env:"TOOL_AUDIT_RETENTION" envDefault:"2160h"`

	// Seed mode
	SeedChannelAddress     string `env:"SEED_CHANNEL_ADDRESS" envDefault:"100000000000001"`
	SeedGoogleRefreshToken string `env:"SEED_GOOGLE_REFRESH_TOKEN"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := new(Config)
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
