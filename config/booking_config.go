package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Assistant identity
	AssistantEmail string
	AssistantName  string
	DefaultReply   string

	// ReplyToAutomated answers list and auto-submitted mail instead of skipping it.
	ReplyToAutomated bool

	// Agent
	AgentMaxIterations  int
	ExternalCallTimeout time.Duration

	// OpenAI
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64

	// Calendar
	CalendarBackend       string
	CalDAVEndpoint        string
	CalDAVCalendarPath    string
	CalDAVUsername        string
	CalDAVPassword        string
	CalDAVDefaultTimezone string
	CalDAVOwners          []string

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string

	// Identity directory
	ClerkAPIURL    string
	ClerkSecretKey string

	// Outbound mail
	MailSenderUser  string
	MailSenderToken string

	// Raw email storage
	BlobBackend string
	BlobFSRoot  string
	MongoDBURL  string
	MongoDBName string

	// Trigger queue (Redis Stream)
	RedisURL         string
	TriggerStream    string
	TriggerGroup     string
	TriggerJWTSecret string
	TriggerDedup     time.Duration
	InboundRateLimit int
	IdentityCacheTTL time.Duration

	// Worker
	WorkerID        string
	WorkerMax       int
	WorkerQueueSize int
	ConsumerBatch   int
	ConsumerBlockMS int

	// IMAP inbox polling
	IMAPServer       string
	IMAPUsername     string
	IMAPPassword     string
	IMAPMailbox      string
	IMAPPollInterval time.Duration
}

const (
	CalendarBackendGoogle = "google"
	CalendarBackendCalDAV = "caldav"

	BlobBackendMongo = "mongo"
	BlobBackendFS    = "fs"
	BlobBackendMbox  = "mbox"
)

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		AssistantEmail: getEnv("ASSISTANT_EMAIL", getEnv("BOOKING_EMAIL", "book@bhaang.com")),
		AssistantName:  getEnv("ASSISTANT_NAME", "Vibe"),
		DefaultReply:   getEnv("DEFAULT_REPLY", "I will get back soon"),

		ReplyToAutomated: getEnvBool("REPLY_TO_AUTOMATED", false),

		AgentMaxIterations:  getEnvInt("AGENT_MAX_ITERATIONS", 5),
		ExternalCallTimeout: time.Duration(getEnvInt("EXTERNAL_CALL_TIMEOUT_SEC", 30)) * time.Second,

		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.2),

		CalendarBackend:       strings.ToLower(getEnv("CALENDAR_BACKEND", CalendarBackendGoogle)),
		CalDAVEndpoint:        getEnv("CALDAV_ENDPOINT", ""),
		CalDAVCalendarPath:    getEnv("CALDAV_CALENDAR_PATH", ""),
		CalDAVUsername:        getEnv("CALDAV_USERNAME", ""),
		CalDAVPassword:        getEnv("CALDAV_PASSWORD", ""),
		CalDAVDefaultTimezone: getEnv("CALDAV_DEFAULT_TIMEZONE", "UTC"),
		CalDAVOwners:          getEnvList("CALDAV_OWNERS"),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),

		ClerkAPIURL:    getEnv("CLERK_API_URL", "https://api.clerk.com/v1"),
		ClerkSecretKey: getEnv("CLERK_SECRET_KEY", ""),

		MailSenderUser:  getEnv("MAIL_SENDER_USER", "me"),
		MailSenderToken: getEnv("MAIL_SENDER_TOKEN", ""),

		BlobBackend: strings.ToLower(getEnv("BLOB_BACKEND", BlobBackendMongo)),
		BlobFSRoot:  getEnv("BLOB_FS_ROOT", "./mail"),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "booking"),

		RedisURL:         getEnv("REDIS_URL", ""),
		TriggerStream:    getEnv("TRIGGER_STREAM", "inbound:email"),
		TriggerGroup:     getEnv("TRIGGER_GROUP", "booking-workers"),
		TriggerJWTSecret: getEnv("TRIGGER_JWT_SECRET", ""),
		TriggerDedup:     time.Duration(getEnvInt("TRIGGER_DEDUP_WINDOW_SEC", 600)) * time.Second,
		InboundRateLimit: getEnvInt("INBOUND_RATE_LIMIT_PER_MIN", 120),
		IdentityCacheTTL: time.Duration(getEnvInt("IDENTITY_CACHE_TTL_SEC", 300)) * time.Second,

		WorkerID:        getEnv("WORKER_ID", generateWorkerID()),
		WorkerMax:       getEnvInt("WORKER_MAX", 8),
		WorkerQueueSize: getEnvInt("WORKER_QUEUE_SIZE", 100),
		ConsumerBatch:   getEnvInt("CONSUMER_BATCH_SIZE", 10),
		ConsumerBlockMS: getEnvInt("CONSUMER_BLOCK_MS", 5000),

		IMAPServer:       getEnv("IMAP_SERVER", ""),
		IMAPUsername:     getEnv("IMAP_USERNAME", ""),
		IMAPPassword:     getEnv("IMAP_PASSWORD", ""),
		IMAPMailbox:      getEnv("IMAP_MAILBOX", "INBOX"),
		IMAPPollInterval: time.Duration(getEnvInt("IMAP_POLL_INTERVAL_SEC", 60)) * time.Second,
	}
	if cfg.AgentMaxIterations <= 0 {
		return nil, fmt.Errorf("AGENT_MAX_ITERATIONS must be positive, got %d", cfg.AgentMaxIterations)
	}
	return cfg, nil
}

// Validate reports every missing value the given run mode needs.
func (c *Config) Validate(mode string) error {
	var missing []string
	need := func(name, value string) {
		if value == "" {
			missing = append(missing, name)
		}
	}

	need("ASSISTANT_EMAIL", c.AssistantEmail)

	switch c.CalendarBackend {
	case CalendarBackendGoogle:
		need("CLERK_SECRET_KEY", c.ClerkSecretKey)
	case CalendarBackendCalDAV:
		need("CALDAV_ENDPOINT", c.CalDAVEndpoint)
		if c.ClerkSecretKey == "" && len(c.CalDAVOwners) == 0 {
			missing = append(missing, "CLERK_SECRET_KEY or CALDAV_OWNERS")
		}
	default:
		return fmt.Errorf("unsupported CALENDAR_BACKEND %q", c.CalendarBackend)
	}

	switch c.BlobBackend {
	case BlobBackendMongo:
		if mode != "replay" {
			need("MONGODB_URL", c.MongoDBURL)
		}
	case BlobBackendFS, BlobBackendMbox:
	default:
		return fmt.Errorf("unsupported BLOB_BACKEND %q", c.BlobBackend)
	}

	switch mode {
	case "worker", "all":
		if c.RedisURL == "" && !c.IMAPEnabled() {
			missing = append(missing, "REDIS_URL or IMAP_SERVER")
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// IMAPEnabled reports whether the inbox poller should run.
func (c *Config) IMAPEnabled() bool {
	return c.IMAPServer != "" && c.IMAPUsername != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
