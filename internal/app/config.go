package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// AgentsFile points at the yaml agent directory. Empty means no agents:
	// every connection is then a visitor.
	AgentsFile string

	// BotEnabled wires the canned responder into unclaimed rooms.
	BotEnabled bool

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("HANDOFF_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("HANDOFF_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("HANDOFF_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		IdleTimeout:       EnvDuration("HANDOFF_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("HANDOFF_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("HANDOFF_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("HANDOFF_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("HANDOFF_DB_MIN_CONNS", 0),

		AgentsFile: EnvString("HANDOFF_AGENTS_FILE", ""),
		BotEnabled: EnvBool("HANDOFF_BOT_ENABLED", true),

		ReadinessRequireDB: EnvBool("HANDOFF_READINESS_REQUIRE_DB", false),
	}
}
