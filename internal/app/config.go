package app

import "time"

// Config contains all runtime configuration loaded from environment
// variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("SKILLLY_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("SKILLLY_LOG_LEVEL", "info"),
		LogFormat: EnvString("SKILLLY_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("SKILLLY_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("SKILLLY_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("SKILLLY_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("SKILLLY_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("SKILLLY_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("SKILLLY_DATABASE_URL", ""),
		DBSchema:    EnvString("SKILLLY_DB_SCHEMA", "skillly"),
		DBMaxConns:  EnvInt32("SKILLLY_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("SKILLLY_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("SKILLLY_READINESS_REQUIRE_DB", false),
	}
}
