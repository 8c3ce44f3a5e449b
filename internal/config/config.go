package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides the environment-backed Config and the hot-reloadable limits.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewLimitsHolder),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	LogLevel    string

	// SnowflakeNode must differ per instance; valid range 0..1023.
	SnowflakeNode int64

	FeedbackBaseURL string
	UploadMaxBytes  int64

	OTLPEndpoint string
	OTLPProtocol string
	OTelEnabled  bool
	OTelSampling float64

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis     RedisConfig
	Oracle    OracleConfig
	Storage   StorageConfig
	Reclaimer ReclaimerConfig
	SMTP      SMTPConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type OracleConfig struct {
	Backend string
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	// StaticIdentifier is returned by the static backend; empty means Not Found.
	StaticIdentifier string
}

type StorageConfig struct {
	Backend    string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	Region     string
	UseSSL     bool
	PublicURLs bool
	URLExpiry  time.Duration
	Timeout    time.Duration
}

type ReclaimerConfig struct {
	Enabled     bool
	Interval    time.Duration
	Grace       time.Duration
	BatchSize   int
	Concurrency int
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:         getenv("APP_SERVICE", "feedlink"),
		AppVersion:      getenv("APP_VERSION", "0.1.0"),
		Environment:     getenv("ENVIRONMENT", "development"),
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		LogLevel:        strings.ToLower(getenv("LOG_LEVEL", "info")),
		SnowflakeNode:   int64(getenvInt("SNOWFLAKE_NODE", 1)),
		FeedbackBaseURL: strings.TrimRight(getenv("FEEDBACK_BASE_URL", "http://localhost:8080"), "/"),
		UploadMaxBytes:  int64(getenvInt("UPLOAD_MAX_BYTES", 10<<20)),
		OTLPEndpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPProtocol:    strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
		OTelEnabled:     getenvBool("OTEL_ENABLED", false),
		OTelSampling:    getenvFloat("OTEL_SAMPLING_RATIO", 0.1),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "feedlink"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Oracle: OracleConfig{
			Backend:          strings.ToLower(getenv("ORACLE_BACKEND", "gemini")),
			BaseURL:          strings.TrimRight(getenv("ORACLE_BASE_URL", "https://generativelanguage.googleapis.com"), "/"),
			APIKey:           strings.TrimSpace(getenv("ORACLE_API_KEY", "")),
			Model:            getenv("ORACLE_MODEL", "gemini-1.5-flash"),
			Timeout:          getenvDuration("ORACLE_TIMEOUT", 30*time.Second),
			StaticIdentifier: strings.TrimSpace(getenv("ORACLE_STATIC_IDENTIFIER", "")),
		},
		Storage: StorageConfig{
			Backend:    strings.ToLower(getenv("STORAGE_BACKEND", "minio")),
			Endpoint:   getenv("STORAGE_ENDPOINT", "localhost:9000"),
			AccessKey:  strings.TrimSpace(getenv("STORAGE_ACCESS_KEY", "")),
			SecretKey:  strings.TrimSpace(getenv("STORAGE_SECRET_KEY", "")),
			Bucket:     getenv("STORAGE_BUCKET", "feedlink-artifacts"),
			Region:     getenv("STORAGE_REGION", "us-east-1"),
			UseSSL:     getenvBool("STORAGE_USE_SSL", false),
			PublicURLs: getenvBool("STORAGE_PUBLIC_URLS", false),
			URLExpiry:  getenvDuration("STORAGE_URL_EXPIRY", time.Hour),
			Timeout:    getenvDuration("STORAGE_TIMEOUT", 15*time.Second),
		},
		Reclaimer: ReclaimerConfig{
			Enabled:     getenvBool("RECLAIM_ENABLED", true),
			Interval:    getenvDuration("RECLAIM_INTERVAL", 5*time.Minute),
			Grace:       getenvDuration("RECLAIM_GRACE", 15*time.Minute),
			BatchSize:   getenvInt("RECLAIM_BATCH_SIZE", 100),
			Concurrency: getenvInt("RECLAIM_CONCURRENCY", 4),
		},
		SMTP: SMTPConfig{
			Host:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			Port:     getenvInt("SMTP_PORT", 587),
			Username: strings.TrimSpace(getenv("SMTP_USERNAME", "")),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     strings.TrimSpace(getenv("SMTP_FROM", "no-reply@feedlink.local")),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go durations ("90s") or a bare number of seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return def
}
