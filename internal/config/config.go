// Package config loads application configuration from the environment.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sitebooks/sitebooks/pkg/db"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

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

	SMTP SMTPConfig

	Extraction ExtractionConfig
	Pipeline   PipelineConfig
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Enabled  bool
}

// ExtractionConfig bounds calls to the document-understanding provider.
type ExtractionConfig struct {
	Provider     string
	OpenAIAPIKey string
	OpenAIModel  string
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
}

// PipelineConfig carries the decision thresholds for intake.
type PipelineConfig struct {
	UploadMaxBytes         int64
	LowConfidenceThreshold float64
	PriceDeviationMultiple float64
	NewPayeeInvoiceCount   int
	AutoApproveMaxRisk     int
	AutoApproveMinHistory  int64
	AutoApproveMaxAmount   string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "sitebooks"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "sitebooks"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		SMTP: SMTPConfig{
			Host:     getenv("SMTP_HOST", "localhost"),
			Port:     getenvInt("SMTP_PORT", 587),
			Username: getenv("SMTP_USERNAME", ""),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     getenv("SMTP_FROM", "no-reply@sitebooks.co.uk"),
			Enabled:  getenvBool("SMTP_ENABLED", false),
		},

		Extraction: ExtractionConfig{
			Provider:     getenv("EXTRACTION_PROVIDER", "openai"),
			OpenAIAPIKey: strings.TrimSpace(getenv("OPENAI_API_KEY", "")),
			OpenAIModel:  getenv("OPENAI_MODEL", "gpt-4o-mini"),
			Timeout:      getenvDuration("EXTRACTION_TIMEOUT", 30*time.Second),
			Retries:      getenvInt("EXTRACTION_RETRIES", 1),
			RetryBackoff: getenvDuration("EXTRACTION_RETRY_BACKOFF", 2*time.Second),
		},

		Pipeline: PipelineConfig{
			UploadMaxBytes:         getenvInt64("UPLOAD_MAX_BYTES", 10<<20),
			LowConfidenceThreshold: getenvFloat("RISK_LOW_CONFIDENCE_THRESHOLD", 0.7),
			PriceDeviationMultiple: getenvFloat("RISK_PRICE_DEVIATION_MULTIPLE", 2.0),
			NewPayeeInvoiceCount:   getenvInt("RISK_NEW_PAYEE_INVOICE_COUNT", 3),
			AutoApproveMaxRisk:     getenvInt("APPROVAL_AUTO_MAX_RISK", 30),
			AutoApproveMinHistory:  getenvInt64("APPROVAL_AUTO_MIN_HISTORY", 10),
			AutoApproveMaxAmount:   getenv("APPROVAL_AUTO_MAX_AMOUNT", "5000"),
		},
	}

	return cfg
}

// DBConfig maps the loaded settings onto the shared db package config.
func DBConfig(cfg Config) db.Config {
	return db.Config{
		Type:            cfg.DBType,
		Host:            cfg.DBHost,
		Port:            cfg.DBPort,
		Name:            cfg.DBName,
		User:            cfg.DBUser,
		Password:        cfg.DBPassword,
		SSLMode:         cfg.DBSSLMode,
		MaxIdleConn:     cfg.DBMaxIdleConn,
		MaxOpenConn:     cfg.DBMaxOpenConn,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	}
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getenvInt64(key string, fallback int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("config: invalid int for %s: %q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("config: invalid float for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getenvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("config: invalid duration for %s: %q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
