package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"invoicing/internal/logger"
)

type Config struct {
	// OpenAI-compatible matching capability
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	// Match requester
	MatchTimeout        time.Duration
	MatchMaxRetries     int
	MatchInitialBackoff time.Duration

	// Journal applier
	ConfidenceThreshold float64
	CashAccount         string
	ReceivableAccount   string

	// Bank export parsing
	BankEncoding     string
	AmountLocale     string
	BankDepositsOnly bool

	// Outputs
	OutputDir      string
	JournalDB      string
	ReviewSheetURL string
	BatchWorkers   int

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:         getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		CashAccount:         getEnv("CASH_ACCOUNT", "cash"),
		ReceivableAccount:   getEnv("RECEIVABLE_ACCOUNT", "accounts_receivable"),
		BankEncoding:        strings.ToLower(getEnv("BANK_ENCODING", "utf-8")),
		AmountLocale:        strings.ToLower(getEnv("AMOUNT_LOCALE", "auto")),
		OutputDir:           getEnv("OUTPUT_DIR", "output"),
		JournalDB:           getEnv("JOURNAL_DB", ""),
		ReviewSheetURL:      getEnv("REVIEW_SHEET_URL", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:       getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:           getEnv("LOG_OUTPUT", "stderr"),
	}

	var err error
	if config.MatchTimeout, err = getEnvDuration("MATCH_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if config.MatchMaxRetries, err = getEnvInt("MATCH_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if config.MatchInitialBackoff, err = getEnvDuration("MATCH_INITIAL_BACKOFF", time.Second); err != nil {
		return nil, err
	}
	if config.ConfidenceThreshold, err = getEnvFloat("CONFIDENCE_THRESHOLD", 0.7); err != nil {
		return nil, err
	}
	if config.BankDepositsOnly, err = getEnvBool("BANK_DEPOSITS_ONLY", true); err != nil {
		return nil, err
	}
	if config.BatchWorkers, err = getEnvInt("BATCH_WORKERS", 4); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.MatchTimeout <= 0 {
		return fmt.Errorf("MATCH_TIMEOUT must be positive")
	}
	if c.MatchMaxRetries < 0 {
		return fmt.Errorf("MATCH_MAX_RETRIES must not be negative")
	}
	if c.MatchInitialBackoff < 0 {
		return fmt.Errorf("MATCH_INITIAL_BACKOFF must not be negative")
	}
	if !(c.ConfidenceThreshold > 0 && c.ConfidenceThreshold <= 1) {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be within (0,1], got %v", c.ConfidenceThreshold)
	}
	switch c.BankEncoding {
	case "utf-8", "utf8", "shift_jis", "sjis":
	default:
		return fmt.Errorf("BANK_ENCODING %q is not supported", c.BankEncoding)
	}
	switch c.AmountLocale {
	case "auto", "dot", "comma":
	default:
		return fmt.Errorf("AMOUNT_LOCALE must be one of auto, dot, comma")
	}
	if c.BatchWorkers <= 0 {
		return fmt.Errorf("BATCH_WORKERS must be positive")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("OUTPUT_DIR is required")
	}
	return nil
}

// RequireMatcher reports whether the matching capability is configured
func (c *Config) RequireMatcher() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return f, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return d, nil
}
