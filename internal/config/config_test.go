package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"OPENAI_API_KEY", "MATCH_TIMEOUT", "MATCH_MAX_RETRIES", "CONFIDENCE_THRESHOLD", "BANK_ENCODING", "OUTPUT_DIR", "BATCH_WORKERS"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.MatchTimeout)
	assert.Equal(t, 3, cfg.MatchMaxRetries)
	assert.Equal(t, 0.7, cfg.ConfidenceThreshold)
	assert.Equal(t, "utf-8", cfg.BankEncoding)
	assert.Equal(t, "auto", cfg.AmountLocale)
	assert.True(t, cfg.BankDepositsOnly)
	assert.Equal(t, "output", cfg.OutputDir)
	assert.Equal(t, 4, cfg.BatchWorkers)
	assert.Error(t, cfg.RequireMatcher())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("MATCH_TIMEOUT", "5s")
	t.Setenv("MATCH_MAX_RETRIES", "2")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.85")
	t.Setenv("BANK_ENCODING", "Shift_JIS")
	t.Setenv("BANK_DEPOSITS_ONLY", "false")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.NoError(t, cfg.RequireMatcher())
	assert.Equal(t, 5*time.Second, cfg.MatchTimeout)
	assert.Equal(t, 2, cfg.MatchMaxRetries)
	assert.Equal(t, 0.85, cfg.ConfidenceThreshold)
	assert.Equal(t, "shift_jis", cfg.BankEncoding)
	assert.False(t, cfg.BankDepositsOnly)
	assert.Equal(t, "json", cfg.GetLoggerConfig().Format)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"MATCH_TIMEOUT", "soon", "invalid duration"},
		{"MATCH_TIMEOUT", "0s", "MATCH_TIMEOUT must be positive"},
		{"MATCH_MAX_RETRIES", "-1", "must not be negative"},
		{"CONFIDENCE_THRESHOLD", "1.5", "CONFIDENCE_THRESHOLD must be within"},
		{"CONFIDENCE_THRESHOLD", "0", "CONFIDENCE_THRESHOLD must be within (0,1]"},
		{"CONFIDENCE_THRESHOLD", "NaN", "CONFIDENCE_THRESHOLD must be within"},
		{"BANK_ENCODING", "latin1", "not supported"},
		{"AMOUNT_LOCALE", "fr", "AMOUNT_LOCALE must be one of"},
		{"BANK_DEPOSITS_ONLY", "maybe", "invalid boolean"},
		{"BATCH_WORKERS", "0", "BATCH_WORKERS must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
