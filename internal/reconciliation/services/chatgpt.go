package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"invoicing/internal/logger"
	"invoicing/internal/reconciliation"
	"invoicing/internal/resilience"
)

// ErrEmptyCompletion is returned when the completion carries no choices.
var ErrEmptyCompletion = errors.New("no response choices from ChatGPT")

const systemPrompt = `You are an accounts receivable assistant. Match incoming bank payments to issued invoices.
Classify each pairing as EXACT (amount and client agree), PARTIAL (client agrees, amount is a part payment)
or FUZZY (client name only loosely agrees). Leave out payments you cannot match.

Answer only with JSON in this format:
{
  "matches": [
    {
      "invoice_id": "PRJ_0001",
      "payment_id": "TXN_20240105_0001",
      "match_type": "EXACT",
      "confidence_score": 0.95,
      "match_amount": 100000,
      "client_name": "ABC Trading"
    }
  ]
}
confidence_score must be between 0 and 1. An empty "matches" list is a valid answer.`

// MatcherConfig configures the ChatGPT matching capability.
type MatcherConfig struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// DefaultMatcherConfig returns the settings used when none are given.
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		Model:       openai.GPT4oMini,
		Temperature: 0.1,
		MaxTokens:   4000,
	}
}

// ChatGPTMatcher implements reconciliation.Matcher using the OpenAI chat
// completion API. The returned payload is untrusted and parsed by the caller.
type ChatGPTMatcher struct {
	openaiClient *openai.Client
	config       MatcherConfig
}

// NewOpenAIClient creates an OpenAI client. baseURL may be empty to use the
// public endpoint.
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// NewChatGPTMatcher creates a new ChatGPT-based matcher
func NewChatGPTMatcher(openaiClient *openai.Client, config MatcherConfig) *ChatGPTMatcher {
	defaults := DefaultMatcherConfig()
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.Temperature == 0 {
		config.Temperature = defaults.Temperature
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = defaults.MaxTokens
	}
	return &ChatGPTMatcher{
		openaiClient: openaiClient,
		config:       config,
	}
}

// Match sends one batch to ChatGPT and returns the raw message content.
// Requests the API refuses outright wrap resilience.ErrPermanent.
func (m *ChatGPTMatcher) Match(ctx context.Context, req reconciliation.MatchRequest) (string, error) {
	const op = "Match"
	log := logger.FromContext(ctx).With().Str("component", "reconciliation-chatgpt").Logger()

	invoicesJSON, err := json.MarshalIndent(req.Invoices, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%s: failed to marshal invoices JSON: %w", op, err)
	}
	paymentsJSON, err := json.MarshalIndent(req.Transactions, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%s: failed to marshal payments JSON: %w", op, err)
	}

	prompt := fmt.Sprintf("INVOICES:\n%s\n\nPAYMENTS:\n%s", invoicesJSON, paymentsJSON)

	log.Debug().
		Str("model", m.config.Model).
		Int("invoices", len(req.Invoices)).
		Int("payments", len(req.Transactions)).
		Msg("Sending matching request to ChatGPT")

	resp, err := m.openaiClient.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: m.config.Temperature,
		MaxTokens:   m.config.MaxTokens,
	})
	if err != nil {
		if permanent(err) {
			log.Error().Err(err).Msg("ChatGPT refused the request")
			return "", fmt.Errorf("%s: ChatGPT request failed: %w: %w", op, resilience.ErrPermanent, err)
		}
		return "", fmt.Errorf("%s: ChatGPT request failed: %w", op, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: %w", op, ErrEmptyCompletion)
	}

	content := resp.Choices[0].Message.Content
	log.Debug().
		Int("response_bytes", len(content)).
		Int("total_tokens", resp.Usage.TotalTokens).
		Msg("Received ChatGPT matching response")

	return content, nil
}

// permanent reports whether retrying err cannot help: the request was
// malformed, the key is wrong or the model does not exist.
func permanent(err error) bool {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}
