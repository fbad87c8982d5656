package reconciliation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"invoicing/internal/logger"
)

// envelopeSchema accepts a bare array of objects or {"matches": [...]}.
const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "oneOf": [
    {"type": "array", "items": {"type": "object"}},
    {
      "type": "object",
      "required": ["matches"],
      "properties": {"matches": {"type": "array", "items": {"type": "object"}}}
    }
  ]
}`

// candidateSchema describes a well-formed candidate. Violations are tolerated
// field by field during decoding.
const candidateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["invoice_id", "payment_id", "match_amount", "confidence_score", "match_type"],
  "properties": {
    "invoice_id": {"type": ["string", "integer"]},
    "payment_id": {"type": ["string", "integer"]},
    "match_amount": {"type": ["number", "string"]},
    "confidence_score": {"type": ["number", "string"]},
    "match_type": {"type": "string"},
    "client_name": {"type": ["string", "null"]}
  }
}`

var (
	envelopeValidator  = jsonschema.MustCompileString("envelope.json", envelopeSchema)
	candidateValidator = jsonschema.MustCompileString("candidate.json", candidateSchema)
)

// ParseMatchResponse decodes the matcher's raw payload. A payload that fails
// the envelope schema returns ErrMalformedResponse; an empty list is a valid
// answer with no candidates.
func ParseMatchResponse(payload string) ([]MatchCandidate, error) {
	const op = "ParseMatchResponse"
	log := logger.WithComponent("reconciliation-response")

	body := extractJSON(payload)
	if body == "" {
		return nil, fmt.Errorf("%s: %w: no JSON found", op, ErrMalformedResponse)
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrMalformedResponse, err)
	}
	if err := envelopeValidator.Validate(doc); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrMalformedResponse, err)
	}

	var items []interface{}
	switch v := doc.(type) {
	case []interface{}:
		items = v
	case map[string]interface{}:
		items, _ = v["matches"].([]interface{})
	}

	candidates := make([]MatchCandidate, 0, len(items))
	for i, item := range items {
		obj, _ := item.(map[string]interface{})
		if err := candidateValidator.Validate(obj); err != nil {
			log.Debug().Int("index", i).Err(err).Msg("Match candidate does not match schema, decoding leniently")
		}
		candidates = append(candidates, decodeCandidate(obj))
	}
	return candidates, nil
}

// extractJSON strips markdown code fences and surrounding prose.
func extractJSON(payload string) string {
	cleaned := strings.TrimSpace(payload)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
		cleaned = strings.TrimSpace(cleaned)
	}
	if strings.HasPrefix(cleaned, "[") || strings.HasPrefix(cleaned, "{") {
		return cleaned
	}

	start := strings.IndexAny(cleaned, "[{")
	if start < 0 {
		return ""
	}
	closing := "]"
	if cleaned[start] == '{' {
		closing = "}"
	}
	end := strings.LastIndex(cleaned, closing)
	if end <= start {
		return ""
	}
	return cleaned[start : end+1]
}

func decodeCandidate(obj map[string]interface{}) MatchCandidate {
	var c MatchCandidate
	note := func(key string, err error) {
		if err != nil {
			c.Issues = append(c.Issues, fmt.Sprintf("%s: %v", key, err))
		}
	}

	var err error
	c.InvoiceID, err = optionalID(obj, "invoice_id", "project_id")
	note("invoice_id", err)
	c.PaymentID, err = optionalID(obj, "payment_id", "transaction_id")
	note("payment_id", err)
	c.MatchAmount, err = optionalDecimal(obj, "match_amount", "amount")
	note("match_amount", err)
	c.ConfidenceScore, err = optionalFloat(obj, "confidence_score", "confidence")
	note("confidence_score", err)
	c.ClientName, err = optionalString(obj, "client_name")
	note("client_name", err)

	rawType, err := optionalString(obj, "match_type")
	note("match_type", err)
	if rawType != nil {
		if mt, ok := ParseMatchType(*rawType); ok {
			c.MatchType = &mt
		} else {
			note("match_type", fmt.Errorf("unknown value %q", *rawType))
		}
	}
	return c
}

// lookup returns the first non-null value among keys.
func lookup(obj map[string]interface{}, keys ...string) (interface{}, bool) {
	for _, key := range keys {
		if v, ok := obj[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func optionalString(obj map[string]interface{}, keys ...string) (*string, error) {
	v, ok := lookup(obj, keys...)
	if !ok {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected string, got %T", v)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

func optionalID(obj map[string]interface{}, keys ...string) (*string, error) {
	v, ok := lookup(obj, keys...)
	if !ok {
		return nil, nil
	}
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
		return &s, nil
	case json.Number:
		s := t.String()
		return &s, nil
	default:
		return nil, fmt.Errorf("expected identifier, got %T", v)
	}
}

func optionalDecimal(obj map[string]interface{}, keys ...string) (*decimal.Decimal, error) {
	v, ok := lookup(obj, keys...)
	if !ok {
		return nil, nil
	}
	var raw string
	switch t := v.(type) {
	case json.Number:
		raw = t.String()
	case string:
		raw = strings.ReplaceAll(strings.TrimSpace(t), ",", "")
		if raw == "" {
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("expected number, got %T", v)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid decimal %q", raw)
	}
	return &d, nil
}

func optionalFloat(obj map[string]interface{}, keys ...string) (*float64, error) {
	v, ok := lookup(obj, keys...)
	if !ok {
		return nil, nil
	}
	var raw string
	switch t := v.(type) {
	case json.Number:
		raw = t.String()
	case string:
		raw = strings.TrimSpace(t)
	default:
		return nil, fmt.Errorf("expected number, got %T", v)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("invalid number %q", raw)
	}
	return &f, nil
}
