package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"invoicing/internal/invoice"
	"invoicing/internal/logger"
	"invoicing/internal/observability"
	"invoicing/internal/resilience"
)

// TransactionSummary is the compact form of a bank transaction sent to the matcher.
type TransactionSummary struct {
	PaymentID    string `json:"payment_id"`
	Date         string `json:"date"`
	Amount       string `json:"amount"`
	Counterparty string `json:"counterparty"`
	Description  string `json:"description,omitempty"`
}

// InvoiceSummary is the compact form of an invoice sent to the matcher.
type InvoiceSummary struct {
	InvoiceID     string `json:"invoice_id"`
	ClientName    string `json:"client_name"`
	BillingPeriod string `json:"billing_period"`
	BillingAmount string `json:"billing_amount"`
}

// MatchRequest is the single request a batch sends to the matching capability.
type MatchRequest struct {
	RunID        string
	Transactions []TransactionSummary
	Invoices     []InvoiceSummary
}

// Matcher is the external matching capability: given a request it returns the
// raw, untrusted response payload or fails.
type Matcher interface {
	Match(ctx context.Context, req MatchRequest) (string, error)
}

// MatcherFunc adapts a function to the Matcher interface.
type MatcherFunc func(ctx context.Context, req MatchRequest) (string, error)

// Match calls f.
func (f MatcherFunc) Match(ctx context.Context, req MatchRequest) (string, error) {
	return f(ctx, req)
}

// RequesterOptions configures retries and the per-attempt timeout.
type RequesterOptions struct {
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Requester packages a batch into a MatchRequest and calls the matcher with
// retries, a per-attempt timeout and a circuit breaker.
type Requester struct {
	matcher Matcher
	opts    RequesterOptions
	breaker *gobreaker.CircuitBreaker
	metrics *observability.Metrics
	log     zerolog.Logger
}

// NewRequester creates a requester. metrics may be nil.
func NewRequester(matcher Matcher, opts RequesterOptions, metrics *observability.Metrics) *Requester {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	log := logger.WithComponent("reconciliation-requester")
	return &Requester{
		matcher: matcher,
		opts:    opts,
		breaker: resilience.NewCircuitBreaker("matcher", func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Matcher circuit breaker changed state")
		}),
		metrics: metrics,
		log:     log,
	}
}

// BuildRequest packages transactions and the invoice index into one request.
func BuildRequest(runID string, txns []BankTransaction, idx *invoice.Index) MatchRequest {
	req := MatchRequest{
		RunID:        runID,
		Transactions: make([]TransactionSummary, 0, len(txns)),
	}
	for _, txn := range txns {
		req.Transactions = append(req.Transactions, TransactionSummary{
			PaymentID:    txn.TransactionID,
			Date:         txn.Date.Format("2006-01-02"),
			Amount:       txn.Amount.String(),
			Counterparty: txn.CounterpartyName,
			Description:  txn.RawDescription,
		})
	}
	records := idx.Records()
	req.Invoices = make([]InvoiceSummary, 0, len(records))
	for _, rec := range records {
		req.Invoices = append(req.Invoices, InvoiceSummary{
			InvoiceID:     rec.ProjectID,
			ClientName:    rec.ClientName,
			BillingPeriod: rec.Period.String(),
			BillingAmount: rec.BillingAmount.String(),
		})
	}
	return req
}

// Request asks the matcher for candidates. Transient failures and malformed
// payloads are retried; errors wrapping resilience.ErrPermanent are not.
// Once retries are exhausted a MatchingUnavailableError is returned.
// Cancellation of ctx aborts immediately. An empty candidate list is a valid
// answer.
func (r *Requester) Request(ctx context.Context, rc *RunContext, txns []BankTransaction, idx *invoice.Index) ([]MatchCandidate, error) {
	const op = "Request"

	req := BuildRequest(rc.ID, txns, idx)
	rc.Emit(StageRequest, EventStarted, "requesting match candidates", len(req.Transactions))

	if len(req.Transactions) == 0 {
		rc.Log.Info().Msg("No transactions to match, skipping matcher call")
		rc.Emit(StageRequest, EventCompleted, "no transactions to match", 0)
		return []MatchCandidate{}, nil
	}

	attempts := 0
	var candidates []MatchCandidate
	retryCfg := resilience.Config{
		MaxRetries:     r.opts.MaxRetries,
		InitialBackoff: r.opts.InitialBackoff,
		MaxBackoff:     r.opts.MaxBackoff,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			rc.Log.Warn().
				Err(err).
				Int("attempt", attempt).
				Dur("backoff", wait).
				Msg("Matcher call failed, retrying")
			rc.Emit(StageRequest, EventProgress, fmt.Sprintf("retry %d after: %v", attempt, err), attempt)
		},
	}

	err := resilience.RetryWithBackoff(ctx, retryCfg, func() error {
		attempts++
		result, err := r.attempt(ctx, rc, req)
		if err != nil {
			r.recordAttempt("error")
			return err
		}
		r.recordAttempt("success")
		candidates = result
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			rc.Emit(StageRequest, EventFailed, "matching cancelled", attempts)
			return nil, fmt.Errorf("%s: matching aborted: %w", op, ctxErr)
		}
		rc.Emit(StageRequest, EventFailed, err.Error(), attempts)
		return nil, NewMatchingUnavailableError(op, attempts, err)
	}

	rc.Log.Info().
		Int("attempts", attempts).
		Int("candidates", len(candidates)).
		Msg("Received match candidates")
	rc.Emit(StageRequest, EventCompleted, "match candidates received", len(candidates))
	return candidates, nil
}

func (r *Requester) attempt(ctx context.Context, rc *RunContext, req MatchRequest) ([]MatchCandidate, error) {
	attemptCtx, cancel := context.WithTimeout(logger.WithContext(ctx, rc.Log), r.opts.Timeout)
	defer cancel()

	raw, err := r.breaker.Execute(func() (interface{}, error) {
		return r.matcher.Match(attemptCtx, req)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("matcher timed out after %s: %w", r.opts.Timeout, err)
		}
		return nil, err
	}

	payload, _ := raw.(string)
	candidates, err := ParseMatchResponse(payload)
	if err != nil {
		rc.Log.Warn().Err(err).Int("payload_bytes", len(payload)).Msg("Discarding malformed match response")
		return nil, err
	}
	return candidates, nil
}

func (r *Requester) recordAttempt(outcome string) {
	if r.metrics != nil {
		r.metrics.RecordMatcherAttempt(outcome)
	}
}
