package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"invoicing/internal/invoice"
	"invoicing/internal/observability"
)

// JournalKeys lists the journal keys persisted by earlier runs.
type JournalKeys interface {
	Keys(ctx context.Context) ([]JournalKey, error)
}

// PipelineOptions groups the options of every stage.
type PipelineOptions struct {
	Normalizer NormalizerOptions
	Requester  RequesterOptions
	Applier    ApplierOptions
}

// BatchResult is everything one batch produced. Nothing is written until the
// caller persists it.
type BatchResult struct {
	RunID        string
	Batch        string
	Report       *NormalizeReport
	Transactions []BankTransaction
	Candidates   []MatchCandidate
	Matches      []ValidatedMatch
	Ledger       []LedgerRow
	Entries      []JournalEntry
	Review       []ReviewItem
	Duplicates   []JournalKey
	Stats        Stats
	Audit        *AuditReport
}

// Pipeline runs the reconciliation stages of one batch in sequence. It is
// safe to share between batches; each run gets its own RunContext.
type Pipeline struct {
	index      *invoice.Index
	normalizer *Normalizer
	requester  *Requester
	validator  *Validator
	applier    ApplierOptions
	journal    JournalKeys
	metrics    *observability.Metrics
}

// NewPipeline wires the stages. matcher may be nil for offline runs that
// bring their own candidates; journal and metrics may be nil.
func NewPipeline(idx *invoice.Index, matcher Matcher, opts PipelineOptions, journal JournalKeys, metrics *observability.Metrics) *Pipeline {
	p := &Pipeline{
		index:      idx,
		normalizer: NewNormalizer(opts.Normalizer),
		validator:  NewValidator(metrics),
		applier:    opts.Applier,
		journal:    journal,
		metrics:    metrics,
	}
	if matcher != nil {
		p.requester = NewRequester(matcher, opts.Requester, metrics)
	}
	return p
}

// Run reconciles one bank export end to end. Only the matcher call observes
// ctx cancellation; any failure leaves the batch without results.
func (p *Pipeline) Run(ctx context.Context, rc *RunContext, bank io.Reader) (*BatchResult, error) {
	const op = "Run"

	if p.requester == nil {
		return nil, NewInvalidStateError(op, errors.New("no matcher configured"), "")
	}

	txns, report, err := p.normalize(rc, bank)
	if err != nil {
		return nil, err
	}

	var candidates []MatchCandidate
	err = p.timed(StageRequest, func() error {
		var err error
		candidates, err = p.requester.Request(ctx, rc, txns, p.index)
		return err
	})
	if err != nil {
		return nil, err
	}

	return p.finish(ctx, rc, report, txns, candidates, nil)
}

// RunWithCandidates reconciles a bank export against candidates obtained
// earlier, skipping the matcher.
func (p *Pipeline) RunWithCandidates(ctx context.Context, rc *RunContext, bank io.Reader, candidates []MatchCandidate) (*BatchResult, error) {
	txns, report, err := p.normalize(rc, bank)
	if err != nil {
		return nil, err
	}
	return p.finish(ctx, rc, report, txns, candidates, nil)
}

// ApplyLedger journals ledger rows written by an earlier run against the same
// bank export. The rows may have been edited by hand, so they are validated
// again and the ledger is rebuilt from the validated matches.
func (p *Pipeline) ApplyLedger(ctx context.Context, rc *RunContext, bank io.Reader, rows []LedgerRow) (*BatchResult, error) {
	const op = "ApplyLedger"

	txns, report, err := p.normalize(rc, bank)
	if err != nil {
		return nil, err
	}

	prior := make([]ValidatedMatch, 0, len(rows))
	candidates := make([]MatchCandidate, 0, len(rows))
	for i, row := range rows {
		vm, err := FromLedger(row)
		if err != nil {
			return nil, fmt.Errorf("%s: ledger row %d: %w", op, i+1, err)
		}
		prior = append(prior, vm)
		candidates = append(candidates, vm.Candidate)
	}

	return p.finish(ctx, rc, report, txns, candidates, prior)
}

func (p *Pipeline) normalize(rc *RunContext, bank io.Reader) ([]BankTransaction, *NormalizeReport, error) {
	var (
		txns   []BankTransaction
		report *NormalizeReport
	)
	rc.Emit(StageNormalize, EventStarted, "normalizing bank export", 0)
	err := p.timed(StageNormalize, func() error {
		var err error
		txns, report, err = p.normalizer.Normalize(bank)
		return err
	})
	if err != nil {
		rc.Emit(StageNormalize, EventFailed, err.Error(), 0)
		return nil, nil, err
	}
	if p.metrics != nil {
		p.metrics.RecordBankRows(report.Normalized, len(report.Skipped))
	}
	for _, w := range report.Warnings {
		rc.Log.Warn().Msg(w)
	}
	rc.Emit(StageNormalize, EventCompleted, fmt.Sprintf("%d rows skipped", len(report.Skipped)), report.Normalized)
	return txns, report, nil
}

// finish validates, converts and applies candidates. prior, when set, holds
// the matches the candidates were read back from, index for index.
func (p *Pipeline) finish(ctx context.Context, rc *RunContext, report *NormalizeReport, txns []BankTransaction, candidates []MatchCandidate, prior []ValidatedMatch) (*BatchResult, error) {
	result := &BatchResult{
		RunID:        rc.ID,
		Batch:        rc.Batch,
		Report:       report,
		Transactions: txns,
		Candidates:   candidates,
	}

	rc.Emit(StageValidate, EventStarted, "validating match candidates", len(candidates))
	_ = p.timed(StageValidate, func() error {
		result.Matches = p.validator.Validate(candidates, p.index, txns)
		for i := range prior {
			result.Matches[i] = keepLedgerReasons(prior[i], result.Matches[i])
		}
		return nil
	})
	rc.Emit(StageValidate, EventCompleted, "match candidates validated", len(result.Matches))

	var accepted []ValidatedMatch
	for _, vm := range result.Matches {
		if vm.Status.Accepted() {
			accepted = append(accepted, vm)
		}
	}

	rc.Emit(StageConvert, EventStarted, "converting matches to ledger rows", len(accepted))
	err := p.timed(StageConvert, func() error {
		for _, vm := range accepted {
			row, err := ToLedger(vm)
			if err != nil {
				return err
			}
			result.Ledger = append(result.Ledger, row)
		}
		return nil
	})
	if err != nil {
		rc.Emit(StageConvert, EventFailed, err.Error(), 0)
		return nil, err
	}
	rc.Emit(StageConvert, EventCompleted, "ledger rows produced", len(result.Ledger))

	if err := p.apply(ctx, rc, result, accepted); err != nil {
		return nil, err
	}
	return result, nil
}

// apply journals accepted matches and merges rejected matches into review.
// A transaction reviewed as rejected is not also reported as unmatched.
func (p *Pipeline) apply(ctx context.Context, rc *RunContext, result *BatchResult, accepted []ValidatedMatch) error {
	const op = "apply"

	opts := p.applier
	if p.journal != nil {
		keys, err := p.journal.Keys(ctx)
		if err != nil {
			return fmt.Errorf("%s: failed to load journal keys: %w", op, err)
		}
		opts.Applied = append(append([]JournalKey(nil), opts.Applied...), keys...)
	}

	var applied *ApplyResult
	err := p.timed(StageApply, func() error {
		var err error
		applied, err = NewApplier(opts).Apply(rc, accepted, result.Transactions, p.index)
		return err
	})
	if err != nil {
		rc.Emit(StageApply, EventFailed, err.Error(), 0)
		return err
	}

	rejected := RejectedReview(result.Matches)
	reviewed := make(map[string]bool, len(rejected))
	for _, item := range rejected {
		reviewed[item.TransactionID] = true
	}
	review := rejected
	for _, item := range applied.Review {
		if item.Kind == ReviewUnmatched && reviewed[item.TransactionID] {
			continue
		}
		review = append(review, item)
	}
	applied.Review = review

	result.Entries = applied.Entries
	result.Review = applied.Review
	result.Duplicates = applied.Duplicates
	result.Stats = computeStats(len(result.Transactions), applied)
	result.Audit = AuditJournal(result.Entries, result.Ledger)
	for _, f := range result.Audit.Findings {
		event := rc.Log.Warn()
		if f.Severity == AuditError {
			event = rc.Log.Error()
		}
		event.
			Str("check", f.Check).
			Str("transaction_id", f.TransactionID).
			Msg(f.Message)
	}
	rc.Log.Info().
		Bool("passed", result.Audit.Passed).
		Int("errors", result.Audit.Count(AuditError)).
		Int("warnings", result.Audit.Count(AuditWarning)).
		Msg("Journal audited")

	if p.metrics != nil {
		p.metrics.RecordJournal(len(result.Entries), ReviewCounts(result.Review), len(result.Duplicates))
	}
	return nil
}

// keepLedgerReasons carries the corrections recorded in a ledger comment over
// to the match validated from it.
func keepLedgerReasons(prior, vm ValidatedMatch) ValidatedMatch {
	if prior.Status != StatusAutoCorrected || !vm.Status.Accepted() {
		return vm
	}
	reasons := append([]string(nil), prior.Reasons...)
	seen := make(map[string]bool, len(reasons))
	for _, r := range reasons {
		seen[r] = true
	}
	for _, r := range vm.Reasons {
		if !seen[r] {
			reasons = append(reasons, r)
		}
	}
	vm.Status = StatusAutoCorrected
	vm.Reasons = reasons
	return vm
}

func (p *Pipeline) timed(stage Stage, fn func() error) error {
	start := time.Now()
	err := fn()
	if p.metrics != nil {
		p.metrics.ObserveStage(string(stage), time.Since(start))
	}
	return err
}
