package reconciliation

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/texttheater/golang-levenshtein/levenshtein"
	"invoicing/internal/invoice"
	"invoicing/internal/logger"
	"invoicing/internal/observability"
)

// Reasons attached to validated matches.
const (
	ReasonUnknownProject      = "unknown project"
	ReasonUnknownTransaction  = "unknown transaction"
	ReasonProjectNormalized   = "project id normalized"
	ReasonProjectFromClient   = "project resolved from client and period"
	ReasonConfidenceMissing   = "confidence missing"
	ReasonMatchTypeDefaulted  = "match type defaulted to MANUAL"
	reasonConfidenceClamped   = "confidence %s clamped to %s"
	reasonAmountReplaced      = "amount %s replaced by billing amount"
	reasonAmountMissing       = "amount missing, billing amount used"
	reasonClientNameOverwrite = "client name %q replaced (distance %d)"
)

// Validator runs the integrity checks between untrusted candidates and the
// ledger. Rejections are values on the result, never errors.
type Validator struct {
	metrics *observability.Metrics
	log     zerolog.Logger
}

// NewValidator creates a validator. metrics may be nil.
func NewValidator(metrics *observability.Metrics) *Validator {
	return &Validator{
		metrics: metrics,
		log:     logger.WithComponent("reconciliation-validator"),
	}
}

// Validate checks every candidate against the index and the transaction set.
// All checks run for every candidate, so one match may collect several
// reasons. Output order follows input order.
func (v *Validator) Validate(candidates []MatchCandidate, idx *invoice.Index, txns []BankTransaction) []ValidatedMatch {
	byID := make(map[string]BankTransaction, len(txns))
	for _, txn := range txns {
		byID[txn.TransactionID] = txn
	}

	results := make([]ValidatedMatch, 0, len(candidates))
	for i, c := range candidates {
		vm := v.validate(c, idx, byID)
		if len(c.Issues) > 0 {
			v.log.Debug().
				Int("index", i).
				Strs("issues", c.Issues).
				Msg("Candidate had unusable fields")
		}
		if vm.Status != StatusOK {
			v.log.Info().
				Str("project_id", vm.ProjectID).
				Str("transaction_id", vm.TransactionID).
				Str("status", string(vm.Status)).
				Strs("reasons", vm.Reasons).
				Msg("Match candidate corrected or rejected")
		}
		if v.metrics != nil {
			v.metrics.RecordCandidate(string(vm.Status))
		}
		results = append(results, vm)
	}
	return results
}

func (v *Validator) validate(c MatchCandidate, idx *invoice.Index, txns map[string]BankTransaction) ValidatedMatch {
	var (
		vm        = ValidatedMatch{Candidate: c}
		rejected  bool
		corrected bool
	)
	reject := func(reason string) {
		rejected = true
		vm.Reasons = append(vm.Reasons, reason)
	}
	correct := func(reason string) {
		corrected = true
		vm.Reasons = append(vm.Reasons, reason)
	}

	txn, txnFound := BankTransaction{}, false
	if c.PaymentID != nil {
		vm.TransactionID = *c.PaymentID
		txn, txnFound = txns[*c.PaymentID]
	}

	// 1. project
	rec, recFound := invoice.Record{}, false
	switch {
	case c.InvoiceID != nil:
		vm.ProjectID = *c.InvoiceID
		rec, recFound = idx.LookupByProject(*c.InvoiceID)
		if recFound && rec.ProjectID != *c.InvoiceID {
			correct(ReasonProjectNormalized)
		}
	case txnFound:
		rec, recFound = resolveByClientPeriod(idx, c.ClientName, txn)
		if recFound {
			correct(ReasonProjectFromClient)
		}
	}
	if recFound {
		vm.ProjectID = rec.ProjectID
	} else {
		reject(ReasonUnknownProject)
	}

	// 2. transaction
	if !txnFound {
		reject(ReasonUnknownTransaction)
	}

	// 3. confidence
	switch {
	case c.ConfidenceScore == nil || math.IsNaN(*c.ConfidenceScore):
		vm.ConfidenceScore = 0
		correct(ReasonConfidenceMissing)
	case *c.ConfidenceScore < 0 || *c.ConfidenceScore > 1:
		vm.ConfidenceScore = math.Min(1, math.Max(0, *c.ConfidenceScore))
		correct(fmt.Sprintf(reasonConfidenceClamped, formatScore(*c.ConfidenceScore), formatScore(vm.ConfidenceScore)))
	default:
		vm.ConfidenceScore = *c.ConfidenceScore
	}

	// 4. amount; zero counts as non-positive
	switch {
	case c.MatchAmount != nil && c.MatchAmount.IsPositive():
		vm.MatchAmount = *c.MatchAmount
	case !recFound:
		if c.MatchAmount != nil {
			vm.MatchAmount = *c.MatchAmount
		}
	case c.MatchAmount == nil:
		vm.MatchAmount = rec.BillingAmount
		correct(reasonAmountMissing)
	default:
		vm.MatchAmount = rec.BillingAmount
		correct(fmt.Sprintf(reasonAmountReplaced, c.MatchAmount.String()))
	}

	// 5. client name always comes from the index
	if recFound {
		vm.ClientName = rec.ClientName
		if c.ClientName != nil && invoice.ClientKey(*c.ClientName) != invoice.ClientKey(rec.ClientName) {
			distance := levenshtein.DistanceForStrings([]rune(*c.ClientName), []rune(rec.ClientName), levenshtein.DefaultOptions)
			correct(fmt.Sprintf(reasonClientNameOverwrite, *c.ClientName, distance))
		}
	}

	// 6. match type
	if c.MatchType != nil {
		vm.MatchType = *c.MatchType
	} else {
		vm.MatchType = MatchManual
		correct(ReasonMatchTypeDefaulted)
	}

	switch {
	case rejected:
		vm.Status = StatusRejected
	case corrected:
		vm.Status = StatusAutoCorrected
	default:
		vm.Status = StatusOK
	}
	return vm
}

// resolveByClientPeriod finds the invoice billed to the named client in the
// transaction's month, falling back to the previous month. The AI-supplied
// name is tried before the bank counterparty.
func resolveByClientPeriod(idx *invoice.Index, aiClient *string, txn BankTransaction) (invoice.Record, bool) {
	var names []string
	if aiClient != nil && strings.TrimSpace(*aiClient) != "" {
		names = append(names, *aiClient)
	}
	names = append(names, txn.CounterpartyName)

	period := invoice.PeriodOf(txn.Date)
	for _, p := range []invoice.Period{period, period.Prev()} {
		for _, name := range names {
			if rec, ok := idx.LookupByClientPeriod(name, p); ok {
				return rec, true
			}
		}
	}
	return invoice.Record{}, false
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}
