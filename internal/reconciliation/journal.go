package reconciliation

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"invoicing/internal/invoice"
	"invoicing/internal/logger"
)

// DefaultConfidenceThreshold is the score below which matches go to manual review.
const DefaultConfidenceThreshold = 0.7

// ApplierOptions configures the journal applier.
type ApplierOptions struct {
	Threshold     float64
	DebitAccount  string
	CreditAccount string

	// Applied holds keys journaled by earlier runs. They are treated as
	// duplicates, and their transactions as taken.
	Applied []JournalKey
}

// Stats summarizes one application.
type Stats struct {
	Transactions int                `json:"transactions"`
	Entries      int                `json:"entries"`
	Review       map[ReviewKind]int `json:"review"`
	Duplicates   int                `json:"duplicates"`
	MatchedTotal decimal.Decimal    `json:"matched_total"`
	MatchRate    float64            `json:"match_rate"`
}

// ApplyResult is the outcome of Apply.
type ApplyResult struct {
	Entries    []JournalEntry
	Review     []ReviewItem
	Duplicates []JournalKey
	Stats      Stats
}

// Applier turns accepted matches into journal entries.
type Applier struct {
	opts ApplierOptions
	log  zerolog.Logger
}

// NewApplier creates an applier. A zero threshold selects DefaultConfidenceThreshold.
func NewApplier(opts ApplierOptions) *Applier {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultConfidenceThreshold
	}
	if opts.DebitAccount == "" {
		opts.DebitAccount = "cash"
	}
	if opts.CreditAccount == "" {
		opts.CreditAccount = "accounts_receivable"
	}
	return &Applier{
		opts: opts,
		log:  logger.WithComponent("reconciliation-journal"),
	}
}

// Apply emits one journal entry per accepted match. Low-confidence matches
// and matches for a transaction already applied to another project go to
// review; a key applied twice is a logged no-op. Transactions left without an
// entry or review item are reported as unmatched. Passing a rejected match,
// or one whose references do not resolve, is an InvalidStateError and
// nothing is applied.
func (a *Applier) Apply(rc *RunContext, matches []ValidatedMatch, txns []BankTransaction, idx *invoice.Index) (*ApplyResult, error) {
	const op = "Apply"

	byID := make(map[string]BankTransaction, len(txns))
	for _, txn := range txns {
		byID[txn.TransactionID] = txn
	}
	for _, vm := range matches {
		var err error
		switch _, known := byID[vm.TransactionID]; {
		case !vm.Status.Accepted():
			err = NewInvalidStateError(op, ErrRejectedMatch, fmt.Sprintf("%s/%s", vm.TransactionID, vm.ProjectID))
		case !known:
			err = NewInvalidStateError(op, ErrUnknownReference, "transaction "+vm.TransactionID)
		default:
			if _, ok := idx.LookupByProject(vm.ProjectID); !ok {
				err = NewInvalidStateError(op, ErrUnknownReference, "project "+vm.ProjectID)
			}
		}
		if err != nil {
			a.log.Error().Err(err).Str("run_id", rc.ID).Msg("Refusing to apply matches")
			return nil, err
		}
	}

	rc.Emit(StageApply, EventStarted, "applying matches to journal", len(matches))

	applied := make(map[JournalKey]bool, len(a.opts.Applied)+len(matches))
	owner := make(map[string]string, len(a.opts.Applied)+len(matches))
	for _, key := range a.opts.Applied {
		applied[key] = true
		owner[key.TransactionID] = key.ProjectID
	}

	result := &ApplyResult{}
	touched := make(map[string]bool, len(txns))
	for _, vm := range matches {
		txn := byID[vm.TransactionID]
		rec, _ := idx.LookupByProject(vm.ProjectID)
		touched[txn.TransactionID] = true

		if vm.ConfidenceScore < a.opts.Threshold {
			result.Review = append(result.Review, reviewItem(ReviewLowConfidence, vm,
				fmt.Sprintf("confidence %.2f below threshold %.2f", vm.ConfidenceScore, a.opts.Threshold)))
			continue
		}

		key := JournalKey{TransactionID: txn.TransactionID, ProjectID: rec.ProjectID}
		if applied[key] {
			result.Duplicates = append(result.Duplicates, key)
			rc.Log.Info().
				Str("transaction_id", key.TransactionID).
				Str("project_id", key.ProjectID).
				Msg("Match already applied, skipping duplicate")
			continue
		}
		if other, taken := owner[key.TransactionID]; taken && other != key.ProjectID {
			result.Review = append(result.Review, reviewItem(ReviewConflict, vm,
				"transaction already applied to "+other))
			continue
		}

		applied[key] = true
		owner[key.TransactionID] = key.ProjectID
		result.Entries = append(result.Entries, JournalEntry{
			TransactionID: txn.TransactionID,
			ProjectID:     rec.ProjectID,
			Amount:        txn.Amount,
			MatchedAmount: vm.MatchAmount,
			MatchScore:    vm.ConfidenceScore,
			Comment:       Comment(vm),
			EntryType:     EntryCashReceipt,
			ClientName:    rec.ClientName,
			DebitAccount:  a.opts.DebitAccount,
			CreditAccount: a.opts.CreditAccount,
			Date:          txn.Date,
			RunID:         rc.ID,
		})
	}

	for _, txn := range txns {
		if touched[txn.TransactionID] {
			continue
		}
		if _, done := owner[txn.TransactionID]; done {
			continue
		}
		reasons := []string{"no match proposed"}
		if records := idx.ProjectsForClient(txn.CounterpartyName); len(records) > 0 {
			ids := make([]string, 0, len(records))
			for _, rec := range records {
				ids = append(ids, rec.ProjectID)
			}
			reasons = append(reasons, "client has invoices "+strings.Join(ids, ", "))
		}
		result.Review = append(result.Review, ReviewItem{
			Kind:          ReviewUnmatched,
			TransactionID: txn.TransactionID,
			ClientName:    txn.CounterpartyName,
			Amount:        txn.Amount,
			Reasons:       reasons,
		})
	}

	result.Stats = computeStats(len(txns), result)

	rc.Log.Info().
		Int("entries", result.Stats.Entries).
		Int("review", len(result.Review)).
		Int("duplicates", result.Stats.Duplicates).
		Str("matched_total", result.Stats.MatchedTotal.String()).
		Msg("Journal applied")
	rc.Emit(StageApply, EventCompleted, "journal entries produced", len(result.Entries))

	return result, nil
}

// RejectedReview routes rejected matches to manual review, keeping order.
func RejectedReview(matches []ValidatedMatch) []ReviewItem {
	var items []ReviewItem
	for _, vm := range matches {
		if vm.Status == StatusRejected {
			items = append(items, reviewItem(ReviewRejected, vm))
		}
	}
	return items
}

func reviewItem(kind ReviewKind, vm ValidatedMatch, extra ...string) ReviewItem {
	reasons := append(append([]string(nil), vm.Reasons...), extra...)
	return ReviewItem{
		Kind:          kind,
		TransactionID: vm.TransactionID,
		ProjectID:     vm.ProjectID,
		ClientName:    vm.ClientName,
		Amount:        vm.MatchAmount,
		MatchScore:    vm.ConfidenceScore,
		Status:        vm.Status,
		Reasons:       reasons,
	}
}

func computeStats(transactions int, result *ApplyResult) Stats {
	stats := Stats{
		Transactions: transactions,
		Entries:      len(result.Entries),
		Review:       make(map[ReviewKind]int),
		Duplicates:   len(result.Duplicates),
		MatchedTotal: decimal.Zero,
	}
	for _, item := range result.Review {
		stats.Review[item.Kind]++
	}
	matched := make(map[string]bool, len(result.Entries))
	for _, e := range result.Entries {
		stats.MatchedTotal = stats.MatchedTotal.Add(e.MatchedAmount)
		matched[e.TransactionID] = true
	}
	if transactions > 0 {
		stats.MatchRate = float64(len(matched)) / float64(transactions)
	}
	return stats
}

// ReviewCounts counts review items per kind.
func ReviewCounts(items []ReviewItem) map[string]int {
	counts := make(map[string]int)
	for _, item := range items {
		counts[string(item.Kind)]++
	}
	return counts
}
