package reconciliation

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AmountCategory buckets a transaction by size.
type AmountCategory string

const (
	CategorySmall  AmountCategory = "small"
	CategoryMedium AmountCategory = "medium"
	CategoryLarge  AmountCategory = "large"
)

var (
	smallLimit  = decimal.NewFromInt(100000)
	mediumLimit = decimal.NewFromInt(500000)
)

// CategorizeAmount returns the size bucket of amount.
func CategorizeAmount(amount decimal.Decimal) AmountCategory {
	abs := amount.Abs()
	switch {
	case abs.LessThan(smallLimit):
		return CategorySmall
	case abs.LessThan(mediumLimit):
		return CategoryMedium
	default:
		return CategoryLarge
	}
}

// BankTransaction is one normalized bank export row. It is immutable once normalized.
type BankTransaction struct {
	TransactionID    string
	Date             time.Time
	Amount           decimal.Decimal // signed; positive for incoming payments
	CounterpartyName string          // raw, possibly noisy
	RawDescription   string
	Type             string
	Category         AmountCategory
	Row              int // source line in the export
}

// IsIncoming returns true if this is an incoming transaction
func (bt *BankTransaction) IsIncoming() bool {
	return bt.Amount.IsPositive()
}

// MatchType classifies how a candidate pairing was found.
type MatchType string

const (
	MatchExact   MatchType = "EXACT"
	MatchPartial MatchType = "PARTIAL"
	MatchFuzzy   MatchType = "FUZZY"
	MatchManual  MatchType = "MANUAL"
)

// ParseMatchType maps a case-insensitive name onto a MatchType.
func ParseMatchType(s string) (MatchType, bool) {
	switch mt := MatchType(strings.ToUpper(strings.TrimSpace(s))); mt {
	case MatchExact, MatchPartial, MatchFuzzy, MatchManual:
		return mt, true
	}
	return "", false
}

// MatchCandidate is an AI-proposed pairing as decoded from the untrusted
// response. Every field is optional; nothing here reaches the ledger without
// passing through the Validator.
type MatchCandidate struct {
	InvoiceID       *string
	PaymentID       *string
	MatchAmount     *decimal.Decimal
	ConfidenceScore *float64
	MatchType       *MatchType
	ClientName      *string // echoed by the AI, never written to output

	// Issues lists fields that were present but unusable.
	Issues []string
}

// ValidationStatus is the Validator's verdict on a candidate.
type ValidationStatus string

const (
	StatusOK            ValidationStatus = "OK"
	StatusAutoCorrected ValidationStatus = "AUTO_CORRECTED"
	StatusRejected      ValidationStatus = "REJECTED"
)

// Accepted reports whether the match may be converted and journaled.
func (s ValidationStatus) Accepted() bool {
	return s == StatusOK || s == StatusAutoCorrected
}

// ValidatedMatch is a candidate after the integrity checks. ClientName always
// comes from the invoice index.
type ValidatedMatch struct {
	Candidate MatchCandidate

	ProjectID       string
	TransactionID   string
	MatchAmount     decimal.Decimal
	ConfidenceScore float64
	MatchType       MatchType
	ClientName      string

	Status  ValidationStatus
	Reasons []string
}

// EntryType classifies journal entries.
type EntryType string

const (
	EntryCashReceipt EntryType = "cash_receipt"
)

// JournalEntry is the accounting record of one accepted match, keyed by
// (TransactionID, ProjectID).
type JournalEntry struct {
	TransactionID string
	ProjectID     string
	Amount        decimal.Decimal // bank transaction amount
	MatchedAmount decimal.Decimal
	MatchScore    float64
	Comment       string
	EntryType     EntryType
	ClientName    string
	DebitAccount  string
	CreditAccount string
	Date          time.Time
	RunID         string
}

// Key returns the idempotence key of the entry.
func (e JournalEntry) Key() JournalKey {
	return JournalKey{TransactionID: e.TransactionID, ProjectID: e.ProjectID}
}

// JournalKey identifies one application of a match.
type JournalKey struct {
	TransactionID string
	ProjectID     string
}

// LedgerRow is the ledger-ready tabular form of a validated match.
type LedgerRow struct {
	ProjectID     string
	TransactionID string
	Amount        decimal.Decimal
	MatchedAmount decimal.Decimal
	MatchScore    float64
	Comment       string
	ClientName    string
}

// ReviewKind says why an item landed in manual review.
type ReviewKind string

const (
	ReviewRejected      ReviewKind = "rejected"
	ReviewLowConfidence ReviewKind = "low_confidence"
	ReviewConflict      ReviewKind = "conflict"
	ReviewUnmatched     ReviewKind = "unmatched"
)

// ReviewItem is one row of the manual review queue.
type ReviewItem struct {
	Kind          ReviewKind
	TransactionID string
	ProjectID     string
	ClientName    string
	Amount        decimal.Decimal
	MatchScore    float64
	Status        ValidationStatus
	Reasons       []string
}
