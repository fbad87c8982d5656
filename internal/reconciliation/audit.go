package reconciliation

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// AmountTolerance is the largest difference between two amounts that still
// counts as equal in the journal audit.
var AmountTolerance = decimal.NewFromInt(1)

const scoreTolerance = 0.001

// AuditSeverity grades an audit finding.
type AuditSeverity string

const (
	AuditError   AuditSeverity = "error"
	AuditWarning AuditSeverity = "warning"
)

// Audit checks.
const (
	CheckAmount      = "amount"
	CheckBalance     = "balance"
	CheckDuplicate   = "duplicate"
	CheckConsistency = "consistency"
)

// AuditFinding is one problem found in the journal of a batch.
type AuditFinding struct {
	Severity      AuditSeverity `json:"severity"`
	Check         string        `json:"check"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Message       string        `json:"message"`
}

// AuditReport is the outcome of AuditJournal.
type AuditReport struct {
	Passed      bool            `json:"passed"` // no errors; warnings do not fail it
	Entries     int             `json:"entries"`
	DebitTotal  decimal.Decimal `json:"debit_total"`
	CreditTotal decimal.Decimal `json:"credit_total"`
	Findings    []AuditFinding  `json:"findings,omitempty"`
}

// Count returns the number of findings of the given severity.
func (r *AuditReport) Count(severity AuditSeverity) int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == severity {
			n++
		}
	}
	return n
}

func (r *AuditReport) add(severity AuditSeverity, check, txnID, format string, args ...interface{}) {
	r.Findings = append(r.Findings, AuditFinding{
		Severity:      severity,
		Check:         check,
		TransactionID: txnID,
		Message:       fmt.Sprintf(format, args...),
	})
}

// AuditJournal checks the journal entries of a batch after they were applied:
// every entry posts a positive amount between two distinct accounts, the bank
// amount agrees with the matched amount, no transaction is receipted twice,
// and each entry agrees with the ledger row it came from.
func AuditJournal(entries []JournalEntry, ledger []LedgerRow) *AuditReport {
	report := &AuditReport{
		Entries:     len(entries),
		DebitTotal:  decimal.Zero,
		CreditTotal: decimal.Zero,
	}

	rows := make(map[string]LedgerRow, len(ledger))
	for _, row := range ledger {
		rows[row.TransactionID] = row
	}

	type receipt struct {
		txnID     string
		entryType EntryType
	}
	seen := make(map[receipt]string, len(entries))

	for _, e := range entries {
		if !e.Amount.IsPositive() {
			report.add(AuditError, CheckAmount, e.TransactionID, "journal amount %s is not positive", e.Amount)
		}
		if !e.MatchedAmount.IsPositive() {
			report.add(AuditError, CheckAmount, e.TransactionID, "matched amount %s is not positive", e.MatchedAmount)
		}
		if diff := e.Amount.Sub(e.MatchedAmount); diff.Abs().GreaterThan(AmountTolerance) {
			kind := "overpayment"
			if diff.IsNegative() {
				kind = "partial payment"
			}
			report.add(AuditWarning, CheckAmount, e.TransactionID, "%s: bank %s, matched %s for %s",
				kind, e.Amount, e.MatchedAmount, e.ProjectID)
		}

		switch {
		case e.DebitAccount == "" || e.CreditAccount == "":
			report.add(AuditError, CheckBalance, e.TransactionID, "entry does not name both accounts")
		case e.DebitAccount == e.CreditAccount:
			report.add(AuditError, CheckBalance, e.TransactionID, "debit and credit both post to %s", e.DebitAccount)
		default:
			report.DebitTotal = report.DebitTotal.Add(e.Amount)
			report.CreditTotal = report.CreditTotal.Add(e.Amount)
		}

		key := receipt{txnID: e.TransactionID, entryType: e.EntryType}
		if other, dup := seen[key]; dup {
			report.add(AuditError, CheckDuplicate, e.TransactionID, "%s recorded for both %s and %s",
				e.EntryType, other, e.ProjectID)
		} else {
			seen[key] = e.ProjectID
		}

		row, ok := rows[LedgerTransactionID(e.TransactionID, e.ProjectID)]
		if !ok {
			report.add(AuditWarning, CheckConsistency, e.TransactionID, "journaled for %s without a ledger row", e.ProjectID)
			continue
		}
		if row.MatchedAmount.Sub(e.MatchedAmount).Abs().GreaterThan(AmountTolerance) {
			report.add(AuditError, CheckConsistency, e.TransactionID, "amount mismatch: journal %s, ledger %s",
				e.MatchedAmount, row.MatchedAmount)
		}
		if math.Abs(row.MatchScore-e.MatchScore) > scoreTolerance {
			report.add(AuditWarning, CheckConsistency, e.TransactionID, "score mismatch: journal %.3f, ledger %.3f",
				e.MatchScore, row.MatchScore)
		}
	}

	report.Passed = report.Count(AuditError) == 0
	return report
}
