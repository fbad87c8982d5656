package reconciliation

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const ledgerIDPrefix = "TXN_"

var commentPattern = regexp.MustCompile(`^([A-Z]+) - confidence: ([0-9]+\.[0-9]+)(?: \(auto-corrected: (.*)\))?$`)

// AINativeMatch is the validated match in the matcher's vocabulary, keyed by
// invoice_id and payment_id.
type AINativeMatch struct {
	InvoiceID        string           `json:"invoice_id"`
	PaymentID        string           `json:"payment_id"`
	MatchAmount      decimal.Decimal  `json:"match_amount"`
	ConfidenceScore  float64          `json:"confidence_score"`
	MatchType        MatchType        `json:"match_type"`
	ClientName       string           `json:"client_name,omitempty"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	Reasons          []string         `json:"reasons,omitempty"`
}

// ToAINative maps a validated match to its AI-native form. Rejected matches
// are allowed here; the form is used for reporting.
func ToAINative(vm ValidatedMatch) AINativeMatch {
	return AINativeMatch{
		InvoiceID:        vm.ProjectID,
		PaymentID:        vm.TransactionID,
		MatchAmount:      vm.MatchAmount,
		ConfidenceScore:  vm.ConfidenceScore,
		MatchType:        vm.MatchType,
		ClientName:       vm.ClientName,
		ValidationStatus: vm.Status,
		Reasons:          vm.Reasons,
	}
}

// LedgerTransactionID builds the ledger transaction id of a payment/invoice pair.
func LedgerTransactionID(paymentID, projectID string) string {
	return ledgerIDPrefix + paymentID + "_" + projectID
}

// Comment renders the human-readable composite of match type and score.
func Comment(vm ValidatedMatch) string {
	comment := fmt.Sprintf("%s - confidence: %.2f", vm.MatchType, vm.ConfidenceScore)
	if vm.Status == StatusAutoCorrected && len(vm.Reasons) > 0 {
		comment += " (auto-corrected: " + strings.Join(vm.Reasons, "; ") + ")"
	}
	return comment
}

// ToLedger converts an accepted match to its ledger row. Converting a
// rejected match is an InvalidStateError.
func ToLedger(vm ValidatedMatch) (LedgerRow, error) {
	const op = "ToLedger"

	if !vm.Status.Accepted() {
		return LedgerRow{}, NewInvalidStateError(op, ErrRejectedMatch,
			fmt.Sprintf("%s/%s: %s", vm.TransactionID, vm.ProjectID, strings.Join(vm.Reasons, "; ")))
	}
	if vm.ProjectID == "" || vm.TransactionID == "" {
		return LedgerRow{}, NewInvalidStateError(op, ErrUnknownReference, "accepted match without project or transaction")
	}

	return LedgerRow{
		ProjectID:     vm.ProjectID,
		TransactionID: LedgerTransactionID(vm.TransactionID, vm.ProjectID),
		Amount:        vm.MatchAmount,
		MatchedAmount: vm.MatchAmount,
		MatchScore:    vm.ConfidenceScore,
		Comment:       Comment(vm),
		ClientName:    vm.ClientName,
	}, nil
}

// FromLedger reads a ledger row back into an accepted match. The payment id
// is recovered from the synthesized transaction id and the match type,
// status and reasons from the comment. The row is not checked against the
// index; callers holding one must validate vm.Candidate again.
func FromLedger(row LedgerRow) (ValidatedMatch, error) {
	const op = "FromLedger"

	suffix := "_" + row.ProjectID
	if row.ProjectID == "" || !strings.HasPrefix(row.TransactionID, ledgerIDPrefix) || !strings.HasSuffix(row.TransactionID, suffix) {
		return ValidatedMatch{}, fmt.Errorf("%s: %w: transaction id %q does not belong to project %q",
			op, ErrMalformedLedgerRow, row.TransactionID, row.ProjectID)
	}
	paymentID := strings.TrimSuffix(strings.TrimPrefix(row.TransactionID, ledgerIDPrefix), suffix)
	if paymentID == "" {
		return ValidatedMatch{}, fmt.Errorf("%s: %w: empty payment id in %q", op, ErrMalformedLedgerRow, row.TransactionID)
	}

	m := commentPattern.FindStringSubmatch(row.Comment)
	if m == nil {
		return ValidatedMatch{}, fmt.Errorf("%s: %w: unrecognized comment %q", op, ErrMalformedLedgerRow, row.Comment)
	}
	matchType, ok := ParseMatchType(m[1])
	if !ok {
		return ValidatedMatch{}, fmt.Errorf("%s: %w: unknown match type %q", op, ErrMalformedLedgerRow, m[1])
	}
	score := row.MatchScore
	if math.IsNaN(score) || score < 0 || score > 1 {
		return ValidatedMatch{}, fmt.Errorf("%s: %w: match score %s outside [0,1]",
			op, ErrMalformedLedgerRow, strconv.FormatFloat(score, 'f', -1, 64))
	}

	vm := ValidatedMatch{
		ProjectID:       row.ProjectID,
		TransactionID:   paymentID,
		MatchAmount:     row.MatchedAmount,
		ConfidenceScore: score,
		MatchType:       matchType,
		ClientName:      row.ClientName,
		Status:          StatusOK,
	}
	if m[3] != "" {
		vm.Status = StatusAutoCorrected
		vm.Reasons = strings.Split(m[3], "; ")
	}

	projectID, amount := row.ProjectID, row.MatchedAmount
	vm.Candidate = MatchCandidate{
		InvoiceID:       &projectID,
		PaymentID:       &paymentID,
		MatchAmount:     &amount,
		ConfidenceScore: &score,
		MatchType:       &matchType,
	}
	if row.ClientName != "" {
		clientName := row.ClientName
		vm.Candidate.ClientName = &clientName
	}
	return vm, nil
}
