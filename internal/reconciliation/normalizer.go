package reconciliation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"invoicing/internal/logger"
)

type field string

const (
	fieldDate         field = "date"
	fieldAmount       field = "amount"
	fieldCounterparty field = "counterparty"
	fieldDescription  field = "description"
	fieldID           field = "transaction_id"
	fieldType         field = "type"
)

var requiredFields = []field{fieldDate, fieldAmount, fieldCounterparty}

// columnAliases maps header spellings, already folded by headerKey, onto fields.
var columnAliases = map[string]field{
	"transactiondate": fieldDate, "date": fieldDate, "取引日": fieldDate, "日付": fieldDate,
	"年月日": fieldDate, "datum": fieldDate, "buchungstag": fieldDate, "bookingdate": fieldDate,

	"amount": fieldAmount, "金額": fieldAmount, "入金額": fieldAmount, "取引金額": fieldAmount,
	"betrag": fieldAmount,

	"clientname": fieldCounterparty, "counterparty": fieldCounterparty, "counterpartyname": fieldCounterparty,
	"振込依頼人": fieldCounterparty, "振込依頼人名": fieldCounterparty, "依頼人名": fieldCounterparty,
	"取引先": fieldCounterparty, "payer": fieldCounterparty, "name": fieldCounterparty,
	"empfängerabsender": fieldCounterparty, "auftraggeber": fieldCounterparty,

	"description": fieldDescription, "rawdescription": fieldDescription, "摘要": fieldDescription,
	"内容": fieldDescription, "beschreibung": fieldDescription, "verwendungszweck": fieldDescription,
	"memo": fieldDescription,

	"transactionid": fieldID, "id": fieldID, "取引id": fieldID, "取引番号": fieldID,

	"transactiontype": fieldType, "type": fieldType, "取引区分": fieldType, "入出金区分": fieldType,
	"transaktionstyp": fieldType,
}

var withdrawalTypes = []string{"出金", "支払", "withdrawal", "debit", "outgoing", "lastschrift"}

// NormalizerOptions configures bank export parsing.
type NormalizerOptions struct {
	Locale       AmountLocale
	Encoding     string // utf-8 or shift_jis
	DepositsOnly bool
	Now          func() time.Time
}

// NormalizeReport states what happened to every input row.
type NormalizeReport struct {
	InputRows  int
	Normalized int
	Skipped    []*RowError
	Warnings   []string
	Columns    map[string]string // field -> header used
}

// SkippedByReason counts skipped rows per underlying error.
func (r *NormalizeReport) SkippedByReason() map[string]int {
	counts := make(map[string]int)
	for _, rowErr := range r.Skipped {
		counts[rootCause(rowErr.Err).Error()]++
	}
	return counts
}

// Normalizer turns raw bank exports into BankTransaction records.
type Normalizer struct {
	opts NormalizerOptions
	log  zerolog.Logger
}

// NewNormalizer creates a normalizer with the given options.
func NewNormalizer(opts NormalizerOptions) *Normalizer {
	if opts.Locale == "" {
		opts.Locale = LocaleAuto
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Normalizer{
		opts: opts,
		log:  logger.WithComponent("reconciliation-normalizer"),
	}
}

// Normalize parses a bank export. A missing or ambiguous required column is a
// SchemaError; bad rows are skipped, logged and reported, so
// len(transactions)+len(report.Skipped) == report.InputRows.
func (n *Normalizer) Normalize(r io.Reader) ([]BankTransaction, *NormalizeReport, error) {
	const op = "Normalize"

	src, err := n.decode(r)
	if err != nil {
		return nil, nil, NewSchemaError(op, err, "unsupported encoding")
	}

	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, NewSchemaError(op, ErrEmptyInput, "")
		}
		return nil, nil, NewSchemaError(op, err, "failed to read header")
	}

	columns, err := mapColumns(header)
	if err != nil {
		return nil, nil, NewSchemaError(op, err, strings.Join(header, ","))
	}

	report := &NormalizeReport{Columns: make(map[string]string, len(columns))}
	for f, i := range columns {
		report.Columns[string(f)] = header[i]
	}

	type record struct {
		fields []string
		line   int
		err    error
	}
	var records []record
read:
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rec := record{fields: row, err: err}
		var parseErr *csv.ParseError
		switch {
		case err == nil:
			rec.line, _ = reader.FieldPos(0)
		case errors.As(err, &parseErr):
			rec.line = parseErr.StartLine
		default:
			// the underlying reader failed; nothing after this is readable
			records = append(records, rec)
			break read
		}
		records = append(records, rec)
	}

	amounts := make([]string, 0, len(records))
	for _, rec := range records {
		if i := columns[fieldAmount]; rec.err == nil && i < len(rec.fields) {
			amounts = append(amounts, rec.fields[i])
		}
	}
	locale := n.resolveLocale(amounts)

	n.log.Info().
		Interface("columns", report.Columns).
		Str("locale", string(locale)).
		Msg("Reading bank transactions")

	var transactions []BankTransaction
	seen := make(map[string]bool)
	synthesized := 0
	for _, rec := range records {
		report.InputRows++
		if rec.err != nil {
			n.skip(report, NewRowError(rec.line, rec.err, "unreadable row"))
			continue
		}

		txn, rowErr := n.parseRow(rec.fields, rec.line, columns, locale)
		if rowErr != nil {
			n.skip(report, rowErr)
			continue
		}

		if txn.TransactionID == "" {
			txn.TransactionID = synthesizeID(txn.Date, len(transactions)+1, seen)
			synthesized++
		} else if seen[txn.TransactionID] {
			n.skip(report, NewRowError(rec.line, ErrDuplicateTransaction, txn.TransactionID))
			continue
		}
		seen[txn.TransactionID] = true

		transactions = append(transactions, txn)
	}

	report.Normalized = len(transactions)
	report.Warnings = n.warnings(transactions)
	if ambiguous := report.SkippedByReason()[ErrAmbiguousAmount.Error()]; ambiguous > 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"%d amounts could be read either way; set AMOUNT_LOCALE to dot or comma", ambiguous))
	}
	if synthesized > 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"%d transaction ids synthesized from date and row order; they identify payments only within this export", synthesized))
	}

	n.log.Info().
		Int("input_rows", report.InputRows).
		Int("normalized", report.Normalized).
		Int("skipped", len(report.Skipped)).
		Int("warnings", len(report.Warnings)).
		Msg("Bank transactions normalized")

	return transactions, report, nil
}

func (n *Normalizer) decode(r io.Reader) (io.Reader, error) {
	switch enc := strings.ToLower(n.opts.Encoding); {
	case enc == "", enc == "utf-8", enc == "utf8":
		return r, nil
	case isShiftJIS(enc):
		return transform.NewReader(r, japanese.ShiftJIS.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("encoding %q", n.opts.Encoding)
	}
}

func isShiftJIS(enc string) bool {
	switch strings.ToLower(enc) {
	case "shift_jis", "sjis", "shift-jis":
		return true
	}
	return false
}

// resolveLocale settles the amount convention of an export in auto mode.
// Amounts that decide it on their own must agree; otherwise every amount is
// read by itself and the ambiguous ones are skipped. Shift_JIS exports come
// from Japanese banks, which never use a decimal comma.
func (n *Normalizer) resolveLocale(amounts []string) AmountLocale {
	if n.opts.Locale != LocaleAuto {
		return n.opts.Locale
	}
	hints := make(map[AmountLocale]int)
	for _, amount := range amounts {
		if hint := separatorHint(amount); hint != "" {
			hints[hint]++
		}
	}
	switch {
	case hints[LocaleDot] > 0 && hints[LocaleComma] > 0:
		n.log.Warn().
			Int("dot", hints[LocaleDot]).
			Int("comma", hints[LocaleComma]).
			Msg("Bank export mixes amount conventions")
		return LocaleAuto
	case hints[LocaleDot] > 0:
		return LocaleDot
	case hints[LocaleComma] > 0:
		return LocaleComma
	case isShiftJIS(n.opts.Encoding):
		return LocaleDot
	}
	return LocaleAuto
}

func (n *Normalizer) skip(report *NormalizeReport, rowErr *RowError) {
	report.Skipped = append(report.Skipped, rowErr)
	n.log.Warn().
		Err(rowErr.Err).
		Int("row", rowErr.Row).
		Str("details", rowErr.Details).
		Msg("Skipping bank transaction row")
}

func (n *Normalizer) parseRow(row []string, line int, columns map[field]int, locale AmountLocale) (BankTransaction, *RowError) {
	cell := func(f field) (string, bool) {
		i, ok := columns[f]
		if !ok {
			return "", true
		}
		if i >= len(row) {
			return "", false
		}
		return strings.TrimSpace(row[i]), true
	}

	dateStr, ok := cell(fieldDate)
	if !ok {
		return BankTransaction{}, NewRowError(line, ErrMissingValue, fmt.Sprintf("insufficient columns (%d)", len(row)))
	}
	date, err := ParseDate(dateStr)
	if err != nil {
		return BankTransaction{}, NewRowError(line, err, "date")
	}

	amountStr, ok := cell(fieldAmount)
	if !ok {
		return BankTransaction{}, NewRowError(line, ErrMissingValue, fmt.Sprintf("insufficient columns (%d)", len(row)))
	}
	amount, err := ParseAmount(amountStr, locale)
	if err != nil {
		return BankTransaction{}, NewRowError(line, err, "amount")
	}

	txnType, _ := cell(fieldType)
	txn := BankTransaction{
		Date:     date,
		Amount:   amount,
		Type:     txnType,
		Category: CategorizeAmount(amount),
		Row:      line,
	}
	if n.opts.DepositsOnly && (!txn.IsIncoming() || isWithdrawal(txnType)) {
		return BankTransaction{}, NewRowError(line, ErrNotDeposit, fmt.Sprintf("%s %s", amount.String(), txnType))
	}

	counterparty, ok := cell(fieldCounterparty)
	if !ok || counterparty == "" {
		return BankTransaction{}, NewRowError(line, ErrMissingValue, "counterparty")
	}

	txn.TransactionID, _ = cell(fieldID)
	txn.CounterpartyName = counterparty
	txn.RawDescription, _ = cell(fieldDescription)
	return txn, nil
}

// warnings flags future-dated rows and amount outliers beyond three standard
// deviations. dev^2 > 9*variance keeps the comparison in exact decimals.
func (n *Normalizer) warnings(transactions []BankTransaction) []string {
	var warnings []string
	now := n.opts.Now()
	for _, txn := range transactions {
		if txn.Date.After(now) {
			warnings = append(warnings, fmt.Sprintf("row %d: transaction %s is dated in the future (%s)",
				txn.Row, txn.TransactionID, txn.Date.Format("2006-01-02")))
		}
	}

	if len(transactions) < 3 {
		return warnings
	}
	count := decimal.NewFromInt(int64(len(transactions)))
	sum := decimal.Zero
	for _, txn := range transactions {
		sum = sum.Add(txn.Amount)
	}
	mean := sum.Div(count)
	variance := decimal.Zero
	for _, txn := range transactions {
		dev := txn.Amount.Sub(mean)
		variance = variance.Add(dev.Mul(dev))
	}
	variance = variance.Div(count)
	limit := variance.Mul(decimal.NewFromInt(9))
	for _, txn := range transactions {
		dev := txn.Amount.Sub(mean)
		if variance.IsPositive() && dev.Mul(dev).GreaterThan(limit) {
			warnings = append(warnings, fmt.Sprintf("row %d: amount %s of transaction %s is an outlier",
				txn.Row, txn.Amount.String(), txn.TransactionID))
		}
	}
	return warnings
}

func mapColumns(header []string) (map[field]int, error) {
	columns := make(map[field]int)
	for i, name := range header {
		f, ok := columnAliases[headerKey(name)]
		if !ok {
			continue
		}
		if prev, dup := columns[f]; dup {
			return nil, fmt.Errorf("%w: %q and %q both map to %s", ErrAmbiguousColumn, header[prev], name, f)
		}
		columns[f] = i
	}

	var missing []string
	for _, f := range requiredFields {
		if _, ok := columns[f]; !ok {
			missing = append(missing, string(f))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return columns, nil
}

// headerKey folds a header cell: BOM and width differences, case, and the
// separators _ - / and spaces are ignored.
func headerKey(name string) string {
	folded := strings.ToLower(norm.NFKC.String(strings.TrimPrefix(name, "\ufeff")))
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '/', '.':
			return -1
		}
		return r
	}, folded)
}

func isWithdrawal(txnType string) bool {
	t := strings.ToLower(strings.TrimSpace(txnType))
	if t == "" {
		return false
	}
	for _, w := range withdrawalTypes {
		if strings.Contains(t, w) {
			return true
		}
	}
	return false
}

func synthesizeID(date time.Time, seq int, seen map[string]bool) string {
	for {
		id := fmt.Sprintf("TXN_%s_%04d", date.Format("20060102"), seq)
		if !seen[id] {
			return id
		}
		seq++
	}
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
