package invoice

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"invoicing/internal/logger"
)

// LoadReport summarizes one invoice source.
type LoadReport struct {
	Rows    int
	Loaded  int
	Skipped []string
}

// draftRecord is the JSON shape of a drafted invoice.
type draftRecord struct {
	ProjectID     flexString      `json:"project_id"`
	ClientID      string          `json:"client_id"`
	ClientName    string          `json:"client_name"`
	ProjectName   string          `json:"project_name"`
	BillingPeriod string          `json:"billing_period"`
	BillingYear   int             `json:"billing_year"`
	BillingMonth  int             `json:"billing_month"`
	BillingAmount decimal.Decimal `json:"billing_amount"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

// LoadFile loads invoice records from a seed CSV or a draft JSON file, chosen by extension.
func LoadFile(path string) ([]Record, *LoadReport, error) {
	const op = "LoadFile"

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, NewIndexError(op, err, path)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return LoadDraftJSON(f)
	case ".csv", ".txt":
		return LoadSeedCSV(f)
	default:
		return nil, nil, NewIndexError(op, ErrUnsupportedFormat, path)
	}
}

// LoadSeedCSV reads invoice seed rows. Required columns are project_id,
// client_name, billing_amount and either billing_period or billing_year and
// billing_month. Rows that fail to parse are skipped and reported.
func LoadSeedCSV(r io.Reader) ([]Record, *LoadReport, error) {
	const op = "LoadSeedCSV"
	log := logger.WithComponent("invoice-loader")

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, NewIndexError(op, ErrMissingColumn, "empty seed file")
		}
		return nil, nil, NewIndexError(op, err, "failed to read header")
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, required := range []string{"project_id", "client_name", "billing_amount"} {
		if _, ok := cols[required]; !ok {
			return nil, nil, NewIndexError(op, ErrMissingColumn, required)
		}
	}
	_, hasPeriod := cols["billing_period"]
	_, hasYear := cols["billing_year"]
	_, hasMonth := cols["billing_month"]
	if !hasPeriod && !(hasYear && hasMonth) {
		return nil, nil, NewIndexError(op, ErrMissingColumn, "billing_period or billing_year/billing_month")
	}

	get := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	report := &LoadReport{}
	var records []Record
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		report.Rows++
		if err != nil {
			report.Skipped = append(report.Skipped, fmt.Sprintf("row %d: %v", line, err))
			log.Warn().Err(err).Int("row", line).Msg("Skipping unreadable invoice row")
			continue
		}

		rec, err := seedRecord(get, row)
		if err != nil {
			report.Skipped = append(report.Skipped, fmt.Sprintf("row %d: %v", line, err))
			log.Warn().Err(err).Int("row", line).Msg("Skipping invalid invoice row")
			continue
		}
		records = append(records, rec)
	}

	report.Loaded = len(records)
	log.Info().
		Int("rows", report.Rows).
		Int("loaded", report.Loaded).
		Int("skipped", len(report.Skipped)).
		Msg("Invoice seed loaded")

	return records, report, nil
}

func seedRecord(get func([]string, string) string, row []string) (Record, error) {
	projectID, ok := CanonicalProjectID(get(row, "project_id"))
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidProjectID, get(row, "project_id"))
	}

	clientName := get(row, "client_name")
	if clientName == "" {
		return Record{}, fmt.Errorf("%w: empty client_name", ErrInvalidRecord)
	}

	amount, err := decimal.NewFromString(strings.ReplaceAll(get(row, "billing_amount"), ",", ""))
	if err != nil {
		return Record{}, fmt.Errorf("%w: billing_amount %q", ErrInvalidRecord, get(row, "billing_amount"))
	}

	var period Period
	if raw := get(row, "billing_period"); raw != "" {
		period, err = ParsePeriod(raw)
	} else {
		period, err = yearMonth(get(row, "billing_year"), get(row, "billing_month"))
	}
	if err != nil {
		return Record{}, err
	}

	return Record{
		ProjectID:     projectID,
		ClientID:      get(row, "client_id"),
		ClientName:    clientName,
		ProjectName:   get(row, "project_name"),
		Period:        period,
		BillingAmount: amount,
	}, nil
}

func yearMonth(yearStr, monthStr string) (Period, error) {
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return Period{}, fmt.Errorf("%w: billing_year %q", ErrInvalidPeriod, yearStr)
	}
	month, err := strconv.Atoi(monthStr)
	if err != nil {
		return Period{}, fmt.Errorf("%w: billing_month %q", ErrInvalidPeriod, monthStr)
	}
	return NewPeriod(year, time.Month(month))
}

// LoadDraftJSON reads an array of drafted invoices.
func LoadDraftJSON(r io.Reader) ([]Record, *LoadReport, error) {
	const op = "LoadDraftJSON"
	log := logger.WithComponent("invoice-loader")

	var drafts []draftRecord
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&drafts); err != nil {
		return nil, nil, NewIndexError(op, err, "failed to decode draft invoices")
	}

	report := &LoadReport{Rows: len(drafts)}
	records := make([]Record, 0, len(drafts))
	for i, d := range drafts {
		rec, err := d.record()
		if err != nil {
			report.Skipped = append(report.Skipped, fmt.Sprintf("draft %d: %v", i, err))
			log.Warn().Err(err).Int("draft", i).Msg("Skipping invalid draft invoice")
			continue
		}
		records = append(records, rec)
	}

	report.Loaded = len(records)
	log.Info().
		Int("drafts", report.Rows).
		Int("loaded", report.Loaded).
		Msg("Draft invoices loaded")

	return records, report, nil
}

func (d draftRecord) record() (Record, error) {
	projectID, ok := CanonicalProjectID(string(d.ProjectID))
	if !ok {
		return Record{}, fmt.Errorf("%w: %q", ErrInvalidProjectID, string(d.ProjectID))
	}
	if strings.TrimSpace(d.ClientName) == "" {
		return Record{}, fmt.Errorf("%w: empty client_name", ErrInvalidRecord)
	}

	var period Period
	var err error
	if d.BillingPeriod != "" {
		period, err = ParsePeriod(d.BillingPeriod)
	} else {
		period, err = NewPeriod(d.BillingYear, time.Month(d.BillingMonth))
	}
	if err != nil {
		return Record{}, err
	}

	return Record{
		ProjectID:     projectID,
		ClientID:      d.ClientID,
		ClientName:    strings.TrimSpace(d.ClientName),
		ProjectName:   d.ProjectName,
		Period:        period,
		BillingAmount: d.BillingAmount,
	}, nil
}
