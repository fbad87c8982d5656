package invoice

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedCSV = `project_id,client_id,client_name,project_name,pm_id,billing_year,billing_month,billing_amount
PRJ_0001,CL001,株式会社サンプル,基幹システム保守,PM01,2024,1,100000
PRJ_0002,CL002,Acme Corp,Web Renewal,PM02,2024,1,"1,250,000"
PRJ_0003,CL003,,Missing Client,PM03,2024,1,5000
PRJ_0004,CL004,Globex,Bad Month,PM04,2024,13,5000
XYZ,CL005,Initech,Bad Id,PM05,2024,1,5000
`

func TestLoadSeedCSV(t *testing.T) {
	records, report, err := LoadSeedCSV(strings.NewReader(seedCSV))
	require.NoError(t, err)

	assert.Equal(t, 5, report.Rows)
	assert.Equal(t, 2, report.Loaded)
	assert.Len(t, report.Skipped, 3)
	require.Len(t, records, 2)

	assert.Equal(t, "PRJ_0001", records[0].ProjectID)
	assert.Equal(t, "CL001", records[0].ClientID)
	assert.Equal(t, Period{Year: 2024, Month: time.January}, records[0].Period)
	assert.True(t, decimal.NewFromInt(1250000).Equal(records[1].BillingAmount))
}

func TestLoadSeedCSV_BillingPeriodColumn(t *testing.T) {
	src := "\ufeffproject_id,client_name,billing_period,billing_amount\n7,Initech,2024-02,300.50\n"
	records, _, err := LoadSeedCSV(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "PRJ_0007", records[0].ProjectID)
	assert.Equal(t, "2024-02", records[0].Period.String())
	assert.Equal(t, "300.5", records[0].BillingAmount.String())
}

func TestLoadSeedCSV_MissingColumns(t *testing.T) {
	_, _, err := LoadSeedCSV(strings.NewReader("project_id,client_name\nPRJ_0001,Acme\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingColumn)

	var indexErr *IndexError
	require.ErrorAs(t, err, &indexErr)
	assert.Equal(t, "LoadSeedCSV", indexErr.Op)

	_, _, err = LoadSeedCSV(strings.NewReader("project_id,client_name,billing_amount\nPRJ_0001,Acme,1\n"))
	assert.ErrorIs(t, err, ErrMissingColumn, "a period source is required")

	_, _, err = LoadSeedCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestLoadDraftJSON(t *testing.T) {
	src := `[
		{"project_id": "PRJ_0001", "client_name": "Acme Corp", "billing_period": "2024-01", "billing_amount": 100000},
		{"project_id": 2, "client_name": "Globex", "billing_year": 2024, "billing_month": 2, "billing_amount": "2500.75"},
		{"project_id": "PRJ_0003", "client_name": "", "billing_period": "2024-01", "billing_amount": 1}
	]`

	records, report, err := LoadDraftJSON(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, 3, report.Rows)
	assert.Len(t, report.Skipped, 1)
	require.Len(t, records, 2)
	assert.Equal(t, "PRJ_0002", records[1].ProjectID)
	assert.Equal(t, "2500.75", records[1].BillingAmount.String())
	assert.Equal(t, time.February, records[1].Period.Month)

	_, _, err = LoadDraftJSON(strings.NewReader(`{"not": "an array"}`))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "seed.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(seedCSV), 0o644))
	records, _, err := LoadFile(csvPath)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	xmlPath := filepath.Join(dir, "seed.xml")
	require.NoError(t, os.WriteFile(xmlPath, []byte("<x/>"), 0o644))
	_, _, err = LoadFile(xmlPath)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, _, err = LoadFile(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}
