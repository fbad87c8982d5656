package invoice

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecords() []Record {
	jan := Period{Year: 2024, Month: time.January}
	return []Record{
		{ProjectID: "PRJ_0001", ClientID: "CL001", ClientName: "株式会社サンプル", Period: jan, BillingAmount: decimal.NewFromInt(100000)},
		{ProjectID: "2", ClientID: "CL002", ClientName: "Acme Corp", Period: jan, BillingAmount: decimal.NewFromInt(250000)},
		{ProjectID: "PRJ_0003", ClientID: "CL003", ClientName: "Globex", Period: jan, BillingAmount: decimal.NewFromInt(50000)},
		{ProjectID: "PRJ_0004", ClientID: "CL003", ClientName: "Globex", Period: jan, BillingAmount: decimal.NewFromInt(70000)},
		{ProjectID: "PRJ_0005", ClientID: "CL003", ClientName: "Globex", Period: jan.Prev(), BillingAmount: decimal.NewFromInt(70000)},
	}
}

func TestCanonicalProjectID(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"PRJ_0001", "PRJ_0001", true},
		{"prj_1", "PRJ_0001", true},
		{"PRJ-12", "PRJ_0012", true},
		{"7", "PRJ_0007", true},
		{" PRJ_0042 ", "PRJ_0042", true},
		{"ＰＲＪ＿０００９", "PRJ_0009", true},
		{"PRJ_12345", "", false},
		{"INV_0001", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := CanonicalProjectID(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePeriod(t *testing.T) {
	for _, raw := range []string{"2024-01", "2024/1", "202401", "2024年1月", "2024.01"} {
		p, err := ParsePeriod(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, Period{Year: 2024, Month: time.January}, p, raw)
	}

	_, err := ParsePeriod("2024-13")
	assert.ErrorIs(t, err, ErrInvalidPeriod)
	_, err = ParsePeriod("January")
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	assert.Equal(t, Period{Year: 2023, Month: time.December}, Period{Year: 2024, Month: time.January}.Prev())
	assert.Equal(t, "2024-03", Period{Year: 2024, Month: time.March}.String())
}

func TestIndex_LookupByProject(t *testing.T) {
	idx := NewIndex(testRecords())

	rec, ok := idx.LookupByProject("PRJ_0001")
	require.True(t, ok)
	assert.Equal(t, "株式会社サンプル", rec.ClientName)

	rec, ok = idx.LookupByProject("prj-2")
	require.True(t, ok)
	assert.Equal(t, "PRJ_0002", rec.ProjectID, "records are stored under their canonical id")

	_, ok = idx.LookupByProject("PRJ_9999")
	assert.False(t, ok)
	_, ok = idx.LookupByProject("garbage")
	assert.False(t, ok)
}

func TestIndex_LookupByClientPeriod(t *testing.T) {
	idx := NewIndex(testRecords())
	jan := Period{Year: 2024, Month: time.January}

	rec, ok := idx.LookupByClientPeriod("サンプル", jan)
	require.True(t, ok, "corporate suffix is ignored")
	assert.Equal(t, "PRJ_0001", rec.ProjectID)

	rec, ok = idx.LookupByClientPeriod("  ACME   corp ", jan)
	require.True(t, ok)
	assert.Equal(t, "PRJ_0002", rec.ProjectID)

	rec, ok = idx.LookupByClientPeriod("CL002", jan)
	require.True(t, ok, "client id is indexed too")
	assert.Equal(t, "PRJ_0002", rec.ProjectID)

	_, ok = idx.LookupByClientPeriod("Globex", jan)
	assert.False(t, ok, "two projects for one client and period are ambiguous")

	rec, ok = idx.LookupByClientPeriod("Globex", jan.Prev())
	require.True(t, ok)
	assert.Equal(t, "PRJ_0005", rec.ProjectID)

	_, ok = idx.LookupByClientPeriod("Acme Corp", jan.Prev())
	assert.False(t, ok)
}

func TestIndex_DuplicatesAndReverseLookup(t *testing.T) {
	records := append(testRecords(), Record{ProjectID: "1", ClientName: "Other", Period: Period{Year: 2024, Month: time.January}})
	records = append(records, Record{ProjectID: "not-a-project", ClientName: "Nobody"})
	idx := NewIndex(records)

	assert.Equal(t, 5, idx.Len())
	assert.Equal(t, []string{"PRJ_0001", "not-a-project"}, idx.Duplicates())

	rec, _ := idx.LookupByProject("PRJ_0001")
	assert.Equal(t, "株式会社サンプル", rec.ClientName, "first record wins")

	globex := idx.ProjectsForClient("globex")
	require.Len(t, globex, 3)
	assert.Equal(t, "PRJ_0003", globex[0].ProjectID)
	assert.Equal(t, "PRJ_0005", globex[2].ProjectID)
	assert.Empty(t, idx.ProjectsForClient("unknown"))

	all := idx.Records()
	require.Len(t, all, 5)
	assert.Equal(t, "PRJ_0001", all[0].ProjectID)
}

func ExampleCanonicalProjectID() {
	id, ok := CanonicalProjectID("prj-7")
	fmt.Println(id, ok)
	// Output: PRJ_0007 true
}

func ExampleClientKey() {
	fmt.Println(ClientKey("  株式会社　ＡＢＣ  Trading "))
	// Output: abc trading
}
