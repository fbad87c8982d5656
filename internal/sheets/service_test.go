package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func TestExtractSpreadsheetID(t *testing.T) {
	id, err := extractSpreadsheetID("https://docs.google.com/spreadsheets/d/1AbC-d_9/edit#gid=0")
	require.NoError(t, err)
	assert.Equal(t, "1AbC-d_9", id)

	_, err = extractSpreadsheetID("https://example.com/not-a-sheet")
	assert.ErrorIs(t, err, ErrInvalidSheetURL)
}

type fakeSheets struct {
	mu       sync.Mutex
	calls    []string
	appended [][]interface{}
	header   [][]interface{}
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/spreadsheets/sheet-1"):
		_, _ = w.Write([]byte(`{"spreadsheetId":"sheet-1","sheets":[{"properties":{"title":"Journal","sheetId":7}}]}`))
	case strings.HasSuffix(r.URL.Path, ":batchUpdate"):
		_, _ = w.Write([]byte(`{"replies":[{"addSheet":{"properties":{"title":"Manual Review","sheetId":8}}}]}`))
	case strings.HasSuffix(r.URL.Path, ":append"):
		var vr sheets.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&vr)
		f.appended = append(f.appended, vr.Values...)
		_, _ = w.Write([]byte(`{}`))
	case r.Method == http.MethodPut:
		var vr sheets.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&vr)
		f.header = vr.Values
		_, _ = w.Write([]byte(`{}`))
	case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/values/"):
		_, _ = w.Write([]byte(`{"values":[]}`))
	default:
		http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
	}
}

func TestPublishRows_CreatesSheetAndHeader(t *testing.T) {
	fake := &fakeSheets{}
	server := httptest.NewServer(fake)
	defer server.Close()

	svc, err := NewSheetsServiceWithOptions(context.Background(),
		"https://docs.google.com/spreadsheets/d/sheet-1/edit",
		option.WithEndpoint(server.URL+"/"),
		option.WithHTTPClient(server.Client()),
	)
	require.NoError(t, err)

	err = svc.PublishRows(context.Background(), "Manual Review",
		[]string{"kind", "transaction_id"},
		[][]string{{"unmatched", "TXN_1"}, {"rejected", "TXN_2"}})
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, [][]interface{}{{"kind", "transaction_id"}}, fake.header)
	assert.Equal(t, [][]interface{}{{"unmatched", "TXN_1"}, {"rejected", "TXN_2"}}, fake.appended)

	var batchUpdates int
	for _, call := range fake.calls {
		if strings.HasSuffix(call, ":batchUpdate") {
			batchUpdates++
		}
	}
	assert.Equal(t, 2, batchUpdates, "add sheet and format header")
}

func TestPublishRows_NothingToPublish(t *testing.T) {
	fake := &fakeSheets{}
	server := httptest.NewServer(fake)
	defer server.Close()

	svc, err := NewSheetsServiceWithOptions(context.Background(),
		"https://docs.google.com/spreadsheets/d/sheet-1/edit",
		option.WithEndpoint(server.URL+"/"),
		option.WithHTTPClient(server.Client()),
	)
	require.NoError(t, err)

	require.NoError(t, svc.PublishRows(context.Background(), "Journal", []string{"a"}, nil))
	assert.Empty(t, fake.calls)
}
