package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoicing/internal/reconciliation"
)

func entry(txn, project, runID string) reconciliation.JournalEntry {
	return reconciliation.JournalEntry{
		TransactionID: txn,
		ProjectID:     project,
		Amount:        decimal.RequireFromString("100000"),
		MatchedAmount: decimal.RequireFromString("100000.50"),
		MatchScore:    0.92,
		Comment:       "EXACT - confidence: 0.92",
		EntryType:     reconciliation.EntryCashReceipt,
		ClientName:    "ABC Trading",
		DebitAccount:  "cash",
		CreditAccount: "accounts_receivable",
		Date:          time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		RunID:         runID,
	}
}

func openStore(t *testing.T) (*JournalStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestJournalStore_AppendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := openStore(t)

	inserted, err := s.Append(ctx, []reconciliation.JournalEntry{
		entry("TXN_1", "PRJ_0001", "run-1"),
		entry("TXN_2", "PRJ_0002", "run-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	inserted, err = s.Append(ctx, []reconciliation.JournalEntry{
		entry("TXN_1", "PRJ_0001", "run-2"),
		entry("TXN_3", "PRJ_0003", "run-2"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []reconciliation.JournalKey{
		{TransactionID: "TXN_1", ProjectID: "PRJ_0001"},
		{TransactionID: "TXN_2", ProjectID: "PRJ_0002"},
		{TransactionID: "TXN_3", ProjectID: "PRJ_0003"},
	}, keys)
}

func TestJournalStore_EntriesForRun(t *testing.T) {
	ctx := context.Background()
	s, _ := openStore(t)

	want := entry("TXN_1", "PRJ_0001", "run-1")
	_, err := s.Append(ctx, []reconciliation.JournalEntry{want, entry("TXN_2", "PRJ_0002", "run-2")})
	require.NoError(t, err)

	got, err := s.EntriesForRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, want.TransactionID, got[0].TransactionID)
	assert.True(t, want.MatchedAmount.Equal(got[0].MatchedAmount))
	assert.True(t, want.Amount.Equal(got[0].Amount))
	assert.Equal(t, want.Date, got[0].Date)
	assert.Equal(t, reconciliation.EntryCashReceipt, got[0].EntryType)
	assert.Equal(t, "ABC Trading", got[0].ClientName)
}

func TestJournalStore_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	s, path := openStore(t)

	_, err := s.Append(ctx, []reconciliation.JournalEntry{entry("TXN_1", "PRJ_0001", "run-1")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	keys, err := reopened.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestJournalStore_SatisfiesPipelineKeys(t *testing.T) {
	s, _ := openStore(t)
	var _ reconciliation.JournalKeys = s
}
