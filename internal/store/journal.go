package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"invoicing/internal/logger"
	"invoicing/internal/reconciliation"
)

const schema = `
CREATE TABLE IF NOT EXISTS journal_entries (
	transaction_id TEXT NOT NULL,
	project_id     TEXT NOT NULL,
	amount         TEXT NOT NULL,
	matched_amount TEXT NOT NULL,
	match_score    REAL NOT NULL,
	comment        TEXT NOT NULL,
	entry_type     TEXT NOT NULL,
	client_name    TEXT NOT NULL,
	debit_account  TEXT NOT NULL,
	credit_account TEXT NOT NULL,
	entry_date     TEXT NOT NULL,
	run_id         TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	PRIMARY KEY (transaction_id, project_id)
);
CREATE INDEX IF NOT EXISTS journal_entries_run ON journal_entries (run_id);
`

// JournalStore persists journal entries across runs so that re-running a
// batch never journals a (transaction_id, project_id) pair twice. It uses a
// single connection; concurrent batches are serialized by database/sql.
type JournalStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens or creates the sqlite journal at path.
func Open(ctx context.Context, path string) (*JournalStore, error) {
	const op = "Open"

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open journal %s: %w", op, path, err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: failed to initialize journal %s: %w", op, path, err)
		}
	}

	s := &JournalStore{
		db:  db,
		log: logger.WithFields(map[string]interface{}{"component": "journal-store", "path": path}),
	}
	s.log.Debug().Msg("Journal store opened")
	return s, nil
}

// Close releases the database.
func (s *JournalStore) Close() error {
	return s.db.Close()
}

// Keys returns the keys of every persisted entry.
func (s *JournalStore) Keys(ctx context.Context) ([]reconciliation.JournalKey, error) {
	const op = "Keys"

	rows, err := s.db.QueryContext(ctx, `SELECT transaction_id, project_id FROM journal_entries ORDER BY transaction_id, project_id`)
	if err != nil {
		return nil, fmt.Errorf("%s: query journal keys: %w", op, err)
	}
	defer rows.Close()

	var keys []reconciliation.JournalKey
	for rows.Next() {
		var key reconciliation.JournalKey
		if err := rows.Scan(&key.TransactionID, &key.ProjectID); err != nil {
			return nil, fmt.Errorf("%s: scan journal key: %w", op, err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate journal keys: %w", op, err)
	}
	return keys, nil
}

// Append stores entries in one transaction. Keys already present are left
// untouched; the number of newly stored entries is returned.
func (s *JournalStore) Append(ctx context.Context, entries []reconciliation.JournalEntry) (int, error) {
	const op = "Append"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO journal_entries (
		transaction_id, project_id, amount, matched_amount, match_score, comment, entry_type,
		client_name, debit_account, credit_account, entry_date, run_id, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("%s: prepare: %w", op, err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	inserted := 0
	for _, e := range entries {
		res, err := stmt.ExecContext(ctx,
			e.TransactionID, e.ProjectID, e.Amount.String(), e.MatchedAmount.String(), e.MatchScore,
			e.Comment, string(e.EntryType), e.ClientName, e.DebitAccount, e.CreditAccount,
			e.Date.Format("2006-01-02"), e.RunID, now,
		)
		if err != nil {
			return 0, fmt.Errorf("%s: insert %s/%s: %w", op, e.TransactionID, e.ProjectID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("%s: rows affected: %w", op, err)
		}
		if n == 0 {
			s.log.Info().
				Str("transaction_id", e.TransactionID).
				Str("project_id", e.ProjectID).
				Msg("Journal entry already stored, skipping")
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit: %w", op, err)
	}
	s.log.Info().Int("entries", len(entries)).Int("inserted", inserted).Msg("Journal entries stored")
	return inserted, nil
}

// EntriesForRun returns the entries stored by one run, ordered by key.
func (s *JournalStore) EntriesForRun(ctx context.Context, runID string) ([]reconciliation.JournalEntry, error) {
	const op = "EntriesForRun"

	rows, err := s.db.QueryContext(ctx, `SELECT transaction_id, project_id, amount, matched_amount, match_score,
		comment, entry_type, client_name, debit_account, credit_account, entry_date, run_id
		FROM journal_entries WHERE run_id = ? ORDER BY transaction_id, project_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("%s: query entries: %w", op, err)
	}
	defer rows.Close()

	var entries []reconciliation.JournalEntry
	for rows.Next() {
		var (
			e                     reconciliation.JournalEntry
			amount, matched, date string
			entryType             string
		)
		if err := rows.Scan(&e.TransactionID, &e.ProjectID, &amount, &matched, &e.MatchScore,
			&e.Comment, &entryType, &e.ClientName, &e.DebitAccount, &e.CreditAccount, &date, &e.RunID); err != nil {
			return nil, fmt.Errorf("%s: scan entry: %w", op, err)
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("%s: amount of %s: %w", op, e.TransactionID, err)
		}
		if e.MatchedAmount, err = decimal.NewFromString(matched); err != nil {
			return nil, fmt.Errorf("%s: matched amount of %s: %w", op, e.TransactionID, err)
		}
		if e.Date, err = time.Parse("2006-01-02", date); err != nil {
			return nil, fmt.Errorf("%s: date of %s: %w", op, e.TransactionID, err)
		}
		e.EntryType = reconciliation.EntryType(entryType)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate entries: %w", op, err)
	}
	return entries, nil
}
