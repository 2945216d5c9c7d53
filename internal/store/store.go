package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EmailRecord is the persisted unit: one mirrored mailbox message.
// Records are never mutated after creation.
type EmailRecord struct {
	ID      string
	Date    time.Time
	Sender  string
	Subject string
	Text    string
}

// Store persists email records and answers the two ingestion lookups
// (existing IDs, latest stored date). It does not enforce uniqueness
// beyond the primary key; callers pre-filter by ExistingIDs.
type Store struct {
	db     *sql.DB
	schema string
}

// New wraps an open database handle. schema holds the DDL used by Reset.
func New(db *sql.DB, schema string) *Store {
	return &Store{db: db, schema: schema}
}

// ExistingIDs returns the set of stored message IDs. An absent or
// unreachable store degrades to the empty set so ingestion treats
// everything as new instead of halting.
func (s *Store) ExistingIDs(ctx context.Context) map[string]struct{} {
	ids := make(map[string]struct{})
	if s == nil || s.db == nil {
		return ids
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM emails`)
	if err != nil {
		return ids
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids[id] = struct{}{}
	}
	return ids
}

// LatestDate returns the maximum stored date minus one day, formatted as a
// Gmail after: bound (YYYY/MM/DD). The one-day overlap tolerates clock and
// timezone skew at the fetch boundary; re-fetched messages are removed by
// ID dedup. Returns false when the store is empty or unreachable.
func (s *Store) LatestDate(ctx context.Context) (string, bool) {
	if s == nil || s.db == nil {
		return "", false
	}
	var latest sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(date) FROM emails`).Scan(&latest); err != nil {
		return "", false
	}
	if !latest.Valid || latest.String == "" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339, latest.String)
	if err != nil {
		return "", false
	}
	return t.UTC().AddDate(0, 0, -1).Format("2006/01/02"), true
}

// Append inserts records, normalizing all dates to UTC first. No-op on an
// empty set. Returns the number of rows written.
func (s *Store) Append(ctx context.Context, records []EmailRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO emails (id, date, sender, subject, text)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, r.Date.UTC().Format(time.RFC3339), r.Sender, r.Subject, r.Text); err != nil {
			return written, fmt.Errorf("insert email %s: %w", r.ID, err)
		}
		written++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return written, nil
}

// Query executes a planned SELECT over the emails table and scans the
// full rows in statement order.
func (s *Store) Query(ctx context.Context, query string) ([]EmailRecord, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute plan: %w", err)
	}
	defer rows.Close()

	var records []EmailRecord
	for rows.Next() {
		var r EmailRecord
		var date string
		if err := rows.Scan(&r.ID, &date, &r.Sender, &r.Subject, &r.Text); err != nil {
			return nil, fmt.Errorf("scan email row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, date); err == nil {
			r.Date = t
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Count returns the number of stored emails.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count emails: %w", err)
	}
	return n, nil
}

// Reset drops the email and retrieval-log tables and recreates the schema.
func (s *Store) Reset(ctx context.Context) error {
	for _, stmt := range []string{
		`DROP TABLE IF EXISTS emails`,
		`DROP TABLE IF EXISTS retrieval_log`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset store: %w", err)
		}
	}
	if s.schema != "" {
		if _, err := s.db.ExecContext(ctx, s.schema); err != nil {
			return fmt.Errorf("recreate schema: %w", err)
		}
	}
	return nil
}

// LogRetrieval records an answered question. Best-effort: failures are
// ignored so logging can never break the ask loop.
func (s *Store) LogRetrieval(ctx context.Context, question, planSQL string, rowsMatched int, reranked bool) {
	if s == nil || s.db == nil {
		return
	}
	rerankedInt := 0
	if reranked {
		rerankedInt = 1
	}
	_, _ = s.db.ExecContext(ctx, `
		INSERT INTO retrieval_log (id, question, plan_sql, rows_matched, reranked, asked_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), question, planSQL, rowsMatched, rerankedInt, time.Now().Unix())
}
