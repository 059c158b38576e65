package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wakala/paybytransfer/internal/domain"
)

// ErrAlreadyReviewed is returned when resolving an item that is no longer
// open.
var ErrAlreadyReviewed = errors.New("unmatched transfer already reviewed")

// UnmatchedRepo stores the operator review queue of unclaimed credits.
type UnmatchedRepo struct {
	db *sql.DB
}

func NewUnmatchedRepo(db *sql.DB) *UnmatchedRepo {
	return &UnmatchedRepo{db: db}
}

// Insert queues u. A transfer already queued for the same provider and
// transaction ID is ignored; inserted reports whether a row was added.
func (r *UnmatchedRepo) Insert(u *domain.UnmatchedTransfer) (inserted bool, err error) {
	t := u.Transfer
	if u.Status == "" {
		u.Status = domain.ReviewOpen
	}
	res, err := r.db.Exec(
		`INSERT OR IGNORE INTO unmatched_transfers
		(id, provider, transaction_id, amount, currency, narration, occurred_at,
		 customer_email, account_number, raw, status, resolved_reference, note,
		 detected_at, resolved_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		u.ID, t.Provider, nullable(t.TransactionID), t.Amount, t.Currency, t.Narration,
		formatTime(t.OccurredAt), nullable(t.CustomerEmail), nullable(t.AccountNumber),
		nullable(string(t.Raw)), string(u.Status), nullable(u.ResolvedReference), nullable(u.Note),
		u.DetectedAt.UTC().Format(time.RFC3339), formatNullableTime(u.ResolvedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert unmatched transfer: %w", err)
	}
	ra, _ := res.RowsAffected()
	return ra == 1, nil
}

func (r *UnmatchedRepo) GetByID(id string) (*domain.UnmatchedTransfer, error) {
	rows, err := r.db.Query("SELECT * FROM unmatched_transfers WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items, err := scanUnmatched(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: unmatched transfer %s", domain.ErrNotFound, id)
	}
	return &items[0], nil
}

type UnmatchedFilter struct {
	Status   string
	Provider string
	From     *time.Time
	To       *time.Time
	Page     int
	Limit    int
}

func (r *UnmatchedRepo) List(f UnmatchedFilter) ([]domain.UnmatchedTransfer, int, error) {
	where, args := buildUnmatchedWhere(f)

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM unmatched_transfers"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	q := "SELECT * FROM unmatched_transfers" + where + " ORDER BY detected_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, f.Limit, offset)

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	items, err := scanUnmatched(rows)
	return items, total, err
}

// Resolve closes an open item as paid by the session with the given
// reference.
func (r *UnmatchedRepo) Resolve(id, reference string, at time.Time) error {
	return r.close(id, domain.ReviewResolved, reference, "", at)
}

// Dismiss closes an open item without attributing it to a session.
func (r *UnmatchedRepo) Dismiss(id, note string, at time.Time) error {
	return r.close(id, domain.ReviewDismissed, "", note, at)
}

func (r *UnmatchedRepo) close(id string, status domain.ReviewStatus, reference, note string, at time.Time) error {
	res, err := r.db.Exec(
		`UPDATE unmatched_transfers
		SET status = ?, resolved_reference = ?, note = ?, resolved_at = ?
		WHERE id = ? AND status = ?`,
		string(status), nullable(reference), nullable(note), at.UTC().Format(time.RFC3339),
		id, string(domain.ReviewOpen),
	)
	if err != nil {
		return fmt.Errorf("update unmatched transfer: %w", err)
	}
	if ra, _ := res.RowsAffected(); ra == 1 {
		return nil
	}
	if _, err := r.GetByID(id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrAlreadyReviewed, id)
}

// UnmatchedSummary aggregates the review queue.
type UnmatchedSummary struct {
	TotalCount     int              `json:"total_count"`
	OpenCount      int              `json:"open_count"`
	OpenAmount     int64            `json:"open_amount"`
	ByStatus       map[string]int   `json:"by_status"`
	ByProvider     map[string]int   `json:"by_provider"`
	OpenByProvider map[string]int64 `json:"open_amount_by_provider"`
}

func (r *UnmatchedRepo) GetSummary() (*UnmatchedSummary, error) {
	s := &UnmatchedSummary{
		ByStatus:       make(map[string]int),
		ByProvider:     make(map[string]int),
		OpenByProvider: make(map[string]int64),
	}

	if err := r.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status='open' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status='open' THEN amount ELSE 0 END), 0)
		FROM unmatched_transfers
	`).Scan(&s.TotalCount, &s.OpenCount, &s.OpenAmount); err != nil {
		return nil, err
	}

	if err := scanGroupCount(r.db, "status", s.ByStatus); err != nil {
		return nil, err
	}
	if err := scanGroupCount(r.db, "provider", s.ByProvider); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(
		"SELECT provider, COALESCE(SUM(amount),0) FROM unmatched_transfers WHERE status = 'open' GROUP BY provider",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		var v int64
		if err := rows.Scan(&p, &v); err != nil {
			return nil, err
		}
		s.OpenByProvider[p] = v
	}

	return s, rows.Err()
}

// --- helpers ---

func buildUnmatchedWhere(f UnmatchedFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.Provider != "" {
		clauses = append(clauses, "provider = ?")
		args = append(args, f.Provider)
	}
	if f.From != nil {
		clauses = append(clauses, "detected_at >= ?")
		args = append(args, f.From.UTC().Format(time.RFC3339))
	}
	if f.To != nil {
		clauses = append(clauses, "detected_at <= ?")
		args = append(args, f.To.UTC().Format(time.RFC3339))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanGroupCount(db *sql.DB, col string, m map[string]int) error {
	rows, err := db.Query(
		"SELECT " + col + ", COUNT(*) FROM unmatched_transfers GROUP BY " + col,
	)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var v int
		if err := rows.Scan(&k, &v); err != nil {
			return err
		}
		m[k] = v
	}
	return rows.Err()
}

func scanUnmatched(rows *sql.Rows) ([]domain.UnmatchedTransfer, error) {
	var items []domain.UnmatchedTransfer
	for rows.Next() {
		var u domain.UnmatchedTransfer
		var status, detectedAt string
		var txnID, occurredAt, email, account, raw, resolvedRef, note, resolvedAt sql.NullString

		err := rows.Scan(
			&u.ID, &u.Transfer.Provider, &txnID, &u.Transfer.Amount, &u.Transfer.Currency,
			&u.Transfer.Narration, &occurredAt, &email, &account, &raw, &status,
			&resolvedRef, &note, &detectedAt, &resolvedAt,
		)
		if err != nil {
			return nil, err
		}

		u.Status = domain.ReviewStatus(status)
		u.DetectedAt, _ = time.Parse(time.RFC3339, detectedAt)
		u.Transfer.TransactionID = txnID.String
		u.Transfer.CustomerEmail = email.String
		u.Transfer.AccountNumber = account.String
		u.ResolvedReference = resolvedRef.String
		u.Note = note.String
		if raw.Valid && raw.String != "" {
			u.Transfer.Raw = []byte(raw.String)
		}
		if occurredAt.Valid {
			u.Transfer.OccurredAt, _ = time.Parse(time.RFC3339, occurredAt.String)
		}
		if resolvedAt.Valid {
			t, _ := time.Parse(time.RFC3339, resolvedAt.String)
			u.ResolvedAt = &t
		}

		items = append(items, u)
	}
	return items, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
