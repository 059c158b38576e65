package repository

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/wakala/paybytransfer/internal/domain"
)

// JournalRepo is an append-only audit trail of session lifecycle events.
// Sessions themselves live in memory; the journal survives restarts.
type JournalRepo struct {
	db *sql.DB
}

func NewJournalRepo(db *sql.DB) *JournalRepo {
	return &JournalRepo{db: db}
}

func (r *JournalRepo) Append(e *domain.JournalEntry) error {
	res, err := r.db.Exec(
		`INSERT INTO session_journal (signal, reference, status, amount, transaction_id, detail, at)
		VALUES (?,?,?,?,?,?,?)`,
		e.Signal, nullable(e.Reference), nullable(e.Status), e.Amount,
		nullable(e.TransactionID), nullable(e.Detail), e.At.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

func (r *JournalRepo) Count() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM session_journal").Scan(&count)
	return count, err
}

// ByReference returns every entry for a session, oldest first.
func (r *JournalRepo) ByReference(reference string) ([]domain.JournalEntry, error) {
	rows, err := r.db.Query(
		"SELECT * FROM session_journal WHERE reference = ? ORDER BY id", reference,
	)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return scanJournal(rows)
}

type JournalFilter struct {
	Signal string
	From   *time.Time
	To     *time.Time
	Page   int
	Limit  int
}

func (r *JournalRepo) List(f JournalFilter) ([]domain.JournalEntry, int, error) {
	where, args := buildJournalWhere(f)

	var total int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM session_journal"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.Limit

	q := "SELECT * FROM session_journal" + where + " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, offset)

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	entries, err := scanJournal(rows)
	return entries, total, err
}

// --- helpers ---

func buildJournalWhere(f JournalFilter) (string, []any) {
	var clauses []string
	var args []any

	if f.Signal != "" {
		clauses = append(clauses, "signal = ?")
		args = append(args, f.Signal)
	}
	if f.From != nil {
		clauses = append(clauses, "at >= ?")
		args = append(args, f.From.UTC().Format(time.RFC3339))
	}
	if f.To != nil {
		clauses = append(clauses, "at <= ?")
		args = append(args, f.To.UTC().Format(time.RFC3339))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanJournal(rows *sql.Rows) ([]domain.JournalEntry, error) {
	var entries []domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
		var at string
		var ref, status, txnID, detail sql.NullString

		if err := rows.Scan(&e.ID, &e.Signal, &ref, &status, &e.Amount, &txnID, &detail, &at); err != nil {
			return nil, err
		}
		e.Reference = ref.String
		e.Status = status.String
		e.TransactionID = txnID.String
		e.Detail = detail.String
		e.At, _ = time.Parse(time.RFC3339, at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
