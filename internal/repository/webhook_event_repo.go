package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// WebhookEventRepo is the durable de-duplication ledger for ingested
// transfers. A (source, transaction_id) pair is accepted once.
type WebhookEventRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewWebhookEventRepo(db *sql.DB) *WebhookEventRepo {
	return &WebhookEventRepo{db: db, now: time.Now}
}

// MarkSeen records the pair and reports whether it was new (idempotency
// check).
func (r *WebhookEventRepo) MarkSeen(ctx context.Context, source, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO webhook_events (source, transaction_id, received_at) VALUES (?,?,?)`,
		source, id, r.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	ra, _ := res.RowsAffected()
	return ra == 1, nil
}

// Forget deletes the pair so the next delivery is treated as new.
func (r *WebhookEventRepo) Forget(ctx context.Context, source, id string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM webhook_events WHERE source = ? AND transaction_id = ?", source, id,
	)
	if err != nil {
		return fmt.Errorf("forget webhook event: %w", err)
	}
	return nil
}

// Exists reports whether the pair has already been recorded.
func (r *WebhookEventRepo) Exists(source, id string) (bool, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM webhook_events WHERE source = ? AND transaction_id = ?", source, id,
	).Scan(&count)
	return count > 0, err
}

// CountBySource returns how many events each source has delivered.
func (r *WebhookEventRepo) CountBySource() (map[string]int, error) {
	rows, err := r.db.Query("SELECT source, COUNT(*) FROM webhook_events GROUP BY source")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var src string
		var n int
		if err := rows.Scan(&src, &n); err != nil {
			return nil, err
		}
		counts[src] = n
	}
	return counts, rows.Err()
}

// PurgeBefore forgets events received before cutoff.
func (r *WebhookEventRepo) PurgeBefore(cutoff time.Time) (int, error) {
	res, err := r.db.Exec(
		"DELETE FROM webhook_events WHERE received_at < ?", cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
