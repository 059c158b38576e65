package domain

import "time"

type ReviewStatus string

const (
	ReviewOpen      ReviewStatus = "open"
	ReviewResolved  ReviewStatus = "resolved"
	ReviewDismissed ReviewStatus = "dismissed"
)

// UnmatchedTransfer is a credit no session claimed, queued for an operator.
type UnmatchedTransfer struct {
	ID                string        `json:"id"`
	Transfer          TransferEvent `json:"transfer"`
	Status            ReviewStatus  `json:"status"`
	ResolvedReference string        `json:"resolved_reference,omitempty"`
	Note              string        `json:"note,omitempty"`
	DetectedAt        time.Time     `json:"detected_at"`
	ResolvedAt        *time.Time    `json:"resolved_at,omitempty"`
}

// JournalEntry is one lifecycle event as recorded in the audit journal.
type JournalEntry struct {
	ID            int64     `json:"id"`
	Signal        string    `json:"signal"`
	Reference     string    `json:"reference,omitempty"`
	Status        string    `json:"status,omitempty"`
	Amount        int64     `json:"amount"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	At            time.Time `json:"at"`
}
