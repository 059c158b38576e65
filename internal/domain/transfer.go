package domain

import (
	"encoding/json"
	"time"
)

// TransferEvent is a bank credit normalized away from the provider that
// reported it.
type TransferEvent struct {
	Provider      string          `json:"provider"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Amount        int64           `json:"amount"`
	Currency      string          `json:"currency,omitempty"`
	Narration     string          `json:"narration"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CustomerEmail string          `json:"customer_email,omitempty"`
	AccountNumber string          `json:"account_number,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// Verification is a provider's answer to "has this reference been paid?".
type Verification struct {
	Settled       bool      `json:"settled"`
	TransactionID string    `json:"transaction_id,omitempty"`
	SettledAt     time.Time `json:"settled_at,omitempty"`
}

// Candidate is a pending session ranked against a transfer for manual review.
type Candidate struct {
	Session    Session `json:"session"`
	Confidence float64 `json:"confidence"`
}

// Stats summarises the store by status.
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Confirmed       int   `json:"confirmed"`
	Expired         int   `json:"expired"`
	Rejected        int   `json:"rejected"`
	PendingAmount   int64 `json:"pending_amount"`
	ConfirmedAmount int64 `json:"confirmed_amount"`
	TotalAmount     int64 `json:"total_amount"`
}
