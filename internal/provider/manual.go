package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wakala/paybytransfer/internal/domain"
)

// ManualSignatureHeader carries the HMAC-SHA512 of generic bank-alert
// webhooks forwarded to the manual provider.
const ManualSignatureHeader = "x-webhook-signature"

// Manual hands out a static account and leaves confirmation to an operator.
// It performs no network I/O.
//
// When a webhook secret is configured it also accepts signed, already
// canonical transfer notifications (for example from a bank-alert
// forwarder).
type Manual struct {
	account Account
	secret  string
}

func NewManual(cfg Config) (*Manual, error) {
	if cfg.Account == nil {
		return nil, domain.NewValidationError("account", "bank account details are required for manual provider")
	}
	return &Manual{account: *cfg.Account, secret: cfg.WebhookSecret}, nil
}

func (m *Manual) Name() string            { return string(KindManual) }
func (m *Manual) SignatureHeader() string { return ManualSignatureHeader }

func (m *Manual) CreateSession(_ context.Context, _ domain.SessionRequest) (domain.Destination, error) {
	return m.account.Destination(), nil
}

// Verify never reports settlement: manual sessions are confirmed explicitly.
func (m *Manual) Verify(_ context.Context, _ string) (domain.Verification, error) {
	return domain.Verification{}, nil
}

// manualTransfer is the canonical JSON a forwarder posts.
type manualTransfer struct {
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Narration     string `json:"narration"`
	OccurredAt    string `json:"occurred_at"`
	Date          string `json:"date"`
	CustomerEmail string `json:"customer_email"`
	AccountNumber string `json:"account_number"`
}

func (m *Manual) NormalizeWebhook(payload []byte) (*domain.TransferEvent, error) {
	var in manualTransfer
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, domain.NewValidationError("body", fmt.Sprintf("invalid transfer payload: %v", err))
	}
	if in.Amount <= 0 {
		return nil, nil
	}
	occurred := in.OccurredAt
	if occurred == "" {
		occurred = in.Date
	}
	currency := in.Currency
	if currency == "" {
		currency = "NGN"
	}
	return &domain.TransferEvent{
		Provider:      m.Name(),
		TransactionID: in.TransactionID,
		Amount:        in.Amount,
		Currency:      currency,
		Narration:     in.Narration,
		OccurredAt:    parseTimestamp(occurred),
		CustomerEmail: in.CustomerEmail,
		AccountNumber: in.AccountNumber,
		Raw:           json.RawMessage(payload),
	}, nil
}

func (m *Manual) VerifyWebhookSignature(signature string, payload []byte) bool {
	return VerifySignature(signature, payload, m.secret, SHA512)
}
