package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/wakala/paybytransfer/internal/currency"
	"github.com/wakala/paybytransfer/internal/domain"
)

const (
	MonoBaseURL         = "https://api.withmono.com"
	MonoSignatureHeader = "mono-webhook-signature"
	monoAccountUpdated  = "mono.events.account_updated"
	monoRecentLimit     = 50
	processedCacheLimit = 1000
)

// Mono monitors one shared bank account through the Mono aggregation API.
// Every session points at the same account, so settlement is attributed by
// the matching engine.
type Mono struct {
	account   Account
	accountID string
	secret    string
	client    *apiClient
	processed *processedCache
}

func NewMono(cfg Config) (*Mono, error) {
	if cfg.APIKey == "" {
		return nil, domain.NewValidationError("api_key", "mono API key is required")
	}
	if cfg.Account == nil {
		return nil, domain.NewValidationError("account", "bank account details are required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = MonoBaseURL
	}
	secret := cfg.WebhookSecret
	if secret == "" {
		secret = cfg.APIKey
	}
	return &Mono{
		account:   *cfg.Account,
		accountID: cfg.AccountID,
		secret:    secret,
		client:    newAPIClient(base, cfg.Timeout, map[string]string{"mono-sec-key": cfg.APIKey}),
		processed: newProcessedCache(processedCacheLimit),
	}, nil
}

func (m *Mono) Name() string            { return string(KindMono) }
func (m *Mono) SignatureHeader() string { return MonoSignatureHeader }

// CreateSession returns the monitored account; Mono issues nothing per session.
func (m *Mono) CreateSession(_ context.Context, _ domain.SessionRequest) (domain.Destination, error) {
	return m.account.Destination(), nil
}

// MonoTransaction is one account transaction as Mono reports it. Amounts
// are in major units.
type MonoTransaction struct {
	ID        string  `json:"_id"`
	Type      string  `json:"type"`
	Amount    float64 `json:"amount"`
	Narration string  `json:"narration"`
	Date      string  `json:"date"`
	Currency  string  `json:"currency"`
}

// Verify scans recent credits for one whose narration carries reference.
func (m *Mono) Verify(ctx context.Context, reference string) (domain.Verification, error) {
	credits, err := m.RecentCredits(ctx, monoRecentLimit)
	if err != nil {
		return domain.Verification{}, err
	}
	ref := strings.ToLower(reference)
	for _, txn := range credits {
		if strings.Contains(strings.ToLower(txn.Narration), ref) {
			return domain.Verification{
				Settled:       true,
				TransactionID: txn.ID,
				SettledAt:     parseTimestamp(txn.Date),
			}, nil
		}
	}
	return domain.Verification{}, nil
}

// RecentCredits fetches the latest credit transactions on the account.
func (m *Mono) RecentCredits(ctx context.Context, limit int) ([]MonoTransaction, error) {
	path := "/transactions"
	if m.accountID != "" {
		path = "/accounts/" + url.PathEscape(m.accountID) + "/transactions"
	}
	var resp struct {
		Data []MonoTransaction `json:"data"`
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := m.client.get(ctx, path, q, &resp); err != nil {
		return nil, domain.NewProviderError(m.Name(), "fetch transactions", err)
	}
	credits := resp.Data[:0]
	for _, t := range resp.Data {
		if t.Type == "credit" {
			credits = append(credits, t)
		}
	}
	return credits, nil
}

type monoWebhook struct {
	Type string `json:"type"`
	Data struct {
		Account *struct {
			ID           string            `json:"_id"`
			Transactions []MonoTransaction `json:"transactions"`
		} `json:"account"`
	} `json:"data"`
}

// NormalizeWebhook turns the newest credit of an account_updated event into
// a transfer event. Credits already seen are dropped.
func (m *Mono) NormalizeWebhook(payload []byte) (*domain.TransferEvent, error) {
	var hook monoWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, domain.NewValidationError("body", fmt.Sprintf("invalid mono payload: %v", err))
	}
	if hook.Type != monoAccountUpdated || hook.Data.Account == nil {
		return nil, nil
	}

	var latest *MonoTransaction
	for i := range hook.Data.Account.Transactions {
		if hook.Data.Account.Transactions[i].Type == "credit" {
			latest = &hook.Data.Account.Transactions[i]
			break
		}
	}
	if latest == nil {
		return nil, nil
	}
	if !m.processed.firstSeen(latest.ID) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyProcessed, latest.ID)
	}

	code := latest.Currency
	if code == "" {
		code = "NGN"
	}
	amount, err := currency.ToMinor(math.Abs(latest.Amount), code)
	if err != nil {
		return nil, domain.NewValidationError("amount", err.Error())
	}
	if amount <= 0 {
		return nil, nil
	}
	raw, _ := json.Marshal(latest)

	return &domain.TransferEvent{
		Provider:      m.Name(),
		TransactionID: latest.ID,
		Amount:        amount,
		Currency:      code,
		Narration:     latest.Narration,
		OccurredAt:    parseTimestamp(latest.Date),
		AccountNumber: m.account.Number,
		Raw:           raw,
	}, nil
}

func (m *Mono) VerifyWebhookSignature(signature string, payload []byte) bool {
	return VerifySignature(signature, payload, m.secret, SHA256)
}
