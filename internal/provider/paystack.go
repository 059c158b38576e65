package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/wakala/paybytransfer/internal/banks"
	"github.com/wakala/paybytransfer/internal/domain"
)

const (
	PaystackBaseURL         = "https://api.paystack.co"
	PaystackSignatureHeader = "x-paystack-signature"
	paystackChargeSuccess   = "charge.success"
	defaultPreferredBank    = "wema-bank"
)

// Paystack issues a dedicated virtual account per session.
type Paystack struct {
	secretKey     string
	preferredBank string
	client        *apiClient
	processed     *processedCache
}

func NewPaystack(cfg Config) (*Paystack, error) {
	if cfg.APIKey == "" {
		return nil, domain.NewValidationError("api_key", "paystack API key is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = PaystackBaseURL
	}
	bank := cfg.PreferredBank
	if bank == "" {
		bank = defaultPreferredBank
	}
	return &Paystack{
		secretKey:     cfg.APIKey,
		preferredBank: bank,
		client:        newAPIClient(base, cfg.Timeout, map[string]string{"Authorization": "Bearer " + cfg.APIKey}),
		processed:     newProcessedCache(processedCacheLimit),
	}, nil
}

func (p *Paystack) Name() string            { return string(KindPaystack) }
func (p *Paystack) SignatureHeader() string { return PaystackSignatureHeader }

type paystackCustomer struct {
	ID           int64  `json:"id"`
	CustomerCode string `json:"customer_code"`
	Email        string `json:"email"`
}

type paystackDedicatedAccount struct {
	ID            int64  `json:"id"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	Bank          struct {
		Name string `json:"name"`
		Code string `json:"code"`
		Slug string `json:"slug"`
	} `json:"bank"`
}

// CreateSession creates a Paystack customer and assigns it a dedicated
// virtual account.
func (p *Paystack) CreateSession(ctx context.Context, req domain.SessionRequest) (domain.Destination, error) {
	email := req.CustomerEmail
	if email == "" {
		email = fmt.Sprintf("customer_%s@temp.com", req.Reference)
	}
	lastName := req.Reference
	if len(lastName) > 10 {
		lastName = lastName[:10]
	}
	customerBody := map[string]string{
		"email":      email,
		"first_name": metadataString(req.Metadata, "firstName", "Customer"),
		"last_name":  metadataString(req.Metadata, "lastName", lastName),
	}

	var customerResp struct {
		Data paystackCustomer `json:"data"`
	}
	if err := p.client.post(ctx, "/customer", customerBody, &customerResp); err != nil {
		return domain.Destination{}, domain.NewProviderError(p.Name(), "create customer", err)
	}
	customer := customerResp.Data

	var accountResp struct {
		Data paystackDedicatedAccount `json:"data"`
	}
	accountBody := map[string]string{
		"customer":       customer.CustomerCode,
		"preferred_bank": p.preferredBank,
	}
	if err := p.client.post(ctx, "/dedicated_account", accountBody, &accountResp); err != nil {
		return domain.Destination{}, domain.NewProviderError(p.Name(), "create dedicated account", err)
	}
	acct := accountResp.Data

	code := acct.Bank.Code
	if code == "" {
		code = banks.Resolve(acct.Bank.Name)
	}
	return domain.Destination{
		AccountNumber:     acct.AccountNumber,
		AccountName:       acct.AccountName,
		BankName:          acct.Bank.Name,
		BankCode:          code,
		ProviderReference: customer.CustomerCode,
		ProviderData: map[string]any{
			"customer_id":        customer.ID,
			"account_id":         acct.ID,
			"original_reference": req.Reference,
		},
	}, nil
}

type paystackTransaction struct {
	ID        int64  `json:"id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	PaidAt    string `json:"paid_at"`
	CreatedAt string `json:"created_at"`
	Channel   string `json:"channel"`
	Customer  *struct {
		Email        string `json:"email"`
		CustomerCode string `json:"customer_code"`
	} `json:"customer"`
	Authorization *struct {
		Narration                 string `json:"narration"`
		ReceiverBankAccountNumber string `json:"receiver_bank_account_number"`
	} `json:"authorization"`
}

// Verify looks the reference up on Paystack. Unknown references are simply
// not settled.
func (p *Paystack) Verify(ctx context.Context, reference string) (domain.Verification, error) {
	var resp struct {
		Data paystackTransaction `json:"data"`
	}
	err := p.client.get(ctx, "/transaction/verify/"+url.PathEscape(reference), nil, &resp)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && (se.StatusCode == http.StatusNotFound || se.StatusCode == http.StatusBadRequest) {
			return domain.Verification{}, nil
		}
		return domain.Verification{}, domain.NewProviderError(p.Name(), "verify transaction", err)
	}
	if resp.Data.Status != "success" {
		return domain.Verification{}, nil
	}
	return domain.Verification{
		Settled:       true,
		TransactionID: strconv.FormatInt(resp.Data.ID, 10),
		SettledAt:     parseTimestamp(resp.Data.PaidAt),
	}, nil
}

type paystackWebhook struct {
	Event string              `json:"event"`
	Data  paystackTransaction `json:"data"`
}

// NormalizeWebhook converts charge.success events. Every other event type
// (assignment notices, outgoing transfers) is not a credit and yields nil.
func (p *Paystack) NormalizeWebhook(payload []byte) (*domain.TransferEvent, error) {
	var hook paystackWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return nil, domain.NewValidationError("body", fmt.Sprintf("invalid paystack payload: %v", err))
	}
	if hook.Event != paystackChargeSuccess || hook.Data.Amount <= 0 {
		return nil, nil
	}

	d := hook.Data
	txnID := ""
	if d.ID != 0 {
		txnID = strconv.FormatInt(d.ID, 10)
	}
	if !p.processed.firstSeen(txnID) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyProcessed, txnID)
	}

	var narration []string
	evt := &domain.TransferEvent{
		Provider:      p.Name(),
		TransactionID: txnID,
		Amount:        d.Amount,
		Currency:      d.Currency,
		Raw:           rawData(payload),
	}
	if evt.Currency == "" {
		evt.Currency = "NGN"
	}
	if d.Authorization != nil {
		if d.Authorization.Narration != "" {
			narration = append(narration, d.Authorization.Narration)
		}
		evt.AccountNumber = d.Authorization.ReceiverBankAccountNumber
	}
	if d.Reference != "" {
		narration = append(narration, d.Reference)
	}
	evt.Narration = strings.Join(narration, " ")
	if d.Customer != nil {
		evt.CustomerEmail = d.Customer.Email
	}
	evt.OccurredAt = parseTimestamp(d.PaidAt)
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = parseTimestamp(d.CreatedAt)
	}
	return evt, nil
}

func (p *Paystack) VerifyWebhookSignature(signature string, payload []byte) bool {
	return VerifySignature(signature, payload, p.secretKey, SHA512)
}

// --- helpers ---

func metadataString(md map[string]any, key, def string) string {
	if v, ok := md[key].(string); ok && v != "" {
		return v
	}
	return def
}

// rawData keeps the "data" object of a webhook for audit, falling back to
// the whole payload.
func rawData(payload []byte) json.RawMessage {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err == nil && len(envelope.Data) > 0 {
		return envelope.Data
	}
	return json.RawMessage(payload)
}
