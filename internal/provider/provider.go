// Package provider abstracts the settlement sources that can tell us a bank
// transfer arrived: manual operator confirmation, an account-monitoring API
// (Mono) and a virtual-account gateway (Paystack).
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wakala/paybytransfer/internal/banks"
	"github.com/wakala/paybytransfer/internal/domain"
)

type Kind string

const (
	KindManual   Kind = "manual"
	KindMono     Kind = "mono"
	KindPaystack Kind = "paystack"
)

// ErrAlreadyProcessed is returned by NormalizeWebhook for a credit the
// normalizer has already turned into an event.
var ErrAlreadyProcessed = errors.New("transaction already processed")

// DefaultTimeout bounds every upstream HTTP call.
const DefaultTimeout = 30 * time.Second

// Provider is the capability set every settlement source implements.
type Provider interface {
	Name() string

	// SignatureHeader is the request header carrying the webhook HMAC.
	SignatureHeader() string

	// CreateSession returns the account the customer should pay into.
	CreateSession(ctx context.Context, req domain.SessionRequest) (domain.Destination, error)

	// Verify asks the source whether reference has been paid. An unpaid
	// reference is Settled=false with a nil error.
	Verify(ctx context.Context, reference string) (domain.Verification, error)

	// NormalizeWebhook converts a raw payload into a transfer event. It
	// returns nil, nil for payloads that are not credits and
	// ErrAlreadyProcessed for a redelivered credit.
	NormalizeWebhook(payload []byte) (*domain.TransferEvent, error)

	// VerifyWebhookSignature reports whether signature authenticates
	// payload. It never panics on malformed input.
	VerifyWebhookSignature(signature string, payload []byte) bool
}

// Account is a static receiving bank account.
type Account struct {
	Number   string `yaml:"number" json:"number"`
	Name     string `yaml:"name" json:"name"`
	Bank     string `yaml:"bank" json:"bank"`
	BankCode string `yaml:"bank_code,omitempty" json:"bank_code,omitempty"`
}

// Destination renders the account, resolving the bank code from the bank
// name when it was not configured.
func (a Account) Destination() domain.Destination {
	code := a.BankCode
	if code == "" {
		code = banks.Resolve(a.Bank)
	}
	return domain.Destination{
		AccountNumber: a.Number,
		AccountName:   a.Name,
		BankName:      a.Bank,
		BankCode:      code,
	}
}

// Config selects and configures one provider.
type Config struct {
	Kind          Kind
	APIKey        string
	WebhookSecret string
	Account       *Account
	BaseURL       string
	AccountID     string
	PreferredBank string
	Timeout       time.Duration
}

// New builds the provider named by cfg.Kind. With no kind but a static
// account, the manual provider is used.
func New(cfg Config) (Provider, error) {
	kind := cfg.Kind
	if kind == "" && cfg.Account != nil {
		kind = KindManual
	}
	var (
		p   Provider
		err error
	)
	switch kind {
	case KindManual:
		p, err = NewManual(cfg)
	case KindMono:
		p, err = NewMono(cfg)
	case KindPaystack:
		p, err = NewPaystack(cfg)
	case "":
		return nil, domain.NewValidationError("provider", "either provider or account must be specified")
	default:
		return nil, domain.NewValidationError("provider", fmt.Sprintf("unknown provider: %s", kind))
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}
