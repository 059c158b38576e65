package domain

import (
	"net/mail"
	"regexp"
	"time"
)

type SessionStatus string

const (
	StatusPending   SessionStatus = "pending"
	StatusConfirmed SessionStatus = "confirmed"
	StatusExpired   SessionStatus = "expired"
	StatusRejected  SessionStatus = "rejected"
)

// Terminal reports whether the status can no longer change.
func (s SessionStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusExpired || s == StatusRejected
}

// Valid reports whether s is one of the known statuses.
func (s SessionStatus) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// Destination is where the customer is told to send money.
type Destination struct {
	AccountNumber     string         `json:"account_number"`
	AccountName       string         `json:"account_name"`
	BankName          string         `json:"bank_name"`
	BankCode          string         `json:"bank_code"`
	ProviderReference string         `json:"provider_reference,omitempty"`
	ProviderData      map[string]any `json:"provider_data,omitempty"`
}

// Session is a pending expectation of an incoming bank transfer, keyed by
// a reference that is unique for the lifetime of the store.
type Session struct {
	Reference       string         `json:"reference"`
	Amount          int64          `json:"amount"`
	CustomerEmail   string         `json:"customer_email,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Status          SessionStatus  `json:"status"`
	Provider        string         `json:"provider"`
	Destination     Destination    `json:"destination"`
	CreatedAt       time.Time      `json:"created_at"`
	ExpiresAt       time.Time      `json:"expires_at"`
	PaidAt          *time.Time     `json:"paid_at,omitempty"`
	TransactionID   string         `json:"transaction_id,omitempty"`
	RejectedAt      *time.Time     `json:"rejected_at,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
}

// Clone returns a copy that shares no mutable state with s.
func (s Session) Clone() Session {
	out := s
	out.Metadata = cloneMap(s.Metadata)
	out.Destination.ProviderData = cloneMap(s.Destination.ProviderData)
	if s.PaidAt != nil {
		t := *s.PaidAt
		out.PaidAt = &t
	}
	if s.RejectedAt != nil {
		t := *s.RejectedAt
		out.RejectedAt = &t
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var referencePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,100}$`)

// ValidReference reports whether ref is an acceptable session reference.
func ValidReference(ref string) bool {
	return referencePattern.MatchString(ref)
}

// SessionRequest is what a caller supplies to open a session.
type SessionRequest struct {
	Amount        int64          `json:"amount"`
	Reference     string         `json:"reference"`
	CustomerEmail string         `json:"customer_email,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Validate checks every field and returns all failures joined.
func (r SessionRequest) Validate() error {
	var errs []error
	if r.Amount <= 0 {
		errs = append(errs, NewValidationError("amount", "must be positive"))
	}
	switch {
	case r.Reference == "":
		errs = append(errs, NewValidationError("reference", "is required"))
	case !ValidReference(r.Reference):
		errs = append(errs, NewValidationError("reference",
			"must be 3-100 characters of letters, numbers, hyphens and underscores"))
	}
	if r.CustomerEmail != "" {
		if _, err := mail.ParseAddress(r.CustomerEmail); err != nil {
			errs = append(errs, NewValidationError("customer_email", "invalid email address"))
		}
	}
	return joinValidation(errs)
}
