// Package reconciliation ties the session store, the matching engine, the
// configured provider and the event bus into the operations callers use.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/wakala/paybytransfer/internal/domain"
	"github.com/wakala/paybytransfer/internal/events"
	"github.com/wakala/paybytransfer/internal/matching"
	"github.com/wakala/paybytransfer/internal/provider"
	"github.com/wakala/paybytransfer/internal/session"
)

const (
	DefaultSessionTimeout = time.Hour
	MinSessionTimeout     = 5 * time.Minute
	MaxSessionTimeout     = 24 * time.Hour
)

// Service performs session lifecycle operations and reconciles incoming
// transfers against pending sessions.
type Service struct {
	provider provider.Provider
	store    *session.Store
	engine   *matching.Engine
	bus      *events.Bus
	timeout  time.Duration
	now      func() time.Time
}

// NewService creates a new reconciliation service. A zero sessionTimeout
// means DefaultSessionTimeout.
func NewService(
	p provider.Provider,
	store *session.Store,
	engine *matching.Engine,
	bus *events.Bus,
	sessionTimeout time.Duration,
) *Service {
	if sessionTimeout <= 0 {
		sessionTimeout = DefaultSessionTimeout
	}
	return &Service{
		provider: p,
		store:    store,
		engine:   engine,
		bus:      bus,
		timeout:  sessionTimeout,
		now:      time.Now,
	}
}

// WithClock replaces the wall clock used for session timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Provider() provider.Provider { return s.provider }
func (s *Service) Bus() *events.Bus            { return s.bus }
func (s *Service) Now() time.Time              { return s.now() }

// CreateSession validates req, asks the provider for a destination account
// and stores a new pending session.
func (s *Service) CreateSession(ctx context.Context, req domain.SessionRequest) (domain.Session, error) {
	if err := req.Validate(); err != nil {
		return domain.Session{}, s.fail(err)
	}
	if err := s.store.Reserve(req.Reference); err != nil {
		return domain.Session{}, s.fail(err)
	}

	dest, err := s.provider.CreateSession(ctx, req)
	if err != nil {
		s.store.Release(req.Reference)
		if !errors.Is(err, domain.ErrProvider) {
			err = domain.NewProviderError(s.provider.Name(), "create session", err)
		}
		return domain.Session{}, s.fail(err)
	}

	now := s.now()
	sess := domain.Session{
		Reference:     req.Reference,
		Amount:        req.Amount,
		CustomerEmail: req.CustomerEmail,
		Metadata:      req.Metadata,
		Status:        domain.StatusPending,
		Provider:      s.provider.Name(),
		Destination:   dest,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.timeout),
	}
	if err := s.store.Insert(sess); err != nil {
		s.store.Release(req.Reference)
		return domain.Session{}, s.fail(err)
	}

	log.Printf("[reconciliation] Created session %s for %d via %s (expires %s)",
		sess.Reference, sess.Amount, sess.Provider, sess.ExpiresAt.Format(time.RFC3339))
	s.bus.PublishSession(events.SessionCreated, sess)
	return sess.Clone(), nil
}

// CheckStatus returns the session, expiring it first when it is pending and
// past its expiry.
func (s *Service) CheckStatus(reference string) (domain.Session, error) {
	sess, changed, err := s.store.ExpireIfDue(reference, s.now())
	if err != nil {
		return domain.Session{}, err
	}
	if changed {
		log.Printf("[reconciliation] Session %s expired", reference)
		s.bus.PublishSession(events.PaymentExpired, sess)
	}
	return sess, nil
}

// Verify asks the provider whether a pending session has been paid and
// confirms it when it has. Sessions that are no longer pending are returned
// unchanged.
func (s *Service) Verify(ctx context.Context, reference string) (domain.Session, error) {
	sess, err := s.CheckStatus(reference)
	if err != nil {
		return domain.Session{}, s.fail(err)
	}
	if sess.Status != domain.StatusPending {
		return sess, nil
	}

	v, err := s.provider.Verify(ctx, reference)
	if err != nil {
		if !errors.Is(err, domain.ErrProvider) {
			err = domain.NewProviderError(s.provider.Name(), "verify", err)
		}
		return sess, s.fail(err)
	}
	if !v.Settled {
		return sess, nil
	}

	txnID := v.TransactionID
	if txnID == "" {
		txnID = "VERIFY_" + uuid.NewString()
	}
	return s.Confirm(reference, txnID, v.SettledAt)
}

// Confirm marks a pending session paid. An empty transactionID gets a
// generated manual ID and a zero paidAt means now. Confirming a confirmed
// session again returns it unchanged.
func (s *Service) Confirm(reference, transactionID string, paidAt time.Time) (domain.Session, error) {
	if transactionID == "" {
		transactionID = "MAN_" + uuid.NewString()
	}
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	sess, changed, err := s.store.Confirm(reference, transactionID, paidAt)
	if err != nil {
		return sess, s.fail(err)
	}
	if changed {
		log.Printf("[reconciliation] Confirmed %s with transaction %s", reference, transactionID)
		s.bus.PublishSession(events.PaymentConfirmed, sess)
	}
	return sess, nil
}

// Reject cancels a pending session. An overdue session is expired first and
// can no longer be rejected.
func (s *Service) Reject(reference, reason string) (domain.Session, error) {
	if _, err := s.CheckStatus(reference); err != nil {
		return domain.Session{}, s.fail(err)
	}
	sess, changed, err := s.store.Reject(reference, reason, s.now())
	if err != nil {
		return sess, s.fail(err)
	}
	if changed {
		log.Printf("[reconciliation] Rejected %s: %s", reference, reason)
	}
	return sess, nil
}

// SweepExpired expires every pending session whose expiry is before now and
// returns how many it changed.
func (s *Service) SweepExpired(now time.Time) int {
	swept := s.store.SweepExpired(now)
	for _, sess := range swept {
		s.bus.PublishSession(events.PaymentExpired, sess)
	}
	if len(swept) > 0 {
		log.Printf("[reconciliation] Swept %d expired sessions", len(swept))
	}
	return len(swept)
}

// Reconcile matches a transfer against the pending sessions and confirms the
// winner. It returns nil with a nil error when nothing matched, after
// publishing payment.unmatched.
func (s *Service) Reconcile(evt domain.TransferEvent) (*domain.Session, error) {
	if evt.Amount <= 0 {
		return nil, s.fail(domain.NewValidationError("amount", "transfer amount must be positive"))
	}

	match := s.engine.Match(evt, s.store.Pending())
	if match == nil {
		log.Printf("[reconciliation] No session matched transfer %s (%d, %q)",
			evt.TransactionID, evt.Amount, evt.Narration)
		s.bus.PublishUnmatched(evt)
		return nil, nil
	}

	txnID := evt.TransactionID
	if txnID == "" {
		txnID = "TRF_" + uuid.NewString()
	}
	paidAt := evt.OccurredAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}

	sess, changed, err := s.store.Confirm(match.Reference, txnID, paidAt)
	if err != nil {
		log.Printf("[reconciliation] WARNING: matched %s but confirm failed: %v", match.Reference, err)
		s.bus.PublishError(fmt.Errorf("confirm matched session: %w", err))
		s.bus.PublishUnmatched(evt)
		return nil, err
	}
	if changed {
		log.Printf("[reconciliation] Matched transfer %s -> %s (strategy=%s)",
			txnID, sess.Reference, s.engine.Config().Strategy)
		s.bus.PublishSession(events.PaymentConfirmed, sess)
	}
	return &sess, nil
}

// PossibleMatches ranks pending sessions against a transfer for manual
// review. It never changes any session.
func (s *Service) PossibleMatches(evt domain.TransferEvent) []domain.Candidate {
	return s.engine.PossibleMatches(evt, s.store.Pending())
}

// Sessions lists sessions with the given status, or all of them.
func (s *Service) Sessions(status domain.SessionStatus) []domain.Session {
	return s.store.List(status)
}

func (s *Service) PendingSessions() []domain.Session {
	return s.store.Pending()
}

func (s *Service) Stats() domain.Stats {
	return s.store.Stats()
}

// ConfirmRequest is one entry of a bulk confirmation.
type ConfirmRequest struct {
	Reference     string    `json:"reference"`
	TransactionID string    `json:"transaction_id,omitempty"`
	PaidAt        time.Time `json:"paid_at,omitempty"`
}

// BulkResult reports the outcome of one bulk confirmation entry.
type BulkResult struct {
	Reference string          `json:"reference"`
	Success   bool            `json:"success"`
	Session   *domain.Session `json:"session,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// BulkConfirm confirms each request independently. A failure is recorded in
// its result and does not stop the batch.
func (s *Service) BulkConfirm(reqs []ConfirmRequest) []BulkResult {
	results := make([]BulkResult, 0, len(reqs))
	for _, r := range reqs {
		sess, err := s.Confirm(r.Reference, r.TransactionID, r.PaidAt)
		if err != nil {
			results = append(results, BulkResult{Reference: r.Reference, Error: err.Error()})
			continue
		}
		results = append(results, BulkResult{Reference: r.Reference, Success: true, Session: &sess})
	}
	return results
}

// Prune removes terminal sessions created before cutoff.
func (s *Service) Prune(cutoff time.Time) int {
	n := s.store.Prune(cutoff)
	if n > 0 {
		log.Printf("[reconciliation] Pruned %d terminal sessions created before %s",
			n, cutoff.Format(time.RFC3339))
	}
	return n
}

// --- helpers ---

// fail publishes err on the error channel and returns it.
func (s *Service) fail(err error) error {
	s.bus.PublishError(err)
	return err
}
