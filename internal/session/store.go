// Package session owns session records and their lifecycle transitions.
//
// The store is the single writer for sessions. Every mutation takes the
// store lock, checks the current status and applies the transition as one
// step, so concurrent confirmations of one reference produce one winner and
// idempotent no-ops for the rest.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/wakala/paybytransfer/internal/domain"
)

// Store is a mutex-guarded in-memory session store that keeps insertion
// order for deterministic snapshots.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	order    []string
	reserved map[string]struct{} // creates in flight
	retired  map[string]struct{} // pruned, never reusable
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*domain.Session),
		reserved: make(map[string]struct{}),
		retired:  make(map[string]struct{}),
	}
}

// Reserve claims a reference before the provider is called so that two
// concurrent creates cannot both reach the provider.
func (s *Store) Reserve(ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.takenLocked(ref) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateReference, ref)
	}
	s.reserved[ref] = struct{}{}
	return nil
}

// Release drops a reservation whose create failed.
func (s *Store) Release(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reserved, ref)
}

// Insert stores a new session. The reference must be either reserved by the
// caller or entirely unused.
func (s *Store) Insert(sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.Reference]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateReference, sess.Reference)
	}
	if _, ok := s.retired[sess.Reference]; ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateReference, sess.Reference)
	}
	delete(s.reserved, sess.Reference)
	rec := sess.Clone()
	s.sessions[sess.Reference] = &rec
	s.order = append(s.order, sess.Reference)
	return nil
}

func (s *Store) takenLocked(ref string) bool {
	if _, ok := s.sessions[ref]; ok {
		return true
	}
	if _, ok := s.reserved[ref]; ok {
		return true
	}
	_, ok := s.retired[ref]
	return ok
}

// Get returns a copy of the session.
func (s *Store) Get(ref string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[ref]
	if !ok {
		return domain.Session{}, notFound(ref)
	}
	return rec.Clone(), nil
}

// ExpireIfDue moves a pending session past its expiry to expired. changed
// reports whether this call made the transition.
func (s *Store) ExpireIfDue(ref string, now time.Time) (sess domain.Session, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[ref]
	if !ok {
		return domain.Session{}, false, notFound(ref)
	}
	if rec.Status == domain.StatusPending && now.After(rec.ExpiresAt) {
		rec.Status = domain.StatusExpired
		changed = true
	}
	return rec.Clone(), changed, nil
}

// Confirm marks a pending session paid. Confirming an already confirmed
// session is a no-op that leaves the original transaction ID and paid time
// untouched.
func (s *Store) Confirm(ref, transactionID string, paidAt time.Time) (sess domain.Session, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[ref]
	if !ok {
		return domain.Session{}, false, notFound(ref)
	}
	switch rec.Status {
	case domain.StatusConfirmed:
		return rec.Clone(), false, nil
	case domain.StatusPending:
		rec.Status = domain.StatusConfirmed
		rec.TransactionID = transactionID
		rec.PaidAt = &paidAt
		return rec.Clone(), true, nil
	default:
		return rec.Clone(), false, invalidTransition(rec, domain.StatusConfirmed)
	}
}

// Reject cancels a pending session. Rejecting an already rejected session
// is a no-op.
func (s *Store) Reject(ref, reason string, at time.Time) (sess domain.Session, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[ref]
	if !ok {
		return domain.Session{}, false, notFound(ref)
	}
	switch rec.Status {
	case domain.StatusRejected:
		return rec.Clone(), false, nil
	case domain.StatusPending:
		rec.Status = domain.StatusRejected
		rec.RejectedAt = &at
		rec.RejectionReason = reason
		return rec.Clone(), true, nil
	default:
		return rec.Clone(), false, invalidTransition(rec, domain.StatusRejected)
	}
}

// SweepExpired expires every pending session whose ExpiresAt is before now
// and returns the sessions it changed, in insertion order.
func (s *Store) SweepExpired(now time.Time) []domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	var swept []domain.Session
	for _, ref := range s.order {
		rec := s.sessions[ref]
		if rec.Status == domain.StatusPending && rec.ExpiresAt.Before(now) {
			rec.Status = domain.StatusExpired
			swept = append(swept, rec.Clone())
		}
	}
	return swept
}

// Pending returns a point-in-time snapshot of pending sessions in insertion
// order.
func (s *Store) Pending() []domain.Session {
	return s.List(domain.StatusPending)
}

// List returns sessions with the given status, or all sessions when status
// is empty, in insertion order.
func (s *Store) List(status domain.SessionStatus) []domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Session, 0, len(s.order))
	for _, ref := range s.order {
		rec := s.sessions[ref]
		if status == "" || rec.Status == status {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Stats counts sessions and sums amounts per status.
func (s *Store) Stats() domain.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st domain.Stats
	for _, rec := range s.sessions {
		st.Total++
		st.TotalAmount += rec.Amount
		switch rec.Status {
		case domain.StatusPending:
			st.Pending++
			st.PendingAmount += rec.Amount
		case domain.StatusConfirmed:
			st.Confirmed++
			st.ConfirmedAmount += rec.Amount
		case domain.StatusExpired:
			st.Expired++
		case domain.StatusRejected:
			st.Rejected++
		}
	}
	return st
}

// Prune deletes terminal sessions created before cutoff. Their references
// stay retired so they can never be issued again.
func (s *Store) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.order[:0]
	pruned := 0
	for _, ref := range s.order {
		rec := s.sessions[ref]
		if rec.Status.Terminal() && rec.CreatedAt.Before(cutoff) {
			delete(s.sessions, ref)
			s.retired[ref] = struct{}{}
			pruned++
			continue
		}
		kept = append(kept, ref)
	}
	s.order = kept
	return pruned
}

// --- helpers ---

func notFound(ref string) error {
	return fmt.Errorf("%w: %s", domain.ErrNotFound, ref)
}

func invalidTransition(rec *domain.Session, to domain.SessionStatus) error {
	return fmt.Errorf("%w: %s is %s, cannot become %s",
		domain.ErrInvalidTransition, rec.Reference, rec.Status, to)
}
