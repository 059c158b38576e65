package reconciliation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wakala/paybytransfer/internal/domain"
	"github.com/wakala/paybytransfer/internal/events"
	"github.com/wakala/paybytransfer/internal/matching"
	"github.com/wakala/paybytransfer/internal/session"
)

// ----------------------------------------------------------------------------
// Fixtures
// ----------------------------------------------------------------------------

type stubProvider struct {
	createErr error
	verify    domain.Verification
	verifyErr error
	creates   int
}

func (p *stubProvider) Name() string            { return "stub" }
func (p *stubProvider) SignatureHeader() string { return "x-stub-signature" }

func (p *stubProvider) CreateSession(_ context.Context, req domain.SessionRequest) (domain.Destination, error) {
	p.creates++
	if p.createErr != nil {
		return domain.Destination{}, p.createErr
	}
	return domain.Destination{AccountNumber: "0123456789", AccountName: "Acme", BankName: "GTBank", BankCode: "058"}, nil
}

func (p *stubProvider) Verify(context.Context, string) (domain.Verification, error) {
	return p.verify, p.verifyErr
}

func (p *stubProvider) NormalizeWebhook([]byte) (*domain.TransferEvent, error) { return nil, nil }
func (p *stubProvider) VerifyWebhookSignature(string, []byte) bool             { return true }

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(sig events.Signal) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Signal == sig {
			n++
		}
	}
	return n
}

type fixture struct {
	svc   *Service
	prov  *stubProvider
	clock *clock
	rec   *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	prov := &stubProvider{}
	bus := events.NewBus()
	rec := &recorder{}
	bus.SubscribeAll(rec.handle)
	engine := matching.NewEngine(matching.DefaultConfig()).WithClock(c.now)
	svc := NewService(prov, session.NewStore(), engine, bus, time.Hour).WithClock(c.now)
	return &fixture{svc: svc, prov: prov, clock: c, rec: rec}
}

func (f *fixture) create(t *testing.T, ref string, amount int64) domain.Session {
	t.Helper()
	sess, err := f.svc.CreateSession(context.Background(), domain.SessionRequest{Amount: amount, Reference: ref})
	if err != nil {
		t.Fatalf("create %s: %v", ref, err)
	}
	return sess
}

// ----------------------------------------------------------------------------
// Session lifecycle
// ----------------------------------------------------------------------------

func TestCreateSession(t *testing.T) {
	f := newFixture(t)
	sess := f.create(t, "ORDER_1", 500000)

	if sess.Status != domain.StatusPending || sess.Provider != "stub" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if got := sess.ExpiresAt.Sub(sess.CreatedAt); got != time.Hour {
		t.Fatalf("expected one hour expiry, got %v", got)
	}
	if sess.Destination.AccountNumber != "0123456789" {
		t.Fatalf("expected provider destination, got %+v", sess.Destination)
	}
	if f.rec.count(events.SessionCreated) != 1 {
		t.Fatal("expected session.created")
	}
}

func TestCreateSessionDuplicateReference(t *testing.T) {
	f := newFixture(t)
	f.create(t, "ORDER_1", 500000)

	_, err := f.svc.CreateSession(context.Background(), domain.SessionRequest{Amount: 1, Reference: "ORDER_1"})
	if !errors.Is(err, domain.ErrDuplicateReference) {
		t.Fatalf("expected duplicate reference, got %v", err)
	}
	if f.prov.creates != 1 {
		t.Fatalf("provider should not be called for a duplicate, called %d times", f.prov.creates)
	}
	if f.rec.count(events.Error) != 1 {
		t.Fatal("expected the error to be published")
	}
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateSession(context.Background(), domain.SessionRequest{Amount: 0, Reference: "x"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if n := len(domain.ValidationErrors(err)); n != 2 {
		t.Fatalf("expected amount and reference failures, got %d", n)
	}
	if f.prov.creates != 0 {
		t.Fatal("provider should not be called for invalid input")
	}
}

func TestCreateSessionProviderFailureReleasesReference(t *testing.T) {
	f := newFixture(t)
	f.prov.createErr = errors.New("connection refused")

	_, err := f.svc.CreateSession(context.Background(), domain.SessionRequest{Amount: 100, Reference: "ORDER_1"})
	var pe *domain.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected provider error, got %v", err)
	}

	f.prov.createErr = nil
	f.create(t, "ORDER_1", 100)
}

func TestCheckStatusExpiresOnce(t *testing.T) {
	f := newFixture(t)
	f.create(t, "ORDER_1", 100)

	sess, err := f.svc.CheckStatus("ORDER_1")
	if err != nil || sess.Status != domain.StatusPending {
		t.Fatalf("expected pending, got %v, %v", sess.Status, err)
	}

	f.clock.advance(time.Hour + time.Second)
	for i := 0; i < 3; i++ {
		sess, err = f.svc.CheckStatus("ORDER_1")
		if err != nil || sess.Status != domain.StatusExpired {
			t.Fatalf("expected expired, got %v, %v", sess.Status, err)
		}
	}
	if f.rec.count(events.PaymentExpired) != 1 {
		t.Fatalf("expected one payment.expired, got %d", f.rec.count(events.PaymentExpired))
	}

	if _, err := f.svc.CheckStatus("MISSING"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.create(t, "ORDER_1", 100)
	paid := f.clock.now()

	first, err := f.svc.Confirm("ORDER_1", "TXN_1", paid)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.svc.Confirm("ORDER_1", "TXN_2", paid.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if second.TransactionID != "TXN_1" || !second.PaidAt.Equal(*first.PaidAt) {
		t.Fatalf("second confirm must not change the session: %+v", second)
	}
	if f.rec.count(events.PaymentConfirmed) != 1 {
		t.Fatalf("expected one payment.confirmed, got %d", f.rec.count(events.PaymentConfirmed))
	}
}

func TestConfirmGeneratesManualTransactionID(t *testing.T) {
	f := newFixture(t)
	f.create(t, "ORDER_1", 100)
	sess, err := f.svc.Confirm("ORDER_1", "", time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(sess.TransactionID, "MAN_") {
		t.Fatalf("expected MAN_ transaction id, got %q", sess.TransactionID)
	}
	if !sess.PaidAt.Equal(f.clock.now()) {
		t.Fatalf("expected paid now, got %v", sess.PaidAt)
	}
}

func TestConfirmAfterSweepFails(t *testing.T) {
	f := newFixture(t)
	f.create(t, "ORDER_1", 100)
	f.clock.advance(2 * time.Hour)
	if n := f.svc.SweepExpired(f.clock.now()); n != 1 {
		t.Fatalf("expected one swept session, got %d", n)
	}

	_, err := f.svc.Confirm("ORDER_1", "TXN_1", time.Time{})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if f.rec.count(events.Error) != 1 {
		t.Fatal("expected the error to be published")
	}
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	f.create(t, "ORDER_1", 100)
	f.create(t, "ORDER_2", 100)

	sess, err := f.svc.Reject("ORDER_1", "customer cancelled")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != domain.StatusRejected || sess.RejectionReason != "customer cancelled" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if _, err := f.svc.Reject("ORDER_1", "again"); err != nil {
		t.Fatalf("re-rejecting should be a no-op, got %v", err)
	}

	f.svc.Confirm("ORDER_2", "TXN_2", time.Time{})
	if _, err := f.svc.Reject("ORDER_2", "too late"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestRejectOverdueSession(t *testing.T) {
	f := newFixture(t)
	f.create(t, "ORDER_1", 100)
	f.clock.advance(time.Hour + time.Second)

	sess, err := f.svc.Reject("ORDER_1", "customer cancelled")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if sess.Status != domain.StatusExpired || sess.RejectionReason != "" {
		t.Fatalf("overdue session should be expired, got %+v", sess)
	}
	if f.rec.count(events.PaymentExpired) != 1 {
		t.Fatalf("expected one payment.expired, got %d", f.rec.count(events.PaymentExpired))
	}
}

func TestSweepExpiredIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.create(t, "ORDER_1", 100)
	f.clock.advance(30 * time.Minute)
	f.create(t, "ORDER_2", 100)
	f.clock.advance(45 * time.Minute)

	if n := f.svc.SweepExpired(f.clock.now()); n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
	if n := f.svc.SweepExpired(f.clock.now()); n != 0 {
		t.Fatalf("second sweep should change nothing, got %d", n)
	}
	if f.rec.count(events.PaymentExpired) != 1 {
		t.Fatal("expected exactly one payment.expired")
	}
}

// ----------------------------------------------------------------------------
// Reconciliation
// ----------------------------------------------------------------------------

func TestReconcileConfirmsMatch(t *testing.T) {
	f := newFixture(t)
	f.create(t, "ORDER_1", 500000)
	f.create(t, "ORDER_2", 250000)

	got, err := f.svc.Reconcile(domain.TransferEvent{
		TransactionID: "T1",
		Amount:        500000,
		Narration:     "TRF FROM JOHN ORDER_1",
		OccurredAt:    f.clock.now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Reference != "ORDER_1" || got.TransactionID != "T1" {
		t.Fatalf("expected ORDER_1 confirmed with T1, got %+v", got)
	}
	if f.rec.count(events.PaymentConfirmed) != 1 {
		t.Fatal("expected payment.confirmed")
	}
}

func TestReconcileUnmatched(t *testing.T) {
	f := newFixture(t)
	f.create(t, "ORDER_1", 500000)

	got, err := f.svc.Reconcile(domain.TransferEvent{TransactionID: "T1", Amount: 123, Narration: "?", OccurredAt: f.clock.now()})
	if err != nil || got != nil {
		t.Fatalf("expected no match, got %+v, %v", got, err)
	}
	if f.rec.count(events.PaymentUnmatched) != 1 {
		t.Fatal("expected payment.unmatched")
	}
	sess, _ := f.svc.CheckStatus("ORDER_1")
	if sess.Status != domain.StatusPending {
		t.Fatal("unmatched transfer must not touch sessions")
	}
}

func TestReconcileRejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Reconcile(domain.TransferEvent{Amount: 0}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConcurrentReconcileConfirmsOnce(t *testing.T) {
	f := newFixture(t)
	f.create(t, "ORDER_1", 500000)
	evt := domain.TransferEvent{TransactionID: "T1", Amount: 500000, Narration: "ORDER_1", OccurredAt: f.clock.now()}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.svc.Reconcile(evt)
		}()
	}
	wg.Wait()

	if n := f.rec.count(events.PaymentConfirmed); n != 1 {
		t.Fatalf("expected exactly one confirmation, got %d", n)
	}
}

func TestPossibleMatches(t *testing.T) {
	f := newFixture(t)
	f.create(t, "ORDER_1", 500000)
	f.create(t, "ORDER_2", 100)

	cands := f.svc.PossibleMatches(domain.TransferEvent{Amount: 500000, Narration: "ORDER_1", OccurredAt: f.clock.now()})
	if len(cands) != 1 || cands[0].Session.Reference != "ORDER_1" {
		t.Fatalf("unexpected candidates %+v", cands)
	}
	if f.rec.count(events.PaymentConfirmed) != 0 {
		t.Fatal("possible matches must never confirm")
	}
}

// ----------------------------------------------------------------------------
// Provider verification and batch operations
// ----------------------------------------------------------------------------

func TestVerifyConfirmsSettledSession(t *testing.T) {
	f := newFixture(t)
	f.create(t, "ORDER_1", 100)

	sess, err := f.svc.Verify(context.Background(), "ORDER_1")
	if err != nil || sess.Status != domain.StatusPending {
		t.Fatalf("unsettled verify should leave pending, got %v, %v", sess.Status, err)
	}

	f.prov.verify = domain.Verification{Settled: true}
	sess, err = f.svc.Verify(context.Background(), "ORDER_1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.Status != domain.StatusConfirmed || !strings.HasPrefix(sess.TransactionID, "VERIFY_") {
		t.Fatalf("expected confirmed with VERIFY_ id, got %+v", sess)
	}
}

func TestVerifyProviderError(t *testing.T) {
	f := newFixture(t)
	f.create(t, "ORDER_1", 100)
	f.prov.verifyErr = errors.New("timeout")

	_, err := f.svc.Verify(context.Background(), "ORDER_1")
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestBulkConfirmContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	f.create(t, "ORDER_1", 100)
	f.create(t, "ORDER_3", 100)

	results := f.svc.BulkConfirm([]ConfirmRequest{
		{Reference: "ORDER_1", TransactionID: "T1"},
		{Reference: "ORDER_2"},
		{Reference: "ORDER_3"},
	})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Success || results[1].Success || !results[2].Success {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[1].Error == "" {
		t.Fatal("expected an error message for the missing reference")
	}
}

func TestStatsAndPrune(t *testing.T) {
	f := newFixture(t)
	f.create(t, "ORDER_1", 100)
	f.create(t, "ORDER_2", 200)
	f.svc.Confirm("ORDER_1", "T1", time.Time{})

	st := f.svc.Stats()
	if st.Total != 2 || st.Confirmed != 1 || st.Pending != 1 || st.ConfirmedAmount != 100 {
		t.Fatalf("unexpected stats %+v", st)
	}

	f.clock.advance(time.Minute)
	if n := f.svc.Prune(f.clock.now()); n != 1 {
		t.Fatalf("expected one pruned session, got %d", n)
	}
	if _, err := f.svc.CreateSession(context.Background(), domain.SessionRequest{Amount: 1, Reference: "ORDER_1"}); !errors.Is(err, domain.ErrDuplicateReference) {
		t.Fatalf("pruned reference must stay reserved, got %v", err)
	}
}
