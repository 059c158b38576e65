package ingestion

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/wakala/paybytransfer/internal/domain"
	"github.com/wakala/paybytransfer/internal/provider"
)

// ----------------------------------------------------------------------------
// Fixtures
// ----------------------------------------------------------------------------

type fakeReconciler struct {
	calls   []domain.TransferEvent
	matchOn string
	err     error
}

func (r *fakeReconciler) Reconcile(evt domain.TransferEvent) (*domain.Session, error) {
	r.calls = append(r.calls, evt)
	if r.err != nil {
		return nil, r.err
	}
	if r.matchOn != "" && strings.Contains(evt.Narration, r.matchOn) {
		return &domain.Session{Reference: r.matchOn, Status: domain.StatusConfirmed}, nil
	}
	return nil, nil
}

const webhookSecret = "whsec_test"

func newManual(t *testing.T) provider.Provider {
	t.Helper()
	p, err := provider.NewManual(provider.Config{
		Account:       &provider.Account{Number: "0123456789", Name: "Acme", Bank: "GTBank"},
		WebhookSecret: webhookSecret,
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func signed(body string) http.Header {
	h := http.Header{}
	h.Set(provider.ManualSignatureHeader, provider.Sign([]byte(body), webhookSecret, provider.SHA512))
	return h
}

const transferBody = `{"transaction_id":"T1","amount":500000,"narration":"TRF ORDER_1","occurred_at":"2026-03-01T10:00:00Z"}`

// ----------------------------------------------------------------------------
// Webhooks
// ----------------------------------------------------------------------------

func TestProcessMatched(t *testing.T) {
	recon := &fakeReconciler{matchOn: "ORDER_1"}
	svc := NewService(recon, nil, newManual(t))

	res, err := svc.Process(context.Background(), "manual", signed(transferBody), []byte(transferBody))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeMatched || res.Session.Reference != "ORDER_1" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Transfer.Amount != 500000 {
		t.Fatalf("unexpected transfer %+v", res.Transfer)
	}
}

func TestProcessUnmatched(t *testing.T) {
	recon := &fakeReconciler{}
	svc := NewService(recon, nil, newManual(t))

	res, err := svc.Process(context.Background(), "manual", signed(transferBody), []byte(transferBody))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeUnmatched {
		t.Fatalf("expected unmatched, got %s", res.Outcome)
	}
}

func TestProcessTamperedBodyDoesNothing(t *testing.T) {
	recon := &fakeReconciler{matchOn: "ORDER_1"}
	dedup := NewMemoryDeduper()
	svc := NewService(recon, dedup, newManual(t))

	header := signed(transferBody)
	tampered := strings.Replace(transferBody, "500000", "900000", 1)

	_, err := svc.Process(context.Background(), "manual", header, []byte(tampered))
	if !errors.Is(err, domain.ErrWebhookVerification) {
		t.Fatalf("expected webhook verification error, got %v", err)
	}
	if len(recon.calls) != 0 {
		t.Fatal("reconciler must not be called for an unauthenticated webhook")
	}
	if len(dedup.seen) != 0 {
		t.Fatal("dedup ledger must not record an unauthenticated webhook")
	}

	if _, err := svc.Process(context.Background(), "manual", http.Header{}, []byte(transferBody)); !errors.Is(err, domain.ErrWebhookVerification) {
		t.Fatalf("missing signature should fail verification, got %v", err)
	}
}

func TestProcessDuplicateDelivery(t *testing.T) {
	recon := &fakeReconciler{matchOn: "ORDER_1"}
	svc := NewService(recon, nil, newManual(t))
	ctx := context.Background()

	if _, err := svc.Process(ctx, "manual", signed(transferBody), []byte(transferBody)); err != nil {
		t.Fatal(err)
	}
	res, err := svc.Process(ctx, "manual", signed(transferBody), []byte(transferBody))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s", res.Outcome)
	}
	if len(recon.calls) != 1 {
		t.Fatalf("expected one reconcile call, got %d", len(recon.calls))
	}
}

func TestProcessIgnoredPayload(t *testing.T) {
	recon := &fakeReconciler{}
	svc := NewService(recon, nil, newManual(t))
	body := `{"transaction_id":"T9","amount":0}`

	res, err := svc.Process(context.Background(), "manual", signed(body), []byte(body))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != OutcomeIgnored || len(recon.calls) != 0 {
		t.Fatalf("expected ignored with no reconcile, got %+v", res)
	}
}

func TestProcessUnknownProvider(t *testing.T) {
	svc := NewService(&fakeReconciler{}, nil, newManual(t))
	_, err := svc.Process(context.Background(), "paystack", http.Header{}, []byte(`{}`))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestProcessReconcileError(t *testing.T) {
	recon := &fakeReconciler{err: domain.ErrInvalidTransition}
	svc := NewService(recon, nil, newManual(t))
	_, err := svc.Process(context.Background(), "manual", signed(transferBody), []byte(transferBody))
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected reconcile error to propagate, got %v", err)
	}

	recon.err = nil
	res, err := svc.Process(context.Background(), "manual", signed(transferBody), []byte(transferBody))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome == OutcomeDuplicate || len(recon.calls) != 2 {
		t.Fatalf("a failed transfer must be retried on redelivery, got %s after %d calls", res.Outcome, len(recon.calls))
	}
}

func TestProcessRedeliveredProviderCharge(t *testing.T) {
	p, err := provider.NewPaystack(provider.Config{APIKey: "sk_test"})
	if err != nil {
		t.Fatal(err)
	}
	recon := &fakeReconciler{}
	svc := NewService(recon, nil, p)
	body := []byte(`{"event":"charge.success","data":{"id":302961,"reference":"ref_1","amount":500000,"currency":"NGN",
		"paid_at":"2026-03-01T10:00:00Z","authorization":{"narration":"TRF ORDER_1"}}}`)
	h := http.Header{}
	h.Set(provider.PaystackSignatureHeader, provider.Sign(body, "sk_test", provider.SHA512))

	first, err := svc.Process(context.Background(), "paystack", h, body)
	if err != nil || first.Outcome != OutcomeUnmatched {
		t.Fatalf("expected unmatched first delivery, got %+v, %v", first, err)
	}
	again, err := svc.Process(context.Background(), "paystack", h, body)
	if err != nil {
		t.Fatal(err)
	}
	if again.Outcome != OutcomeDuplicate {
		t.Fatalf("redelivery should be a duplicate, got %s", again.Outcome)
	}
	if len(recon.calls) != 1 {
		t.Fatalf("expected one reconcile call, got %d", len(recon.calls))
	}
}

// ----------------------------------------------------------------------------
// Statements
// ----------------------------------------------------------------------------

const statementCSV = `Date,Narration,Debit,Credit,Reference
2026-03-01,TRF FROM ADA ORDER_1,,"5,000.00",FT001
2026-03-01,POS PURCHASE,1200.00,,FT002
2026-03-02,TRF FROM BAYO,,250.50,
`

func TestParseStatementCSV(t *testing.T) {
	transfers, err := ParseStatementCSV([]byte(statementCSV), "NGN")
	if err != nil {
		t.Fatal(err)
	}
	if len(transfers) != 2 {
		t.Fatalf("expected 2 credits, got %d", len(transfers))
	}
	first := transfers[0]
	if first.TransactionID != "FT001" || first.Amount != 500000 || first.Provider != StatementProvider {
		t.Fatalf("unexpected first transfer %+v", first)
	}
	if !first.OccurredAt.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date %v", first.OccurredAt)
	}
	second := transfers[1]
	if second.Amount != 25050 || !strings.HasPrefix(second.TransactionID, "STMT-") {
		t.Fatalf("unexpected second transfer %+v", second)
	}

	again, _ := ParseStatementCSV([]byte(statementCSV), "NGN")
	if again[1].TransactionID != second.TransactionID {
		t.Fatal("generated row ids must be stable")
	}
}

func TestParseStatementCSVPipeDelimited(t *testing.T) {
	data := "TXREF|VALUE_DATE|DESCRIPTION|AMOUNT_IN\nZA1|2026-03-01|PAY ORDER_9|100.00\n"
	transfers, err := ParseStatementCSV([]byte(data), "ZAR")
	if err != nil {
		t.Fatal(err)
	}
	if len(transfers) != 1 || transfers[0].TransactionID != "ZA1" || transfers[0].Amount != 10000 {
		t.Fatalf("unexpected transfers %+v", transfers)
	}
}

func TestParseStatementCSVErrors(t *testing.T) {
	if _, err := ParseStatementCSV([]byte("date,narration\n"), "NGN"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected missing column error, got %v", err)
	}
	if _, err := ParseStatementCSV([]byte(statementCSV), "XYZ"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected currency error, got %v", err)
	}
	bad := "date,narration,credit\nyesterday,x,10\n"
	if _, err := ParseStatementCSV([]byte(bad), "NGN"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected date error, got %v", err)
	}
}

func TestParseStatementJSON(t *testing.T) {
	data := `{"account_number":"0123456789","currency":"NGN","transactions":[
		{"ref":"J1","type":"credit","amount":5000,"narration":"ORDER_1","date":"2026-03-01T10:00:00Z"},
		{"ref":"J2","type":"debit","amount":100,"narration":"fee","date":"2026-03-01"}
	]}`
	transfers, err := ParseStatementJSON([]byte(data), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(transfers) != 1 || transfers[0].Amount != 500000 || transfers[0].AccountNumber != "0123456789" {
		t.Fatalf("unexpected transfers %+v", transfers)
	}
}

func TestImportStatement(t *testing.T) {
	recon := &fakeReconciler{matchOn: "ORDER_1"}
	svc := NewService(recon, nil, newManual(t))
	ctx := context.Background()

	res, err := svc.ImportStatement(ctx, []byte(statementCSV), "csv", "NGN")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Imported || res.Credits != 2 || res.Matched != 1 || res.Unmatched != 1 {
		t.Fatalf("unexpected result %+v", res)
	}

	res, err = svc.ImportStatement(ctx, []byte(statementCSV), "csv", "NGN")
	if err != nil {
		t.Fatal(err)
	}
	if res.Imported {
		t.Fatal("re-importing the same file should be a no-op")
	}
	if len(recon.calls) != 2 {
		t.Fatalf("expected 2 reconcile calls in total, got %d", len(recon.calls))
	}

	if _, err := svc.ImportStatement(ctx, []byte("x"), "xlsx", "NGN"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
}

func TestImportStatementRetryAfterWrongFormat(t *testing.T) {
	recon := &fakeReconciler{matchOn: "ORDER_1"}
	svc := NewService(recon, nil, newManual(t))
	ctx := context.Background()

	if _, err := svc.ImportStatement(ctx, []byte(statementCSV), "json", "NGN"); err == nil {
		t.Fatal("expected a CSV file declared as JSON to fail")
	}
	res, err := svc.ImportStatement(ctx, []byte(statementCSV), "csv", "NGN")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Imported || res.Credits != 2 || len(recon.calls) != 2 {
		t.Fatalf("corrected upload must be imported, got %+v after %d calls", res, len(recon.calls))
	}
}

func TestImportStatementRetryAfterFailedRows(t *testing.T) {
	recon := &fakeReconciler{matchOn: "ORDER_1", err: errors.New("store unavailable")}
	svc := NewService(recon, nil, newManual(t))
	ctx := context.Background()

	res, err := svc.ImportStatement(ctx, []byte(statementCSV), "csv", "NGN")
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 2 {
		t.Fatalf("expected both rows to fail, got %+v", res)
	}

	recon.err = nil
	res, err = svc.ImportStatement(ctx, []byte(statementCSV), "csv", "NGN")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Imported || res.Matched != 1 || res.Unmatched != 1 {
		t.Fatalf("retry should reconcile the failed rows, got %+v", res)
	}
}
