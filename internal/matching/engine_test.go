package matching

import (
	"math"
	"testing"
	"time"

	"github.com/wakala/paybytransfer/internal/domain"
)

var base = time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)

func pending(ref string, amount int64, createdAt time.Time) domain.Session {
	return domain.Session{
		Reference: ref,
		Amount:    amount,
		Status:    domain.StatusPending,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(time.Hour),
	}
}

func engine(s Strategy) *Engine {
	return NewEngine(Config{Strategy: s}).WithClock(func() time.Time { return base })
}

func ref(s *domain.Session) string {
	if s == nil {
		return "<none>"
	}
	return s.Reference
}

func TestExactReferenceMatchesNarration(t *testing.T) {
	e := engine(ExactReference)
	sessions := []domain.Session{
		pending("ORDER_12345", 7700, base),
		pending("ORDER_99999", 7700, base),
	}
	evt := domain.TransferEvent{Amount: 7700, Narration: "payment for ORDER_12345 thanks", OccurredAt: base}

	if got := e.Match(evt, sessions); ref(got) != "ORDER_12345" {
		t.Fatalf("expected ORDER_12345, got %s", ref(got))
	}
}

func TestExactReferenceIsCaseInsensitive(t *testing.T) {
	e := engine(ExactReference)
	sessions := []domain.Session{pending("Order_ABC", 100, base)}
	evt := domain.TransferEvent{Amount: 1, Narration: "TRF ORDER_abc FROM JOHN"}

	if got := e.Match(evt, sessions); ref(got) != "Order_ABC" {
		t.Fatalf("expected Order_ABC, got %s", ref(got))
	}
}

func TestExactReferenceAmbiguousYieldsNone(t *testing.T) {
	e := engine(ExactReference)
	sessions := []domain.Session{
		pending("ORD-1", 100, base),
		pending("ORD-12", 100, base),
	}
	// "ORD-12" contains both references.
	evt := domain.TransferEvent{Amount: 100, Narration: "ORD-12"}
	if got := e.Match(evt, sessions); got != nil {
		t.Fatalf("expected no match for ambiguous narration, got %s", ref(got))
	}
}

func TestExactReferenceNoHit(t *testing.T) {
	e := engine(ExactReference)
	sessions := []domain.Session{pending("ORDER_1", 100, base)}
	if got := e.Match(domain.TransferEvent{Amount: 100, Narration: ""}, sessions); got != nil {
		t.Fatalf("expected no match, got %s", ref(got))
	}
}

func TestTerminalSessionsNeverMatch(t *testing.T) {
	for _, st := range []Strategy{ExactReference, AmountTimeReference, AmountTimeWindow} {
		e := engine(st)
		s := pending("ORDER_1", 100, base)
		s.Status = domain.StatusConfirmed
		evt := domain.TransferEvent{Amount: 100, Narration: "ORDER_1", OccurredAt: base}
		if got := e.Match(evt, []domain.Session{s}); got != nil {
			t.Errorf("%s: confirmed session matched", st)
		}
	}
}

func TestAmountTimeReferencePrefersNewest(t *testing.T) {
	e := engine(AmountTimeReference)
	older := pending("ORDER_A", 5000, base.Add(-30*time.Minute))
	newer := pending("ORDER_B", 5000, base.Add(-10*time.Minute))
	evt := domain.TransferEvent{Amount: 5000, Narration: "transfer", OccurredAt: base}

	if got := e.Match(evt, []domain.Session{older, newer}); ref(got) != "ORDER_B" {
		t.Fatalf("expected newer ORDER_B, got %s", ref(got))
	}

	// Swap which one is newer: the selection follows.
	older.CreatedAt, newer.CreatedAt = newer.CreatedAt, older.CreatedAt
	if got := e.Match(evt, []domain.Session{older, newer}); ref(got) != "ORDER_A" {
		t.Fatalf("expected ORDER_A after swap, got %s", ref(got))
	}
}

func TestAmountTimeReferenceUniqueNarrationWins(t *testing.T) {
	e := engine(AmountTimeReference)
	target := pending("ORDER_A", 5000, base.Add(-30*time.Minute))
	other := pending("ORDER_B", 5000, base.Add(-5*time.Minute))
	evt := domain.TransferEvent{Amount: 5000, Narration: "pay order_a", OccurredAt: base}

	if got := e.Match(evt, []domain.Session{target, other}); ref(got) != "ORDER_A" {
		t.Fatalf("expected narration hit ORDER_A, got %s", ref(got))
	}
}

func TestAmountTimeReferenceSeveralNarrationHitsFallThrough(t *testing.T) {
	e := engine(AmountTimeReference)
	// "ORD-10" in the narration also contains "ORD-1": two hits, so the
	// newest candidate wins even though it is the shorter reference.
	a := pending("ORD-10", 5000, base.Add(-30*time.Minute))
	b := pending("ORD-1", 5000, base.Add(-5*time.Minute))
	evt := domain.TransferEvent{Amount: 5000, Narration: "ORD-10", OccurredAt: base}

	if got := e.Match(evt, []domain.Session{a, b}); ref(got) != "ORD-1" {
		t.Fatalf("expected recency fallback ORD-1, got %s", ref(got))
	}
}

func TestAmountTimeReferenceNarrationOutsideCandidatesIgnored(t *testing.T) {
	e := engine(AmountTimeReference)
	wrongAmount := pending("ORDER_A", 9999, base)
	evt := domain.TransferEvent{Amount: 5000, Narration: "ORDER_A", OccurredAt: base}
	if got := e.Match(evt, []domain.Session{wrongAmount}); got != nil {
		t.Fatalf("expected no match when amount differs, got %s", ref(got))
	}
}

func TestAmountTimeReferenceOutsideWindow(t *testing.T) {
	e := engine(AmountTimeReference)
	s := pending("ORDER_A", 5000, base.Add(-2*time.Hour))
	evt := domain.TransferEvent{Amount: 5000, OccurredAt: base}
	if got := e.Match(evt, []domain.Session{s}); got != nil {
		t.Fatalf("expected no match outside window, got %s", ref(got))
	}
}

func TestAmountTimeReferenceTieGoesToLaterInsertion(t *testing.T) {
	e := engine(AmountTimeReference)
	a := pending("ORDER_A", 5000, base)
	b := pending("ORDER_B", 5000, base)
	evt := domain.TransferEvent{Amount: 5000, OccurredAt: base}
	if got := e.Match(evt, []domain.Session{a, b}); ref(got) != "ORDER_B" {
		t.Fatalf("expected ORDER_B on tie, got %s", ref(got))
	}
}

func TestAmountTimeWindowAmbiguousYieldsNone(t *testing.T) {
	e := engine(AmountTimeWindow)
	a := pending("ORDER_A", 5000, base.Add(-10*time.Minute))
	b := pending("ORDER_B", 5000, base.Add(-20*time.Minute))
	evt := domain.TransferEvent{Amount: 5000, Narration: "ORDER_A", OccurredAt: base}

	if got := e.Match(evt, []domain.Session{a, b}); got != nil {
		t.Fatalf("expected none for two qualifying sessions, got %s", ref(got))
	}
	if got := e.Match(evt, []domain.Session{a}); ref(got) != "ORDER_A" {
		t.Fatalf("expected sole survivor ORDER_A, got %s", ref(got))
	}
}

func TestAmountTolerance(t *testing.T) {
	e := NewEngine(Config{Strategy: AmountTimeWindow, AmountTolerance: 50}).
		WithClock(func() time.Time { return base })
	s := pending("ORDER_A", 5000, base)

	if got := e.Match(domain.TransferEvent{Amount: 5050, OccurredAt: base}, []domain.Session{s}); got == nil {
		t.Error("expected match at the tolerance edge")
	}
	if got := e.Match(domain.TransferEvent{Amount: 5051, OccurredAt: base}, []domain.Session{s}); got != nil {
		t.Error("expected no match beyond tolerance")
	}
}

func TestMissingEventTimeUsesClock(t *testing.T) {
	e := engine(AmountTimeWindow)
	s := pending("ORDER_A", 5000, base.Add(-5*time.Minute))
	if got := e.Match(domain.TransferEvent{Amount: 5000}, []domain.Session{s}); got == nil {
		t.Fatal("expected event without timestamp to be evaluated at the clock time")
	}
}

func TestMatchReturnsCopy(t *testing.T) {
	e := engine(ExactReference)
	sessions := []domain.Session{pending("ORDER_A", 1, base)}
	got := e.Match(domain.TransferEvent{Narration: "ORDER_A"}, sessions)
	got.Status = domain.StatusConfirmed
	if sessions[0].Status != domain.StatusPending {
		t.Fatal("engine must not hand out pointers into the snapshot")
	}
}

func TestParseStrategy(t *testing.T) {
	if s, err := ParseStrategy(""); err != nil || s != AmountTimeReference {
		t.Errorf("empty strategy should default, got %s %v", s, err)
	}
	if _, err := ParseStrategy("fuzzy"); err == nil {
		t.Error("expected error for unknown strategy")
	}
	if s, _ := ParseStrategy("exact-reference"); s != ExactReference {
		t.Errorf("unexpected strategy %s", s)
	}
}

// ---------------------------------------------------------------------------
// Confidence
// ---------------------------------------------------------------------------

func TestConfidenceFullScore(t *testing.T) {
	e := engine(AmountTimeReference)
	s := pending("ORDER_12345", 7700, base)
	s.CustomerEmail = "customer@example.com"
	evt := domain.TransferEvent{
		Amount:        7700,
		Narration:     "payment for ORDER_12345",
		OccurredAt:    base,
		CustomerEmail: "Customer@Example.com",
	}
	if got := e.Confidence(evt, s); got != 100 {
		t.Fatalf("expected 100, got %v", got)
	}
}

func TestConfidenceComponents(t *testing.T) {
	e := NewEngine(Config{AmountTolerance: 100}).WithClock(func() time.Time { return base })
	s := pending("ORDER_1", 5000, base)

	tests := []struct {
		name string
		evt  domain.TransferEvent
		want float64
	}{
		{"near amount only, outside window", domain.TransferEvent{Amount: 5050, OccurredAt: base.Add(3 * time.Hour)}, 20},
		{"exact amount, half window", domain.TransferEvent{Amount: 5000, OccurredAt: base.Add(30 * time.Minute)}, 50},
		{"reference only, edge of window", domain.TransferEvent{Amount: 1, Narration: "order_1", OccurredAt: base.Add(-time.Hour)}, 30},
		{"empty emails do not count", domain.TransferEvent{Amount: 1, OccurredAt: base.Add(5 * time.Hour)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Confidence(tt.evt, s); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestConfidenceNeverExceedsMax(t *testing.T) {
	e := NewEngine(Config{AmountTolerance: 1 << 40, TimeWindow: 1000 * time.Hour}).
		WithClock(func() time.Time { return base })
	s := pending("A_B", 1, base)
	s.CustomerEmail = "x@y.z"
	evt := domain.TransferEvent{Amount: 1, Narration: "a_b A_B", OccurredAt: base, CustomerEmail: "x@y.z"}
	if got := e.Confidence(evt, s); got > MaxConfidence {
		t.Fatalf("score %v exceeds max", got)
	}
}

func TestPossibleMatchesSortedAndFiltered(t *testing.T) {
	e := engine(AmountTimeReference)
	// Scores: strong 40+30+20, medium 40+20, weak 20, done is terminal.
	strong := pending("ORDER_A", 5000, base)
	medium := pending("ORDER_B", 5000, base)
	weak := pending("ORDER_C", 1, base)
	done := pending("ORDER_D", 5000, base)
	done.Status = domain.StatusExpired

	evt := domain.TransferEvent{Amount: 5000, Narration: "ORDER_A", OccurredAt: base}
	got := e.PossibleMatches(evt, []domain.Session{weak, medium, strong, done})

	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d: %+v", len(got), got)
	}
	if got[0].Session.Reference != "ORDER_A" || got[1].Session.Reference != "ORDER_B" {
		t.Fatalf("unexpected order: %s, %s", got[0].Session.Reference, got[1].Session.Reference)
	}
	if got[0].Confidence != 90 || got[1].Confidence != 60 {
		t.Fatalf("unexpected scores: %v, %v", got[0].Confidence, got[1].Confidence)
	}
}
