// Package matching decides which pending session, if any, an incoming bank
// transfer settles. The engine never mutates sessions; callers confirm the
// returned session through the session store.
package matching

import (
	"fmt"
	"strings"
	"time"

	"github.com/wakala/paybytransfer/internal/domain"
)

type Strategy string

const (
	ExactReference      Strategy = "exact-reference"
	AmountTimeReference Strategy = "amount-time-reference"
	AmountTimeWindow    Strategy = "amount-time-window"
)

const (
	DefaultStrategy        = AmountTimeReference
	DefaultTimeWindow      = time.Hour
	DefaultAmountTolerance = int64(0)
)

// ParseStrategy validates a strategy name from configuration.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case ExactReference, AmountTimeReference, AmountTimeWindow:
		return Strategy(s), nil
	case "":
		return DefaultStrategy, nil
	}
	return "", fmt.Errorf("unknown matching strategy: %s", s)
}

// Config tunes the engine. Zero values fall back to the defaults.
type Config struct {
	Strategy        Strategy
	TimeWindow      time.Duration
	AmountTolerance int64
}

func DefaultConfig() Config {
	return Config{
		Strategy:        DefaultStrategy,
		TimeWindow:      DefaultTimeWindow,
		AmountTolerance: DefaultAmountTolerance,
	}
}

// Engine matches transfer events to sessions.
type Engine struct {
	cfg Config
	now func() time.Time
}

func NewEngine(cfg Config) *Engine {
	if cfg.Strategy == "" {
		cfg.Strategy = DefaultStrategy
	}
	if cfg.TimeWindow <= 0 {
		cfg.TimeWindow = DefaultTimeWindow
	}
	if cfg.AmountTolerance < 0 {
		cfg.AmountTolerance = 0
	}
	return &Engine{cfg: cfg, now: time.Now}
}

// WithClock replaces the clock used for events that carry no timestamp.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) Config() Config { return e.cfg }

// Match returns the single session evt settles, or nil. Sessions that are
// not pending are ignored.
func (e *Engine) Match(evt domain.TransferEvent, sessions []domain.Session) *domain.Session {
	pending := onlyPending(sessions)
	if len(pending) == 0 {
		return nil
	}

	switch e.cfg.Strategy {
	case ExactReference:
		return e.matchExactReference(evt, pending)
	case AmountTimeWindow:
		return e.matchAmountTimeWindow(evt, pending)
	default:
		return e.matchAmountTimeReference(evt, pending)
	}
}

// matchExactReference requires exactly one session whose reference appears
// in the narration.
func (e *Engine) matchExactReference(evt domain.TransferEvent, sessions []domain.Session) *domain.Session {
	return sole(referenceHits(evt, sessions))
}

// matchAmountTimeReference narrows to amount/time candidates, prefers a
// unique narration hit among them and otherwise takes the most recently
// created candidate. Several narration hits fall through to the recency rule.
func (e *Engine) matchAmountTimeReference(evt domain.TransferEvent, sessions []domain.Session) *domain.Session {
	candidates := e.amountTimeCandidates(evt, sessions)
	if len(candidates) == 0 {
		return nil
	}
	if hit := sole(referenceHits(evt, candidates)); hit != nil {
		return hit
	}
	return newest(candidates)
}

// matchAmountTimeWindow only accepts an unambiguous amount/time candidate.
func (e *Engine) matchAmountTimeWindow(evt domain.TransferEvent, sessions []domain.Session) *domain.Session {
	return sole(e.amountTimeCandidates(evt, sessions))
}

func (e *Engine) amountTimeCandidates(evt domain.TransferEvent, sessions []domain.Session) []domain.Session {
	at := e.eventTime(evt)
	var out []domain.Session
	for _, s := range sessions {
		if e.amountMatches(evt.Amount, s.Amount) && e.withinWindow(at, s.CreatedAt) {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) amountMatches(paid, expected int64) bool {
	return abs64(paid-expected) <= e.cfg.AmountTolerance
}

func (e *Engine) withinWindow(a, b time.Time) bool {
	return absDuration(a.Sub(b)) <= e.cfg.TimeWindow
}

// eventTime is the bank-side timestamp, or now when the source omitted it.
func (e *Engine) eventTime(evt domain.TransferEvent) time.Time {
	if evt.OccurredAt.IsZero() {
		return e.now()
	}
	return evt.OccurredAt
}

// --- helpers ---

func onlyPending(sessions []domain.Session) []domain.Session {
	out := make([]domain.Session, 0, len(sessions))
	for _, s := range sessions {
		if s.Status == domain.StatusPending {
			out = append(out, s)
		}
	}
	return out
}

func referenceHits(evt domain.TransferEvent, sessions []domain.Session) []domain.Session {
	narration := strings.ToLower(evt.Narration)
	var out []domain.Session
	for _, s := range sessions {
		if narrationHasReference(narration, s.Reference) {
			out = append(out, s)
		}
	}
	return out
}

func narrationHasReference(lowerNarration, reference string) bool {
	return reference != "" && strings.Contains(lowerNarration, strings.ToLower(reference))
}

func sole(sessions []domain.Session) *domain.Session {
	if len(sessions) != 1 {
		return nil
	}
	s := sessions[0]
	return &s
}

// newest returns the session with the latest CreatedAt. On equal timestamps
// the later element of the snapshot (the later insertion) wins.
func newest(sessions []domain.Session) *domain.Session {
	if len(sessions) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(sessions); i++ {
		if !sessions[i].CreatedAt.Before(sessions[best].CreatedAt) {
			best = i
		}
	}
	s := sessions[best]
	return &s
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
