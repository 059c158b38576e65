package matching

import (
	"math"
	"sort"
	"strings"

	"github.com/wakala/paybytransfer/internal/domain"
)

// Score weights, out of MaxConfidence.
const (
	exactAmountPoints   = 40.0
	nearAmountPoints    = 20.0
	referencePoints     = 30.0
	timeProximityPoints = 20.0
	emailPoints         = 10.0

	MaxConfidence   = 100.0
	ReviewThreshold = 50.0
)

// Confidence scores (0-100) how likely evt settles s. It is advisory and
// never drives automatic confirmation.
func (e *Engine) Confidence(evt domain.TransferEvent, s domain.Session) float64 {
	score := 0.0

	switch {
	case evt.Amount == s.Amount:
		score += exactAmountPoints
	case e.amountMatches(evt.Amount, s.Amount):
		score += nearAmountPoints
	}

	if narrationHasReference(strings.ToLower(evt.Narration), s.Reference) {
		score += referencePoints
	}

	dt := absDuration(e.eventTime(evt).Sub(s.CreatedAt))
	if dt <= e.cfg.TimeWindow {
		score += timeProximityPoints * (1 - float64(dt)/float64(e.cfg.TimeWindow))
	}

	if evt.CustomerEmail != "" && strings.EqualFold(evt.CustomerEmail, s.CustomerEmail) {
		score += emailPoints
	}

	return math.Min(score, MaxConfidence)
}

// PossibleMatches ranks pending sessions scoring above ReviewThreshold,
// highest first, for a human to choose from.
func (e *Engine) PossibleMatches(evt domain.TransferEvent, sessions []domain.Session) []domain.Candidate {
	var out []domain.Candidate
	for _, s := range onlyPending(sessions) {
		c := e.Confidence(evt, s)
		if c > ReviewThreshold {
			out = append(out, domain.Candidate{Session: s, Confidence: c})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}
