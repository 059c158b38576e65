package repository

import (
	"log"

	"github.com/google/uuid"

	"github.com/wakala/paybytransfer/internal/domain"
	"github.com/wakala/paybytransfer/internal/events"
)

// Recorder persists bus events: every signal goes to the journal and every
// payment.unmatched is queued for review.
type Recorder struct {
	journal   *JournalRepo
	unmatched *UnmatchedRepo
}

func NewRecorder(journal *JournalRepo, unmatched *UnmatchedRepo) *Recorder {
	return &Recorder{journal: journal, unmatched: unmatched}
}

// Attach subscribes the recorder to bus and returns the unsubscribe func.
func (r *Recorder) Attach(bus *events.Bus) func() {
	return bus.SubscribeAll(r.Handle)
}

// Handle records one event. Storage failures are logged, never propagated
// to the publisher.
func (r *Recorder) Handle(evt events.Event) {
	entry := domain.JournalEntry{Signal: string(evt.Signal), At: evt.At}
	switch {
	case evt.Session != nil:
		entry.Reference = evt.Session.Reference
		entry.Status = string(evt.Session.Status)
		entry.Amount = evt.Session.Amount
		entry.TransactionID = evt.Session.TransactionID
	case evt.Transfer != nil:
		entry.Amount = evt.Transfer.Amount
		entry.TransactionID = evt.Transfer.TransactionID
		entry.Detail = evt.Transfer.Narration
	case evt.Err != nil:
		entry.Detail = evt.Err.Error()
	}
	if err := r.journal.Append(&entry); err != nil {
		log.Printf("[repository] WARNING: failed to journal %s: %v", evt.Signal, err)
	}

	if evt.Signal == events.PaymentUnmatched && evt.Transfer != nil {
		u := &domain.UnmatchedTransfer{
			ID:         "UNM-" + uuid.NewString(),
			Transfer:   *evt.Transfer,
			Status:     domain.ReviewOpen,
			DetectedAt: evt.At,
		}
		inserted, err := r.unmatched.Insert(u)
		if err != nil {
			log.Printf("[repository] WARNING: failed to queue unmatched transfer %s: %v",
				evt.Transfer.TransactionID, err)
			return
		}
		if inserted {
			log.Printf("[repository] Queued unmatched transfer %s (%d) as %s",
				evt.Transfer.TransactionID, evt.Transfer.Amount, u.ID)
		}
	}
}
