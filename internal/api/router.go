package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wakala/paybytransfer/internal/ingestion"
	"github.com/wakala/paybytransfer/internal/metrics"
	"github.com/wakala/paybytransfer/internal/reconciliation"
	"github.com/wakala/paybytransfer/internal/repository"
)

// NewRouter creates the Chi router with all API routes mounted. The
// repositories and metrics may be nil; their routes are then not mounted.
func NewRouter(
	recon *reconciliation.Service,
	ingestionSvc *ingestion.Service,
	unmatchedRepo *repository.UnmatchedRepo,
	journalRepo *repository.JournalRepo,
	m *metrics.Metrics,
) http.Handler {
	h := &Handlers{
		recon:         recon,
		ingestionSvc:  ingestionSvc,
		unmatchedRepo: unmatchedRepo,
		journalRepo:   journalRepo,
		metrics:       m,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if m != nil {
		r.Use(m.Middleware)
	}

	r.Get("/health", h.Health)
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))

		// Sessions.
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions", h.ListSessions)
		r.Post("/sessions/confirm", h.BulkConfirm)
		r.Post("/sessions/sweep", h.SweepExpired)
		r.Get("/sessions/{reference}", h.GetSession)
		r.Post("/sessions/{reference}/verify", h.VerifySession)
		r.Post("/sessions/{reference}/confirm", h.ConfirmSession)
		r.Post("/sessions/{reference}/reject", h.RejectSession)
		if journalRepo != nil {
			r.Get("/sessions/{reference}/history", h.GetSessionHistory)
		}

		// Matching.
		r.Post("/matches", h.PossibleMatches)

		// Ingestion.
		r.Post("/webhooks/{provider}", h.ReceiveWebhook)
		r.Post("/statements", h.ImportStatement)

		// Review queue.
		if unmatchedRepo != nil {
			r.Get("/unmatched", h.ListUnmatched)
			r.Get("/unmatched/summary", h.GetUnmatchedSummary)
			r.Get("/unmatched/{id}", h.GetUnmatched)
			r.Get("/unmatched/{id}/candidates", h.GetUnmatchedCandidates)
			r.Post("/unmatched/{id}/resolve", h.ResolveUnmatched)
			r.Post("/unmatched/{id}/dismiss", h.DismissUnmatched)
		}

		// Journal.
		if journalRepo != nil {
			r.Get("/journal", h.ListJournal)
		}

		// Reference data and dashboard.
		r.Get("/banks", h.ListBanks)
		r.Get("/stats", h.GetStats)
	})

	return r
}
