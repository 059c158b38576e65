package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wakala/paybytransfer/internal/api"
	"github.com/wakala/paybytransfer/internal/config"
	"github.com/wakala/paybytransfer/internal/events"
	"github.com/wakala/paybytransfer/internal/ingestion"
	"github.com/wakala/paybytransfer/internal/matching"
	"github.com/wakala/paybytransfer/internal/metrics"
	"github.com/wakala/paybytransfer/internal/provider"
	"github.com/wakala/paybytransfer/internal/reconciliation"
	"github.com/wakala/paybytransfer/internal/repository"
	"github.com/wakala/paybytransfer/internal/session"
)

func serveCmd() *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the expiry sweeper",
		Long: `Start the reconciliation server.

Configuration comes from --config (YAML) with environment overrides, e.g.

  PBT_PROVIDER=paystack PBT_API_KEY=sk_live_... paybytransfer serve
  paybytransfer serve --config paybytransfer.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration:\n%w", err)
			}
			return runServe(cfg, retention)
		},
	}

	cmd.Flags().DurationVar(&retention, "retention", 7*24*time.Hour,
		"how long terminal sessions and webhook ledger rows are kept")

	return cmd
}

func runServe(cfg *config.Config, retention time.Duration) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Initializing database at %s", cfg.DBPath)
	db, err := repository.InitDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("init db: %w", err)
	}
	defer db.Close()

	// Create repositories.
	journalRepo := repository.NewJournalRepo(db)
	unmatchedRepo := repository.NewUnmatchedRepo(db)
	webhookRepo := repository.NewWebhookEventRepo(db)

	// Event subscribers.
	bus := events.NewBus()
	repository.NewRecorder(journalRepo, unmatchedRepo).Attach(bus)
	m := metrics.New()
	m.Attach(bus)

	// Create services.
	p, err := provider.New(cfg.ProviderConfig())
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	store := session.NewStore()
	engine := matching.NewEngine(cfg.EngineConfig())
	reconSvc := reconciliation.NewService(p, store, engine, bus, cfg.SessionTimeout)
	m.TrackPending(func() int { return len(store.Pending()) })

	var dedup ingestion.Deduper = webhookRepo
	if cfg.Dedup == config.DedupMemory {
		dedup = ingestion.NewMemoryDeduper()
	}
	ingestionSvc := ingestion.NewService(reconSvc, dedup, p)

	go sweep(ctx, reconSvc, webhookRepo, cfg.SweepInterval, retention)

	// Create router.
	router := api.NewRouter(reconSvc, ingestionSvc, unmatchedRepo, journalRepo, m)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("Pay-by-Transfer Reconciler (provider %s, strategy %s)", p.Name(), engine.Config().Strategy)
	log.Printf("Listening on http://localhost:%s", cfg.Port)
	log.Printf("API base: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("")
	log.Printf("Endpoints:")
	log.Printf("  POST   /api/v1/sessions")
	log.Printf("  GET    /api/v1/sessions/{reference}")
	log.Printf("  POST   /api/v1/sessions/{reference}/verify|confirm|reject")
	log.Printf("  POST   /api/v1/webhooks/%s", p.Name())
	log.Printf("  POST   /api/v1/statements")
	log.Printf("  GET    /api/v1/unmatched")
	log.Printf("  GET    /api/v1/stats")
	log.Printf("  GET    /metrics")

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Printf("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// sweep expires overdue sessions on every tick and drops terminal sessions
// and ledger rows older than retention.
func sweep(ctx context.Context, svc *reconciliation.Service, ledger *repository.WebhookEventRepo, every, retention time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := svc.Now()
		svc.SweepExpired(now)
		if retention <= 0 {
			continue
		}
		svc.Prune(now.Add(-retention))
		if n, err := ledger.PurgeBefore(now.Add(-retention)); err != nil {
			log.Printf("[sweeper] WARNING: purge webhook ledger: %v", err)
		} else if n > 0 {
			log.Printf("[sweeper] Purged %d webhook ledger rows", n)
		}
	}
}
