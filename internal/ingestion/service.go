// Package ingestion is the boundary where raw provider notifications and
// bank statements enter the pipeline. It authenticates, normalizes and
// de-duplicates transfers before handing them to reconciliation.
package ingestion

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/wakala/paybytransfer/internal/domain"
	"github.com/wakala/paybytransfer/internal/provider"
)

// Outcome is what happened to one ingested notification.
type Outcome string

const (
	OutcomeIgnored   Outcome = "ignored"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeMatched   Outcome = "matched"
	OutcomeUnmatched Outcome = "unmatched"
)

// Result is returned from a processed webhook.
type Result struct {
	Outcome  Outcome               `json:"outcome"`
	Transfer *domain.TransferEvent `json:"transfer,omitempty"`
	Session  *domain.Session       `json:"session,omitempty"`
}

// Reconciler confirms the session a transfer pays for. It returns nil when
// nothing matched.
type Reconciler interface {
	Reconcile(evt domain.TransferEvent) (*domain.Session, error)
}

// Deduper records transfer IDs already handed to reconciliation.
type Deduper interface {
	// MarkSeen records (source, id) and reports whether it was new.
	MarkSeen(ctx context.Context, source, id string) (first bool, err error)
	// Forget removes (source, id) so a later delivery is processed again.
	Forget(ctx context.Context, source, id string) error
}

// Service handles webhook and statement ingestion.
type Service struct {
	recon     Reconciler
	dedup     Deduper
	providers map[string]provider.Provider
}

// NewService creates a new ingestion service for the given providers. A nil
// dedup uses an in-memory set.
func NewService(recon Reconciler, dedup Deduper, providers ...provider.Provider) *Service {
	if dedup == nil {
		dedup = NewMemoryDeduper()
	}
	byName := make(map[string]provider.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Service{recon: recon, dedup: dedup, providers: byName}
}

// Process authenticates a webhook for the provider named tag and reconciles
// the transfer it carries. A bad signature returns ErrWebhookVerification
// and nothing else happens.
func (s *Service) Process(ctx context.Context, tag string, header http.Header, body []byte) (*Result, error) {
	p, ok := s.providers[tag]
	if !ok {
		return nil, fmt.Errorf("%w: no webhook endpoint for provider %q", domain.ErrNotFound, tag)
	}

	signature := header.Get(p.SignatureHeader())
	if !p.VerifyWebhookSignature(signature, body) {
		log.Printf("[ingestion] WARNING: rejected %s webhook with invalid signature", tag)
		return nil, fmt.Errorf("%w: %s", domain.ErrWebhookVerification, tag)
	}

	evt, err := p.NormalizeWebhook(body)
	if errors.Is(err, provider.ErrAlreadyProcessed) {
		log.Printf("[ingestion] Skipping duplicate %s delivery: %v", tag, err)
		return &Result{Outcome: OutcomeDuplicate}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("normalize %s webhook: %w", tag, err)
	}
	if evt == nil {
		return &Result{Outcome: OutcomeIgnored}, nil
	}

	return s.ingest(ctx, tag, *evt)
}

// StatementResult summarises a statement import.
type StatementResult struct {
	FileHash   string `json:"file_hash"`
	Imported   bool   `json:"imported"`
	Credits    int    `json:"credits"`
	Matched    int    `json:"matched"`
	Unmatched  int    `json:"unmatched"`
	Duplicates int    `json:"duplicates"`
	Failed     int    `json:"failed"`
}

// ImportStatement parses a bank statement (format "csv" or "json") and
// reconciles each credit. Re-importing an identical file is a no-op.
func (s *Service) ImportStatement(ctx context.Context, data []byte, format, currencyCode string) (*StatementResult, error) {
	hash := fmt.Sprintf("%x", sha256.Sum256(data))

	var transfers []domain.TransferEvent
	var err error
	switch format {
	case "csv", "":
		transfers, err = ParseStatementCSV(data, currencyCode)
	case "json":
		transfers, err = ParseStatementJSON(data, currencyCode)
	default:
		err = domain.NewValidationError("format", fmt.Sprintf("unsupported format: %s", format))
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s statement: %w", format, err)
	}

	// Idempotency check via file hash, only once the file is known to parse.
	first, err := s.dedup.MarkSeen(ctx, StatementProvider, "file:"+hash)
	if err != nil {
		return nil, fmt.Errorf("check hash: %w", err)
	}
	if !first {
		return &StatementResult{FileHash: hash}, nil
	}

	result := &StatementResult{FileHash: hash, Imported: true, Credits: len(transfers)}
	for _, evt := range transfers {
		r, err := s.ingest(ctx, StatementProvider, evt)
		if err != nil {
			log.Printf("[ingestion] WARNING: statement row %s failed: %v", evt.TransactionID, err)
			result.Failed++
			continue
		}
		switch r.Outcome {
		case OutcomeMatched:
			result.Matched++
		case OutcomeUnmatched:
			result.Unmatched++
		case OutcomeDuplicate:
			result.Duplicates++
		}
	}

	if result.Failed > 0 {
		// Rows already handled stay deduplicated; a retry picks up the rest.
		if err := s.dedup.Forget(ctx, StatementProvider, "file:"+hash); err != nil {
			log.Printf("[ingestion] WARNING: could not release statement %s for retry: %v", hash[:12], err)
		}
	}

	log.Printf("[ingestion] Imported statement %s: %d credits (%d matched, %d unmatched, %d duplicates, %d failed)",
		hash[:12], result.Credits, result.Matched, result.Unmatched, result.Duplicates, result.Failed)
	return result, nil
}

func (s *Service) ingest(ctx context.Context, source string, evt domain.TransferEvent) (*Result, error) {
	if evt.TransactionID != "" {
		first, err := s.dedup.MarkSeen(ctx, source, evt.TransactionID)
		if err != nil {
			return nil, fmt.Errorf("dedup %s: %w", evt.TransactionID, err)
		}
		if !first {
			log.Printf("[ingestion] Skipping duplicate %s transfer %s", source, evt.TransactionID)
			return &Result{Outcome: OutcomeDuplicate, Transfer: &evt}, nil
		}
	}

	sess, err := s.recon.Reconcile(evt)
	if err != nil {
		if evt.TransactionID != "" {
			if ferr := s.dedup.Forget(ctx, source, evt.TransactionID); ferr != nil {
				log.Printf("[ingestion] WARNING: could not release %s transfer %s: %v", source, evt.TransactionID, ferr)
			}
		}
		return nil, err
	}
	if sess == nil {
		return &Result{Outcome: OutcomeUnmatched, Transfer: &evt}, nil
	}
	return &Result{Outcome: OutcomeMatched, Transfer: &evt, Session: sess}, nil
}

// MemoryDeduper is a process-local Deduper.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]struct{})}
}

func (d *MemoryDeduper) MarkSeen(_ context.Context, source, id string) (bool, error) {
	key := source + "\x00" + id
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = struct{}{}
	return true, nil
}

func (d *MemoryDeduper) Forget(_ context.Context, source, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, source+"\x00"+id)
	return nil
}
