package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wakala/paybytransfer/internal/banks"
	"github.com/wakala/paybytransfer/internal/domain"
	"github.com/wakala/paybytransfer/internal/ingestion"
	"github.com/wakala/paybytransfer/internal/metrics"
	"github.com/wakala/paybytransfer/internal/reconciliation"
	"github.com/wakala/paybytransfer/internal/repository"
)

const (
	maxWebhookBytes   = 1 << 20
	maxStatementBytes = 32 << 20
)

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	recon         *reconciliation.Service
	ingestionSvc  *ingestion.Service
	unmatchedRepo *repository.UnmatchedRepo
	journalRepo   *repository.JournalRepo
	metrics       *metrics.Metrics
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps a domain error onto its HTTP status. Validation failures
// carry their per-field details.
func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[api] ERROR: %v", err)
	}
	body := map[string]any{
		"error": err.Error(),
		"kind":  domain.ErrorKind(err),
	}
	if details := domain.ValidationErrors(err); len(details) > 0 {
		body["details"] = details
	}
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateReference),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, repository.ErrAlreadyReviewed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrWebhookVerification):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil
		}
	}
	return &t
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

// --- Health ---

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"provider": h.recon.Provider().Name(),
	})
}

// --- Sessions ---

func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req domain.SessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	sess, err := h.recon.CreateSession(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	status := domain.SessionStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeErr(w, domain.NewValidationError("status", "unknown session status: "+string(status)))
		return
	}

	sessions := h.recon.Sessions(status)
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.recon.CheckStatus(chi.URLParam(r, "reference"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handlers) VerifySession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.recon.Verify(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handlers) ConfirmSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TransactionID string    `json:"transaction_id"`
		PaidAt        time.Time `json:"paid_at"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	sess, err := h.recon.Confirm(chi.URLParam(r, "reference"), body.TransactionID, body.PaidAt)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handlers) RejectSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	sess, err := h.recon.Reject(chi.URLParam(r, "reference"), body.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handlers) BulkConfirm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Confirmations []reconciliation.ConfirmRequest `json:"confirmations"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if len(body.Confirmations) == 0 {
		writeErr(w, domain.NewValidationError("confirmations", "at least one confirmation is required"))
		return
	}

	results := h.recon.BulkConfirm(body.Confirmations)
	var succeeded int
	for _, res := range results {
		if res.Success {
			succeeded++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results":   results,
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
	})
}

func (h *Handlers) SweepExpired(w http.ResponseWriter, r *http.Request) {
	n := h.recon.SweepExpired(h.recon.Now())
	writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}

func (h *Handlers) GetSessionHistory(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	history, err := h.journalRepo.ByReference(reference)
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(history) == 0 {
		writeError(w, http.StatusNotFound, "no history for session "+reference)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reference": reference,
		"history":   history,
	})
}

// --- Matching ---

func (h *Handlers) PossibleMatches(w http.ResponseWriter, r *http.Request) {
	var evt domain.TransferEvent
	if err := decodeBody(r, &evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if evt.Amount <= 0 {
		writeErr(w, domain.NewValidationError("amount", "must be positive"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"candidates": h.recon.PossibleMatches(evt),
	})
}

// --- Ingestion ---

func (h *Handlers) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "provider")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "read body: "+err.Error())
		return
	}

	result, err := h.ingestionSvc.Process(r.Context(), tag, r.Header, body)
	if err != nil {
		h.observeWebhook(tag, domain.ErrorKind(err))
		writeErr(w, err)
		return
	}
	h.observeWebhook(tag, string(result.Outcome))
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) observeWebhook(tag, outcome string) {
	if h.metrics != nil {
		h.metrics.ObserveWebhook(tag, outcome)
	}
}

func (h *Handlers) ImportStatement(w http.ResponseWriter, r *http.Request) {
	// Accept multipart form.
	if err := r.ParseMultipartForm(maxStatementBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required: "+err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read file: "+err.Error())
		return
	}

	format := r.FormValue("format")
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	}

	result, err := h.ingestionSvc.ImportStatement(r.Context(), data, format, r.FormValue("currency"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Review queue ---

func (h *Handlers) ListUnmatched(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.UnmatchedFilter{
		Status:   q.Get("status"),
		Provider: q.Get("provider"),
		From:     parseTime(q.Get("from")),
		To:       parseTime(q.Get("to")),
		Page:     parseIntDefault(q.Get("page"), 1),
		Limit:    parseIntDefault(q.Get("limit"), 50),
	}

	items, total, err := h.unmatchedRepo.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"unmatched": items,
		"total":     total,
		"page":      filter.Page,
		"limit":     filter.Limit,
	})
}

func (h *Handlers) GetUnmatchedSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.unmatchedRepo.GetSummary()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handlers) GetUnmatched(w http.ResponseWriter, r *http.Request) {
	item, err := h.unmatchedRepo.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handlers) GetUnmatchedCandidates(w http.ResponseWriter, r *http.Request) {
	item, err := h.unmatchedRepo.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transfer":   item.Transfer,
		"candidates": h.recon.PossibleMatches(item.Transfer),
	})
}

// ResolveUnmatched confirms the chosen session with the queued transfer and
// closes the review item.
func (h *Handlers) ResolveUnmatched(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reference string `json:"reference"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.Reference == "" {
		writeErr(w, domain.NewValidationError("reference", "is required"))
		return
	}

	item, err := h.unmatchedRepo.GetByID(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if item.Status != domain.ReviewOpen {
		writeErr(w, repository.ErrAlreadyReviewed)
		return
	}

	sess, err := h.recon.Confirm(body.Reference, item.Transfer.TransactionID, item.Transfer.OccurredAt)
	if err != nil {
		writeErr(w, err)
		return
	}
	// Confirm is a no-op on a settled session, so check who settled it.
	if txn := item.Transfer.TransactionID; txn != "" && sess.TransactionID != txn {
		writeErr(w, fmt.Errorf("%w: session %s already settled by transaction %s",
			domain.ErrInvalidTransition, sess.Reference, sess.TransactionID))
		return
	}
	if err := h.unmatchedRepo.Resolve(item.ID, sess.Reference, h.recon.Now()); err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":      item.ID,
		"status":  domain.ReviewResolved,
		"session": sess,
	})
}

func (h *Handlers) DismissUnmatched(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Note string `json:"note"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.unmatchedRepo.Dismiss(id, body.Note, h.recon.Now()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"status": domain.ReviewDismissed,
	})
}

// --- Journal ---

func (h *Handlers) ListJournal(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.JournalFilter{
		Signal: q.Get("signal"),
		From:   parseTime(q.Get("from")),
		To:     parseTime(q.Get("to")),
		Page:   parseIntDefault(q.Get("page"), 1),
		Limit:  parseIntDefault(q.Get("limit"), 50),
	}

	entries, total, err := h.journalRepo.List(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
		"page":    filter.Page,
		"limit":   filter.Limit,
	})
}

// --- Reference data ---

func (h *Handlers) ListBanks(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("name"); name != "" {
		writeJSON(w, http.StatusOK, banks.Bank{Name: name, Code: banks.Resolve(name)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"banks": banks.All()})
}

// --- GetStats ---

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"provider": h.recon.Provider().Name(),
		"sessions": h.recon.Stats(),
	}
	if h.unmatchedRepo != nil {
		summary, err := h.unmatchedRepo.GetSummary()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		stats["unmatched"] = summary
	}
	writeJSON(w, http.StatusOK, stats)
}
