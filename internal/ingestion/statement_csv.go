package ingestion

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/wakala/paybytransfer/internal/currency"
	"github.com/wakala/paybytransfer/internal/domain"
)

// StatementProvider tags transfers that came from an imported bank statement.
const StatementProvider = "statement"

// column aliases accepted in a statement header, lower-cased.
var statementColumns = map[string][]string{
	"date":      {"date", "transaction_date", "value_date", "posted_at"},
	"narration": {"narration", "description", "remarks", "details"},
	"credit":    {"credit", "credit_amount", "amount_in", "deposit"},
	"reference": {"reference", "transaction_id", "txref", "ref"},
	"email":     {"customer_email", "email"},
}

var statementDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"02/01/2006",
	"02-Jan-2006",
}

// ParseStatementCSV parses a bank statement export into credit transfers.
// The delimiter is a comma, or a pipe when the header uses pipes. Columns
// are located by name. Debit rows and rows without a credit amount are
// skipped.
//
// Minimal header:
//
//	date,narration,credit
func ParseStatementCSV(data []byte, currencyCode string) ([]domain.TransferEvent, error) {
	if currencyCode == "" {
		currencyCode = "NGN"
	}
	if _, err := currency.Factor(currencyCode); err != nil {
		return nil, domain.NewValidationError("currency", err.Error())
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	if firstLine, _, _ := bytes.Cut(data, []byte("\n")); bytes.Count(firstLine, []byte("|")) > bytes.Count(firstLine, []byte(",")) {
		reader.Comma = '|'
	}

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := locateColumns(header)
	for _, required := range []string{"date", "narration", "credit"} {
		if _, ok := cols[required]; !ok {
			return nil, domain.NewValidationError("statement", fmt.Sprintf("missing %s column", required))
		}
	}

	var transfers []domain.TransferEvent
	lineNum := 1

	for {
		lineNum++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		creditStr := field(row, cols, "credit")
		if creditStr == "" {
			continue
		}
		credit, err := strconv.ParseFloat(strings.ReplaceAll(creditStr, ",", ""), 64)
		if err != nil {
			return nil, domain.NewValidationError("credit", fmt.Sprintf("line %d: %v", lineNum, err))
		}
		amount, err := currency.ToMinor(credit, currencyCode)
		if err != nil {
			return nil, fmt.Errorf("line %d currency: %w", lineNum, err)
		}
		if amount <= 0 {
			continue
		}

		occurred, err := parseStatementDate(field(row, cols, "date"))
		if err != nil {
			return nil, domain.NewValidationError("date", fmt.Sprintf("line %d: %v", lineNum, err))
		}

		narration := field(row, cols, "narration")
		txnID := field(row, cols, "reference")
		if txnID == "" {
			txnID = rowID(row)
		}

		transfers = append(transfers, domain.TransferEvent{
			Provider:      StatementProvider,
			TransactionID: txnID,
			Amount:        amount,
			Currency:      currencyCode,
			Narration:     narration,
			OccurredAt:    occurred,
			CustomerEmail: field(row, cols, "email"),
		})
	}

	return transfers, nil
}

// --- helpers ---

func locateColumns(header []string) map[string]int {
	cols := make(map[string]int)
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		name = strings.TrimPrefix(name, "\ufeff")
		for key, aliases := range statementColumns {
			if _, done := cols[key]; done {
				continue
			}
			for _, a := range aliases {
				if name == a {
					cols[key] = i
				}
			}
		}
	}
	return cols
}

func field(row []string, cols map[string]int, key string) string {
	i, ok := cols[key]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseStatementDate(s string) (time.Time, error) {
	for _, layout := range statementDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// rowID derives a stable transaction ID for statement rows that carry none,
// so re-importing the same row is recognised as a duplicate.
func rowID(row []string) string {
	sum := sha256.Sum256([]byte(strings.Join(row, "\x1f")))
	return fmt.Sprintf("STMT-%x", sum[:8])
}
