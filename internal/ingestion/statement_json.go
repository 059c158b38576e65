package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wakala/paybytransfer/internal/currency"
	"github.com/wakala/paybytransfer/internal/domain"
)

// statementFile is the JSON statement export shape.
type statementFile struct {
	AccountNumber string           `json:"account_number"`
	Currency      string           `json:"currency"`
	Transactions  []statementEntry `json:"transactions"`
}

type statementEntry struct {
	Ref           string  `json:"ref"`
	Type          string  `json:"type"`
	Amount        float64 `json:"amount"`
	Narration     string  `json:"narration"`
	Date          string  `json:"date"`
	CustomerEmail string  `json:"customer_email"`
}

// ParseStatementJSON parses a JSON statement export. Only entries of type
// "credit" (or with no type and a positive amount) become transfers.
func ParseStatementJSON(data []byte, currencyCode string) ([]domain.TransferEvent, error) {
	var file statementFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, domain.NewValidationError("statement", fmt.Sprintf("invalid JSON: %v", err))
	}
	code := file.Currency
	if code == "" {
		code = currencyCode
	}
	if code == "" {
		code = "NGN"
	}
	if _, err := currency.Factor(code); err != nil {
		return nil, domain.NewValidationError("currency", err.Error())
	}

	var transfers []domain.TransferEvent

	for i, entry := range file.Transactions {
		if entry.Type != "" && !strings.EqualFold(entry.Type, "credit") {
			continue
		}
		amount, err := currency.ToMinor(entry.Amount, code)
		if err != nil {
			return nil, fmt.Errorf("record %d currency: %w", i, err)
		}
		if amount <= 0 {
			continue
		}
		occurred, err := parseStatementDate(entry.Date)
		if err != nil {
			return nil, domain.NewValidationError("date", fmt.Sprintf("record %d: %v", i, err))
		}

		txnID := entry.Ref
		if txnID == "" {
			txnID = rowID([]string{entry.Date, entry.Narration, fmt.Sprint(entry.Amount)})
		}
		transfers = append(transfers, domain.TransferEvent{
			Provider:      StatementProvider,
			TransactionID: txnID,
			Amount:        amount,
			Currency:      code,
			Narration:     entry.Narration,
			OccurredAt:    occurred,
			CustomerEmail: entry.CustomerEmail,
			AccountNumber: file.AccountNumber,
		})
	}

	return transfers, nil
}
