package http

import (
	"fmt"
	"net/http"

	"loonie/internal/core"
	"loonie/internal/services"
)

// TransactionRequest is the wire form of one statement line.
type TransactionRequest struct {
	Date        string `json:"date"`
	Description string `json:"description,omitempty"`
	Merchant    string `json:"merchant,omitempty"`
	Amount      string `json:"amount"`
	Direction   string `json:"direction"`
	Account     string `json:"account,omitempty"`
}

// toDomain converts one line.
func (t TransactionRequest) toDomain() (core.RawTransaction, error) {
	date, err := core.ParseDate(t.Date)
	if err != nil {
		return core.RawTransaction{}, fmt.Errorf("date %q: %w", t.Date, err)
	}
	cents, err := core.ParseDecimalToCents(t.Amount)
	if err != nil {
		return core.RawTransaction{}, fmt.Errorf("amount %q: %w", t.Amount, err)
	}
	return core.RawTransaction{
		Date:        date,
		Description: sanitizeInput(t.Description),
		Merchant:    sanitizeInput(t.Merchant),
		Amount:      core.Money{Cents: cents},
		Direction:   core.Direction(t.Direction),
		Account:     sanitizeInput(t.Account),
	}, nil
}

type importRequest struct {
	Transactions []TransactionRequest `json:"transactions"`
}

// handleImport runs a statement batch through the pipeline synchronously and
// returns the per-batch accounting.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromHeader(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}

	var req importRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Transactions) == 0 {
		writeError(w, &core.ValidationError{Field: "transactions", Reason: "batch is empty"})
		return
	}

	// A line that fails conversion is reported in the summary with its
	// reason; the rest of the batch still runs.
	txs := make([]core.RawTransaction, 0, len(req.Transactions))
	var lineErrors []string
	for i, line := range req.Transactions {
		tx, err := line.toDomain()
		if err != nil {
			lineErrors = append(lineErrors, fmt.Sprintf("line %d: %v", i, err))
			continue
		}
		txs = append(txs, tx)
	}

	summary := services.Summary{Errors: []string{}}
	if len(txs) > 0 {
		var err error
		summary, err = s.importer.ImportBatch(r.Context(), userID, txs)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	summary.Errors = append(summary.Errors, lineErrors...)
	writeJSON(w, http.StatusOK, summary)
}

type asyncImportResponse struct {
	BatchID string `json:"batch_id"`
}

// handleImportAsync enqueues the batch for the import worker and returns
// immediately with the batch id.
func (s *Server) handleImportAsync(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromHeader(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}
	if s.publisher == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "async import not configured"})
		return
	}

	var req importRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Transactions) == 0 {
		writeError(w, &core.ValidationError{Field: "transactions", Reason: "batch is empty"})
		return
	}

	batchID, err := s.publisher.PublishStatementBatch(r.Context(), userID, req.Transactions)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, asyncImportResponse{BatchID: batchID})
}
