package http

import (
	"net/http"

	"loonie/internal/core"
)

type factResponse struct {
	ID          int64   `json:"id"`
	Date        string  `json:"date"`
	Description string  `json:"description"`
	Merchant    string  `json:"merchant"`
	Amount      float64 `json:"amount"`
	AmountCents int64   `json:"amount_cents"`
	Direction   string  `json:"direction"`
	Category    string  `json:"category"`
	Label       string  `json:"label,omitempty"`
	Account     string  `json:"account,omitempty"`
}

func toFactResponse(f core.Fact) factResponse {
	return factResponse{
		ID:          f.ID,
		Date:        f.Date.String(),
		Description: f.Description,
		Merchant:    f.Merchant,
		Amount:      f.Amount.Dollars(),
		AmountCents: f.Amount.Cents,
		Direction:   string(f.Direction),
		Category:    f.Category,
		Label:       f.Label,
		Account:     f.Account,
	}
}

// resolveToken turns the authenticated user into their analytics token.
func (s *Server) resolveToken(r *http.Request) (int64, string, error) {
	userID, err := userIDFromHeader(r)
	if err != nil {
		return 0, "", err
	}
	token, err := s.tokens.GetOrCreateToken(r.Context(), userID)
	if err != nil {
		return 0, "", err
	}
	return userID, token, nil
}

func (s *Server) handleListFacts(w http.ResponseWriter, r *http.Request) {
	_, token, err := s.resolveToken(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}

	from, to := parseDateRange(r)
	facts, err := s.facts.ListFacts(r.Context(), token, from, to)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]factResponse, 0, len(facts))
	for _, f := range facts {
		out = append(out, toFactResponse(f))
	}
	writeJSON(w, http.StatusOK, out)
}

type recategorizeRequest struct {
	Category string `json:"category"`
	Label    string `json:"label,omitempty"`
}

// handleRecategorizeFact re-labels a fact and records the correction so the
// engine learns the user's preference.
func (s *Server) handleRecategorizeFact(w http.ResponseWriter, r *http.Request) {
	userID, token, err := s.resolveToken(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}
	factID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req recategorizeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := s.importer.RecordCorrection(r.Context(), userID, token, factID,
		sanitizeInput(req.Category), sanitizeInput(req.Label)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteFact(w http.ResponseWriter, r *http.Request) {
	_, token, err := s.resolveToken(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}
	factID, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.facts.DeleteFact(r.Context(), token, factID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type summaryResponse struct {
	Income     float64           `json:"income"`
	Expenses   float64           `json:"expenses"`
	Net        float64           `json:"net"`
	ByCategory []categorySummary `json:"by_category"`
}

type categorySummary struct {
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	_, token, err := s.resolveToken(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}

	from, to := parseDateRange(r)
	if from.IsZero() || to.IsZero() {
		writeError(w, &core.ValidationError{Field: "from/to", Reason: "summary requires an explicit date range"})
		return
	}

	summary, err := s.facts.CashflowSummary(r.Context(), token, from, to)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := summaryResponse{
		Income:   summary.Income.Dollars(),
		Expenses: summary.Expenses.Dollars(),
		Net:      summary.Income.Dollars() + summary.Expenses.Dollars(),
	}
	for _, ca := range summary.ByCategory {
		resp.ByCategory = append(resp.ByCategory, categorySummary{Category: ca.Name, Amount: ca.Amount.Dollars()})
	}
	writeJSON(w, http.StatusOK, resp)
}
