package http

import (
	"net/http"

	"loonie/internal/core"
)

type profileRequest struct {
	Email       string `json:"email"`
	GivenName   string `json:"given_name,omitempty"`
	FamilyName  string `json:"family_name,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Region      string `json:"region,omitempty"`
}

// handleUpsertProfile creates or refreshes the identity profile. Refreshing
// cancels a pending soft-delete.
func (s *Server) handleUpsertProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromHeader(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}

	var req profileRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if sanitizeInput(req.Email) == "" {
		writeError(w, &core.ValidationError{Field: "email", Reason: "must not be empty"})
		return
	}

	err = s.identity.UpsertPIIUser(r.Context(), core.PIIUser{
		InternalUserID: userID,
		Email:          sanitizeInput(req.Email),
		GivenName:      sanitizeInput(req.GivenName),
		FamilyName:     sanitizeInput(req.FamilyName),
		DateOfBirth:    sanitizeInput(req.DateOfBirth),
		Phone:          sanitizeInput(req.Phone),
		Region:         sanitizeInput(req.Region),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type exportResponse struct {
	FactsRef   string `json:"facts_ref,omitempty"`
	ProfileRef string `json:"profile_ref,omitempty"`
	Facts      int    `json:"facts"`
}

// handleExport fulfils a data-access request: every fact plus the identity
// profile, written to the configured export backend.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	userID, token, err := s.resolveToken(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}
	if s.facexp == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "export backend not configured"})
		return
	}

	facts, err := s.facts.ListFacts(r.Context(), token, core.Date{}, core.Date{})
	if err != nil {
		writeError(w, err)
		return
	}

	factsRef, err := s.facexp.ExportFacts(r.Context(), token, facts)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := exportResponse{FactsRef: factsRef, Facts: len(facts)}

	if s.profexp != nil {
		profile, err := s.identity.GetPIIUser(r.Context(), userID)
		if err == nil {
			ref, expErr := s.profexp.ExportProfile(r.Context(), profile)
			if expErr != nil {
				writeError(w, expErr)
				return
			}
			resp.ProfileRef = ref
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleDeleteAccount starts the erasure clock on the identity profile. The
// analytics facts stay, they carry no PII. Idempotent: repeating the request
// does not move the erasure date.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromHeader(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
		return
	}
	if err := s.identity.MarkPIIDeleted(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
