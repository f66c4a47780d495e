package http

import (
	"net/http"
	"strings"

	"loonie/internal/core"
	"loonie/internal/storage"
)

type ruleRequest struct {
	Kind              string   `json:"kind"`
	Pattern           string   `json:"pattern"`
	AlternatePatterns []string `json:"alternate_patterns,omitempty"`
	Category          string   `json:"category"`
	Label             string   `json:"label,omitempty"`
	Priority          int      `json:"priority"`
	Active            *bool    `json:"active,omitempty"`
}

func (req ruleRequest) toDomain(id int64) core.Rule {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	alternates := make([]string, 0, len(req.AlternatePatterns))
	for _, alt := range req.AlternatePatterns {
		alternates = append(alternates, sanitizeInput(alt))
	}
	return core.Rule{
		ID:                id,
		Kind:              core.RuleKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		Pattern:           sanitizeInput(req.Pattern),
		AlternatePatterns: alternates,
		Category:          sanitizeInput(req.Category),
		Label:             sanitizeInput(req.Label),
		Priority:          req.Priority,
		Active:            active,
	}
}

type ruleResponse struct {
	ID                int64    `json:"id"`
	Kind              string   `json:"kind"`
	Pattern           string   `json:"pattern"`
	AlternatePatterns []string `json:"alternate_patterns,omitempty"`
	Category          string   `json:"category"`
	Label             string   `json:"label,omitempty"`
	Priority          int      `json:"priority"`
	Active            bool     `json:"active"`
}

func toRuleResponse(r core.Rule) ruleResponse {
	return ruleResponse{
		ID:                r.ID,
		Kind:              string(r.Kind),
		Pattern:           r.Pattern,
		AlternatePatterns: r.AlternatePatterns,
		Category:          r.Category,
		Label:             r.Label,
		Priority:          r.Priority,
		Active:            r.Active,
	}
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	filter := storage.RuleFilter{
		Kind:     core.RuleKind(strings.TrimSpace(r.URL.Query().Get("kind"))),
		Category: strings.TrimSpace(r.URL.Query().Get("category")),
	}
	if r.URL.Query().Get("active") == "true" {
		filter.ActiveOnly = true
	}

	rules, err := s.rules.ListRules(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]ruleResponse, 0, len(rules))
	for _, rule := range rules {
		out = append(out, toRuleResponse(rule))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	created, err := s.rules.CreateRule(r.Context(), req.toDomain(0))
	if err != nil {
		writeError(w, err)
		return
	}
	s.ruleCache.Invalidate()
	writeJSON(w, http.StatusCreated, toRuleResponse(created))
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req ruleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := s.rules.UpdateRule(r.Context(), req.toDomain(id)); err != nil {
		writeError(w, err)
		return
	}
	s.ruleCache.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.rules.DeleteRule(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.ruleCache.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}
