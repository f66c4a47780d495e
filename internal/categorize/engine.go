// Package categorize assigns a category and label to parsed statement
// transactions using a tiered matching strategy over admin-configured rules
// and per-user correction history.
package categorize

import (
	"context"
	"log/slog"
	"strings"

	"loonie/internal/core"
	"loonie/internal/log"
)

const (
	SourceMerchantExact     MatchSource = "merchant_exact"
	SourceMerchantSubstring MatchSource = "merchant_substring"
	SourceKeyword           MatchSource = "keyword"
	SourceHistory           MatchSource = "history"
	SourceFallback          MatchSource = "fallback"
)

// FallbackCategory is the decision of last resort. Categorization never
// errors: one bad rule or malformed description must not block an import.
const FallbackCategory = "Uncategorised"

type (
	// MatchSource names the tier that produced a decision.
	MatchSource string

	// Decision is the categorization outcome for one transaction.
	Decision struct {
		Category   string
		Label      string
		Confidence float64
		Source     MatchSource
	}
)

// CorrectionSource loads a user's remembered re-categorizations, most
// frequent first.
type CorrectionSource interface {
	CorrectionsByUser(ctx context.Context, internalUserID int64) ([]core.Correction, error)
}

// Engine matches transactions against the rule snapshot. It only reads
// rules; admin mutations go through storage and invalidate the cache.
type Engine struct {
	rules       *RuleCache
	corrections CorrectionSource
}

func NewEngine(rules *RuleCache, corrections CorrectionSource) *Engine {
	return &Engine{rules: rules, corrections: corrections}
}

// Categorize runs the tiers in order, first decisive match wins:
//
//  1. exact merchant-pattern match
//  2. substring merchant-pattern match, longest pattern first
//  3. keyword match on the description, highest priority first
//  4. the user's correction history, weighted by frequency
//  5. the Uncategorised fallback
//
// Empty merchant or description fields simply fail their tiers; the method
// always returns a usable decision and never an error.
func (e *Engine) Categorize(ctx context.Context, internalUserID int64, tx core.RawTransaction) Decision {
	merchant := core.Normalize(tx.Merchant)
	description := core.Normalize(tx.Description)

	rules, err := e.rules.Rules(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Rule snapshot unavailable, falling through to history",
			log.FieldError, err)
	}

	if merchant != "" {
		if d, ok := matchMerchantExact(rules, merchant); ok {
			return d
		}
		if d, ok := matchMerchantSubstring(rules, merchant); ok {
			return d
		}
	}
	if description != "" {
		if d, ok := matchKeyword(rules, description); ok {
			return d
		}
		if d, ok := e.matchHistory(ctx, internalUserID, description); ok {
			return d
		}
	}

	return Decision{Category: FallbackCategory, Label: "", Confidence: 0, Source: SourceFallback}
}

func matchMerchantExact(rules []matchRule, merchant string) (Decision, bool) {
	var (
		best  core.Rule
		found bool
	)
	for _, mr := range rules {
		if mr.rule.Kind != core.MerchantRule {
			continue
		}
		for _, p := range mr.patterns {
			if p != merchant {
				continue
			}
			if !found || betterByPriority(mr.rule, best) {
				best = mr.rule
				found = true
			}
			break
		}
	}
	if !found {
		return Decision{}, false
	}
	return Decision{Category: best.Category, Label: best.Label, Confidence: 1.0, Source: SourceMerchantExact}, true
}

// matchMerchantSubstring prefers the longest matching pattern so a specific
// rule ("TIM HORTONS") beats a generic one ("TIM") regardless of priority;
// priority then alphabetical order break remaining ties deterministically.
func matchMerchantSubstring(rules []matchRule, merchant string) (Decision, bool) {
	var (
		best        core.Rule
		bestPattern string
		found       bool
	)
	for _, mr := range rules {
		if mr.rule.Kind != core.MerchantRule {
			continue
		}
		for _, p := range mr.patterns {
			if !strings.Contains(merchant, p) {
				continue
			}
			switch {
			case !found,
				len(p) > len(bestPattern),
				len(p) == len(bestPattern) && betterByPriority(mr.rule, best),
				len(p) == len(bestPattern) && mr.rule.Priority == best.Priority && p < bestPattern:
				best = mr.rule
				bestPattern = p
				found = true
			}
		}
	}
	if !found {
		return Decision{}, false
	}
	return Decision{Category: best.Category, Label: best.Label, Confidence: 0.9, Source: SourceMerchantSubstring}, true
}

// matchKeyword scans the description for keyword rules: highest priority
// wins, longer then alphabetically-smaller patterns break ties.
func matchKeyword(rules []matchRule, description string) (Decision, bool) {
	var (
		best        core.Rule
		bestPattern string
		found       bool
	)
	for _, mr := range rules {
		if mr.rule.Kind != core.KeywordRule {
			continue
		}
		for _, p := range mr.patterns {
			if !strings.Contains(description, p) {
				continue
			}
			switch {
			case !found,
				mr.rule.Priority > best.Priority,
				mr.rule.Priority == best.Priority && len(p) > len(bestPattern),
				mr.rule.Priority == best.Priority && len(p) == len(bestPattern) && p < bestPattern:
				best = mr.rule
				bestPattern = p
				found = true
			}
		}
	}
	if !found {
		return Decision{}, false
	}
	return Decision{Category: best.Category, Label: best.Label, Confidence: 0.7, Source: SourceKeyword}, true
}

// matchHistory applies the user's own past corrections. Corrections arrive
// sorted most-frequent first, so the first containment hit wins; confidence
// grows with repetition but stays below every rule tier.
func (e *Engine) matchHistory(ctx context.Context, internalUserID int64, description string) (Decision, bool) {
	if e.corrections == nil || internalUserID == 0 {
		return Decision{}, false
	}
	corrections, err := e.corrections.CorrectionsByUser(ctx, internalUserID)
	if err != nil {
		slog.WarnContext(ctx, "Correction history unavailable",
			log.FieldUserID, internalUserID, log.FieldError, err)
		return Decision{}, false
	}
	for _, c := range corrections {
		if c.Pattern == "" || !strings.Contains(description, c.Pattern) {
			continue
		}
		return Decision{
			Category:   c.Category,
			Label:      c.Label,
			Confidence: historyConfidence(c.Frequency),
			Source:     SourceHistory,
		}, true
	}
	return Decision{}, false
}

func historyConfidence(frequency int64) float64 {
	conf := 0.4 + 0.02*float64(frequency)
	if conf > 0.6 {
		conf = 0.6
	}
	return conf
}

// betterByPriority: higher priority wins; equal priority falls back to
// alphabetical pattern order so the outcome never depends on storage order.
func betterByPriority(candidate, current core.Rule) bool {
	if candidate.Priority != current.Priority {
		return candidate.Priority > current.Priority
	}
	return candidate.Pattern < current.Pattern
}
