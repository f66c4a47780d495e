package categorize

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"loonie/internal/core"
	"loonie/internal/log"
)

// RuleSource loads the active rule set, typically the SQLite repository.
type RuleSource interface {
	ActiveRules(ctx context.Context) ([]core.Rule, error)
}

// matchRule is a rule compiled for matching: every pattern (primary plus
// alternates) in canonical lower-case normalized form, with empties dropped.
type matchRule struct {
	rule     core.Rule
	patterns []string
}

// RuleCache is the process-wide snapshot of active rules. Rules change at
// admin-edit frequency, so categorization reads a cached snapshot refreshed
// after ttl or on explicit Invalidate; a few seconds of staleness is
// accepted and documented behavior, not a bug.
type RuleCache struct {
	source RuleSource
	ttl    time.Duration

	mu       sync.RWMutex
	rules    []matchRule
	loadedAt time.Time
}

func NewRuleCache(source RuleSource, ttl time.Duration) *RuleCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RuleCache{source: source, ttl: ttl}
}

// Rules returns the current snapshot, reloading it when stale. A failed
// refresh falls back to the previous snapshot so one storage hiccup cannot
// break categorization.
func (c *RuleCache) Rules(ctx context.Context) ([]matchRule, error) {
	c.mu.RLock()
	fresh := !c.loadedAt.IsZero() && time.Since(c.loadedAt) < c.ttl
	rules := c.rules
	c.mu.RUnlock()
	if fresh {
		return rules, nil
	}

	loaded, err := c.source.ActiveRules(ctx)
	if err != nil {
		if rules != nil {
			slog.WarnContext(ctx, "Rule refresh failed, serving previous snapshot", log.FieldError, err)
			return rules, nil
		}
		return nil, fmt.Errorf("load active rules: %w", err)
	}

	compiled := compileRules(ctx, loaded)

	c.mu.Lock()
	c.rules = compiled
	c.loadedAt = time.Now()
	c.mu.Unlock()

	return compiled, nil
}

// Invalidate drops the snapshot; the next Rules call reloads. Admin rule
// mutations call this so edits take effect without waiting out the TTL.
func (c *RuleCache) Invalidate() {
	c.mu.Lock()
	c.loadedAt = time.Time{}
	c.mu.Unlock()
}

func compileRules(ctx context.Context, rules []core.Rule) []matchRule {
	compiled := make([]matchRule, 0, len(rules))
	for _, rule := range rules {
		patterns := make([]string, 0, 1+len(rule.AlternatePatterns))
		if p := core.Normalize(rule.Pattern); p != "" {
			patterns = append(patterns, p)
		}
		for _, alt := range rule.AlternatePatterns {
			if p := core.Normalize(alt); p != "" {
				patterns = append(patterns, p)
			}
		}
		if len(patterns) == 0 {
			// Malformed rule: skipped, never fatal.
			slog.WarnContext(ctx, "Skipping rule with empty pattern", log.FieldRuleID, rule.ID)
			continue
		}
		compiled = append(compiled, matchRule{rule: rule, patterns: patterns})
	}
	return compiled
}
