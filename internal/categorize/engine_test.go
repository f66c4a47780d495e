package categorize

import (
	"context"
	"errors"
	"testing"
	"time"

	"loonie/internal/core"
)

type fakeRuleSource struct {
	rules []core.Rule
	err   error
	loads int
}

func (f *fakeRuleSource) ActiveRules(ctx context.Context) ([]core.Rule, error) {
	f.loads++
	return f.rules, f.err
}

type fakeCorrectionSource struct {
	corrections []core.Correction
	err         error
}

func (f *fakeCorrectionSource) CorrectionsByUser(ctx context.Context, internalUserID int64) ([]core.Correction, error) {
	return f.corrections, f.err
}

func merchantRule(pattern, category, label string, priority int, alternates ...string) core.Rule {
	return core.Rule{
		Kind: core.MerchantRule, Pattern: pattern, AlternatePatterns: alternates,
		Category: category, Label: label, Priority: priority, Active: true,
	}
}

func keywordRule(pattern, category, label string, priority int, alternates ...string) core.Rule {
	return core.Rule{
		Kind: core.KeywordRule, Pattern: pattern, AlternatePatterns: alternates,
		Category: category, Label: label, Priority: priority, Active: true,
	}
}

func newEngine(rules []core.Rule, corrections *fakeCorrectionSource) *Engine {
	cache := NewRuleCache(&fakeRuleSource{rules: rules}, time.Minute)
	if corrections == nil {
		corrections = &fakeCorrectionSource{}
	}
	return NewEngine(cache, corrections)
}

func tx(merchant, description string) core.RawTransaction {
	return core.RawTransaction{
		Date:        core.NewDate(2024, 1, 15),
		Merchant:    merchant,
		Description: description,
		Amount:      core.Money{Cents: -6000},
		Direction:   core.Expense,
	}
}

func TestCategorizeExactMerchant(t *testing.T) {
	engine := newEngine([]core.Rule{
		merchantRule("FIDO", "Bills", "Telecom", 10, "FIDO MOBILE"),
	}, nil)

	d := engine.Categorize(context.Background(), 1, tx("FIDO MOBILE", ""))
	if d.Category != "Bills" || d.Label != "Telecom" {
		t.Errorf("decision = %s/%s, want Bills/Telecom", d.Category, d.Label)
	}
	if d.Source != SourceMerchantExact || d.Confidence != 1.0 {
		t.Errorf("source/confidence = %s/%v, want merchant_exact/1.0", d.Source, d.Confidence)
	}
}

func TestCategorizeSubstringMerchantScenario(t *testing.T) {
	// The FIDO/Bills/Telecom statement scenario: merchant carries extra
	// rendering the rule pattern does not.
	engine := newEngine([]core.Rule{
		merchantRule("FIDO", "Bills", "Telecom", 10),
	}, nil)

	d := engine.Categorize(context.Background(), 1, tx("FIDO MOBILE #001", ""))
	if d.Category != "Bills" || d.Label != "Telecom" {
		t.Errorf("decision = %s/%s, want Bills/Telecom", d.Category, d.Label)
	}
	if d.Source != SourceMerchantSubstring {
		t.Errorf("source = %s, want merchant_substring", d.Source)
	}
}

func TestCategorizeLongestPatternWins(t *testing.T) {
	// "TIM" has the higher snapshot position and a real priority, but the
	// longer "TIM HORTONS" pattern is more specific and must win.
	engine := newEngine([]core.Rule{
		merchantRule("TIM", "Misc", "", 5),
		merchantRule("TIM HORTONS", "Restaurants", "Coffee", 10),
	}, nil)

	d := engine.Categorize(context.Background(), 1, tx("TIM HORTONS #1234", ""))
	if d.Category != "Restaurants" {
		t.Errorf("category = %s, want Restaurants", d.Category)
	}

	// Same outcome with the priorities flipped: length outranks priority
	// inside the substring tier.
	engine = newEngine([]core.Rule{
		merchantRule("TIM", "Misc", "", 10),
		merchantRule("TIM HORTONS", "Restaurants", "Coffee", 5),
	}, nil)
	d = engine.Categorize(context.Background(), 1, tx("TIM HORTONS #1234", ""))
	if d.Category != "Restaurants" {
		t.Errorf("category with flipped priorities = %s, want Restaurants", d.Category)
	}
}

func TestCategorizeEqualTieBreakIsDeterministic(t *testing.T) {
	// Equal length and priority: alphabetical pattern order decides, not
	// storage order.
	rules := []core.Rule{
		merchantRule("ZBC", "Second", "", 5),
		merchantRule("ABC", "First", "", 5),
	}
	engine := newEngine(rules, nil)
	d := engine.Categorize(context.Background(), 1, tx("ABC ZBC STORE", ""))
	if d.Category != "First" {
		t.Errorf("category = %s, want First (alphabetical tie-break)", d.Category)
	}

	// Reversed storage order gives the same answer.
	engine = newEngine([]core.Rule{rules[1], rules[0]}, nil)
	d = engine.Categorize(context.Background(), 1, tx("ABC ZBC STORE", ""))
	if d.Category != "First" {
		t.Errorf("category with reversed order = %s, want First", d.Category)
	}
}

func TestCategorizeKeywordTier(t *testing.T) {
	engine := newEngine([]core.Rule{
		keywordRule("PAYROLL", "Income", "Salary", 10),
		keywordRule("PAY", "Misc", "", 20),
	}, nil)

	// Keyword tier is priority-first: "PAY" (20) beats "PAYROLL" (10).
	d := engine.Categorize(context.Background(), 1, tx("", "ACME CORP PAYROLL DEP"))
	if d.Category != "Misc" {
		t.Errorf("category = %s, want Misc (priority wins in keyword tier)", d.Category)
	}
	if d.Source != SourceKeyword || d.Confidence != 0.7 {
		t.Errorf("source/confidence = %s/%v", d.Source, d.Confidence)
	}

	// Merchant rules never match descriptions.
	engine = newEngine([]core.Rule{merchantRule("PAYROLL", "Wrong", "", 50)}, nil)
	d = engine.Categorize(context.Background(), 1, tx("", "PAYROLL DEP"))
	if d.Source != SourceFallback {
		t.Errorf("merchant rule matched description: %+v", d)
	}
}

func TestCategorizeAccentInsensitive(t *testing.T) {
	engine := newEngine([]core.Rule{
		merchantRule("CAFE DEPOT", "Restaurants", "Coffee", 10),
		keywordRule("ASSURANCE", "Insurance", "", 5),
	}, nil)

	d := engine.Categorize(context.Background(), 1, tx("CAFÉ DÉPÔT MONTRÉAL", ""))
	if d.Category != "Restaurants" {
		t.Errorf("accented merchant = %s, want Restaurants", d.Category)
	}

	d = engine.Categorize(context.Background(), 1, tx("", "PRIME ASSURANCE-VIE"))
	if d.Category != "Insurance" {
		t.Errorf("accented keyword = %s, want Insurance", d.Category)
	}
}

func TestCategorizeHistoryTier(t *testing.T) {
	corrections := &fakeCorrectionSource{corrections: []core.Correction{
		{Pattern: "netflix com", Category: "Entertainment", Label: "Streaming", Frequency: 5},
		{Pattern: "netflix", Category: "Stale", Label: "", Frequency: 1},
	}}
	engine := newEngine(nil, corrections)

	d := engine.Categorize(context.Background(), 42, tx("", "PAYPAL *NETFLIX.COM"))
	if d.Category != "Entertainment" || d.Label != "Streaming" {
		t.Errorf("decision = %s/%s, want Entertainment/Streaming", d.Category, d.Label)
	}
	if d.Source != SourceHistory {
		t.Errorf("source = %s, want history", d.Source)
	}
	if d.Confidence <= 0 || d.Confidence > 0.6 {
		t.Errorf("history confidence = %v, want in (0, 0.6]", d.Confidence)
	}

	// Rules outrank history when both match.
	engine = newEngine([]core.Rule{keywordRule("NETFLIX", "Bills", "", 1)}, corrections)
	d = engine.Categorize(context.Background(), 42, tx("", "NETFLIX.COM"))
	if d.Source != SourceKeyword {
		t.Errorf("source = %s, want keyword over history", d.Source)
	}
}

func TestCategorizeFallback(t *testing.T) {
	tests := []struct {
		name string
		tx   core.RawTransaction
	}{
		{name: "no rules at all", tx: tx("SOME MERCHANT", "something")},
		{name: "empty merchant and description", tx: tx("", "")},
		{name: "punctuation-only fields", tx: tx("###", "---")},
	}
	engine := newEngine(nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := engine.Categorize(context.Background(), 1, tt.tx)
			if d.Category != FallbackCategory || d.Label != "" || d.Confidence != 0 {
				t.Errorf("decision = %+v, want Uncategorised fallback", d)
			}
			if d.Source != SourceFallback {
				t.Errorf("source = %s, want fallback", d.Source)
			}
		})
	}
}

func TestCategorizeSurvivesFailingSources(t *testing.T) {
	cache := NewRuleCache(&fakeRuleSource{err: errors.New("db down")}, time.Minute)
	corrections := &fakeCorrectionSource{err: errors.New("db down")}
	engine := NewEngine(cache, corrections)

	d := engine.Categorize(context.Background(), 1, tx("FIDO", "payment"))
	if d.Category != FallbackCategory {
		t.Errorf("decision with failing sources = %+v, want fallback", d)
	}
}

func TestCategorizeSkipsMalformedRules(t *testing.T) {
	engine := newEngine([]core.Rule{
		{Kind: core.MerchantRule, Pattern: "##--", Category: "Broken", Active: true},
		merchantRule("METRO", "Groceries", "", 5),
	}, nil)

	d := engine.Categorize(context.Background(), 1, tx("METRO PLUS 123", ""))
	if d.Category != "Groceries" {
		t.Errorf("category = %s, want Groceries (malformed rule skipped)", d.Category)
	}
}
