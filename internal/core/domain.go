package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Income  Direction = "income"
	Expense Direction = "expense"
	Other   Direction = "other"
)

const (
	MerchantRule RuleKind = "merchant"
	KeywordRule  RuleKind = "keyword"
)

type (
	// Direction classifies the cash-flow side of a transaction.
	Direction string

	// RuleKind selects which transaction field a rule matches against:
	// merchant rules match the merchant name, keyword rules the description.
	RuleKind string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// RawTransaction is a parsed statement line as delivered by the
	// upstream extraction step, before normalization and categorization.
	RawTransaction struct {
		Date        Date
		Description string
		Merchant    string
		Amount      Money
		Direction   Direction
		Account     string
	}

	// Rule maps a pattern to a category and label. Patterns are stored in
	// canonical upper-cased normalized form.
	Rule struct {
		ID                int64
		Kind              RuleKind
		Pattern           string
		AlternatePatterns []string
		Category          string
		Label             string
		Priority          int
		Active            bool
		CreatedAt         time.Time
		UpdatedAt         time.Time
	}

	// Fact is a transaction record in the analytics layer. It is keyed by
	// the opaque token and carries no PII fields.
	Fact struct {
		ID          int64
		Token       string
		Date        Date
		Description string
		Merchant    string
		Amount      Money
		Direction   Direction
		Category    string
		Label       string
		Account     string
		CreatedAt   time.Time
	}

	// Correction is a remembered user re-categorization, keyed by the
	// normalized description pattern it was made against.
	Correction struct {
		ID             int64
		InternalUserID int64
		Pattern        string
		Category       string
		Label          string
		Frequency      int64
		LastUsedAt     time.Time
	}

	// TokenRecord is the one mapping between an internal identity and its
	// opaque analytics token. Minted only by the identity service.
	TokenRecord struct {
		InternalUserID int64
		Token          string
		CreatedAt      time.Time
	}

	// PIIUser holds the personally identifying profile, isolated from the
	// analytics tables. Soft-deleted via DeletedAt and erased by the
	// retention sweep once past the retention window.
	PIIUser struct {
		InternalUserID int64
		Email          string
		GivenName      string
		FamilyName     string
		DateOfBirth    string
		Phone          string
		Region         string
		CreatedAt      time.Time
		DeletedAt      *time.Time
	}

	// CategoryAmount is an amount aggregated by category name.
	CategoryAmount struct {
		Name   string
		Amount Money
	}

	// CashflowSummary is a compact income/expense overview for one token
	// over a date range.
	CashflowSummary struct {
		Income     Money
		Expenses   Money
		ByCategory []CategoryAmount
	}
)

// RetentionWindow is how long a soft-deleted PII record is kept before the
// sweep may erase it permanently.
const RetentionWindow = 30 * 24 * time.Hour

var (
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidDirection = errors.New("invalid cashflow direction")
	ErrEmptyTransaction = errors.New("transaction has no description or merchant")
	ErrEmptyPattern     = errors.New("empty rule pattern")
	ErrEmptyCategory    = errors.New("empty category")
)

func (d Direction) Valid() bool {
	switch d {
	case Income, Expense, Other:
		return true
	}
	return false
}

// NewDate creates a Date from year, month, day in UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses the YYYY-MM-DD form used on statement payloads.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// String renders the canonical YYYY-MM-DD form.
func (d Date) String() string {
	return d.Format("2006-01-02")
}

func (t RawTransaction) Validate() error {
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if !t.Direction.Valid() {
		return ErrInvalidDirection
	}
	if t.Amount.Cents == 0 {
		return ErrInvalidAmount
	}
	if strings.TrimSpace(t.Description) == "" && strings.TrimSpace(t.Merchant) == "" {
		return ErrEmptyTransaction
	}
	return nil
}

func (r Rule) Validate() error {
	if r.Kind != MerchantRule && r.Kind != KeywordRule {
		return errors.New("invalid rule kind")
	}
	if Normalize(r.Pattern) == "" {
		return ErrEmptyPattern
	}
	if strings.TrimSpace(r.Category) == "" {
		return ErrEmptyCategory
	}
	return nil
}
