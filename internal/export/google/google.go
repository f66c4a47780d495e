// Package google exports transaction facts and identity profiles to a Google
// spreadsheet for data-access requests.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"loonie/internal/core"
	ports "loonie/internal/export"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	factsSheet    string
	profilesSheet string
}

// Ensure interface conformance
var (
	_ ports.FactExporter    = (*Client)(nil)
	_ ports.ProfileExporter = (*Client)(nil)
)

// NewFromEnv creates a Sheets export client using environment variables.
// Required: GOOGLE_SPREADSHEET_ID
// Auth: GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or
// GOOGLE_APPLICATION_CREDENTIALS.
// Optional sheet names: GOOGLE_FACTS_SHEET_NAME (default "Transactions"),
// GOOGLE_PROFILES_SHEET_NAME (default "Profiles").
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	factsSheet := strings.TrimSpace(os.Getenv("GOOGLE_FACTS_SHEET_NAME"))
	if factsSheet == "" {
		factsSheet = "Transactions"
	}
	profilesSheet := strings.TrimSpace(os.Getenv("GOOGLE_PROFILES_SHEET_NAME"))
	if profilesSheet == "" {
		profilesSheet = "Profiles"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		factsSheet:    factsSheet,
		profilesSheet: profilesSheet,
	}, nil
}

// newSheetsService initializes a Sheets Service using Service Account
// credentials from GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE,
// or GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// ExportFacts appends one row per fact to the facts sheet. Rows carry the
// token, never an identity field.
func (c *Client) ExportFacts(ctx context.Context, token string, facts []core.Fact) (string, error) {
	if token == "" {
		return "", &core.ValidationError{Field: "token", Reason: "must not be empty"}
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if len(facts) == 0 {
		return "", nil
	}

	values := make([][]any, 0, len(facts))
	for _, f := range facts {
		values = append(values, []any{
			f.Token,
			f.Date.String(),
			f.Description,
			f.Merchant,
			f.Amount.Dollars(),
			string(f.Direction),
			f.Category,
			f.Label,
			f.Account,
		})
	}

	rng := fmt.Sprintf("%s!A:I", c.factsSheet)
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append facts to sheet %s: %w", c.factsSheet, err)
	}

	ref := ""
	if resp.Updates != nil {
		ref = resp.Updates.UpdatedRange
	}
	slog.InfoContext(ctx, "Facts exported to spreadsheet", "rows", len(values), "range", ref)
	return ref, nil
}

// ExportProfile appends the identity profile as one row to the profiles
// sheet. The soft-delete timestamp is included so the export is a faithful
// copy of what the system holds.
func (c *Client) ExportProfile(ctx context.Context, user core.PIIUser) (string, error) {
	if user.InternalUserID <= 0 {
		return "", &core.ValidationError{Field: "internal_user_id", Reason: "must be positive"}
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	deletedAt := ""
	if user.DeletedAt != nil {
		deletedAt = user.DeletedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	values := [][]any{{
		user.InternalUserID,
		user.Email,
		user.GivenName,
		user.FamilyName,
		user.DateOfBirth,
		user.Phone,
		user.Region,
		deletedAt,
	}}

	rng := fmt.Sprintf("%s!A:H", c.profilesSheet)
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append profile to sheet %s: %w", c.profilesSheet, err)
	}

	ref := ""
	if resp.Updates != nil {
		ref = resp.Updates.UpdatedRange
	}
	return ref, nil
}
