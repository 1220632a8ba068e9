package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"fintrack/internal/cache"
	"fintrack/internal/core"
	applog "fintrack/internal/log"
	ports "fintrack/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Ensure interface conformance
var _ ports.TransactionSink = (*Client)(nil)

// Config selects the spreadsheet and the credentials used to reach it.
type Config struct {
	SpreadsheetID string
	// SheetName is the base tab name; the transaction year is prefixed ("2024 Transactions").
	SheetName          string
	ServiceAccountJSON string
	ServiceAccountFile string
}

const (
	knownRowsSize = 10000
	knownRowsTTL  = 24 * time.Hour
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string

	// known holds ids already seen in the sheet so redeliveries skip the column read.
	known *cache.LRUCache[struct{}]
}

// New creates a Sheets client. When opts is empty, service account
// credentials from cfg (or GOOGLE_APPLICATION_CREDENTIALS) are used.
func New(ctx context.Context, cfg Config, opts ...goption.ClientOption) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = "Transactions"
	}

	if len(opts) == 0 {
		creds, err := serviceAccountCredentials(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts = []goption.ClientOption{
			goption.WithCredentialsJSON(creds),
			goption.WithScopes(gsheet.SpreadsheetsScope),
		}
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created successfully",
		"spreadsheet_id", spreadsheetID,
		"sheet_base", base)

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetBase:     base,
		known:         cache.NewLRUCache[struct{}](knownRowsSize, knownRowsTTL),
	}, nil
}

// serviceAccountCredentials resolves inline JSON, then a key file, then
// GOOGLE_APPLICATION_CREDENTIALS.
func serviceAccountCredentials(ctx context.Context, cfg Config) ([]byte, error) {
	inline := strings.TrimSpace(cfg.ServiceAccountJSON)
	file := strings.TrimSpace(cfg.ServiceAccountFile)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case inline != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		return []byte(inline), nil
	case file != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", file)
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

func (c *Client) sheetFor(tx core.Transaction) string {
	return yearPrefixedName(c.sheetBase, tx.Date.Year())
}

// Append adds tx as a new row at the bottom of its year's sheet.
func (c *Client) Append(ctx context.Context, tx core.Transaction) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if tx.ID == "" {
		return "", errors.New("transaction has no id")
	}

	sheet := c.sheetFor(tx)
	rng := fmt.Sprintf("%s!A:G", sheet)
	vr := &gsheet.ValueRange{Values: [][]any{buildRow(tx)}}

	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", sheet, err)
	}

	c.remember(tx.ID)

	ref := rng
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	slog.InfoContext(ctx, "Transaction appended to sheet",
		applog.FieldTransactionID, tx.ID,
		"range", ref)
	return ref, nil
}

// Contains scans the id column of tx's year sheet.
func (c *Client) Contains(ctx context.Context, tx core.Transaction) (bool, error) {
	if c.svc == nil {
		return false, errors.New("sheets service not initialized")
	}
	if c.known != nil {
		if _, ok := c.known.Get(tx.ID); ok {
			return true, nil
		}
	}
	rng := fmt.Sprintf("%s!%s:%s", c.sheetFor(tx), idColumn, idColumn)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("read %s: %w", rng, err)
	}
	found := columnContains(resp.Values, tx.ID)
	if found {
		c.remember(tx.ID)
	}
	return found, nil
}

func (c *Client) remember(id string) {
	if c.known != nil {
		c.known.Set(id, struct{}{})
	}
}
