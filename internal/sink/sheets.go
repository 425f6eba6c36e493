package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/eekr1/emlak-ymh/internal/handoff"
)

// SheetsConfig holds Google Sheets settings for the spreadsheet sink.
type SheetsConfig struct {
	CredentialsFile string
	SpreadsheetID   string
	// Range in A1 notation, e.g. "Leads!A:O". Rows are appended below it.
	Range string
}

// SheetsSink appends each accepted handoff as one row to a Google
// spreadsheet, so the office can work leads without touching the database.
type SheetsSink struct {
	cfg    SheetsConfig
	svc    *sheets.Service
	logger *slog.Logger
}

// NewSheetsSink creates a spreadsheet sink using service account credentials.
func NewSheetsSink(ctx context.Context, cfg SheetsConfig, logger *slog.Logger) (*SheetsSink, error) {
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsFile(cfg.CredentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("sink: create sheets service: %w", err)
	}
	if cfg.Range == "" {
		cfg.Range = "Leads!A:O"
	}
	return &SheetsSink{cfg: cfg, svc: svc, logger: logger}, nil
}

// Name implements handoff.Deliverer.
func (s *SheetsSink) Name() string { return "sheets" }

// Deliver implements handoff.Deliverer. Meeting fields are flattened into
// their own columns; the full payload goes into the last column as JSON for
// anything the flat columns miss.
func (s *SheetsSink) Deliver(ctx context.Context, d handoff.Delivery) error {
	p := d.Handoff.Payload

	payloadJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("sink: marshal payload for sheets: %w", err)
	}

	var property [4]string
	if p.Property != nil {
		property = [4]string{p.Property.TransactionType, p.Property.PropertyType, p.Property.Location, p.Property.Budget}
	}

	row := []any{
		d.Timestamp.Format(time.RFC3339),
		d.BrandKey,
		d.Handoff.Kind,
		d.ThreadID,
		d.VisitorID,
		d.SessionID,
		d.Source,
		p.Contact.Name,
		p.Contact.Phone,
		p.Request.Summary,
		p.Matter.Category,
		p.PreferredMeeting.Mode,
		p.PreferredMeeting.Date,
		p.PreferredMeeting.Time,
		property[0],
		property[1],
		property[2],
		property[3],
		string(payloadJSON),
	}

	_, err = s.svc.Spreadsheets.Values.Append(s.cfg.SpreadsheetID, s.cfg.Range, &sheets.ValueRange{
		Values: [][]any{row},
	}).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sink: append to spreadsheet: %w", err)
	}

	s.logger.Debug("sink: lead appended to spreadsheet",
		"spreadsheet_id", s.cfg.SpreadsheetID, "thread_id", d.ThreadID)
	return nil
}

var _ handoff.Deliverer = (*SheetsSink)(nil)
