package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"

	"github.com/randalmurphal/orchestra/pkg/orchestra/event"
)

// Format selects the ExportAuditLog rendering.
type Format string

// Export formats.
const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// CSVHeader is the first row of a CSV export.
var CSVHeader = []string{"timestamp", "domain", "action", "sessionId", "tenantId", "userId"}

const csvTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// AuditExport is the JSON export document.
type AuditExport struct {
	SessionID  string        `json:"sessionId"`
	TenantID   string        `json:"tenantId"`
	Profile    Profile       `json:"profile"`
	Events     []event.Event `json:"events"`
	ExportedAt time.Time     `json:"exportedAt"`
}

// ExportAuditLog renders the full history of a session.
func (s *Service) ExportAuditLog(ctx context.Context, tenantID, sessionID string, format Format) ([]byte, error) {
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatCSV {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	events, err := s.GetEventHistory(ctx, sessionID, HistoryFilter{})
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []event.Event{}
	}

	if format == FormatCSV {
		return exportCSV(events)
	}

	profile, err := s.profiles.Profile(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("audit: profile for tenant %s: %w", tenantID, err)
	}
	return json.MarshalIndent(AuditExport{
		SessionID:  sessionID,
		TenantID:   tenantID,
		Profile:    profile,
		Events:     events,
		ExportedAt: time.Now().UTC(),
	}, "", "  ")
}

func exportCSV(events []event.Event) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(CSVHeader); err != nil {
		return nil, err
	}
	for _, e := range events {
		row := []string{
			e.Time().UTC().Format(csvTimeLayout),
			string(e.Domain),
			string(e.Action),
			e.SessionID,
			e.TenantID,
			e.UserID,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
