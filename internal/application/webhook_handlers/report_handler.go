package webhook_handlers

import (
	"context"

	"eats-partner-core/internal/domain"

	"github.com/rs/zerolog"
)

// ReportHandler handles report generation outcomes.
type ReportHandler struct {
	logger zerolog.Logger
}

// NewReportHandler creates a new report event handler
func NewReportHandler(logger zerolog.Logger) *ReportHandler {
	return &ReportHandler{logger: logger}
}

// CanHandle returns true if this handler can process the given event type
func (h *ReportHandler) CanHandle(eventType domain.EventType) bool {
	return eventType == domain.EventReportSuccess ||
		eventType == domain.EventReportFailure
}

// Handle logs the report outcome
func (h *ReportHandler) Handle(ctx context.Context, event *domain.WebhookEvent) error {
	var data struct {
		ReportID   string `json:"report_id"`
		ReportType string `json:"report_type"`
		URL        string `json:"url"`
		Error      string `json:"error"`
	}
	if err := unmarshalData(event, &data); err != nil {
		return err
	}

	if event.Type == domain.EventReportFailure {
		h.logger.Warn().
			Str("reportId", data.ReportID).
			Str("reportType", data.ReportType).
			Str("error", data.Error).
			Msg("Report generation failed")
		return nil
	}

	h.logger.Info().
		Str("reportId", data.ReportID).
		Str("reportType", data.ReportType).
		Str("url", data.URL).
		Msg("Report ready")
	return nil
}
