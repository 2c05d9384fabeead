package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/progress-analytics-server/internal/domain"
	"github.com/progress-analytics-server/internal/service"
)

// ProgressService is the part of the service layer exposed as MCP tools.
type ProgressService interface {
	RecordMeasurement(ctx context.Context, subjectID string, in domain.MeasurementInput) (*service.RecordResult, error)
	Trends(ctx context.Context, subjectID string, lookbackDays int) ([]domain.Trend, error)
	Summary(ctx context.Context, subjectID string, lookbackDays int) (*domain.ProgressSummary, error)
	UnresolvedAlerts(ctx context.Context, subjectID string) ([]domain.Alert, error)
	AcknowledgeAlert(ctx context.Context, alertID string) error
	ResolveAlert(ctx context.Context, alertID, note string) error
}

// RecordMeasurementParams defines parameters for record_measurement tool
type RecordMeasurementParams struct {
	SubjectID  string  `json:"subject_id" jsonschema:"opaque subject identifier"`
	MetricKind string  `json:"metric_kind" jsonschema:"one of the tracked metric kinds, e.g. mood_rating or risk_level"`
	Value      float64 `json:"value" jsonschema:"measured value"`
	Timestamp  string  `json:"timestamp,omitempty" jsonschema:"RFC3339 time of the measurement; defaults to now"`
	Source     string  `json:"source,omitempty" jsonschema:"instrument or channel that produced the value"`
	Note       string  `json:"note,omitempty"`
}

// SubjectParams selects a subject and an optional lookback window.
type SubjectParams struct {
	SubjectID string `json:"subject_id" jsonschema:"opaque subject identifier"`
	Days      int    `json:"days,omitempty" jsonschema:"lookback window in days; defaults to the server setting"`
}

// ListAlertsParams defines parameters for list_alerts tool
type ListAlertsParams struct {
	SubjectID string `json:"subject_id" jsonschema:"opaque subject identifier"`
}

// AlertParams identifies one alert.
type AlertParams struct {
	AlertID string `json:"alert_id"`
	Note    string `json:"note,omitempty" jsonschema:"resolution note"`
}

// AlertListResult is returned by list_alerts.
type AlertListResult struct {
	SubjectID   string          `json:"subject_id"`
	Alerts      []domain.Alert  `json:"alerts"`
	MaxSeverity domain.Severity `json:"max_severity"`
}

// TrendsResult is returned by get_trends.
type TrendsResult struct {
	SubjectID string         `json:"subject_id"`
	Trends    []domain.Trend `json:"trends"`
}

// ToolHandlers implements the progress tools on top of a ProgressService.
type ToolHandlers struct {
	service ProgressService
	logger  *logrus.Logger
	timeout time.Duration
}

// NewToolHandlers creates the tool handlers. A positive timeout bounds every call.
func NewToolHandlers(svc ProgressService, logger *logrus.Logger, timeout time.Duration) *ToolHandlers {
	return &ToolHandlers{service: svc, logger: logger, timeout: timeout}
}

// Register adds every progress tool to the MCP server.
func (h *ToolHandlers) Register(server *mcp.Server) int {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "record_measurement",
		Description: "Record one outcome measurement for a subject and evaluate the alert rules for its metric.",
	}, h.handleRecordMeasurement)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_trends",
		Description: "Compute per-metric trends (direction, slope, confidence, significance) over a lookback window.",
	}, h.handleGetTrends)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_progress_summary",
		Description: "Summarize treatment progress: overall direction, completion rates, treatment response and recommendations.",
	}, h.handleGetProgressSummary)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_alerts",
		Description: "List unresolved alerts for a subject, most recent first.",
	}, h.handleListAlerts)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "acknowledge_alert",
		Description: "Mark an alert as seen without resolving it.",
	}, h.handleAcknowledgeAlert)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "resolve_alert",
		Description: "Resolve an alert with an optional note. Alerts are kept for audit.",
	}, h.handleResolveAlert)
	return 6
}

func (h *ToolHandlers) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, h.timeout)
}

// handleRecordMeasurement handles the record_measurement tool invocation
func (h *ToolHandlers) handleRecordMeasurement(ctx context.Context, req *mcp.CallToolRequest, params RecordMeasurementParams) (*mcp.CallToolResult, any, error) {
	h.logger.WithField("tool", "record_measurement").Info("Tool invoked")

	in := domain.MeasurementInput{
		MetricKind: domain.MetricKind(params.MetricKind),
		Value:      params.Value,
		Source:     params.Source,
		Note:       params.Note,
	}
	if params.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, params.Timestamp)
		if err != nil {
			return h.createErrorResult("Invalid timestamp", err), nil, nil
		}
		in.Timestamp = ts
	}

	ctx, cancel := h.bound(ctx)
	defer cancel()

	result, err := h.service.RecordMeasurement(ctx, params.SubjectID, in)
	if err != nil {
		return h.toolError("record_measurement", err), nil, nil
	}

	text := fmt.Sprintf("Recorded %s=%g for subject %s; %d alert(s) fired",
		result.Measurement.MetricKind, result.Measurement.Value, result.Measurement.SubjectID, len(result.Alerts))
	if result.AlertError != "" {
		text += "; alert evaluation incomplete, do not resubmit the measurement"
	}
	return h.jsonResult(text, result), result, nil
}

// handleGetTrends handles the get_trends tool invocation
func (h *ToolHandlers) handleGetTrends(ctx context.Context, req *mcp.CallToolRequest, params SubjectParams) (*mcp.CallToolResult, any, error) {
	h.logger.WithField("tool", "get_trends").Info("Tool invoked")

	ctx, cancel := h.bound(ctx)
	defer cancel()

	trends, err := h.service.Trends(ctx, params.SubjectID, params.Days)
	if err != nil {
		return h.toolError("get_trends", err), nil, nil
	}
	if trends == nil {
		trends = []domain.Trend{}
	}

	result := TrendsResult{SubjectID: params.SubjectID, Trends: trends}
	text := fmt.Sprintf("Computed %d trend(s) for subject %s", len(trends), params.SubjectID)
	return h.jsonResult(text, result), result, nil
}

// handleGetProgressSummary handles the get_progress_summary tool invocation
func (h *ToolHandlers) handleGetProgressSummary(ctx context.Context, req *mcp.CallToolRequest, params SubjectParams) (*mcp.CallToolResult, any, error) {
	h.logger.WithField("tool", "get_progress_summary").Info("Tool invoked")

	ctx, cancel := h.bound(ctx)
	defer cancel()

	summary, err := h.service.Summary(ctx, params.SubjectID, params.Days)
	if err != nil {
		return h.toolError("get_progress_summary", err), nil, nil
	}

	text := fmt.Sprintf("Subject %s: overall %s, treatment response %s (score %.1f)",
		summary.SubjectID, summary.OverallDirection, summary.TreatmentResponse, summary.ResponseScore)
	return h.jsonResult(text, summary), summary, nil
}

// handleListAlerts handles the list_alerts tool invocation
func (h *ToolHandlers) handleListAlerts(ctx context.Context, req *mcp.CallToolRequest, params ListAlertsParams) (*mcp.CallToolResult, any, error) {
	h.logger.WithField("tool", "list_alerts").Info("Tool invoked")

	ctx, cancel := h.bound(ctx)
	defer cancel()

	alerts, err := h.service.UnresolvedAlerts(ctx, params.SubjectID)
	if err != nil {
		return h.toolError("list_alerts", err), nil, nil
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}

	result := AlertListResult{SubjectID: params.SubjectID, Alerts: alerts, MaxSeverity: domain.MaxSeverity(alerts)}
	text := fmt.Sprintf("%d unresolved alert(s) for subject %s, highest severity %s",
		len(alerts), params.SubjectID, result.MaxSeverity)
	return h.jsonResult(text, result), result, nil
}

// handleAcknowledgeAlert handles the acknowledge_alert tool invocation
func (h *ToolHandlers) handleAcknowledgeAlert(ctx context.Context, req *mcp.CallToolRequest, params AlertParams) (*mcp.CallToolResult, any, error) {
	h.logger.WithField("tool", "acknowledge_alert").Info("Tool invoked")

	ctx, cancel := h.bound(ctx)
	defer cancel()

	if err := h.service.AcknowledgeAlert(ctx, params.AlertID); err != nil {
		return h.toolError("acknowledge_alert", err), nil, nil
	}
	return textResult(fmt.Sprintf("Alert %s acknowledged", params.AlertID)), nil, nil
}

// handleResolveAlert handles the resolve_alert tool invocation
func (h *ToolHandlers) handleResolveAlert(ctx context.Context, req *mcp.CallToolRequest, params AlertParams) (*mcp.CallToolResult, any, error) {
	h.logger.WithField("tool", "resolve_alert").Info("Tool invoked")

	ctx, cancel := h.bound(ctx)
	defer cancel()

	if err := h.service.ResolveAlert(ctx, params.AlertID, params.Note); err != nil {
		return h.toolError("resolve_alert", err), nil, nil
	}
	return textResult(fmt.Sprintf("Alert %s resolved", params.AlertID)), nil, nil
}

// toolError turns a service failure into an error result. Caller mistakes are reported verbatim;
// anything else is logged and reported generically.
func (h *ToolHandlers) toolError(tool string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrMixedMetricKinds),
		errors.Is(err, domain.ErrNonFiniteValue):
		return h.createErrorResult("Invalid parameters", err)
	case errors.Is(err, domain.ErrNotFound):
		return h.createErrorResult("Not found", err)
	case errors.Is(err, domain.ErrAlertResolved):
		return h.createErrorResult("Alert already resolved", nil)
	}

	h.logger.WithFields(logrus.Fields{
		"tool":  tool,
		"error": err,
	}).Error("Tool execution failed")
	return h.createErrorResult("Tool execution failed", nil)
}

// createErrorResult creates a standardized error result for tool calls
func (h *ToolHandlers) createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}

func (h *ToolHandlers) jsonResult(text string, v any) *mcp.CallToolResult {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		h.logger.WithError(err).Warn("Failed to marshal tool result")
		return textResult(text)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
			&mcp.TextContent{Text: string(body)},
		},
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}
