package domain

import (
	"time"
)

// MeasurementPoint is one observation of a metric for a subject. Points are immutable once
// stored and may arrive out of chronological order.
type MeasurementPoint struct {
	ID             string     `json:"id,omitempty"`
	SubjectID      string     `json:"subject_id" validate:"required,max=128"`
	MetricKind     MetricKind `json:"metric_kind" validate:"required,metric_kind"`
	Value          float64    `json:"value" validate:"finite"`
	Timestamp      time.Time  `json:"timestamp" validate:"required"`
	SequenceNumber *int       `json:"sequence_number,omitempty" validate:"omitempty,min=0"`
	Source         string     `json:"source" validate:"max=64"`
	Note           string     `json:"note,omitempty" validate:"max=2000"`
	CreatedAt      time.Time  `json:"created_at,omitempty"`
}

// MeasurementInput is the caller-supplied part of a measurement, before the subject is attached.
type MeasurementInput struct {
	MetricKind     MetricKind `json:"metric_kind" binding:"required"`
	Value          float64    `json:"value"`
	Timestamp      time.Time  `json:"timestamp"`
	SequenceNumber *int       `json:"sequence_number,omitempty"`
	Source         string     `json:"source"`
	Note           string     `json:"note,omitempty"`
}

// ToPoint attaches the subject to the input. A zero timestamp is replaced by now.
func (in MeasurementInput) ToPoint(subjectID string, now time.Time) MeasurementPoint {
	ts := in.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return MeasurementPoint{
		SubjectID:      subjectID,
		MetricKind:     in.MetricKind,
		Value:          in.Value,
		Timestamp:      ts.UTC(),
		SequenceNumber: in.SequenceNumber,
		Source:         in.Source,
		Note:           in.Note,
	}
}

// TimeRange bounds a measurement query. A zero From or To leaves that side open.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the range, bounds inclusive.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// LookbackRange returns the range covering the last days before now.
func LookbackRange(now time.Time, days int) TimeRange {
	return TimeRange{From: now.AddDate(0, 0, -days), To: now}
}

// Trend is the linear-regression summary of one metric's values over time. It is derived
// state: recomputed on demand from a point sequence plus the polarity table.
type Trend struct {
	MetricKind       MetricKind     `json:"metric_kind"`
	Direction        TrendDirection `json:"direction"`
	Slope            float64        `json:"slope"`
	Confidence       float64        `json:"confidence"`
	PointCount       int            `json:"point_count"`
	StartValue       float64        `json:"start_value"`
	CurrentValue     float64        `json:"current_value"`
	ChangeMagnitude  float64        `json:"change_magnitude"`
	ChangePercentage float64        `json:"change_percentage"`
	IsSignificant    bool           `json:"is_significant"`
	ReliableChange   bool           `json:"reliable_change"`
	SpanDays         float64        `json:"span_days"`
}

// LogFields returns structured logging fields for the trend.
func (t Trend) LogFields() map[string]any {
	return map[string]any{
		"metric_kind": string(t.MetricKind),
		"direction":   string(t.Direction),
		"slope":       t.Slope,
		"confidence":  t.Confidence,
		"point_count": t.PointCount,
		"significant": t.IsSignificant,
	}
}

// AlertRule is static configuration describing when an alert fires.
type AlertRule struct {
	ID                  string        `json:"rule_id" mapstructure:"id"`
	MetricKind          MetricKind    `json:"metric_kind" mapstructure:"metric_kind"`
	Predicate           RulePredicate `json:"predicate" mapstructure:"predicate"`
	Threshold           float64       `json:"threshold" mapstructure:"threshold"`
	WindowSize          int           `json:"window_size" mapstructure:"window_size"`
	MinPoints           int           `json:"min_points" mapstructure:"min_points"`
	Severity            Severity      `json:"severity" mapstructure:"severity"`
	DescriptionTemplate string        `json:"description_template" mapstructure:"description_template"`
	RecommendedActions  []string      `json:"recommended_actions" mapstructure:"recommended_actions"`
}

// Alert is a finding emitted when a rule fires. Alerts are never deleted; they are only
// acknowledged and resolved.
type Alert struct {
	ID                 string     `json:"alert_id"`
	SubjectID          string     `json:"subject_id"`
	MetricKind         MetricKind `json:"metric_kind"`
	RuleID             string     `json:"rule_id"`
	Severity           Severity   `json:"severity"`
	Description        string     `json:"description"`
	RecommendedActions []string   `json:"recommended_actions"`
	TriggerValue       float64    `json:"trigger_value"`
	CreatedAt          time.Time  `json:"created_at"`
	Acknowledged       bool       `json:"acknowledged"`
	AcknowledgedAt     *time.Time `json:"acknowledged_at,omitempty"`
	Resolved           bool       `json:"resolved"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	ResolutionNote     string     `json:"resolution_note,omitempty"`
}

// LogFields returns structured logging fields for audit trails.
func (a Alert) LogFields() map[string]any {
	return map[string]any{
		"alert_id":    a.ID,
		"subject_id":  a.SubjectID,
		"metric_kind": string(a.MetricKind),
		"rule_id":     a.RuleID,
		"severity":    string(a.Severity),
		"resolved":    a.Resolved,
	}
}

// CompletionRates are the three 0-100 percentages supplied by the completion rate provider.
type CompletionRates struct {
	Goal       float64 `json:"goal_completion_rate"`
	Attendance float64 `json:"attendance_rate"`
	Homework   float64 `json:"homework_completion_rate"`
}

// ProgressSummary is a point-in-time snapshot regenerated on every request.
type ProgressSummary struct {
	SubjectID              string            `json:"subject_id"`
	PeriodStart            time.Time         `json:"period_start"`
	PeriodEnd              time.Time         `json:"period_end"`
	OverallDirection       TrendDirection    `json:"overall_direction"`
	Improvements           []string          `json:"improvements"`
	Concerns               []string          `json:"concerns"`
	GoalCompletionRate     float64           `json:"goal_completion_rate"`
	AttendanceRate         float64           `json:"attendance_rate"`
	HomeworkCompletionRate float64           `json:"homework_completion_rate"`
	RiskTrend              TrendDirection    `json:"risk_trend"`
	TreatmentResponse      TreatmentResponse `json:"treatment_response"`
	ResponseScore          float64           `json:"response_score"`
	Recommendations        []string          `json:"recommendations"`
	NextReviewDate         time.Time         `json:"next_review_date"`
	HighestAlertSeverity   Severity          `json:"highest_alert_severity"`
	Trends                 []Trend           `json:"trends"`
	ActiveAlerts           []Alert           `json:"active_alerts"`
	GeneratedAt            time.Time         `json:"generated_at"`
}

// Percentage returns part/total on a 0-100 scale, or empty when total is zero.
func Percentage(part, total int64, empty float64) float64 {
	if total <= 0 {
		return empty
	}
	return float64(part) / float64(total) * 100
}
