// Package domain contains the core entities of the clinical progress analytics server:
// measurement points, derived trends, alert rules and alerts, and progress summaries.
//
// Enumerated tags are closed string types. Every enum exposes IsValid so that values read
// from storage, configuration or the wire can be rejected before they reach the analytics core.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// MetricKind is the category of a clinical measurement.
type MetricKind string

const (
	MetricSymptomSeverity    MetricKind = "symptom_severity"
	MetricHomeworkCompliance MetricKind = "homework_compliance"
	MetricSessionEngagement  MetricKind = "session_engagement"
	MetricRiskLevel          MetricKind = "risk_level"
	MetricGoalAchievement    MetricKind = "goal_achievement"
	MetricMoodRating         MetricKind = "mood_rating"
	MetricFunctionalStatus   MetricKind = "functional_status"
	MetricSleepQuality       MetricKind = "sleep_quality"
)

// AllMetricKinds lists every supported metric kind in a stable order.
func AllMetricKinds() []MetricKind {
	return []MetricKind{
		MetricSymptomSeverity,
		MetricHomeworkCompliance,
		MetricSessionEngagement,
		MetricRiskLevel,
		MetricGoalAchievement,
		MetricMoodRating,
		MetricFunctionalStatus,
		MetricSleepQuality,
	}
}

// IsValid reports whether the metric kind belongs to the supported set.
func (k MetricKind) IsValid() bool {
	switch k {
	case MetricSymptomSeverity, MetricHomeworkCompliance, MetricSessionEngagement, MetricRiskLevel,
		MetricGoalAchievement, MetricMoodRating, MetricFunctionalStatus, MetricSleepQuality:
		return true
	default:
		return false
	}
}

func (k MetricKind) String() string {
	return string(k)
}

// DisplayName returns a human-readable label used in summary improvement and concern lines.
func (k MetricKind) DisplayName() string {
	s := strings.ReplaceAll(string(k), "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// ParseMetricKind converts raw input into a MetricKind, rejecting unknown values.
func ParseMetricKind(raw string) (MetricKind, error) {
	k := MetricKind(strings.ToLower(strings.TrimSpace(raw)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: unknown metric kind %q", ErrInvalidInput, raw)
	}
	return k, nil
}

// Polarity states whether an increasing value is clinically good or bad.
type Polarity string

const (
	// PolarityNormal means up is better.
	PolarityNormal Polarity = "normal"
	// PolarityInverted means up is worse.
	PolarityInverted Polarity = "inverted"
)

func (p Polarity) IsValid() bool {
	return p == PolarityNormal || p == PolarityInverted
}

// TrendDirection is the clinical reading of a fitted trend.
type TrendDirection string

const (
	DirectionImproving        TrendDirection = "improving"
	DirectionStable           TrendDirection = "stable"
	DirectionDeclining        TrendDirection = "declining"
	DirectionMixed            TrendDirection = "mixed"
	DirectionInsufficientData TrendDirection = "insufficient_data"
)

func (d TrendDirection) IsValid() bool {
	switch d {
	case DirectionImproving, DirectionStable, DirectionDeclining, DirectionMixed, DirectionInsufficientData:
		return true
	default:
		return false
	}
}

func (d TrendDirection) String() string {
	return string(d)
}

// Severity orders alerts. The ordering is total: green < yellow < orange < red.
type Severity string

const (
	SeverityGreen  Severity = "green"
	SeverityYellow Severity = "yellow"
	SeverityOrange Severity = "orange"
	SeverityRed    Severity = "red"
)

// Rank returns the position of the severity in the total order, or -1 for unknown values.
func (s Severity) Rank() int {
	switch s {
	case SeverityGreen:
		return 0
	case SeverityYellow:
		return 1
	case SeverityOrange:
		return 2
	case SeverityRed:
		return 3
	default:
		return -1
	}
}

func (s Severity) IsValid() bool {
	return s.Rank() >= 0
}

func (s Severity) String() string {
	return string(s)
}

// AtLeast reports whether s is as severe as other or more.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// MaxSeverity returns the highest severity among alerts, or green when there are none.
func MaxSeverity(alerts []Alert) Severity {
	highest := SeverityGreen
	for _, a := range alerts {
		if a.Severity.Rank() > highest.Rank() {
			highest = a.Severity
		}
	}
	return highest
}

// TreatmentResponse is the ordinal category derived from the treatment response score.
type TreatmentResponse string

const (
	ResponseExcellent     TreatmentResponse = "excellent"
	ResponseGood          TreatmentResponse = "good"
	ResponsePartial       TreatmentResponse = "partial"
	ResponsePoor          TreatmentResponse = "poor"
	ResponseDeteriorating TreatmentResponse = "deteriorating"
)

func (r TreatmentResponse) IsValid() bool {
	switch r {
	case ResponseExcellent, ResponseGood, ResponsePartial, ResponsePoor, ResponseDeteriorating:
		return true
	default:
		return false
	}
}

// RulePredicate names the window test an alert rule applies.
type RulePredicate string

const (
	// PredicatePercentWorsening fires when the change between the oldest and newest point of the
	// window, oriented by metric polarity, exceeds the threshold percentage.
	PredicatePercentWorsening RulePredicate = "percent_worsening"
	// PredicateMeanBelow fires when the mean of the newest WindowSize points is below the threshold.
	PredicateMeanBelow RulePredicate = "mean_below"
)

func (p RulePredicate) IsValid() bool {
	return p == PredicatePercentWorsening || p == PredicateMeanBelow
}

// Validation errors for enumerated values
var (
	ErrInvalidSeverity  = errors.New("invalid alert severity")
	ErrInvalidPredicate = errors.New("invalid rule predicate")
	ErrInvalidPolarity  = errors.New("invalid metric polarity")
)
