package service

import (
	"fmt"
	"time"

	"github.com/progress-analytics-server/internal/domain"
)

// Fraction of trends that must agree for the overall direction to take their label.
const directionMajority = 0.6

// Review intervals after the period end.
const (
	urgentReviewInterval  = 7 * 24 * time.Hour
	routineReviewInterval = 14 * 24 * time.Hour
)

// Completion rate floors that trigger a recommendation.
const (
	homeworkRateFloor   = 50.0
	attendanceRateFloor = 80.0
)

// Recommendation tags produced by the summary decision table.
const (
	RecommendReviewTreatment    = "Review treatment approach: symptom severity is worsening"
	RecommendAddressEngagement  = "Address low session engagement and therapeutic alliance"
	RecommendHomeworkBarriers   = "Reassess homework difficulty and completion barriers"
	RecommendAttendanceBarriers = "Discuss barriers to attending sessions"
	RecommendReinforceProgress  = "Reinforce strategies associated with current improvements"
	RecommendContinuePlan       = "Continue the current treatment plan"
)

// SummaryInput carries everything AggregateSummary needs. The aggregator never queries
// storage or computes trends itself.
type SummaryInput struct {
	SubjectID   string
	PeriodStart time.Time
	PeriodEnd   time.Time
	GeneratedAt time.Time
	Trends      []domain.Trend
	Rates       domain.CompletionRates
	Alerts      []domain.Alert
}

// AggregateSummary combines trends, completion rates and unresolved alerts into a progress
// summary. It is deterministic in its inputs.
func AggregateSummary(in SummaryInput, cfg domain.AnalyticsConfig) domain.ProgressSummary {
	active := unresolved(in.Alerts)
	score := ResponseScore(in.Trends, in.Rates.Goal, cfg)
	response := ClassifyResponse(score)
	highest := domain.MaxSeverity(active)

	summary := domain.ProgressSummary{
		SubjectID:              in.SubjectID,
		PeriodStart:            in.PeriodStart,
		PeriodEnd:              in.PeriodEnd,
		OverallDirection:       OverallDirection(in.Trends),
		Improvements:           []string{},
		Concerns:               []string{},
		GoalCompletionRate:     in.Rates.Goal,
		AttendanceRate:         in.Rates.Attendance,
		HomeworkCompletionRate: in.Rates.Homework,
		RiskTrend:              directionOf(in.Trends, domain.MetricRiskLevel),
		TreatmentResponse:      response,
		ResponseScore:          score,
		Recommendations:        Recommendations(in.Trends, in.Rates, active),
		HighestAlertSeverity:   highest,
		Trends:                 in.Trends,
		ActiveAlerts:           active,
		GeneratedAt:            in.GeneratedAt,
	}

	for _, t := range in.Trends {
		switch t.Direction {
		case domain.DirectionImproving:
			summary.Improvements = append(summary.Improvements, fmt.Sprintf("%s: improving", t.MetricKind))
		case domain.DirectionDeclining:
			summary.Concerns = append(summary.Concerns, fmt.Sprintf("%s: declining", t.MetricKind))
		}
	}
	for _, a := range active {
		if a.Severity.AtLeast(domain.SeverityOrange) {
			summary.Concerns = append(summary.Concerns, fmt.Sprintf("%s alert: %s", a.Severity, a.RuleID))
		}
	}

	interval := routineReviewInterval
	if highest.AtLeast(domain.SeverityOrange) || response == domain.ResponsePoor || response == domain.ResponseDeteriorating {
		interval = urgentReviewInterval
	}
	summary.NextReviewDate = in.PeriodEnd.Add(interval)

	return summary
}

// OverallDirection labels a set of trends. A label wins when more than 60% of the trends
// carry it; insufficient-data trends count toward the total.
func OverallDirection(trends []domain.Trend) domain.TrendDirection {
	if len(trends) == 0 {
		return domain.DirectionInsufficientData
	}

	counts := make(map[domain.TrendDirection]int)
	for _, t := range trends {
		counts[t.Direction]++
	}
	total := float64(len(trends))
	for _, d := range []domain.TrendDirection{domain.DirectionImproving, domain.DirectionDeclining, domain.DirectionStable} {
		if float64(counts[d])/total > directionMajority {
			return d
		}
	}
	return domain.DirectionMixed
}

// ResponseScore adds weighted change percentages of improving trends, subtracts those of
// declining trends, and adds the goal completion rate.
func ResponseScore(trends []domain.Trend, goalRate float64, cfg domain.AnalyticsConfig) float64 {
	score := 0.0
	for _, t := range trends {
		weighted := t.ChangePercentage * cfg.ClinicalWeight(t.MetricKind)
		switch t.Direction {
		case domain.DirectionImproving:
			score += weighted
		case domain.DirectionDeclining:
			score -= weighted
		}
	}
	return score + goalRate
}

// ClassifyResponse maps a response score to its ordinal category.
func ClassifyResponse(score float64) domain.TreatmentResponse {
	switch {
	case score > 50:
		return domain.ResponseExcellent
	case score > 25:
		return domain.ResponseGood
	case score > 0:
		return domain.ResponsePartial
	case score > -25:
		return domain.ResponsePoor
	default:
		return domain.ResponseDeteriorating
	}
}

// Recommendations applies the recommendation decision table.
func Recommendations(trends []domain.Trend, rates domain.CompletionRates, active []domain.Alert) []string {
	var recs []string

	if directionOf(trends, domain.MetricSymptomSeverity) == domain.DirectionDeclining {
		recs = append(recs, RecommendReviewTreatment)
	}
	if lowEngagement(trends, active) {
		recs = append(recs, RecommendAddressEngagement)
	}
	if rates.Homework < homeworkRateFloor {
		recs = append(recs, RecommendHomeworkBarriers)
	}
	if rates.Attendance < attendanceRateFloor {
		recs = append(recs, RecommendAttendanceBarriers)
	}
	for _, t := range trends {
		if t.Direction == domain.DirectionImproving {
			recs = append(recs, RecommendReinforceProgress)
			break
		}
	}

	if len(recs) == 0 {
		recs = append(recs, RecommendContinuePlan)
	}
	return recs
}

func lowEngagement(trends []domain.Trend, active []domain.Alert) bool {
	if directionOf(trends, domain.MetricSessionEngagement) == domain.DirectionDeclining {
		return true
	}
	for _, a := range active {
		if a.MetricKind == domain.MetricSessionEngagement {
			return true
		}
	}
	return false
}

func directionOf(trends []domain.Trend, kind domain.MetricKind) domain.TrendDirection {
	for _, t := range trends {
		if t.MetricKind == kind {
			return t.Direction
		}
	}
	return domain.DirectionInsufficientData
}

func unresolved(alerts []domain.Alert) []domain.Alert {
	out := make([]domain.Alert, 0, len(alerts))
	for _, a := range alerts {
		if !a.Resolved {
			out = append(out, a)
		}
	}
	return out
}
