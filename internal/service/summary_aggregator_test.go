package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progress-analytics-server/internal/domain"
)

func trendOf(kind domain.MetricKind, dir domain.TrendDirection, pct float64) domain.Trend {
	return domain.Trend{MetricKind: kind, Direction: dir, ChangePercentage: pct, PointCount: 5}
}

func goodRates() domain.CompletionRates {
	return domain.CompletionRates{Goal: 0, Attendance: 100, Homework: 100}
}

func TestOverallDirection(t *testing.T) {
	tests := []struct {
		name     string
		trends   []domain.Trend
		expected domain.TrendDirection
	}{
		{"no trends", nil, domain.DirectionInsufficientData},
		{"three of four improving", []domain.Trend{
			trendOf(domain.MetricMoodRating, domain.DirectionImproving, 10),
			trendOf(domain.MetricGoalAchievement, domain.DirectionImproving, 10),
			trendOf(domain.MetricSymptomSeverity, domain.DirectionImproving, 10),
			trendOf(domain.MetricSessionEngagement, domain.DirectionDeclining, 10),
		}, domain.DirectionImproving},
		{"even split", []domain.Trend{
			trendOf(domain.MetricMoodRating, domain.DirectionImproving, 10),
			trendOf(domain.MetricSymptomSeverity, domain.DirectionDeclining, 10),
		}, domain.DirectionMixed},
		{"exactly sixty percent is not enough", []domain.Trend{
			trendOf(domain.MetricMoodRating, domain.DirectionStable, 0),
			trendOf(domain.MetricGoalAchievement, domain.DirectionStable, 0),
			trendOf(domain.MetricSymptomSeverity, domain.DirectionStable, 0),
			trendOf(domain.MetricRiskLevel, domain.DirectionDeclining, 0),
			trendOf(domain.MetricSessionEngagement, domain.DirectionImproving, 0),
		}, domain.DirectionMixed},
		{"insufficient data dilutes", []domain.Trend{
			trendOf(domain.MetricMoodRating, domain.DirectionDeclining, 10),
			trendOf(domain.MetricGoalAchievement, domain.DirectionInsufficientData, 0),
		}, domain.DirectionMixed},
		{"all stable", []domain.Trend{
			trendOf(domain.MetricMoodRating, domain.DirectionStable, 0),
		}, domain.DirectionStable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, OverallDirection(tt.trends))
		})
	}
}

func TestClassifyResponse(t *testing.T) {
	tests := []struct {
		score    float64
		expected domain.TreatmentResponse
	}{
		{80, domain.ResponseExcellent},
		{50.01, domain.ResponseExcellent},
		{50, domain.ResponseGood},
		{25, domain.ResponsePartial},
		{0.5, domain.ResponsePartial},
		{0, domain.ResponsePoor},
		{-24.9, domain.ResponsePoor},
		{-25, domain.ResponseDeteriorating},
		{-300, domain.ResponseDeteriorating},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ClassifyResponse(tt.score), "score %v", tt.score)
	}
}

func TestResponseScore_WeightsSymptomAndRisk(t *testing.T) {
	cfg := domain.DefaultAnalyticsConfig()
	trends := []domain.Trend{
		trendOf(domain.MetricSymptomSeverity, domain.DirectionImproving, 20),
		trendOf(domain.MetricMoodRating, domain.DirectionImproving, 10),
		trendOf(domain.MetricRiskLevel, domain.DirectionDeclining, 5),
		trendOf(domain.MetricGoalAchievement, domain.DirectionStable, 90),
		trendOf(domain.MetricSessionEngagement, domain.DirectionDeclining, 4),
	}

	// 40 + 10 - 10 - 4 + goal 12
	assert.InDelta(t, 48.0, ResponseScore(trends, 12, cfg), 1e-9)
}

func TestRecommendations_DecisionTable(t *testing.T) {
	t.Run("Nothing_Notable", func(t *testing.T) {
		recs := Recommendations(nil, goodRates(), nil)
		assert.Equal(t, []string{RecommendContinuePlan}, recs)
	})

	t.Run("Every_Condition", func(t *testing.T) {
		trends := []domain.Trend{
			trendOf(domain.MetricSymptomSeverity, domain.DirectionDeclining, 10),
			trendOf(domain.MetricMoodRating, domain.DirectionImproving, 10),
			trendOf(domain.MetricGoalAchievement, domain.DirectionImproving, 10),
		}
		alerts := []domain.Alert{{MetricKind: domain.MetricSessionEngagement, Severity: domain.SeverityYellow}}
		rates := domain.CompletionRates{Goal: 10, Attendance: 79, Homework: 49}

		recs := Recommendations(trends, rates, alerts)
		assert.Equal(t, []string{
			RecommendReviewTreatment,
			RecommendAddressEngagement,
			RecommendHomeworkBarriers,
			RecommendAttendanceBarriers,
			RecommendReinforceProgress,
		}, recs)
	})

	t.Run("Declining_Engagement_Trend", func(t *testing.T) {
		trends := []domain.Trend{trendOf(domain.MetricSessionEngagement, domain.DirectionDeclining, 10)}
		recs := Recommendations(trends, goodRates(), nil)
		assert.Equal(t, []string{RecommendAddressEngagement}, recs)
	})

	t.Run("Boundary_Rates", func(t *testing.T) {
		recs := Recommendations(nil, domain.CompletionRates{Attendance: 80, Homework: 50}, nil)
		assert.Equal(t, []string{RecommendContinuePlan}, recs)
	})
}

func TestAggregateSummary(t *testing.T) {
	cfg := domain.DefaultAnalyticsConfig()
	end := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -90)

	t.Run("Empty_Input", func(t *testing.T) {
		s := AggregateSummary(SummaryInput{SubjectID: "s1", PeriodStart: start, PeriodEnd: end}, cfg)

		assert.Equal(t, domain.DirectionInsufficientData, s.OverallDirection)
		assert.Equal(t, domain.DirectionInsufficientData, s.RiskTrend)
		assert.Equal(t, domain.ResponsePoor, s.TreatmentResponse)
		assert.Equal(t, domain.SeverityGreen, s.HighestAlertSeverity)
		assert.Equal(t, end.AddDate(0, 0, 7), s.NextReviewDate)
		assert.NotNil(t, s.Improvements)
		assert.NotNil(t, s.Concerns)
	})

	t.Run("Improving_Subject", func(t *testing.T) {
		in := SummaryInput{
			SubjectID:   "s1",
			PeriodStart: start,
			PeriodEnd:   end,
			GeneratedAt: end,
			Trends: []domain.Trend{
				trendOf(domain.MetricSymptomSeverity, domain.DirectionImproving, 55.6),
				trendOf(domain.MetricMoodRating, domain.DirectionImproving, 20),
				trendOf(domain.MetricRiskLevel, domain.DirectionStable, 0),
			},
			Rates: domain.CompletionRates{Goal: 60, Attendance: 90, Homework: 75},
			Alerts: []domain.Alert{
				{ID: "a1", RuleID: domain.RuleLowHomework, Severity: domain.SeverityYellow},
				{ID: "a2", RuleID: domain.RuleSymptomDeterioration, Severity: domain.SeverityRed, Resolved: true},
			},
		}

		s := AggregateSummary(in, cfg)

		assert.Equal(t, domain.DirectionImproving, s.OverallDirection)
		assert.Equal(t, domain.DirectionStable, s.RiskTrend)
		assert.Equal(t, domain.ResponseExcellent, s.TreatmentResponse)
		assert.InDelta(t, 111.2+20+60, s.ResponseScore, 1e-9)
		assert.Equal(t, []string{"symptom_severity: improving", "mood_rating: improving"}, s.Improvements)
		assert.Empty(t, s.Concerns)
		require.Len(t, s.ActiveAlerts, 1)
		assert.Equal(t, "a1", s.ActiveAlerts[0].ID)
		assert.Equal(t, domain.SeverityYellow, s.HighestAlertSeverity)
		assert.Equal(t, end.AddDate(0, 0, 14), s.NextReviewDate)
		assert.Equal(t, 60.0, s.GoalCompletionRate)
		assert.Equal(t, 90.0, s.AttendanceRate)
		assert.Equal(t, 75.0, s.HomeworkCompletionRate)
		assert.Equal(t, []string{RecommendReinforceProgress}, s.Recommendations)
	})

	t.Run("Orange_Alert_Shortens_Review", func(t *testing.T) {
		in := SummaryInput{
			SubjectID: "s1",
			PeriodEnd: end,
			Trends:    []domain.Trend{trendOf(domain.MetricMoodRating, domain.DirectionImproving, 30)},
			Rates:     domain.CompletionRates{Goal: 50, Attendance: 100, Homework: 100},
			Alerts:    []domain.Alert{{RuleID: domain.RuleSymptomDeterioration, Severity: domain.SeverityOrange}},
		}

		s := AggregateSummary(in, cfg)

		assert.Equal(t, domain.ResponseExcellent, s.TreatmentResponse)
		assert.Equal(t, end.AddDate(0, 0, 7), s.NextReviewDate)
		assert.Equal(t, []string{"orange alert: symptom_deterioration"}, s.Concerns)
	})

	t.Run("Deterministic", func(t *testing.T) {
		in := SummaryInput{
			SubjectID: "s1",
			PeriodEnd: end,
			Trends: []domain.Trend{
				trendOf(domain.MetricSymptomSeverity, domain.DirectionDeclining, 30),
				trendOf(domain.MetricMoodRating, domain.DirectionImproving, 30),
			},
		}
		assert.Equal(t, AggregateSummary(in, cfg), AggregateSummary(in, cfg))
	})
}
