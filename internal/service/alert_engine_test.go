package service

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progress-analytics-server/internal/domain"
)

func newTestEngine(t *testing.T) *AlertEngine {
	t.Helper()
	n := 0
	engine, err := NewAlertEngine(
		domain.DefaultAnalyticsConfig(),
		WithAlertClock(func() time.Time { return baseTime }),
		WithAlertIDGenerator(func() string {
			n++
			return fmt.Sprintf("alert-%d", n)
		}),
	)
	require.NoError(t, err)
	return engine
}

func window(kind domain.MetricKind, values ...float64) []domain.MeasurementPoint {
	days := make([]float64, len(values))
	for i := range values {
		days[i] = float64(i * 7)
	}
	return series(kind, days, values)
}

func TestAlertEngine_LowHomeworkCompliance(t *testing.T) {
	engine := newTestEngine(t)

	t.Run("Mean_Above_Threshold", func(t *testing.T) {
		alerts := engine.Evaluate("subject-1", domain.MetricHomeworkCompliance,
			window(domain.MetricHomeworkCompliance, 0.9, 0.2, 0.25, 0.1))
		assert.Empty(t, alerts)
	})

	t.Run("Mean_Below_Threshold", func(t *testing.T) {
		alerts := engine.Evaluate("subject-1", domain.MetricHomeworkCompliance,
			window(domain.MetricHomeworkCompliance, 0.1, 0.2, 0.25, 0.1))
		require.Len(t, alerts, 1)

		a := alerts[0]
		assert.Equal(t, domain.SeverityYellow, a.Severity)
		assert.Equal(t, domain.RuleLowHomework, a.RuleID)
		assert.Equal(t, "subject-1", a.SubjectID)
		assert.InDelta(t, 0.1625, a.TriggerValue, 1e-9)
		assert.Contains(t, a.Description, "0.16")
		assert.Equal(t, baseTime, a.CreatedAt)
		assert.False(t, a.Resolved)
		assert.NotEmpty(t, a.RecommendedActions)
	})

	t.Run("Too_Few_Points", func(t *testing.T) {
		alerts := engine.Evaluate("subject-1", domain.MetricHomeworkCompliance,
			window(domain.MetricHomeworkCompliance, 0, 0, 0))
		assert.Empty(t, alerts)
	})

	t.Run("Only_Newest_Four_Count", func(t *testing.T) {
		alerts := engine.Evaluate("subject-1", domain.MetricHomeworkCompliance,
			window(domain.MetricHomeworkCompliance, 0.0, 0.0, 0.9, 0.9, 0.9, 0.9))
		assert.Empty(t, alerts)
	})
}

func TestAlertEngine_LowEngagement(t *testing.T) {
	engine := newTestEngine(t)

	t.Run("Two_Points_Never_Fire", func(t *testing.T) {
		alerts := engine.Evaluate("subject-1", domain.MetricSessionEngagement,
			window(domain.MetricSessionEngagement, 0, 0))
		assert.Empty(t, alerts)
	})

	t.Run("Low_Mean_Fires", func(t *testing.T) {
		alerts := engine.Evaluate("subject-1", domain.MetricSessionEngagement,
			window(domain.MetricSessionEngagement, 3, 4, 2))
		require.Len(t, alerts, 1)
		assert.Equal(t, domain.SeverityYellow, alerts[0].Severity)
		assert.Equal(t, domain.RuleLowEngagement, alerts[0].RuleID)
	})

	t.Run("At_Threshold_Does_Not_Fire", func(t *testing.T) {
		alerts := engine.Evaluate("subject-1", domain.MetricSessionEngagement,
			window(domain.MetricSessionEngagement, 4, 4, 4))
		assert.Empty(t, alerts)
	})
}

func TestAlertEngine_SymptomDeterioration(t *testing.T) {
	engine := newTestEngine(t)

	t.Run("Worsening_Fires_Orange", func(t *testing.T) {
		alerts := engine.Evaluate("subject-1", domain.MetricSymptomSeverity,
			window(domain.MetricSymptomSeverity, 10, 11, 12, 14))
		require.Len(t, alerts, 1)
		assert.Equal(t, domain.SeverityOrange, alerts[0].Severity)
		assert.InDelta(t, 40.0, alerts[0].TriggerValue, 1e-9)
		assert.Contains(t, alerts[0].Description, "40.0%")
	})

	t.Run("Exactly_Threshold_Does_Not_Fire", func(t *testing.T) {
		alerts := engine.Evaluate("subject-1", domain.MetricSymptomSeverity,
			window(domain.MetricSymptomSeverity, 10, 11, 12, 13))
		assert.Empty(t, alerts)
	})

	t.Run("Improvement_Does_Not_Fire", func(t *testing.T) {
		alerts := engine.Evaluate("subject-1", domain.MetricSymptomSeverity,
			window(domain.MetricSymptomSeverity, 18, 15, 12, 8))
		assert.Empty(t, alerts)
	})

	t.Run("Zero_Oldest_Never_Fires", func(t *testing.T) {
		alerts := engine.Evaluate("subject-1", domain.MetricSymptomSeverity,
			window(domain.MetricSymptomSeverity, 0, 10, 20, 30))
		assert.Empty(t, alerts)
	})

	t.Run("Window_Is_Sorted_First", func(t *testing.T) {
		points := series(domain.MetricSymptomSeverity, []float64{21, 0, 14, 7}, []float64{20, 10, 12, 11})
		alerts := engine.Evaluate("subject-1", domain.MetricSymptomSeverity, points)
		require.Len(t, alerts, 1)
		assert.InDelta(t, 100.0, alerts[0].TriggerValue, 1e-9)
	})
}

func TestAlertEngine_RiskDeteriorationIsRed(t *testing.T) {
	engine := newTestEngine(t)

	alerts := engine.Evaluate("subject-1", domain.MetricRiskLevel, window(domain.MetricRiskLevel, 2, 2, 3))
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityRed, alerts[0].Severity)
}

func TestAlertEngine_DoesNotMutateWindow(t *testing.T) {
	engine := newTestEngine(t)
	points := series(domain.MetricSymptomSeverity, []float64{21, 0, 14, 7}, []float64{20, 10, 12, 11})
	original := make([]domain.MeasurementPoint, len(points))
	copy(original, points)

	engine.Evaluate("subject-1", domain.MetricSymptomSeverity, points)
	assert.Equal(t, original, points)
}

func TestAlertEngine_NoDeduplication(t *testing.T) {
	engine := newTestEngine(t)
	w := window(domain.MetricHomeworkCompliance, 0.1, 0.1, 0.1, 0.1)

	first := engine.Evaluate("subject-1", domain.MetricHomeworkCompliance, w)
	second := engine.Evaluate("subject-1", domain.MetricHomeworkCompliance, w)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ID, second[0].ID)
}

func TestAlertEngine_UnruledMetric(t *testing.T) {
	engine := newTestEngine(t)
	alerts := engine.Evaluate("subject-1", domain.MetricMoodRating, window(domain.MetricMoodRating, 0, 0, 0, 0))
	assert.Empty(t, alerts)
}

func TestAlertEngine_NormalPolarityWorsening(t *testing.T) {
	rules := []domain.AlertRule{{
		ID:                  "mood_drop",
		MetricKind:          domain.MetricMoodRating,
		Predicate:           domain.PredicatePercentWorsening,
		Threshold:           25,
		WindowSize:          3,
		MinPoints:           2,
		Severity:            domain.SeverityOrange,
		DescriptionTemplate: "{{.Metric}} dropped {{printf \"%.0f\" .Percent}}%",
	}}
	cfg, err := domain.NewAnalyticsConfig(domain.AnalyticsSettings{Rules: rules})
	require.NoError(t, err)

	engine, err := NewAlertEngine(cfg)
	require.NoError(t, err)

	alerts := engine.Evaluate("subject-1", domain.MetricMoodRating, window(domain.MetricMoodRating, 8, 7, 4))
	require.Len(t, alerts, 1)
	assert.Equal(t, "Mood rating dropped 50%", alerts[0].Description)

	assert.Empty(t, engine.Evaluate("subject-1", domain.MetricMoodRating, window(domain.MetricMoodRating, 4, 7, 8)))
}

func TestNewAlertEngine_BadTemplate(t *testing.T) {
	rules := domain.DefaultAlertRules()
	rules[0].DescriptionTemplate = "{{.Percent"
	cfg, err := domain.NewAnalyticsConfig(domain.AnalyticsSettings{Rules: rules})
	require.NoError(t, err)

	_, err = NewAlertEngine(cfg)
	assert.Error(t, err)
}

func TestEvaluateAlerts_ManyMetrics(t *testing.T) {
	windows := map[domain.MetricKind][]domain.MeasurementPoint{
		domain.MetricSessionEngagement:  window(domain.MetricSessionEngagement, 1, 2, 1),
		domain.MetricHomeworkCompliance: window(domain.MetricHomeworkCompliance, 0.1, 0.2, 0.25, 0.1),
		domain.MetricMoodRating:         window(domain.MetricMoodRating, 1, 1),
	}

	alerts, err := EvaluateAlerts("subject-1", windows, domain.DefaultAnalyticsConfig())
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, domain.MetricHomeworkCompliance, alerts[0].MetricKind)
	assert.Equal(t, domain.MetricSessionEngagement, alerts[1].MetricKind)
}

func TestEvaluateAlerts_RejectsMalformedWindow(t *testing.T) {
	cfg := domain.DefaultAnalyticsConfig()

	t.Run("Non_Finite_Value", func(t *testing.T) {
		w := window(domain.MetricHomeworkCompliance, 0.1, 0.2, 0.25, 0.1)
		w[2].Value = math.NaN()
		alerts, err := EvaluateAlerts("subject-1", map[domain.MetricKind][]domain.MeasurementPoint{
			domain.MetricHomeworkCompliance: w,
		}, cfg)
		assert.Nil(t, alerts)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("Kind_Filed_Under_Other_Metric", func(t *testing.T) {
		alerts, err := EvaluateAlerts("subject-1", map[domain.MetricKind][]domain.MeasurementPoint{
			domain.MetricHomeworkCompliance: window(domain.MetricRiskLevel, 0.1, 0.2, 0.25, 0.1),
		}, cfg)
		assert.Nil(t, alerts)
		assert.True(t, errors.Is(err, domain.ErrMixedMetricKinds))
	})
}
