package service

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progress-analytics-server/internal/domain"
)

var baseTime = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// series builds points of one metric at the given day offsets.
func series(kind domain.MetricKind, days []float64, values []float64) []domain.MeasurementPoint {
	points := make([]domain.MeasurementPoint, len(values))
	for i := range values {
		points[i] = domain.MeasurementPoint{
			SubjectID:  "subject-1",
			MetricKind: kind,
			Value:      values[i],
			Timestamp:  baseTime.Add(time.Duration(days[i] * 24 * float64(time.Hour))),
			Source:     "test",
		}
	}
	return points
}

func TestTrendAnalyzer_InsufficientData(t *testing.T) {
	analyzer := NewTrendAnalyzer(domain.DefaultAnalyticsConfig())

	t.Run("No_Points", func(t *testing.T) {
		trend := analyzer.Compute(domain.MetricMoodRating, nil)
		assert.Equal(t, domain.DirectionInsufficientData, trend.Direction)
		assert.Equal(t, 0.0, trend.Confidence)
		assert.Equal(t, 0, trend.PointCount)
	})

	t.Run("Single_Point", func(t *testing.T) {
		trend := analyzer.Compute(domain.MetricMoodRating, series(domain.MetricMoodRating, []float64{0}, []float64{5}))
		assert.Equal(t, domain.DirectionInsufficientData, trend.Direction)
		assert.Equal(t, 0.0, trend.Confidence)
		assert.Equal(t, 1, trend.PointCount)
		assert.Equal(t, 0.0, trend.StartValue)
	})

	t.Run("Identical_Timestamps", func(t *testing.T) {
		points := series(domain.MetricMoodRating, []float64{2, 2, 2, 2}, []float64{1, 5, 3, 9})
		trend := analyzer.Compute(domain.MetricMoodRating, points)
		assert.Equal(t, domain.DirectionInsufficientData, trend.Direction)
		assert.Equal(t, 0.0, trend.Slope)
		assert.Equal(t, 0.0, trend.Confidence)
		assert.Equal(t, 4, trend.PointCount)
	})
}

func TestTrendAnalyzer_SymptomScenario(t *testing.T) {
	analyzer := NewTrendAnalyzer(domain.DefaultAnalyticsConfig())
	points := series(domain.MetricSymptomSeverity, []float64{0, 3, 6, 9}, []float64{18, 15, 12, 8})

	trend := analyzer.Compute(domain.MetricSymptomSeverity, points)

	assert.Less(t, trend.Slope, 0.0)
	assert.Equal(t, domain.DirectionImproving, trend.Direction)
	assert.InDelta(t, 55.555, trend.ChangePercentage, 0.01)
	assert.Equal(t, 18.0, trend.StartValue)
	assert.Equal(t, 8.0, trend.CurrentValue)
	assert.Equal(t, 10.0, trend.ChangeMagnitude)
	assert.Equal(t, 9.0, trend.SpanDays)
	assert.Equal(t, 4, trend.PointCount)
	// four points never meet the significance minimum
	assert.False(t, trend.IsSignificant)
	assert.InDelta(t, 0.4, trend.Confidence, 0.01)
}

func TestTrendAnalyzer_Polarity(t *testing.T) {
	analyzer := NewTrendAnalyzer(domain.DefaultAnalyticsConfig())
	days := []float64{0, 1, 2, 3, 4, 5}
	rising := []float64{1, 2, 3, 4, 5, 6}

	tests := []struct {
		kind     domain.MetricKind
		expected domain.TrendDirection
	}{
		{domain.MetricMoodRating, domain.DirectionImproving},
		{domain.MetricSessionEngagement, domain.DirectionImproving},
		{domain.MetricHomeworkCompliance, domain.DirectionImproving},
		{domain.MetricSymptomSeverity, domain.DirectionDeclining},
		{domain.MetricRiskLevel, domain.DirectionDeclining},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			trend := analyzer.Compute(tt.kind, series(tt.kind, days, rising))
			assert.Equal(t, tt.expected, trend.Direction)
			assert.True(t, trend.IsSignificant)
			assert.InDelta(t, 1.0, trend.Slope, 1e-9)
		})
	}
}

func TestTrendAnalyzer_StableBelowEpsilon(t *testing.T) {
	analyzer := NewTrendAnalyzer(domain.DefaultAnalyticsConfig())
	points := series(domain.MetricMoodRating, []float64{0, 10, 20}, []float64{5, 5.05, 5.1})

	trend := analyzer.Compute(domain.MetricMoodRating, points)
	assert.Equal(t, domain.DirectionStable, trend.Direction)
}

func TestTrendAnalyzer_ZeroStartValue(t *testing.T) {
	analyzer := NewTrendAnalyzer(domain.DefaultAnalyticsConfig())
	points := series(domain.MetricGoalAchievement, []float64{0, 1, 2}, []float64{0, 2, 4})

	trend := analyzer.Compute(domain.MetricGoalAchievement, points)
	assert.Equal(t, 0.0, trend.ChangePercentage)
	assert.Equal(t, 4.0, trend.ChangeMagnitude)
}

func TestTrendAnalyzer_ConstantValues(t *testing.T) {
	analyzer := NewTrendAnalyzer(domain.DefaultAnalyticsConfig())
	points := series(domain.MetricMoodRating, []float64{0, 1, 2, 3, 4, 5}, []float64{4, 4, 4, 4, 4, 4})

	trend := analyzer.Compute(domain.MetricMoodRating, points)
	assert.Equal(t, domain.DirectionStable, trend.Direction)
	assert.Equal(t, 0.0, trend.Confidence)
	assert.False(t, trend.IsSignificant)
}

func TestTrendAnalyzer_DoesNotMutateInput(t *testing.T) {
	analyzer := NewTrendAnalyzer(domain.DefaultAnalyticsConfig())
	points := series(domain.MetricSymptomSeverity, []float64{9, 0, 6, 3}, []float64{8, 18, 12, 15})
	original := make([]domain.MeasurementPoint, len(points))
	copy(original, points)

	trend := analyzer.Compute(domain.MetricSymptomSeverity, points)

	assert.Equal(t, original, points)
	assert.Equal(t, 18.0, trend.StartValue)
	assert.Equal(t, 8.0, trend.CurrentValue)
	assert.Equal(t, domain.DirectionImproving, trend.Direction)
}

func TestTrendAnalyzer_Properties(t *testing.T) {
	analyzer := NewTrendAnalyzer(domain.DefaultAnalyticsConfig())
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		n := rng.Intn(30)
		days := make([]float64, n)
		values := make([]float64, n)
		for j := 0; j < n; j++ {
			days[j] = rng.Float64() * 120
			values[j] = rng.NormFloat64() * 50
		}
		if n > 0 && rng.Intn(4) == 0 {
			values[0] = 0
		}
		points := series(domain.MetricMoodRating, days, values)

		first := analyzer.Compute(domain.MetricMoodRating, points)
		second := analyzer.Compute(domain.MetricMoodRating, points)

		require.Equal(t, first, second, "recomputation must be identical")
		assert.GreaterOrEqual(t, first.Confidence, 0.0)
		assert.LessOrEqual(t, first.Confidence, 1.0)
		assert.GreaterOrEqual(t, first.ChangePercentage, 0.0)
		assert.False(t, math.IsNaN(first.Slope))
		if first.StartValue == 0 {
			assert.Equal(t, 0.0, first.ChangePercentage)
		}
		if n < 2 {
			assert.Equal(t, domain.DirectionInsufficientData, first.Direction)
		}
	}
}

func TestTrendAnalyzer_StrictlyIncreasing(t *testing.T) {
	analyzer := NewTrendAnalyzer(domain.DefaultAnalyticsConfig())
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 50; i++ {
		n := 2 + rng.Intn(20)
		days := make([]float64, n)
		values := make([]float64, n)
		for j := 0; j < n; j++ {
			days[j] = float64(j) * (1 + rng.Float64())
			if j > 0 {
				days[j] += days[j-1]
			}
			values[j] = 1
			if j > 0 {
				values[j] = values[j-1] + 0.5 + rng.Float64()
			}
		}

		normal := analyzer.Compute(domain.MetricMoodRating, series(domain.MetricMoodRating, days, values))
		inverted := analyzer.Compute(domain.MetricSymptomSeverity, series(domain.MetricSymptomSeverity, days, values))

		assert.Equal(t, domain.DirectionImproving, normal.Direction)
		assert.Equal(t, domain.DirectionDeclining, inverted.Direction)
	}
}

type fixedEstimator struct{}

func (fixedEstimator) Significant(float64, int) bool { return true }
func (fixedEstimator) Confidence(float64, int) float64 { return 0.99 }

func TestTrendAnalyzer_CustomEstimator(t *testing.T) {
	analyzer := NewTrendAnalyzer(domain.DefaultAnalyticsConfig(), WithSignificanceEstimator(fixedEstimator{}))
	trend := analyzer.Compute(domain.MetricMoodRating, series(domain.MetricMoodRating, []float64{0, 1}, []float64{1, 2}))

	assert.True(t, trend.IsSignificant)
	assert.Equal(t, 0.99, trend.Confidence)
}

func TestTrendAnalyzer_ReliableChange(t *testing.T) {
	cfg, err := domain.NewAnalyticsConfig(domain.AnalyticsSettings{ReliableChangeIndex: 5})
	require.NoError(t, err)
	analyzer := NewTrendAnalyzer(cfg)

	big := analyzer.Compute(domain.MetricSymptomSeverity, series(domain.MetricSymptomSeverity, []float64{0, 7}, []float64{20, 12}))
	small := analyzer.Compute(domain.MetricSymptomSeverity, series(domain.MetricSymptomSeverity, []float64{0, 7}, []float64{20, 18}))

	assert.True(t, big.ReliableChange)
	assert.False(t, small.ReliableChange)
}

func TestComputeTrends_OrderedByMetric(t *testing.T) {
	byMetric := map[domain.MetricKind][]domain.MeasurementPoint{
		domain.MetricSymptomSeverity: series(domain.MetricSymptomSeverity, []float64{0, 3, 6, 9}, []float64{18, 15, 12, 8}),
		domain.MetricMoodRating:      series(domain.MetricMoodRating, []float64{0}, []float64{3}),
		domain.MetricGoalAchievement: series(domain.MetricGoalAchievement, []float64{0, 5}, []float64{1, 3}),
	}

	trends, err := ComputeTrends(byMetric, domain.DefaultAnalyticsConfig())
	require.NoError(t, err)
	require.Len(t, trends, 3)
	assert.Equal(t, domain.MetricGoalAchievement, trends[0].MetricKind)
	assert.Equal(t, domain.MetricMoodRating, trends[1].MetricKind)
	assert.Equal(t, domain.MetricSymptomSeverity, trends[2].MetricKind)
	assert.Equal(t, domain.DirectionInsufficientData, trends[1].Direction)
}

func TestComputeTrends_RejectsMalformedSeries(t *testing.T) {
	cfg := domain.DefaultAnalyticsConfig()

	t.Run("Kind_Filed_Under_Other_Metric", func(t *testing.T) {
		byMetric := map[domain.MetricKind][]domain.MeasurementPoint{
			domain.MetricMoodRating: series(domain.MetricRiskLevel, []float64{0, 1}, []float64{1, 2}),
		}
		trends, err := ComputeTrends(byMetric, cfg)
		assert.Nil(t, trends)
		assert.True(t, errors.Is(err, domain.ErrMixedMetricKinds))
	})

	t.Run("Non_Finite_Value", func(t *testing.T) {
		points := series(domain.MetricMoodRating, []float64{0, 1, 2}, []float64{1, 2, 3})
		points[1].Value = math.NaN()
		byMetric := map[domain.MetricKind][]domain.MeasurementPoint{
			domain.MetricSymptomSeverity: series(domain.MetricSymptomSeverity, []float64{0, 3}, []float64{18, 15}),
			domain.MetricMoodRating:      points,
		}
		trends, err := ComputeTrends(byMetric, cfg)
		assert.Nil(t, trends)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("Infinite_Value", func(t *testing.T) {
		points := series(domain.MetricGoalAchievement, []float64{0, 1}, []float64{1, 2})
		points[0].Value = math.Inf(1)
		_, err := ComputeTrends(map[domain.MetricKind][]domain.MeasurementPoint{domain.MetricGoalAchievement: points}, cfg)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}
