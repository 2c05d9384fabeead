package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultAnalyticsConfig(t *testing.T) {
	cfg := DefaultAnalyticsConfig()

	assert.Equal(t, PolarityInverted, cfg.Polarity(MetricSymptomSeverity))
	assert.Equal(t, PolarityInverted, cfg.Polarity(MetricRiskLevel))
	for _, k := range AllMetricKinds() {
		if k == MetricSymptomSeverity || k == MetricRiskLevel {
			continue
		}
		assert.Equal(t, PolarityNormal, cfg.Polarity(k), k)
	}
	assert.Equal(t, []MetricKind{MetricRiskLevel, MetricSymptomSeverity}, cfg.InvertedMetrics())

	assert.Equal(t, 0.01, cfg.StableEpsilon())
	assert.Equal(t, 5, cfg.SignificanceMinPoints())
	assert.Equal(t, 0.3, cfg.SignificanceMinCorr())
	assert.Equal(t, 10.0, cfg.ConfidenceDivisor())
	assert.Equal(t, 2.0, cfg.ClinicalWeight(MetricSymptomSeverity))
	assert.Equal(t, 1.0, cfg.ClinicalWeight(MetricMoodRating))
	assert.False(t, cfg.DeduplicateAlerts())

	assert.Len(t, cfg.Rules(), 4)
	assert.Equal(t, 4, cfg.MaxWindowSize(MetricHomeworkCompliance))
	assert.Equal(t, 0, cfg.MaxWindowSize(MetricMoodRating))
}

func TestAnalyticsConfigIsImmutable(t *testing.T) {
	cfg := DefaultAnalyticsConfig()

	rules := cfg.RulesFor(MetricHomeworkCompliance)
	require.Len(t, rules, 1)
	rules[0].Threshold = 99
	rules[0].RecommendedActions[0] = "changed"

	again := cfg.RulesFor(MetricHomeworkCompliance)
	assert.Equal(t, 0.3, again[0].Threshold)
	assert.NotEqual(t, "changed", again[0].RecommendedActions[0])
}

func TestNewAnalyticsConfigOverrides(t *testing.T) {
	cfg, err := NewAnalyticsConfig(AnalyticsSettings{
		StableEpsilon:     0.5,
		InvertedMetrics:   []string{"sleep_quality"},
		DeduplicateAlerts: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.StableEpsilon())
	assert.Equal(t, PolarityInverted, cfg.Polarity(MetricSleepQuality))
	assert.Equal(t, PolarityNormal, cfg.Polarity(MetricSymptomSeverity))
	assert.True(t, cfg.DeduplicateAlerts())
}

func TestNewAnalyticsConfigRejectsBadInput(t *testing.T) {
	_, err := NewAnalyticsConfig(AnalyticsSettings{InvertedMetrics: []string{"height"}})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	bad := DefaultAlertRules()
	bad[0].Severity = "purple"
	_, err = NewAnalyticsConfig(AnalyticsSettings{Rules: bad})
	assert.True(t, errors.Is(err, ErrInvalidSeverity))

	bad = DefaultAlertRules()
	bad[1].MinPoints = 10
	_, err = NewAnalyticsConfig(AnalyticsSettings{Rules: bad})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestTrendFingerprint(t *testing.T) {
	def := DefaultAnalyticsConfig()
	again, err := NewAnalyticsConfig(DefaultAnalyticsSettings())
	require.NoError(t, err)
	assert.Equal(t, def.TrendFingerprint(), again.TrendFingerprint())

	s := DefaultAnalyticsSettings()
	s.InvertedMetrics = []string{string(MetricSymptomSeverity)}
	fewerInverted, err := NewAnalyticsConfig(s)
	require.NoError(t, err)
	assert.NotEqual(t, def.TrendFingerprint(), fewerInverted.TrendFingerprint())

	s = DefaultAnalyticsSettings()
	s.StableEpsilon = 0.5
	wider, err := NewAnalyticsConfig(s)
	require.NoError(t, err)
	assert.NotEqual(t, def.TrendFingerprint(), wider.TrendFingerprint())

	s = DefaultAnalyticsSettings()
	s.DeduplicateAlerts = true
	dedup, err := NewAnalyticsConfig(s)
	require.NoError(t, err)
	assert.Equal(t, def.TrendFingerprint(), dedup.TrendFingerprint())
}
