package service

import (
	"fmt"
	"math"
	"sort"

	"github.com/progress-analytics-server/internal/domain"
)

// SignificanceEstimator decides whether a fitted trend is significant and how confident
// the fit is. The default is a heuristic, not a hypothesis test.
type SignificanceEstimator interface {
	Significant(correlation float64, n int) bool
	Confidence(correlation float64, n int) float64
}

// HeuristicEstimator flags a trend as significant when |r| exceeds MinCorrelation over at
// least MinPoints points, and scores confidence as |r|*n/Divisor capped at 1.
type HeuristicEstimator struct {
	MinCorrelation float64
	MinPoints      int
	Divisor        float64
}

// NewHeuristicEstimator reads its thresholds from the analytics configuration.
func NewHeuristicEstimator(cfg domain.AnalyticsConfig) HeuristicEstimator {
	return HeuristicEstimator{
		MinCorrelation: cfg.SignificanceMinCorr(),
		MinPoints:      cfg.SignificanceMinPoints(),
		Divisor:        cfg.ConfidenceDivisor(),
	}
}

func (h HeuristicEstimator) Significant(correlation float64, n int) bool {
	return math.Abs(correlation) > h.MinCorrelation && n >= h.MinPoints
}

func (h HeuristicEstimator) Confidence(correlation float64, n int) float64 {
	if h.Divisor <= 0 {
		return 0
	}
	return clamp(math.Min(math.Abs(correlation)*float64(n)/h.Divisor, 1), 0, 1)
}

// TrendAnalyzer fits a linear trend to one metric's measurements and classifies its direction
// using the metric's polarity. It holds no mutable state and is safe for concurrent use.
type TrendAnalyzer struct {
	cfg       domain.AnalyticsConfig
	estimator SignificanceEstimator
}

// TrendAnalyzerOption configures a TrendAnalyzer
type TrendAnalyzerOption func(*TrendAnalyzer)

// WithSignificanceEstimator replaces the heuristic estimator.
func WithSignificanceEstimator(e SignificanceEstimator) TrendAnalyzerOption {
	return func(a *TrendAnalyzer) {
		a.estimator = e
	}
}

// NewTrendAnalyzer creates a trend analyzer bound to an analytics configuration
func NewTrendAnalyzer(cfg domain.AnalyticsConfig, opts ...TrendAnalyzerOption) *TrendAnalyzer {
	a := &TrendAnalyzer{
		cfg:       cfg,
		estimator: NewHeuristicEstimator(cfg),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Compute returns the trend of points, which must all belong to kind. Degenerate input
// (fewer than two points, or every point at the same instant) yields the insufficient-data
// sentinel rather than an error.
func (a *TrendAnalyzer) Compute(kind domain.MetricKind, points []domain.MeasurementPoint) domain.Trend {
	sorted := sortedCopy(points)
	n := len(sorted)

	if n < 2 || !sorted[n-1].Timestamp.After(sorted[0].Timestamp) {
		return insufficientTrend(kind, n)
	}

	origin := sorted[0].Timestamp
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, p := range sorted {
		xs[i] = elapsedDays(origin, p.Timestamp)
		ys[i] = p.Value
	}

	reg, ok := fitLine(xs, ys)
	if !ok {
		return insufficientTrend(kind, n)
	}

	start, current := ys[0], ys[n-1]
	magnitude := math.Abs(current - start)
	trend := domain.Trend{
		MetricKind:       kind,
		Direction:        a.classify(kind, reg.slope),
		Slope:            reg.slope,
		Confidence:       a.estimator.Confidence(reg.correlation, n),
		PointCount:       n,
		StartValue:       start,
		CurrentValue:     current,
		ChangeMagnitude:  magnitude,
		ChangePercentage: percentChange(start, current),
		IsSignificant:    a.estimator.Significant(reg.correlation, n),
		SpanDays:         xs[n-1],
	}
	if rci := a.cfg.ReliableChangeIndex(); rci > 0 {
		trend.ReliableChange = magnitude >= rci
	}
	return trend
}

func (a *TrendAnalyzer) classify(kind domain.MetricKind, slope float64) domain.TrendDirection {
	if math.Abs(slope) < a.cfg.StableEpsilon() {
		return domain.DirectionStable
	}
	rising := slope > 0
	if a.cfg.Polarity(kind) == domain.PolarityInverted {
		rising = !rising
	}
	if rising {
		return domain.DirectionImproving
	}
	return domain.DirectionDeclining
}

// ComputeAll returns one trend per metric, ordered by metric kind name. Every series is
// validated first; a malformed series rejects the whole call.
func (a *TrendAnalyzer) ComputeAll(pointsByMetric map[domain.MetricKind][]domain.MeasurementPoint) ([]domain.Trend, error) {
	kinds := make([]domain.MetricKind, 0, len(pointsByMetric))
	for k := range pointsByMetric {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	for _, k := range kinds {
		if err := domain.ValidateMetricSeries(k, pointsByMetric[k]); err != nil {
			return nil, fmt.Errorf("%s series: %w", k, err)
		}
	}

	trends := make([]domain.Trend, 0, len(kinds))
	for _, k := range kinds {
		trends = append(trends, a.Compute(k, pointsByMetric[k]))
	}
	return trends, nil
}

// ComputeTrends is the package-level entry point over the default heuristic estimator.
func ComputeTrends(pointsByMetric map[domain.MetricKind][]domain.MeasurementPoint, cfg domain.AnalyticsConfig) ([]domain.Trend, error) {
	return NewTrendAnalyzer(cfg).ComputeAll(pointsByMetric)
}

// GroupByMetric splits a mixed point list into per-metric series.
func GroupByMetric(points []domain.MeasurementPoint) map[domain.MetricKind][]domain.MeasurementPoint {
	out := make(map[domain.MetricKind][]domain.MeasurementPoint)
	for _, p := range points {
		out[p.MetricKind] = append(out[p.MetricKind], p)
	}
	return out
}

func insufficientTrend(kind domain.MetricKind, n int) domain.Trend {
	return domain.Trend{
		MetricKind: kind,
		Direction:  domain.DirectionInsufficientData,
		PointCount: n,
	}
}
