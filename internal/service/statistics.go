package service

import (
	"math"
	"sort"
	"time"

	"github.com/progress-analytics-server/internal/domain"
)

const secondsPerDay = 86400.0

// regression holds the closed-form least-squares fit of value against elapsed days.
type regression struct {
	n           int
	slope       float64
	intercept   float64
	correlation float64
}

// sortedCopy returns the points ordered by timestamp without touching the input.
// Points sharing a timestamp keep their relative order.
func sortedCopy(points []domain.MeasurementPoint) []domain.MeasurementPoint {
	out := make([]domain.MeasurementPoint, len(points))
	copy(out, points)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// elapsedDays converts timestamps to fractional days since origin.
func elapsedDays(origin, t time.Time) float64 {
	return t.Sub(origin).Seconds() / secondsPerDay
}

// fitLine runs ordinary least squares over (x, y). ok is false when x has no variance.
func fitLine(xs, ys []float64) (regression, bool) {
	n := float64(len(xs))
	if len(xs) < 2 || len(xs) != len(ys) {
		return regression{n: len(xs)}, false
	}

	var sumX, sumY, sumXY, sumXX, sumYY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
		sumYY += ys[i] * ys[i]
	}

	sxx := n*sumXX - sumX*sumX
	syy := n*sumYY - sumY*sumY
	sxy := n*sumXY - sumX*sumY
	if sxx <= 0 {
		return regression{n: len(xs)}, false
	}

	slope := sxy / sxx
	reg := regression{
		n:         len(xs),
		slope:     slope,
		intercept: (sumY - slope*sumX) / n,
	}
	if syy > 0 {
		reg.correlation = clamp(sxy/math.Sqrt(sxx*syy), -1, 1)
	}
	return reg, true
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// percentChange is |to-from|/|from|*100, and 0 when from is 0.
func percentChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return math.Abs(to-from) / math.Abs(from) * 100
}
