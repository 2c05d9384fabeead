package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Default analytics constants.
const (
	DefaultStableEpsilon         = 0.01
	DefaultSignificanceMinPoints = 5
	DefaultSignificanceMinCorr   = 0.3
	DefaultConfidenceDivisor     = 10.0
	DefaultClinicalWeight        = 2.0
	DefaultReliableChangeIndex   = 0.0
)

// Default rule identifiers.
const (
	RuleSymptomDeterioration = "symptom_deterioration"
	RuleRiskDeterioration    = "risk_deterioration"
	RuleLowHomework          = "low_homework_compliance"
	RuleLowEngagement        = "low_session_engagement"
)

// DefaultAlertRules returns the built-in rule table.
func DefaultAlertRules() []AlertRule {
	return []AlertRule{
		{
			ID:                  RuleSymptomDeterioration,
			MetricKind:          MetricSymptomSeverity,
			Predicate:           PredicatePercentWorsening,
			Threshold:           30,
			WindowSize:          4,
			MinPoints:           3,
			Severity:            SeverityOrange,
			DescriptionTemplate: "Symptom severity worsened by {{printf \"%.1f\" .Percent}}% across the last {{.Count}} measurements ({{printf \"%.2f\" .Oldest}} to {{printf \"%.2f\" .Newest}})",
			RecommendedActions: []string{
				"Review current treatment plan",
				"Schedule an additional check-in",
				"Reassess symptom triggers",
			},
		},
		{
			ID:                  RuleRiskDeterioration,
			MetricKind:          MetricRiskLevel,
			Predicate:           PredicatePercentWorsening,
			Threshold:           30,
			WindowSize:          4,
			MinPoints:           3,
			Severity:            SeverityRed,
			DescriptionTemplate: "Risk level rose by {{printf \"%.1f\" .Percent}}% across the last {{.Count}} measurements ({{printf \"%.2f\" .Oldest}} to {{printf \"%.2f\" .Newest}})",
			RecommendedActions: []string{
				"Complete a risk assessment",
				"Review the safety plan",
				"Consult the supervising clinician",
			},
		},
		{
			ID:                  RuleLowHomework,
			MetricKind:          MetricHomeworkCompliance,
			Predicate:           PredicateMeanBelow,
			Threshold:           0.3,
			WindowSize:          4,
			MinPoints:           4,
			Severity:            SeverityYellow,
			DescriptionTemplate: "Homework compliance averaged {{printf \"%.2f\" .Mean}} over the last {{.Count}} assignments (threshold {{.Threshold}})",
			RecommendedActions: []string{
				"Explore barriers to completing assignments",
				"Simplify or shorten assignments",
			},
		},
		{
			ID:                  RuleLowEngagement,
			MetricKind:          MetricSessionEngagement,
			Predicate:           PredicateMeanBelow,
			Threshold:           4.0,
			WindowSize:          3,
			MinPoints:           3,
			Severity:            SeverityYellow,
			DescriptionTemplate: "Session engagement averaged {{printf \"%.1f\" .Mean}} over the last {{.Count}} sessions (threshold {{.Threshold}})",
			RecommendedActions: []string{
				"Discuss engagement and therapeutic alliance",
				"Revisit treatment goals with the client",
			},
		},
	}
}

// AnalyticsConfig is the immutable configuration passed into every analytics call. It holds
// the polarity table, classification constants and the alert rule table. All accessors
// return copies so a shared value can be read concurrently.
type AnalyticsConfig struct {
	inverted              map[MetricKind]bool
	weighted              map[MetricKind]bool
	stableEpsilon         float64
	significanceMinPoints int
	significanceMinCorr   float64
	confidenceDivisor     float64
	clinicalWeight        float64
	reliableChangeIndex   float64
	deduplicateAlerts     bool
	rules                 []AlertRule
}

// DefaultAnalyticsConfig returns the configuration with default constants, the default
// polarity table (symptom severity and risk level inverted) and the default rules.
func DefaultAnalyticsConfig() AnalyticsConfig {
	cfg, _ := NewAnalyticsConfig(AnalyticsSettings{})
	return cfg
}

// DefaultAnalyticsSettings returns the settings DefaultAnalyticsConfig is built from.
func DefaultAnalyticsSettings() AnalyticsSettings {
	return AnalyticsSettings{
		StableEpsilon:         DefaultStableEpsilon,
		SignificanceMinPoints: DefaultSignificanceMinPoints,
		SignificanceMinCorr:   DefaultSignificanceMinCorr,
		ConfidenceDivisor:     DefaultConfidenceDivisor,
		InvertedMetrics:       []string{string(MetricSymptomSeverity), string(MetricRiskLevel)},
		ClinicalWeight:        DefaultClinicalWeight,
		WeightedMetrics:       []string{string(MetricSymptomSeverity), string(MetricRiskLevel)},
		ReliableChangeIndex:   DefaultReliableChangeIndex,
		Rules:                 DefaultAlertRules(),
	}
}

// NewAnalyticsConfig freezes settings into an AnalyticsConfig. Zero-valued numeric settings
// and empty lists fall back to defaults.
func NewAnalyticsConfig(s AnalyticsSettings) (AnalyticsConfig, error) {
	def := DefaultAnalyticsSettings()
	if s.StableEpsilon <= 0 {
		s.StableEpsilon = def.StableEpsilon
	}
	if s.SignificanceMinPoints <= 0 {
		s.SignificanceMinPoints = def.SignificanceMinPoints
	}
	if s.SignificanceMinCorr <= 0 {
		s.SignificanceMinCorr = def.SignificanceMinCorr
	}
	if s.ConfidenceDivisor <= 0 {
		s.ConfidenceDivisor = def.ConfidenceDivisor
	}
	if s.ClinicalWeight <= 0 {
		s.ClinicalWeight = def.ClinicalWeight
	}
	if len(s.InvertedMetrics) == 0 {
		s.InvertedMetrics = def.InvertedMetrics
	}
	if len(s.WeightedMetrics) == 0 {
		s.WeightedMetrics = def.WeightedMetrics
	}
	if len(s.Rules) == 0 {
		s.Rules = def.Rules
	}

	inverted, err := metricSet(s.InvertedMetrics)
	if err != nil {
		return AnalyticsConfig{}, fmt.Errorf("parse inverted metrics: %w", err)
	}
	weighted, err := metricSet(s.WeightedMetrics)
	if err != nil {
		return AnalyticsConfig{}, fmt.Errorf("parse weighted metrics: %w", err)
	}

	rules := make([]AlertRule, 0, len(s.Rules))
	for _, r := range s.Rules {
		if err := ValidateRule(r); err != nil {
			return AnalyticsConfig{}, err
		}
		rules = append(rules, cloneRule(r))
	}

	return AnalyticsConfig{
		inverted:              inverted,
		weighted:              weighted,
		stableEpsilon:         s.StableEpsilon,
		significanceMinPoints: s.SignificanceMinPoints,
		significanceMinCorr:   s.SignificanceMinCorr,
		confidenceDivisor:     s.ConfidenceDivisor,
		clinicalWeight:        s.ClinicalWeight,
		reliableChangeIndex:   s.ReliableChangeIndex,
		deduplicateAlerts:     s.DeduplicateAlerts,
		rules:                 rules,
	}, nil
}

func metricSet(raw []string) (map[MetricKind]bool, error) {
	set := make(map[MetricKind]bool, len(raw))
	for _, r := range raw {
		k, err := ParseMetricKind(r)
		if err != nil {
			return nil, err
		}
		set[k] = true
	}
	return set, nil
}

// ValidateRule checks that a rule can be evaluated.
func ValidateRule(r AlertRule) error {
	switch {
	case r.ID == "":
		return NewValidationError("rule.id", "rule id is required", r.ID)
	case !r.MetricKind.IsValid():
		return NewValidationError("rule.metric_kind", "unknown metric kind", r.MetricKind)
	case !r.Predicate.IsValid():
		return fmt.Errorf("rule %s: %w: %q", r.ID, ErrInvalidPredicate, r.Predicate)
	case !r.Severity.IsValid():
		return fmt.Errorf("rule %s: %w: %q", r.ID, ErrInvalidSeverity, r.Severity)
	case r.WindowSize < 1:
		return NewValidationError("rule.window_size", "window size must be positive", r.WindowSize)
	case r.MinPoints < 1 || r.MinPoints > r.WindowSize:
		return NewValidationError("rule.min_points", "min points must be between 1 and the window size", r.MinPoints)
	}
	return nil
}

func cloneRule(r AlertRule) AlertRule {
	r.RecommendedActions = append([]string(nil), r.RecommendedActions...)
	return r
}

// Polarity returns the polarity of a metric kind.
func (c AnalyticsConfig) Polarity(kind MetricKind) Polarity {
	if c.inverted[kind] {
		return PolarityInverted
	}
	return PolarityNormal
}

// InvertedMetrics returns the inverted-polarity metric kinds in name order.
func (c AnalyticsConfig) InvertedMetrics() []MetricKind {
	out := make([]MetricKind, 0, len(c.inverted))
	for k := range c.inverted {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ClinicalWeight returns the score multiplier applied to a metric's change percentage.
func (c AnalyticsConfig) ClinicalWeight(kind MetricKind) float64 {
	if c.weighted[kind] {
		return c.clinicalWeight
	}
	return 1
}

func (c AnalyticsConfig) StableEpsilon() float64 { return c.stableEpsilon }
func (c AnalyticsConfig) SignificanceMinPoints() int { return c.significanceMinPoints }
func (c AnalyticsConfig) SignificanceMinCorr() float64 { return c.significanceMinCorr }
func (c AnalyticsConfig) ConfidenceDivisor() float64 { return c.confidenceDivisor }
func (c AnalyticsConfig) ReliableChangeIndex() float64 { return c.reliableChangeIndex }
func (c AnalyticsConfig) DeduplicateAlerts() bool { return c.deduplicateAlerts }

// Rules returns a copy of the whole rule table.
func (c AnalyticsConfig) Rules() []AlertRule {
	out := make([]AlertRule, len(c.rules))
	for i, r := range c.rules {
		out[i] = cloneRule(r)
	}
	return out
}

// RulesFor returns the rules that apply to one metric kind.
func (c AnalyticsConfig) RulesFor(kind MetricKind) []AlertRule {
	var out []AlertRule
	for _, r := range c.rules {
		if r.MetricKind == kind {
			out = append(out, cloneRule(r))
		}
	}
	return out
}

// TrendFingerprint renders the settings that shape a computed trend. Configurations with
// equal fingerprints compute identical trends from identical points.
func (c AnalyticsConfig) TrendFingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "eps=%g;pts=%d;corr=%g;div=%g;rci=%g;inverted=",
		c.stableEpsilon, c.significanceMinPoints, c.significanceMinCorr, c.confidenceDivisor, c.reliableChangeIndex)
	for i, k := range c.InvertedMetrics() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(k))
	}
	return b.String()
}

// MaxWindowSize returns the largest rule window for a metric kind, or 0 when no rule applies.
func (c AnalyticsConfig) MaxWindowSize(kind MetricKind) int {
	largest := 0
	for _, r := range c.rules {
		if r.MetricKind == kind && r.WindowSize > largest {
			largest = r.WindowSize
		}
	}
	return largest
}
