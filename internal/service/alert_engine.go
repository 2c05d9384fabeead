package service

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/progress-analytics-server/internal/domain"
)

// ruleOutcome is what a predicate reports back to the engine.
type ruleOutcome struct {
	Fired     bool
	Trigger   float64
	Percent   float64
	Mean      float64
	Oldest    float64
	Newest    float64
	Count     int
	Threshold float64
	Metric    string
}

// predicateFunc evaluates a rule against a sorted window.
type predicateFunc func(rule domain.AlertRule, polarity domain.Polarity, window []domain.MeasurementPoint) ruleOutcome

// AlertEngine evaluates alert rules over rolling windows of recent measurements. It never
// mutates the window it is given and keeps no state between calls.
type AlertEngine struct {
	cfg        domain.AnalyticsConfig
	predicates map[domain.RulePredicate]predicateFunc
	templates  map[string]*template.Template
	now        domain.Clock
	newID      func() string
}

// AlertEngineOption configures an AlertEngine
type AlertEngineOption func(*AlertEngine)

// WithAlertClock pins the creation time of emitted alerts.
func WithAlertClock(clock domain.Clock) AlertEngineOption {
	return func(e *AlertEngine) {
		e.now = clock
	}
}

// WithAlertIDGenerator replaces the uuid generator.
func WithAlertIDGenerator(gen func() string) AlertEngineOption {
	return func(e *AlertEngine) {
		e.newID = gen
	}
}

// NewAlertEngine creates an alert engine for the rules in cfg. Description templates are
// parsed up front so a malformed rule is reported at startup.
func NewAlertEngine(cfg domain.AnalyticsConfig, opts ...AlertEngineOption) (*AlertEngine, error) {
	e := &AlertEngine{
		cfg:       cfg,
		templates: make(map[string]*template.Template),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	e.predicates = map[domain.RulePredicate]predicateFunc{
		domain.PredicatePercentWorsening: evaluatePercentWorsening,
		domain.PredicateMeanBelow:        evaluateMeanBelow,
	}

	for _, rule := range cfg.Rules() {
		tmpl, err := template.New(rule.ID).Option("missingkey=zero").Parse(rule.DescriptionTemplate)
		if err != nil {
			return nil, fmt.Errorf("parse description template for rule %s: %w", rule.ID, err)
		}
		e.templates[rule.ID] = tmpl
	}

	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Evaluate runs every rule for kind against window and returns the alerts that fired, in
// rule-table order. A rule whose minimum point count exceeds the window is skipped.
func (e *AlertEngine) Evaluate(subjectID string, kind domain.MetricKind, window []domain.MeasurementPoint) []domain.Alert {
	rules := e.cfg.RulesFor(kind)
	if len(rules) == 0 || len(window) == 0 {
		return nil
	}

	sorted := sortedCopy(window)
	polarity := e.cfg.Polarity(kind)

	var alerts []domain.Alert
	for _, rule := range rules {
		if len(sorted) < rule.MinPoints {
			continue
		}
		eval, ok := e.predicates[rule.Predicate]
		if !ok {
			continue
		}

		outcome := eval(rule, polarity, newest(sorted, rule.WindowSize))
		if !outcome.Fired {
			continue
		}
		outcome.Threshold = rule.Threshold
		outcome.Metric = kind.DisplayName()

		alerts = append(alerts, domain.Alert{
			ID:                 e.newID(),
			SubjectID:          subjectID,
			MetricKind:         kind,
			RuleID:             rule.ID,
			Severity:           rule.Severity,
			Description:        e.describe(rule, outcome),
			RecommendedActions: rule.RecommendedActions,
			TriggerValue:       outcome.Trigger,
			CreatedAt:          e.now(),
		})
	}
	return alerts
}

// EvaluateAll evaluates each metric's window, ordered by metric kind name. Windows are
// validated before any rule runs.
func (e *AlertEngine) EvaluateAll(subjectID string, windowByMetric map[domain.MetricKind][]domain.MeasurementPoint) ([]domain.Alert, error) {
	kinds := make([]domain.MetricKind, 0, len(windowByMetric))
	for k := range windowByMetric {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	for _, k := range kinds {
		if err := domain.ValidateMetricSeries(k, windowByMetric[k]); err != nil {
			return nil, fmt.Errorf("%s window: %w", k, err)
		}
	}

	var alerts []domain.Alert
	for _, k := range kinds {
		alerts = append(alerts, e.Evaluate(subjectID, k, windowByMetric[k])...)
	}
	return alerts, nil
}

// EvaluateAlerts is the package-level entry point over the rule table carried by cfg.
func EvaluateAlerts(subjectID string, windowByMetric map[domain.MetricKind][]domain.MeasurementPoint, cfg domain.AnalyticsConfig) ([]domain.Alert, error) {
	engine, err := NewAlertEngine(cfg)
	if err != nil {
		return nil, err
	}
	return engine.EvaluateAll(subjectID, windowByMetric)
}

func (e *AlertEngine) describe(rule domain.AlertRule, outcome ruleOutcome) string {
	tmpl, ok := e.templates[rule.ID]
	if !ok {
		return rule.ID
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, outcome); err != nil {
		return fmt.Sprintf("%s (trigger value %.2f)", rule.ID, outcome.Trigger)
	}
	return buf.String()
}

// newest returns the last size points of a sorted window.
func newest(sorted []domain.MeasurementPoint, size int) []domain.MeasurementPoint {
	if size <= 0 || size >= len(sorted) {
		return sorted
	}
	return sorted[len(sorted)-size:]
}

// evaluatePercentWorsening compares the oldest and newest point of the window. An oldest
// value of zero never fires.
func evaluatePercentWorsening(rule domain.AlertRule, polarity domain.Polarity, window []domain.MeasurementPoint) ruleOutcome {
	oldest := window[0].Value
	latest := window[len(window)-1].Value
	out := ruleOutcome{Oldest: oldest, Newest: latest, Count: len(window)}
	if oldest == 0 {
		return out
	}

	change := (latest - oldest) / math.Abs(oldest) * 100
	if polarity == domain.PolarityNormal {
		change = -change
	}
	out.Percent = change
	out.Trigger = change
	out.Fired = change > rule.Threshold
	return out
}

// evaluateMeanBelow fires when the mean of the window is below the threshold.
func evaluateMeanBelow(rule domain.AlertRule, _ domain.Polarity, window []domain.MeasurementPoint) ruleOutcome {
	values := make([]float64, len(window))
	for i, p := range window {
		values[i] = p.Value
	}
	m := mean(values)
	return ruleOutcome{
		Fired:   m < rule.Threshold,
		Trigger: m,
		Mean:    m,
		Oldest:  values[0],
		Newest:  values[len(values)-1],
		Count:   len(values),
	}
}
