package service

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/progress-analytics-server/internal/domain"
)

// Default service settings applied when SummaryConfig leaves them unset.
const (
	DefaultLookbackDays   = 90
	DefaultRateWindowDays = 30
	maxLookbackDays       = 3650

	notifyQueueSize = 256
	notifyTimeout   = 30 * time.Second
)

// RecordResult is the outcome of recording one measurement.
// AlertError is set when the measurement was stored but alert evaluation failed; the
// measurement must not be resubmitted.
type RecordResult struct {
	Measurement domain.MeasurementPoint `json:"measurement"`
	Alerts      []domain.Alert          `json:"alerts"`
	AlertError  string                  `json:"alert_error,omitempty"`
}

// BatchResult is the outcome of recording a batch of measurements.
type BatchResult struct {
	Measurements []domain.MeasurementPoint `json:"measurements"`
	Alerts       []domain.Alert            `json:"alerts"`
	AlertError   string                    `json:"alert_error,omitempty"`
}

// ProgressService wires the analytics core to storage, caching and notification. It is the
// entry point used by the REST and MCP transports.
type ProgressService struct {
	logger     *logrus.Logger
	store      domain.MetricStore
	alerts     domain.AlertSink
	rates      domain.CompletionRateProvider
	cache      domain.TrendCache
	notifiers  []domain.AlertNotifier
	cfg        domain.AnalyticsConfig
	summaryCfg domain.SummaryConfig
	analyzer   *TrendAnalyzer
	engine     *AlertEngine
	now        domain.Clock
	engineOpts []AlertEngineOption
	trendSalt  string

	// notifications are delivered off the request path by a single worker
	queue      chan domain.Alert
	queueMu    sync.RWMutex
	closed     bool
	dispatched chan struct{}
	closeOnce  sync.Once
}

// ProgressServiceOption configures a ProgressService
type ProgressServiceOption func(*ProgressService)

// WithTrendCache enables trend memoization.
func WithTrendCache(cache domain.TrendCache) ProgressServiceOption {
	return func(s *ProgressService) {
		s.cache = cache
	}
}

// WithNotifiers registers out-of-band alert notifiers.
func WithNotifiers(notifiers ...domain.AlertNotifier) ProgressServiceOption {
	return func(s *ProgressService) {
		s.notifiers = append(s.notifiers, notifiers...)
	}
}

// WithSummaryConfig overrides lookback and window settings.
func WithSummaryConfig(cfg domain.SummaryConfig) ProgressServiceOption {
	return func(s *ProgressService) {
		s.summaryCfg = cfg
	}
}

// WithClock pins the service clock. The alert engine shares it.
func WithClock(clock domain.Clock) ProgressServiceOption {
	return func(s *ProgressService) {
		s.now = clock
		s.engineOpts = append(s.engineOpts, WithAlertClock(clock))
	}
}

// WithEngineOptions passes options through to the alert engine.
func WithEngineOptions(opts ...AlertEngineOption) ProgressServiceOption {
	return func(s *ProgressService) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

// NewProgressService creates a new progress service
func NewProgressService(
	logger *logrus.Logger,
	store domain.MetricStore,
	alerts domain.AlertSink,
	rates domain.CompletionRateProvider,
	cfg domain.AnalyticsConfig,
	opts ...ProgressServiceOption,
) (*ProgressService, error) {
	s := &ProgressService{
		logger: logger,
		store:  store,
		alerts: alerts,
		rates:  rates,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.summaryCfg.LookbackDays <= 0 {
		s.summaryCfg.LookbackDays = DefaultLookbackDays
	}
	if s.summaryCfg.RateWindowDays <= 0 {
		s.summaryCfg.RateWindowDays = DefaultRateWindowDays
	}

	engine, err := NewAlertEngine(cfg, s.engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("create alert engine: %w", err)
	}
	s.engine = engine
	s.analyzer = NewTrendAnalyzer(cfg)
	s.trendSalt = cfg.TrendFingerprint()

	if len(s.notifiers) > 0 {
		s.queue = make(chan domain.Alert, notifyQueueSize)
		s.dispatched = make(chan struct{})
		go s.dispatch()
	}

	return s, nil
}

// Close stops the notification worker after it has delivered every queued alert.
func (s *ProgressService) Close() {
	s.closeOnce.Do(func() {
		if s.queue == nil {
			return
		}
		s.queueMu.Lock()
		s.closed = true
		close(s.queue)
		s.queueMu.Unlock()
		<-s.dispatched
	})
}

// RecordMeasurement validates and stores one measurement, then evaluates the alert rules
// for its metric over the most recent window. Once the insert succeeds the call succeeds:
// an alerting failure is logged and reported in AlertError.
func (s *ProgressService) RecordMeasurement(ctx context.Context, subjectID string, in domain.MeasurementInput) (*RecordResult, error) {
	point := in.ToPoint(strings.TrimSpace(subjectID), s.now())
	if err := domain.ValidatePoint(&point); err != nil {
		return nil, err
	}

	if err := s.store.Insert(ctx, &point); err != nil {
		return nil, fmt.Errorf("insert measurement: %w", err)
	}

	result := &RecordResult{Measurement: point, Alerts: []domain.Alert{}}
	fired, err := s.evaluate(ctx, point.SubjectID, point.MetricKind)
	result.Alerts = append(result.Alerts, fired...)
	if err != nil {
		result.AlertError = s.alertFailure(point.SubjectID, point.MetricKind, err)
	}

	s.logger.WithFields(logrus.Fields{
		"subject_id":   point.SubjectID,
		"metric_kind":  point.MetricKind,
		"measurement":  point.ID,
		"alerts_fired": len(result.Alerts),
	}).Info("Recorded measurement")

	return result, nil
}

// RecordBatch validates every input before storing any of them. Alert rules run once per
// metric kind present in the batch.
func (s *ProgressService) RecordBatch(ctx context.Context, subjectID string, inputs []domain.MeasurementInput) (*BatchResult, error) {
	if len(inputs) == 0 {
		return nil, domain.NewValidationError("measurements", "at least one measurement is required", nil)
	}

	subjectID = strings.TrimSpace(subjectID)
	now := s.now()
	points := make([]domain.MeasurementPoint, len(inputs))
	for i, in := range inputs {
		points[i] = in.ToPoint(subjectID, now)
		if err := domain.ValidatePoint(&points[i]); err != nil {
			return nil, fmt.Errorf("measurement %d: %w", i, err)
		}
	}

	if err := s.store.InsertBatch(ctx, points); err != nil {
		return nil, fmt.Errorf("insert measurements: %w", err)
	}

	kinds := make(map[domain.MetricKind]bool)
	for i := range points {
		kinds[points[i].MetricKind] = true
	}

	ordered := make([]domain.MetricKind, 0, len(kinds))
	for k := range kinds {
		ordered = append(ordered, k)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	result := &BatchResult{Measurements: points, Alerts: []domain.Alert{}}
	var failures []string
	for _, k := range ordered {
		fired, err := s.evaluate(ctx, subjectID, k)
		result.Alerts = append(result.Alerts, fired...)
		if err != nil {
			failures = append(failures, s.alertFailure(subjectID, k, err))
		}
	}
	result.AlertError = strings.Join(failures, "; ")

	s.logger.WithFields(logrus.Fields{
		"subject_id":   subjectID,
		"measurements": len(points),
		"alerts_fired": len(result.Alerts),
	}).Info("Recorded measurement batch")

	return result, nil
}

func (s *ProgressService) evaluate(ctx context.Context, subjectID string, kind domain.MetricKind) ([]domain.Alert, error) {
	limit := s.cfg.MaxWindowSize(kind)
	if limit == 0 {
		return []domain.Alert{}, nil
	}
	if s.summaryCfg.AlertWindowSize > limit {
		limit = s.summaryCfg.AlertWindowSize
	}

	window, err := s.store.Recent(ctx, subjectID, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("load recent measurements: %w", err)
	}

	if err := domain.ValidateMetricSeries(kind, window); err != nil {
		return nil, fmt.Errorf("recent %s measurements: %w", kind, err)
	}

	fired := s.engine.Evaluate(subjectID, kind, window)
	if len(fired) > 0 && s.cfg.DeduplicateAlerts() {
		fired, err = s.dropDuplicates(ctx, subjectID, fired)
		if err != nil {
			return nil, err
		}
	}

	out := make([]domain.Alert, 0, len(fired))
	for i := range fired {
		alert := fired[i]
		if err := s.alerts.Persist(ctx, &alert); err != nil {
			return out, fmt.Errorf("persist alert: %w", err)
		}
		s.logger.WithFields(logrus.Fields(alert.LogFields())).Warn("Alert raised")
		s.notify(alert)
		out = append(out, alert)
	}
	return out, nil
}

// alertFailure logs an alerting error for a stored measurement and returns the message
// reported to the caller.
func (s *ProgressService) alertFailure(subjectID string, kind domain.MetricKind, err error) string {
	s.logger.WithError(err).WithFields(logrus.Fields{
		"subject_id":  subjectID,
		"metric_kind": kind,
	}).Error("Alert evaluation failed after measurement was stored")
	return fmt.Sprintf("%s: alert evaluation failed", kind)
}

// dropDuplicates removes fired alerts whose rule already has an unresolved alert for the subject.
func (s *ProgressService) dropDuplicates(ctx context.Context, subjectID string, fired []domain.Alert) ([]domain.Alert, error) {
	open, err := s.alerts.ListUnresolved(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list unresolved alerts: %w", err)
	}
	seen := make(map[string]bool, len(open))
	for _, a := range open {
		seen[string(a.MetricKind)+"|"+a.RuleID] = true
	}

	kept := fired[:0:0]
	for _, a := range fired {
		if seen[string(a.MetricKind)+"|"+a.RuleID] {
			s.logger.WithFields(logrus.Fields{
				"subject_id": subjectID,
				"rule_id":    a.RuleID,
			}).Debug("Suppressed duplicate alert")
			continue
		}
		kept = append(kept, a)
	}
	return kept, nil
}

// notify queues an alert for delivery. A full queue drops the notification; the alert itself
// is already persisted.
func (s *ProgressService) notify(alert domain.Alert) {
	if s.queue == nil {
		return
	}
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- alert:
	default:
		s.logger.WithField("alert_id", alert.ID).Warn("Notification queue full, dropping alert notification")
	}
}

func (s *ProgressService) dispatch() {
	defer close(s.dispatched)
	for alert := range s.queue {
		for _, n := range s.notifiers {
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			if err := n.Notify(ctx, alert); err != nil {
				s.logger.WithError(err).WithField("alert_id", alert.ID).Warn("Failed to deliver alert notification")
			}
			cancel()
		}
	}
}

// Measurements returns stored points for a subject, optionally filtered by metric kind.
func (s *ProgressService) Measurements(ctx context.Context, subjectID string, kind *domain.MetricKind, r domain.TimeRange) ([]domain.MeasurementPoint, error) {
	if err := requireSubject(subjectID); err != nil {
		return nil, err
	}
	points, err := s.store.Query(ctx, subjectID, kind, r)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	return points, nil
}

// Trends computes one trend per metric over the lookback window.
func (s *ProgressService) Trends(ctx context.Context, subjectID string, lookbackDays int) ([]domain.Trend, error) {
	if err := requireSubject(subjectID); err != nil {
		return nil, err
	}
	r := domain.LookbackRange(s.now(), s.lookback(lookbackDays))
	return s.trendsIn(ctx, subjectID, r)
}

func (s *ProgressService) trendsIn(ctx context.Context, subjectID string, r domain.TimeRange) ([]domain.Trend, error) {
	points, err := s.store.Query(ctx, subjectID, nil, r)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}

	groups := GroupByMetric(points)
	kinds := make([]domain.MetricKind, 0, len(groups))
	for k := range groups {
		if err := domain.ValidateMetricSeries(k, groups[k]); err != nil {
			return nil, fmt.Errorf("%s measurements: %w", k, err)
		}
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	trends := make([]domain.Trend, 0, len(kinds))
	for _, k := range kinds {
		trends = append(trends, s.trend(ctx, subjectID, k, groups[k]))
	}
	return trends, nil
}

func (s *ProgressService) trend(ctx context.Context, subjectID string, kind domain.MetricKind, points []domain.MeasurementPoint) domain.Trend {
	if s.cache == nil {
		return s.analyzer.Compute(kind, points)
	}

	key := TrendKey(s.trendSalt, subjectID, kind, points)
	if cached, ok := s.cache.Get(ctx, key); ok {
		return *cached
	}
	t := s.analyzer.Compute(kind, points)
	s.cache.Set(ctx, key, t)
	return t
}

// Summary assembles the progress summary for the lookback window ending now.
func (s *ProgressService) Summary(ctx context.Context, subjectID string, lookbackDays int) (*domain.ProgressSummary, error) {
	if err := requireSubject(subjectID); err != nil {
		return nil, err
	}
	now := s.now()
	r := domain.LookbackRange(now, s.lookback(lookbackDays))

	trends, err := s.trendsIn(ctx, subjectID, r)
	if err != nil {
		return nil, err
	}

	rates, err := s.completionRates(ctx, subjectID)
	if err != nil {
		return nil, err
	}

	active, err := s.alerts.ListUnresolved(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list unresolved alerts: %w", err)
	}

	summary := AggregateSummary(SummaryInput{
		SubjectID:   subjectID,
		PeriodStart: r.From,
		PeriodEnd:   r.To,
		GeneratedAt: now,
		Trends:      trends,
		Rates:       rates,
		Alerts:      active,
	}, s.cfg)

	s.logger.WithFields(logrus.Fields{
		"subject_id":         subjectID,
		"overall_direction":  summary.OverallDirection,
		"treatment_response": summary.TreatmentResponse,
		"active_alerts":      len(summary.ActiveAlerts),
	}).Info("Generated progress summary")

	return &summary, nil
}

func (s *ProgressService) completionRates(ctx context.Context, subjectID string) (domain.CompletionRates, error) {
	var rates domain.CompletionRates
	var err error
	window := s.summaryCfg.RateWindowDays

	if rates.Goal, err = s.rates.GoalRate(ctx, subjectID); err != nil {
		if err = s.tolerate("goal", err); err != nil {
			return rates, err
		}
	}
	if rates.Attendance, err = s.rates.AttendanceRate(ctx, subjectID, window); err != nil {
		if err = s.tolerate("attendance", err); err != nil {
			return rates, err
		}
	}
	if rates.Homework, err = s.rates.HomeworkRate(ctx, subjectID, window); err != nil {
		if err = s.tolerate("homework", err); err != nil {
			return rates, err
		}
	}
	return rates, nil
}

func (s *ProgressService) tolerate(rate string, err error) error {
	if !s.summaryCfg.TolerateRateErrors {
		return fmt.Errorf("load %s completion rate: %w", rate, err)
	}
	s.logger.WithError(err).WithField("rate", rate).Warn("Completion rate unavailable, using 0")
	return nil
}

// UnresolvedAlerts lists the open alerts for a subject.
func (s *ProgressService) UnresolvedAlerts(ctx context.Context, subjectID string) ([]domain.Alert, error) {
	if err := requireSubject(subjectID); err != nil {
		return nil, err
	}
	alerts, err := s.alerts.ListUnresolved(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list unresolved alerts: %w", err)
	}
	return alerts, nil
}

// AcknowledgeAlert marks an alert as seen without resolving it.
func (s *ProgressService) AcknowledgeAlert(ctx context.Context, alertID string) error {
	if strings.TrimSpace(alertID) == "" {
		return domain.NewValidationError("alert_id", "is required", alertID)
	}
	if err := s.alerts.Acknowledge(ctx, alertID); err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	s.logger.WithField("alert_id", alertID).Info("Alert acknowledged")
	return nil
}

// ResolveAlert closes an alert with a resolution note. Alerts are never deleted.
func (s *ProgressService) ResolveAlert(ctx context.Context, alertID, note string) error {
	if strings.TrimSpace(alertID) == "" {
		return domain.NewValidationError("alert_id", "is required", alertID)
	}
	if err := s.alerts.Resolve(ctx, alertID, note); err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"alert_id": alertID,
		"note_len": len(note),
	}).Info("Alert resolved")
	return nil
}

func (s *ProgressService) lookback(days int) int {
	switch {
	case days <= 0:
		return s.summaryCfg.LookbackDays
	case days > maxLookbackDays:
		return maxLookbackDays
	default:
		return days
	}
}

func requireSubject(subjectID string) error {
	if strings.TrimSpace(subjectID) == "" {
		return domain.NewValidationError("subject_id", "is required", subjectID)
	}
	return nil
}

// TrendKey identifies a trend by subject, metric and a fingerprint of the analytics settings
// and input points, so a new measurement changes the key and stale entries simply age out.
// salt is the configuration's TrendFingerprint; instances sharing a redis tier only share
// entries when their trend settings agree.
func TrendKey(salt, subjectID string, kind domain.MetricKind, points []domain.MeasurementPoint) string {
	sorted := sortedCopy(points)
	h := sha256.New()
	h.Write([]byte(salt))
	h.Write([]byte{0})
	buf := make([]byte, 16)
	for _, p := range sorted {
		binary.BigEndian.PutUint64(buf[:8], uint64(p.Timestamp.UnixNano()))
		binary.BigEndian.PutUint64(buf[8:], math.Float64bits(p.Value))
		h.Write(buf)
	}
	return fmt.Sprintf("trend:%s:%s:%s", subjectID, kind, hex.EncodeToString(h.Sum(nil))[:32])
}
