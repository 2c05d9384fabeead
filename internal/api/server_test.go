package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/progress-analytics-server/internal/domain"
	"github.com/progress-analytics-server/internal/service"
)

// MockProgressService is a mock implementation of ProgressService
type MockProgressService struct {
	mock.Mock
}

func (m *MockProgressService) RecordMeasurement(ctx context.Context, subjectID string, in domain.MeasurementInput) (*service.RecordResult, error) {
	args := m.Called(ctx, subjectID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RecordResult), args.Error(1)
}

func (m *MockProgressService) RecordBatch(ctx context.Context, subjectID string, inputs []domain.MeasurementInput) (*service.BatchResult, error) {
	args := m.Called(ctx, subjectID, inputs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.BatchResult), args.Error(1)
}

func (m *MockProgressService) Measurements(ctx context.Context, subjectID string, kind *domain.MetricKind, r domain.TimeRange) ([]domain.MeasurementPoint, error) {
	args := m.Called(ctx, subjectID, kind, r)
	return args.Get(0).([]domain.MeasurementPoint), args.Error(1)
}

func (m *MockProgressService) Trends(ctx context.Context, subjectID string, lookbackDays int) ([]domain.Trend, error) {
	args := m.Called(ctx, subjectID, lookbackDays)
	return args.Get(0).([]domain.Trend), args.Error(1)
}

func (m *MockProgressService) Summary(ctx context.Context, subjectID string, lookbackDays int) (*domain.ProgressSummary, error) {
	args := m.Called(ctx, subjectID, lookbackDays)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ProgressSummary), args.Error(1)
}

func (m *MockProgressService) UnresolvedAlerts(ctx context.Context, subjectID string) ([]domain.Alert, error) {
	args := m.Called(ctx, subjectID)
	return args.Get(0).([]domain.Alert), args.Error(1)
}

func (m *MockProgressService) AcknowledgeAlert(ctx context.Context, alertID string) error {
	args := m.Called(ctx, alertID)
	return args.Error(0)
}

func (m *MockProgressService) ResolveAlert(ctx context.Context, alertID, note string) error {
	args := m.Called(ctx, alertID, note)
	return args.Error(0)
}

type staticConfig struct {
	cfg *domain.Config
}

func (s staticConfig) GetConfig() *domain.Config                         { return s.cfg }
func (s staticConfig) GetDatabaseConfig() *domain.DatabaseConfig         { return &s.cfg.Database }
func (s staticConfig) GetServerConfig() *domain.ServerConfig             { return &s.cfg.Server }
func (s staticConfig) AnalyticsConfig() (domain.AnalyticsConfig, error) { return domain.NewAnalyticsConfig(s.cfg.Analytics) }
func (s staticConfig) Reload() error                                     { return nil }
func (s staticConfig) Validate() error                                   { return nil }
func (s staticConfig) GetDatabaseConnectionString() string               { return "" }
func (s staticConfig) GetRedisConnectionString() string                  { return "" }
func (s staticConfig) IsProduction() bool                                { return false }
func (s staticConfig) IsDevelopment() bool                               { return true }

func newTestServer(t *testing.T, opts ...Option) (*Server, *MockProgressService) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	cfg := &domain.Config{
		Server: domain.ServerConfig{
			Port:           8080,
			RequestTimeout: 5 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Logging:   domain.LoggingConfig{Level: "info"},
		Analytics: domain.DefaultAnalyticsSettings(),
	}
	svc := &MockProgressService{}
	return NewServer(staticConfig{cfg: cfg}, svc, logger, opts...), svc
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) domain.ServiceError {
	t.Helper()
	var e domain.ServiceError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t,
		WithHealthCheck("database", func(context.Context) error { return nil }),
	)
	w := do(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"ok"`)
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))

	degraded, _ := newTestServer(t,
		WithHealthCheck("redis", func(context.Context) error { return errors.New("connection refused") }),
	)
	w = do(degraded, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestRecordMeasurement(t *testing.T) {
	s, svc := newTestServer(t)
	ts := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	in := domain.MeasurementInput{MetricKind: domain.MetricMoodRating, Value: 6, Timestamp: ts, Source: "phq"}
	result := &service.RecordResult{
		Measurement: domain.MeasurementPoint{ID: "m1", SubjectID: "s1", MetricKind: domain.MetricMoodRating, Value: 6, Timestamp: ts},
		Alerts:      []domain.Alert{},
	}
	svc.On("RecordMeasurement", mock.Anything, "s1", in).Return(result, nil)

	w := do(s, http.MethodPost, "/api/v1/subjects/s1/measurements",
		`{"metric_kind":"mood_rating","value":6,"timestamp":"2024-06-01T09:00:00Z","source":"phq"}`)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"m1"`)
	svc.AssertExpectations(t)
}

func TestRecordMeasurement_BadBody(t *testing.T) {
	s, svc := newTestServer(t)

	w := do(s, http.MethodPost, "/api/v1/subjects/s1/measurements", `{"value":6}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.ErrCodeInvalidInput, decodeError(t, w).Code)

	w = do(s, http.MethodPost, "/api/v1/subjects/s1/measurements", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "RecordMeasurement", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecordMeasurement_ValidationError(t *testing.T) {
	s, svc := newTestServer(t)
	svc.On("RecordMeasurement", mock.Anything, "s1", mock.Anything).
		Return(nil, domain.NewValidationError("MetricKind", "unknown metric kind", "shoe_size"))

	w := do(s, http.MethodPost, "/api/v1/subjects/s1/measurements", `{"metric_kind":"shoe_size","value":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.ErrCodeValidation, decodeError(t, w).Code)
}

func TestRecordBatch(t *testing.T) {
	s, svc := newTestServer(t)
	svc.On("RecordBatch", mock.Anything, "s1", mock.MatchedBy(func(in []domain.MeasurementInput) bool {
		return len(in) == 2
	})).Return(&service.BatchResult{Measurements: []domain.MeasurementPoint{{ID: "a"}, {ID: "b"}}}, nil)

	w := do(s, http.MethodPost, "/api/v1/subjects/s1/measurements/batch",
		`{"measurements":[{"metric_kind":"mood_rating","value":5},{"metric_kind":"risk_level","value":2}]}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	svc.AssertExpectations(t)

	w = do(s, http.MethodPost, "/api/v1/subjects/s1/measurements/batch", `{"measurements":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListMeasurements_Filters(t *testing.T) {
	s, svc := newTestServer(t)
	kind := domain.MetricRiskLevel
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.On("Measurements", mock.Anything, "s1", &kind, domain.TimeRange{From: from}).
		Return([]domain.MeasurementPoint(nil), nil)

	w := do(s, http.MethodGet, "/api/v1/subjects/s1/measurements?metric=risk_level&from=2024-01-01T00:00:00Z", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"measurements":[],"count":0}`, w.Body.String())

	w = do(s, http.MethodGet, "/api/v1/subjects/s1/measurements?metric=shoe_size", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(s, http.MethodGet, "/api/v1/subjects/s1/measurements?to=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrendsAndSummary(t *testing.T) {
	s, svc := newTestServer(t)
	svc.On("Trends", mock.Anything, "s1", 30).Return([]domain.Trend{
		{MetricKind: domain.MetricMoodRating, Direction: domain.DirectionImproving, PointCount: 5},
	}, nil)
	svc.On("Trends", mock.Anything, "s1", 0).Return([]domain.Trend(nil), nil)
	svc.On("Summary", mock.Anything, "s1", 0).Return(&domain.ProgressSummary{
		SubjectID:         "s1",
		OverallDirection:  domain.DirectionImproving,
		TreatmentResponse: domain.ResponseGood,
	}, nil)

	w := do(s, http.MethodGet, "/api/v1/subjects/s1/trends?days=30", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"direction":"improving"`)

	w = do(s, http.MethodGet, "/api/v1/subjects/s1/trends", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"trends":[]`)

	w = do(s, http.MethodGet, "/api/v1/subjects/s1/trends?days=-2", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(s, http.MethodGet, "/api/v1/subjects/s1/summary", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"treatment_response":"good"`)
	svc.AssertExpectations(t)
}

func TestListAlerts(t *testing.T) {
	s, svc := newTestServer(t)
	svc.On("UnresolvedAlerts", mock.Anything, "s1").Return([]domain.Alert{
		{ID: "a1", Severity: domain.SeverityYellow},
		{ID: "a2", Severity: domain.SeverityRed},
	}, nil)

	w := do(s, http.MethodGet, "/api/v1/subjects/s1/alerts", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"max_severity":"red"`)
	assert.Contains(t, w.Body.String(), `"count":2`)
}

func TestAlertTransitions_ErrorMapping(t *testing.T) {
	s, svc := newTestServer(t)
	svc.On("AcknowledgeAlert", mock.Anything, "a1").Return(nil)
	svc.On("AcknowledgeAlert", mock.Anything, "missing").Return(fmt.Errorf("acknowledge alert: %w", domain.ErrNotFound))
	svc.On("ResolveAlert", mock.Anything, "a1", "patient stabilised").Return(nil)
	svc.On("ResolveAlert", mock.Anything, "a2", "").Return(fmt.Errorf("resolve alert: %w", domain.ErrAlertResolved))
	svc.On("ResolveAlert", mock.Anything, "a3", "").Return(errors.New("connection reset"))

	w := do(s, http.MethodPost, "/api/v1/alerts/a1/acknowledge", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(s, http.MethodPost, "/api/v1/alerts/missing/acknowledge", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.ErrCodeNotFound, decodeError(t, w).Code)

	w = do(s, http.MethodPost, "/api/v1/alerts/a1/resolve", `{"note":"patient stabilised"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(s, http.MethodPost, "/api/v1/alerts/a2/resolve", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(s, http.MethodPost, "/api/v1/alerts/a3/resolve", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	e := decodeError(t, w)
	assert.Equal(t, domain.ErrCodeInternalServer, e.Code)
	assert.NotContains(t, e.Message, "connection reset", "internal errors are not leaked")
	assert.NotEmpty(t, e.RequestID)

	svc.AssertExpectations(t)
}

func TestAlertStreamMounted(t *testing.T) {
	s, _ := newTestServer(t, WithAlertStream(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	w := do(s, http.MethodGet, "/api/v1/alerts/stream", "")
	assert.Equal(t, http.StatusTeapot, w.Code)

	plain, _ := newTestServer(t)
	w = do(plain, http.MethodGet, "/api/v1/alerts/stream", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.ErrMixedMetricKinds, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", domain.ErrInvalidInput), http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}
