// Package litestore provides a single-file SQLite backend for the lite server. One Store
// serves measurements, alerts and completion rates with no external services.
package litestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/progress-analytics-server/internal/domain"
)

// Store implements MetricStore, AlertSink and CompletionRateProvider on SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
	logger *logrus.Logger
	now    domain.Clock
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for creation stamps and rate windows.
func WithClock(now domain.Clock) Option {
	return func(s *Store) { s.now = now }
}

// NewSQLiteStore opens or creates the database file and its schema.
func NewSQLiteStore(dbPath string, logger *logrus.Logger, opts ...Option) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &Store{
		db:     db,
		dbPath: dbPath,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// Insert stores a measurement. An empty ID is assigned a UUID.
func (s *Store) Insert(ctx context.Context, point *domain.MeasurementPoint) error {
	if point.ID == "" {
		point.ID = uuid.NewString()
	}
	if point.CreatedAt.IsZero() {
		point.CreatedAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx, "INSERT INTO "+measurementTarget, measurementArgs(point)...)
	if err != nil {
		return fmt.Errorf("failed to insert measurement: %w", err)
	}
	return nil
}

// InsertBatch stores every point in one transaction. Either all points are stored or none.
func (s *Store) InsertBatch(ctx context.Context, points []domain.MeasurementPoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	for i := range points {
		p := &points[i]
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO "+measurementTarget, measurementArgs(p)...); err != nil {
			return fmt.Errorf("failed to insert measurement %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

const measurementColumns = `id, subject_id, metric_kind, value, ts, sequence_number, source, note, created_at`

func scanMeasurement(sc scanner) (domain.MeasurementPoint, error) {
	var (
		p         domain.MeasurementPoint
		kind      string
		ts, added int64
		seq       sql.NullInt64
	)
	if err := sc.Scan(&p.ID, &p.SubjectID, &kind, &p.Value, &ts, &seq, &p.Source, &p.Note, &added); err != nil {
		return p, err
	}
	p.MetricKind = domain.MetricKind(kind)
	p.Timestamp = fromNanos(ts)
	p.CreatedAt = fromNanos(added)
	if seq.Valid {
		n := int(seq.Int64)
		p.SequenceNumber = &n
	}
	return p, nil
}

func (s *Store) queryMeasurements(ctx context.Context, query string, args ...interface{}) ([]domain.MeasurementPoint, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer rows.Close()

	var points []domain.MeasurementPoint
	for rows.Next() {
		p, err := scanMeasurement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Query returns a subject's measurements in timestamp order.
func (s *Store) Query(ctx context.Context, subjectID string, kind *domain.MetricKind, r domain.TimeRange) ([]domain.MeasurementPoint, error) {
	where := []string{"subject_id = ?"}
	args := []interface{}{subjectID}

	if kind != nil {
		where = append(where, "metric_kind = ?")
		args = append(args, string(*kind))
	}
	if !r.From.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, toNanos(r.From))
	}
	if !r.To.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, toNanos(r.To))
	}

	query := "SELECT " + measurementColumns + " FROM measurements WHERE " +
		strings.Join(where, " AND ") + " ORDER BY ts ASC, rowid ASC"
	return s.queryMeasurements(ctx, query, args...)
}

// Recent returns up to limit of the newest points for one metric, oldest first.
func (s *Store) Recent(ctx context.Context, subjectID string, kind domain.MetricKind, limit int) ([]domain.MeasurementPoint, error) {
	if limit <= 0 {
		return nil, nil
	}
	points, err := s.queryMeasurements(ctx, "SELECT "+measurementColumns+` FROM measurements
		WHERE subject_id = ? AND metric_kind = ?
		ORDER BY ts DESC, rowid DESC
		LIMIT ?`, subjectID, string(kind), limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

// Persist stores a new alert.
func (s *Store) Persist(ctx context.Context, alert *domain.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = s.now().UTC()
	}
	args, err := alertArgs(alert)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, "INSERT INTO "+alertTarget, args...)
	if err != nil {
		return fmt.Errorf("failed to persist alert: %w", err)
	}
	return nil
}

const alertColumns = `id, subject_id, metric_kind, rule_id, severity, description, recommended_actions,
	trigger_value, created_at, acknowledged, acknowledged_at, resolved, resolved_at, resolution_note`

func scanAlert(sc scanner) (domain.Alert, error) {
	var (
		a                 domain.Alert
		kind, sev, acts   string
		created           int64
		ackedAt, resolved sql.NullInt64
	)
	err := sc.Scan(&a.ID, &a.SubjectID, &kind, &a.RuleID, &sev, &a.Description, &acts,
		&a.TriggerValue, &created, &a.Acknowledged, &ackedAt, &a.Resolved, &resolved, &a.ResolutionNote)
	if err != nil {
		return a, err
	}
	a.MetricKind = domain.MetricKind(kind)
	a.Severity = domain.Severity(sev)
	a.CreatedAt = fromNanos(created)
	a.AcknowledgedAt = timePtr(ackedAt)
	a.ResolvedAt = timePtr(resolved)
	if err := json.Unmarshal([]byte(acts), &a.RecommendedActions); err != nil {
		return a, fmt.Errorf("failed to decode recommended actions: %w", err)
	}
	return a, nil
}

func (s *Store) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]domain.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ListUnresolved returns a subject's open alerts, oldest first.
func (s *Store) ListUnresolved(ctx context.Context, subjectID string) ([]domain.Alert, error) {
	return s.queryAlerts(ctx, "SELECT "+alertColumns+` FROM alerts
		WHERE subject_id = ? AND resolved = 0
		ORDER BY created_at ASC, rowid ASC`, subjectID)
}

// GetAlert retrieves one alert by ID.
func (s *Store) GetAlert(ctx context.Context, alertID string) (*domain.Alert, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+alertColumns+" FROM alerts WHERE id = ?", alertID)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return &a, nil
}

// Acknowledge marks an alert acknowledged. Acknowledging twice keeps the first timestamp.
func (s *Store) Acknowledge(ctx context.Context, alertID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET acknowledged = 1, acknowledged_at = COALESCE(acknowledged_at, ?)
		WHERE id = ?
	`, toNanos(s.now()), alertID)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Resolve closes an alert with a note. Resolving a resolved alert returns ErrAlertResolved.
func (s *Store) Resolve(ctx context.Context, alertID, note string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET resolved = 1, resolved_at = ?, resolution_note = ?
		WHERE id = ? AND resolved = 0
	`, toNanos(s.now()), note, alertID)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	if n > 0 {
		return nil
	}

	if _, err := s.GetAlert(ctx, alertID); err != nil {
		return err
	}
	return domain.ErrAlertResolved
}

// Stats reports row counts for status output.
type Stats struct {
	Measurements     int64 `json:"measurements"`
	Subjects         int64 `json:"subjects"`
	Alerts           int64 `json:"alerts"`
	UnresolvedAlerts int64 `json:"unresolved_alerts"`
}

// Stats returns current row counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM measurements),
			(SELECT COUNT(DISTINCT subject_id) FROM measurements),
			(SELECT COUNT(*) FROM alerts),
			(SELECT COUNT(*) FROM alerts WHERE resolved = 0)
	`).Scan(&st.Measurements, &st.Subjects, &st.Alerts, &st.UnresolvedAlerts)
	if err != nil {
		return st, fmt.Errorf("failed to count rows: %w", err)
	}
	return st, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the store and releases resources.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullableNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
