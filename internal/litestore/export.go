package litestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/progress-analytics-server/internal/domain"
)

// ExportVersion is the envelope version written by ExportJSON.
const ExportVersion = "1.0"

// Export represents the JSON export format.
type Export struct {
	Version      string                    `json:"version"`
	ExportedAt   time.Time                 `json:"exported_at"`
	Measurements []domain.MeasurementPoint `json:"measurements"`
	Alerts       []domain.Alert            `json:"alerts"`
}

// ImportResult counts rows written and rows skipped because their ID already existed.
type ImportResult struct {
	MeasurementsImported int `json:"measurements_imported"`
	MeasurementsSkipped  int `json:"measurements_skipped"`
	AlertsImported       int `json:"alerts_imported"`
	AlertsSkipped        int `json:"alerts_skipped"`
}

// ExportJSON writes every measurement and alert to writer.
func (s *Store) ExportJSON(ctx context.Context, writer io.Writer) error {
	points, err := s.queryMeasurements(ctx, "SELECT "+measurementColumns+
		" FROM measurements ORDER BY subject_id, metric_kind, ts, rowid")
	if err != nil {
		return fmt.Errorf("failed to list measurements: %w", err)
	}
	alerts, err := s.queryAlerts(ctx, "SELECT "+alertColumns+" FROM alerts ORDER BY created_at, rowid")
	if err != nil {
		return fmt.Errorf("failed to list alerts: %w", err)
	}

	export := &Export{
		Version:      ExportVersion,
		ExportedAt:   s.now().UTC(),
		Measurements: nonNilPoints(points),
		Alerts:       nonNilAlerts(alerts),
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

// ImportJSON loads an export. Rows whose ID already exists are skipped, so importing the
// same file twice is harmless. Each point is validated before it is written.
func (s *Store) ImportJSON(ctx context.Context, reader io.Reader) (ImportResult, error) {
	var result ImportResult

	var export Export
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return result, fmt.Errorf("failed to decode JSON: %w", err)
	}
	if export.Version != ExportVersion {
		return result, fmt.Errorf("unsupported export version %q", export.Version)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin import: %w", err)
	}
	defer tx.Rollback()

	for i := range export.Measurements {
		p := export.Measurements[i]
		if err := domain.ValidatePoint(&p); err != nil {
			return result, fmt.Errorf("measurement %d: %w", i, err)
		}
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = s.now().UTC()
		}
		ok, err := insertIgnore(ctx, tx, "INSERT OR IGNORE INTO "+measurementTarget, measurementArgs(&p)...)
		if err != nil {
			return result, fmt.Errorf("failed to import measurement %s: %w", p.ID, err)
		}
		if ok {
			result.MeasurementsImported++
		} else {
			result.MeasurementsSkipped++
		}
	}

	for i := range export.Alerts {
		a := export.Alerts[i]
		if a.ID == "" || !a.Severity.IsValid() {
			return result, fmt.Errorf("alert %d: %w", i, domain.ErrInvalidInput)
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = s.now().UTC()
		}
		args, err := alertArgs(&a)
		if err != nil {
			return result, err
		}
		ok, err := insertIgnore(ctx, tx, "INSERT OR IGNORE INTO "+alertTarget, args...)
		if err != nil {
			return result, fmt.Errorf("failed to import alert %s: %w", a.ID, err)
		}
		if ok {
			result.AlertsImported++
		} else {
			result.AlertsSkipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit import: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"measurements_imported": result.MeasurementsImported,
		"measurements_skipped":  result.MeasurementsSkipped,
		"alerts_imported":       result.AlertsImported,
		"alerts_skipped":        result.AlertsSkipped,
	}).Info("Imported progress data")

	return result, nil
}

const measurementTarget = `measurements
	(id, subject_id, metric_kind, value, ts, sequence_number, source, note, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

const alertTarget = `alerts (
	id, subject_id, metric_kind, rule_id, severity, description, recommended_actions,
	trigger_value, created_at, acknowledged, acknowledged_at, resolved, resolved_at, resolution_note
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func measurementArgs(p *domain.MeasurementPoint) []interface{} {
	var seq sql.NullInt64
	if p.SequenceNumber != nil {
		seq = sql.NullInt64{Int64: int64(*p.SequenceNumber), Valid: true}
	}
	return []interface{}{
		p.ID, p.SubjectID, string(p.MetricKind), p.Value, toNanos(p.Timestamp),
		seq, p.Source, p.Note, toNanos(p.CreatedAt),
	}
}

func alertArgs(a *domain.Alert) ([]interface{}, error) {
	actions, err := json.Marshal(nonNil(a.RecommendedActions))
	if err != nil {
		return nil, fmt.Errorf("failed to encode recommended actions: %w", err)
	}
	return []interface{}{
		a.ID, a.SubjectID, string(a.MetricKind), a.RuleID, string(a.Severity), a.Description,
		string(actions), a.TriggerValue, toNanos(a.CreatedAt), a.Acknowledged,
		nullableNanos(a.AcknowledgedAt), a.Resolved, nullableNanos(a.ResolvedAt), a.ResolutionNote,
	}, nil
}

func insertIgnore(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (bool, error) {
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nonNilPoints(p []domain.MeasurementPoint) []domain.MeasurementPoint {
	if p == nil {
		return []domain.MeasurementPoint{}
	}
	return p
}

func nonNilAlerts(a []domain.Alert) []domain.Alert {
	if a == nil {
		return []domain.Alert{}
	}
	return a
}
