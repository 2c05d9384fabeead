package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/progress-analytics-server/internal/domain"
)

// AlertRepository persists alerts. Alerts are never deleted, only acknowledged and resolved.
type AlertRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *pgxpool.Pool, logger *logrus.Logger) *AlertRepository {
	return &AlertRepository{
		db:  db,
		log: logger,
	}
}

// Persist stores a new alert.
func (r *AlertRepository) Persist(ctx context.Context, alert *domain.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	actions := alert.RecommendedActions
	if actions == nil {
		actions = []string{}
	}

	query := `
		INSERT INTO alerts (
			id, subject_id, metric_kind, rule_id, severity, description, recommended_actions,
			trigger_value, created_at, acknowledged, acknowledged_at, resolved, resolved_at, resolution_note
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)`

	_, err := r.db.Exec(ctx, query,
		alert.ID,
		alert.SubjectID,
		string(alert.MetricKind),
		alert.RuleID,
		string(alert.Severity),
		alert.Description,
		actions,
		alert.TriggerValue,
		alert.CreatedAt.UTC(),
		alert.Acknowledged,
		alert.AcknowledgedAt,
		alert.Resolved,
		alert.ResolvedAt,
		alert.ResolutionNote,
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"alert_id":   alert.ID,
			"subject_id": alert.SubjectID,
			"rule_id":    alert.RuleID,
			"error":      err,
		}).Error("Failed to persist alert")
		return fmt.Errorf("persisting alert: %w", err)
	}

	r.log.WithFields(logrus.Fields(alert.LogFields())).Info("Alert persisted")
	return nil
}

const alertColumns = `id, subject_id, metric_kind, rule_id, severity, description, recommended_actions,
	trigger_value, created_at, acknowledged, acknowledged_at, resolved, resolved_at, resolution_note`

// ListUnresolved returns a subject's open alerts, oldest first.
func (r *AlertRepository) ListUnresolved(ctx context.Context, subjectID string) ([]domain.Alert, error) {
	query := "SELECT " + alertColumns + ` FROM alerts
		WHERE subject_id = $1 AND NOT resolved
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Query(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("listing unresolved alerts: %w", err)
	}
	alerts, err := pgx.CollectRows(rows, scanAlert)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"subject_id": subjectID,
			"error":      err,
		}).Error("Failed to list unresolved alerts")
		return nil, fmt.Errorf("listing unresolved alerts: %w", err)
	}
	return alerts, nil
}

// GetByID retrieves one alert.
func (r *AlertRepository) GetByID(ctx context.Context, alertID string) (*domain.Alert, error) {
	if _, err := uuid.Parse(alertID); err != nil {
		return nil, fmt.Errorf("alert %q not found: %w", alertID, domain.ErrNotFound)
	}

	rows, err := r.db.Query(ctx, "SELECT "+alertColumns+" FROM alerts WHERE id = $1", alertID)
	if err != nil {
		return nil, fmt.Errorf("getting alert: %w", err)
	}
	alert, err := pgx.CollectExactlyOneRow(rows, scanAlert)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("alert %q not found: %w", alertID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting alert: %w", err)
	}
	return &alert, nil
}

// Acknowledge marks an alert acknowledged. Acknowledging twice keeps the first timestamp.
func (r *AlertRepository) Acknowledge(ctx context.Context, alertID string) error {
	if _, err := uuid.Parse(alertID); err != nil {
		return fmt.Errorf("alert %q not found: %w", alertID, domain.ErrNotFound)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE alerts SET acknowledged = TRUE, acknowledged_at = COALESCE(acknowledged_at, NOW())
		WHERE id = $1`, alertID)
	if err != nil {
		return fmt.Errorf("acknowledging alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("alert %q not found: %w", alertID, domain.ErrNotFound)
	}

	r.log.WithField("alert_id", alertID).Info("Alert acknowledged")
	return nil
}

// Resolve closes an alert with a note. Resolving a resolved alert returns ErrAlertResolved.
func (r *AlertRepository) Resolve(ctx context.Context, alertID, note string) error {
	if _, err := uuid.Parse(alertID); err != nil {
		return fmt.Errorf("alert %q not found: %w", alertID, domain.ErrNotFound)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE alerts SET resolved = TRUE, resolved_at = NOW(), resolution_note = $2
		WHERE id = $1 AND NOT resolved`, alertID, note)
	if err != nil {
		return fmt.Errorf("resolving alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, alertID); err != nil {
			return err
		}
		return fmt.Errorf("alert %q: %w", alertID, domain.ErrAlertResolved)
	}

	r.log.WithField("alert_id", alertID).Info("Alert resolved")
	return nil
}

// CountUnresolved returns the number of open alerts across all subjects.
func (r *AlertRepository) CountUnresolved(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM alerts WHERE NOT resolved`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting alerts: %w", err)
	}
	return n, nil
}

func scanAlert(row pgx.CollectableRow) (domain.Alert, error) {
	var (
		a         domain.Alert
		kind, sev string
	)
	err := row.Scan(&a.ID, &a.SubjectID, &kind, &a.RuleID, &sev, &a.Description, &a.RecommendedActions,
		&a.TriggerValue, &a.CreatedAt, &a.Acknowledged, &a.AcknowledgedAt, &a.Resolved, &a.ResolvedAt, &a.ResolutionNote)
	if err != nil {
		return a, err
	}
	a.MetricKind = domain.MetricKind(kind)
	a.Severity = domain.Severity(sev)
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}
