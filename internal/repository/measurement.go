// Package repository provides the PostgreSQL stores for measurements and alerts.
package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/progress-analytics-server/internal/domain"
)

// MeasurementRepository is the append-only measurement store.
type MeasurementRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewMeasurementRepository creates a new measurement repository
func NewMeasurementRepository(db *pgxpool.Pool, logger *logrus.Logger) *MeasurementRepository {
	return &MeasurementRepository{
		db:  db,
		log: logger,
	}
}

// rowQuerier is satisfied by both the pool and a transaction.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const insertMeasurementQuery = `
		INSERT INTO measurements (
			id, subject_id, metric_kind, value, ts, sequence_number, source, note
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		RETURNING created_at`

// Insert stores a measurement. An empty ID is assigned a UUID and the database stamps
// created_at.
func (r *MeasurementRepository) Insert(ctx context.Context, point *domain.MeasurementPoint) error {
	if err := r.insert(ctx, r.db, point); err != nil {
		return err
	}

	r.log.WithFields(logrus.Fields{
		"measurement_id": point.ID,
		"subject_id":     point.SubjectID,
		"metric_kind":    point.MetricKind,
	}).Debug("Measurement stored")

	return nil
}

// InsertBatch stores every point in one transaction. Either all points are stored or none.
func (r *MeasurementRepository) InsertBatch(ctx context.Context, points []domain.MeasurementPoint) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		for i := range points {
			if err := r.insert(ctx, tx, &points[i]); err != nil {
				return fmt.Errorf("measurement %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.WithFields(logrus.Fields{
		"measurements": len(points),
	}).Debug("Measurement batch stored")

	return nil
}

func (r *MeasurementRepository) insert(ctx context.Context, q rowQuerier, point *domain.MeasurementPoint) error {
	if point.ID == "" {
		point.ID = uuid.NewString()
	}

	err := q.QueryRow(ctx, insertMeasurementQuery,
		point.ID,
		point.SubjectID,
		string(point.MetricKind),
		point.Value,
		point.Timestamp.UTC(),
		point.SequenceNumber,
		point.Source,
		point.Note,
	).Scan(&point.CreatedAt)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"subject_id":  point.SubjectID,
			"metric_kind": point.MetricKind,
			"error":       err,
		}).Error("Failed to insert measurement")
		return fmt.Errorf("inserting measurement: %w", err)
	}
	point.CreatedAt = point.CreatedAt.UTC()
	return nil
}

const measurementColumns = `id, subject_id, metric_kind, value, ts, sequence_number, source, note, created_at`

// Query returns a subject's measurements in timestamp order.
func (r *MeasurementRepository) Query(ctx context.Context, subjectID string, kind *domain.MetricKind, tr domain.TimeRange) ([]domain.MeasurementPoint, error) {
	where := []string{"subject_id = $1"}
	args := []interface{}{subjectID}

	if kind != nil {
		args = append(args, string(*kind))
		where = append(where, fmt.Sprintf("metric_kind = $%d", len(args)))
	}
	if !tr.From.IsZero() {
		args = append(args, tr.From.UTC())
		where = append(where, fmt.Sprintf("ts >= $%d", len(args)))
	}
	if !tr.To.IsZero() {
		args = append(args, tr.To.UTC())
		where = append(where, fmt.Sprintf("ts <= $%d", len(args)))
	}

	query := "SELECT " + measurementColumns + " FROM measurements WHERE " +
		strings.Join(where, " AND ") + " ORDER BY ts ASC, created_at ASC, id ASC"

	points, err := r.collect(ctx, query, args...)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"subject_id": subjectID,
			"error":      err,
		}).Error("Failed to query measurements")
		return nil, fmt.Errorf("querying measurements: %w", err)
	}
	return points, nil
}

// Recent returns up to limit of the newest points for one metric, oldest first.
func (r *MeasurementRepository) Recent(ctx context.Context, subjectID string, kind domain.MetricKind, limit int) ([]domain.MeasurementPoint, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := "SELECT " + measurementColumns + ` FROM (
			SELECT ` + measurementColumns + ` FROM measurements
			WHERE subject_id = $1 AND metric_kind = $2
			ORDER BY ts DESC, created_at DESC, id DESC
			LIMIT $3
		) newest
		ORDER BY ts ASC, created_at ASC, id ASC`

	points, err := r.collect(ctx, query, subjectID, string(kind), limit)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"subject_id":  subjectID,
			"metric_kind": kind,
			"error":       err,
		}).Error("Failed to load recent measurements")
		return nil, fmt.Errorf("loading recent measurements: %w", err)
	}
	return points, nil
}

// Count returns the number of stored measurements and distinct subjects.
func (r *MeasurementRepository) Count(ctx context.Context) (measurements, subjects int64, err error) {
	err = r.db.QueryRow(ctx, `SELECT COUNT(*), COUNT(DISTINCT subject_id) FROM measurements`).
		Scan(&measurements, &subjects)
	if err != nil {
		return 0, 0, fmt.Errorf("counting measurements: %w", err)
	}
	return measurements, subjects, nil
}

func (r *MeasurementRepository) collect(ctx context.Context, query string, args ...interface{}) ([]domain.MeasurementPoint, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanMeasurement)
}

func scanMeasurement(row pgx.CollectableRow) (domain.MeasurementPoint, error) {
	var (
		p    domain.MeasurementPoint
		kind string
	)
	err := row.Scan(&p.ID, &p.SubjectID, &kind, &p.Value, &p.Timestamp,
		&p.SequenceNumber, &p.Source, &p.Note, &p.CreatedAt)
	if err != nil {
		return p, err
	}
	p.MetricKind = domain.MetricKind(kind)
	p.Timestamp = p.Timestamp.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}
