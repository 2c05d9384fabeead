// Package completion reads goal, attendance and homework completion rates from the
// PostgreSQL bookkeeping tables.
package completion

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/progress-analytics-server/internal/domain"
)

const (
	goalRateQuery = `
		SELECT
			COUNT(*) FILTER (WHERE status = 'achieved'),
			COUNT(*)
		FROM treatment_goals
		WHERE subject_id = $1 AND status <> 'abandoned'`

	attendanceRateQuery = `
		SELECT
			COUNT(*) FILTER (WHERE status = 'attended'),
			COUNT(*) FILTER (WHERE status IN ('attended', 'missed'))
		FROM therapy_sessions
		WHERE subject_id = $1 AND scheduled_at >= $2 AND scheduled_at <= $3`

	homeworkRateQuery = `
		SELECT
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status IN ('completed', 'not_completed'))
		FROM homework_assignments
		WHERE subject_id = $1 AND assigned_at >= $2 AND assigned_at <= $3`
)

// PostgresProvider implements CompletionRateProvider over database/sql.
type PostgresProvider struct {
	db  *sql.DB
	log *logrus.Logger
	now domain.Clock
}

// NewPostgresProvider wraps an open database. The schema is expected to exist already
// (created via migrations).
func NewPostgresProvider(db *sql.DB, logger *logrus.Logger, now domain.Clock) (*PostgresProvider, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if now == nil {
		now = time.Now
	}
	return &PostgresProvider{db: db, log: logger, now: now}, nil
}

// NewPostgresProviderFromDSN opens a lib/pq connection pool and verifies it.
func NewPostgresProviderFromDSN(ctx context.Context, dsn string, logger *logrus.Logger) (*PostgresProvider, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewPostgresProvider(db, logger, nil)
}

// GoalRate returns achieved goals as a percentage of goals not abandoned.
// A subject without goals has a rate of 0.
func (p *PostgresProvider) GoalRate(ctx context.Context, subjectID string) (float64, error) {
	done, total, err := p.counts(ctx, "goal", goalRateQuery, subjectID)
	if err != nil {
		return 0, err
	}
	return domain.Percentage(done, total, 0), nil
}

// AttendanceRate returns attended sessions as a percentage of attended plus missed sessions
// in the window. No held sessions counts as full attendance.
func (p *PostgresProvider) AttendanceRate(ctx context.Context, subjectID string, windowDays int) (float64, error) {
	now := p.now().UTC()
	done, total, err := p.counts(ctx, "attendance", attendanceRateQuery, subjectID, now.AddDate(0, 0, -windowDays), now)
	if err != nil {
		return 0, err
	}
	return domain.Percentage(done, total, 100), nil
}

// HomeworkRate returns completed assignments as a percentage of assignments with an outcome
// in the window. No graded homework counts as full completion.
func (p *PostgresProvider) HomeworkRate(ctx context.Context, subjectID string, windowDays int) (float64, error) {
	now := p.now().UTC()
	done, total, err := p.counts(ctx, "homework", homeworkRateQuery, subjectID, now.AddDate(0, 0, -windowDays), now)
	if err != nil {
		return 0, err
	}
	return domain.Percentage(done, total, 100), nil
}

func (p *PostgresProvider) counts(ctx context.Context, rate, query string, args ...interface{}) (int64, int64, error) {
	var done, total int64
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&done, &total); err != nil {
		p.log.WithFields(logrus.Fields{
			"rate":       rate,
			"subject_id": args[0],
			"error":      err,
		}).Error("Failed to compute completion rate")
		return 0, 0, fmt.Errorf("computing %s rate: %w", rate, err)
	}
	return done, total, nil
}

// Close closes the underlying database.
func (p *PostgresProvider) Close() error {
	return p.db.Close()
}
