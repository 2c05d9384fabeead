package litestore

import (
	"context"
	"fmt"

	"github.com/progress-analytics-server/internal/domain"
)

// GoalRate returns achieved goals as a percentage of goals not abandoned.
// A subject without goals has a rate of 0.
func (s *Store) GoalRate(ctx context.Context, subjectID string) (float64, error) {
	var done, total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'achieved' THEN 1 ELSE 0 END), 0),
			COUNT(*)
		FROM treatment_goals
		WHERE subject_id = ? AND status != 'abandoned'
	`, subjectID).Scan(&done, &total)
	if err != nil {
		return 0, fmt.Errorf("failed to compute goal rate: %w", err)
	}
	return domain.Percentage(done, total, 0), nil
}

// AttendanceRate returns attended sessions as a percentage of attended plus missed sessions
// scheduled within the window. No held sessions counts as full attendance.
func (s *Store) AttendanceRate(ctx context.Context, subjectID string, windowDays int) (float64, error) {
	var done, total int64
	now := s.now()
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'attended' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN ('attended', 'missed') THEN 1 ELSE 0 END), 0)
		FROM therapy_sessions
		WHERE subject_id = ? AND scheduled_at >= ? AND scheduled_at <= ?
	`, subjectID, toNanos(now.AddDate(0, 0, -windowDays)), toNanos(now)).Scan(&done, &total)
	if err != nil {
		return 0, fmt.Errorf("failed to compute attendance rate: %w", err)
	}
	return domain.Percentage(done, total, 100), nil
}

// HomeworkRate returns completed assignments as a percentage of assignments with an outcome
// assigned within the window. No graded homework counts as full completion.
func (s *Store) HomeworkRate(ctx context.Context, subjectID string, windowDays int) (float64, error) {
	var done, total int64
	now := s.now()
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN ('completed', 'not_completed') THEN 1 ELSE 0 END), 0)
		FROM homework_assignments
		WHERE subject_id = ? AND assigned_at >= ? AND assigned_at <= ?
	`, subjectID, toNanos(now.AddDate(0, 0, -windowDays)), toNanos(now)).Scan(&done, &total)
	if err != nil {
		return 0, fmt.Errorf("failed to compute homework rate: %w", err)
	}
	return domain.Percentage(done, total, 100), nil
}
