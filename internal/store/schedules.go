package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hamychatgpt/Rasad-v2/internal/models"
	"github.com/hamychatgpt/Rasad-v2/internal/schedule"
)

type ScheduleRepository struct {
	db *sqlx.DB
}

var _ schedule.Store = (*ScheduleRepository)(nil)

func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// scheduleRow stores intervals as whole seconds.
type scheduleRow struct {
	models.TopicSchedule
	NormalSeconds   int64 `db:"normal_interval_seconds"`
	CriticalSeconds int64 `db:"critical_interval_seconds"`
}

func (r *ScheduleRepository) LoadSchedules(ctx context.Context) ([]models.TopicSchedule, error) {
	var rows []scheduleRow
	err := r.db.SelectContext(ctx, &rows, `
SELECT topic, kind, importance, normal_interval_seconds, critical_interval_seconds,
       status, last_checked_at, escalated_at, active
FROM topic_schedules
ORDER BY topic`)
	if err != nil {
		return nil, fmt.Errorf("load schedules: %w", err)
	}

	out := make([]models.TopicSchedule, 0, len(rows))
	for _, row := range rows {
		ts := row.TopicSchedule
		ts.NormalInterval = time.Duration(row.NormalSeconds) * time.Second
		ts.CriticalInterval = time.Duration(row.CriticalSeconds) * time.Second
		out = append(out, ts)
	}
	return out, nil
}

// SaveSchedule upserts ts. The table rejects a critical interval above the
// normal one.
func (r *ScheduleRepository) SaveSchedule(ctx context.Context, ts models.TopicSchedule) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO topic_schedules (
  topic, kind, importance, normal_interval_seconds, critical_interval_seconds,
  status, last_checked_at, escalated_at, active, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
ON CONFLICT (topic) DO UPDATE SET
  kind                      = EXCLUDED.kind,
  importance                = EXCLUDED.importance,
  normal_interval_seconds   = EXCLUDED.normal_interval_seconds,
  critical_interval_seconds = EXCLUDED.critical_interval_seconds,
  status                    = EXCLUDED.status,
  last_checked_at           = EXCLUDED.last_checked_at,
  escalated_at              = EXCLUDED.escalated_at,
  active                    = EXCLUDED.active,
  updated_at                = now()`,
		ts.Topic, string(ts.Kind), ts.Importance,
		int64(ts.NormalInterval/time.Second), int64(ts.CriticalInterval/time.Second),
		string(ts.Status), ts.LastCheckedAt, ts.EscalatedAt, ts.Active,
	)
	if err != nil {
		return fmt.Errorf("save schedule %s: %w", ts.Topic, err)
	}
	return nil
}
