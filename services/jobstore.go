package services

import (
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"global_scheduler/models"
	"global_scheduler/scheduler"
)

// JobRunStore persists job execution results. It implements the loop's
// result sink; a write failure is logged and swallowed so persistence
// problems never stall the loop.
type JobRunStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

func NewJobRunStore(db *gorm.DB, logger zerolog.Logger) *JobRunStore {
	return &JobRunStore{db: db, logger: logger}
}

func (s *JobRunStore) RecordJobRun(res scheduler.JobExecutionResult) {
	row := models.JobRun{
		Task:       res.Task,
		StartedAt:  res.StartedAt,
		DurationMS: res.Duration.Milliseconds(),
		Success:    res.Success,
		Error:      res.Error,
	}
	if err := s.db.Create(&row).Error; err != nil {
		s.logger.Error().Err(err).Str("task", res.Task).Msg("failed to persist job run")
	}
}

// RecentFailures returns the failed runs among the most recent limit rows.
func (s *JobRunStore) RecentFailures(limit int) ([]models.JobRun, error) {
	var runs []models.JobRun
	err := s.db.
		Where("success = ?", false).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

// WeeklyStats aggregates run counts per task over the last seven days.
type WeeklyStat struct {
	Task     string `json:"task"`
	Runs     int64  `json:"runs"`
	Failures int64  `json:"failures"`
}

func (s *JobRunStore) WeeklyStats() ([]WeeklyStat, error) {
	var stats []WeeklyStat
	err := s.db.Model(&models.JobRun{}).
		Select("task, COUNT(*) AS runs, SUM(CASE WHEN success THEN 0 ELSE 1 END) AS failures").
		Where("started_at > NOW() - INTERVAL '7 days'").
		Group("task").
		Order("task").
		Scan(&stats).Error
	return stats, err
}
