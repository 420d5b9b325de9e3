package services

import (
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"global_scheduler/models"
)

// Retention windows for persisted history.
const (
	jobRunRetention   = 90 * 24 * time.Hour
	priceBarRetention = 2 * 365 * 24 * time.Hour
	recRetention      = 365 * 24 * time.Hour
)

// Housekeeper prunes old rows from Postgres on a weekly cadence. It runs on
// its own gocron scheduler, separate from the market-driven trigger table:
// retention has no relationship to session boundaries or DST.
type Housekeeper struct {
	cron   *gocron.Scheduler
	db     *gorm.DB
	logger zerolog.Logger
}

func NewHousekeeper(db *gorm.DB, loc *time.Location, logger zerolog.Logger) *Housekeeper {
	return &Housekeeper{
		cron:   gocron.NewScheduler(loc),
		db:     db,
		logger: logger,
	}
}

// Start schedules the weekly cleanup, Sunday at 01:00.
func (h *Housekeeper) Start() {
	h.cron.Every(1).Week().Sunday().At("01:00").Do(func() {
		h.CleanupOldData()
	})
	h.cron.StartAsync()
	h.logger.Info().Msg("housekeeping scheduler started")
}

// Stop halts the cleanup scheduler.
func (h *Housekeeper) Stop() {
	h.cron.Stop()
}

// CleanupOldData deletes rows past their retention window.
func (h *Housekeeper) CleanupOldData() {
	now := time.Now()

	res := h.db.Where("started_at < ?", now.Add(-jobRunRetention)).Delete(&models.JobRun{})
	if res.Error != nil {
		h.logger.Error().Err(res.Error).Msg("failed to prune job runs")
	} else if res.RowsAffected > 0 {
		h.logger.Info().Int64("rows", res.RowsAffected).Msg("pruned old job runs")
	}

	res = h.db.Where("date < ?", now.Add(-priceBarRetention)).Delete(&models.PriceBar{})
	if res.Error != nil {
		h.logger.Error().Err(res.Error).Msg("failed to prune price bars")
	} else if res.RowsAffected > 0 {
		h.logger.Info().Int64("rows", res.RowsAffected).Msg("pruned old price bars")
	}

	res = h.db.Where("trade_date < ?", now.Add(-recRetention)).Delete(&models.Recommendation{})
	if res.Error != nil {
		h.logger.Error().Err(res.Error).Msg("failed to prune recommendations")
	} else if res.RowsAffected > 0 {
		h.logger.Info().Int64("rows", res.RowsAffected).Msg("pruned old recommendations")
	}
}
