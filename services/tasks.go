package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"global_scheduler/config"
	"global_scheduler/models"
	"global_scheduler/scheduler"
)

const recommendationTopN = 10

// TaskSet owns every schedulable task and the collaborators they share.
type TaskSet struct {
	cfg       *config.Config
	db        *gorm.DB
	notifier  *DiscordNotifier
	kis       *KISClient
	ml        *MLClient
	collector *DataCollector
	health    *HealthChecker
	archive   *RecommendationArchive
	cache     *RecommendationCache
	jobs      *JobRunStore
	logger    zerolog.Logger
}

func NewTaskSet(
	cfg *config.Config,
	db *gorm.DB,
	notifier *DiscordNotifier,
	kis *KISClient,
	ml *MLClient,
	collector *DataCollector,
	health *HealthChecker,
	archive *RecommendationArchive,
	cache *RecommendationCache,
	jobs *JobRunStore,
	logger zerolog.Logger,
) *TaskSet {
	return &TaskSet{
		cfg:       cfg,
		db:        db,
		notifier:  notifier,
		kis:       kis,
		ml:        ml,
		collector: collector,
		health:    health,
		archive:   archive,
		cache:     cache,
		jobs:      jobs,
		logger:    logger,
	}
}

// BuildRegistry binds every task identifier to its implementation.
func (t *TaskSet) BuildRegistry() *scheduler.Registry {
	reg := scheduler.NewRegistry()

	reg.Register(scheduler.TaskKRPremarketAlert, func(ctx context.Context) error {
		return t.premarketAlert(ctx, "KR", "Korea pre-market briefing")
	})
	reg.Register(scheduler.TaskKRAnalysis, func(ctx context.Context) error {
		return t.runAnalysis(ctx, "KR")
	})
	reg.Register(scheduler.TaskKRDataCollect, func(ctx context.Context) error {
		return t.collector.Collect(ctx, "KR")
	})

	reg.Register(scheduler.TaskUSPremarketAlert, func(ctx context.Context) error {
		return t.premarketAlert(ctx, "US", "US pre-market briefing")
	})
	reg.Register(scheduler.TaskUSOpenAlert, t.usOpenAlert)
	reg.Register(scheduler.TaskUSAnalysis, func(ctx context.Context) error {
		return t.runAnalysis(ctx, "US")
	})
	reg.Register(scheduler.TaskUSDataCollect, func(ctx context.Context) error {
		return t.collector.Collect(ctx, "US")
	})

	reg.Register(scheduler.TaskTokenRefresh, t.kis.RefreshToken)
	reg.Register(scheduler.TaskHealthCheck, t.health.Check)
	reg.Register(scheduler.TaskEmergencyCheck, t.emergencyCheck)
	reg.Register(scheduler.TaskAdaptiveTrain, func(ctx context.Context) error {
		return t.ml.Train(ctx, TrainModeDaily)
	})
	reg.Register(scheduler.TaskAdvancedTrain, func(ctx context.Context) error {
		return t.ml.Train(ctx, TrainModeAdvanced)
	})
	reg.Register(scheduler.TaskWeeklyReport, t.weeklyReport)

	return reg
}

// premarketAlert sends the cached overnight recommendations for a region.
func (t *TaskSet) premarketAlert(ctx context.Context, region, title string) error {
	recs, err := t.cache.LoadLatest(ctx, region)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return t.notifier.Send(title, "No recommendations available for today.")
	}
	return t.notifier.Send(title, formatRecommendations(recs))
}

// runAnalysis asks the model service for fresh picks and fans them out to
// Postgres, the local cache, and the archive. Archive failures are logged
// but do not fail the task; the archive is best-effort long-term storage.
func (t *TaskSet) runAnalysis(ctx context.Context, region string) error {
	recs, err := t.ml.Predict(ctx, region, recommendationTopN)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return fmt.Errorf("model returned no recommendations for %s", region)
	}

	if err := t.db.WithContext(ctx).Create(&recs).Error; err != nil {
		return fmt.Errorf("failed to persist %s recommendations: %w", region, err)
	}
	if err := t.cache.Save(ctx, region, recs); err != nil {
		return err
	}
	if err := t.archive.Save(ctx, region, recs); err != nil {
		t.logger.Warn().Err(err).Str("region", region).Msg("archive write failed")
	}

	title := fmt.Sprintf("%s market analysis complete", region)
	return t.notifier.Send(title, formatRecommendations(recs))
}

func (t *TaskSet) usOpenAlert(ctx context.Context) error {
	recs, err := t.cache.LoadLatest(ctx, "US")
	if err != nil {
		return err
	}
	body := "US market is now open."
	if len(recs) > 0 {
		body += fmt.Sprintf(" Watching %d recommended symbols from the latest analysis.", len(recs))
	}
	return t.notifier.Send("US market open", body)
}

// emergencyCheck scans both regions for outsized moves and alerts when any
// are found. A quiet market produces no notification.
func (t *TaskSet) emergencyCheck(ctx context.Context) error {
	var all []string
	for _, region := range []string{"KR", "US"} {
		alerts, err := t.collector.EmergencyCheck(ctx, region)
		if err != nil {
			t.logger.Warn().Err(err).Str("region", region).Msg("emergency check skipped region")
			continue
		}
		for _, a := range alerts {
			all = append(all, fmt.Sprintf("[%s] %s", region, a))
		}
	}
	if len(all) == 0 {
		return nil
	}
	return t.notifier.Send("Emergency market alert", strings.Join(all, "\n"))
}

func (t *TaskSet) weeklyReport(ctx context.Context) error {
	stats, err := t.jobs.WeeklyStats()
	if err != nil {
		return fmt.Errorf("failed to build weekly stats: %w", err)
	}
	failures, err := t.jobs.RecentFailures(10)
	if err != nil {
		return fmt.Errorf("failed to load recent failures: %w", err)
	}

	var b strings.Builder
	b.WriteString("Task runs over the last 7 days:\n")
	if len(stats) == 0 {
		b.WriteString("- no runs recorded\n")
	}
	for _, s := range stats {
		fmt.Fprintf(&b, "- %s: %d runs, %d failures\n", s.Task, s.Runs, s.Failures)
	}
	if len(failures) > 0 {
		b.WriteString("\nMost recent failures:\n")
		for _, f := range failures {
			fmt.Fprintf(&b, "- %s at %s: %s\n", f.Task, f.StartedAt.Format("01-02 15:04"), f.Error)
		}
	}
	return t.notifier.Send("Weekly scheduler report", b.String())
}

func formatRecommendations(recs []models.Recommendation) string {
	var b strings.Builder
	hundred := decimal.NewFromInt(100)
	for i, r := range recs {
		if i > 0 {
			b.WriteString("\n")
		}
		name := r.Name
		if name == "" {
			name = r.Symbol
		}
		fmt.Fprintf(&b, "%d. %s (%s) score %s, target +%s%%",
			i+1, name, r.Symbol, r.Score.StringFixed(2), r.TargetGain.Mul(hundred).StringFixed(1))
		if r.Reason != "" {
			fmt.Fprintf(&b, " - %s", r.Reason)
		}
	}
	return b.String()
}
