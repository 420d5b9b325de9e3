package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"global_scheduler/scheduler"
	"global_scheduler/services"
)

// SchedulerController serves scheduler state and the manual-run surface.
type SchedulerController struct {
	loop     *scheduler.Loop
	registry *scheduler.Registry
	hours    *scheduler.MarketHours
	jobs     *services.JobRunStore
	logger   zerolog.Logger
}

func NewSchedulerController(
	loop *scheduler.Loop,
	registry *scheduler.Registry,
	hours *scheduler.MarketHours,
	jobs *services.JobRunStore,
	logger zerolog.Logger,
) *SchedulerController {
	return &SchedulerController{
		loop:     loop,
		registry: registry,
		hours:    hours,
		jobs:     jobs,
		logger:   logger,
	}
}

// GetStatus returns the loop state, DST flag, bootstrap outcomes and the
// current trigger tags.
// GET /api/scheduler/status
func (sc *SchedulerController) GetStatus(c *gin.Context) {
	resp := gin.H{
		"state":    sc.loop.State().String(),
		"us_dst":   sc.loop.DSTActive(),
		"triggers": sc.loop.Table().Len(),
		"tags":     sc.loop.Table().Tags(),
		"tasks":    sc.registry.Names(),
	}
	if state := sc.loop.BootstrapState(); state != nil {
		resp["bootstrap"] = gin.H{
			"healthy":       state.Healthy(),
			"kr_data_ready": state.KRDataReady(),
			"us_data_ready": state.USDataReady(),
			"models_ready":  state.ModelsReady(),
			"completed":     state.Completed(),
		}
	}
	c.JSON(http.StatusOK, resp)
}

// GetSchedule returns the remaining triggers for today in the reference
// zone.
// GET /api/scheduler/schedule
func (sc *SchedulerController) GetSchedule(c *gin.Context) {
	now := time.Now().In(sc.hours.ReferenceLocation())
	entries := sc.loop.Table().UpcomingToday(now)

	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		out = append(out, gin.H{
			"at":    e.At.String(),
			"label": e.Label,
			"task":  e.Task,
			"in":    e.Until.Round(time.Minute).String(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"date": now.Format("2006-01-02"), "entries": out})
}

// RunTask triggers a task by name outside its schedule. The run happens in
// the background; the response only acknowledges dispatch.
// POST /api/scheduler/run/:task
func (sc *SchedulerController) RunTask(c *gin.Context) {
	name := c.Param("task")
	if _, ok := sc.registry.Resolve(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task", "task": name})
		return
	}

	go func() {
		if err := sc.loop.RunManual(name); err != nil {
			sc.logger.Error().Err(err).Str("task", name).Msg("manual run failed")
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"task": name, "status": "dispatched"})
}

// GetRecentRuns returns the latest persisted job runs.
// GET /api/scheduler/runs
func (sc *SchedulerController) GetRecentRuns(c *gin.Context) {
	failures, err := sc.jobs.RecentFailures(20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job runs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"failures": failures})
}
