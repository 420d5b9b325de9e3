package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"global_scheduler/config"
	"global_scheduler/controllers"
	"global_scheduler/middleware"
	"global_scheduler/scheduler"
	"global_scheduler/services"
)

// Deps collects everything the HTTP surface needs.
type Deps struct {
	Cfg      *config.Config
	Loop     *scheduler.Loop
	Registry *scheduler.Registry
	Hours    *scheduler.MarketHours
	Jobs     *services.JobRunStore
	Hub      *services.StatusHub
	Logger   zerolog.Logger
}

// SetupRoutes registers every route on the engine.
func SetupRoutes(router *gin.Engine, d Deps) {
	schedulerController := controllers.NewSchedulerController(d.Loop, d.Registry, d.Hours, d.Jobs, d.Logger)
	marketController := controllers.NewMarketController(d.Hours)
	authController := controllers.NewAuthController(d.Cfg)

	// Probes. Liveness is unconditional; readiness requires a running loop;
	// startup reports the bootstrap outcome once it exists.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ready", func(c *gin.Context) {
		if d.Loop.State() != scheduler.StateRunning {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "state": d.Loop.State().String()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	router.GET("/startup", func(c *gin.Context) {
		state := d.Loop.BootstrapState()
		if state == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "bootstrapping"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"healthy":       state.Healthy(),
			"kr_data_ready": state.KRDataReady(),
			"us_data_ready": state.USDataReady(),
			"models_ready":  state.ModelsReady(),
			"completed":     state.Completed(),
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/auth/login", authController.Login)

		sched := api.Group("/scheduler")
		{
			sched.GET("/status", schedulerController.GetStatus)
			sched.GET("/schedule", schedulerController.GetSchedule)
			sched.GET("/runs", schedulerController.GetRecentRuns)
			sched.POST("/run/:task", middleware.JWTAuthMiddleware(d.Cfg.JWTSecret), schedulerController.RunTask)
		}

		markets := api.Group("/markets")
		{
			markets.GET("/:region/status", marketController.GetStatus)
			markets.GET("/:region/hours", marketController.GetHours)
		}
	}

	router.GET("/ws/status", func(c *gin.Context) {
		d.Hub.HandleWS(c.Writer, c.Request)
	})
}
