package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"global_scheduler/scheduler"
)

// MarketController serves per-region session information.
type MarketController struct {
	hours *scheduler.MarketHours
}

func NewMarketController(hours *scheduler.MarketHours) *MarketController {
	return &MarketController{hours: hours}
}

func parseRegion(c *gin.Context) (scheduler.Region, bool) {
	region := scheduler.Region(strings.ToUpper(c.Param("region")))
	switch region {
	case scheduler.RegionKR, scheduler.RegionUS:
		return region, true
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown region", "region": c.Param("region")})
		return "", false
	}
}

// GetStatus classifies the current instant for a region.
// GET /api/markets/:region/status
func (mc *MarketController) GetStatus(c *gin.Context) {
	region, ok := parseRegion(c)
	if !ok {
		return
	}

	now := time.Now()
	status, err := mc.hours.Status(region, now)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"region": region,
		"status": status,
		"dst":    mc.hours.IsDSTActive(region, now),
	})
}

// GetHours returns today's session boundaries for a region in the reference
// zone.
// GET /api/markets/:region/hours
func (mc *MarketController) GetHours(c *gin.Context) {
	region, ok := parseRegion(c)
	if !ok {
		return
	}

	b, err := mc.hours.Compute(region, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"region":     b.Region,
		"pre_open":   b.PreOpen.String(),
		"open":       b.Open.String(),
		"close":      b.Close.String(),
		"post_close": b.PostClose.String(),
		"dst":        b.DSTActive,
		"label":      b.Label,
	})
}
