package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// HealthChecker verifies connectivity to the core dependencies: Postgres and
// Redis. It backs both the bootstrap health step and the recurring
// health-check task.
type HealthChecker struct {
	db     *gorm.DB
	rdb    *redis.Client
	logger zerolog.Logger
}

func NewHealthChecker(db *gorm.DB, rdb *redis.Client, logger zerolog.Logger) *HealthChecker {
	return &HealthChecker{db: db, rdb: rdb, logger: logger}
}

// Check pings every dependency and returns the first failure.
func (h *HealthChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	sqlDB, err := h.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access database handle: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}

	if err := h.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	h.logger.Debug().Msg("health check passed")
	return nil
}
