package services

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"global_scheduler/models"
)

// RecommendationCache is a local SQLite store for the latest recommendation
// batch per region. The evening analysis writes it; the next morning's
// pre-market alert reads it without needing Postgres or the model service.
type RecommendationCache struct {
	db     *sql.DB
	mu     sync.Mutex
	logger zerolog.Logger
}

func NewRecommendationCache(path string, logger zerolog.Logger) (*RecommendationCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping cache: %w", err)
	}

	c := &RecommendationCache{db: db, logger: logger}
	if err := c.createTables(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *RecommendationCache) createTables() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS recommendations (
			region      TEXT NOT NULL,
			symbol      TEXT NOT NULL,
			name        TEXT,
			score       TEXT NOT NULL,
			price       TEXT NOT NULL,
			target_gain TEXT NOT NULL,
			reason      TEXT,
			trade_date  TEXT NOT NULL,
			saved_at    TEXT NOT NULL,
			PRIMARY KEY (region, symbol, trade_date)
		)`)
	if err != nil {
		return fmt.Errorf("failed to create recommendations table: %w", err)
	}
	return nil
}

// Save replaces the cached batch for the region and trade date.
func (c *RecommendationCache) Save(ctx context.Context, region string, recs []models.Recommendation) error {
	if len(recs) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cache transaction: %w", err)
	}
	defer tx.Rollback()

	tradeDate := recs[0].TradeDate.Format("2006-01-02")
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM recommendations WHERE region = ? AND trade_date = ?`,
		region, tradeDate); err != nil {
		return fmt.Errorf("failed to clear cached batch: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO recommendations
			(region, symbol, name, score, price, target_gain, reason, trade_date, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare cache insert: %w", err)
	}
	defer stmt.Close()

	savedAt := time.Now().Format(time.RFC3339)
	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx,
			region, r.Symbol, r.Name,
			r.Score.String(), r.Price.String(), r.TargetGain.String(),
			r.Reason, tradeDate, savedAt); err != nil {
			return fmt.Errorf("failed to cache %s: %w", r.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache batch: %w", err)
	}

	c.logger.Info().Str("region", region).Int("count", len(recs)).Msg("recommendations cached")
	return nil
}

// LoadLatest returns the most recent cached batch for the region, empty when
// nothing is cached.
func (c *RecommendationCache) LoadLatest(ctx context.Context, region string) ([]models.Recommendation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, err := c.db.QueryContext(ctx, `
		SELECT symbol, name, score, price, target_gain, reason, trade_date
		FROM recommendations
		WHERE region = ? AND trade_date = (
			SELECT MAX(trade_date) FROM recommendations WHERE region = ?
		)
		ORDER BY CAST(score AS REAL) DESC`,
		region, region)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache: %w", err)
	}
	defer rows.Close()

	var recs []models.Recommendation
	for rows.Next() {
		var r models.Recommendation
		var score, price, gain, tradeDate string
		if err := rows.Scan(&r.Symbol, &r.Name, &score, &price, &gain, &r.Reason, &tradeDate); err != nil {
			return nil, fmt.Errorf("failed to scan cached row: %w", err)
		}
		r.Region = region
		if r.Score, err = decimal.NewFromString(score); err != nil {
			return nil, fmt.Errorf("bad cached score for %s: %w", r.Symbol, err)
		}
		if r.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("bad cached price for %s: %w", r.Symbol, err)
		}
		if r.TargetGain, err = decimal.NewFromString(gain); err != nil {
			return nil, fmt.Errorf("bad cached target gain for %s: %w", r.Symbol, err)
		}
		if r.TradeDate, err = time.Parse("2006-01-02", tradeDate); err != nil {
			return nil, fmt.Errorf("bad cached trade date for %s: %w", r.Symbol, err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Close releases the underlying database handle.
func (c *RecommendationCache) Close() error {
	return c.db.Close()
}
