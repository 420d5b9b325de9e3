package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"global_scheduler/config"
	"global_scheduler/models"
)

// DataCollector fetches daily bars from the market data provider and upserts
// them into Postgres. One collector serves both regions.
type DataCollector struct {
	cfg    *config.Config
	db     *gorm.DB
	client *http.Client
	logger zerolog.Logger
}

type providerBar struct {
	Symbol string          `json:"symbol"`
	Date   string          `json:"date"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

type providerBarsResponse struct {
	Bars []providerBar `json:"bars"`
}

func NewDataCollector(cfg *config.Config, db *gorm.DB, logger zerolog.Logger) *DataCollector {
	return &DataCollector{
		cfg:    cfg,
		db:     db,
		client: &http.Client{Timeout: 60 * time.Second},
		logger: logger,
	}
}

// Collect fetches the latest daily bars for a region and upserts them.
func (d *DataCollector) Collect(ctx context.Context, region string) error {
	bars, err := d.fetchBars(ctx, region)
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		return fmt.Errorf("provider returned no bars for %s", region)
	}

	rows := make([]models.PriceBar, 0, len(bars))
	for _, b := range bars {
		date, err := time.Parse("2006-01-02", b.Date)
		if err != nil {
			d.logger.Warn().Str("symbol", b.Symbol).Str("date", b.Date).Msg("skipping bar with bad date")
			continue
		}
		rows = append(rows, models.PriceBar{
			Region: region,
			Symbol: b.Symbol,
			Date:   date,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}

	err = d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "region"}, {Name: "symbol"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
	}).CreateInBatches(rows, 200).Error
	if err != nil {
		return fmt.Errorf("failed to upsert %s bars: %w", region, err)
	}

	d.logger.Info().Str("region", region).Int("bars", len(rows)).Msg("market data collected")
	return nil
}

// VerifyFresh reports whether the region has bars no older than maxAge. Used
// as the per-region bootstrap data check; a stale store triggers a collect.
func (d *DataCollector) VerifyFresh(ctx context.Context, region string, maxAge time.Duration) error {
	var latest models.PriceBar
	err := d.db.WithContext(ctx).
		Where("region = ?", region).
		Order("date DESC").
		First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return d.Collect(ctx, region)
	}
	if err != nil {
		return fmt.Errorf("failed to query %s bars: %w", region, err)
	}
	if time.Since(latest.Date) > maxAge {
		return d.Collect(ctx, region)
	}
	return nil
}

// EmergencyCheck scans the most recent bars for moves beyond the alert
// threshold and returns a report of the offenders, empty when quiet.
func (d *DataCollector) EmergencyCheck(ctx context.Context, region string) ([]string, error) {
	var latest sql.NullTime
	row := d.db.WithContext(ctx).Model(&models.PriceBar{}).
		Where("region = ?", region).
		Select("MAX(date)").Row()
	if err := row.Scan(&latest); err != nil {
		return nil, fmt.Errorf("failed to find latest %s bar date: %w", region, err)
	}
	if !latest.Valid {
		return nil, fmt.Errorf("no %s bars available", region)
	}

	var bars []models.PriceBar
	if err := d.db.WithContext(ctx).
		Where("region = ? AND date = ?", region, latest.Time).
		Find(&bars).Error; err != nil {
		return nil, fmt.Errorf("failed to load %s bars: %w", region, err)
	}

	threshold := decimal.NewFromFloat(0.10)
	var alerts []string
	for _, b := range bars {
		if b.Open.IsZero() {
			continue
		}
		change := b.Close.Sub(b.Open).Div(b.Open)
		if change.Abs().GreaterThanOrEqual(threshold) {
			alerts = append(alerts, fmt.Sprintf("%s moved %s%%", b.Symbol, change.Mul(decimal.NewFromInt(100)).StringFixed(1)))
		}
	}
	return alerts, nil
}

func (d *DataCollector) fetchBars(ctx context.Context, region string) ([]providerBar, error) {
	u, err := url.Parse(d.cfg.MarketDataBaseURL + "/v1/bars/daily")
	if err != nil {
		return nil, fmt.Errorf("bad market data URL: %w", err)
	}
	q := u.Query()
	q.Set("region", region)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build bars request: %w", err)
	}
	if d.cfg.MarketDataAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.cfg.MarketDataAPIKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bars request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bars endpoint returned status %d", resp.StatusCode)
	}

	var out providerBarsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode bars response: %w", err)
	}
	return out.Bars, nil
}
