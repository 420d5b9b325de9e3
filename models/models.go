package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// JobRun is one persisted task execution record.
type JobRun struct {
	ID         uint      `gorm:"primarykey" json:"id"`
	Task       string    `gorm:"index;not null" json:"task"`
	StartedAt  time.Time `gorm:"index;not null" json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Success    bool      `gorm:"index" json:"success"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Recommendation is one model-produced stock pick for a region.
type Recommendation struct {
	ID         uint            `gorm:"primarykey" json:"id"`
	Region     string          `gorm:"index;not null" json:"region"`
	Symbol     string          `gorm:"index;not null" json:"symbol"`
	Name       string          `json:"name"`
	Score      decimal.Decimal `gorm:"type:decimal(10,4)" json:"score"`
	Price      decimal.Decimal `gorm:"type:decimal(18,4)" json:"price"`
	TargetGain decimal.Decimal `gorm:"type:decimal(8,4)" json:"target_gain"`
	Reason     string          `json:"reason"`
	TradeDate  time.Time       `gorm:"index;not null" json:"trade_date"`
	CreatedAt  time.Time       `json:"created_at"`
}

// PriceBar is one daily OHLCV bar for a symbol.
type PriceBar struct {
	ID        uint            `gorm:"primarykey" json:"id"`
	Region    string          `gorm:"uniqueIndex:idx_bar_key;not null" json:"region"`
	Symbol    string          `gorm:"uniqueIndex:idx_bar_key;not null" json:"symbol"`
	Date      time.Time       `gorm:"uniqueIndex:idx_bar_key;not null" json:"date"`
	Open      decimal.Decimal `gorm:"type:decimal(18,4)" json:"open"`
	High      decimal.Decimal `gorm:"type:decimal(18,4)" json:"high"`
	Low       decimal.Decimal `gorm:"type:decimal(18,4)" json:"low"`
	Close     decimal.Decimal `gorm:"type:decimal(18,4)" json:"close"`
	Volume    int64           `json:"volume"`
	CreatedAt time.Time       `json:"created_at"`
}

// Migrate creates or updates the schema for all persisted models.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&JobRun{}, &Recommendation{}, &PriceBar{})
}
