package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"global_scheduler/models"
)

// Training modes accepted by the model service.
const (
	TrainModeDaily    = "daily"
	TrainModeAdvanced = "advanced"
)

// MLClient talks to the external model service that produces stock
// recommendations and runs training jobs.
type MLClient struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

type mlPredictRequest struct {
	Region string `json:"region"`
	TopN   int    `json:"top_n"`
}

type mlRecommendation struct {
	Symbol     string          `json:"symbol"`
	Name       string          `json:"name"`
	Score      decimal.Decimal `json:"score"`
	Price      decimal.Decimal `json:"price"`
	TargetGain decimal.Decimal `json:"target_gain"`
	Reason     string          `json:"reason"`
}

type mlPredictResponse struct {
	Recommendations []mlRecommendation `json:"recommendations"`
}

type mlTrainRequest struct {
	Mode string `json:"mode"`
}

func NewMLClient(baseURL string, logger zerolog.Logger) *MLClient {
	return &MLClient{
		baseURL: baseURL,
		// Training runs are slow; predictions share the same generous cap.
		client: &http.Client{Timeout: 5 * time.Minute},
		logger: logger,
	}
}

// Ready probes the model service readiness endpoint. Used during bootstrap
// and by the background retry.
func (m *MLClient) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/ready", nil)
	if err != nil {
		return fmt.Errorf("failed to build readiness request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("model service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model service not ready, status %d", resp.StatusCode)
	}
	return nil
}

// Predict requests the top-N recommendations for a region.
func (m *MLClient) Predict(ctx context.Context, region string, topN int) ([]models.Recommendation, error) {
	body, err := json.Marshal(mlPredictRequest{Region: region, TopN: topN})
	if err != nil {
		return nil, fmt.Errorf("failed to encode predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("predict request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("predict endpoint returned status %d", resp.StatusCode)
	}

	var out mlPredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode predict response: %w", err)
	}

	now := time.Now()
	recs := make([]models.Recommendation, 0, len(out.Recommendations))
	for _, r := range out.Recommendations {
		recs = append(recs, models.Recommendation{
			Region:     region,
			Symbol:     r.Symbol,
			Name:       r.Name,
			Score:      r.Score,
			Price:      r.Price,
			TargetGain: r.TargetGain,
			Reason:     r.Reason,
			TradeDate:  time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()),
		})
	}

	m.logger.Info().Str("region", region).Int("count", len(recs)).Msg("predictions received")
	return recs, nil
}

// Train starts a training run and waits for it to finish.
func (m *MLClient) Train(ctx context.Context, mode string) error {
	body, err := json.Marshal(mlTrainRequest{Mode: mode})
	if err != nil {
		return fmt.Errorf("failed to encode train request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/train", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build train request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("train request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("train endpoint returned status %d", resp.StatusCode)
	}

	m.logger.Info().Str("mode", mode).Dur("took", time.Since(start)).Msg("training completed")
	return nil
}
