package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"global_scheduler/config"
)

const kisTokenCacheKey = "kis:access_token"

// KISClient manages the Korea Investment & Securities API access token. The
// token is valid for 24 hours; the refreshed value is cached in Redis so
// other processes can share it.
type KISClient struct {
	cfg    *config.Config
	client *http.Client
	rdb    *redis.Client
	logger zerolog.Logger
}

type kisTokenRequest struct {
	GrantType string `json:"grant_type"`
	AppKey    string `json:"appkey"`
	AppSecret string `json:"appsecret"`
}

type kisTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func NewKISClient(cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) *KISClient {
	return &KISClient{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		rdb:    rdb,
		logger: logger,
	}
}

// RefreshToken requests a fresh access token and caches it for 24 hours.
func (k *KISClient) RefreshToken(ctx context.Context) error {
	if k.cfg.KISAppKey == "" || k.cfg.KISAppSecret == "" {
		return fmt.Errorf("KIS credentials not configured")
	}

	body, err := json.Marshal(kisTokenRequest{
		GrantType: "client_credentials",
		AppKey:    k.cfg.KISAppKey,
		AppSecret: k.cfg.KISAppSecret,
	})
	if err != nil {
		return fmt.Errorf("failed to encode token request: %w", err)
	}

	url := k.cfg.KISBaseURL + "/oauth2/tokenP"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tok kisTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("token response contained no access token")
	}

	ttl := 24 * time.Hour
	if tok.ExpiresIn > 0 {
		ttl = time.Duration(tok.ExpiresIn) * time.Second
	}
	if err := k.rdb.Set(ctx, kisTokenCacheKey, tok.AccessToken, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache token: %w", err)
	}

	k.logger.Info().Dur("ttl", ttl).Msg("KIS access token refreshed")
	return nil
}

// Token returns the cached access token, refreshing it when the cache is
// empty.
func (k *KISClient) Token(ctx context.Context) (string, error) {
	tok, err := k.rdb.Get(ctx, kisTokenCacheKey).Result()
	if err == nil && tok != "" {
		return tok, nil
	}
	if err != nil && err != redis.Nil {
		return "", fmt.Errorf("failed to read cached token: %w", err)
	}

	if err := k.RefreshToken(ctx); err != nil {
		return "", err
	}
	return k.rdb.Get(ctx, kisTokenCacheKey).Result()
}
