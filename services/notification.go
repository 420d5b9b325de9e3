package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// DiscordNotifier posts messages to a Discord webhook. An empty webhook URL
// disables delivery without failing callers.
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
	logger     zerolog.Logger
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

const embedColorBlue = 0x3498db

func NewDiscordNotifier(webhookURL string, logger zerolog.Logger) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Send delivers one embed to the webhook. Discord caps descriptions at 4096
// characters, so longer bodies are truncated.
func (n *DiscordNotifier) Send(title, body string) error {
	if n.webhookURL == "" {
		n.logger.Debug().Str("title", title).Msg("webhook not configured, dropping notification")
		return nil
	}

	if len(body) > 4000 {
		body = body[:4000] + "\n... (truncated)"
	}

	payload := discordPayload{
		Embeds: []discordEmbed{{
			Title:       title,
			Description: body,
			Color:       embedColorBlue,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	resp, err := n.client.Post(n.webhookURL, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
