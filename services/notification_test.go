package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifierSendsEmbed(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewDiscordNotifier(srv.URL, zerolog.Nop())
	require.NoError(t, n.Send("Task failed: health_check", "redis ping failed"))

	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Task failed: health_check", got.Embeds[0].Title)
	assert.Equal(t, "redis ping failed", got.Embeds[0].Description)
}

func TestDiscordNotifierTruncatesLongBody(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewDiscordNotifier(srv.URL, zerolog.Nop())
	require.NoError(t, n.Send("long", strings.Repeat("x", 5000)))

	require.Len(t, got.Embeds, 1)
	assert.LessOrEqual(t, len(got.Embeds[0].Description), 4096)
	assert.Contains(t, got.Embeds[0].Description, "truncated")
}

func TestDiscordNotifierErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n := NewDiscordNotifier(srv.URL, zerolog.Nop())
	assert.Error(t, n.Send("title", "body"))
}

func TestDiscordNotifierDisabledWithoutURL(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	n := NewDiscordNotifier("", zerolog.Nop())
	assert.NoError(t, n.Send("title", "body"))
	assert.False(t, called)
}
