package services

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"global_scheduler/scheduler"
)

const (
	maxStatusClients   = 100
	statusWriteTimeout = 10 * time.Second
	statusPongTimeout  = 60 * time.Second
	statusPingInterval = 30 * time.Second
)

// StatusMessage is one event pushed to websocket subscribers.
type StatusMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Time string      `json:"time"`
}

type statusClient struct {
	conn *websocket.Conn
	send chan []byte
}

// StatusHub streams scheduler events (job results, state changes) to
// websocket subscribers. It implements the loop's result sink.
type StatusHub struct {
	clients    map[*statusClient]bool
	broadcast  chan StatusMessage
	register   chan *statusClient
	unregister chan *statusClient
	shutdown   chan struct{}
	mu         sync.RWMutex
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
}

func NewStatusHub(logger zerolog.Logger) *StatusHub {
	return &StatusHub{
		clients:    make(map[*statusClient]bool),
		broadcast:  make(chan StatusMessage, 256),
		register:   make(chan *statusClient),
		unregister: make(chan *statusClient),
		shutdown:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// Run drives the hub until Shutdown is called.
func (h *StatusHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if len(h.clients) >= maxStatusClients {
				h.mu.Unlock()
				client.conn.Close()
				continue
			}
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error().Err(err).Msg("failed to encode status message")
				continue
			}
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Slow consumer, drop the message for this client.
				}
			}
			h.mu.RUnlock()

		case <-h.shutdown:
			h.mu.Lock()
			for client := range h.clients {
				client.conn.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Shutdown closes every client connection and stops the hub.
func (h *StatusHub) Shutdown() {
	close(h.shutdown)
}

// RecordJobRun broadcasts one job execution result.
func (h *StatusHub) RecordJobRun(res scheduler.JobExecutionResult) {
	h.publish("job_result", res)
}

// PublishState broadcasts a scheduler state change.
func (h *StatusHub) PublishState(state scheduler.LoopState) {
	h.publish("scheduler_state", map[string]string{"state": state.String()})
}

func (h *StatusHub) publish(kind string, data interface{}) {
	msg := StatusMessage{Type: kind, Data: data, Time: time.Now().Format(time.RFC3339)}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn().Str("type", kind).Msg("status broadcast buffer full, dropping event")
	}
}

// HandleWS upgrades an HTTP request into a status subscription.
func (h *StatusHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &statusClient{conn: conn, send: make(chan []byte, 64)}
	h.register <- client

	go h.writePump(client)
	go h.readPump(client)
}

func (h *StatusHub) writePump(c *statusClient) {
	ticker := time.NewTicker(statusPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(statusWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(statusWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *StatusHub) readPump(c *statusClient) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(statusPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(statusPongTimeout))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
