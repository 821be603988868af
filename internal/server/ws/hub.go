// Package ws bridges the marketplace signal bus to WebSocket clients so
// storefronts can render listing and sale activity live.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nftbazaar/marketd/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must stay under pongWait
	maxMessageSize = 4096
	sendBufferSize = 256
)

// defaultChannels are the bus channels every new session starts subscribed
// to. Clients can narrow or widen their set with subscribe frames.
var defaultChannels = []string{
	"ch:market:listings",
	"ch:market:sales",
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced by the CORS middleware in front of the
	// upgrade, so the handshake itself accepts everyone.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// session is one connected WebSocket client and its channel subscriptions.
type session struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	subs map[string]bool
}

// subscribeMsg is the control frame clients send to change subscriptions.
type subscribeMsg struct {
	Action   string   `json:"action"` // subscribe or unsubscribe
	Channels []string `json:"channels"`
}

// Hub fans bus events out to connected sessions. Sessions register and
// unregister through channels so all map access happens in one goroutine's
// critical sections.
type Hub struct {
	mu         sync.RWMutex
	sessions   map[*session]struct{}
	broadcast  chan busMessage
	register   chan *session
	unregister chan *session
	bus        domain.SignalBus
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// busMessage pairs a payload with its source channel so the hub only
// delivers it to sessions subscribed there.
type busMessage struct {
	channel string
	data    []byte
}

// Config carries runtime metadata included in the greeting sent to each
// session on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// NewHub creates a hub bridging the signal bus to WebSocket sessions.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		sessions:   make(map[*session]struct{}),
		broadcast:  make(chan busMessage, 256),
		register:   make(chan *session),
		unregister: make(chan *session),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws")),
		mode:       mode,
		startedAt:  startedAt,
	}
}

// Run drives the hub until the context is cancelled: it subscribes to the
// bus channels, tracks sessions, and fans messages out.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range defaultChannels {
		go h.pump(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for s := range h.sessions {
				close(s.send)
				delete(h.sessions, s)
			}
			h.mu.Unlock()
			return ctx.Err()

		case s := <-h.register:
			h.mu.Lock()
			h.sessions[s] = struct{}{}
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("sessions", h.sessionCount()))

		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.sessions[s]; ok {
				delete(h.sessions, s)
				close(s.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("sessions", h.sessionCount()))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for s := range h.sessions {
				if !s.subscribed(msg.channel) {
					continue
				}
				select {
				case s.send <- msg.data:
				default:
					// Slow consumer; drop rather than block the hub.
					h.logger.Warn("dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// pump forwards one bus channel into the hub's broadcast queue.
func (h *Hub) pump(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("bus subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("subscribed", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("bus subscription closed", slog.String("channel", channel))
				return
			}
			h.broadcast <- busMessage{channel: channel, data: data}
		}
	}
}

// HandleWS upgrades the request and starts the session's read and write
// pumps.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	s := &session{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool, len(defaultChannels)),
	}
	for _, ch := range defaultChannels {
		s.subs[ch] = true
	}

	h.register <- s
	s.greet()

	go s.writePump()
	go s.readPump()
}

func (h *Hub) sessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// readPump consumes frames from the client. The only meaningful inbound
// traffic is subscription control frames; everything else just refreshes the
// read deadline via pongs.
func (s *session) readPump() {
	defer func() {
		s.hub.unregister <- s
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}

		var msg subscribeMsg
		if err := json.Unmarshal(frame, &msg); err == nil && msg.Action != "" {
			s.apply(msg)
		}
	}
}

func (s *session) apply(msg subscribeMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			s.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(s.subs, ch)
		}
	}
}

// greet sends a status envelope right after connect so clients can show a
// healthy connection before any market event arrives.
func (s *session) greet() {
	uptime := int64(time.Since(s.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}

	msg, err := json.Marshal(map[string]any{
		"type": "server_status",
		"payload": map[string]any{
			"mode":           s.hub.mode,
			"ws_connected":   true,
			"uptime_seconds": uptime,
			"channels":       defaultChannels,
		},
	})
	if err != nil {
		return
	}

	select {
	case s.send <- msg:
	default:
	}
}

// subscribed reports whether the session wants messages from the channel.
// A trailing * in a subscription matches by prefix, so "ch:market:*" covers
// both listings and sales.
func (s *session) subscribed(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.subs[channel] {
		return true
	}
	for sub := range s.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

// writePump writes outbound frames and keeps the connection alive with
// periodic pings.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
