package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"replay-engine/internal/oracle"
	"replay-engine/internal/scrubber"
	"replay-engine/internal/session"
	"replay-engine/internal/wire"

	"github.com/gorilla/websocket"
)

const (
	// MaxWSConnectionsTotal is the default limit on WebSocket connections
	MaxWSConnectionsTotal = 500

	// MaxWSConnectionsPerIP is the default per-IP WebSocket limit
	MaxWSConnectionsPerIP = 10

	writeWait = 5 * time.Second
)

// HubConfig configures a WebSocketHub.
type HubConfig struct {
	MaxConnections int
	MaxPerIP       int
	Origins        []string // patterns, see OriginPolicy
}

// wsClient tracks a WebSocket connection, its source IP and the session it watches
type wsClient struct {
	conn    *websocket.Conn
	ip      string
	session string
	hello   func() interface{} // greeting payload, built once the client is watching
}

type wsMessage struct {
	session string
	data    []byte
}

// wsEnvelope is the wire format of every message sent to viewers.
type wsEnvelope struct {
	Event   string      `json:"event"`
	Session string      `json:"session"`
	Data    interface{} `json:"data"`
}

// WebSocketHub fans session events out to the viewers of each session. It
// implements session.Observer.
type WebSocketHub struct {
	clients    map[*websocket.Conn]*wsClient
	watchers   map[string]int // session id -> viewer count
	broadcast  chan wsMessage
	register   chan *wsClient
	unregister chan *websocket.Conn
	disconnect chan string
	stopChan   chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex

	maxTotal  int
	wsLimiter *WebSocketRateLimiter
	upgrader  websocket.Upgrader
}

var _ session.Observer = (*WebSocketHub)(nil)

// NewWebSocketHub creates a new hub with connection limiting
func NewWebSocketHub(cfg HubConfig) *WebSocketHub {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = MaxWSConnectionsTotal
	}
	if cfg.MaxPerIP <= 0 {
		cfg.MaxPerIP = MaxWSConnectionsPerIP
	}
	origins := NewOriginPolicy(cfg.Origins)

	h := &WebSocketHub{
		clients:    make(map[*websocket.Conn]*wsClient),
		watchers:   make(map[string]int),
		broadcast:  make(chan wsMessage, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *websocket.Conn),
		disconnect: make(chan string, 16),
		stopChan:   make(chan struct{}),
		maxTotal:   cfg.MaxConnections,
		wsLimiter:  NewWebSocketRateLimiter(cfg.MaxPerIP),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origins.IsAllowed(origin) {
				return true
			}
			log.Printf("⚠️ WebSocket connection rejected from origin: %s", origin)
			RecordConnectionRejected("origin")
			return false
		},
	}
	return h
}

// Run processes registrations and broadcasts until Stop is called.
func (h *WebSocketHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			h.watchers[client.session]++
			count := len(h.clients)
			h.mu.Unlock()

			log.Printf("📱 Viewer connected to %s from %s (%d total)", client.session, client.ip, count)
			UpdateWSConnections(count)

			// Events raised from here on are queued behind the greeting.
			if err := h.greet(client); err != nil {
				h.remove(client.conn)
			}

		case conn := <-h.unregister:
			h.remove(conn)
			log.Printf("📱 Viewer disconnected (%d remaining)", h.ClientCount())

		case id := <-h.disconnect:
			h.mu.RLock()
			var conns []*websocket.Conn
			for conn, c := range h.clients {
				if c.session == id {
					conns = append(conns, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range conns {
				h.remove(conn)
			}

		case msg := <-h.broadcast:
			h.mu.RLock()
			var failed []*websocket.Conn
			for conn, c := range h.clients {
				if c.session != msg.session {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range failed {
				h.remove(conn)
			}
			IncrementWSMessages()

		case <-h.stopChan:
			h.mu.RLock()
			conns := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				conns = append(conns, conn)
			}
			h.mu.RUnlock()
			for _, conn := range conns {
				h.remove(conn)
			}
			return
		}
	}
}

// remove drops a connection and releases its slot. Safe to call twice.
func (h *WebSocketHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	client, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
		if h.watchers[client.session]--; h.watchers[client.session] <= 0 {
			delete(h.watchers, client.session)
		}
	}
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		h.wsLimiter.Release(client.ip)
		conn.Close()
		UpdateWSConnections(count)
	}
}

func (h *WebSocketHub) greet(c *wsClient) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(wsEnvelope{Event: "session:hello", Session: c.session, Data: c.hello()})
}

// Stop closes every connection and ends Run.
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

// Disconnect closes the viewers of a deleted session.
func (h *WebSocketHub) Disconnect(sessionID string) {
	select {
	case h.disconnect <- sessionID:
	default:
	}
}

// Broadcast sends an event to the viewers of one session
func (h *WebSocketHub) Broadcast(sessionID, event string, data interface{}) {
	if !h.watching(sessionID) {
		return
	}
	jsonBytes, err := json.Marshal(wsEnvelope{Event: event, Session: sessionID, Data: data})
	if err != nil {
		log.Printf("⚠️ WebSocket encode %s failed: %v", event, err)
		return
	}

	select {
	case h.broadcast <- wsMessage{session: sessionID, data: jsonBytes}:
	default:
		// Channel full, skip (backpressure)
	}
}

func (h *WebSocketHub) watching(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.watchers[sessionID] > 0
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnPlayback forwards scrubber events. Snapshot changes carry the render view.
func (h *WebSocketHub) OnPlayback(sessionID string, e scrubber.Event) {
	if !h.watching(sessionID) {
		return
	}
	if e.Kind == scrubber.EventState {
		h.Broadcast(sessionID, "playback:state", wire.NewSnapshot(e.State))
		return
	}
	h.Broadcast(sessionID, "playback:"+string(e.Kind), e)
}

// OnOracle forwards side channel notifications.
func (h *WebSocketHub) OnOracle(sessionID string, n oracle.Notification) {
	h.Broadcast(sessionID, "oracle:"+string(n.Kind), n)
}

// HandleWebSocket upgrades a viewer of s. The viewer first receives the
// playback status and current snapshot, taken once it is registered, then
// every event of the session.
// Messages from the viewer are playback commands.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request, s *session.Session) {
	ip := GetClientIP(r)

	if total := h.ClientCount(); total >= h.maxTotal {
		log.Printf("⚠️ WebSocket connection rejected: total limit reached (%d)", total)
		RecordConnectionRejected("ws_total_limit")
		writeError(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	if !h.wsLimiter.Allow(ip) {
		log.Printf("⚠️ WebSocket connection rejected from %s: per-IP limit reached", ip)
		RecordConnectionRejected("ws_ip_limit")
		writeError(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		h.wsLimiter.Release(ip)
		return
	}

	client := &wsClient{conn: conn, ip: ip, session: s.ID(), hello: func() interface{} {
		return map[string]interface{}{
			"status": s.Scrubber().Status(),
			"state":  wire.NewSnapshot(s.Scrubber().State()),
		}
	}}
	select {
	case h.register <- client:
	case <-h.stopChan:
		conn.Close()
		h.wsLimiter.Release(ip)
		return
	}

	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.stopChan:
			}
		}()

		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var cmd playbackCommand
			if err := json.Unmarshal(message, &cmd); err != nil {
				continue
			}
			if err := runPlaybackCommand(s, cmd); err != nil {
				log.Printf("📨 WebSocket command from %s rejected: %v", ip, err)
			}
		}
	}()
}
