package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/CalmProton/SquadScript-sub001/internal/event_manager"
)

// Push bridge timings.
const (
	pushPingInterval = 30 * time.Second
	pushWriteWait    = 10 * time.Second
	pushSendBuffer   = 64
)

// Feed kinds clients may subscribe to. Every kind is produced by at
// least one event type in kindOf.
var pushKinds = map[string]bool{
	"players":       true,
	"squads":        true,
	"chat":          true,
	"kills":         true,
	"game":          true,
	"admin":         true,
	"rcon":          true,
	"metrics":       true,
	"plugins":       true,
	"logs":          true,
	"notifications": true,
}

// kindOf buckets an event type into its push feed kind.
func kindOf(t event_manager.EventType) string {
	switch t {
	case event_manager.EventTypePlayerAdded,
		event_manager.EventTypePlayerRemoved,
		event_manager.EventTypePlayerTeamChange,
		event_manager.EventTypePlayerSquadChange,
		event_manager.EventTypePlayerRoleChange,
		event_manager.EventTypePlayerLeaderChange,
		event_manager.EventTypeLogPlayerConnected,
		event_manager.EventTypeLogPlayerDisconnected,
		event_manager.EventTypeLogJoinSucceeded,
		event_manager.EventTypeLogPlayerPossess,
		event_manager.EventTypeLogPlayerUnpossess:
		return "players"
	case event_manager.EventTypeSquadAdded,
		event_manager.EventTypeSquadUpdated,
		event_manager.EventTypeSquadDisbanded,
		event_manager.EventTypeRconSquadCreated:
		return "squads"
	case event_manager.EventTypeRconChatMessage:
		return "chat"
	case event_manager.EventTypeLogPlayerDamaged,
		event_manager.EventTypeLogPlayerWounded,
		event_manager.EventTypeLogPlayerDied,
		event_manager.EventTypeLogPlayerRevived,
		event_manager.EventTypeLogTeamkill,
		event_manager.EventTypeLogDeployableDamaged:
		return "kills"
	case event_manager.EventTypeLogNewGame,
		event_manager.EventTypeLogRoundWinner,
		event_manager.EventTypeLogRoundTickets,
		event_manager.EventTypeLogRoundEnded,
		event_manager.EventTypeLayerChanged:
		return "game"
	case event_manager.EventTypeLogAdminBroadcast,
		event_manager.EventTypeRconAdminCameraPossessed,
		event_manager.EventTypeRconAdminCameraUnpossessed,
		event_manager.EventTypeRconPlayerWarned,
		event_manager.EventTypeRconPlayerKicked,
		event_manager.EventTypeRconPlayerBanned:
		return "admin"
	case event_manager.EventTypeRconConnected,
		event_manager.EventTypeRconDisconnected,
		event_manager.EventTypeRconError:
		return "rcon"
	case event_manager.EventTypeLogTickRate,
		event_manager.EventTypeRconServerInfo:
		return "metrics"
	case event_manager.EventTypeServerStarting,
		event_manager.EventTypeServerReady,
		event_manager.EventTypeServerStopping,
		event_manager.EventTypeServerStopped,
		event_manager.EventTypeServerError:
		return "notifications"
	case event_manager.EventTypePluginStatus:
		return "plugins"
	case event_manager.EventTypeRawLog:
		return "logs"
	default:
		return ""
	}
}

// PushMessage is the wire form of one forwarded event.
type PushMessage struct {
	Kind      string                  `json:"kind"`
	Type      event_manager.EventType `json:"type"`
	Timestamp time.Time               `json:"timestamp"`
	Data      event_manager.EventData `json:"data"`
}

type pushClient struct {
	conn  *websocket.Conn
	kinds map[string]bool
	send  chan PushMessage
}

func (c *pushClient) wants(kind string) bool {
	if len(c.kinds) == 0 {
		return true
	}
	return c.kinds[kind]
}

// Hub forwards bus events to websocket clients. A slow client loses
// individual messages; a dead one is dropped on the next write or ping.
type Hub struct {
	events *event_manager.EventManager

	mu      sync.Mutex
	clients map[*pushClient]bool

	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

func NewHub(events *event_manager.EventManager) *Hub {
	return &Hub{
		events:  events,
		clients: make(map[*pushClient]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log.With().Str("component", "PushBridge").Logger(),
	}
}

// Attach registers the websocket endpoint on the router.
func (h *Hub) Attach(router gin.IRouter) {
	router.GET("/ws", h.handleWS)
}

// Run drains the bus into connected clients until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	sub := h.events.Subscribe(event_manager.EventFilter{}, 256)
	defer h.events.Unsubscribe(sub.ID)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case e, ok := <-sub.Channel:
			if !ok {
				h.closeAll()
				return
			}
			kind := kindOf(e.Type)
			if kind == "" {
				continue
			}
			h.broadcast(PushMessage{
				Kind:      kind,
				Type:      e.Type,
				Timestamp: e.Timestamp,
				Data:      e.Data,
			})
		}
	}
}

// RawLine forwards one log line to clients on the logs feed. Raw lines
// bypass the bus so they never reach synchronous handlers.
func (h *Hub) RawLine(line string) {
	h.mu.Lock()
	idle := len(h.clients) == 0
	h.mu.Unlock()
	if idle {
		return
	}
	now := time.Now()
	h.broadcast(PushMessage{
		Kind:      "logs",
		Type:      event_manager.EventTypeRawLog,
		Timestamp: now,
		Data:      &event_manager.RawLogData{Time: now, Line: line},
	})
}

func (h *Hub) broadcast(msg PushMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(msg.Kind) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// Slow consumer: this message is lost, the client stays.
		}
	}
}

func (h *Hub) handleWS(c *gin.Context) {
	kinds := make(map[string]bool)
	for _, k := range c.QueryArray("kinds") {
		if !pushKinds[k] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown feed kind: " + k})
			return
		}
		kinds[k] = true
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := &pushClient{
		conn:  conn,
		kinds: kinds,
		send:  make(chan PushMessage, pushSendBuffer),
	}
	h.mu.Lock()
	h.clients[client] = true
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug().Int("clients", n).Msg("Push client connected")

	go h.writePump(client)
	go h.readPump(client)
}

// writePump serializes all writes for one client and keeps it alive
// with pings.
func (h *Hub) writePump(c *pushClient) {
	ticker := time.NewTicker(pushPingInterval)
	defer func() {
		ticker.Stop()
		h.drop(c)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(pushWriteWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(pushWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and notices disconnects.
func (h *Hub) readPump(c *pushClient) {
	defer h.drop(c)
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) drop(c *pushClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	c.conn.Close()
	h.logger.Debug().Int("clients", n).Msg("Push client dropped")
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*pushClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.drop(c)
	}
}

// ClientCount reports connected push clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
