package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/librarydrive/donation-desk/models"
	"github.com/librarydrive/donation-desk/services"
	"github.com/rs/zerolog"
)

const (
	writeWait       = 5 * time.Second
	pingInterval    = 30 * time.Second
	initialFeedSize = 50
)

// FeedFunc loads the donor entries sent to a newly connected client.
type FeedFunc func(ctx context.Context, limit int) ([]services.PublicDonation, error)

// Hub pushes recorded donations to connected donor-wall clients.
type Hub struct {
	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]string
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.Mutex
	feed       FeedFunc
	log        zerolog.Logger
}

func NewHub(feed FeedFunc, log zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:    make(map[*websocket.Conn]string),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		feed:       feed,
		log:        log,
	}
}

// Run serves register/unregister/broadcast until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			id := uuid.NewString()
			h.clients[client] = id
			count := len(h.clients)
			h.mutex.Unlock()
			h.log.Debug().Str("conn", id).Int("clients", count).Msg("websocket client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if id, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				h.log.Debug().Str("conn", id).Int("clients", len(h.clients)).Msg("websocket client disconnected")
			}
			h.mutex.Unlock()

		case message := <-h.broadcast:
			h.mutex.Lock()
			sent, failed := 0, 0
			for client, id := range h.clients {
				client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					h.log.Debug().Err(err).Str("conn", id).Msg("websocket write failed")
					client.Close()
					delete(h.clients, client)
					failed++
					continue
				}
				sent++
			}
			h.mutex.Unlock()
			if sent+failed > 0 {
				h.log.Debug().Int("sent", sent).Int("failed", failed).Msg("donation broadcast")
			}

		case <-ticker.C:
			h.cleanupInvalidConnections()
		}
	}
}

// cleanupInvalidConnections pings every client and drops the dead ones.
func (h *Hub) cleanupInvalidConnections() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.clients {
		if err := client.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			client.Close()
			delete(h.clients, client)
		}
	}
}

// ClientCount is the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// BroadcastDonation queues a new_donation event. Contact details are never
// sent. A full queue drops the event.
func (h *Hub) BroadcastDonation(d models.Donation) {
	data, err := json.Marshal(map[string]interface{}{
		"type":      "new_donation",
		"donation":  services.PublicView(d),
		"timestamp": time.Now().Unix(),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("marshal donation event")
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn().Str("id", d.ID).Msg("broadcast queue full, dropping donation event")
	}
}

// HandleWS upgrades the connection, sends the initial feed and keeps reading
// until the client goes away.
func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	if err := h.sendInitialData(c.Request.Context(), conn); err != nil {
		h.log.Warn().Err(err).Msg("send initial donor feed")
		conn.Close()
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}
	defer func() {
		select {
		case h.unregister <- conn:
		case <-h.done:
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Msg("websocket read")
			}
			return
		}
	}
}

// sendInitialData runs before the client is registered, so it is the only
// writer on conn.
func (h *Hub) sendInitialData(ctx context.Context, conn *websocket.Conn) error {
	feed, err := h.feed(ctx, initialFeedSize)
	if err != nil {
		return err
	}
	message, err := json.Marshal(map[string]interface{}{
		"type":      "initial_data",
		"donations": feed,
		"timestamp": time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, message)
}
