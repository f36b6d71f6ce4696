package daybook

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/daybook-app/daybook/pkg/models"
)

const writeWait = 5 * time.Second

// SaveStateEvent tells subscribed clients where a page's operation queue
// is in its idle/pending/flushing cycle, feeding the saving indicator.
type SaveStateEvent struct {
	PageID models.PageID `json:"page_id"`
	State  string        `json:"state"`
	Detail string        `json:"detail,omitempty"`
}

// Hub fans save-state events out to websocket subscribers, keyed by page.
type Hub struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[models.PageID]map[*wsClient]bool
}

// wsClient wraps a connection with a write lock. Queue hooks broadcast
// from several goroutines at once and gorilla/websocket forbids
// concurrent writers on one connection.
type wsClient struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

func (c *wsClient) send(event SaveStateEvent) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(event)
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			// The server is single-user and unauthenticated; no origin policy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[models.PageID]map[*wsClient]bool),
	}
}

// ServePage upgrades the request and subscribes the client to one page's
// save-state events. The read loop only watches for the client going away.
func (h *Hub) ServePage(w http.ResponseWriter, r *http.Request) {
	pageID, err := models.ParsePageID(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid page ID", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn}
	h.mu.Lock()
	if h.conns[pageID] == nil {
		h.conns[pageID] = make(map[*wsClient]bool)
	}
	h.conns[pageID][client] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns[pageID], client)
		if len(h.conns[pageID]) == 0 {
			delete(h.conns, pageID)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// BroadcastSaveState sends one event to every subscriber of the page.
// Dead connections are dropped on write failure; the read loop handles the
// actual teardown.
func (h *Hub) BroadcastSaveState(pageID models.PageID, state, detail string) {
	event := SaveStateEvent{PageID: pageID, State: state, Detail: detail}

	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.conns[pageID]))
	for client := range h.conns[pageID] {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		if err := client.send(event); err != nil {
			h.log.Debug().Err(err).Msg("websocket write failed")
			client.conn.Close()
		}
	}
}
