package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// AuctionUpdate is the live price event pushed to auction watchers
type AuctionUpdate struct {
	AuctionID  uuid.UUID       `json:"auction_id"`
	CurrentBid decimal.Decimal `json:"current_bid"`
	BidCount   int             `json:"bid_count"`
	ReserveMet bool            `json:"reserve_met"`
	Status     string          `json:"status"`
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Hub fans auction price updates out to connected websocket clients
type Hub struct {
	clients map[*wsClient]bool
	mu      sync.RWMutex
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]bool)}
}

// BroadcastAuction sends one auction update to every connected client
func (h *Hub) BroadcastAuction(update AuctionUpdate) {
	data, err := json.Marshal(update)
	if err != nil {
		log.WithField("error", err).Error("failed to marshal auction update")
		return
	}

	h.mu.RLock()
	var dead []*wsClient
	for client := range h.clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			dead = append(dead, client)
		}
	}
	h.mu.RUnlock()

	if len(dead) > 0 {
		h.mu.Lock()
		for _, client := range dead {
			delete(h.clients, client)
		}
		h.mu.Unlock()
	}
}

// HandleWS upgrades the connection and keeps it registered until the
// client goes away.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("error", err).Error("failed to upgrade connection")
		return
	}

	client := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	// Drain reads to detect disconnection.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.mu.Lock()
			delete(h.clients, client)
			h.mu.Unlock()
			conn.Close()
			break
		}
	}
}
