package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"micepiper/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The server binds to localhost by default; the feed carries no
	// secrets beyond button numbers
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSManager handles WebSocket connections and broadcasting of the live
// button/chord event feed
type WSManager struct {
	clients    map[*wsClient]bool
	clientsMu  sync.RWMutex
	broadcast  chan protocol.Message
	register   chan *wsClient
	unregister chan *wsClient
	shutdown   chan struct{}
}

// wsClient represents one connected feed consumer
type wsClient struct {
	manager *WSManager
	conn    *websocket.Conn
	send    chan []byte
	ip      string
}

func newWSManager() *WSManager {
	return &WSManager{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan protocol.Message, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		shutdown:   make(chan struct{}),
	}
}

func (m *WSManager) start() {
	for {
		select {
		case client := <-m.register:
			m.clientsMu.Lock()
			m.clients[client] = true
			m.clientsMu.Unlock()
			log.Printf("WS: Client connected from %s. Total clients: %d", client.ip, len(m.clients))

		case client := <-m.unregister:
			m.clientsMu.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				close(client.send)
				log.Printf("WS: Client disconnected from %s. Total clients: %d", client.ip, len(m.clients))
			}
			m.clientsMu.Unlock()

		case message := <-m.broadcast:
			m.broadcastMessage(message)

		case <-m.shutdown:
			return
		}
	}
}

func (m *WSManager) stop() {
	close(m.shutdown)
}

func (m *WSManager) broadcastMessage(message protocol.Message) {
	jsonMsg, err := json.Marshal(message)
	if err != nil {
		log.Printf("WS: Failed to marshal broadcast message: %v", err)
		return
	}

	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()

	for client := range m.clients {
		select {
		case client.send <- jsonMsg:
		default:
			// Slow consumer: drop it rather than stall the feed
			close(client.send)
			delete(m.clients, client)
		}
	}
}

func (m *WSManager) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS: Failed to upgrade connection: %v", err)
		return
	}

	client := &wsClient{
		manager: m,
		conn:    conn,
		send:    make(chan []byte, 256),
		ip:      r.RemoteAddr,
	}

	// The hub may already be gone when an upgrade races shutdown
	select {
	case m.register <- client:
	case <-m.shutdown:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump drains the connection. The feed is one-way; anything the
// client sends besides pings is ignored.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.manager.unregister <- c:
		case <-c.manager.shutdown:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WS: Read error: %v", err)
			}
			break
		}
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *wsClient) writePump() {
	ticker := time.NewTicker(50 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// BroadcastButton queues a raw button transition for all clients. Never
// blocks the pipeline: if the hub is congested the event is dropped.
func (m *WSManager) BroadcastButton(device, button string, code uint16, pressed bool, ts int64) {
	m.offer(protocol.Message{
		Type: protocol.TypeButton,
		Payload: protocol.ButtonPayload{
			Device:    device,
			Button:    button,
			Code:      code,
			Pressed:   pressed,
			Timestamp: ts,
		},
	})
}

// BroadcastChord queues a normalized chord event for all clients
func (m *WSManager) BroadcastChord(device string, buttons []string, codes []uint16, repeat, mapped bool, ts int64) {
	m.offer(protocol.Message{
		Type: protocol.TypeChord,
		Payload: protocol.ChordPayload{
			Device:    device,
			Buttons:   buttons,
			Codes:     codes,
			Repeat:    repeat,
			Mapped:    mapped,
			Timestamp: ts,
		},
	})
}

// BroadcastReload notifies clients that the table was replaced
func (m *WSManager) BroadcastReload(mappings int) {
	m.offer(protocol.Message{
		Type:    protocol.TypeReload,
		Payload: protocol.ReloadPayload{Mappings: mappings},
	})
}

func (m *WSManager) offer(msg protocol.Message) {
	select {
	case m.broadcast <- msg:
	default:
	}
}
