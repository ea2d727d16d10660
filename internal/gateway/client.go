package gateway

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// all is set only when the client connected without a symbol list;
	// such a client follows every symbol not in excluded. Otherwise only
	// symbols are followed, and unsubscribing the last one follows nothing.
	mu       sync.RWMutex
	all      bool
	symbols  map[string]bool
	excluded map[string]bool
}

// controlMsg is what clients send: SUBSCRIBE / UNSUBSCRIBE or a latency ping.
type controlMsg struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
	Ping    int64    `json:"ping"`
}

func newClient(conn *websocket.Conn, hub *Hub, symbols []string) *Client {
	c := &Client{
		conn:     conn,
		send:     make(chan []byte, 256),
		hub:      hub,
		all:      len(symbols) == 0,
		symbols:  make(map[string]bool, len(symbols)),
		excluded: make(map[string]bool),
	}
	for _, s := range symbols {
		c.symbols[s] = true
	}
	return c
}

func (c *Client) subscribed(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.all {
		return !c.excluded[symbol]
	}
	return c.symbols[symbol]
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Coalesce queued envelopes into one newline-separated frame
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		c.handleControl(msg)
	}
}

// handleControl applies a SUBSCRIBE / UNSUBSCRIBE or answers a ping.
func (c *Client) handleControl(msg controlMsg) {
	switch msg.Type {
	case "SUBSCRIBE":
		c.mu.Lock()
		for _, s := range msg.Symbols {
			c.symbols[s] = true
			delete(c.excluded, s)
		}
		c.mu.Unlock()
		log.Printf("[gateway] client subscribed: %v", msg.Symbols)
	case "UNSUBSCRIBE":
		c.mu.Lock()
		for _, s := range msg.Symbols {
			delete(c.symbols, s)
			if c.all {
				c.excluded[s] = true
			}
		}
		c.mu.Unlock()
		log.Printf("[gateway] client unsubscribed: %v", msg.Symbols)
	default:
		if msg.Ping > 0 {
			pong, _ := json.Marshal(map[string]interface{}{
				"type":      "pong",
				"ping":      msg.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
			c.trySend(pong)
		}
	}
}

// trySend queues b unless the client is gone or its buffer is full.
func (c *Client) trySend(b []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}
