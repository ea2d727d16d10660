// Package gateway serves published quotes to WebSocket and REST clients.
// Quotes arrive from Redis pub/sub, get a per-symbol sequence number for gap
// detection and are fanned out to every client subscribed to the symbol.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"oracle-pricemodel/internal/model"
)

type latestEntry struct {
	Data []byte // envelope JSON
	TS   time.Time
	Seq  int64
}

// Hub tracks WebSocket clients and the latest quote per symbol.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	latest     map[string]latestEntry
	seqs       map[string]int64
	replayBufs map[string]*ReplayBuffer
	replayCap  int

	// Callbacks (optional)
	OnBroadcast func(symbol string, delivered, dropped int)
}

// NewHub creates a hub keeping replayCap envelopes per symbol for backfill.
func NewHub(replayCap int) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		latest:     make(map[string]latestEntry),
		seqs:       make(map[string]int64),
		replayBufs: make(map[string]*ReplayBuffer),
		replayCap:  replayCap,
	}
}

// Run broadcasts quotes until ctx is cancelled or quotes is closed.
func (h *Hub) Run(ctx context.Context, quotes <-chan model.Quote) {
	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-quotes:
			if !ok {
				return
			}
			h.Broadcast(q)
		}
	}
}

// Broadcast sequences q and sends it to every client subscribed to its symbol.
// Slow clients miss the envelope and can backfill it from /api/missed.
func (h *Hub) Broadcast(q model.Quote) {
	h.mu.Lock()
	h.seqs[q.Symbol]++
	seq := h.seqs[q.Symbol]
	env := buildEnvelope(q, seq)
	h.latest[q.Symbol] = latestEntry{Data: env, TS: q.TS, Seq: seq}
	rb, ok := h.replayBufs[q.Symbol]
	if !ok {
		rb = NewReplayBuffer(h.replayCap)
		h.replayBufs[q.Symbol] = rb
	}
	h.mu.Unlock()
	rb.Push(seq, env)

	var delivered, dropped int
	h.mu.RLock()
	for client := range h.clients {
		if !client.subscribed(q.Symbol) {
			continue
		}
		select {
		case client.send <- env:
			delivered++
		default:
			dropped++
		}
	}
	h.mu.RUnlock()

	if h.OnBroadcast != nil {
		h.OnBroadcast(q.Symbol, delivered, dropped)
	}
}

// buildEnvelope hand-crafts {"type":"quote","seq":N,"data":{...}}.
func buildEnvelope(q model.Quote, seq int64) []byte {
	data := q.JSON()
	buf := make([]byte, 0, len(data)+48)
	buf = append(buf, `{"type":"quote","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, '}')
	return buf
}

// register adds a client and queues the latest envelope of each symbol it
// follows that is newer than since.
func (h *Hub) register(conn *websocket.Conn, symbols []string, since time.Time) *Client {
	c := newClient(conn, h, symbols)

	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	for sym, e := range h.latest {
		if !c.subscribed(sym) || (!since.IsZero() && !e.TS.After(since)) {
			continue
		}
		select {
		case c.send <- e.Data:
		default:
		}
	}
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)
	return c
}

// RemoveClient unregisters c and closes its send channel.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Latest returns the latest envelope per symbol.
func (h *Hub) Latest() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(h.latest))
	for sym, e := range h.latest {
		out[sym] = e.Data
	}
	return out
}

// Missed returns buffered envelopes of symbol with seq in [fromSeq, toSeq].
func (h *Hub) Missed(symbol string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, ok := h.replayBufs[symbol]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return rb.Range(fromSeq, toSeq)
}

// Seq returns the last sequence number assigned to symbol.
func (h *Hub) Seq(symbol string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seqs[symbol]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
