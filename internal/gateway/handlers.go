package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"oracle-pricemodel/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// HistorySource serves recent quotes for a symbol, oldest first.
type HistorySource interface {
	History(ctx context.Context, symbol string, count int64) ([]model.Quote, error)
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes mounts the WebSocket and REST endpoints on mux.
// history may be nil, in which case /api/history is not served.
func RegisterRoutes(mux *http.ServeMux, hub *Hub, history HistorySource) {
	// WebSocket: ?symbols=A,B&last_ts=RFC3339Nano
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		conn.EnableWriteCompression(true)

		var since time.Time
		if v := r.URL.Query().Get("last_ts"); v != "" {
			since, _ = time.Parse(time.RFC3339Nano, v)
		}
		c := hub.register(conn, splitSymbols(r.URL.Query().Get("symbols")), since)
		go c.writePump()
		go c.readPump()
	})

	// REST: latest envelope per symbol
	mux.HandleFunc("/api/latest", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		latest := hub.Latest()
		if sym := r.URL.Query().Get("symbol"); sym != "" {
			env, ok := latest[sym]
			if !ok {
				writeError(w, http.StatusNotFound, "no quote for "+sym)
				return
			}
			writeJSON(w, env)
			return
		}
		writeJSON(w, latest)
	})

	// REST: gap backfill, /api/missed?symbol=X&from=N&to=M
	mux.HandleFunc("/api/missed", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		q := r.URL.Query()
		sym := q.Get("symbol")
		from, errFrom := strconv.ParseInt(q.Get("from"), 10, 64)
		to, errTo := strconv.ParseInt(q.Get("to"), 10, 64)
		if sym == "" || errFrom != nil || errTo != nil || from > to {
			writeError(w, http.StatusBadRequest, "symbol, from and to are required")
			return
		}
		envs := hub.Missed(sym, from, to)
		out := make([]json.RawMessage, len(envs))
		for i, e := range envs {
			out[i] = e
		}
		writeJSON(w, map[string]interface{}{
			"symbol":  sym,
			"current": hub.Seq(sym),
			"items":   out,
		})
	})

	if history == nil {
		return
	}

	// REST: stream history, /api/history?symbol=X&count=N
	mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		sym := r.URL.Query().Get("symbol")
		if sym == "" {
			writeError(w, http.StatusBadRequest, "symbol is required")
			return
		}
		count := int64(100)
		if v := r.URL.Query().Get("count"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n <= 0 || n > 10000 {
				writeError(w, http.StatusBadRequest, "count must be in 1..10000")
				return
			}
			count = n
		}
		quotes, err := history.History(r.Context(), sym, count)
		if err != nil {
			log.Printf("[gateway] history %s: %v", sym, err)
			writeError(w, http.StatusBadGateway, "history unavailable")
			return
		}
		writeJSON(w, quotes)
	})
}

func splitSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
